package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"proctor-backend/internal/models"
)

// The coordination store is authoritative for "is this session currently
// live and where"; the durable store stays authoritative for history.
const (
	sessionTTL = 2 * time.Hour

	// HeartbeatTTL is three missed 30s beats plus buffer. Expiry of the
	// heartbeat key is the dead-session signal; nothing ever deletes a
	// live one explicitly.
	HeartbeatTTL = 120 * time.Second

	pendingQuestionTTL = 10 * time.Minute
	nudgeCooldownTTL   = 3 * time.Minute

	queueKey = "session_queue"

	// Task queues consumed by the worker pool.
	QueueGrading   = "queue:grading"
	QueueProvision = "queue:provision"
)

func sessionKey(id uuid.UUID) string   { return "session:" + id.String() }
func heartbeatKey(id uuid.UUID) string { return "heartbeat:" + id.String() }
func sandboxKey(sandboxID string) string {
	return "sandbox:" + sandboxID
}

// SessionState is the fast-path mirror of a session, kept as a redis hash.
type SessionState struct {
	UserID       string
	AssessmentID string
	Status       string
	Phase        string
	StartTime    string
	SandboxID    string
	Endpoint     string
}

type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// GetSession returns nil (no error) when no mirror exists for the id.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*SessionState, error) {
	data, err := s.rdb.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session state: %w", err)
	}
	if len(data) == 0 || data["user_id"] == "" {
		return nil, nil
	}
	return &SessionState{
		UserID:       data["user_id"],
		AssessmentID: data["assessment_id"],
		Status:       data["status"],
		Phase:        data["phase"],
		StartTime:    data["start_time"],
		SandboxID:    data["sandbox_id"],
		Endpoint:     data["endpoint"],
	}, nil
}

// UpdateSession merges fields into the session mirror and refreshes its TTL.
func (s *Store) UpdateSession(ctx context.Context, id uuid.UUID, fields map[string]string) error {
	key := sessionKey(id)
	values := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}
	if err := s.rdb.HSet(ctx, key, values...).Err(); err != nil {
		return fmt.Errorf("failed to update session state: %w", err)
	}
	return s.rdb.Expire(ctx, key, sessionTTL).Err()
}

// ──── Wait queue (FIFO by enqueue time) ────

func (s *Store) Enqueue(ctx context.Context, id uuid.UUID) error {
	return s.rdb.ZAdd(ctx, queueKey, redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: id.String(),
	}).Err()
}

// PopFront removes and returns the earliest queued session id.
// The second return is false when the queue is empty.
func (s *Store) PopFront(ctx context.Context) (uuid.UUID, bool, error) {
	entries, err := s.rdb.ZPopMin(ctx, queueKey, 1).Result()
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to pop queue: %w", err)
	}
	if len(entries) == 0 {
		return uuid.Nil, false, nil
	}
	member, _ := entries[0].Member.(string)
	id, err := uuid.Parse(member)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("malformed queue entry %q: %w", member, err)
	}
	return id, true, nil
}

// QueuePosition returns the zero-based rank, or -1 if the session is not queued.
func (s *Store) QueuePosition(ctx context.Context, id uuid.UUID) (int, error) {
	rank, err := s.rdb.ZRank(ctx, queueKey, id.String()).Result()
	if err == redis.Nil {
		return -1, nil
	}
	if err != nil {
		return -1, fmt.Errorf("failed to read queue position: %w", err)
	}
	return int(rank), nil
}

func (s *Store) RemoveFromQueue(ctx context.Context, id uuid.UUID) error {
	return s.rdb.ZRem(ctx, queueKey, id.String()).Err()
}

// ──── Sandbox ↔ session mapping ────

func (s *Store) MapSandbox(ctx context.Context, sandboxID string, sessionID uuid.UUID) error {
	return s.rdb.Set(ctx, sandboxKey(sandboxID), sessionID.String(), sessionTTL).Err()
}

func (s *Store) UnmapSandbox(ctx context.Context, sandboxID string) error {
	return s.rdb.Del(ctx, sandboxKey(sandboxID)).Err()
}

// ActiveSandboxCount counts live sandbox mappings. This is the capacity
// read on every admission attempt; it is a soft bound, not a lock.
func (s *Store) ActiveSandboxCount(ctx context.Context) (int, error) {
	count := 0
	iter := s.rdb.Scan(ctx, 0, "sandbox:*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to count active sandboxes: %w", err)
	}
	return count, nil
}

// ──── Liveness ────

// Touch records a heartbeat. IsAlive is defined as "a Touch occurred
// within HeartbeatTTL".
func (s *Store) Touch(ctx context.Context, id uuid.UUID) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return s.rdb.Set(ctx, heartbeatKey(id), now, HeartbeatTTL).Err()
}

func (s *Store) IsAlive(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := s.rdb.Exists(ctx, heartbeatKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check heartbeat: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ClearHeartbeat(ctx context.Context, id uuid.UUID) error {
	return s.rdb.Del(ctx, heartbeatKey(id)).Err()
}

// ──── Per-session interview scratch ────

func (s *Store) SetPendingQuestion(ctx context.Context, id uuid.UUID, question string) error {
	return s.rdb.Set(ctx, "pending_q:"+id.String(), question, pendingQuestionTTL).Err()
}

func (s *Store) GetPendingQuestion(ctx context.Context, id uuid.UUID) (string, error) {
	q, err := s.rdb.Get(ctx, "pending_q:"+id.String()).Result()
	if err == redis.Nil {
		return "", nil
	}
	return q, err
}

// GetProbeDepth returns -1 when no probe chain is in progress.
func (s *Store) GetProbeDepth(ctx context.Context, id uuid.UUID) (int, error) {
	v, err := s.rdb.Get(ctx, "probe_depth:"+id.String()).Result()
	if err == redis.Nil {
		return -1, nil
	}
	if err != nil {
		return -1, fmt.Errorf("failed to read probe depth: %w", err)
	}
	depth, err := strconv.Atoi(v)
	if err != nil {
		return -1, nil
	}
	return depth, nil
}

func (s *Store) SetProbeDepth(ctx context.Context, id uuid.UUID, depth int) error {
	return s.rdb.Set(ctx, "probe_depth:"+id.String(), strconv.Itoa(depth), pendingQuestionTTL).Err()
}

func (s *Store) ClearProbeDepth(ctx context.Context, id uuid.UUID) error {
	return s.rdb.Del(ctx, "probe_depth:"+id.String()).Err()
}

// ──── Nudge cooldown ────

func (s *Store) NudgeOnCooldown(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := s.rdb.Exists(ctx, "nudge_cooldown:"+id.String()).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) SetNudgeCooldown(ctx context.Context, id uuid.UUID) error {
	return s.rdb.Set(ctx, "nudge_cooldown:"+id.String(), "1", nudgeCooldownTTL).Err()
}

// ──── Internal task dispatch ────

type Task struct {
	SessionID uuid.UUID `json:"session_id"`
}

// DispatchTask pushes a task onto a worker queue. Queue promotion and
// grading both go through here rather than HTTP self-calls.
func (s *Store) DispatchTask(ctx context.Context, queue string, sessionID uuid.UUID) error {
	payload, _ := json.Marshal(Task{SessionID: sessionID})
	return s.rdb.RPush(ctx, queue, payload).Err()
}

// PublishUserEvent fans a message out to the user's websocket connections
// via pub/sub. Best-effort.
func (s *Store) PublishUserEvent(ctx context.Context, userID uuid.UUID, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.rdb.Publish(ctx, "session_events:"+userID.String(), string(data))
}
