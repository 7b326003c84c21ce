package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"proctor-backend/internal/models"
	"proctor-backend/internal/sandbox"
	"proctor-backend/internal/state"
)

// fakeProvisioner hands out numbered sandboxes and records every create
// and destroy so tests can assert on the lifecycle.
type fakeProvisioner struct {
	mu        sync.Mutex
	healthy   bool
	createErr error
	created   []string
	destroyed []string
	artifact  []byte
}

func (p *fakeProvisioner) Create(ctx context.Context, sessionID uuid.UUID) (*sandbox.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	id := fmt.Sprintf("sbx-%d", len(p.created)+1)
	p.created = append(p.created, id)
	return &sandbox.Handle{
		SandboxID: id,
		SessionID: sessionID,
		Endpoint:  "http://localhost:9999",
		CreatedAt: time.Now(),
	}, nil
}

func (p *fakeProvisioner) WaitHealthy(ctx context.Context, endpoint string) bool {
	return p.healthy
}

func (p *fakeProvisioner) Destroy(ctx context.Context, sandboxID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = append(p.destroyed, sandboxID)
	return nil
}

func (p *fakeProvisioner) ExtractFile(ctx context.Context, sandboxID, path string) ([]byte, error) {
	if p.artifact == nil {
		return nil, errors.New("no such file")
	}
	return p.artifact, nil
}

func (p *fakeProvisioner) destroyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.destroyed)
}

// fakeSessionStore is an in-memory stand-in for the pgx session repository.
type fakeSessionStore struct {
	mu            sync.Mutex
	sessions      map[uuid.UUID]*models.Session
	markActiveErr error
	active        []models.ActiveSession
	staleQueued   []uuid.UUID
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[uuid.UUID]*models.Session)}
}

func (f *fakeSessionStore) Create(ctx context.Context, s *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.Status = models.StatusQueued
	s.Phase = models.PhaseQueued
	s.CreatedAt = time.Now()
	stored := *s
	f.sessions[s.ID] = &stored
	return nil
}

func (f *fakeSessionStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, errors.New("session not found")
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSessionStore) MarkActive(ctx context.Context, id uuid.UUID, sandboxID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markActiveErr != nil {
		return f.markActiveErr
	}
	s, ok := f.sessions[id]
	if !ok {
		return errors.New("session not found")
	}
	now := time.Now()
	s.Status = models.StatusActive
	s.SandboxID = &sandboxID
	s.StartedAt = &now
	return nil
}

func (f *fakeSessionStore) finish(id uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return errors.New("session not found")
	}
	if s.Status == models.StatusCompleted || s.Status == models.StatusAbandoned {
		return nil
	}
	now := time.Now()
	s.Status = status
	s.EndedAt = &now
	return nil
}

func (f *fakeSessionStore) Complete(ctx context.Context, id uuid.UUID) error {
	return f.finish(id, models.StatusCompleted)
}

func (f *fakeSessionStore) Abandon(ctx context.Context, id uuid.UUID) error {
	return f.finish(id, models.StatusAbandoned)
}

func (f *fakeSessionStore) SetFinalArtifact(ctx context.Context, id uuid.UUID, artifact []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return errors.New("session not found")
	}
	s.FinalArtifact = artifact
	return nil
}

func (f *fakeSessionStore) ListActive(ctx context.Context) ([]models.ActiveSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ActiveSession(nil), f.active...), nil
}

func (f *fakeSessionStore) ListQueuedOlderThan(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.staleQueued...), nil
}

func (f *fakeSessionStore) status(t *testing.T, id uuid.UUID) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		t.Fatalf("session %s not in store", id)
	}
	return s.Status
}

type fakeAssessmentStore struct{}

func (fakeAssessmentStore) GetByID(ctx context.Context, id string) (*models.Assessment, error) {
	return &models.Assessment{ID: id, Title: "Voltage Divider", TimeLimit: 3600}, nil
}

func newTestScheduler(t *testing.T, maxSandboxes int) (*Scheduler, *fakeSessionStore, *fakeProvisioner, *state.Store, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	store := state.NewStore(rdb)
	sessions := newFakeSessionStore()
	prov := &fakeProvisioner{healthy: true, artifact: []byte("pcb-data")}
	sched := New(sessions, fakeAssessmentStore{}, store, prov, maxSandboxes, "/work/out.kicad_pcb")
	return sched, sessions, prov, store, rdb
}

func newQueueOnlyScheduler(t *testing.T) (*Scheduler, *state.Store, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	store := state.NewStore(rdb)
	return &Scheduler{state: store, maxSandboxes: 3}, store, rdb
}

func popTask(t *testing.T, rdb *redis.Client, queue string) (state.Task, bool) {
	t.Helper()
	raw, err := rdb.LPop(context.Background(), queue).Result()
	if err == redis.Nil {
		return state.Task{}, false
	}
	if err != nil {
		t.Fatalf("failed to pop from %s: %v", queue, err)
	}
	var task state.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		t.Fatalf("failed to unmarshal task: %v", err)
	}
	return task, true
}

func TestStartSessionProvisionsUnderCapacity(t *testing.T) {
	sched, sessions, prov, store, _ := newTestScheduler(t, 2)
	ctx := context.Background()

	result, err := sched.StartSession(ctx, uuid.New(), "kicad-voltage-divider")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if result.Status != models.StatusReady {
		t.Fatalf("expected ready under capacity, got %s", result.Status)
	}
	if len(prov.created) != 1 {
		t.Fatalf("expected one sandbox created, got %d", len(prov.created))
	}
	if sessions.status(t, result.SessionID) != models.StatusActive {
		t.Errorf("expected durable session marked active")
	}

	st, err := store.GetSession(ctx, result.SessionID)
	if err != nil || st == nil {
		t.Fatalf("failed to read session mirror: %v", err)
	}
	if st.Status != models.StatusReady || st.Phase != models.PhaseIntro {
		t.Errorf("expected mirror ready/intro, got %s/%s", st.Status, st.Phase)
	}
	if count, _ := store.ActiveSandboxCount(ctx); count != 1 {
		t.Errorf("expected one active sandbox counted, got %d", count)
	}
}

func TestStartSessionQueuesAtCapacity(t *testing.T) {
	sched, _, prov, store, _ := newTestScheduler(t, 1)
	ctx := context.Background()

	first, err := sched.StartSession(ctx, uuid.New(), "kicad-voltage-divider")
	if err != nil || first.Status != models.StatusReady {
		t.Fatalf("expected first session ready, got %v/%v", first, err)
	}

	second, err := sched.StartSession(ctx, uuid.New(), "kicad-voltage-divider")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if second.Status != models.StatusQueued {
		t.Fatalf("expected second session queued at capacity, got %s", second.Status)
	}
	if len(prov.created) != 1 {
		t.Errorf("expected no second sandbox at capacity, got %d creates", len(prov.created))
	}
	if pos, _ := store.QueuePosition(ctx, second.SessionID); pos != 0 {
		t.Errorf("expected second session at queue head, got position %d", pos)
	}
}

func TestStartSessionFallsBackToQueueOnCreateError(t *testing.T) {
	sched, _, prov, store, _ := newTestScheduler(t, 2)
	prov.createErr = errors.New("docker daemon unreachable")
	ctx := context.Background()

	result, err := sched.StartSession(ctx, uuid.New(), "kicad-voltage-divider")
	if err != nil {
		t.Fatalf("expected queue fallback, not an error: %v", err)
	}
	if result.Status != models.StatusQueued {
		t.Fatalf("expected queued after create failure, got %s", result.Status)
	}
	if pos, _ := store.QueuePosition(ctx, result.SessionID); pos != 0 {
		t.Errorf("expected session queued, got position %d", pos)
	}
	if count, _ := store.ActiveSandboxCount(ctx); count != 0 {
		t.Errorf("expected no sandbox counted after create failure, got %d", count)
	}
}

func TestUnhealthySandboxIsReleased(t *testing.T) {
	sched, _, prov, store, _ := newTestScheduler(t, 2)
	prov.healthy = false
	ctx := context.Background()

	result, err := sched.StartSession(ctx, uuid.New(), "kicad-voltage-divider")
	if err != nil {
		t.Fatalf("expected queue fallback, not an error: %v", err)
	}
	if result.Status != models.StatusQueued {
		t.Fatalf("expected queued after health timeout, got %s", result.Status)
	}
	if prov.destroyCount() != 1 {
		t.Errorf("expected unhealthy sandbox destroyed, got %d destroys", prov.destroyCount())
	}
	if count, _ := store.ActiveSandboxCount(ctx); count != 0 {
		t.Errorf("expected capacity released after health timeout, got %d", count)
	}
}

func TestFailedActivationReleasesSandbox(t *testing.T) {
	sched, sessions, prov, store, _ := newTestScheduler(t, 2)
	sessions.markActiveErr = errors.New("connection reset by peer")
	ctx := context.Background()

	result, err := sched.StartSession(ctx, uuid.New(), "kicad-voltage-divider")
	if err != nil {
		t.Fatalf("expected queue fallback, not an error: %v", err)
	}
	if result.Status != models.StatusQueued {
		t.Fatalf("expected queued after activation failure, got %s", result.Status)
	}
	if prov.destroyCount() != 1 {
		t.Errorf("expected sandbox destroyed after activation failure, got %d destroys", prov.destroyCount())
	}
	if count, _ := store.ActiveSandboxCount(ctx); count != 0 {
		t.Errorf("expected sandbox mapping cleared, got count %d", count)
	}
	if pos, _ := store.QueuePosition(ctx, result.SessionID); pos != 0 {
		t.Errorf("expected session re-queued, got position %d", pos)
	}
}

func TestEndSessionLifecycle(t *testing.T) {
	sched, sessions, prov, store, rdb := newTestScheduler(t, 1)
	ctx := context.Background()

	first, err := sched.StartSession(ctx, uuid.New(), "kicad-voltage-divider")
	if err != nil || first.Status != models.StatusReady {
		t.Fatalf("expected first session ready, got %v/%v", first, err)
	}
	waiter, err := sched.StartSession(ctx, uuid.New(), "kicad-voltage-divider")
	if err != nil || waiter.Status != models.StatusQueued {
		t.Fatalf("expected second session queued, got %v/%v", waiter, err)
	}
	if err := sched.Heartbeat(ctx, first.SessionID); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}

	if err := sched.EndSession(ctx, first.SessionID); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	if sessions.status(t, first.SessionID) != models.StatusCompleted {
		t.Errorf("expected durable session completed")
	}
	ended, _ := sessions.GetByID(ctx, first.SessionID)
	if string(ended.FinalArtifact) != "pcb-data" {
		t.Errorf("expected final artifact captured before teardown, got %q", ended.FinalArtifact)
	}
	if prov.destroyCount() != 1 {
		t.Errorf("expected sandbox destroyed, got %d destroys", prov.destroyCount())
	}
	if count, _ := store.ActiveSandboxCount(ctx); count != 0 {
		t.Errorf("expected capacity freed, got count %d", count)
	}
	if alive, _ := store.IsAlive(ctx, first.SessionID); alive {
		t.Error("expected heartbeat cleared on end")
	}

	st, _ := store.GetSession(ctx, first.SessionID)
	if st == nil || st.Status != models.StatusCompleted || st.Phase != models.PhaseGrading {
		t.Errorf("expected mirror completed/grading, got %+v", st)
	}

	grading, ok := popTask(t, rdb, state.QueueGrading)
	if !ok || grading.SessionID != first.SessionID {
		t.Errorf("expected one grading task for the ended session, got %v/%v", grading, ok)
	}
	promotion, ok := popTask(t, rdb, state.QueueProvision)
	if !ok || promotion.SessionID != waiter.SessionID {
		t.Errorf("expected the queued waiter promoted, got %v/%v", promotion, ok)
	}
}

func TestEndSessionDuplicateIsNoOp(t *testing.T) {
	sched, _, prov, _, rdb := newTestScheduler(t, 2)
	ctx := context.Background()

	result, err := sched.StartSession(ctx, uuid.New(), "kicad-voltage-divider")
	if err != nil || result.Status != models.StatusReady {
		t.Fatalf("expected session ready, got %v/%v", result, err)
	}

	if err := sched.EndSession(ctx, result.SessionID); err != nil {
		t.Fatalf("first EndSession failed: %v", err)
	}
	if err := sched.EndSession(ctx, result.SessionID); err != nil {
		t.Fatalf("duplicate EndSession should be a no-op, got: %v", err)
	}

	if prov.destroyCount() != 1 {
		t.Errorf("expected one destroy across duplicate ends, got %d", prov.destroyCount())
	}
	if _, ok := popTask(t, rdb, state.QueueGrading); !ok {
		t.Fatal("expected a grading task from the first end")
	}
	if _, ok := popTask(t, rdb, state.QueueGrading); ok {
		t.Error("expected no second grading task from a duplicate end")
	}
}

func TestReclaimFreesCapacityWithoutGrading(t *testing.T) {
	sched, sessions, prov, store, rdb := newTestScheduler(t, 1)
	ctx := context.Background()

	first, err := sched.StartSession(ctx, uuid.New(), "kicad-voltage-divider")
	if err != nil || first.Status != models.StatusReady {
		t.Fatalf("expected first session ready, got %v/%v", first, err)
	}
	waiter, err := sched.StartSession(ctx, uuid.New(), "kicad-voltage-divider")
	if err != nil || waiter.Status != models.StatusQueued {
		t.Fatalf("expected second session queued, got %v/%v", waiter, err)
	}

	sched.Reclaim(ctx, first.SessionID)

	if sessions.status(t, first.SessionID) != models.StatusAbandoned {
		t.Errorf("expected reclaimed session abandoned")
	}
	if prov.destroyCount() != 1 {
		t.Errorf("expected sandbox destroyed on reclaim, got %d destroys", prov.destroyCount())
	}
	if count, _ := store.ActiveSandboxCount(ctx); count != 0 {
		t.Errorf("expected capacity freed on reclaim, got count %d", count)
	}
	if _, ok := popTask(t, rdb, state.QueueGrading); ok {
		t.Error("expected no grading task for a reclaimed session")
	}
	promotion, ok := popTask(t, rdb, state.QueueProvision)
	if !ok || promotion.SessionID != waiter.SessionID {
		t.Errorf("expected the queued waiter promoted after reclaim, got %v/%v", promotion, ok)
	}
}

func TestProvisionQueuedSkipsFinishedSession(t *testing.T) {
	sched, sessions, prov, _, _ := newTestScheduler(t, 2)
	ctx := context.Background()

	session := &models.Session{UserID: uuid.New(), AssessmentID: "kicad-voltage-divider"}
	sessions.Create(ctx, session)
	sessions.Abandon(ctx, session.ID)

	if err := sched.ProvisionQueued(ctx, session.ID); err != nil {
		t.Fatalf("expected no-op for finished session, got: %v", err)
	}
	if len(prov.created) != 0 {
		t.Errorf("expected no sandbox for a finished session, got %d creates", len(prov.created))
	}
}

func TestPromoteNextDispatchesEarliest(t *testing.T) {
	sched, store, rdb := newQueueOnlyScheduler(t)
	ctx := context.Background()

	first := uuid.New()
	second := uuid.New()
	store.Enqueue(ctx, first)
	time.Sleep(2 * time.Millisecond)
	store.Enqueue(ctx, second)

	sched.PromoteNext(ctx)

	task, ok := popTask(t, rdb, state.QueueProvision)
	if !ok {
		t.Fatal("expected a provisioning task after PromoteNext")
	}
	if task.SessionID != first {
		t.Errorf("expected earliest session %s promoted, got %s", first, task.SessionID)
	}

	// The second session moves to the head of the queue.
	if pos, _ := store.QueuePosition(ctx, second); pos != 0 {
		t.Errorf("expected remaining session at position 0, got %d", pos)
	}
}

func TestPromoteNextEmptyQueue(t *testing.T) {
	sched, _, rdb := newQueueOnlyScheduler(t)

	sched.PromoteNext(context.Background())

	if _, ok := popTask(t, rdb, state.QueueProvision); ok {
		t.Error("expected no task dispatched from an empty queue")
	}
}

func TestEnqueueResetsStatus(t *testing.T) {
	sched, store, _ := newQueueOnlyScheduler(t)
	ctx := context.Background()
	id := uuid.New()

	store.UpdateSession(ctx, id, map[string]string{
		"user_id": uuid.NewString(),
		"status":  "provisioning",
	})

	sched.enqueue(ctx, id)

	st, err := store.GetSession(ctx, id)
	if err != nil || st == nil {
		t.Fatalf("failed to read session state: %v", err)
	}
	if st.Status != "queued" {
		t.Errorf("expected status queued after enqueue fallback, got %s", st.Status)
	}
	if pos, _ := store.QueuePosition(ctx, id); pos != 0 {
		t.Errorf("expected session queued at position 0, got %d", pos)
	}
}
