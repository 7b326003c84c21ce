package state

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb), mr, rdb
}

func TestGetSessionMissing(t *testing.T) {
	store, _, _ := newTestStore(t)

	st, err := store.GetSession(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st != nil {
		t.Fatalf("expected nil state for unknown session, got %+v", st)
	}
}

func TestUpdateAndGetSession(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()
	userID := uuid.New()

	err := store.UpdateSession(ctx, id, map[string]string{
		"user_id":       userID.String(),
		"assessment_id": "kicad-voltage-divider",
		"status":        "queued",
		"phase":         "queued",
	})
	if err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}

	st, err := store.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if st == nil {
		t.Fatal("expected session state, got nil")
	}
	if st.UserID != userID.String() {
		t.Errorf("expected user_id %s, got %s", userID, st.UserID)
	}
	if st.Status != "queued" || st.Phase != "queued" {
		t.Errorf("unexpected status/phase: %s/%s", st.Status, st.Phase)
	}

	// Partial update must not clobber other fields.
	if err := store.UpdateSession(ctx, id, map[string]string{"status": "ready"}); err != nil {
		t.Fatalf("partial UpdateSession failed: %v", err)
	}
	st, _ = store.GetSession(ctx, id)
	if st.Status != "ready" {
		t.Errorf("expected status ready, got %s", st.Status)
	}
	if st.AssessmentID != "kicad-voltage-divider" {
		t.Errorf("partial update clobbered assessment_id: %q", st.AssessmentID)
	}
}

func TestQueueFIFO(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	first := uuid.New()
	second := uuid.New()

	if err := store.Enqueue(ctx, first); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond) // distinct enqueue timestamps
	if err := store.Enqueue(ctx, second); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	pos, err := store.QueuePosition(ctx, second)
	if err != nil {
		t.Fatalf("QueuePosition failed: %v", err)
	}
	if pos != 1 {
		t.Errorf("expected second session at position 1, got %d", pos)
	}

	got, ok, err := store.PopFront(ctx)
	if err != nil || !ok {
		t.Fatalf("PopFront failed: ok=%v err=%v", ok, err)
	}
	if got != first {
		t.Errorf("expected %s first, got %s", first, got)
	}

	got, ok, _ = store.PopFront(ctx)
	if !ok || got != second {
		t.Errorf("expected %s second, got %s (ok=%v)", second, got, ok)
	}

	if _, ok, _ := store.PopFront(ctx); ok {
		t.Error("expected empty queue after draining")
	}
}

func TestQueuePositionAbsent(t *testing.T) {
	store, _, _ := newTestStore(t)

	pos, err := store.QueuePosition(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos != -1 {
		t.Errorf("expected -1 for unqueued session, got %d", pos)
	}
}

func TestRemoveFromQueue(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	store.Enqueue(ctx, id)
	if err := store.RemoveFromQueue(ctx, id); err != nil {
		t.Fatalf("RemoveFromQueue failed: %v", err)
	}
	if pos, _ := store.QueuePosition(ctx, id); pos != -1 {
		t.Errorf("expected session removed from queue, position %d", pos)
	}
}

func TestHeartbeatLifecycle(t *testing.T) {
	store, mr, _ := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	alive, err := store.IsAlive(ctx, id)
	if err != nil {
		t.Fatalf("IsAlive failed: %v", err)
	}
	if alive {
		t.Error("expected no heartbeat before Touch")
	}

	if err := store.Touch(ctx, id); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	if alive, _ = store.IsAlive(ctx, id); !alive {
		t.Error("expected session alive after Touch")
	}

	// Heartbeat expiry is the dead-session signal.
	mr.FastForward(HeartbeatTTL + time.Second)
	if alive, _ = store.IsAlive(ctx, id); alive {
		t.Error("expected session dead after TTL elapsed")
	}

	store.Touch(ctx, id)
	store.ClearHeartbeat(ctx, id)
	if alive, _ = store.IsAlive(ctx, id); alive {
		t.Error("expected session dead after ClearHeartbeat")
	}
}

func TestSandboxMapping(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.MapSandbox(ctx, "c-111", uuid.New()); err != nil {
		t.Fatalf("MapSandbox failed: %v", err)
	}
	store.MapSandbox(ctx, "c-222", uuid.New())

	count, err := store.ActiveSandboxCount(ctx)
	if err != nil {
		t.Fatalf("ActiveSandboxCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 active sandboxes, got %d", count)
	}

	if err := store.UnmapSandbox(ctx, "c-111"); err != nil {
		t.Fatalf("UnmapSandbox failed: %v", err)
	}
	if count, _ = store.ActiveSandboxCount(ctx); count != 1 {
		t.Errorf("expected 1 active sandbox after unmap, got %d", count)
	}
}

func TestProbeDepth(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	depth, err := store.GetProbeDepth(ctx, id)
	if err != nil {
		t.Fatalf("GetProbeDepth failed: %v", err)
	}
	if depth != -1 {
		t.Errorf("expected -1 for unset probe depth, got %d", depth)
	}

	store.SetProbeDepth(ctx, id, 2)
	if depth, _ = store.GetProbeDepth(ctx, id); depth != 2 {
		t.Errorf("expected probe depth 2, got %d", depth)
	}

	store.ClearProbeDepth(ctx, id)
	if depth, _ = store.GetProbeDepth(ctx, id); depth != -1 {
		t.Errorf("expected -1 after clear, got %d", depth)
	}
}

func TestPendingQuestion(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	q, err := store.GetPendingQuestion(ctx, id)
	if err != nil {
		t.Fatalf("GetPendingQuestion failed: %v", err)
	}
	if q != "" {
		t.Errorf("expected empty pending question, got %q", q)
	}

	store.SetPendingQuestion(ctx, id, "Why a 10k resistor?")
	if q, _ = store.GetPendingQuestion(ctx, id); q != "Why a 10k resistor?" {
		t.Errorf("unexpected pending question: %q", q)
	}
}

func TestNudgeCooldown(t *testing.T) {
	store, mr, _ := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	on, err := store.NudgeOnCooldown(ctx, id)
	if err != nil {
		t.Fatalf("NudgeOnCooldown failed: %v", err)
	}
	if on {
		t.Error("expected no cooldown initially")
	}

	store.SetNudgeCooldown(ctx, id)
	if on, _ = store.NudgeOnCooldown(ctx, id); !on {
		t.Error("expected cooldown after SetNudgeCooldown")
	}

	mr.FastForward(nudgeCooldownTTL + time.Second)
	if on, _ = store.NudgeOnCooldown(ctx, id); on {
		t.Error("expected cooldown expired")
	}
}

func TestDispatchTask(t *testing.T) {
	store, _, rdb := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	if err := store.DispatchTask(ctx, QueueGrading, id); err != nil {
		t.Fatalf("DispatchTask failed: %v", err)
	}

	raw, err := rdb.LPop(ctx, QueueGrading).Result()
	if err != nil {
		t.Fatalf("failed to pop task: %v", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		t.Fatalf("failed to unmarshal task: %v", err)
	}
	if task.SessionID != id {
		t.Errorf("expected session %s in task, got %s", id, task.SessionID)
	}
}
