package scheduler

import (
	"context"
	"log"
	"time"

	"proctor-backend/internal/state"
)

const (
	reapInterval = 1 * time.Minute

	// Queued sessions older than this with no coordination record are
	// leftovers from a crash or restart.
	staleQueuedWindow = 5 * time.Minute
)

// Reaper periodically reclaims sessions whose heartbeat has lapsed or whose
// time limit has run out. Sweeps run one at a time on a single goroutine,
// so an overlapping sweep can never double-reclaim.
type Reaper struct {
	sessions  sessionStore
	state     *state.Store
	scheduler *Scheduler
	stopChan  chan struct{}
}

func NewReaper(sessions sessionStore, stateStore *state.Store, sched *Scheduler) *Reaper {
	return &Reaper{
		sessions:  sessions,
		state:     stateStore,
		scheduler: sched,
		stopChan:  make(chan struct{}),
	}
}

func (r *Reaper) Start() {
	go r.loop()
}

func (r *Reaper) Stop() {
	close(r.stopChan)
}

func (r *Reaper) loop() {
	// Sweep once at startup to clean up after a crash.
	r.Sweep(context.Background())

	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			log.Println("Reaper shutting down")
			return
		case <-ticker.C:
			r.Sweep(context.Background())
		}
	}
}

// Sweep examines every active session for liveness and overtime, and every
// long-queued session for orphaned state.
func (r *Reaper) Sweep(ctx context.Context) {
	active, err := r.sessions.ListActive(ctx)
	if err != nil {
		log.Printf("reaper: failed to list active sessions: %v", err)
		return
	}

	now := time.Now()
	for _, session := range active {
		alive, err := r.state.IsAlive(ctx, session.ID)
		if err != nil {
			log.Printf("reaper: liveness check failed for %s: %v", session.ID, err)
			continue
		}
		if !alive {
			log.Printf("reaper: session %s heartbeat lapsed, reclaiming", session.ID)
			r.scheduler.Reclaim(ctx, session.ID)
			continue
		}

		if session.StartedAt != nil && session.TimeLimit > 0 {
			elapsed := now.Sub(*session.StartedAt)
			if elapsed > time.Duration(session.TimeLimit)*time.Second {
				log.Printf("reaper: session %s exceeded time limit (%s elapsed), reclaiming", session.ID, elapsed.Round(time.Second))
				r.scheduler.Reclaim(ctx, session.ID)
			}
		}
	}

	r.sweepStaleQueued(ctx)
}

// sweepStaleQueued abandons queued sessions that lost their coordination
// record, typically after a store restart. No sandbox exists for these, so
// there is nothing to tear down.
func (r *Reaper) sweepStaleQueued(ctx context.Context) {
	cutoff := time.Now().Add(-staleQueuedWindow)
	stale, err := r.sessions.ListQueuedOlderThan(ctx, cutoff)
	if err != nil {
		log.Printf("reaper: failed to list stale queued sessions: %v", err)
		return
	}

	for _, id := range stale {
		st, err := r.state.GetSession(ctx, id)
		if err != nil {
			log.Printf("reaper: failed to read state for queued session %s: %v", id, err)
			continue
		}
		if st != nil {
			// The mirror alone is not proof of queue membership: a failed
			// enqueue can leave a queued mirror with no zset entry, and
			// such a session would never be promoted.
			pos, err := r.state.QueuePosition(ctx, id)
			if err != nil {
				log.Printf("reaper: failed to read queue position for %s: %v", id, err)
				continue
			}
			if pos >= 0 {
				// Genuinely queued; it will be promoted in turn.
				continue
			}
			log.Printf("reaper: re-queueing session %s dropped from the wait queue", id)
			if err := r.state.Enqueue(ctx, id); err != nil {
				log.Printf("reaper: failed to re-queue session %s: %v", id, err)
			}
			continue
		}

		log.Printf("reaper: abandoning orphaned queued session %s", id)
		if err := r.sessions.Abandon(ctx, id); err != nil {
			log.Printf("reaper: failed to abandon session %s: %v", id, err)
		}
		if err := r.state.RemoveFromQueue(ctx, id); err != nil {
			log.Printf("reaper: failed to remove session %s from queue: %v", id, err)
		}
	}
}
