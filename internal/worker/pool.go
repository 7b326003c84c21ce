package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"proctor-backend/internal/scheduler"
	"proctor-backend/internal/services"
	"proctor-backend/internal/state"
)

// Pool consumes internal task queues: grading after a session ends and
// provisioning for sessions promoted off the wait queue. Work is handed
// off through the queue so HTTP requests never block on a grading call or
// a sandbox bring-up.
type Pool struct {
	redis       *redis.Client
	sched       *scheduler.Scheduler
	grader      *services.GraderService
	workerCount int
	stopChan    chan struct{}
}

func NewPool(redisClient *redis.Client, sched *scheduler.Scheduler, grader *services.GraderService, workerCount int) *Pool {
	return &Pool{
		redis:       redisClient,
		sched:       sched,
		grader:      grader,
		workerCount: workerCount,
		stopChan:    make(chan struct{}),
	}
}

func (p *Pool) Start() {
	queues := []string{
		state.QueueGrading,
		state.QueueProvision,
	}

	for i := 0; i < p.workerCount; i++ {
		go p.worker(i, queues)
	}

	log.Printf("Started %d worker goroutines", p.workerCount)
}

func (p *Pool) Stop() {
	close(p.stopChan)
}

func (p *Pool) worker(id int, queues []string) {
	for {
		select {
		case <-p.stopChan:
			log.Printf("Worker %d shutting down", id)
			return
		default:
		}

		ctx := context.Background()

		// BLPOP with 30s timeout
		result, err := p.redis.BLPop(ctx, 30*time.Second, queues...).Result()
		if err != nil {
			continue // Timeout or error, retry
		}

		if len(result) < 2 {
			continue
		}

		queue := result[0]

		var task state.Task
		if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
			log.Printf("Worker %d: failed to parse task: %v", id, err)
			continue
		}

		// Try to acquire lock
		lockKey := fmt.Sprintf("task_lock:%s:%s", queue, task.SessionID)
		locked, err := p.redis.SetNX(ctx, lockKey, "1", 10*time.Minute).Result()
		if err != nil || !locked {
			continue // Another worker has this task
		}

		log.Printf("Worker %d: processing %s task for session %s", id, queue, task.SessionID)

		var processErr error
		switch queue {
		case state.QueueGrading:
			processErr = p.grader.FinalizeSession(ctx, task.SessionID)
		case state.QueueProvision:
			processErr = p.sched.ProvisionQueued(ctx, task.SessionID)
		default:
			processErr = fmt.Errorf("unknown task queue: %s", queue)
		}

		if processErr != nil {
			log.Printf("Worker %d: %s task for session %s failed: %v", id, queue, task.SessionID, processErr)
		} else {
			log.Printf("Worker %d: %s task for session %s completed", id, queue, task.SessionID)
		}

		// Release lock
		p.redis.Del(ctx, lockKey)
	}
}
