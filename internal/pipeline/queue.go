package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// queue is a bounded worker pool over job IDs. Workers pull IDs and hand
// them to the run function under a per-job timeout.
type queue struct {
	run     func(context.Context, string)
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan string
	wg   sync.WaitGroup
	once sync.Once

	mu      sync.Mutex
	closed  bool
	senders sync.WaitGroup
}

func newQueue(run func(context.Context, string), logger *slog.Logger) *queue {
	return &queue{
		run:     run,
		logger:  logger,
		workers: 4,
		timeout: 10 * time.Minute,
		ch:      make(chan string, 256),
	}
}

func (q *queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for id := range q.ch {
					ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
					q.run(ctx, id)
					cancel()
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

// enqueue registers as a sender under the lock, then releases it before
// any blocking send so a full channel never stalls other callers or
// shutdown. The senders group keeps close(q.ch) ordered after every
// in-flight send.
func (q *queue) enqueue(id string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("cannot enqueue: queue is shutting down", "job_id", id)
		return
	}
	q.senders.Add(1)
	q.mu.Unlock()
	defer q.senders.Done()

	select {
	case q.ch <- id:
		q.logger.Info("queued job", "job_id", id)
	default:
		q.logger.Warn("queue full, applying backpressure", "job_id", id)
		q.ch <- id
	}
}

func (q *queue) shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.senders.Wait()
	close(q.ch)

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
