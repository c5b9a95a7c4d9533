package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"quitcoach/internal/logger"
)

// MemoryQueue runs jobs on a pool of in-process workers. Jobs do not survive
// a restart; use RedisQueue where that matters.
type MemoryQueue struct {
	handler     Handler
	queue       chan Job
	workers     int
	maxAttempts int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.Mutex
	stopped     bool
	stats       Stats
	log         *zap.Logger
}

func NewMemoryQueue(handler Handler, workers, queueSize, maxAttempts int, log *zap.Logger) *MemoryQueue {
	if workers < 1 {
		workers = DefaultWorkers
	}
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &MemoryQueue{
		handler:     handler,
		queue:       make(chan Job, queueSize),
		workers:     workers,
		maxAttempts: maxAttempts,
		ctx:         ctx,
		cancel:      cancel,
		log:         logger.OrNop(log).Named("jobs"),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.log.Info("memory queue started", zap.Int("workers", workers), zap.Int("queue_size", queueSize))
	return q
}

// Enqueue never drops a job: when the buffer is full, or the queue has been
// stopped, the job runs on the caller's goroutine.
func (q *MemoryQueue) Enqueue(ctx context.Context, j Job) error {
	if q.offer(j) {
		q.mu.Lock()
		q.stats.Enqueued++
		q.mu.Unlock()
		return nil
	}
	q.mu.Lock()
	q.stats.Inline++
	q.mu.Unlock()
	q.log.Warn("queue unavailable, running job inline", zap.String("job_id", j.ID), zap.String("kind", string(j.Kind)))
	q.process(ctx, j, false)
	return nil
}

// offer buffers j without blocking. The send happens under mu so it can
// never race with Stop closing the channel.
func (q *MemoryQueue) offer(j Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false
	}
	select {
	case q.queue <- j:
		return true
	default:
		return false
	}
}

// worker exits once the channel is closed and drained.
func (q *MemoryQueue) worker(id int) {
	defer q.wg.Done()
	for j := range q.queue {
		q.process(q.ctx, j, true)
	}
}

// process runs j until it succeeds, is re-queued, or exhausts its attempts.
func (q *MemoryQueue) process(ctx context.Context, j Job, requeue bool) {
	for {
		err := q.handler(ctx, j)
		if err == nil {
			q.mu.Lock()
			q.stats.Processed++
			q.mu.Unlock()
			return
		}
		j.Attempts++
		if j.Attempts >= q.maxAttempts {
			q.mu.Lock()
			q.stats.Failed++
			q.mu.Unlock()
			q.log.Error("job exhausted its attempts",
				zap.String("job_id", j.ID), zap.String("kind", string(j.Kind)),
				zap.Uint("user_id", j.UserID), zap.Int("attempts", j.Attempts), zap.Error(err))
			return
		}
		q.log.Warn("job failed, retrying",
			zap.String("job_id", j.ID), zap.String("kind", string(j.Kind)), zap.Int("attempts", j.Attempts), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay(j.Attempts)):
		}
		if requeue && q.offer(j) {
			q.mu.Lock()
			q.stats.Retried++
			q.mu.Unlock()
			return
		}
	}
}

func (q *MemoryQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Pending is the number of buffered jobs.
func (q *MemoryQueue) Pending() int {
	return len(q.queue)
}

// Stop closes the intake, lets the workers drain every buffered job, then
// waits for them. Jobs enqueued afterwards run inline.
func (q *MemoryQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.queue)
	q.mu.Unlock()
	q.log.Info("stopping memory queue", zap.Int("pending", len(q.queue)))
	q.wg.Wait()
	q.cancel()
	s := q.Stats()
	q.log.Info("memory queue stopped",
		zap.Int64("processed", s.Processed), zap.Int64("failed", s.Failed), zap.Int64("inline", s.Inline))
}
