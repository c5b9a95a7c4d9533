package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quitcoach/internal/logger"
)

// RedisQueue is a reliable list queue. Workers atomically move a payload
// from <key> to <key>:processing and remove it only once handled, so a
// crash leaves the job in :processing to be recovered on the next Start.
// Jobs that exhaust their attempts land in <key>:dead.
type RedisQueue struct {
	rdb         *redis.Client
	key         string
	handler     Handler
	workers     int
	maxAttempts int
	pollTimeout time.Duration
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.Mutex
	stats       Stats
	log         *zap.Logger
}

func NewRedisQueue(rdb *redis.Client, key string, handler Handler, workers, maxAttempts int, log *zap.Logger) *RedisQueue {
	if workers < 1 {
		workers = DefaultWorkers
	}
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if key == "" {
		key = "quitcoach:jobs"
	}
	return &RedisQueue{
		rdb:         rdb,
		key:         key,
		handler:     handler,
		workers:     workers,
		maxAttempts: maxAttempts,
		pollTimeout: time.Second,
		log:         logger.OrNop(log).Named("jobs"),
	}
}

func (q *RedisQueue) processingKey() string { return q.key + ":processing" }
func (q *RedisQueue) deadKey() string       { return q.key + ":dead" }

// Start re-queues anything left in :processing and launches the workers.
func (q *RedisQueue) Start(ctx context.Context) error {
	recovered, err := q.recover(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		q.log.Warn("recovered unfinished jobs", zap.Int("count", recovered))
	}
	q.ctx, q.cancel = context.WithCancel(context.Background())
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.log.Info("redis queue started", zap.String("key", q.key), zap.Int("workers", q.workers))
	return nil
}

func (q *RedisQueue) recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.rdb.LMove(ctx, q.processingKey(), q.key, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recover jobs: %w", err)
		}
		n++
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, j Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", j.ID, err)
	}
	q.mu.Lock()
	q.stats.Enqueued++
	q.mu.Unlock()
	return nil
}

func (q *RedisQueue) worker(id int) {
	defer q.wg.Done()
	for {
		if q.ctx.Err() != nil {
			return
		}
		payload, err := q.rdb.BLMove(q.ctx, q.key, q.processingKey(), "RIGHT", "LEFT", q.pollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if q.ctx.Err() != nil {
				return
			}
			q.log.Warn("dequeue failed", zap.Int("worker", id), zap.Error(err))
			select {
			case <-q.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		q.handle(payload)
	}
}

func (q *RedisQueue) handle(payload string) {
	// Bookkeeping must finish even when the queue is stopping.
	bg := context.WithoutCancel(q.ctx)

	var j Job
	if err := json.Unmarshal([]byte(payload), &j); err != nil {
		q.log.Error("malformed job payload, dead-lettering", zap.String("payload", payload), zap.Error(err))
		q.settle(bg, payload, q.deadKey(), "")
		return
	}

	err := q.handler(q.ctx, j)
	if err == nil {
		q.settle(bg, payload, "", "")
		q.mu.Lock()
		q.stats.Processed++
		q.mu.Unlock()
		return
	}
	if q.ctx.Err() != nil {
		// Left in :processing; Start recovers it.
		return
	}

	j.Attempts++
	next, merr := json.Marshal(j)
	if merr != nil {
		q.log.Error("re-encode job", zap.String("job_id", j.ID), zap.Error(merr))
		return
	}
	if j.Attempts >= q.maxAttempts {
		q.log.Error("job exhausted its attempts, dead-lettering",
			zap.String("job_id", j.ID), zap.String("kind", string(j.Kind)),
			zap.Uint("user_id", j.UserID), zap.Int("attempts", j.Attempts), zap.Error(err))
		q.settle(bg, payload, q.deadKey(), string(next))
		q.mu.Lock()
		q.stats.DeadLettered++
		q.mu.Unlock()
		return
	}
	q.log.Warn("job failed, retrying",
		zap.String("job_id", j.ID), zap.String("kind", string(j.Kind)), zap.Int("attempts", j.Attempts), zap.Error(err))
	select {
	case <-q.ctx.Done():
		return
	case <-time.After(retryDelay(j.Attempts)):
	}
	q.settle(bg, payload, q.key, string(next))
	q.mu.Lock()
	q.stats.Retried++
	q.mu.Unlock()
}

// settle removes payload from :processing and, when dest is set, pushes
// replacement (or payload itself) onto dest in the same transaction.
func (q *RedisQueue) settle(ctx context.Context, payload, dest, replacement string) {
	if replacement == "" {
		replacement = payload
	}
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.processingKey(), 1, payload)
		if dest != "" {
			p.LPush(ctx, dest, replacement)
		}
		return nil
	})
	if err != nil {
		q.log.Error("settle job", zap.String("dest", dest), zap.Error(err))
	}
}

func (q *RedisQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Stop cancels the workers and waits for them to exit. Jobs interrupted
// mid-run stay in :processing.
func (q *RedisQueue) Stop() {
	if q.cancel == nil {
		return
	}
	q.cancel()
	q.wg.Wait()
	s := q.Stats()
	q.log.Info("redis queue stopped",
		zap.Int64("processed", s.Processed), zap.Int64("retried", s.Retried), zap.Int64("dead", s.DeadLettered))
}
