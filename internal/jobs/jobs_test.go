package jobs

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/goleak"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestMux_RoutesByKind(t *testing.T) {
	var got Kind
	m := Mux{KindTrainModel: func(_ context.Context, j Job) error { got = j.Kind; return nil }}
	if err := m.Handle(context.Background(), NewJob(KindTrainModel, 1)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got != KindTrainModel {
		t.Errorf("handler not called")
	}
	if err := m.Handle(context.Background(), NewJob(KindEvaluateBadges, 1)); err == nil {
		t.Errorf("expected error for unregistered kind")
	}
}

func TestMemoryQueue_ProcessesAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	var done atomic.Int64
	q := NewMemoryQueue(func(context.Context, Job) error {
		done.Add(1)
		return nil
	}, 2, 10, 3, nil)

	for i := 0; i < 5; i++ {
		if err := q.Enqueue(context.Background(), NewJob(KindEvaluateBadges, uint(i))); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	waitFor(t, func() bool { return done.Load() == 5 })
	q.Stop()

	if s := q.Stats(); s.Processed != 5 || s.Enqueued != 5 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestMemoryQueue_RetriesUntilSuccess(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int64
	q := NewMemoryQueue(func(context.Context, Job) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, 1, 10, 5, nil)
	defer q.Stop()

	if err := q.Enqueue(context.Background(), NewJob(KindTrainModel, 1)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, func() bool { return q.Stats().Processed == 1 })
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestMemoryQueue_GivesUpAfterMaxAttempts(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int64
	q := NewMemoryQueue(func(context.Context, Job) error {
		calls.Add(1)
		return errors.New("permanent")
	}, 1, 10, 2, nil)
	defer q.Stop()

	_ = q.Enqueue(context.Background(), NewJob(KindTrainModel, 1))
	waitFor(t, func() bool { return q.Stats().Failed == 1 })
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestMemoryQueue_FullBufferRunsInline(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	var (
		mu   sync.Mutex
		seen []uint
	)
	q := NewMemoryQueue(func(_ context.Context, j Job) error {
		if j.UserID == 1 {
			<-release
		}
		mu.Lock()
		seen = append(seen, j.UserID)
		mu.Unlock()
		return nil
	}, 1, 1, 3, nil)

	_ = q.Enqueue(context.Background(), NewJob(KindEvaluateBadges, 1))
	waitFor(t, func() bool { return q.Pending() == 0 })
	_ = q.Enqueue(context.Background(), NewJob(KindEvaluateBadges, 2))
	_ = q.Enqueue(context.Background(), NewJob(KindEvaluateBadges, 3))

	if s := q.Stats(); s.Inline != 1 {
		t.Errorf("expected one inline run, got %+v", s)
	}
	close(release)
	waitFor(t, func() bool { return q.Stats().Processed == 3 })
	q.Stop()
}

func TestMemoryQueue_StopDrainsBufferedJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	var done atomic.Int64
	q := NewMemoryQueue(func(_ context.Context, j Job) error {
		if j.UserID == 0 {
			<-release
		}
		done.Add(1)
		return nil
	}, 1, 10, 3, nil)

	for i := 0; i < 5; i++ {
		_ = q.Enqueue(context.Background(), NewJob(KindEvaluateBadges, uint(i)))
	}
	stopped := make(chan struct{})
	go func() {
		q.Stop()
		close(stopped)
	}()
	// Stop must wait for the blocked job and everything buffered behind it.
	select {
	case <-stopped:
		t.Fatal("Stop returned while a job was still running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-stopped

	s := q.Stats()
	if s.Enqueued != 5 || s.Processed != 5 || done.Load() != 5 {
		t.Errorf("expected all 5 jobs processed, got %+v (handler ran %d)", s, done.Load())
	}
}

func TestMemoryQueue_EnqueueAfterStopRunsInline(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int64
	q := NewMemoryQueue(func(context.Context, Job) error { calls.Add(1); return nil }, 1, 10, 3, nil)
	q.Stop()
	_ = q.Enqueue(context.Background(), NewJob(KindTrainModel, 1))
	if calls.Load() != 1 {
		t.Errorf("expected inline run after stop")
	}
}

func liveRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run live redis test")
	}
	return redis.NewClient(&redis.Options{Addr: addr, DB: 15})
}

func TestRedisQueue_DeliversAndDeadLetters(t *testing.T) {
	rdb := liveRedis(t)
	defer rdb.Close()
	ctx := context.Background()
	key := "test:jobs:" + NewJob(KindTrainModel, 0).ID
	defer rdb.Del(ctx, key, key+":processing", key+":dead")

	var ok atomic.Int64
	q := NewRedisQueue(rdb, key, func(_ context.Context, j Job) error {
		if j.UserID == 13 {
			return errors.New("always fails")
		}
		ok.Add(1)
		return nil
	}, 2, 2, nil)
	if err := q.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	_ = q.Enqueue(ctx, NewJob(KindEvaluateBadges, 1))
	_ = q.Enqueue(ctx, NewJob(KindEvaluateBadges, 13))

	waitFor(t, func() bool { return ok.Load() == 1 && q.Stats().DeadLettered == 1 })
	q.Stop()

	if n := rdb.LLen(ctx, key+":dead").Val(); n != 1 {
		t.Errorf("expected 1 dead job, got %d", n)
	}
	if n := rdb.LLen(ctx, key+":processing").Val(); n != 0 {
		t.Errorf("expected empty processing list, got %d", n)
	}
}

func TestRedisQueue_RecoversProcessing(t *testing.T) {
	rdb := liveRedis(t)
	defer rdb.Close()
	ctx := context.Background()
	key := "test:jobs:" + NewJob(KindTrainModel, 0).ID
	defer rdb.Del(ctx, key, key+":processing", key+":dead")

	rdb.LPush(ctx, key+":processing", `{"id":"x","kind":"train_model","user_id":5}`)

	var got atomic.Int64
	q := NewRedisQueue(rdb, key, func(_ context.Context, j Job) error {
		got.Store(int64(j.UserID))
		return nil
	}, 1, 3, nil)
	if err := q.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer q.Stop()
	waitFor(t, func() bool { return got.Load() == 5 })
}
