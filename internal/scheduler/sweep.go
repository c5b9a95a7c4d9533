// Package scheduler runs the daily stage completion sweep.
package scheduler

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quitcoach/internal/logger"
	"quitcoach/internal/plan"
)

type Sweeper interface {
	SweepForCompletion(ctx context.Context, today time.Time) ([]uint, error)
}

// DayLock claims a calendar day for a single runner.
type DayLock interface {
	Claim(ctx context.Context, day time.Time) (bool, error)
	Release(ctx context.Context, day time.Time) error
}

// RedisDayLock claims a day with SETNX; the key expires after 24h.
type RedisDayLock struct {
	rdb *redis.Client
}

func NewRedisDayLock(rdb *redis.Client) *RedisDayLock {
	return &RedisDayLock{rdb: rdb}
}

func (l *RedisDayLock) Claim(ctx context.Context, day time.Time) (bool, error) {
	return l.rdb.SetNX(ctx, lockKey(day), time.Now().UTC().Format(time.RFC3339), 24*time.Hour).Result()
}

func (l *RedisDayLock) Release(ctx context.Context, day time.Time) error {
	return l.rdb.Del(ctx, lockKey(day)).Err()
}

// SweepWorker fires once a day at hour:minute in loc. With redis, a
// per-day lock keeps replicas from sweeping twice.
type SweepWorker struct {
	sweeper  Sweeper
	lock     DayLock
	loc      *time.Location
	hour     int
	minute   int
	now      func() time.Time
	stopChan chan struct{}
	done     chan struct{}
	log      *zap.Logger
}

func NewSweepWorker(sweeper Sweeper, rdb *redis.Client, loc *time.Location, hour, minute int, log *zap.Logger) *SweepWorker {
	if loc == nil {
		loc = time.UTC
	}
	var lock DayLock
	if rdb != nil {
		lock = NewRedisDayLock(rdb)
	}
	return &SweepWorker{
		sweeper:  sweeper,
		lock:     lock,
		loc:      loc,
		hour:     hour,
		minute:   minute,
		now:      time.Now,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
		log:      logger.OrNop(log).Named("sweep"),
	}
}

// NextRun returns the first hour:minute in loc strictly after now.
func NextRun(now time.Time, loc *time.Location, hour, minute int) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start blocks until Stop is called.
func (w *SweepWorker) Start() {
	defer close(w.done)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	w.log.Info("sweep worker started", zap.Int("hour", w.hour), zap.Int("minute", w.minute), zap.String("tz", w.loc.String()))
	for {
		now := w.now()
		next := NextRun(now, w.loc, w.hour, w.minute)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-w.stopChan:
			timer.Stop()
			w.log.Info("sweep worker stopped")
			return
		case <-timer.C:
			if _, _, err := w.RunOnce(ctx, plan.Today(next, w.loc)); err != nil {
				w.log.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

func (w *SweepWorker) Stop() {
	close(w.stopChan)
	<-w.done
}

func lockKey(today time.Time) string {
	return "quitcoach:sweep:" + today.Format(plan.DayLayout)
}

// RunOnce sweeps for today unless another runner already claimed the day.
// A failed sweep gives the claim back so a retry, here or on another
// replica, can still run that day.
func (w *SweepWorker) RunOnce(ctx context.Context, today time.Time) (bool, []uint, error) {
	day := today.Format(plan.DayLayout)
	claimed := false
	if w.lock != nil {
		ok, err := w.lock.Claim(ctx, today)
		switch {
		case err != nil:
			w.log.Warn("sweep lock unavailable, running anyway", zap.Error(err))
		case !ok:
			w.log.Info("sweep already claimed", zap.String("day", day))
			return false, nil, nil
		default:
			claimed = true
		}
	}
	ids, err := w.sweeper.SweepForCompletion(ctx, today)
	if err != nil && claimed {
		if rerr := w.lock.Release(context.WithoutCancel(ctx), today); rerr != nil {
			w.log.Error("release sweep lock failed", zap.String("day", day), zap.Error(rerr))
		}
	}
	return true, ids, err
}
