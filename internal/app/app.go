// Package app wires the engine's collaborators together from config.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"quitcoach/internal/auth"
	"quitcoach/internal/badge"
	"quitcoach/internal/config"
	"quitcoach/internal/engine"
	"quitcoach/internal/jobs"
	"quitcoach/internal/logger"
	"quitcoach/internal/notify"
	"quitcoach/internal/plan"
	"quitcoach/internal/progress"
	"quitcoach/internal/scheduler"
	"quitcoach/internal/stage"
	"quitcoach/internal/stats"
	"quitcoach/internal/training"
)

type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Redis     *redis.Client
	Log       *zap.Logger
	Location  *time.Location
	Service   *engine.Service
	Stages    *stage.Manager
	Publisher *notify.RedisPublisher
	Queue     jobs.Queue
	Sweeper   *scheduler.SweepWorker

	redisQueue *jobs.RedisQueue
	sweeping   bool
}

// Build constructs every component. rdb may be nil, in which case the
// memory job queue is used and notifications are not published.
func Build(cfg *config.Config, conn *gorm.DB, rdb *redis.Client, log *zap.Logger) (*App, error) {
	log = logger.OrNop(log)
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	var pub notify.Publisher
	var redisPub *notify.RedisPublisher
	if rdb != nil {
		redisPub = notify.NewRedisPublisher(rdb)
		pub = redisPub
	}

	plans := plan.NewStore(conn)
	ledger := progress.NewLedger(conn, cfg.Engine.CigarettesPerPack, log)
	emitter := notify.NewEmitter(conn, pub, log)
	stages := stage.NewManager(conn, plans, ledger, emitter, cfg.Engine.WarningRatio, log)
	agg := stats.NewAggregator(conn, ledger, loc)

	var trainer training.Trigger = training.Disabled{}
	if cfg.Training.Enabled && cfg.Training.URL != "" {
		trainer = training.NewHTTPTrigger(cfg.Training.URL, time.Duration(cfg.Training.TimeoutSeconds)*time.Second)
	}

	svc := engine.New(engine.Deps{
		Plans:         plans,
		Ledger:        ledger,
		Monitor:       progress.NewMonitor(ledger, cfg.Engine.WarningRatio, log),
		Stages:        stages,
		Stats:         agg,
		Badges:        badge.NewEvaluator(conn, agg, emitter, log),
		Notifications: emitter,
		Authorizer:    auth.RoleAuthorizer{},
		Trainer:       trainer,
		Location:      loc,
		Log:           log,
	})

	a := &App{
		Config:    cfg,
		DB:        conn,
		Redis:     rdb,
		Log:       log,
		Location:  loc,
		Service:   svc,
		Stages:    stages,
		Publisher: redisPub,
	}

	if cfg.Jobs.Backend == "redis" && rdb != nil {
		a.redisQueue = jobs.NewRedisQueue(rdb, cfg.Jobs.Key, svc.JobHandler(), cfg.Jobs.Workers, cfg.Jobs.MaxAttempts, log)
		a.Queue = a.redisQueue
	} else {
		if cfg.Jobs.Backend == "redis" {
			log.Warn("redis unavailable, using in-memory job queue")
		}
		a.Queue = jobs.NewMemoryQueue(svc.JobHandler(), cfg.Jobs.Workers, cfg.Jobs.QueueSize, cfg.Jobs.MaxAttempts, log)
	}
	svc.UseQueue(a.Queue)

	hour, minute := cfg.Sweep.At()
	a.Sweeper = scheduler.NewSweepWorker(stages, rdb, loc, hour, minute, log)
	return a, nil
}

// Start launches the background workers.
func (a *App) Start(ctx context.Context) error {
	if a.redisQueue != nil {
		if err := a.redisQueue.Start(ctx); err != nil {
			return fmt.Errorf("start job queue: %w", err)
		}
	}
	if a.Config.Sweep.Enabled {
		go a.Sweeper.Start()
		a.sweeping = true
	}
	return nil
}

// Stop drains the workers started by Start. It is safe to call without Start.
func (a *App) Stop() {
	if a.sweeping {
		a.Sweeper.Stop()
		a.sweeping = false
	}
	a.Queue.Stop()
}
