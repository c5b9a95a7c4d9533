package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quitcoach/internal/api"
	"quitcoach/internal/app"
	"quitcoach/internal/config"
	"quitcoach/internal/db"
	"quitcoach/internal/logger"
	"quitcoach/internal/plan"
	redisdb "quitcoach/internal/redis"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "quitcoach",
		Short:        "Stage progress and retry engine for quit plans",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "path to config file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	})

	var date string
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Complete every stage whose end date has passed",
		Example: `
# Sweep for today in the configured timezone
quitcoach sweep

# Replay a missed day
quitcoach sweep --date 2024-03-01
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sweep(cmd.Context(), configPath, date)
		},
	}
	sweepCmd.Flags().StringVar(&date, "date", "", "day to sweep for (YYYY-MM-DD)")
	rootCmd.AddCommand(sweepCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if err := db.Init(cfg); err != nil {
				return fmt.Errorf("db init: %w", err)
			}
			fmt.Println("schema up to date")
			return nil
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads config and opens every store the commands share.
func bootstrap(ctx context.Context, path string) (*app.App, *zap.Logger, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	log, err := logger.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Init(cfg); err != nil {
		return nil, log, fmt.Errorf("db init: %w", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redisdb.NewClient(cfg)
		if err := redisdb.Ping(ctx, rdb); err != nil {
			log.Warn("redis unavailable; sessions, live feed and sweep lock disabled", zap.Error(err))
			_ = rdb.Close()
			rdb = nil
		}
	}

	a, err := app.Build(cfg, db.DB, rdb, log)
	if err != nil {
		return nil, log, err
	}
	return a, log, nil
}

func serve(ctx context.Context, path string) error {
	a, log, err := bootstrap(ctx, path)
	if log != nil {
		defer logger.Flush(log)
	}
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Stop()

	cfg := a.Config
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.SetupRouter(cfg, a.Redis, a.Service, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("subpath", cfg.Server.Subpath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func sweep(ctx context.Context, path, date string) error {
	a, log, err := bootstrap(ctx, path)
	if log != nil {
		defer logger.Flush(log)
	}
	if err != nil {
		return err
	}
	defer a.Stop()

	day := plan.Today(time.Now(), a.Location)
	if date != "" {
		if day, err = plan.ParseDay(date, a.Location); err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
	}

	ran, completed, err := a.Sweeper.RunOnce(ctx, day)
	if err != nil {
		return err
	}
	if !ran {
		fmt.Printf("sweep for %s already claimed by another runner\n", day.Format(plan.DayLayout))
		return nil
	}
	fmt.Printf("completed %d stage(s) for %s\n", len(completed), day.Format(plan.DayLayout))
	return nil
}
