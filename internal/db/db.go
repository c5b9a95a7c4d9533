package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"quitcoach/internal/badge"
	"quitcoach/internal/config"
	"quitcoach/internal/notify"
	"quitcoach/internal/plan"
	"quitcoach/internal/progress"
	"quitcoach/internal/user"
)

var DB *gorm.DB

// Models lists every table owned by the service, in dependency order.
func Models() []any {
	return []any{
		&user.User{},
		&plan.QuitPlan{},
		&plan.Stage{},
		&plan.Task{},
		&plan.TaskResult{},
		&progress.SmokingStatus{},
		&progress.Progress{},
		&badge.Badge{},
		&badge.UserBadge{},
		&notify.Notification{},
	}
}

// Open connects with the given driver. Duplicate-key errors are translated to
// gorm.ErrDuplicatedKey so callers can detect unique index violations
// portably.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	conn, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// sqlite allows one writer; a single connection also keeps an
		// in-memory database alive for the lifetime of the pool.
		sqlDB, err := conn.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return conn, nil
}

func Migrate(conn *gorm.DB) error {
	return conn.AutoMigrate(Models()...)
}

func Init(cfg *config.Config) error {
	conn, err := Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	if err := Migrate(conn); err != nil {
		return err
	}
	DB = conn
	return nil
}

// OpenTest returns a migrated in-memory sqlite database.
func OpenTest() (*gorm.DB, error) {
	conn, err := Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	if err := Migrate(conn); err != nil {
		return nil, err
	}
	return conn, nil
}
