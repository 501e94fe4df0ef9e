package models

import (
	"fmt"
	"time"

	"github.com/huangang/buildlog/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Open connects to the configured database without touching the global DB.
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(parseLogLevel(cfg.LogLevel)),
		// Unique violations surface as gorm.ErrDuplicatedKey on every driver.
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		// Rows are soft-deleted by status, never cascaded.
		DisableForeignKeyConstraintWhenMigrating: true,
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	return db, nil
}

func InitDB(cfg *config.DatabaseConfig) error {
	db, err := Open(cfg)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// Migrate creates or updates every table the core owns and rewrites legacy
// collaborator role and status names.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&User{},
		&Project{},
		&ProjectTag{},
		&ProjectCollaborator{},
		&ProjectLog{},
		&ProjectActivity{},
		&SchedulerLock{},
	); err != nil {
		return err
	}
	return normalizeLegacyCollaborators(db)
}

func normalizeLegacyCollaborators(db *gorm.DB) error {
	if err := db.Model(&ProjectCollaborator{}).
		Where("status = ?", legacyStatusAccepted).
		UpdateColumn("status", StatusActive).Error; err != nil {
		return fmt.Errorf("rewrite legacy statuses: %w", err)
	}
	if err := db.Model(&ProjectCollaborator{}).
		Where("role = ?", legacyRoleContributor).
		UpdateColumn("role", RoleEditor).Error; err != nil {
		return fmt.Errorf("rewrite legacy roles: %w", err)
	}
	return nil
}

func AutoMigrate() error {
	return Migrate(DB)
}

func GetDB() *gorm.DB {
	return DB
}

func parseLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
