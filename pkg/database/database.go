package database

import (
	"context"
	"fmt"
	"homework_eval_backend/internal/config"
	"homework_eval_backend/internal/model"
	"homework_eval_backend/pkg/backoff"
	"homework_eval_backend/pkg/logger"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Dialector 根据 driver 构造 gorm 方言
func Dialector(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=Local",
			cfg.User,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.DBName,
			cfg.Charset,
			cfg.ParseTime,
		)
		return mysql.Open(dsn), nil
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			cfg.Host,
			cfg.Port,
			cfg.User,
			cfg.Password,
			cfg.DBName,
			cfg.SSLMode,
		)
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func InitDB(cfg *config.DatabaseConfig, mode string) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	level := gormlogger.Warn
	if mode == "debug" {
		level = gormlogger.Info
	}

	var db *gorm.DB
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 容器编排下数据库可能晚于应用就绪
	err = backoff.Retry(ctx, 5, 500*time.Millisecond, 5*time.Second, func(ctx context.Context) error {
		opened, err := gorm.Open(dialector, &gorm.Config{
			Logger: gormlogger.Default.LogMode(level),
		})
		if err != nil {
			logger.Log.Warn("Database not reachable yet", zap.String("driver", cfg.Driver), zap.Error(err))
			return err
		}
		sqlDB, err := opened.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			logger.Log.Warn("Database ping failed", zap.Error(err))
			return err
		}
		db = opened
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("Database connection established", zap.String("driver", cfg.Driver))
	return db, nil
}

// Migrate 建表，并保证 (homework_id, student_id) 唯一索引存在
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Homework{},
		&model.Submission{},
	); err != nil {
		return err
	}
	logger.Log.Info("Database migration completed")
	return nil
}
