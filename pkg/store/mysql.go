// 文件: pkg/store/mysql.go
// MySQL 连接与建表
//
// 风控的持久状态全在这四张表:
// positions / daily_pnl / lockouts / reset_markers

package store

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"riskd.com/pkg/lockout"
	"riskd.com/pkg/pnl"
	"riskd.com/pkg/reset"
)

// Config 数据库配置
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogSQL          bool // 调试用，生产保持关闭
}

// DefaultConfig 默认配置
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:             dsn,
		MaxOpenConns:    50,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
	}
}

// Open 连接 MySQL 并迁移表结构
func Open(cfg Config) (*gorm.DB, error) {
	logMode := logger.Silent
	if cfg.LogSQL {
		logMode = logger.Info
	}

	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logMode),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(
		&pnl.Position{},
		&pnl.DailyPnLRecord{},
		&lockout.Record{},
		&reset.Marker{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}
