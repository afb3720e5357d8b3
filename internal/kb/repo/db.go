// Package repo 持久化文档与类别元数据（gorm），支持 sqlite、postgres 与 mysql。
package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kart-io/logger"

	"github.com/kart-io/knowledge-base/internal/kb/model"
	metaopts "github.com/kart-io/knowledge-base/pkg/options/metadata"
)

// Open 按配置打开元数据库，并在需要时自动建表。
func Open(ctx context.Context, opts *metaopts.Options) (*gorm.DB, error) {
	dialector, inMemory, err := dialectorFor(opts)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   newGormLogger(gormlogger.Warn, opts.SlowThreshold),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s metadata db: %w", opts.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	switch {
	case inMemory:
		// 每个连接都是独立的内存库
		sqlDB.SetMaxOpenConns(1)
	case opts.MaxOpenConns > 0:
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 && !inMemory {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping %s metadata db: %w", opts.Driver, err)
	}

	if opts.AutoMigrate {
		if err := Migrate(db.WithContext(ctx)); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}

	logger.Infow("metadata db opened", "driver", opts.Driver, "dsn", opts.MaskedDSN())
	return db, nil
}

// Migrate 创建或更新表结构。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.Document{}, &model.CategoryMeta{}); err != nil {
		return fmt.Errorf("failed to migrate metadata db: %w", err)
	}
	return nil
}

// Close 关闭底层连接。
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func dialectorFor(opts *metaopts.Options) (gorm.Dialector, bool, error) {
	switch opts.Driver {
	case metaopts.DriverSQLite:
		dsn := opts.DSN
		inMemory := strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
		if !inMemory {
			if dir := filepath.Dir(strings.TrimPrefix(strings.SplitN(dsn, "?", 2)[0], "file:")); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, false, fmt.Errorf("failed to create sqlite directory: %w", err)
				}
			}
			if !strings.Contains(dsn, "?") {
				dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
			}
		}
		return sqlite.Open(dsn), inMemory, nil
	case metaopts.DriverPostgres:
		return postgres.Open(opts.DSN), false, nil
	case metaopts.DriverMySQL:
		return mysql.Open(opts.DSN), false, nil
	default:
		return nil, false, fmt.Errorf("unsupported metadata driver %q", opts.Driver)
	}
}
