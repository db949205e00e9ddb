package storage

import (
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported database drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// PoolConfig sizes the connection pool under a *gorm.DB.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig returns the pool used for MySQL. The orchestrator, its
// tick and every running job's bookkeeping share it.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
	}
}

// SQLitePoolConfig returns pool settings for SQLite. SQLite serializes
// writers, so a single connection avoids SQLITE_BUSY between the pool's own
// connections.
func SQLitePoolConfig() PoolConfig {
	return PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}
}

// PoolConfigFor returns the preset for driver.
func PoolConfigFor(driver string) PoolConfig {
	if driver == DriverSQLite {
		return SQLitePoolConfig()
	}
	return DefaultPoolConfig()
}

// PoolOption adjusts a PoolConfig.
type PoolOption interface {
	applyPool(*PoolConfig)
}

type poolOptionFunc func(*PoolConfig)

func (f poolOptionFunc) applyPool(c *PoolConfig) { f(c) }

// WithConfig replaces every field.
func WithConfig(cfg PoolConfig) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		*c = cfg
	})
}

// MaxOpenConns overrides the open connection limit. Zero keeps the preset.
func MaxOpenConns(n int) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		if n > 0 {
			c.MaxOpenConns = n
		}
	})
}

// MaxIdleConns overrides the idle connection limit. Zero keeps the preset.
func MaxIdleConns(n int) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		if n > 0 {
			c.MaxIdleConns = n
		}
	})
}

// ConnMaxLifetime overrides how long a connection is reused. Zero keeps the
// preset.
func ConnMaxLifetime(d time.Duration) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		if d > 0 {
			c.ConnMaxLifetime = d
		}
	})
}

// ConnMaxIdleTime overrides how long a connection may sit idle. Zero keeps
// the preset.
func ConnMaxIdleTime(d time.Duration) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		if d > 0 {
			c.ConnMaxIdleTime = d
		}
	})
}

// ConfigurePool applies the default preset adjusted by opts to db.
func ConfigurePool(db *gorm.DB, opts ...PoolOption) error {
	cfg := DefaultPoolConfig()
	for _, opt := range opts {
		opt.applyPool(&cfg)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "storage: get *sql.DB")
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	return nil
}

// Open opens a sqlite or mysql database with gorm's logger silenced and its
// pool sized from the driver's preset adjusted by opts.
func Open(driver, dsn string, opts ...PoolOption) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, errors.Newf("storage: unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "storage: open %s database", driver)
	}

	opts = append([]PoolOption{WithConfig(PoolConfigFor(driver))}, opts...)
	if err := ConfigurePool(db, opts...); err != nil {
		return nil, err
	}
	return db, nil
}
