// Package storage provides the PostgreSQL persistence layer: store
// adapters for patterns, exceptions and recurring rules, the atomic
// batch sink for reconciliation output, and the append-only audit log.
package storage

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"ap-reconciliation-engine/pkg/errors"
)

// DefaultQueryTimeout bounds every single store operation
const DefaultQueryTimeout = 10 * time.Second

// Config holds the database connection settings
type Config struct {
	URL             string        `json:"url" mapstructure:"url"`
	MaxOpenConns    int           `json:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	QueryTimeout    time.Duration `json:"query_timeout" mapstructure:"query_timeout"`
}

// DefaultConfig returns the standard connection pool settings
func DefaultConfig() *Config {
	return &Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
		QueryTimeout:    DefaultQueryTimeout,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive")
	}
	return nil
}

// Connect opens a pooled connection and verifies it with a ping
func Connect(config *Config) (*sqlx.DB, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeValidationError, "database", "", err.Error())
	}

	db, err := sqlx.Connect("postgres", config.URL)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageError, "connect to postgres", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	return db, nil
}

// opContext bounds a store operation with the configured timeout
func opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// mapQueryError translates driver errors into the engine taxonomy
func mapQueryError(operation string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.StorageError(errors.CodeStoreTimeout, operation, err)
	}
	return errors.StorageError(errors.CodeStorageError, operation, err)
}

// isNoRows reports whether err is the no-rows sentinel
func isNoRows(err error) bool {
	return stderrors.Is(err, sql.ErrNoRows)
}
