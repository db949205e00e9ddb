// Package uow runs units of work against a single pooled database connection,
// inside a transaction, retrying the whole unit on lock contention.
//
// A unit of work may run more than once. It must not have side effects
// outside the connection it is handed.
package uow

import (
	"context"
	"log/slog"
	"time"

	"github.com/VividCortex/mysqlerr"
	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

const (
	// DefaultMaxRetries is how many times a transient failure is retried.
	DefaultMaxRetries = 5

	// DefaultRetryDelay is the fixed pause before each retry.
	DefaultRetryDelay = 500 * time.Millisecond
)

// ErrTransient marks errors that are worth retrying: deadlocks and lock wait
// timeouts.
var ErrTransient = errors.New("uow: transient storage error")

// Func is a unit of work. tx is bound to one connection and, unless the run
// is non-transactional, to an open transaction on it.
type Func func(tx *gorm.DB) error

// Runner executes units of work with deadlock retry.
type Runner struct {
	db         *gorm.DB
	maxRetries int
	delay      time.Duration
	logger     *slog.Logger
	onRetry    func(attempt int, err error)
}

// New creates a Runner over db.
func New(db *gorm.DB, opts ...Option) *Runner {
	r := &Runner{
		db:         db,
		maxRetries: DefaultMaxRetries,
		delay:      DefaultRetryDelay,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt.apply(r)
	}
	return r
}

// DB returns the underlying pool.
func (r *Runner) DB() *gorm.DB {
	return r.db
}

// Run executes fn inside a transaction on one connection. On a transient
// error the transaction is rolled back and fn is run again from the start,
// up to the configured number of retries. Any other error is returned as is.
func (r *Runner) Run(ctx context.Context, fn Func, opts ...RunOption) error {
	cfg := runConfig{transaction: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := r.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
			conn = conn.Session(&gorm.Session{NewDB: true})
			if !cfg.transaction {
				return fn(conn)
			}
			return conn.Transaction(func(tx *gorm.DB) error {
				return fn(tx)
			})
		})
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.delay), uint64(r.maxRetries)),
		ctx,
	)

	return backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		r.logger.Warn("retrying unit of work after lock contention",
			"attempt", attempt, "wait", wait, "error", err)
		if r.onRetry != nil {
			r.onRetry(attempt, err)
		}
	})
}

// Read executes fn on one connection without opening a transaction.
func (r *Runner) Read(ctx context.Context, fn Func) error {
	return r.Run(ctx, fn, WithoutTransaction())
}

// Do runs fn like Run and returns its value. The value of the last, successful
// attempt is returned.
func Do[T any](ctx context.Context, r *Runner, fn func(tx *gorm.DB) (T, error), opts ...RunOption) (T, error) {
	var result T
	err := r.Run(ctx, func(tx *gorm.DB) error {
		v, err := fn(tx)
		if err != nil {
			return err
		}
		result = v
		return nil
	}, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// MarkTransient tags err so that the Runner retries it.
func MarkTransient(err error) error {
	return errors.Mark(err, ErrTransient)
}

// IsTransient reports whether err is a lock conflict that may succeed if the
// whole unit of work is run again.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlerr.ER_LOCK_DEADLOCK, mysqlerr.ER_LOCK_WAIT_TIMEOUT:
			return true
		}
		return false
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return true
		}
	}
	return false
}
