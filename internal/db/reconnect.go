package db

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/unklstewy/ffc-tracker/pkg/config"
)

// ReconnectWithRetry attempts to connect to the database with exponential backoff.
//
// Parameters:
//   - ctx: Cancels the wait between attempts
//   - cfg: Database configuration
//   - maxRetries: Maximum number of connection attempts (0 = until ctx is done)
//   - initialDelay: Initial wait time between retries
//
// Returns: Connected database or error if all retries exhausted
func ReconnectWithRetry(ctx context.Context, cfg config.DatabaseConfig, maxRetries int, initialDelay time.Duration) (*DB, error) {
	logger := zerolog.Ctx(ctx)
	delay := initialDelay
	attempt := 0

	for {
		attempt++
		logger.Debug().Int("attempt", attempt).Str("host", cfg.Host).Msg("Connecting to database")

		db, err := Connect(cfg)
		if err == nil {
			logger.Info().Int("attempt", attempt).Msg("Database connected")
			return db, nil
		}

		if maxRetries > 0 && attempt >= maxRetries {
			logger.Error().Err(err).Int("attempts", attempt).Msg("Giving up on database connection")
			return nil, err
		}

		logger.Warn().Err(err).Dur("retry_in", delay).Msg("Database connection failed")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		// Exponential backoff with cap at 60 seconds
		delay *= 2
		if delay > 60*time.Second {
			delay = 60 * time.Second
		}
	}
}

// EnsureConnection checks if the database connection is alive and reconnects if needed.
// Returns the live connection, which may be a new one.
func EnsureConnection(ctx context.Context, db *DB, cfg config.DatabaseConfig) (*DB, error) {
	if db == nil {
		zerolog.Ctx(ctx).Warn().Msg("No database connection, reconnecting")
		return ReconnectWithRetry(ctx, cfg, 3, time.Second)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Database connection lost, reconnecting")
		db.Close()
		return ReconnectWithRetry(ctx, cfg, 3, time.Second)
	}

	return db, nil
}

// HealthCheck reports whether the database answers a trivial query.
func HealthCheck(ctx context.Context, db *DB) bool {
	if db == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Database health check failed")
		return false
	}

	return result == 1
}

// connErrors are substrings of driver errors caused by a lost connection.
var connErrors = []string{
	"connection refused",
	"broken pipe",
	"no connection",
	"connection reset",
	"bad connection",
	"eof",
	"timeout",
}

// isConnError reports whether err looks like a connection failure.
func isConnError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range connErrors {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// WithRetry executes a database operation, retrying connection failures
// with a linearly growing wait. Other errors are returned immediately.
func WithRetry(ctx context.Context, operation func() error, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isConnError(err) {
			return err
		}

		if attempt < maxRetries {
			waitTime := time.Duration(attempt+1) * retryUnit
			zerolog.Ctx(ctx).Warn().Err(err).
				Int("attempt", attempt+1).
				Int("max_attempts", maxRetries+1).
				Dur("retry_in", waitTime).
				Msg("Database operation failed")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitTime):
			}
		}
	}

	return lastErr
}

// retryUnit is the WithRetry wait step; tests shorten it.
var retryUnit = time.Second
