package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gitlab.com/timkado/api/conversation-router/internal/observer"
	"gitlab.com/timkado/api/conversation-router/pkg/logger"
	"gitlab.com/timkado/api/conversation-router/pkg/utils"
)

const (
	defaultLockTimeout       = 3 * time.Second
	lockRetryInitialInterval = 10 * time.Millisecond
	lockRetryMaxInterval     = 200 * time.Millisecond
)

var errLockBusy = errors.New("advisory lock held by another session")

// AssignmentLockKey is the advisory lock key serializing assignment within one tenant.
func AssignmentLockKey(tenantID int64) string {
	return fmt.Sprintf("assign:%d", tenantID)
}

// WithLock runs fn while holding the session-level advisory lock for key.
// The lock is taken on a dedicated pooled connection and released on that same connection.
// When the lock cannot be obtained within timeout, or the lock query itself fails,
// fn still runs with acquired=false so callers can proceed in degraded mode.
func (r *PostgresRepo) WithLock(ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context, acquired bool) error) error {
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}

	var (
		fnRan bool
		fnErr error
	)

	connErr := r.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = lockRetryInitialInterval
		b.MaxInterval = lockRetryMaxInterval
		b.MaxElapsedTime = timeout
		b.Reset()

		startTime := utils.Now()
		err := backoff.Retry(func() error {
			var ok bool
			if err := conn.Raw("SELECT pg_try_advisory_lock(hashtext(?))", key).Scan(&ok).Error; err != nil {
				return backoff.Permanent(checkConstraintViolation(err))
			}
			if !ok {
				return errLockBusy
			}
			return nil
		}, backoff.WithContext(b, ctx))
		observer.ObserveLockWait(time.Since(startTime))
		if err != nil {
			return err
		}

		defer func() {
			releaseCtx := context.WithoutCancel(ctx)
			var released bool
			if err := conn.WithContext(releaseCtx).Raw("SELECT pg_advisory_unlock(hashtext(?))", key).Scan(&released).Error; err != nil || !released {
				logger.FromContext(ctx).Error("Failed to release advisory lock",
					zap.String("key", key),
					zap.Bool("released", released),
					zap.Error(err))
				var ignored bool
				_ = conn.WithContext(releaseCtx).Raw("SELECT pg_advisory_unlock_all()").Scan(&ignored).Error
			}
		}()

		fnRan = true
		fnErr = fn(ctx, true)
		return nil
	})

	if fnRan {
		return fnErr
	}

	reason := "error"
	if errors.Is(connErr, errLockBusy) {
		reason = "timeout"
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	logger.FromContext(ctx).Warn("Advisory lock unavailable, continuing without it",
		zap.String("key", key),
		zap.String("reason", reason),
		zap.Duration("timeout", timeout),
		zap.Error(connErr))
	observer.IncLockDegraded(reason)
	return fn(ctx, false)
}
