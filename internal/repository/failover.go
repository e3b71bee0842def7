package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"seasonbook/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverLocker uses the primary locker and switches to the fallback while the
// primary keeps failing. A lock timeout is contention, not a failure.
type FailoverLocker struct {
	primary       domain.ResourceLocker
	fallback      domain.ResourceLocker
	logger        *zerolog.Logger
	isDown        atomic.Bool
	mu            sync.Mutex
	lastCheck     time.Time
	retryInterval time.Duration
}

func NewFailoverLocker(primary, fallback domain.ResourceLocker, logger *zerolog.Logger) *FailoverLocker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverLocker{
		primary:       primary,
		fallback:      fallback,
		logger:        logger,
		retryInterval: time.Minute,
	}
}

func (l *FailoverLocker) Lock(ctx context.Context, keys []string) (func(), error) {
	if !l.isDown.Load() || l.shouldRetryPrimary() {
		unlock, err := l.primary.Lock(ctx, keys)
		if err == nil {
			if l.isDown.Swap(false) {
				l.logger.Info().Msg("primary locker recovered")
			}
			return unlock, nil
		}
		if errors.Is(err, ErrLockTimeout) || ctx.Err() != nil {
			return nil, err
		}
		l.logger.Error().Err(err).Msg("primary locker failed, falling back to in-process locks")
		l.markDown()
	}

	return l.fallback.Lock(ctx, keys)
}

func (l *FailoverLocker) markDown() {
	l.mu.Lock()
	l.lastCheck = time.Now()
	l.mu.Unlock()
	l.isDown.Store(true)
}

func (l *FailoverLocker) shouldRetryPrimary() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Since(l.lastCheck) > l.retryInterval {
		l.lastCheck = time.Now()
		return true
	}
	return false
}
