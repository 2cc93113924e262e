// Package userlock is the per-user mutual-exclusion boundary. The lock lives
// as data on the user record (token + expiry), acquired and released through
// the store's conditional writes, so ownership survives process crashes and a
// crashed holder's lock self-expires.
package userlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"throwbot/internal/store"
)

var (
	// ErrNotAcquired means another execution holds a non-expired lock.
	ErrNotAcquired = errors.New("lock not acquired")
	// ErrReleaseFailed means the token no longer matched at release time:
	// the lock was force-expired and taken over while we held it. This is a
	// double-processing signal, operationally alarming.
	ErrReleaseFailed = errors.New("lock release failed")
)

type Manager struct {
	records store.Records
	ttl     time.Duration
}

// NewManager builds a lock manager. ttl must exceed the worst-case
// processing latency of one message with margin for clock skew.
func NewManager(records store.Records, ttl time.Duration) *Manager {
	return &Manager{records: records, ttl: ttl}
}

// Acquire sets the lock field if it is absent or expired, upserting the user
// record as a side effect. Returns the opaque token needed to release.
func (m *Manager) Acquire(ctx context.Context, userID string) (string, error) {
	token := uuid.NewString()
	lock := store.Lock{Token: token, ExpiresAt: time.Now().Add(m.ttl).Unix()}
	err := m.records.SetLock(ctx, userID, lock)
	if errors.Is(err, store.ErrConditionFailed) {
		return "", ErrNotAcquired
	}
	if err != nil {
		return "", fmt.Errorf("acquire lock on %s: %w", userID, err)
	}
	return token, nil
}

// Release removes the lock if token still matches. A deleted user record
// implicitly invalidates any lock on it, so release trivially succeeds.
func (m *Manager) Release(ctx context.Context, userID, token string) error {
	if _, err := m.records.GetUser(ctx, userID); errors.Is(err, store.ErrNotFound) {
		return nil
	} else if err != nil {
		return fmt.Errorf("release lock on %s: %w", userID, err)
	}
	err := m.records.ClearLock(ctx, userID, token)
	if errors.Is(err, store.ErrConditionFailed) {
		return fmt.Errorf("%w: token mismatch on %s", ErrReleaseFailed, userID)
	}
	if err != nil {
		return fmt.Errorf("release lock on %s: %w", userID, err)
	}
	return nil
}

// WithLock runs fn while holding userID's lock and releases on every exit
// path. A release failure surfaces even when fn succeeded.
func (m *Manager) WithLock(ctx context.Context, userID string, fn func(ctx context.Context) error) (err error) {
	token, err := m.Acquire(ctx, userID)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := m.Release(ctx, userID, token); relErr != nil {
			err = errors.Join(err, relErr)
		}
	}()
	return fn(ctx)
}
