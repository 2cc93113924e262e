package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by gets when no record exists under the key.
	ErrNotFound = errors.New("record not found")
	// ErrConditionFailed is returned when a conditional write loses its
	// predicate at write time. The caller decides what the race means
	// (nickname taken, lock held, stale token).
	ErrConditionFailed = errors.New("condition failed")
)

// Lock is a mutual-exclusion token stored as ordinary data on the user
// record, so ownership survives process crashes.
type Lock struct {
	Token     string `json:"token" dynamodbav:"token"`
	ExpiresAt int64  `json:"expires_at" dynamodbav:"expires_at"`
}

// Expired reports whether the lock's TTL has passed. An expired lock is
// logically absent: it may be replaced without a release.
func (l *Lock) Expired(now time.Time) bool {
	return l == nil || l.ExpiresAt < now.Unix()
}

// UserRecord is keyed by the user identifier (E.164 phone number).
// Nickname and DisplayName are set together or not at all. Games maps an
// opponent's lowercase nickname to the play waiting on them.
type UserRecord struct {
	UserID      string            `json:"user_id" dynamodbav:"user_id"`
	Nickname    string            `json:"nickname,omitempty" dynamodbav:"nickname,omitempty"`
	DisplayName string            `json:"display_name,omitempty" dynamodbav:"display_name,omitempty"`
	Games       map[string]string `json:"games,omitempty" dynamodbav:"games,omitempty"`
	Lock        *Lock             `json:"lock,omitempty" dynamodbav:"lock,omitempty"`
}

// NicknameRecord is keyed by the lowercase nickname and points back at the
// owning user. DisplayName keeps the original casing.
type NicknameRecord struct {
	Nickname    string `json:"nickname" dynamodbav:"nickname"`
	UserID      string `json:"user_id" dynamodbav:"user_id"`
	DisplayName string `json:"display_name" dynamodbav:"display_name"`
}

// DedupRecord marks a message id as in flight until ExpiresAt.
type DedupRecord struct {
	MessageID string `json:"message_id" dynamodbav:"message_id"`
	ExpiresAt int64  `json:"expires_at" dynamodbav:"expires_at"`
}

// Records is the conditional-write key-value contract every backend
// implements. Each method names its predicate; predicates are evaluated
// atomically by the backend at write time and a lost predicate surfaces as
// ErrConditionFailed. Updates without an existence predicate upsert: the
// record is created if absent (get-or-create, never a silent partial write).
// Reads are strongly consistent.
type Records interface {
	// GetUser returns the user record or ErrNotFound.
	GetUser(ctx context.Context, userID string) (*UserRecord, error)
	// SetNickname upserts nickname and display name onto the user record.
	SetNickname(ctx context.Context, userID, nickname, displayName string) error
	// SetGames upserts the pending-games map onto the user record.
	SetGames(ctx context.Context, userID string, games map[string]string) error
	// SetLock sets the lock field. Predicate: lock absent or expired.
	SetLock(ctx context.Context, userID string, lock Lock) error
	// ClearLock removes the lock field. Predicate: lock.token == token.
	ClearLock(ctx context.Context, userID, token string) error
	// DeleteUser removes the user record. Deleting an absent user is not an
	// error.
	DeleteUser(ctx context.Context, userID string) error

	// GetNickname returns the nickname record or ErrNotFound. The key is
	// always the lowercase form.
	GetNickname(ctx context.Context, nickname string) (*NicknameRecord, error)
	// PutNickname creates the nickname record. Predicate: absent.
	PutNickname(ctx context.Context, rec NicknameRecord) error
	// DeleteNickname removes the nickname record.
	DeleteNickname(ctx context.Context, nickname string) error

	// PutDedup creates an idempotency record expiring after ttl.
	// Predicate: absent, or present but expired.
	PutDedup(ctx context.Context, messageID string, ttl time.Duration) error
	// DeleteDedup removes the idempotency record so a retry does not have to
	// wait out the TTL.
	DeleteDedup(ctx context.Context, messageID string) error
}
