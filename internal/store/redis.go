package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps each record as a JSON blob under a prefixed key. Conditional
// user updates run inside WATCH so the predicate check and the write are one
// atomic step; nickname uniqueness and idempotency records ride on SetNX.
// Dedup keys use a native Redis TTL, so "absent or expired" collapses to a
// plain NX set.
type Redis struct {
	rdb *redis.Client
}

// OpenRedis connects and pings before returning a backend.
func OpenRedis(redisURL string) (*Redis, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

// NewRedis wraps an existing client (tests pass a miniredis-backed one).
func NewRedis(rdb *redis.Client) *Redis { return &Redis{rdb: rdb} }

func (s *Redis) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *Redis) keyUser(userID string) string { return "user:" + strings.TrimSpace(userID) }
func (s *Redis) keyNick(nick string) string   { return "nick:" + strings.ToLower(strings.TrimSpace(nick)) }
func (s *Redis) keyDedup(msgID string) string { return "dedup:" + strings.TrimSpace(msgID) }

// unconditional user upserts still go through WATCH so they never clobber a
// concurrent lock mutation; a lost race is retried a couple of times.
const maxTxRetries = 3

func (s *Redis) GetUser(ctx context.Context, userID string) (*UserRecord, error) {
	raw, err := s.rdb.Get(ctx, s.keyUser(userID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var u UserRecord
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", userID, err)
	}
	return &u, nil
}

// updateUser loads (or creates) the record inside WATCH, applies the
// mutation and writes it back in a Tx pipeline. apply returning an error
// aborts without writing.
func (s *Redis) updateUser(ctx context.Context, userID string, apply func(u *UserRecord) error) error {
	key := s.keyUser(userID)
	return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		u := &UserRecord{UserID: userID}
		raw, err := tx.Get(ctx, key).Bytes()
		if err == nil {
			if uerr := json.Unmarshal(raw, u); uerr != nil {
				return fmt.Errorf("decode user %s: %w", userID, uerr)
			}
		} else if err != redis.Nil {
			return err
		}
		if err := apply(u); err != nil {
			return err
		}
		buf, err := json.Marshal(u)
		if err != nil {
			return err
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, buf, 0)
		_, perr := pipe.Exec(ctx)
		return perr
	}, key)
}

func (s *Redis) updateUserRetry(ctx context.Context, userID string, apply func(u *UserRecord) error) error {
	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = s.updateUser(ctx, userID, apply)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("user %s: update kept losing races: %w", userID, err)
}

func (s *Redis) SetNickname(ctx context.Context, userID, nickname, displayName string) error {
	return s.updateUserRetry(ctx, userID, func(u *UserRecord) error {
		u.Nickname = nickname
		u.DisplayName = displayName
		return nil
	})
}

func (s *Redis) SetGames(ctx context.Context, userID string, games map[string]string) error {
	return s.updateUserRetry(ctx, userID, func(u *UserRecord) error {
		u.Games = games
		return nil
	})
}

func (s *Redis) SetLock(ctx context.Context, userID string, lock Lock) error {
	err := s.updateUser(ctx, userID, func(u *UserRecord) error {
		if u.Lock != nil && !u.Lock.Expired(time.Now()) {
			return ErrConditionFailed
		}
		u.Lock = &lock
		return nil
	})
	if errors.Is(err, redis.TxFailedErr) {
		// someone touched the record between WATCH and EXEC; the caller
		// retries via redelivery
		return ErrConditionFailed
	}
	return err
}

func (s *Redis) ClearLock(ctx context.Context, userID, token string) error {
	err := s.updateUser(ctx, userID, func(u *UserRecord) error {
		if u.Lock == nil || u.Lock.Token != token {
			return ErrConditionFailed
		}
		u.Lock = nil
		return nil
	})
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConditionFailed
	}
	return err
}

func (s *Redis) DeleteUser(ctx context.Context, userID string) error {
	return s.rdb.Del(ctx, s.keyUser(userID)).Err()
}

func (s *Redis) GetNickname(ctx context.Context, nickname string) (*NicknameRecord, error) {
	raw, err := s.rdb.Get(ctx, s.keyNick(nickname)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec NicknameRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode nickname %s: %w", nickname, err)
	}
	return &rec, nil
}

func (s *Redis) PutNickname(ctx context.Context, rec NicknameRecord) error {
	raw, err := json.Marshal(&rec)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, s.keyNick(rec.Nickname), raw, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrConditionFailed
	}
	return nil
}

func (s *Redis) DeleteNickname(ctx context.Context, nickname string) error {
	return s.rdb.Del(ctx, s.keyNick(nickname)).Err()
}

func (s *Redis) PutDedup(ctx context.Context, messageID string, ttl time.Duration) error {
	rec := DedupRecord{MessageID: messageID, ExpiresAt: time.Now().Add(ttl).Unix()}
	raw, err := json.Marshal(&rec)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, s.keyDedup(messageID), raw, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrConditionFailed
	}
	return nil
}

func (s *Redis) DeleteDedup(ctx context.Context, messageID string) error {
	return s.rdb.Del(ctx, s.keyDedup(messageID)).Err()
}

var _ Records = (*Redis)(nil)
