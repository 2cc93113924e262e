package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is a test-only backend honoring the same contract as the real
// stores. Records are copied on the way in and out so callers never share
// state with the map.
type Memory struct {
	mu    sync.Mutex
	users map[string]*UserRecord
	nicks map[string]*NicknameRecord
	dedup map[string]*DedupRecord
}

func NewMemory() *Memory {
	return &Memory{
		users: make(map[string]*UserRecord),
		nicks: make(map[string]*NicknameRecord),
		dedup: make(map[string]*DedupRecord),
	}
}

func copyUser(u *UserRecord) *UserRecord {
	cp := *u
	if u.Games != nil {
		cp.Games = make(map[string]string, len(u.Games))
		for k, v := range u.Games {
			cp.Games[k] = v
		}
	}
	if u.Lock != nil {
		lk := *u.Lock
		cp.Lock = &lk
	}
	return &cp
}

func (m *Memory) GetUser(ctx context.Context, userID string) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

// getOrCreate must be called with the mutex held.
func (m *Memory) getOrCreate(userID string) *UserRecord {
	u, ok := m.users[userID]
	if !ok {
		u = &UserRecord{UserID: userID}
		m.users[userID] = u
	}
	return u
}

func (m *Memory) SetNickname(ctx context.Context, userID, nickname, displayName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.getOrCreate(userID)
	u.Nickname = nickname
	u.DisplayName = displayName
	return nil
}

func (m *Memory) SetGames(ctx context.Context, userID string, games map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.getOrCreate(userID)
	u.Games = make(map[string]string, len(games))
	for k, v := range games {
		u.Games[k] = v
	}
	return nil
}

func (m *Memory) SetLock(ctx context.Context, userID string, lock Lock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.getOrCreate(userID)
	if u.Lock != nil && !u.Lock.Expired(time.Now()) {
		return ErrConditionFailed
	}
	lk := lock
	u.Lock = &lk
	return nil
}

func (m *Memory) ClearLock(ctx context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.Lock == nil || u.Lock.Token != token {
		return ErrConditionFailed
	}
	u.Lock = nil
	return nil
}

func (m *Memory) DeleteUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, userID)
	return nil
}

func (m *Memory) GetNickname(ctx context.Context, nickname string) (*NicknameRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.nicks[strings.ToLower(nickname)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *Memory) PutNickname(ctx context.Context, rec NicknameRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(rec.Nickname)
	if _, ok := m.nicks[key]; ok {
		return ErrConditionFailed
	}
	cp := rec
	m.nicks[key] = &cp
	return nil
}

func (m *Memory) DeleteNickname(ctx context.Context, nickname string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nicks, strings.ToLower(nickname))
	return nil
}

func (m *Memory) PutDedup(ctx context.Context, messageID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if rec, ok := m.dedup[messageID]; ok && rec.ExpiresAt >= now.Unix() {
		return ErrConditionFailed
	}
	m.dedup[messageID] = &DedupRecord{MessageID: messageID, ExpiresAt: now.Add(ttl).Unix()}
	return nil
}

func (m *Memory) DeleteDedup(ctx context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dedup, messageID)
	return nil
}

var _ Records = (*Memory)(nil)
