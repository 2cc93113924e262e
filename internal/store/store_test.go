package store

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// testRecordsContract exercises the conditional-write semantics every
// backend must share.
func testRecordsContract(t *testing.T, s Records) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.GetUser(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetUser on empty store = %v, want ErrNotFound", err)
	}

	// nickname and games upsert the user record
	if err := s.SetNickname(ctx, "u1", "alice", "Alice"); err != nil {
		t.Fatalf("SetNickname: %v", err)
	}
	if err := s.SetGames(ctx, "u1", map[string]string{"bob": "rock"}); err != nil {
		t.Fatalf("SetGames: %v", err)
	}
	u, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Nickname != "alice" || u.DisplayName != "Alice" || u.Games["bob"] != "rock" {
		t.Fatalf("user = %+v", u)
	}

	// lock: absent-or-expired predicate
	future := time.Now().Add(time.Minute).Unix()
	if err := s.SetLock(ctx, "u1", Lock{Token: "t1", ExpiresAt: future}); err != nil {
		t.Fatalf("SetLock: %v", err)
	}
	if err := s.SetLock(ctx, "u1", Lock{Token: "t2", ExpiresAt: future}); !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("SetLock while held = %v, want ErrConditionFailed", err)
	}
	if err := s.ClearLock(ctx, "u1", "wrong"); !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("ClearLock wrong token = %v, want ErrConditionFailed", err)
	}
	if err := s.ClearLock(ctx, "u1", "t1"); err != nil {
		t.Fatalf("ClearLock: %v", err)
	}
	if err := s.SetLock(ctx, "u1", Lock{Token: "t3", ExpiresAt: future}); err != nil {
		t.Fatalf("SetLock after clear: %v", err)
	}

	// an expired lock no longer blocks
	if err := s.SetLock(ctx, "u2", Lock{Token: "old", ExpiresAt: time.Now().Add(-time.Minute).Unix()}); err != nil {
		t.Fatalf("SetLock expired seed: %v", err)
	}
	if err := s.SetLock(ctx, "u2", Lock{Token: "new", ExpiresAt: future}); err != nil {
		t.Fatalf("SetLock over expired = %v, want success", err)
	}

	// locking upserted u2 as a side effect
	if _, err := s.GetUser(ctx, "u2"); err != nil {
		t.Fatalf("GetUser after lock upsert: %v", err)
	}

	if err := s.DeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := s.GetUser(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetUser after delete = %v, want ErrNotFound", err)
	}
	if err := s.DeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("DeleteUser twice: %v", err)
	}

	// nickname records: create-if-absent
	rec := NicknameRecord{Nickname: "alice", UserID: "u1", DisplayName: "Alice"}
	if err := s.PutNickname(ctx, rec); err != nil {
		t.Fatalf("PutNickname: %v", err)
	}
	if err := s.PutNickname(ctx, rec); !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("PutNickname duplicate = %v, want ErrConditionFailed", err)
	}
	got, err := s.GetNickname(ctx, "ALICE")
	if err != nil || got.UserID != "u1" || got.DisplayName != "Alice" {
		t.Fatalf("GetNickname = %+v, %v", got, err)
	}
	if _, err := s.GetNickname(ctx, "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetNickname missing = %v, want ErrNotFound", err)
	}
	if err := s.DeleteNickname(ctx, "alice"); err != nil {
		t.Fatalf("DeleteNickname: %v", err)
	}
	if _, err := s.GetNickname(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetNickname after delete = %v, want ErrNotFound", err)
	}

	// dedup: absent-or-expired
	if err := s.PutDedup(ctx, "m1", time.Minute); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	if err := s.PutDedup(ctx, "m1", time.Minute); !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("PutDedup duplicate = %v, want ErrConditionFailed", err)
	}
	if err := s.DeleteDedup(ctx, "m1"); err != nil {
		t.Fatalf("DeleteDedup: %v", err)
	}
	if err := s.PutDedup(ctx, "m1", time.Minute); err != nil {
		t.Fatalf("PutDedup after delete: %v", err)
	}
}

func TestMemoryContract(t *testing.T) {
	testRecordsContract(t, NewMemory())
}

func TestRedisContract(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	testRecordsContract(t, NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()})))
}

func TestMemoryDedupExpires(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	if err := s.PutDedup(ctx, "m1", -time.Second); err != nil {
		t.Fatalf("PutDedup expired seed: %v", err)
	}
	if err := s.PutDedup(ctx, "m1", time.Minute); err != nil {
		t.Fatalf("PutDedup over expired = %v, want success", err)
	}
}

func TestRedisDedupExpires(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	s := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	if err := s.PutDedup(ctx, "m1", 5*time.Second); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	if err := s.PutDedup(ctx, "m1", 5*time.Second); !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("PutDedup within window = %v, want ErrConditionFailed", err)
	}
	mr.FastForward(6 * time.Second)
	if err := s.PutDedup(ctx, "m1", 5*time.Second); err != nil {
		t.Fatalf("PutDedup after expiry = %v, want success", err)
	}
}

func TestMemoryCopiesRecords(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	if err := s.SetGames(ctx, "u1", map[string]string{"bob": "rock"}); err != nil {
		t.Fatalf("SetGames: %v", err)
	}
	u, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	u.Games["bob"] = "paper"
	again, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if again.Games["bob"] != "rock" {
		t.Fatal("stored record aliased a caller's map")
	}
}
