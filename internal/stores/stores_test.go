package stores

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func sampleAttempt() *AttemptRecord {
	return &AttemptRecord{
		AttemptID:  "01HZY",
		Purpose:    2,
		State:      4,
		Method:     "email",
		Methods:    []string{"totp", "email", "recovery_code"},
		Email:      "alice@example.com",
		TempToken:  "tmp",
		Login:      "alice",
		Password:   "Secret123",
		User:       []byte(`{"id":1}`),
		CodeIssued: true,
		Synced:     true,
		ExpiresAt:  1700000180000,
		ResendAt:   1700000060000,
		SentAt:     1700000000000,
		CreatedAt:  1700000000000,
	}
}

func TestAttemptStoreIsTabScoped(t *testing.T) {
	_, rdb := newRedis(t)
	s := NewAttemptStore(rdb, "t")
	ctx := context.Background()

	rec := sampleAttempt()
	if err := s.Save(ctx, "tab-a", rec, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(ctx, "tab-a")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, rec) {
		t.Fatalf("record mismatch:\n got %+v\nwant %+v", got, rec)
	}
	if _, err := s.Load(ctx, "tab-b"); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("another tab must not see the record, got %v", err)
	}

	existed, err := s.Delete(ctx, "tab-a")
	if err != nil || !existed {
		t.Fatalf("delete: existed=%v err=%v", existed, err)
	}
	existed, err = s.Delete(ctx, "tab-a")
	if err != nil || existed {
		t.Fatalf("second delete: existed=%v err=%v", existed, err)
	}
}

func TestAttemptRecordExpiresWithTTL(t *testing.T) {
	mr, rdb := newRedis(t)
	s := NewAttemptStore(rdb, "t")
	ctx := context.Background()

	now := time.UnixMilli(1700000000000)
	rec := sampleAttempt()
	ttl := TTLFor(rec, now, time.Minute)
	if ttl != 4*time.Minute {
		t.Fatalf("expected ttl of expiry plus grace, got %v", ttl)
	}
	if err := s.Save(ctx, "tab-a", rec, ttl); err != nil {
		t.Fatalf("save: %v", err)
	}
	mr.FastForward(ttl + time.Second)
	if _, err := s.Load(ctx, "tab-a"); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("expected record to expire, got %v", err)
	}
}

func TestCorruptAttemptIsDeleted(t *testing.T) {
	mr, rdb := newRedis(t)
	s := NewAttemptStore(rdb, "t")
	if err := mr.Set("t:tab-a", "\x01\x02"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.Load(context.Background(), "tab-a"); !errors.Is(err, ErrAttemptCorrupt) {
		t.Fatalf("expected corrupt error, got %v", err)
	}
	if mr.Exists("t:tab-a") {
		t.Fatalf("corrupt record should be removed")
	}
}

func TestLockoutStoreKeepsLongestExpiry(t *testing.T) {
	_, rdb := newRedis(t)
	s := NewLockoutStore(rdb, "t")
	ctx := context.Background()
	now := time.UnixMilli(1700000000000)

	if err := s.Save(ctx, now.Add(180*time.Second), now); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, now.Add(30*time.Second), now); err != nil {
		t.Fatalf("save shorter: %v", err)
	}
	until, ok, err := s.Load(ctx, now.Add(10*time.Second))
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if !until.Equal(now.Add(180 * time.Second)) {
		t.Fatalf("lockout shortened to %v", until)
	}

	if _, ok, _ := s.Load(ctx, now.Add(181*time.Second)); ok {
		t.Fatalf("elapsed lockout must not be active")
	}
	if _, ok, _ := s.Load(ctx, now); ok {
		t.Fatalf("elapsed lockout should have been cleared")
	}
}
