package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStore_RateLimit(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		ok, err := s.CheckRateLimit(ctx, "send", "ana", 3)
		if err != nil || !ok {
			t.Fatalf("hit %d: allowed=%v err=%v", i, ok, err)
		}
		n, err := s.IncrementRateLimit(ctx, "send", "ana", time.Minute)
		if err != nil || n != int64(i) {
			t.Fatalf("IncrementRateLimit = %d, %v", n, err)
		}
	}
	if ok, _ := s.CheckRateLimit(ctx, "send", "ana", 3); ok {
		t.Error("fourth hit allowed")
	}
	if ok, _ := s.CheckRateLimit(ctx, "send", "pedro", 3); !ok {
		t.Error("limit leaked to another user")
	}

	mr.FastForward(2 * time.Minute)
	if ok, _ := s.CheckRateLimit(ctx, "send", "ana", 3); !ok {
		t.Error("limit not reset after the window")
	}
}

// countingBackend counts SubjectName lookups.
type countingBackend struct {
	Backend
	names   map[int64]string
	lookups int
}

func (b *countingBackend) SubjectName(_ context.Context, id int64) (string, error) {
	b.lookups++
	return b.names[id], nil
}

func TestCachedSubjects(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()
	backend := &countingBackend{names: map[int64]string{12: "Winter coat"}}
	c := NewCachedSubjects(backend, s, zerolog.Nop())

	for i := 0; i < 3; i++ {
		name, err := c.SubjectName(ctx, 12)
		if err != nil || name != "Winter coat" {
			t.Fatalf("SubjectName = %q, %v", name, err)
		}
	}
	if backend.lookups != 1 {
		t.Errorf("backend lookups = %d, want 1", backend.lookups)
	}

	// Unknown items are looked up every time.
	c.SubjectName(ctx, 99)
	c.SubjectName(ctx, 99)
	if backend.lookups != 3 {
		t.Errorf("backend lookups = %d, want 3", backend.lookups)
	}
}

func TestCachedSubjects_CacheDown(t *testing.T) {
	s, mr := newTestRedis(t)
	mr.Close()

	backend := &countingBackend{names: map[int64]string{12: "Winter coat"}}
	c := NewCachedSubjects(backend, s, zerolog.Nop())
	name, err := c.SubjectName(context.Background(), 12)
	if err != nil || name != "Winter coat" {
		t.Errorf("SubjectName with cache down = %q, %v", name, err)
	}
}
