package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/goleak"

	"github.com/choraleia/leadagent/pkg/config"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	k := NewKeyedMutex()
	ctx := context.Background()

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(ctx, "s1")
			if err != nil {
				t.Errorf("Lock() error = %v", err)
				return
			}
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("max holders = %d, want 1", maxInside)
	}
	if n := k.size(); n != 0 {
		t.Fatalf("entries after release = %d, want 0", n)
	}
}

func TestKeyedMutex_DifferentKeysIndependent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	k := NewKeyedMutex()
	unlockA, err := k.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock(a) error = %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := k.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("Lock(b) blocked by a: %v", err)
	}
	unlockB()
}

func TestKeyedMutex_HonoursContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	k := NewKeyedMutex()
	unlock, err := k.Lock(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := k.Lock(ctx, "s1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Lock() error = %v, want deadline exceeded", err)
	}

	unlock()
	unlock() // second call is a no-op
	if n := k.size(); n != 0 {
		t.Fatalf("entries after release = %d, want 0", n)
	}

	unlock2, err := k.Lock(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Lock() after release error = %v", err)
	}
	unlock2()
}

func TestNewLocker_DefaultsToInProcess(t *testing.T) {
	l, closeFn, err := NewLocker(context.Background(), config.RedisConfig{})
	if err != nil {
		t.Fatalf("NewLocker() error = %v", err)
	}
	defer closeFn()
	if _, ok := l.(*KeyedMutex); !ok {
		t.Fatalf("NewLocker() = %T, want *KeyedMutex", l)
	}
	if _, _, err := NewLocker(context.Background(), config.RedisConfig{URL: "not a url"}); err == nil {
		t.Fatalf("NewLocker(bad url) error = nil")
	}
}

// TestRedisLocker needs a live server, e.g. LEADAGENT_TEST_REDIS=redis://localhost:6379/15
func TestRedisLocker(t *testing.T) {
	url := os.Getenv("LEADAGENT_TEST_REDIS")
	if url == "" {
		t.Skip("LEADAGENT_TEST_REDIS not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("ParseURL() error = %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	l := NewRedisLocker(client, 5*time.Second)
	key := "test-" + t.Name()

	unlock, err := l.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, key); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second Lock() error = %v, want deadline exceeded", err)
	}

	unlock()
	unlock2, err := l.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("Lock() after release error = %v", err)
	}
	unlock2()
}
