package sessions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockerSerializesSameKey(t *testing.T) {
	l := NewLocker()
	var active, maxActive int32

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "k")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxActive)
	}
}

func TestLockerDifferentKeysDoNotBlock(t *testing.T) {
	l := NewLocker()
	unlockA, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock a: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("Lock b blocked: %v", err)
	}
	unlockB()
}

func TestLockerHonoursContext(t *testing.T) {
	l := NewLocker()
	unlock, _ := l.Lock(context.Background(), "k")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	unlock()
	unlock2, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	unlock2()

	shard := l.shard("k")
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if len(shard.locks) != 0 {
		t.Fatalf("lock table not cleaned up: %d entries", len(shard.locks))
	}
}
