package sessions

import (
	"context"
	"hash/fnv"
	"sync"
)

const lockShards = 32

// Locker serializes read-merge-write cycles per checkpoint ID. Shards only
// guard the lock table; holders of different IDs never block each other.
type Locker struct {
	shards [lockShards]lockShard
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocker creates a keyed locker.
func NewLocker() *Locker {
	l := &Locker{}
	for i := range l.shards {
		l.shards[i].locks = make(map[string]*keyLock)
	}
	return l
}

// Lock acquires the lock for id, or returns ctx.Err() if ctx ends first.
// The returned function releases it.
func (l *Locker) Lock(ctx context.Context, id string) (func(), error) {
	shard := l.shard(id)

	shard.mu.Lock()
	kl, ok := shard.locks[id]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		shard.locks[id] = kl
	}
	kl.refs++
	shard.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
		return func() { l.release(shard, id, kl, true) }, nil
	case <-ctx.Done():
		l.release(shard, id, kl, false)
		return nil, ctx.Err()
	}
}

func (l *Locker) release(shard *lockShard, id string, kl *keyLock, held bool) {
	if held {
		<-kl.ch
	}
	shard.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(shard.locks, id)
	}
	shard.mu.Unlock()
}

func (l *Locker) shard(id string) *lockShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &l.shards[h.Sum32()%lockShards]
}
