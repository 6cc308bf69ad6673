package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/asha/records/internal/platform/apperr"
)

// DefaultDedupTTL is how long a client id is remembered.
const DefaultDedupTTL = 7 * 24 * time.Hour

// Ledger remembers which client ids have been applied. Claim reserves an id
// and reports false when it is already known; the claim is then either
// completed with its result or released so the device may retry.
type Ledger interface {
	Claim(ctx context.Context, key string) (bool, error)
	Complete(ctx context.Context, key string, r Result) error
	Release(ctx context.Context, key string) error
	// Lookup returns the recorded result, nil when the key is unknown.
	Lookup(ctx context.Context, key string) (*Result, error)
}

// RedisLedger keeps claims as plain keys with a TTL. A claim is a SETNX of
// a pending marker; completion overwrites it with the JSON result.
type RedisLedger struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisLedger(client redis.UniversalClient, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &RedisLedger{client: client, prefix: "asha:sync:", ttl: ttl}
}

func (l *RedisLedger) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+key, statusPending, l.ttl).Result()
	if err != nil {
		return false, apperr.Storage("claim sync item", err)
	}
	return ok, nil
}

func (l *RedisLedger) Complete(ctx context.Context, key string, r Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode sync result: %w", err)
	}
	if err := l.client.Set(ctx, l.prefix+key, data, l.ttl).Err(); err != nil {
		return apperr.Storage("record sync result", err)
	}
	return nil
}

func (l *RedisLedger) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		return apperr.Storage("release sync item", err)
	}
	return nil
}

func (l *RedisLedger) Lookup(ctx context.Context, key string) (*Result, error) {
	raw, err := l.client.Get(ctx, l.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("lookup sync item", err)
	}
	if raw == statusPending {
		return &Result{Status: statusPending}, nil
	}
	var r Result
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decode sync result: %w", err)
	}
	return &r, nil
}

type memoryEntry struct {
	result  Result
	expires time.Time
}

// MemoryLedger is the single-process Ledger used when Redis is not
// configured.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &MemoryLedger{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

func (l *MemoryLedger) liveLocked(key string) (memoryEntry, bool) {
	e, ok := l.entries[key]
	if ok && !l.now().Before(e.expires) {
		delete(l.entries, key)
		return memoryEntry{}, false
	}
	return e, ok
}

func (l *MemoryLedger) Claim(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.liveLocked(key); ok {
		return false, nil
	}
	l.entries[key] = memoryEntry{result: Result{Status: statusPending}, expires: l.now().Add(l.ttl)}
	return true, nil
}

func (l *MemoryLedger) Complete(_ context.Context, key string, r Result) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = memoryEntry{result: r, expires: l.now().Add(l.ttl)}
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
	return nil
}

func (l *MemoryLedger) Lookup(_ context.Context, key string) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.liveLocked(key)
	if !ok {
		return nil, nil
	}
	r := e.result
	return &r, nil
}
