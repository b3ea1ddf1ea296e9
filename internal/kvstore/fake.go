package kvstore

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Fake is an in-memory Store for tests. It tracks call counts so tests
// can assert cache hit/miss behavior, and exposes a manual clock so
// TTL expiry can be exercised without sleeping.
type Fake struct {
	mu   sync.Mutex
	data map[string]fakeEntry
	now  time.Time

	GetCalls int
	SetCalls int
	DelCalls int

	// GetErr/SetErr/DelErr, when non-nil, are returned by every
	// Get/Set/Del.
	GetErr error
	SetErr error
	DelErr error
}

type fakeEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewFake creates an empty fake store.
func NewFake() *Fake {
	return &Fake{
		data: make(map[string]fakeEntry),
		now:  time.Now(),
	}
}

// Advance moves the fake clock forward, expiring keys as it goes.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	f.sweep()
}

// sweep drops expired entries. Caller must hold the lock.
func (f *Fake) sweep() {
	for k, e := range f.data {
		if !e.expiresAt.IsZero() && !e.expiresAt.After(f.now) {
			delete(f.data, k)
		}
	}
}

func (f *Fake) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetCalls++
	if f.GetErr != nil {
		return "", f.GetErr
	}
	f.sweep()
	e, ok := f.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (f *Fake) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetCalls++
	if f.SetErr != nil {
		return f.SetErr
	}
	e := fakeEntry{value: value}
	if ttl > 0 {
		e.expiresAt = f.now.Add(ttl)
	}
	f.data[key] = e
	return nil
}

func (f *Fake) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DelCalls++
	if f.DelErr != nil {
		return f.DelErr
	}
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *Fake) Keys(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweep()
	var out []string
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *Fake) TTL(ctx context.Context, key string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweep()
	e, ok := f.data[key]
	if !ok {
		return 0, ErrNotFound
	}
	if e.expiresAt.IsZero() {
		return -1, nil
	}
	return e.expiresAt.Sub(f.now), nil
}

func (f *Fake) Expire(ctx context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweep()
	e, ok := f.data[key]
	if !ok {
		return ErrNotFound
	}
	e.expiresAt = f.now.Add(ttl)
	f.data[key] = e
	return nil
}

func (f *Fake) Incr(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweep()
	n := int64(0)
	if e, ok := f.data[key]; ok {
		parsed, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	}
	n++
	e := f.data[key]
	e.value = strconv.FormatInt(n, 10)
	f.data[key] = e
	return n, nil
}

// SetRaw stores a value without going through Set, bypassing counters.
// Tests use it to simulate keys written by other subsystems, including
// keys created without a TTL.
func (f *Fake) SetRaw(key, value string, ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := fakeEntry{value: value}
	if ttl > 0 {
		e.expiresAt = f.now.Add(ttl)
	}
	f.data[key] = e
}

// Len returns the number of live keys.
func (f *Fake) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweep()
	return len(f.data)
}
