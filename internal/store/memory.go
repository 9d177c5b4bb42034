package store

import (
	"context"
	"slices"
	"sync"
	"time"
)

type memEntry struct {
	typ  string // "bool", "int", "float", "string", "list"
	b    bool
	i    int64
	f    float64
	s    string
	list []string
}

// MemoryStore is an in-process Store used by tests and by applications that
// want an isolated, non-persistent settings backend. Readiness can be delayed
// or failed to exercise initialization paths.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	closed  bool

	ready    chan struct{}
	readyErr error

	// FailWrites, when set, makes every setter return the given error.
	// Tests use it to simulate a broken backend.
	failMu     sync.Mutex
	failWrites error
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	readyDelay time.Duration
	readyErr   error
}

// WithReadyDelay makes the store report ready only after d has elapsed.
func WithReadyDelay(d time.Duration) MemoryOption {
	return func(c *memoryConfig) { c.readyDelay = d }
}

// WithReadyError makes the store fail its readiness future with err.
func WithReadyError(err error) MemoryOption {
	return func(c *memoryConfig) { c.readyErr = err }
}

// NewMemoryStore returns a memory store. Without options it is ready
// immediately.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	var cfg memoryConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &MemoryStore{
		entries: make(map[string]memEntry),
		ready:   make(chan struct{}),
	}

	if cfg.readyDelay == 0 {
		m.readyErr = cfg.readyErr
		close(m.ready)
	} else {
		go func() {
			time.Sleep(cfg.readyDelay)
			m.readyErr = cfg.readyErr
			close(m.ready)
		}()
	}
	return m
}

// FailWrites makes all subsequent setters return err; pass nil to restore.
func (m *MemoryStore) FailWrites(err error) {
	m.failMu.Lock()
	m.failWrites = err
	m.failMu.Unlock()
}

func (m *MemoryStore) WaitReady(ctx context.Context) error {
	select {
	case <-m.ready:
		return m.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MemoryStore) Contains(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[key]
	return ok, nil
}

func (m *MemoryStore) GetBool(_ context.Context, key string) (bool, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return false, false, nil
	}
	if e.typ != "bool" {
		return false, false, ErrTypeMismatch
	}
	return e.b, true, nil
}

func (m *MemoryStore) GetInt(_ context.Context, key string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return 0, false, nil
	}
	if e.typ != "int" {
		return 0, false, ErrTypeMismatch
	}
	return e.i, true, nil
}

func (m *MemoryStore) GetFloat(_ context.Context, key string) (float64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return 0, false, nil
	}
	if e.typ != "float" {
		return 0, false, ErrTypeMismatch
	}
	return e.f, true, nil
}

func (m *MemoryStore) GetString(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if e.typ != "string" {
		return "", false, ErrTypeMismatch
	}
	return e.s, true, nil
}

func (m *MemoryStore) GetStringList(_ context.Context, key string) ([]string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.typ != "list" {
		return nil, false, ErrTypeMismatch
	}
	return slices.Clone(e.list), true, nil
}

func (m *MemoryStore) set(key string, e memEntry) error {
	m.failMu.Lock()
	failErr := m.failWrites
	m.failMu.Unlock()
	if failErr != nil {
		return failErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = e
	return nil
}

func (m *MemoryStore) SetBool(_ context.Context, key string, val bool) error {
	return m.set(key, memEntry{typ: "bool", b: val})
}

func (m *MemoryStore) SetInt(_ context.Context, key string, val int64) error {
	return m.set(key, memEntry{typ: "int", i: val})
}

func (m *MemoryStore) SetFloat(_ context.Context, key string, val float64) error {
	return m.set(key, memEntry{typ: "float", f: val})
}

func (m *MemoryStore) SetString(_ context.Context, key string, val string) error {
	return m.set(key, memEntry{typ: "string", s: val})
}

func (m *MemoryStore) SetStringList(_ context.Context, key string, val []string) error {
	return m.set(key, memEntry{typ: "list", list: slices.Clone(val)})
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memEntry)
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len reports the number of stored keys. Test helper.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
