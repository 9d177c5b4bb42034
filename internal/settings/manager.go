package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mvail/prefd/internal/store"
)

// ChangeEvent describes one applied settings write. Old is nil when the
// previous value could not be read (the write still happened).
type ChangeEvent struct {
	Key string // fully-qualified "<group>.<setting>"
	Old *Value
	New Value
}

// ChangeCallback receives change events. Callbacks run synchronously on the
// writer's goroutine; a panicking callback is logged and does not affect the
// write or other callbacks.
type ChangeCallback func(ChangeEvent)

// Manager aggregates groups under dotted "<group>.<setting>" keys, shares one
// store across them, and fans out change notifications.
type Manager struct {
	st     store.Store
	logger *slog.Logger

	mu     sync.RWMutex
	groups map[string]*Group
	order  []string

	cbMu      sync.RWMutex
	callbacks map[string]ChangeCallback

	disposed atomic.Bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger; defaults to slog.Default.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager returns a manager over st. The manager owns the store and closes
// it on Dispose; groups registered through it must not own it too.
func NewManager(st store.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		st:        st,
		groups:    make(map[string]*Group),
		callbacks: make(map[string]ChangeCallback),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Store returns the shared store, for registering groups against it.
func (m *Manager) Store() store.Store { return m.st }

// Register adds a group. Group keys containing dots are rejected since the
// dot separates group from setting in qualified keys.
func (m *Manager) Register(g *Group) error {
	if m.disposed.Load() {
		return fmt.Errorf("%w: manager", ErrDisposed)
	}
	if strings.Contains(g.Key(), ".") {
		return fmt.Errorf("%w: group key %q must not contain dots", ErrInvalidKey, g.Key())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.groups[g.Key()]; dup {
		return fmt.Errorf("group %q already registered", g.Key())
	}
	m.groups[g.Key()] = g
	m.order = append(m.order, g.Key())
	return nil
}

// Init waits for all registered groups to finish initializing. A single
// failed group fails Init.
func (m *Manager) Init(ctx context.Context) error {
	if m.disposed.Load() {
		return fmt.Errorf("%w: manager", ErrDisposed)
	}

	m.mu.RLock()
	groups := make([]*Group, 0, len(m.groups))
	for _, g := range m.groups {
		groups = append(groups, g)
	}
	m.mu.RUnlock()

	eg, egCtx := errgroup.WithContext(ctx)
	for _, g := range groups {
		eg.Go(func() error {
			return g.WaitReady(egCtx)
		})
	}
	return eg.Wait()
}

// Groups returns the registered groups in registration order.
func (m *Manager) Groups() []*Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Group, len(m.order))
	for i, k := range m.order {
		out[i] = m.groups[k]
	}
	return out
}

// Group returns the registered group with the given key.
func (m *Manager) Group(key string) (*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[key]
	if !ok {
		return nil, fmt.Errorf("%w: group %q", ErrNotFound, key)
	}
	return g, nil
}

// splitKey splits "<group>.<setting>" at the first dot. Setting keys may
// themselves contain dots; group keys may not.
func (m *Manager) splitKey(key string) (*Group, string, error) {
	i := strings.Index(key, ".")
	if i <= 0 || i == len(key)-1 {
		return nil, "", fmt.Errorf("%w: %q is not of the form \"group.setting\"", ErrInvalidKey, key)
	}
	g, err := m.Group(key[:i])
	if err != nil {
		return nil, "", err
	}
	return g, key[i+1:], nil
}

// Get returns the current value for a qualified key.
func (m *Manager) Get(key string) (Value, error) {
	if m.disposed.Load() {
		return Value{}, fmt.Errorf("%w: manager", ErrDisposed)
	}
	g, local, err := m.splitKey(key)
	if err != nil {
		return Value{}, err
	}
	return g.Get(local)
}

func (m *Manager) GetBool(key string) (bool, error) {
	v, err := m.Get(key)
	if err != nil {
		return false, err
	}
	return v.Bool()
}

func (m *Manager) GetInt(key string) (int64, error) {
	v, err := m.Get(key)
	if err != nil {
		return 0, err
	}
	return v.Int()
}

func (m *Manager) GetFloat(key string) (float64, error) {
	v, err := m.Get(key)
	if err != nil {
		return 0, err
	}
	return v.Float()
}

func (m *Manager) GetString(key string) (string, error) {
	v, err := m.Get(key)
	if err != nil {
		return "", err
	}
	return v.StringVal()
}

func (m *Manager) GetStringList(key string) ([]string, error) {
	v, err := m.Get(key)
	if err != nil {
		return nil, err
	}
	return v.StringList()
}

// Set validates and writes a new value for a qualified key, then notifies
// change callbacks.
func (m *Manager) Set(ctx context.Context, key string, v Value) error {
	if m.disposed.Load() {
		return fmt.Errorf("%w: manager", ErrDisposed)
	}
	g, local, err := m.splitKey(key)
	if err != nil {
		return err
	}

	old := m.snapshot(g, local)
	if err := g.SetValue(ctx, local, v); err != nil {
		return err
	}
	m.fanOut(ChangeEvent{Key: key, Old: old, New: v})
	return nil
}

func (m *Manager) SetBool(ctx context.Context, key string, v bool) error {
	return m.Set(ctx, key, Bool(v))
}

func (m *Manager) SetInt(ctx context.Context, key string, v int64) error {
	return m.Set(ctx, key, Int(v))
}

func (m *Manager) SetFloat(ctx context.Context, key string, v float64) error {
	return m.Set(ctx, key, Float(v))
}

func (m *Manager) SetString(ctx context.Context, key string, v string) error {
	return m.Set(ctx, key, String(v))
}

func (m *Manager) SetStringList(ctx context.Context, key string, v []string) error {
	return m.Set(ctx, key, StringList(v))
}

// snapshot best-effort reads the current value before a write. nil when the
// read fails; the write proceeds regardless.
func (m *Manager) snapshot(g *Group, local string) *Value {
	old, err := g.Get(local)
	if err != nil {
		return nil
	}
	return &old
}

// SetMultiple applies several writes concurrently and fails on the first
// error. Writes are independent: a failing key does not roll back the others,
// and callbacks fire only for the writes that succeeded.
func (m *Manager) SetMultiple(ctx context.Context, values map[string]Value) error {
	if m.disposed.Load() {
		return fmt.Errorf("%w: manager", ErrDisposed)
	}

	// Resolve every key up front so a malformed key fails the batch before
	// any write happens.
	type target struct {
		key   string
		g     *Group
		local string
		v     Value
		old   *Value
	}
	targets := make([]*target, 0, len(values))
	for key, v := range values {
		g, local, err := m.splitKey(key)
		if err != nil {
			return err
		}
		targets = append(targets, &target{key: key, g: g, local: local, v: v})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].key < targets[j].key })

	for _, t := range targets {
		t.old = m.snapshot(t.g, t.local)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	done := make([]atomic.Bool, len(targets))
	for i, t := range targets {
		eg.Go(func() error {
			if err := t.g.SetValue(egCtx, t.local, t.v); err != nil {
				return fmt.Errorf("setting %q: %w", t.key, err)
			}
			done[i].Store(true)
			return nil
		})
	}
	err := eg.Wait()

	for i, t := range targets {
		if done[i].Load() {
			m.fanOut(ChangeEvent{Key: t.key, Old: t.old, New: t.v})
		}
	}
	return err
}

// ResetSetting restores the default for one qualified key.
func (m *Manager) ResetSetting(ctx context.Context, key string) error {
	if m.disposed.Load() {
		return fmt.Errorf("%w: manager", ErrDisposed)
	}
	g, local, err := m.splitKey(key)
	if err != nil {
		return err
	}
	s, err := g.setting(local)
	if err != nil {
		return err
	}

	old := m.snapshot(g, local)
	if err := g.Reset(ctx, local); err != nil {
		return err
	}
	m.fanOut(ChangeEvent{Key: key, Old: old, New: s.Default})
	return nil
}

// ResetGroup restores the defaults for every setting in one group.
func (m *Manager) ResetGroup(ctx context.Context, groupKey string) error {
	if m.disposed.Load() {
		return fmt.Errorf("%w: manager", ErrDisposed)
	}
	g, err := m.Group(groupKey)
	if err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, s := range g.Settings() {
		eg.Go(func() error {
			return m.ResetSetting(egCtx, groupKey+"."+s.Key)
		})
	}
	return eg.Wait()
}

// ResetAll restores the defaults for every setting in every group.
func (m *Manager) ResetAll(ctx context.Context) error {
	if m.disposed.Load() {
		return fmt.Errorf("%w: manager", ErrDisposed)
	}

	m.mu.RLock()
	keys := make([]string, len(m.order))
	copy(keys, m.order)
	m.mu.RUnlock()

	eg, egCtx := errgroup.WithContext(ctx)
	for _, k := range keys {
		eg.Go(func() error {
			return m.ResetGroup(egCtx, k)
		})
	}
	return eg.Wait()
}

// AddChangeCallback registers cb for all future changes and returns a handle
// for removal.
func (m *Manager) AddChangeCallback(cb ChangeCallback) string {
	id := uuid.NewString()
	m.cbMu.Lock()
	m.callbacks[id] = cb
	m.cbMu.Unlock()
	return id
}

// RemoveChangeCallback unregisters the callback behind handle. Unknown
// handles are ignored.
func (m *Manager) RemoveChangeCallback(handle string) {
	m.cbMu.Lock()
	delete(m.callbacks, handle)
	m.cbMu.Unlock()
}

// fanOut delivers one change event to every registered callback, isolating
// panics so one broken listener cannot break the others or the writer.
func (m *Manager) fanOut(ev ChangeEvent) {
	m.cbMu.RLock()
	cbs := make([]ChangeCallback, 0, len(m.callbacks))
	for _, cb := range m.callbacks {
		cbs = append(cbs, cb)
	}
	m.cbMu.RUnlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("change callback panicked", "key", ev.Key, "panic", r)
				}
			}()
			cb(ev)
		}()
	}
}

// Dispose tears down every group, empties the registry, drops all callbacks,
// and closes the shared store. Dispose is terminal; a disposed manager rejects
// all operations. Calling it again is a no-op.
func (m *Manager) Dispose() {
	if !m.disposed.CompareAndSwap(false, true) {
		return
	}

	m.mu.Lock()
	groups := make([]*Group, 0, len(m.groups))
	for _, g := range m.groups {
		groups = append(groups, g)
	}
	m.groups = make(map[string]*Group)
	m.order = nil
	m.mu.Unlock()

	for _, g := range groups {
		g.Dispose()
	}

	m.cbMu.Lock()
	m.callbacks = make(map[string]ChangeCallback)
	m.cbMu.Unlock()

	if err := m.st.Close(); err != nil {
		m.logger.Warn("closing store", "error", err)
	}
}
