package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mvail/prefd/internal/store"
)

const (
	defaultOpTimeout   = 5 * time.Second
	defaultInitTimeout = 30 * time.Second
)

// Group owns a named set of settings sharing one storage namespace. It
// initializes asynchronously: after the store reports ready, every setting is
// validated (or repaired, or defaulted) so that a ready group always has a
// value present for every key.
type Group struct {
	key       string
	st        store.Store
	ownsStore bool
	settings  map[string]*Setting
	order     []string

	ready    chan struct{}
	initErr  error
	disposed atomic.Bool

	locks       *keyLocks
	opTimeout   time.Duration
	initTimeout time.Duration
	logger      *slog.Logger
}

// GroupOption configures a Group.
type GroupOption func(*Group)

// WithOwnedStore marks the store as privately owned by this group; Dispose
// will close it. Groups sharing a manager-owned store must not set this.
func WithOwnedStore() GroupOption {
	return func(g *Group) { g.ownsStore = true }
}

// WithOpTimeout bounds per-key lock acquisition for writes.
func WithOpTimeout(d time.Duration) GroupOption {
	return func(g *Group) { g.opTimeout = d }
}

// WithInitTimeout bounds the wait for store readiness during initialization.
func WithInitTimeout(d time.Duration) GroupOption {
	return func(g *Group) { g.initTimeout = d }
}

// WithGroupLogger sets the logger; defaults to slog.Default.
func WithGroupLogger(l *slog.Logger) GroupOption {
	return func(g *Group) { g.logger = l }
}

// NewGroup builds a group and starts its initialization in the background.
// Duplicate setting keys are a construction-time error.
func NewGroup(key string, items []*Setting, st store.Store, opts ...GroupOption) (*Group, error) {
	if key == "" {
		return nil, fmt.Errorf("group key must not be empty")
	}

	g := &Group{
		key:         key,
		st:          st,
		settings:    make(map[string]*Setting, len(items)),
		ready:       make(chan struct{}),
		locks:       newKeyLocks(),
		opTimeout:   defaultOpTimeout,
		initTimeout: defaultInitTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}

	for _, s := range items {
		if s.Key == "" {
			return nil, fmt.Errorf("group %q: setting key must not be empty", key)
		}
		if _, dup := g.settings[s.Key]; dup {
			return nil, fmt.Errorf("group %q: duplicate setting key %q", key, s.Key)
		}
		g.settings[s.Key] = s
		g.order = append(g.order, s.Key)
	}

	go g.initialize()
	return g, nil
}

// Key returns the group's namespace key.
func (g *Group) Key() string { return g.key }

// Settings returns the group's settings in registration order.
func (g *Group) Settings() []*Setting {
	out := make([]*Setting, len(g.order))
	for i, k := range g.order {
		out[i] = g.settings[k]
	}
	return out
}

// storageKey returns the fully-qualified key for a local setting key.
func (g *Group) storageKey(localKey string) string {
	return g.key + "." + localKey
}

// initialize runs once. The group fails only when the store itself is
// unreachable or a privileged write fails; per-setting repair problems
// degrade to the default value.
func (g *Group) initialize() {
	defer close(g.ready)

	ctx, cancel := context.WithTimeout(context.Background(), g.initTimeout)
	defer cancel()

	if err := g.st.WaitReady(ctx); err != nil {
		g.initErr = fmt.Errorf("group %q: store not ready: %w", g.key, err)
		return
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, s := range g.settings {
		eg.Go(func() error {
			return g.initSetting(egCtx, s)
		})
	}
	if err := eg.Wait(); err != nil {
		g.initErr = fmt.Errorf("group %q: %w", g.key, err)
	}
}

// initSetting brings one stored value into a valid state: absent keys get the
// default; invalid values are recovered or defaulted.
func (g *Group) initSetting(ctx context.Context, s *Setting) error {
	skey := g.storageKey(s.Key)

	exists, err := g.st.Contains(ctx, skey)
	if err != nil {
		return fmt.Errorf("checking %q: %w", skey, err)
	}
	if !exists {
		return g.writeStored(ctx, s, s.Default)
	}

	current, ok, err := g.readStored(ctx, s)
	if err != nil || !ok {
		// A present key we cannot read is treated like a failed repair:
		// fall back to the default rather than failing the whole group.
		g.logger.Warn("unreadable stored value, restoring default",
			"key", skey, "error", err)
		return g.writeStored(ctx, s, s.Default)
	}

	verr := s.ValidateValue(current)
	if verr == nil {
		return nil
	}

	reason := verr.Error()
	recovered, handled, rerr := s.AttemptRecovery(current, reason)
	switch {
	case rerr != nil:
		g.logger.Warn("recovery failed, restoring default",
			"key", skey, "error", rerr)
		return g.writeStored(ctx, s, s.Default)
	case handled:
		return g.writeStored(ctx, s, recovered)
	default:
		return g.writeStored(ctx, s, s.Default)
	}
}

// WaitReady blocks until initialization finished or ctx is done, returning
// the initialization error, if any.
func (g *Group) WaitReady(ctx context.Context) error {
	select {
	case <-g.ready:
		return g.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether the group initialized successfully.
func (g *Group) Ready() bool {
	select {
	case <-g.ready:
		return g.initErr == nil && !g.disposed.Load()
	default:
		return false
	}
}

func (g *Group) checkReady() error {
	if g.disposed.Load() {
		return fmt.Errorf("%w: group %q", ErrDisposed, g.key)
	}
	select {
	case <-g.ready:
		if g.initErr != nil {
			return g.initErr
		}
		return nil
	default:
		return fmt.Errorf("%w: group %q", ErrNotReady, g.key)
	}
}

func (g *Group) setting(localKey string) (*Setting, error) {
	s, ok := g.settings[localKey]
	if !ok {
		return nil, fmt.Errorf("%w: %q in group %q", ErrNotFound, localKey, g.key)
	}
	return s, nil
}

// readStored reads the current stored value through the fast, unvalidated
// path. ok=false when the key is absent.
func (g *Group) readStored(ctx context.Context, s *Setting) (Value, bool, error) {
	skey := g.storageKey(s.Key)
	switch s.Type {
	case TypeBool:
		v, ok, err := g.st.GetBool(ctx, skey)
		return Bool(v), ok, err
	case TypeInt:
		v, ok, err := g.st.GetInt(ctx, skey)
		return Int(v), ok, err
	case TypeFloat:
		v, ok, err := g.st.GetFloat(ctx, skey)
		return Float(v), ok, err
	case TypeString:
		v, ok, err := g.st.GetString(ctx, skey)
		return String(v), ok, err
	case TypeStringList:
		v, ok, err := g.st.GetStringList(ctx, skey)
		return StringList(v), ok, err
	}
	return Value{}, false, fmt.Errorf("setting %q has unknown type %d", s.Key, s.Type)
}

// writeStored persists v for s, dispatching on the setting's declared type.
func (g *Group) writeStored(ctx context.Context, s *Setting, v Value) error {
	skey := g.storageKey(s.Key)
	switch s.Type {
	case TypeBool:
		b, err := v.Bool()
		if err != nil {
			return err
		}
		return g.st.SetBool(ctx, skey, b)
	case TypeInt:
		i, err := v.Int()
		if err != nil {
			return err
		}
		return g.st.SetInt(ctx, skey, i)
	case TypeFloat:
		f, err := v.Float()
		if err != nil {
			return err
		}
		return g.st.SetFloat(ctx, skey, f)
	case TypeString:
		str, err := v.StringVal()
		if err != nil {
			return err
		}
		return g.st.SetString(ctx, skey, str)
	case TypeStringList:
		list, err := v.StringList()
		if err != nil {
			return err
		}
		return g.st.SetStringList(ctx, skey, list)
	}
	return fmt.Errorf("setting %q has unknown type %d", s.Key, s.Type)
}

// Get returns the current value of a setting. The group must be ready.
// Storage-level read problems fall back to the default value: once
// initialized, every write is validated, so the stored value is trusted and a
// low-level failure is not worth surfacing to readers.
func (g *Group) Get(localKey string) (Value, error) {
	if err := g.checkReady(); err != nil {
		return Value{}, err
	}
	s, err := g.setting(localKey)
	if err != nil {
		return Value{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.opTimeout)
	defer cancel()

	v, ok, rerr := g.readStored(ctx, s)
	if rerr != nil || !ok {
		g.logger.Debug("falling back to default on read",
			"key", g.storageKey(localKey), "error", rerr)
		return s.Default, nil
	}
	return v, nil
}

// typed returns the setting after checking its declared type.
func (g *Group) typed(localKey string, want Type) (*Setting, error) {
	if err := g.checkReady(); err != nil {
		return nil, err
	}
	s, err := g.setting(localKey)
	if err != nil {
		return nil, err
	}
	if s.Type != want {
		return nil, fmt.Errorf("setting %q: %w", localKey, &TypeMismatchError{Want: want, Got: s.Type})
	}
	return s, nil
}

func (g *Group) GetBool(localKey string) (bool, error) {
	if _, err := g.typed(localKey, TypeBool); err != nil {
		return false, err
	}
	v, err := g.Get(localKey)
	if err != nil {
		return false, err
	}
	return v.Bool()
}

func (g *Group) GetInt(localKey string) (int64, error) {
	if _, err := g.typed(localKey, TypeInt); err != nil {
		return 0, err
	}
	v, err := g.Get(localKey)
	if err != nil {
		return 0, err
	}
	return v.Int()
}

func (g *Group) GetFloat(localKey string) (float64, error) {
	if _, err := g.typed(localKey, TypeFloat); err != nil {
		return 0, err
	}
	v, err := g.Get(localKey)
	if err != nil {
		return 0, err
	}
	return v.Float()
}

func (g *Group) GetString(localKey string) (string, error) {
	if _, err := g.typed(localKey, TypeString); err != nil {
		return "", err
	}
	v, err := g.Get(localKey)
	if err != nil {
		return "", err
	}
	return v.StringVal()
}

func (g *Group) GetStringList(localKey string) ([]string, error) {
	if _, err := g.typed(localKey, TypeStringList); err != nil {
		return nil, err
	}
	v, err := g.Get(localKey)
	if err != nil {
		return nil, err
	}
	return v.StringList()
}

// SetValue validates and persists a new value, then notifies the setting's
// watchers. Callers racing initialization are queued behind readiness rather
// than rejected. Writes to the same key are serialized FIFO; writes to
// different keys proceed concurrently.
func (g *Group) SetValue(ctx context.Context, localKey string, v Value) error {
	if g.disposed.Load() {
		return fmt.Errorf("%w: group %q", ErrDisposed, g.key)
	}
	if err := g.WaitReady(ctx); err != nil {
		return err
	}
	s, err := g.setting(localKey)
	if err != nil {
		return err
	}
	if !s.UserConfigurable {
		return fmt.Errorf("%w: %q in group %q", ErrNotConfigurable, localKey, g.key)
	}
	if v.Type() != s.Type {
		return fmt.Errorf("setting %q: %w", localKey, &TypeMismatchError{Want: s.Type, Got: v.Type()})
	}
	if err := s.ValidateValue(v); err != nil {
		return err
	}

	release, err := g.locks.acquire(ctx, localKey, g.opTimeout)
	if err != nil {
		return err
	}
	defer release()

	if err := g.writeStored(ctx, s, v); err != nil {
		return fmt.Errorf("persisting %q: %w", g.storageKey(localKey), err)
	}
	s.notify(v)
	return nil
}

func (g *Group) SetBool(ctx context.Context, localKey string, v bool) error {
	return g.SetValue(ctx, localKey, Bool(v))
}

func (g *Group) SetInt(ctx context.Context, localKey string, v int64) error {
	return g.SetValue(ctx, localKey, Int(v))
}

func (g *Group) SetFloat(ctx context.Context, localKey string, v float64) error {
	return g.SetValue(ctx, localKey, Float(v))
}

func (g *Group) SetString(ctx context.Context, localKey string, v string) error {
	return g.SetValue(ctx, localKey, String(v))
}

func (g *Group) SetStringList(ctx context.Context, localKey string, v []string) error {
	return g.SetValue(ctx, localKey, StringList(v))
}

// Reset force-writes the default value, bypassing the configurability check,
// and notifies watchers with the default.
func (g *Group) Reset(ctx context.Context, localKey string) error {
	if g.disposed.Load() {
		return fmt.Errorf("%w: group %q", ErrDisposed, g.key)
	}
	if err := g.WaitReady(ctx); err != nil {
		return err
	}
	s, err := g.setting(localKey)
	if err != nil {
		return err
	}

	release, err := g.locks.acquire(ctx, localKey, g.opTimeout)
	if err != nil {
		return err
	}
	defer release()

	if err := g.writeStored(ctx, s, s.Default); err != nil {
		return fmt.Errorf("resetting %q: %w", g.storageKey(localKey), err)
	}
	s.notify(s.Default)
	return nil
}

// ResetAll resets every setting in the group, concurrently. The first failure
// wins; other resets may still have been applied.
func (g *Group) ResetAll(ctx context.Context) error {
	if g.disposed.Load() {
		return fmt.Errorf("%w: group %q", ErrDisposed, g.key)
	}
	if err := g.WaitReady(ctx); err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, k := range g.order {
		eg.Go(func() error {
			return g.Reset(egCtx, k)
		})
	}
	return eg.Wait()
}

// Dispose closes all watcher channels, fails pending lock waiters, and closes
// a privately-owned store. Disposing twice is a no-op.
func (g *Group) Dispose() {
	if !g.disposed.CompareAndSwap(false, true) {
		return
	}
	g.locks.dispose()
	for _, s := range g.settings {
		s.closeWatchers()
	}
	if g.ownsStore {
		if err := g.st.Close(); err != nil {
			g.logger.Warn("closing group-owned store", "group", g.key, "error", err)
		}
	}
}
