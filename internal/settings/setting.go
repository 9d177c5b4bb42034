package settings

import (
	"fmt"
	"sync"
)

// RecoveryFunc repairs a stored value that failed validation. It returns the
// replacement value and ok=true, or ok=false to decline (the default is used
// instead). A returned error aborts recovery.
type RecoveryFunc func(key string, invalid Value, reason string) (Value, bool, error)

// Setting describes a single typed, validated, observable value. Settings are
// constructed by application code and handed to a Group; the group owns their
// lifecycle from then on.
type Setting struct {
	Key              string
	Type             Type
	Default          Value
	UserConfigurable bool

	// Validator, when set, gates every user write and the stored value
	// during group initialization.
	Validator Validator

	// OnValidationError, when set, is consulted during initialization when
	// the stored value fails validation.
	OnValidationError RecoveryFunc

	mu     sync.Mutex
	subs   []*watcher
	closed bool
}

// NewBoolSetting returns a user-configurable bool setting.
func NewBoolSetting(key string, def bool) *Setting {
	return &Setting{Key: key, Type: TypeBool, Default: Bool(def), UserConfigurable: true}
}

// NewIntSetting returns a user-configurable int setting.
func NewIntSetting(key string, def int64) *Setting {
	return &Setting{Key: key, Type: TypeInt, Default: Int(def), UserConfigurable: true}
}

// NewFloatSetting returns a user-configurable float setting.
func NewFloatSetting(key string, def float64) *Setting {
	return &Setting{Key: key, Type: TypeFloat, Default: Float(def), UserConfigurable: true}
}

// NewStringSetting returns a user-configurable string setting.
func NewStringSetting(key string, def string) *Setting {
	return &Setting{Key: key, Type: TypeString, Default: String(def), UserConfigurable: true}
}

// NewStringListSetting returns a user-configurable string-list setting.
func NewStringListSetting(key string, def []string) *Setting {
	return &Setting{Key: key, Type: TypeStringList, Default: StringList(def), UserConfigurable: true}
}

// WithValidator attaches a validator and returns the setting for chaining.
func (s *Setting) WithValidator(v Validator) *Setting {
	s.Validator = v
	return s
}

// WithRecovery attaches a validation-error recovery handler and returns the
// setting for chaining.
func (s *Setting) WithRecovery(f RecoveryFunc) *Setting {
	s.OnValidationError = f
	return s
}

// Locked marks the setting as not user-configurable and returns it for
// chaining. Locked settings can still be reset and are still initialized.
func (s *Setting) Locked() *Setting {
	s.UserConfigurable = false
	return s
}

// ValidateValue checks v against the setting's validator. It returns nil when
// no validator is configured or the value passes, and a *ValidationError
// otherwise. A panicking validator is reported as a validation failure rather
// than propagated.
func (s *Setting) ValidateValue(v Value) (err error) {
	if s.Validator == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = &ValidationError{
				Key:    s.Key,
				Value:  v,
				Reason: fmt.Sprintf("validator panicked: %v", r),
			}
		}
	}()

	if s.Validator.Validate(v) {
		return nil
	}
	return &ValidationError{Key: s.Key, Value: v, Reason: s.Validator.Description()}
}

// AttemptRecovery invokes the configured recovery handler for a stored value
// that failed validation. ok=false means no handler is configured or the
// handler declined, signaling "use the default". A recovered value is itself
// re-validated; a second failure, a handler error, or a handler panic all
// produce a *RecoveryError.
func (s *Setting) AttemptRecovery(invalid Value, reason string) (recovered Value, ok bool, err error) {
	if s.OnValidationError == nil {
		return Value{}, false, nil
	}

	defer func() {
		if r := recover(); r != nil {
			recovered, ok = Value{}, false
			err = &RecoveryError{
				Key:       s.Key,
				Original:  invalid,
				Reason:    reason,
				Secondary: fmt.Errorf("recovery handler panicked: %v", r),
			}
		}
	}()

	v, handled, herr := s.OnValidationError(s.Key, invalid, reason)
	if herr != nil {
		return Value{}, false, &RecoveryError{
			Key: s.Key, Original: invalid, Reason: reason, Secondary: herr,
		}
	}
	if !handled {
		return Value{}, false, nil
	}

	if verr := s.ValidateValue(v); verr != nil {
		return Value{}, false, &RecoveryError{
			Key: s.Key, Original: invalid, Reason: reason, Secondary: verr,
		}
	}
	return v, true, nil
}

// watcher delivers values to one subscriber, in write order, without dropping
// any. notify appends to an unbounded backlog; a drain goroutine forwards it
// to the outward channel, so a slow consumer delays only its own channel and
// never blocks writers or loses notifications.
type watcher struct {
	mu      sync.Mutex
	backlog []Value
	done    bool
	wake    chan struct{}
	out     chan Value
}

func newWatcher() *watcher {
	w := &watcher{wake: make(chan struct{}, 1), out: make(chan Value, 16)}
	go w.run()
	return w
}

func (w *watcher) push(v Value) {
	w.mu.Lock()
	w.backlog = append(w.backlog, v)
	w.mu.Unlock()
	w.poke()
}

// stop asks the drain goroutine to close the outward channel once the backlog
// is delivered. The owning Setting guarantees no push after stop.
func (w *watcher) stop() {
	w.mu.Lock()
	w.done = true
	w.mu.Unlock()
	w.poke()
}

func (w *watcher) poke() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *watcher) run() {
	for {
		w.mu.Lock()
		pending := w.backlog
		w.backlog = nil
		done := w.done
		w.mu.Unlock()

		for _, v := range pending {
			w.out <- v
		}
		if done {
			close(w.out)
			return
		}
		<-w.wake
	}
}

// Watch returns a channel that receives the new value after every successful
// write to this setting, in write order. Delivery is lossless: values queue
// for a slow consumer instead of being dropped, and writers never block on
// watchers. The channel is closed when the owning group is disposed.
func (s *Setting) Watch() <-chan Value {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		ch := make(chan Value)
		close(ch)
		return ch
	}
	w := newWatcher()
	s.subs = append(s.subs, w)
	return w.out
}

// notify queues v for all watchers. It never blocks and is a no-op when no
// channel has ever been materialized or after close.
func (s *Setting) notify(v Value) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	for _, w := range s.subs {
		w.push(v)
	}
}

// closeWatchers closes all watcher channels after their queued notifications
// are delivered. Later notifies are no-ops.
func (s *Setting) closeWatchers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for _, w := range s.subs {
		w.stop()
	}
	s.subs = nil
}

// Map returns the serialized form of the setting descriptor. The validator
// slot is always null in the current format; validators serialize separately
// via Validator.Map.
func (s *Setting) Map() map[string]any {
	return map[string]any{
		"key":              s.Key,
		"type":             s.Type.String(),
		"defaultValue":     s.Default.Interface(),
		"userConfigurable": s.UserConfigurable,
		"validator":        nil,
	}
}

// SettingFromMap reconstructs a setting descriptor from its serialized form.
// The validator slot is ignored (always null in the current format).
func SettingFromMap(m map[string]any) (*Setting, error) {
	key, ok := m["key"].(string)
	if !ok || key == "" {
		return nil, fmt.Errorf("setting map requires a non-empty \"key\"")
	}
	typeName, ok := m["type"].(string)
	if !ok {
		return nil, fmt.Errorf("setting %q: map requires a \"type\"", key)
	}
	t, err := ParseType(typeName)
	if err != nil {
		return nil, fmt.Errorf("setting %q: %w", key, err)
	}
	def, err := FromInterface(t, m["defaultValue"])
	if err != nil {
		return nil, fmt.Errorf("setting %q: default value: %w", key, err)
	}
	configurable := true
	if v, ok := m["userConfigurable"].(bool); ok {
		configurable = v
	}
	return &Setting{
		Key:              key,
		Type:             t,
		Default:          def,
		UserConfigurable: configurable,
	}, nil
}
