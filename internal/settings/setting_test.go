package settings

import (
	"errors"
	"fmt"
	"testing"
)

func TestSettingValidateValue(t *testing.T) {
	r, _ := NewRangeValidator(MinBound(0), MaxBound(10))
	s := NewIntSetting("volume", 5).WithValidator(r)

	if err := s.ValidateValue(Int(7)); err != nil {
		t.Errorf("valid value rejected: %v", err)
	}

	err := s.ValidateValue(Int(50))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if verr.Key != "volume" {
		t.Errorf("Key = %q, want volume", verr.Key)
	}

	plain := NewIntSetting("anything", 0)
	if err := plain.ValidateValue(Int(99999)); err != nil {
		t.Errorf("setting without validator should accept everything: %v", err)
	}
}

type panicValidator struct{}

func (panicValidator) Validate(Value) bool { panic("boom") }
func (panicValidator) Description() string { return "panics" }
func (panicValidator) Map() map[string]any { return map[string]any{"type": "panic"} }

func TestSettingValidatorPanicIsFailure(t *testing.T) {
	s := NewIntSetting("x", 0).WithValidator(panicValidator{})
	err := s.ValidateValue(Int(1))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("panicking validator should yield *ValidationError, got %v", err)
	}
}

func TestAttemptRecovery(t *testing.T) {
	r, _ := NewRangeValidator(MinBound(0), MaxBound(10))

	t.Run("no handler", func(t *testing.T) {
		s := NewIntSetting("x", 0).WithValidator(r)
		_, ok, err := s.AttemptRecovery(Int(50), "out of range")
		if ok || err != nil {
			t.Errorf("got ok=%t err=%v, want ok=false err=nil", ok, err)
		}
	})

	t.Run("handler clamps", func(t *testing.T) {
		s := NewIntSetting("x", 0).WithValidator(r).WithRecovery(
			func(key string, invalid Value, reason string) (Value, bool, error) {
				return Int(10), true, nil
			})
		v, ok, err := s.AttemptRecovery(Int(50), "out of range")
		if err != nil || !ok {
			t.Fatalf("got ok=%t err=%v", ok, err)
		}
		if n, _ := v.Int(); n != 10 {
			t.Errorf("recovered = %d, want 10", n)
		}
	})

	t.Run("handler declines", func(t *testing.T) {
		s := NewIntSetting("x", 0).WithValidator(r).WithRecovery(
			func(string, Value, string) (Value, bool, error) {
				return Value{}, false, nil
			})
		_, ok, err := s.AttemptRecovery(Int(50), "out of range")
		if ok || err != nil {
			t.Errorf("got ok=%t err=%v, want decline", ok, err)
		}
	})

	t.Run("recovered value still invalid", func(t *testing.T) {
		s := NewIntSetting("x", 0).WithValidator(r).WithRecovery(
			func(string, Value, string) (Value, bool, error) {
				return Int(99), true, nil
			})
		_, _, err := s.AttemptRecovery(Int(50), "out of range")
		var rerr *RecoveryError
		if !errors.As(err, &rerr) {
			t.Fatalf("error = %v, want *RecoveryError", err)
		}
		var verr *ValidationError
		if !errors.As(rerr.Secondary, &verr) {
			t.Errorf("Secondary = %v, want *ValidationError", rerr.Secondary)
		}
	})

	t.Run("handler errors", func(t *testing.T) {
		cause := fmt.Errorf("backend down")
		s := NewIntSetting("x", 0).WithValidator(r).WithRecovery(
			func(string, Value, string) (Value, bool, error) {
				return Value{}, false, cause
			})
		_, _, err := s.AttemptRecovery(Int(50), "out of range")
		if !errors.Is(err, cause) {
			t.Errorf("error = %v, should wrap the handler error", err)
		}
	})

	t.Run("handler panics", func(t *testing.T) {
		s := NewIntSetting("x", 0).WithValidator(r).WithRecovery(
			func(string, Value, string) (Value, bool, error) {
				panic("handler bug")
			})
		_, ok, err := s.AttemptRecovery(Int(50), "out of range")
		var rerr *RecoveryError
		if ok || !errors.As(err, &rerr) {
			t.Errorf("got ok=%t err=%v, want *RecoveryError", ok, err)
		}
	})
}

func TestWatchAndNotify(t *testing.T) {
	s := NewIntSetting("x", 0)
	ch := s.Watch()

	s.notify(Int(1))
	first := <-ch
	if n, _ := first.Int(); n != 1 {
		t.Errorf("got %d, want 1", n)
	}

	// Bursts are delivered completely and in order, however large; a watcher
	// that has not drained yet loses nothing.
	const burst = 100
	for i := 0; i < burst; i++ {
		s.notify(Int(int64(i)))
	}
	for i := 0; i < burst; i++ {
		v := <-ch
		if n, _ := v.Int(); n != int64(i) {
			t.Fatalf("notification %d carried %d", i, n)
		}
	}

	s.closeWatchers()
	s.notify(Int(7)) // no-op after close

	if _, open := <-ch; open {
		t.Error("channel should be closed after closeWatchers")
	}

	late := s.Watch()
	if _, open := <-late; open {
		t.Error("Watch after close should return a closed channel")
	}
}

func TestSettingMapRoundTrip(t *testing.T) {
	s := NewStringListSetting("tags", []string{"a", "b"}).Locked()
	m := s.Map()
	if m["validator"] != nil {
		t.Errorf("validator slot = %v, want nil", m["validator"])
	}

	back, err := SettingFromMap(m)
	if err != nil {
		t.Fatalf("SettingFromMap error: %v", err)
	}
	if back.Key != "tags" || back.Type != TypeStringList || back.UserConfigurable {
		t.Errorf("round trip lost fields: %+v", back)
	}
	if !back.Default.Equal(s.Default) {
		t.Errorf("default changed: %s vs %s", back.Default, s.Default)
	}
}

func TestSettingFromMapErrors(t *testing.T) {
	if _, err := SettingFromMap(map[string]any{"type": "bool"}); err == nil {
		t.Error("missing key should be rejected")
	}
	if _, err := SettingFromMap(map[string]any{"key": "x"}); err == nil {
		t.Error("missing type should be rejected")
	}
	if _, err := SettingFromMap(map[string]any{
		"key": "x", "type": "int", "defaultValue": "nope",
	}); err == nil {
		t.Error("mistyped default should be rejected")
	}
}
