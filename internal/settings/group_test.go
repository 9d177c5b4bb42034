package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mvail/prefd/internal/store"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func readyGroup(t *testing.T, st store.Store, items []*Setting, opts ...GroupOption) *Group {
	t.Helper()
	g, err := NewGroup("app", items, st, opts...)
	if err != nil {
		t.Fatalf("NewGroup error: %v", err)
	}
	if err := g.WaitReady(testCtx(t)); err != nil {
		t.Fatalf("WaitReady error: %v", err)
	}
	return g
}

func TestNewGroupRejectsDuplicates(t *testing.T) {
	st := store.NewMemoryStore()
	_, err := NewGroup("app", []*Setting{
		NewIntSetting("volume", 5),
		NewIntSetting("volume", 7),
	}, st)
	if err == nil {
		t.Fatal("duplicate keys should fail construction")
	}
}

func TestGroupInitWritesDefaults(t *testing.T) {
	st := store.NewMemoryStore()
	g := readyGroup(t, st, []*Setting{
		NewIntSetting("volume", 5),
		NewBoolSetting("muted", false),
	})
	defer g.Dispose()

	v, ok, err := st.GetInt(testCtx(t), "app.volume")
	if err != nil || !ok {
		t.Fatalf("default not persisted: ok=%t err=%v", ok, err)
	}
	if v != 5 {
		t.Errorf("stored default = %d, want 5", v)
	}
}

func TestGroupInitKeepsValidStoredValue(t *testing.T) {
	st := store.NewMemoryStore()
	r, _ := NewRangeValidator(MinBound(0), MaxBound(10))
	if err := st.SetInt(context.Background(), "app.volume", 8); err != nil {
		t.Fatal(err)
	}

	g := readyGroup(t, st, []*Setting{NewIntSetting("volume", 5).WithValidator(r)})
	defer g.Dispose()

	n, err := g.GetInt("volume")
	if err != nil {
		t.Fatalf("GetInt error: %v", err)
	}
	if n != 8 {
		t.Errorf("valid stored value replaced: got %d, want 8", n)
	}
}

func TestGroupInitRecoversInvalidValue(t *testing.T) {
	st := store.NewMemoryStore()
	r, _ := NewRangeValidator(MinBound(0), MaxBound(10))
	if err := st.SetInt(context.Background(), "app.volume", 50); err != nil {
		t.Fatal(err)
	}

	clamp := func(key string, invalid Value, reason string) (Value, bool, error) {
		return Int(5), true, nil
	}
	g := readyGroup(t, st, []*Setting{
		NewIntSetting("volume", 0).WithValidator(r).WithRecovery(clamp),
	})
	defer g.Dispose()

	n, err := g.GetInt("volume")
	if err != nil {
		t.Fatalf("GetInt error: %v", err)
	}
	if n != 5 {
		t.Errorf("got %d, want recovered 5", n)
	}
	stored, _, _ := st.GetInt(testCtx(t), "app.volume")
	if stored != 5 {
		t.Errorf("recovered value not persisted: stored %d", stored)
	}
}

func TestGroupInitDefaultsWhenRecoveryFails(t *testing.T) {
	st := store.NewMemoryStore()
	r, _ := NewRangeValidator(MinBound(0), MaxBound(10))
	if err := st.SetInt(context.Background(), "app.volume", 50); err != nil {
		t.Fatal(err)
	}

	bad := func(string, Value, string) (Value, bool, error) {
		return Int(99), true, nil // still out of range
	}
	g := readyGroup(t, st, []*Setting{
		NewIntSetting("volume", 3).WithValidator(r).WithRecovery(bad),
	})
	defer g.Dispose()

	n, _ := g.GetInt("volume")
	if n != 3 {
		t.Errorf("got %d, want default 3 after failed recovery", n)
	}
}

func TestGroupInitDefaultsOnTypeDrift(t *testing.T) {
	st := store.NewMemoryStore()
	// The key was written under a different type by an older build.
	if err := st.SetString(context.Background(), "app.volume", "loud"); err != nil {
		t.Fatal(err)
	}

	g := readyGroup(t, st, []*Setting{NewIntSetting("volume", 5)})
	defer g.Dispose()

	n, err := g.GetInt("volume")
	if err != nil {
		t.Fatalf("GetInt error: %v", err)
	}
	if n != 5 {
		t.Errorf("got %d, want default 5", n)
	}
}

func TestGroupFailsWhenStoreNeverReady(t *testing.T) {
	st := store.NewMemoryStore(store.WithReadyError(fmt.Errorf("disk gone")))
	g, err := NewGroup("app", []*Setting{NewIntSetting("volume", 5)}, st)
	if err != nil {
		t.Fatal(err)
	}
	defer g.Dispose()

	if err := g.WaitReady(testCtx(t)); err == nil {
		t.Fatal("WaitReady should report the store failure")
	}
	if g.Ready() {
		t.Error("failed group must not report ready")
	}
	if _, err := g.Get("volume"); err == nil {
		t.Error("reads on a failed group must error")
	}
}

func TestGroupFailsWhenInitWriteFails(t *testing.T) {
	st := store.NewMemoryStore()
	st.FailWrites(fmt.Errorf("readonly filesystem"))

	g, err := NewGroup("app", []*Setting{NewIntSetting("volume", 5)}, st)
	if err != nil {
		t.Fatal(err)
	}
	defer g.Dispose()

	if err := g.WaitReady(testCtx(t)); err == nil {
		t.Fatal("initialization write failure should fail the group")
	}
}

func TestGroupReadFallsBackToDefault(t *testing.T) {
	st := store.NewMemoryStore()
	g := readyGroup(t, st, []*Setting{NewIntSetting("volume", 50)})
	defer g.Dispose()

	// Simulate storage loss after initialization.
	if err := st.Remove(context.Background(), "app.volume"); err != nil {
		t.Fatal(err)
	}

	n, err := g.GetInt("volume")
	if err != nil {
		t.Fatalf("GetInt error: %v", err)
	}
	if n != 50 {
		t.Errorf("got %d, want default 50", n)
	}
}

func TestGroupTypedAccessorsCheckDeclaredType(t *testing.T) {
	st := store.NewMemoryStore()
	g := readyGroup(t, st, []*Setting{NewIntSetting("volume", 5)})
	defer g.Dispose()

	_, err := g.GetString("volume")
	var tm *TypeMismatchError
	if !errors.As(err, &tm) {
		t.Fatalf("error = %v, want *TypeMismatchError", err)
	}

	if err := g.SetValue(testCtx(t), "volume", String("loud")); err == nil {
		t.Error("write with wrong value type should fail")
	}
}

func TestGroupSetValidatesAndNotifies(t *testing.T) {
	st := store.NewMemoryStore()
	r, _ := NewRangeValidator(MinBound(0), MaxBound(10))
	s := NewIntSetting("volume", 5).WithValidator(r)
	g := readyGroup(t, st, []*Setting{s})
	defer g.Dispose()

	ch := s.Watch()

	if err := g.SetInt(testCtx(t), "volume", 50); err == nil {
		t.Fatal("out-of-range write should fail")
	}
	select {
	case <-ch:
		t.Fatal("rejected write must not notify")
	default:
	}

	if err := g.SetInt(testCtx(t), "volume", 7); err != nil {
		t.Fatalf("SetInt error: %v", err)
	}
	select {
	case v := <-ch:
		if n, _ := v.Int(); n != 7 {
			t.Errorf("notified %d, want 7", n)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification for accepted write")
	}
}

func TestGroupSetRejectsUnknownAndLocked(t *testing.T) {
	st := store.NewMemoryStore()
	g := readyGroup(t, st, []*Setting{
		NewIntSetting("volume", 5),
		NewStringSetting("build", "1.0").Locked(),
	})
	defer g.Dispose()

	if err := g.SetInt(testCtx(t), "nope", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if err := g.SetString(testCtx(t), "build", "2.0"); !errors.Is(err, ErrNotConfigurable) {
		t.Errorf("error = %v, want ErrNotConfigurable", err)
	}

	// Reset bypasses the configurability gate.
	if err := g.Reset(testCtx(t), "build"); err != nil {
		t.Errorf("Reset of locked setting should succeed: %v", err)
	}
}

func TestGroupSetQueuesBehindReadiness(t *testing.T) {
	st := store.NewMemoryStore(store.WithReadyDelay(50 * time.Millisecond))
	g, err := NewGroup("app", []*Setting{NewIntSetting("volume", 5)}, st)
	if err != nil {
		t.Fatal(err)
	}
	defer g.Dispose()

	// Issued before the store is ready; must wait, not fail.
	if err := g.SetInt(testCtx(t), "volume", 9); err != nil {
		t.Fatalf("SetInt during init error: %v", err)
	}
	n, _ := g.GetInt("volume")
	if n != 9 {
		t.Errorf("got %d, want 9", n)
	}
}

func TestGroupConcurrentSetsAllNotify(t *testing.T) {
	st := store.NewMemoryStore()
	s := NewIntSetting("counter", 0)
	g := readyGroup(t, st, []*Setting{s})
	defer g.Dispose()

	// Well past any internal channel buffering: every write must surface.
	const writers = 64
	ch := s.Watch()

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.SetInt(testCtx(t), "counter", int64(i)); err != nil {
				t.Errorf("SetInt error: %v", err)
			}
		}()
	}
	wg.Wait()

	for i := 0; i < writers; i++ {
		select {
		case _, open := <-ch:
			if !open {
				t.Fatalf("channel closed after %d notifications, want %d", i, writers)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d notifications, want %d", i, writers)
		}
	}

	// Disposing closes the channel; anything still readable before the close
	// would be an excess notification.
	g.Dispose()
	if _, open := <-ch; open {
		t.Error("more notifications than writes")
	}
}

func TestGroupLockTimeout(t *testing.T) {
	st := store.NewMemoryStore()
	g := readyGroup(t, st, []*Setting{NewIntSetting("volume", 5)},
		WithOpTimeout(30*time.Millisecond))
	defer g.Dispose()

	release, err := g.locks.acquire(testCtx(t), "volume", time.Second)
	if err != nil {
		t.Fatal(err)
	}

	err = g.SetInt(testCtx(t), "volume", 7)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("error = %v, want ErrLockTimeout", err)
	}

	// The failed attempt must not leave the lock poisoned.
	release()
	if err := g.SetInt(testCtx(t), "volume", 7); err != nil {
		t.Fatalf("write after release error: %v", err)
	}
}

func TestGroupResetAll(t *testing.T) {
	st := store.NewMemoryStore()
	g := readyGroup(t, st, []*Setting{
		NewIntSetting("volume", 5),
		NewStringSetting("theme", "light"),
	})
	defer g.Dispose()

	ctx := testCtx(t)
	if err := g.SetInt(ctx, "volume", 9); err != nil {
		t.Fatal(err)
	}
	if err := g.SetString(ctx, "theme", "dark"); err != nil {
		t.Fatal(err)
	}

	if err := g.ResetAll(ctx); err != nil {
		t.Fatalf("ResetAll error: %v", err)
	}
	if n, _ := g.GetInt("volume"); n != 5 {
		t.Errorf("volume = %d, want 5", n)
	}
	if s, _ := g.GetString("theme"); s != "light" {
		t.Errorf("theme = %q, want light", s)
	}
}

func TestGroupDispose(t *testing.T) {
	st := store.NewMemoryStore()
	s := NewIntSetting("volume", 5)
	g := readyGroup(t, st, []*Setting{s})

	ch := s.Watch()
	g.Dispose()
	g.Dispose() // idempotent

	if _, open := <-ch; open {
		t.Error("watcher channel should be closed on dispose")
	}
	if _, err := g.Get("volume"); !errors.Is(err, ErrDisposed) {
		t.Errorf("Get error = %v, want ErrDisposed", err)
	}
	if err := g.SetInt(context.Background(), "volume", 1); !errors.Is(err, ErrDisposed) {
		t.Errorf("Set error = %v, want ErrDisposed", err)
	}
}

func TestGroupDisposeFailsLockWaiters(t *testing.T) {
	st := store.NewMemoryStore()
	g := readyGroup(t, st, []*Setting{NewIntSetting("volume", 5)})

	release, err := g.locks.acquire(testCtx(t), "volume", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	errCh := make(chan error, 1)
	go func() {
		_, err := g.locks.acquire(context.Background(), "volume", 5*time.Second)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond) // let the waiter queue up
	g.Dispose()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrDisposed) {
			t.Errorf("waiter error = %v, want ErrDisposed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending waiter not released by dispose")
	}
}
