package store

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s := OpenSQLite(t.TempDir())
	if err := s.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	if err := s.SetBool(ctx, "muted", true); err != nil {
		t.Fatal(err)
	}
	if err := s.SetInt(ctx, "volume", -12); err != nil {
		t.Fatal(err)
	}
	if err := s.SetFloat(ctx, "gain", 0.125); err != nil {
		t.Fatal(err)
	}
	if err := s.SetString(ctx, "theme", "dark"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetStringList(ctx, "tags", []string{"a", "b, with comma"}); err != nil {
		t.Fatal(err)
	}

	b, ok, err := s.GetBool(ctx, "muted")
	if err != nil || !ok || !b {
		t.Errorf("GetBool = %t, %t, %v", b, ok, err)
	}
	i, ok, err := s.GetInt(ctx, "volume")
	if err != nil || !ok || i != -12 {
		t.Errorf("GetInt = %d, %t, %v", i, ok, err)
	}
	f, ok, err := s.GetFloat(ctx, "gain")
	if err != nil || !ok || f != 0.125 {
		t.Errorf("GetFloat = %g, %t, %v", f, ok, err)
	}
	str, ok, err := s.GetString(ctx, "theme")
	if err != nil || !ok || str != "dark" {
		t.Errorf("GetString = %q, %t, %v", str, ok, err)
	}
	list, ok, err := s.GetStringList(ctx, "tags")
	if err != nil || !ok || len(list) != 2 || list[1] != "b, with comma" {
		t.Errorf("GetStringList = %v, %t, %v", list, ok, err)
	}
}

func TestSQLiteStoreFloatPrecision(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	for _, v := range []float64{0, math.Pi, -1e300, math.SmallestNonzeroFloat64} {
		if err := s.SetFloat(ctx, "f", v); err != nil {
			t.Fatal(err)
		}
		got, _, err := s.GetFloat(ctx, "f")
		if err != nil {
			t.Fatal(err)
		}
		if got != v {
			t.Errorf("float %g round-tripped as %g", v, got)
		}
	}
}

func TestSQLiteStoreAbsentAndMismatch(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	if _, ok, err := s.GetInt(ctx, "absent"); ok || err != nil {
		t.Errorf("absent key: ok=%t err=%v", ok, err)
	}

	if err := s.SetString(ctx, "k", "text"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.GetInt(ctx, "k"); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("cross-type read error = %v, want ErrTypeMismatch", err)
	}
}

func TestSQLiteStoreUpsertReplacesType(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	if err := s.SetInt(ctx, "k", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.SetBool(ctx, "k", true); err != nil {
		t.Fatal(err)
	}
	b, ok, err := s.GetBool(ctx, "k")
	if err != nil || !ok || !b {
		t.Errorf("GetBool after type change = %t, %t, %v", b, ok, err)
	}
}

func TestSQLiteStoreRemoveAndClear(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	if err := s.SetInt(ctx, "a", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.SetInt(ctx, "b", 2); err != nil {
		t.Fatal(err)
	}

	if err := s.Remove(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if exists, _ := s.Contains(ctx, "a"); exists {
		t.Error("key survived Remove")
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if exists, _ := s.Contains(ctx, "b"); exists {
		t.Error("key survived Clear")
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := OpenSQLite(dir)
	if err := s.WaitReady(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.SetString(ctx, "theme", "dark"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2 := OpenSQLite(dir)
	if err := s2.WaitReady(ctx); err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	v, ok, err := s2.GetString(ctx, "theme")
	if err != nil || !ok || v != "dark" {
		t.Errorf("after reopen: %q, %t, %v", v, ok, err)
	}
}

func TestSQLiteStoreOpenFailureSurfacesViaWaitReady(t *testing.T) {
	// A regular file where the data directory should be makes MkdirAll fail.
	blocker := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := OpenSQLite(filepath.Join(blocker, "sub"))
	defer s.Close()
	if err := s.WaitReady(context.Background()); err == nil {
		t.Error("WaitReady should report the open failure")
	}
}

// Every operation waits on readiness itself, so skipping WaitReady against a
// store that failed to open returns the open error instead of panicking.
func TestSQLiteStoreGuardsUnreadyAccess(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	s := OpenSQLite(filepath.Join(blocker, "sub"))
	defer s.Close()

	if _, err := s.Contains(ctx, "k"); err == nil {
		t.Error("Contains on a failed store should error")
	}
	if _, _, err := s.GetInt(ctx, "k"); err == nil {
		t.Error("GetInt on a failed store should error")
	}
	if err := s.SetBool(ctx, "k", true); err == nil {
		t.Error("SetBool on a failed store should error")
	}
	if err := s.Remove(ctx, "k"); err == nil {
		t.Error("Remove on a failed store should error")
	}
	if err := s.Clear(ctx); err == nil {
		t.Error("Clear on a failed store should error")
	}
}
