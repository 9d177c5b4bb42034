package settings

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/mvail/prefd/internal/store"
)

// GroupConfig declares one group for InitGlobal.
type GroupConfig struct {
	Key   string
	Items []*Setting
}

var global atomic.Pointer[Manager]

// InitGlobal builds the process-wide manager over st from the given group
// declarations and waits for it to become ready. It fails if a global manager
// is already installed.
func InitGlobal(ctx context.Context, st store.Store, groups []GroupConfig, opts ...ManagerOption) (*Manager, error) {
	m := NewManager(st, opts...)
	for _, gc := range groups {
		g, err := NewGroup(gc.Key, gc.Items, st)
		if err != nil {
			m.Dispose()
			return nil, err
		}
		if err := m.Register(g); err != nil {
			m.Dispose()
			return nil, err
		}
	}

	if !global.CompareAndSwap(nil, m) {
		m.Dispose()
		return nil, fmt.Errorf("global settings manager already initialized")
	}

	if err := m.Init(ctx); err != nil {
		TeardownGlobal()
		return nil, err
	}
	return m, nil
}

// Global returns the process-wide manager, or an error if InitGlobal has not
// run.
func Global() (*Manager, error) {
	m := global.Load()
	if m == nil {
		return nil, fmt.Errorf("%w: global settings manager not initialized", ErrNotReady)
	}
	return m, nil
}

// TeardownGlobal disposes and uninstalls the global manager. Safe to call
// when none is installed.
func TeardownGlobal() {
	if m := global.Swap(nil); m != nil {
		m.Dispose()
	}
}
