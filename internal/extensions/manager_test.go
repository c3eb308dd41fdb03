package extensions

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeLoaded(name string) Loaded {
	return Loaded{
		Path: name + ".so",
		Info: Info{Name: name},
		Vtable: Vtable{
			QueryInfo:        func() Info { return Info{Name: name} },
			GetRuntimeConfig: func() RuntimeConfigReservations { return nil },
			Startup:          func(ctx context.Context) error { return nil },
			Tick:             func(ctx context.Context) error { return nil },
			Suspend:          func(ctx context.Context) error { return nil },
			Resume:           func(ctx context.Context) error { return nil },
			Shutdown:         func(ctx context.Context) error { return nil },
		},
	}
}

func TestManagerStartupRunsAllExtensions(t *testing.T) {
	var started int32
	a := fakeLoaded("a")
	a.Vtable.Startup = func(ctx context.Context) error { atomic.AddInt32(&started, 1); return nil }
	b := fakeLoaded("b")
	b.Vtable.Startup = func(ctx context.Context) error { atomic.AddInt32(&started, 1); return nil }

	m := NewManager([]Loaded{a, b})
	require.NoError(t, m.Startup(context.Background()))
	assert.Equal(t, int32(2), started)
}

func TestManagerStartupPropagatesFirstError(t *testing.T) {
	boom := errors.New("boom")
	a := fakeLoaded("a")
	a.Vtable.Startup = func(ctx context.Context) error { return boom }

	m := NewManager([]Loaded{a, fakeLoaded("b")})
	err := m.Startup(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestManagerTickAllRunsInOrder(t *testing.T) {
	var order []string
	a := fakeLoaded("a")
	a.Vtable.Tick = func(ctx context.Context) error { order = append(order, "a"); return nil }
	b := fakeLoaded("b")
	b.Vtable.Tick = func(ctx context.Context) error { order = append(order, "b"); return nil }

	m := NewManager([]Loaded{a, b})
	require.NoError(t, m.TickAll(context.Background()))
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestManagerShutdownCollectsAllErrorsWithoutShortCircuiting(t *testing.T) {
	boomA := errors.New("a failed")
	boomB := errors.New("b failed")

	a := fakeLoaded("a")
	a.Vtable.Shutdown = func(ctx context.Context) error { return boomA }
	b := fakeLoaded("b")
	b.Vtable.Shutdown = func(ctx context.Context) error { return boomB }
	c := fakeLoaded("c")

	m := NewManager([]Loaded{a, b, c})
	errs := m.Shutdown(context.Background())
	assert.Len(t, errs, 2, "both failing extensions must be reported, and the clean one excluded")
}
