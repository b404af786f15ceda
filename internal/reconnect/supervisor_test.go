package reconnect

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DoyleJ11/spellduel/internal/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBus struct {
	recreates atomic.Int32
	err       error
}

func (f *fakeBus) Recreate(context.Context) error {
	f.recreates.Add(1)
	return f.err
}

type fakeAnnouncer struct{ calls atomic.Int32 }

func (f *fakeAnnouncer) Reannounce(context.Context) error {
	f.calls.Add(1)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func opts(c *clock) Options {
	return Options{
		Debounce:            20 * time.Millisecond,
		BackgroundThreshold: 30 * time.Second,
		MaxAttempts:         3,
		RetryDelay:          time.Millisecond,
		Now:                 c.Now,
	}
}

func newSupervisor(t *testing.T, b Recreator, a Announcer) (*Supervisor, *clock) {
	t.Helper()
	c := &clock{now: time.Unix(1000, 0)}
	s := New(context.Background(), b, a, opts(c), zap.NewNop())
	t.Cleanup(s.Close)
	return s, c
}

func TestDebounceCoalescesStorm(t *testing.T) {
	b, a := &fakeBus{}, &fakeAnnouncer{}
	s, _ := newSupervisor(t, b, a)

	for i := 0; i < 10; i++ {
		s.BusStatus(bus.StatusDisconnected)
		s.SetOnline(false)
		s.SetOnline(true)
	}

	require.Eventually(t, func() bool { return a.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), b.recreates.Load())
	assert.Equal(t, int32(1), a.calls.Load())
}

func TestShortBackgroundTriggersNothing(t *testing.T) {
	b, a := &fakeBus{}, &fakeAnnouncer{}
	s, c := newSupervisor(t, b, a)

	s.SetVisible(false)
	time.Sleep(10 * time.Millisecond)
	c.Advance(5 * time.Second)
	s.SetVisible(true)

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, b.recreates.Load())
}

func TestLongBackgroundTriggersReconnect(t *testing.T) {
	b, a := &fakeBus{}, &fakeAnnouncer{}
	s, c := newSupervisor(t, b, a)

	s.SetVisible(false)
	time.Sleep(10 * time.Millisecond)
	c.Advance(time.Minute)
	s.SetVisible(true)

	require.Eventually(t, func() bool { return a.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), b.recreates.Load())
}

func TestOfflineDefersUntilNetworkReturns(t *testing.T) {
	b, a := &fakeBus{}, &fakeAnnouncer{}
	s, _ := newSupervisor(t, b, a)

	s.SetOnline(false)
	s.BusStatus(bus.StatusDisconnected)
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, b.recreates.Load())

	s.SetOnline(true)
	require.Eventually(t, func() bool { return a.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestExhaustionSurfacesTerminalError(t *testing.T) {
	b := &fakeBus{err: bus.ErrCannotConnect}
	a := &fakeAnnouncer{}
	s, _ := newSupervisor(t, b, a)

	s.BusStatus(bus.StatusDisconnected)

	select {
	case err := <-s.Errors():
		assert.ErrorIs(t, err, ErrExhausted)
		assert.ErrorIs(t, err, bus.ErrCannotConnect)
	case <-time.After(time.Second):
		t.Fatalf("no terminal error")
	}
	assert.Equal(t, int32(3), b.recreates.Load())
	assert.Zero(t, a.calls.Load())
}

func TestClosedBusStopsQuietly(t *testing.T) {
	b := &fakeBus{err: bus.ErrNotOpen}
	s, _ := newSupervisor(t, b, &fakeAnnouncer{})

	s.BusStatus(bus.StatusDisconnected)
	require.Eventually(t, func() bool { return b.recreates.Load() == 1 }, time.Second, 5*time.Millisecond)

	select {
	case err := <-s.Errors():
		t.Fatalf("unexpected terminal error: %v", err)
	case <-time.After(60 * time.Millisecond):
	}
}
