package bus

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DoyleJ11/spellduel/internal/hub"
	"github.com/DoyleJ11/spellduel/internal/protocol"
	"github.com/DoyleJ11/spellduel/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const wait = 500 * time.Millisecond

type inbox struct {
	messages chan protocol.Message
	presence chan PresenceEvent
	statuses chan Status
}

func open(t *testing.T, tr Transport, channel, self string) (*Adapter, inbox) {
	t.Helper()
	a := New(tr, Options{ConnectTimeout: time.Second, ConnectAttempts: 1}, zap.NewNop())
	in := inbox{
		messages: make(chan protocol.Message, 16),
		presence: make(chan PresenceEvent, 16),
		statuses: make(chan Status, 16),
	}
	a.OnMessage(func(_ string, m protocol.Message) { in.messages <- m })
	a.OnPresence(func(ev PresenceEvent) { in.presence <- ev })
	a.SubscribeStatus(func(s Status) { in.statuses <- s })
	require.NoError(t, a.Open(context.Background(), channel, self))
	t.Cleanup(func() { a.Close() })
	return a, in
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(wait):
		t.Fatalf("timed out waiting for %T", *new(T))
		var zero T
		return zero
	}
}

func recvNone[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected %+v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func message(t *testing.T, typ protocol.MessageType, sender string) protocol.Message {
	t.Helper()
	m, err := protocol.NewMessage(typ, sender, time.UnixMilli(1), protocol.HeartbeatPayload{})
	require.NoError(t, err)
	return m
}

func localHub(t *testing.T) LocalTransport {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return LocalTransport{Hub: hub.NewHub(ctx, zap.NewNop())}
}

func TestAdapter_BroadcastAndUnicastFiltering(t *testing.T) {
	tr := localHub(t)
	a, ain := open(t, tr, "challenge:r1", "a")
	_, bin := open(t, tr, "challenge:r1", "b")
	ctx := context.Background()

	require.NoError(t, a.Broadcast(ctx, message(t, protocol.TypeHeartbeat, "a")))
	assert.Equal(t, "a", recv(t, bin.messages).SenderID)
	recvNone(t, ain.messages)

	require.NoError(t, a.SendTo(ctx, "c", message(t, protocol.TypeSync, "a")))
	recvNone(t, bin.messages)

	require.NoError(t, a.SendTo(ctx, "b", message(t, protocol.TypeSync, "a")))
	assert.Equal(t, protocol.TypeSync, recv(t, bin.messages).Type)
}

func TestAdapter_Presence(t *testing.T) {
	tr := localHub(t)
	a, ain := open(t, tr, "challenge:r1", "a")
	_, bin := open(t, tr, "challenge:r1", "b")
	ctx := context.Background()

	require.NoError(t, a.Track(ctx, protocol.PresenceMeta{Nickname: "Ann", IsReady: true}))

	snap := recv(t, ain.presence)
	assert.Equal(t, PresenceSnapshot, snap.Kind)
	assert.Equal(t, "challenge:r1", snap.Channel)
	assert.Contains(t, snap.State, "a")

	join := recv(t, bin.presence)
	assert.Equal(t, PresenceJoin, join.Kind)
	assert.Equal(t, "a", join.Key)
	assert.True(t, join.Meta.IsReady)

	require.NoError(t, a.Untrack(ctx))
	leave := recv(t, bin.presence)
	assert.Equal(t, PresenceLeave, leave.Kind)
	assert.Equal(t, "a", leave.Key)
}

type failingTransport struct{ dials atomic.Int32 }

func (f *failingTransport) Dial(context.Context, string, string) (Conn, error) {
	f.dials.Add(1)
	return nil, errors.New("connection refused")
}

func TestAdapter_BoundedConnectAttempts(t *testing.T) {
	tr := &failingTransport{}
	a := New(tr, Options{ConnectTimeout: 50 * time.Millisecond, ConnectAttempts: 3, RetryDelay: time.Millisecond}, zap.NewNop())
	statuses := make(chan Status, 8)
	a.SubscribeStatus(func(s Status) { statuses <- s })

	err := a.Open(context.Background(), "challenge:r1", "a")
	require.ErrorIs(t, err, ErrCannotConnect)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, int32(3), tr.dials.Load())
	assert.Equal(t, StatusError, a.Status())

	assert.Equal(t, StatusConnecting, recv(t, statuses))
	assert.Equal(t, StatusError, recv(t, statuses))
	assert.ErrorIs(t, a.Broadcast(context.Background(), message(t, protocol.TypeHeartbeat, "a")), ErrNotConnected)
}

func TestAdapter_ResetReportsDisconnectAndRecreateHeals(t *testing.T) {
	tr := localHub(t)
	a, ain := open(t, tr, "challenge:r1", "a")
	_, bin := open(t, tr, "challenge:r1", "b")
	ctx := context.Background()

	assert.Equal(t, StatusConnecting, recv(t, ain.statuses))
	assert.Equal(t, StatusConnected, recv(t, ain.statuses))

	ok, err := tr.Hub.Reset(ctx, "challenge:r1")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, StatusDisconnected, recv(t, ain.statuses))
	assert.Equal(t, StatusDisconnected, a.Status())

	require.NoError(t, a.Recreate(ctx))
	assert.Equal(t, StatusConnecting, recv(t, ain.statuses))
	assert.Equal(t, StatusConnected, recv(t, ain.statuses))

	recv(t, bin.statuses) // connecting
	recv(t, bin.statuses) // connected
	assert.Equal(t, StatusDisconnected, recv(t, bin.statuses))
}

func TestAdapter_RecreateBeforeOpen(t *testing.T) {
	a := New(localHub(t), DefaultOptions(), zap.NewNop())
	assert.ErrorIs(t, a.Recreate(context.Background()), ErrNotOpen)
}

func TestAdapter_CloseReportsDisconnectedOnce(t *testing.T) {
	tr := localHub(t)
	a, ain := open(t, tr, "challenge:r1", "a")
	recv(t, ain.statuses) // connecting
	recv(t, ain.statuses) // connected

	require.NoError(t, a.Close())
	assert.Equal(t, StatusDisconnected, recv(t, ain.statuses))
	require.NoError(t, a.Close())
	recvNone(t, ain.statuses)
	assert.ErrorIs(t, a.Recreate(context.Background()), ErrNotOpen)
}

func TestAdapter_StaleSubscriptionStopsDispatching(t *testing.T) {
	tr := localHub(t)
	a, ain := open(t, tr, "challenge:r1", "a")
	b, bin := open(t, tr, "challenge:r1", "b")
	ctx := context.Background()

	require.NoError(t, b.Recreate(ctx))
	require.NoError(t, a.Broadcast(ctx, message(t, protocol.TypeHeartbeat, "a")))

	// exactly one delivery on the fresh subscription
	recv(t, bin.messages)
	recvNone(t, bin.messages)
	recvNone(t, ain.messages)
}

func TestWebsocketTransport_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := hub.NewHub(ctx, zap.NewNop())
	srv := httptest.NewServer(ws.Handler(h, ws.DefaultOptions(), zap.NewNop()))
	defer srv.Close()

	tr := WebsocketTransport{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}
	a, _ := open(t, tr, "challenge:r1", "a")
	b, bin := open(t, tr, "challenge:r1", "b")

	// b's own snapshot proves the relay has registered it
	require.NoError(t, b.Track(ctx, protocol.PresenceMeta{Nickname: "Bee"}))
	assert.Equal(t, PresenceSnapshot, recv(t, bin.presence).Kind)

	require.NoError(t, a.Track(ctx, protocol.PresenceMeta{Nickname: "Ann"}))
	join := recv(t, bin.presence)
	assert.Equal(t, "a", join.Key)

	require.NoError(t, a.SendTo(ctx, "b", message(t, protocol.TypeSync, "a")))
	got := recv(t, bin.messages)
	assert.Equal(t, protocol.TypeSync, got.Type)
	assert.Equal(t, int64(1), got.Timestamp)
}
