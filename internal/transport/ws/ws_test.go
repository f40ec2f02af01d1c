package ws

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/huddle/internal/transport"
)

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func startHost(t *testing.T, ctx context.Context) (*Host, transport.Group) {
	t.Helper()
	h := NewHost("127.0.0.1:0", "test", transport.Peer{ID: "host-id", DisplayName: "host"},
		WithPassphrase("letmein"),
		WithHandler("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("ok"))
		})),
	)
	require.NoError(t, h.Initialize(ctx))
	t.Cleanup(func() { _ = h.Dispose() })

	group, err := h.CreateGroup(ctx)
	require.NoError(t, err)
	return h, group
}

func TestHost_CreateGroupRequiresInitialize(t *testing.T) {
	h := NewHost("127.0.0.1:0", "test", transport.Peer{ID: "h"})
	_, err := h.CreateGroup(context.Background())
	assert.Error(t, err)
}

func TestHost_GroupDescriptor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h, group := startHost(t, ctx)

	assert.Equal(t, "DIRECT-test", group.SSID)
	assert.Equal(t, "letmein", group.Passphrase)
	assert.Equal(t, h.Addr(), group.HostAddress)

	resp, err := http.Get("http://" + h.Addr() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLink_ScanConnectExchange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h, _ := startHost(t, ctx)

	presence, err := h.PeerPresence(ctx)
	require.NoError(t, err)
	assert.Empty(t, recv(t, presence))

	hostInbound, err := h.InboundText(ctx)
	require.NoError(t, err)

	c := NewClient(transport.Peer{ID: "c1-id", DisplayName: "c1"}, "letmein", []string{h.Addr()})
	require.NoError(t, c.Initialize(ctx))
	t.Cleanup(func() { _ = c.Dispose() })

	found := make(chan []transport.Peer, 4)
	require.NoError(t, c.Scan(ctx, func(peers []transport.Peer) { found <- peers }))
	peers := recv(t, (<-chan []transport.Peer)(found))
	c.StopScan()
	require.Len(t, peers, 1)
	assert.Equal(t, "host-id", peers[0].ID)
	assert.Equal(t, h.Addr(), peers[0].Address)

	clientInbound, err := c.InboundText(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Connect(ctx, peers[0]))

	linked := recv(t, presence)
	require.Len(t, linked, 1)
	assert.Equal(t, "c1-id", linked[0].ID)
	assert.Equal(t, "c1", linked[0].DisplayName)

	require.NoError(t, c.SendText(ctx, "hello host"))
	assert.Equal(t, "hello host", recv(t, hostInbound))

	require.NoError(t, h.BroadcastText(ctx, "hello clients"))
	assert.Equal(t, "hello clients", recv(t, clientInbound))

	require.NoError(t, c.Disconnect(ctx))
	assert.Empty(t, recv(t, presence))
}

func TestLink_WrongPassphraseRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h, _ := startHost(t, ctx)

	c := NewClient(transport.Peer{ID: "c1-id", DisplayName: "c1"}, "wrong", []string{h.Addr()})
	t.Cleanup(func() { _ = c.Dispose() })

	err := c.Connect(ctx, transport.Peer{ID: "host-id", Address: h.Addr()})
	assert.Error(t, err)
	assert.ErrorIs(t, c.SendText(ctx, "x"), transport.ErrNotConnected)
}

func TestClient_InitializeRequiresCandidates(t *testing.T) {
	c := NewClient(transport.Peer{ID: "c"}, "", nil)
	assert.Error(t, c.Initialize(context.Background()))
}
