package engine

import (
	"context"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roach88/huddle/internal/testutil"
	"github.com/roach88/huddle/internal/transport"
	"github.com/roach88/huddle/internal/wire"
)

func ids(values ...string) mapset.Set[string] {
	return mapset.NewThreadUnsafeSet(values...)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyOnChange, p)

	p, err = ParsePolicy("growth")
	require.NoError(t, err)
	assert.Equal(t, PolicyOnGrowth, p)

	_, err = ParsePolicy("always")
	assert.Error(t, err)
}

func TestBroadcaster_ShouldBroadcast(t *testing.T) {
	steps := []struct {
		ids    mapset.Set[string]
		change bool
		growth bool
	}{
		{ids("a"), true, true},
		{ids("a"), false, false},
		{ids("a", "b"), true, true},
		{ids("a"), true, false}, // departure
		{ids("b"), true, false}, // swap, same size
		{ids(), true, false},    // everyone left
		{ids("a", "b", "c"), true, true},
	}

	for _, policy := range []Policy{PolicyOnChange, PolicyOnGrowth} {
		t.Run(string(policy), func(t *testing.T) {
			b := newBroadcaster(nil, nil, policy, zap.NewNop(), nil)
			for i, s := range steps {
				want := s.change
				if policy == PolicyOnGrowth {
					want = s.growth
				}
				assert.Equal(t, want, b.ShouldBroadcast(s.ids), "step %d", i)
				b.synced = s.ids.Clone()
			}
		})
	}
}

func TestBroadcaster_SendsFullSync(t *testing.T) {
	reg := testutil.NewRegistry(t)
	seedActiveEvent(t, reg)
	hub := transport.NewHub(hostPeer, group)
	host := hub.Host()
	ctx := context.Background()
	require.NoError(t, host.Initialize(ctx))
	_, err := host.CreateGroup(ctx)
	require.NoError(t, err)

	client := hub.NewClient(peer("c1"))
	inbound, err := client.InboundText(ctx)
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx, hostPeer))

	b := newBroadcaster(reg, host, PolicyOnChange, zap.NewNop(), nil)
	res := b.AfterPass(ctx, ids("c1-uuid"))
	require.NoError(t, res.Err)
	assert.True(t, res.Triggered)
	assert.True(t, res.Sent)

	msg := wire.Parse(recvText(t, inbound))
	fs, ok := msg.(wire.FullSync)
	require.True(t, ok, "got %T", msg)
	require.Len(t, fs.Snapshot.Events, 1)
	assert.Equal(t, "E1", fs.Snapshot.Events[0].Name)
	assert.Positive(t, res.Bytes)

	res = b.AfterPass(ctx, ids("c1-uuid"))
	assert.False(t, res.Triggered, "unchanged set")
}

func TestBroadcaster_EmptyRegistrySkips(t *testing.T) {
	reg := testutil.NewRegistry(t)
	hub := transport.NewHub(hostPeer, group)

	b := newBroadcaster(reg, hub.Host(), PolicyOnChange, zap.NewNop(), nil)
	res := b.Broadcast(context.Background())

	assert.True(t, res.Triggered)
	assert.False(t, res.Sent)
	assert.NoError(t, res.Err)
}

func TestBroadcaster_SendFailureIsReported(t *testing.T) {
	reg := testutil.NewRegistry(t)
	seedActiveEvent(t, reg)
	host := transport.NewHub(hostPeer, group).Host()
	require.NoError(t, host.Dispose())

	b := newBroadcaster(reg, host, PolicyOnChange, zap.NewNop(), nil)
	res := b.AfterPass(context.Background(), ids("x"))

	assert.True(t, res.Triggered)
	assert.False(t, res.Sent)
	assert.ErrorIs(t, res.Err, transport.ErrDisposed)
	assert.True(t, b.synced.Equal(ids("x")), "synced set advances even when the send fails")
}
