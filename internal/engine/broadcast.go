package engine

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/roach88/huddle/internal/metrics"
	"github.com/roach88/huddle/internal/registry"
	"github.com/roach88/huddle/internal/transport"
	"github.com/roach88/huddle/internal/wire"
)

// Policy decides whether a reconciliation pass triggers a FULL_SYNC.
type Policy string

const (
	// PolicyOnChange broadcasts whenever the peer-id set differs from the
	// last pass.
	PolicyOnChange Policy = "change"
	// PolicyOnGrowth broadcasts only when the peer count grew. Departures
	// reach clients with the next growth or resync.
	PolicyOnGrowth Policy = "growth"
)

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyOnChange, "":
		return PolicyOnChange, nil
	case PolicyOnGrowth:
		return PolicyOnGrowth, nil
	default:
		return "", fmt.Errorf("unknown broadcast policy %q", s)
	}
}

// BroadcastResult describes what the broadcaster did after a unit.
type BroadcastResult struct {
	Triggered bool
	Sent      bool
	Bytes     int
	Err       error
}

// Broadcaster pushes registry snapshots to every connected client.
type Broadcaster struct {
	reg     *registry.Registry
	tx      transport.Transport
	policy  Policy
	synced  mapset.Set[string]
	log     *zap.Logger
	metrics *metrics.Metrics
}

func newBroadcaster(reg *registry.Registry, tx transport.Transport, policy Policy, log *zap.Logger, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		reg:     reg,
		tx:      tx,
		policy:  policy,
		synced:  mapset.NewThreadUnsafeSet[string](),
		log:     log,
		metrics: m,
	}
}

// ShouldBroadcast applies the policy to the id set of a finished pass.
func (b *Broadcaster) ShouldBroadcast(ids mapset.Set[string]) bool {
	if b.policy == PolicyOnGrowth {
		return ids.Cardinality() > b.synced.Cardinality()
	}
	return !ids.Equal(b.synced)
}

// AfterPass broadcasts if the policy says so, then records ids as the
// synced set whether or not anything was sent.
func (b *Broadcaster) AfterPass(ctx context.Context, ids mapset.Set[string]) BroadcastResult {
	trigger := b.ShouldBroadcast(ids)
	b.synced = ids.Clone()
	if !trigger {
		return BroadcastResult{}
	}
	return b.Broadcast(ctx)
}

// Broadcast exports the registry and sends it as one FULL_SYNC. Failures
// are logged and counted; nothing is retried.
func (b *Broadcaster) Broadcast(ctx context.Context) BroadcastResult {
	res := BroadcastResult{Triggered: true}

	snap, err := b.reg.Export(ctx)
	if err != nil {
		res.Err = fmt.Errorf("export: %w", err)
		b.fail(res.Err)
		return res
	}
	if snap == nil {
		b.log.Debug("broadcast skipped: registry empty")
		b.metrics.ObserveBroadcast(metrics.BroadcastSkipped, 0)
		return res
	}

	text, err := wire.EncodeFullSync(snap)
	if err != nil {
		res.Err = fmt.Errorf("encode: %w", err)
		b.fail(res.Err)
		return res
	}
	if err := b.tx.BroadcastText(ctx, text); err != nil {
		res.Err = fmt.Errorf("send: %w", err)
		b.fail(res.Err)
		return res
	}

	res.Sent = true
	res.Bytes = len(text)
	b.metrics.ObserveBroadcast(metrics.BroadcastSent, res.Bytes)
	b.log.Debug("full sync broadcast",
		zap.Int("bytes", res.Bytes),
		zap.Int("devices", len(snap.Devices)),
		zap.Int("logs", len(snap.Logs)),
	)
	return res
}

func (b *Broadcaster) fail(err error) {
	b.metrics.ObserveBroadcast(metrics.BroadcastFailed, 0)
	b.log.Warn("full sync broadcast failed", zap.Error(err))
}
