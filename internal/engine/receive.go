package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/huddle/internal/metrics"
	"github.com/roach88/huddle/internal/registry"
	"github.com/roach88/huddle/internal/transport"
	"github.com/roach88/huddle/internal/wire"
)

// Receiver applies FULL_SYNC snapshots to a client registry.
type Receiver struct {
	reg           *registry.Registry
	tx            transport.Transport
	self          string
	requestResync bool
	log           *zap.Logger
	metrics       *metrics.Metrics
}

func newReceiver(reg *registry.Registry, tx transport.Transport, self string, requestResync bool, log *zap.Logger, m *metrics.Metrics) *Receiver {
	return &Receiver{
		reg:           reg,
		tx:            tx,
		self:          self,
		requestResync: requestResync,
		log:           log,
		metrics:       m,
	}
}

// Apply replaces the local registry with msg's snapshot. When rows were
// skipped and resync is enabled, it asks the host for a fresh snapshot.
func (r *Receiver) Apply(ctx context.Context, msg wire.FullSync) (registry.ImportResult, error) {
	res, err := r.reg.ReplaceImport(ctx, msg.Snapshot)
	if err != nil {
		return res, fmt.Errorf("replace import: %w", err)
	}
	r.metrics.ObserveImport(res)

	if !res.Partial() {
		return res, nil
	}
	r.log.Warn("full sync applied partially", zap.Int("skipped", len(res.Skipped)))
	if r.requestResync {
		if err := r.RequestSync(ctx); err != nil {
			r.log.Warn("sync request failed", zap.Error(err))
		}
	}
	return res, nil
}

// RequestSync sends SYNC_REQUEST to the host.
func (r *Receiver) RequestSync(ctx context.Context) error {
	text, err := wire.EncodeSyncRequest(r.self)
	if err != nil {
		return err
	}
	return r.tx.SendText(ctx, text)
}
