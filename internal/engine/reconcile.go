package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/roach88/huddle/internal/registry"
	"github.com/roach88/huddle/internal/transport"
)

// PassResult summarizes one reconciliation pass.
type PassResult struct {
	Event     string
	Joined    []string
	Left      []string
	Refreshed []string
	// PeerIDs is the deduplicated id set of the snapshot.
	PeerIDs mapset.Set[string]
}

// Reconciler turns presence snapshots into registry membership changes for
// the active event.
type Reconciler struct {
	reg   *registry.Registry
	clock Clock
	log   *zap.Logger
}

func newReconciler(reg *registry.Registry, clock Clock, log *zap.Logger) *Reconciler {
	return &Reconciler{reg: reg, clock: clock, log: log}
}

// Reconcile applies one full snapshot. Peers are handled in snapshot order;
// a repeated id is ignored after its first appearance.
//
// Devices that disappear keep their Device row: departure only marks the
// connection not current, so a returning peer needs no re-registration.
func (r *Reconciler) Reconcile(ctx context.Context, peers []transport.Peer) (PassResult, error) {
	ev, err := r.reg.ActiveEvent(ctx)
	if errors.Is(err, registry.ErrNotFound) {
		return PassResult{}, ErrNoActiveEvent
	}
	if err != nil {
		return PassResult{}, fmt.Errorf("active event: %w", err)
	}

	current, err := r.reg.CurrentDeviceNames(ctx, ev.Name)
	if err != nil {
		return PassResult{}, fmt.Errorf("current devices: %w", err)
	}
	before := mapset.NewThreadUnsafeSet(current...)

	res := PassResult{
		Event:   ev.Name,
		PeerIDs: mapset.NewThreadUnsafeSet[string](),
	}
	present := mapset.NewThreadUnsafeSet[string]()
	now := r.clock.Now()

	for _, p := range peers {
		if p.ID == "" || res.PeerIDs.Contains(p.ID) {
			continue
		}
		res.PeerIDs.Add(p.ID)

		name, known, err := r.resolve(ctx, p, now)
		if err != nil {
			return res, err
		}
		present.Add(name)

		if known && before.Contains(name) {
			if err := r.reg.TouchConnection(ctx, ev.Name, name, now); err != nil {
				return res, fmt.Errorf("touch %s: %w", name, err)
			}
			res.Refreshed = append(res.Refreshed, name)
			continue
		}
		if err := r.join(ctx, ev.Name, name, now); err != nil {
			return res, err
		}
		res.Joined = append(res.Joined, name)
	}

	gone := before.Difference(present).ToSlice()
	sort.Strings(gone)
	for _, name := range gone {
		if err := r.reg.MarkNotCurrent(ctx, ev.Name, name, now); err != nil {
			return res, fmt.Errorf("mark %s not current: %w", name, err)
		}
		if err := r.appendLog(ctx, ev.Name, name, name+" left", now); err != nil {
			return res, err
		}
		res.Left = append(res.Left, name)
	}

	return res, nil
}

// resolve returns the registry name for p, registering it when its id is
// unknown. known is false for a freshly registered device.
func (r *Reconciler) resolve(ctx context.Context, p transport.Peer, now time.Time) (string, bool, error) {
	d, err := r.reg.GetDeviceByUUID(ctx, p.ID)
	if err == nil {
		return d.Name, true, nil
	}
	if !errors.Is(err, registry.ErrNotFound) {
		return "", false, fmt.Errorf("lookup %s: %w", p.ID, err)
	}

	name := registry.NormalizeName(p.DisplayName)
	if name == "" {
		name = p.ID
	}
	if other, err := r.reg.GetDevice(ctx, name); err == nil && other.UUID != p.ID {
		// Last writer wins. While both peers stay present they take the
		// name back from each other, so this repeats on every pass.
		r.log.Warn("name collision: device name reassigned to new peer",
			zap.String("device", name),
			zap.String("previous_uuid", other.UUID),
			zap.String("uuid", p.ID),
		)
	}

	dev := registry.Device{Name: name, UUID: p.ID, CreatedAt: now}
	if err := r.reg.UpsertDevice(ctx, dev); err != nil {
		return "", false, fmt.Errorf("register %s: %w", name, err)
	}
	return name, false, nil
}

// join records a current connection then its log entry.
func (r *Reconciler) join(ctx context.Context, event, name string, now time.Time) error {
	conn := registry.Connection{
		EventName:  event,
		DeviceName: name,
		JoinedAt:   now,
		LastSeen:   now,
		IsCurrent:  true,
	}
	if err := r.reg.UpsertConnection(ctx, conn); err != nil {
		return fmt.Errorf("connect %s: %w", name, err)
	}
	return r.appendLog(ctx, event, name, name+" joined", now)
}

func (r *Reconciler) appendLog(ctx context.Context, event, name, msg string, now time.Time) error {
	entry := registry.LogEntry{EventName: event, DeviceName: name, Message: msg, Timestamp: now}
	if _, err := r.reg.AppendLog(ctx, entry); err != nil {
		return fmt.Errorf("log %q: %w", msg, err)
	}
	return nil
}
