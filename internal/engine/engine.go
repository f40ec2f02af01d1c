package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/huddle/internal/metrics"
	"github.com/roach88/huddle/internal/registry"
	"github.com/roach88/huddle/internal/transport"
	"github.com/roach88/huddle/internal/wire"
)

// Role selects how an Engine treats its units.
type Role int

const (
	// RoleHost reconciles presence and broadcasts FULL_SYNC.
	RoleHost Role = iota + 1
	// RoleClient applies received FULL_SYNC snapshots.
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleClient:
		return "client"
	default:
		return "unknown"
	}
}

// Change reports what one unit did. Observers receive exactly one Change
// per dequeued unit, after its registry writes and any broadcast finished.
type Change struct {
	Seq       int64
	Type      EventType
	Message   wire.Message
	Pass      *PassResult
	Broadcast *BroadcastResult
	Import    *registry.ImportResult
	Err       error
}

// Observer is called from the Run goroutine and must not block.
type Observer func(Change)

// Engine is the single writer of one Registry.
//
// Enqueue* and Resync are safe from any goroutine. Run must be called from
// exactly one goroutine; all registry writes happen there.
type Engine struct {
	reg       *registry.Registry
	tx        transport.Transport
	role      Role
	self      string
	clock     Clock
	seq       sequence
	queue     *eventQueue
	log       *zap.Logger
	metrics   *metrics.Metrics
	policy    Policy
	resync    bool
	onMessage func(string)
	observers []Observer

	reconciler  *Reconciler
	broadcaster *Broadcaster
	receiver    *Receiver
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPolicy sets the host broadcast policy. Default PolicyOnChange.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithSelf names the local device in outgoing SYNC_REQUEST messages.
func WithSelf(name string) Option {
	return func(e *Engine) { e.self = name }
}

// WithResyncOnPartial makes a client send SYNC_REQUEST after a FULL_SYNC
// that could not be applied completely.
func WithResyncOnPartial(enabled bool) Option {
	return func(e *Engine) { e.resync = enabled }
}

// WithMessageHandler receives every inbound text that is not a sync
// message, unmodified.
func WithMessageHandler(fn func(text string)) Option {
	return func(e *Engine) { e.onMessage = fn }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// New creates an Engine for role over reg. tx is used for outgoing
// broadcasts and sync requests only; feeding the queue is the caller's job.
func New(reg *registry.Registry, tx transport.Transport, role Role, opts ...Option) *Engine {
	e := &Engine{
		reg:    reg,
		tx:     tx,
		role:   role,
		clock:  SystemClock,
		queue:  newEventQueue(),
		log:    zap.NewNop(),
		policy: PolicyOnChange,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.log = e.log.With(zap.Stringer("role", role))
	e.reconciler = newReconciler(reg, e.clock, e.log)
	e.broadcaster = newBroadcaster(reg, tx, e.policy, e.log, e.metrics)
	e.receiver = newReceiver(reg, tx, e.self, e.resync, e.log, e.metrics)
	return e
}

// Role returns the engine's role.
func (e *Engine) Role() Role { return e.role }

// EnqueuePresence submits a presence snapshot. Returns false once stopped.
func (e *Engine) EnqueuePresence(peers []transport.Peer) bool {
	return e.queue.Enqueue(Event{Type: EventPresence, Peers: peers})
}

// EnqueueInbound submits one inbound text. Returns false once stopped.
func (e *Engine) EnqueueInbound(text string) bool {
	return e.queue.Enqueue(Event{Type: EventInbound, Text: text})
}

// Resync asks for an unconditional FULL_SYNC: a host broadcasts one, a
// client sends SYNC_REQUEST to its host.
func (e *Engine) Resync() bool {
	return e.queue.Enqueue(Event{Type: EventResync})
}

// Run processes units until ctx is cancelled or Stop is called. After Stop
// it drains the units already queued before returning.
//
// A failing unit is logged and reported to observers; the loop continues.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine starting")

	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			ch := e.process(ctx, ev)
			if ch.Err != nil {
				e.log.Error("unit failed",
					zap.Int64("seq", ch.Seq),
					zap.Stringer("type", ev.Type),
					zap.Int("peers", len(ev.Peers)),
					zap.Error(ch.Err),
				)
			}
			e.notify(ch)
			continue
		}

		select {
		case <-ctx.Done():
			e.log.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			if e.queue.drained() {
				e.log.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns once queued units are drained.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) notify(ch Change) {
	for _, o := range e.observers {
		o(ch)
	}
}

// process runs one unit. Called only from Run.
func (e *Engine) process(ctx context.Context, ev Event) Change {
	ch := Change{Seq: e.seq.next(), Type: ev.Type}

	switch ev.Type {
	case EventPresence:
		if e.role != RoleHost {
			ch.Err = fmt.Errorf("presence snapshot on %s engine", e.role)
			return ch
		}
		e.reconcile(ctx, ev.Peers, &ch)

	case EventInbound:
		ch.Message = wire.Parse(ev.Text)
		e.receive(ctx, &ch)

	case EventResync:
		if e.role == RoleHost {
			br := e.broadcaster.Broadcast(ctx)
			ch.Broadcast = &br
			ch.Err = br.Err
			return ch
		}
		ch.Err = e.receiver.RequestSync(ctx)

	default:
		ch.Err = fmt.Errorf("unknown event type: %d", ev.Type)
	}
	return ch
}

func (e *Engine) reconcile(ctx context.Context, peers []transport.Peer, ch *Change) {
	start := time.Now()
	pass, err := e.reconciler.Reconcile(ctx, peers)
	if err != nil {
		e.metrics.PassFailed()
		ch.Err = err
		return
	}
	ch.Pass = &pass
	e.metrics.ObservePass(len(pass.Joined), len(pass.Left), pass.PeerIDs.Cardinality(), time.Since(start))

	if len(pass.Joined) > 0 || len(pass.Left) > 0 {
		e.log.Info("membership changed",
			zap.String("event", pass.Event),
			zap.Strings("joined", pass.Joined),
			zap.Strings("left", pass.Left),
		)
	}

	br := e.broadcaster.AfterPass(ctx, pass.PeerIDs)
	ch.Broadcast = &br
}

func (e *Engine) receive(ctx context.Context, ch *Change) {
	switch m := ch.Message.(type) {
	case wire.FullSync:
		e.metrics.ObserveInbound(wire.TypeFullSync)
		if e.role == RoleHost {
			e.log.Warn("ignoring FULL_SYNC received by host")
			return
		}
		res, err := e.receiver.Apply(ctx, m)
		if err != nil {
			ch.Err = err
			return
		}
		ch.Import = &res

	case wire.SyncRequest:
		e.metrics.ObserveInbound(wire.TypeSyncRequest)
		if e.role != RoleHost {
			e.log.Debug("ignoring SYNC_REQUEST received by client", zap.String("from", m.From))
			return
		}
		e.log.Info("sync requested", zap.String("from", m.From))
		br := e.broadcaster.Broadcast(ctx)
		ch.Broadcast = &br
		ch.Err = br.Err

	case wire.Plain:
		e.metrics.ObserveInbound("plain")
		if e.onMessage != nil {
			e.onMessage(m.Text)
		}
	}
}
