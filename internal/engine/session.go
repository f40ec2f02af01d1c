package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/huddle/internal/registry"
	"github.com/roach88/huddle/internal/transport"
)

// HostConfig describes a hosting device and the event it opens.
type HostConfig struct {
	Device registry.Device
	// EventName defaults to "<device>-<YYYYMMDD-HHMMSS>".
	EventName string
	Clock     Clock
	Logger    *zap.Logger
	Options   []Option
}

// ClientConfig describes a joining device.
type ClientConfig struct {
	Device registry.Device
	// Host skips discovery when set.
	Host *transport.Peer
	// ScanTimeout bounds discovery; zero waits for ctx.
	ScanTimeout time.Duration
	Clock       Clock
	Logger      *zap.Logger
	Options     []Option
}

// runner owns the goroutines shared by both session kinds: the engine loop
// and the pumps that feed it.
type runner struct {
	engine *Engine
	cancel context.CancelFunc
	pumps  sync.WaitGroup
	done   chan error
}

func startRunner(ctx context.Context, eng *Engine) (*runner, context.Context) {
	subCtx, cancel := context.WithCancel(ctx)
	r := &runner{engine: eng, cancel: cancel, done: make(chan error, 1)}
	// Stop, not the caller's ctx, ends the loop so queued units drain.
	go func() { r.done <- eng.Run(context.WithoutCancel(ctx)) }()
	return r, subCtx
}

func pump[T any](ctx context.Context, r *runner, in <-chan T, enqueue func(T) bool) {
	r.pumps.Add(1)
	go func() {
		defer r.pumps.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok || !enqueue(v) {
					return
				}
			}
		}
	}()
}

// halt cancels subscriptions, then lets the engine finish what is queued.
func (r *runner) halt() error {
	r.cancel()
	r.pumps.Wait()
	r.engine.Stop()
	return <-r.done
}

// HostSession runs a host: it owns the group, the active event and the
// engine that reconciles presence into it.
type HostSession struct {
	reg   *registry.Registry
	tx    transport.HostTransport
	clock Clock
	log   *zap.Logger
	group transport.Group
	event registry.Event
	run   *runner

	stopOnce sync.Once
	stopErr  error
}

// StartHost brings up tx, registers the host device, opens a new event
// and starts reconciling presence. Any event left active by an earlier
// run is ended first.
func StartHost(ctx context.Context, reg *registry.Registry, tx transport.HostTransport, cfg HostConfig) (*HostSession, error) {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	if err := tx.Initialize(ctx); err != nil {
		return nil, &SessionError{Stage: StageInitialize, Err: err}
	}
	group, err := tx.CreateGroup(ctx)
	if err != nil {
		_ = tx.Dispose()
		return nil, &SessionError{Stage: StageCreateGroup, Err: err}
	}

	event, err := openEvent(ctx, reg, cfg, group, clock.Now(), log)
	if err != nil {
		_ = tx.Dispose()
		return nil, &SessionError{Stage: StageRegister, Err: err}
	}

	opts := append([]Option{WithClock(clock), WithLogger(log), WithSelf(event.HostName)}, cfg.Options...)
	eng := New(reg, tx, RoleHost, opts...)
	run, subCtx := startRunner(ctx, eng)

	presence, err := tx.PeerPresence(subCtx)
	if err == nil {
		pump(subCtx, run, presence, eng.EnqueuePresence)
		var inbound <-chan string
		if inbound, err = tx.InboundText(subCtx); err == nil {
			pump(subCtx, run, inbound, eng.EnqueueInbound)
		}
	}
	if err != nil {
		_ = run.halt()
		_ = endEvent(context.WithoutCancel(ctx), reg, event.Name, clock.Now())
		_ = tx.Dispose()
		return nil, &SessionError{Stage: StageSubscribe, Err: err}
	}

	log.Info("hosting",
		zap.String("event", event.Name),
		zap.String("ssid", group.SSID),
		zap.String("address", group.HostAddress),
	)
	return &HostSession{
		reg:   reg,
		tx:    tx,
		clock: clock,
		log:   log,
		group: group,
		event: event,
		run:   run,
	}, nil
}

func openEvent(ctx context.Context, reg *registry.Registry, cfg HostConfig, group transport.Group, now time.Time, log *zap.Logger) (registry.Event, error) {
	name := registry.NormalizeName(cfg.Device.Name)
	if name == "" {
		return registry.Event{}, fmt.Errorf("host device name is empty")
	}

	created := now
	existing, err := reg.GetDevice(ctx, name)
	switch {
	case err == nil:
		created = existing.CreatedAt
	case !errors.Is(err, registry.ErrNotFound):
		return registry.Event{}, err
	}
	host := registry.Device{Name: name, UUID: cfg.Device.UUID, IsHost: true, CreatedAt: created}
	if err := reg.UpsertDevice(ctx, host); err != nil {
		return registry.Event{}, err
	}

	for {
		prev, err := reg.ActiveEvent(ctx)
		if errors.Is(err, registry.ErrNotFound) {
			break
		}
		if err != nil {
			return registry.Event{}, err
		}
		log.Warn("ending stale active event", zap.String("event", prev.Name))
		if err := endEvent(ctx, reg, prev.Name, now); err != nil {
			return registry.Event{}, err
		}
	}

	eventName := cfg.EventName
	if eventName == "" {
		eventName = name + "-" + now.UTC().Format("20060102-150405")
	}
	event := registry.Event{
		Name:      eventName,
		HostName:  name,
		SSID:      group.SSID,
		Password:  group.Passphrase,
		HostIP:    hostIP(group.HostAddress),
		StartedAt: now,
	}
	if err := reg.CreateEvent(ctx, event); err != nil {
		return registry.Event{}, err
	}
	return event, nil
}

// endEvent releases the event's current connections, then ends it, so
// later snapshots show nobody joined to an ended event.
func endEvent(ctx context.Context, reg *registry.Registry, name string, at time.Time) error {
	if _, err := reg.EndConnections(ctx, name, at); err != nil {
		return fmt.Errorf("end event %s: %w", name, err)
	}
	if err := reg.EndEvent(ctx, name, at); err != nil {
		return fmt.Errorf("end event %s: %w", name, err)
	}
	return nil
}

// hostIP drops the port from a host:port address.
func hostIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func (s *HostSession) Engine() *Engine        { return s.run.engine }
func (s *HostSession) Event() registry.Event  { return s.event }
func (s *HostSession) Group() transport.Group { return s.group }

// Send broadcasts application text to every connected client.
func (s *HostSession) Send(ctx context.Context, text string) error {
	return s.tx.BroadcastText(ctx, text)
}

// Stop cancels subscriptions, drains the engine, ends the event and
// disposes the transport. Later calls return the first result.
func (s *HostSession) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		runErr := s.run.halt()
		endErr := endEvent(ctx, s.reg, s.event.Name, s.clock.Now())
		s.stopErr = errors.Join(runErr, endErr, s.tx.Dispose())
		s.log.Info("host stopped", zap.String("event", s.event.Name))
	})
	return s.stopErr
}

// ClientSession runs a client: it follows one host and mirrors its registry.
type ClientSession struct {
	tx   transport.ClientTransport
	log  *zap.Logger
	host transport.Peer
	run  *runner

	stopOnce sync.Once
	stopErr  error
}

// StartClient brings up tx, finds a host unless cfg.Host is set, connects
// and starts applying FULL_SYNC messages. The inbound subscription exists
// before Connect so the host's first snapshot is not missed.
func StartClient(ctx context.Context, reg *registry.Registry, tx transport.ClientTransport, cfg ClientConfig) (*ClientSession, error) {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	if err := tx.Initialize(ctx); err != nil {
		return nil, &SessionError{Stage: StageInitialize, Err: err}
	}

	self := registry.NormalizeName(cfg.Device.Name)
	opts := append([]Option{WithClock(clock), WithLogger(log), WithSelf(self)}, cfg.Options...)
	eng := New(reg, tx, RoleClient, opts...)
	run, subCtx := startRunner(ctx, eng)

	fail := func(stage Stage, err error) (*ClientSession, error) {
		_ = run.halt()
		_ = tx.Dispose()
		return nil, &SessionError{Stage: stage, Err: err}
	}

	inbound, err := tx.InboundText(subCtx)
	if err != nil {
		return fail(StageSubscribe, err)
	}
	pump(subCtx, run, inbound, eng.EnqueueInbound)

	var host transport.Peer
	if cfg.Host != nil {
		host = *cfg.Host
	} else if host, err = discover(ctx, tx, cfg.ScanTimeout); err != nil {
		return fail(StageScan, err)
	}

	if err := tx.Connect(ctx, host); err != nil {
		return fail(StageConnect, err)
	}

	log.Info("joined host", zap.String("host", host.DisplayName), zap.String("host_id", host.ID))
	return &ClientSession{tx: tx, log: log, host: host, run: run}, nil
}

// discover scans until the first host is reported.
func discover(ctx context.Context, tx transport.ClientTransport, timeout time.Duration) (transport.Peer, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	found := make(chan transport.Peer, 1)
	err := tx.Scan(ctx, func(peers []transport.Peer) {
		if len(peers) == 0 {
			return
		}
		select {
		case found <- peers[0]:
		default:
		}
	})
	if err != nil {
		return transport.Peer{}, err
	}
	defer tx.StopScan()

	select {
	case p := <-found:
		return p, nil
	case <-ctx.Done():
		return transport.Peer{}, fmt.Errorf("no host found: %w", ctx.Err())
	}
}

func (s *ClientSession) Engine() *Engine      { return s.run.engine }
func (s *ClientSession) Host() transport.Peer { return s.host }

// Send delivers application text to the host.
func (s *ClientSession) Send(ctx context.Context, text string) error {
	return s.tx.SendText(ctx, text)
}

// Stop disconnects, drains the engine and disposes the transport.
func (s *ClientSession) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.tx.StopScan()
		discErr := s.tx.Disconnect(ctx)
		runErr := s.run.halt()
		s.stopErr = errors.Join(discErr, runErr, s.tx.Dispose())
		s.log.Info("client stopped")
	})
	return s.stopErr
}
