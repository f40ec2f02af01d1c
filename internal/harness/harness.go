package harness

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/huddle/internal/config"
	"github.com/roach88/huddle/internal/engine"
	"github.com/roach88/huddle/internal/registry"
	"github.com/roach88/huddle/internal/testutil"
	"github.com/roach88/huddle/internal/transport"
)

// Epoch is the clock reading at the start of every run.
var Epoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// unitTimeout bounds the wait for one engine unit.
const unitTimeout = 5 * time.Second

// Harness holds the live state of one run.
type Harness struct {
	scenario *Scenario
	clock    *testutil.ManualClock
	hub      *transport.Hub
	hostPeer transport.Peer
	hostReg  *registry.Registry
	host     *engine.HostSession
	hostCh   chan engine.Change
	clients  map[string]*client
	result   *Result
}

type client struct {
	name      string
	tx        *transport.LoopbackClient
	reg       *registry.Registry
	engine    *engine.Engine
	changes   chan engine.Change
	connected bool
	cancel    context.CancelFunc
	done      chan error
}

// Run executes a scenario against fresh in-memory registries and returns
// its trace and assertion results. An error means the run itself broke
// (a unit never completed, a transport call failed), not that an
// assertion failed.
func Run(s *Scenario) (*Result, error) {
	ctx := context.Background()
	h := &Harness{
		scenario: s,
		clock:    testutil.NewManualClock(Epoch),
		hostCh:   make(chan engine.Change, 64),
		clients:  make(map[string]*client),
		result:   newResult(),
	}
	defer h.close()

	if err := h.start(ctx); err != nil {
		return nil, err
	}
	for i, step := range s.Steps {
		if err := h.runStep(ctx, i, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	for _, msg := range h.evaluate(ctx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) start(ctx context.Context) error {
	s := h.scenario
	policy, err := engine.ParsePolicy(s.Policy)
	if err != nil {
		return err
	}

	h.hostPeer = transport.Peer{ID: config.DeviceUUID(s.Host), DisplayName: s.Host}
	h.hub = transport.NewHub(h.hostPeer, transport.Group{
		SSID:        "DIRECT-hu-" + s.Host,
		Passphrase:  "harness",
		HostAddress: "192.168.49.1",
	})

	if h.hostReg, err = registry.Open(":memory:"); err != nil {
		return err
	}
	h.host, err = engine.StartHost(ctx, h.hostReg, h.hub.Host(), engine.HostConfig{
		Device:    registry.Device{Name: s.Host, UUID: h.hostPeer.ID},
		EventName: s.Event,
		Clock:     h.clock,
		Options: []engine.Option{
			engine.WithPolicy(policy),
			engine.WithObserver(func(c engine.Change) { h.hostCh <- c }),
		},
	})
	if err != nil {
		return err
	}

	for _, name := range s.Clients {
		c, err := h.startClient(name)
		if err != nil {
			return err
		}
		h.clients[name] = c
	}
	return nil
}

// startClient runs a bare client engine so the harness can connect and
// disconnect the same endpoint repeatedly.
func (h *Harness) startClient(name string) (*client, error) {
	reg, err := registry.Open(":memory:")
	if err != nil {
		return nil, err
	}
	c := &client{
		name:    name,
		tx:      h.hub.NewClient(transport.Peer{ID: config.DeviceUUID(name), DisplayName: name}),
		reg:     reg,
		changes: make(chan engine.Change, 64),
		done:    make(chan error, 1),
	}
	c.engine = engine.New(reg, c.tx, engine.RoleClient,
		engine.WithClock(h.clock),
		engine.WithSelf(name),
		engine.WithObserver(func(ch engine.Change) { c.changes <- ch }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	inbound, err := c.tx.InboundText(ctx)
	if err != nil {
		cancel()
		_ = reg.Close()
		return nil, err
	}
	go func() {
		for text := range inbound {
			c.engine.EnqueueInbound(text)
		}
	}()
	go func() { c.done <- c.engine.Run(context.Background()) }()
	return c, nil
}

func (h *Harness) runStep(ctx context.Context, i int, step Step) error {
	if step.Advance > 0 {
		h.clock.Advance(time.Duration(step.Advance))
	}

	if len(step.Connect) > 0 || len(step.Disconnect) > 0 {
		if err := h.presence(ctx, step); err != nil {
			return err
		}
		if err := h.awaitHost(i); err != nil {
			return err
		}
	}

	if step.Send != nil {
		if err := h.clients[step.Send.From].tx.SendText(ctx, step.Send.Text); err != nil {
			return fmt.Errorf("send from %s: %w", step.Send.From, err)
		}
		if err := h.awaitHost(i); err != nil {
			return err
		}
	}

	if step.SyncRequest != "" {
		c := h.clients[step.SyncRequest]
		c.engine.Resync()
		ch, err := await(c.changes)
		if err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
		h.result.record(i, c.name, ch)
		if ch.Err == nil {
			if err := h.awaitHost(i); err != nil {
				return err
			}
		}
	}

	if step.Resync {
		h.host.Engine().Resync()
		if err := h.awaitHost(i); err != nil {
			return err
		}
	}
	return nil
}

// presence applies a step's connects and disconnects as one snapshot.
func (h *Harness) presence(ctx context.Context, step Step) error {
	var errs []error
	h.hub.Batch(func() {
		for _, name := range step.Disconnect {
			c := h.clients[name]
			errs = append(errs, c.tx.Disconnect(ctx))
			c.connected = false
		}
		for _, name := range step.Connect {
			c := h.clients[name]
			errs = append(errs, c.tx.Connect(ctx, h.hostPeer))
			c.connected = true
		}
	})
	return errors.Join(errs...)
}

// awaitHost waits for the host's next unit and, if it sent a FULL_SYNC,
// for the import on every connected client.
func (h *Harness) awaitHost(step int) error {
	ch, err := await(h.hostCh)
	if err != nil {
		return fmt.Errorf("%s: %w", h.scenario.Host, err)
	}
	h.result.record(step, h.scenario.Host, ch)

	if ch.Broadcast == nil || !ch.Broadcast.Sent {
		return nil
	}
	for _, c := range h.connectedClients() {
		cc, err := await(c.changes)
		if err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
		h.result.record(step, c.name, cc)
	}
	return nil
}

func (h *Harness) connectedClients() []*client {
	var out []*client
	for _, name := range h.scenario.Clients {
		if c := h.clients[name]; c.connected {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b *client) int { return cmp.Compare(a.name, b.name) })
	return out
}

func await(ch <-chan engine.Change) (engine.Change, error) {
	select {
	case c := <-ch:
		return c, nil
	case <-time.After(unitTimeout):
		return engine.Change{}, fmt.Errorf("no engine unit within %s", unitTimeout)
	}
}

func (h *Harness) close() {
	for _, c := range h.clients {
		_ = c.tx.Dispose()
		c.cancel()
		c.engine.Stop()
		<-c.done
		_ = c.reg.Close()
	}
	if h.host != nil {
		_ = h.host.Stop(context.Background())
	}
	if h.hostReg != nil {
		_ = h.hostReg.Close()
	}
}
