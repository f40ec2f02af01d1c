package transport

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Hub is an in-memory link with one host endpoint and any number of client
// endpoints. Peer presence is the ordered set of connected clients; every
// connect or disconnect publishes a fresh snapshot unless it happens inside
// Batch, in which case one snapshot is published when the batch ends.
type Hub struct {
	mu        sync.Mutex
	group     Group
	host      *LoopbackHost
	hostPeer  Peer
	connected []*LoopbackClient
	batching  bool
}

// NewHub creates a hub whose host announces itself as hostPeer.
func NewHub(hostPeer Peer, group Group) *Hub {
	h := &Hub{group: group, hostPeer: hostPeer}
	h.host = &LoopbackHost{hub: h}
	return h
}

// Host returns the hub's host endpoint.
func (h *Hub) Host() *LoopbackHost {
	return h.host
}

// NewClient creates a client endpoint for peer. It is not connected.
func (h *Hub) NewClient(peer Peer) *LoopbackClient {
	return &LoopbackClient{hub: h, self: peer}
}

// Batch runs fn and publishes a single presence snapshot afterwards, so a
// simultaneous leave and join reach the host as one change.
func (h *Hub) Batch(fn func()) {
	h.mu.Lock()
	h.batching = true
	h.mu.Unlock()

	fn()

	h.mu.Lock()
	h.batching = false
	h.publishLocked()
	h.mu.Unlock()
}

// Peers returns the currently connected client peers in connect order.
func (h *Hub) Peers() []Peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peersLocked()
}

func (h *Hub) peersLocked() []Peer {
	peers := make([]Peer, len(h.connected))
	for i, c := range h.connected {
		peers[i] = c.self
	}
	return peers
}

func (h *Hub) publishLocked() {
	if h.batching {
		return
	}
	h.host.publish(h.peersLocked())
}

func (h *Hub) connect(c *LoopbackClient) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.host.groupCreated() {
		return fmt.Errorf("connect %s: no group", c.self.ID)
	}
	if slices.Contains(h.connected, c) {
		return nil
	}
	h.connected = append(h.connected, c)
	h.publishLocked()
	return nil
}

func (h *Hub) disconnect(c *LoopbackClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := slices.Index(h.connected, c)
	if i < 0 {
		return
	}
	h.connected = slices.Delete(h.connected, i, i+1)
	h.publishLocked()
}

func (h *Hub) clients() []*LoopbackClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.connected)
}

// LoopbackHost is the host endpoint of a Hub.
type LoopbackHost struct {
	hub *Hub

	mu          sync.Mutex
	initialized bool
	created     bool
	disposed    bool
	presence    []*Pipe[[]Peer]
	inbound     []*Pipe[string]
}

var _ HostTransport = (*LoopbackHost)(nil)

func (t *LoopbackHost) Initialize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return ErrDisposed
	}
	t.initialized = true
	return nil
}

func (t *LoopbackHost) CreateGroup(ctx context.Context) (Group, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return Group{}, ErrDisposed
	}
	if !t.initialized {
		return Group{}, fmt.Errorf("create group: transport not initialized")
	}
	t.created = true
	return t.hub.group, nil
}

func (t *LoopbackHost) groupCreated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.created && !t.disposed
}

func (t *LoopbackHost) PeerPresence(ctx context.Context) (<-chan []Peer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return nil, ErrDisposed
	}
	p := NewPipe[[]Peer](ctx)
	t.presence = append(t.presence, p)
	return p.Out(), nil
}

func (t *LoopbackHost) InboundText(ctx context.Context) (<-chan string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return nil, ErrDisposed
	}
	p := NewPipe[string](ctx)
	t.inbound = append(t.inbound, p)
	return p.Out(), nil
}

// BroadcastText delivers text to every connected client.
func (t *LoopbackHost) BroadcastText(ctx context.Context, text string) error {
	if t.isDisposed() {
		return ErrDisposed
	}
	for _, c := range t.hub.clients() {
		c.deliver(text)
	}
	return nil
}

// SendText is BroadcastText: the host has no single addressee.
func (t *LoopbackHost) SendText(ctx context.Context, text string) error {
	return t.BroadcastText(ctx, text)
}

func (t *LoopbackHost) Dispose() error {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return nil
	}
	t.disposed = true
	pipes := t.presence
	inbound := t.inbound
	t.presence, t.inbound = nil, nil
	t.mu.Unlock()

	for _, p := range pipes {
		p.Close()
	}
	for _, p := range inbound {
		p.Close()
	}
	return nil
}

func (t *LoopbackHost) isDisposed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disposed
}

func (t *LoopbackHost) publish(peers []Peer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.presence {
		p.Push(slices.Clone(peers))
	}
}

func (t *LoopbackHost) deliver(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.inbound {
		p.Push(text)
	}
}

// LoopbackClient is a client endpoint of a Hub.
type LoopbackClient struct {
	hub  *Hub
	self Peer

	mu        sync.Mutex
	connected bool
	disposed  bool
	inbound   []*Pipe[string]
}

var _ ClientTransport = (*LoopbackClient)(nil)

// Self returns the peer this endpoint announces.
func (c *LoopbackClient) Self() Peer {
	return c.self
}

func (c *LoopbackClient) Initialize(ctx context.Context) error {
	if c.isDisposed() {
		return ErrDisposed
	}
	return nil
}

// Scan reports the hub's host once if it has created a group.
func (c *LoopbackClient) Scan(ctx context.Context, onPeers func([]Peer)) error {
	if c.isDisposed() {
		return ErrDisposed
	}
	if c.hub.host.groupCreated() {
		onPeers([]Peer{c.hub.hostPeer})
	} else {
		onPeers([]Peer{})
	}
	return nil
}

func (c *LoopbackClient) StopScan() {}

func (c *LoopbackClient) Connect(ctx context.Context, host Peer) error {
	if c.isDisposed() {
		return ErrDisposed
	}
	if host.ID != c.hub.hostPeer.ID {
		return fmt.Errorf("connect: unknown host %q", host.ID)
	}
	if err := c.hub.connect(c); err != nil {
		return err
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *LoopbackClient) Disconnect(ctx context.Context) error {
	c.hub.disconnect(c)
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

func (c *LoopbackClient) InboundText(ctx context.Context) (<-chan string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return nil, ErrDisposed
	}
	p := NewPipe[string](ctx)
	c.inbound = append(c.inbound, p)
	return p.Out(), nil
}

// SendText delivers text to the host.
func (c *LoopbackClient) SendText(ctx context.Context, text string) error {
	c.mu.Lock()
	connected, disposed := c.connected, c.disposed
	c.mu.Unlock()
	if disposed {
		return ErrDisposed
	}
	if !connected {
		return ErrNotConnected
	}
	c.hub.host.deliver(text)
	return nil
}

// BroadcastText is SendText: a client's only link peer is the host.
func (c *LoopbackClient) BroadcastText(ctx context.Context, text string) error {
	return c.SendText(ctx, text)
}

func (c *LoopbackClient) Dispose() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	inbound := c.inbound
	c.inbound = nil
	c.mu.Unlock()

	c.hub.disconnect(c)
	for _, p := range inbound {
		p.Close()
	}
	return nil
}

func (c *LoopbackClient) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

func (c *LoopbackClient) deliver(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.inbound {
		p.Push(text)
	}
}
