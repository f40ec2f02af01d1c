package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/roach88/huddle/internal/transport"
)

// GroupInfo is the body served at GET /group.
type GroupInfo struct {
	SSID        string         `json:"ssid"`
	HostAddress string         `json:"host_address"`
	Host        transport.Peer `json:"host"`
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithHostLogger sets the host's logger.
func WithHostLogger(l *zap.Logger) HostOption {
	return func(h *Host) { h.log = l }
}

// WithHandler mounts an extra handler on the host router.
func WithHandler(pattern string, handler http.Handler) HostOption {
	return func(h *Host) { h.extra[pattern] = handler }
}

// WithPassphrase fixes the group passphrase instead of generating one.
func WithPassphrase(passphrase string) HostOption {
	return func(h *Host) { h.passphrase = passphrase }
}

type linkedPeer struct {
	peer transport.Peer
	conn *connWrapper
}

// Host is the host side of the WebSocket link.
type Host struct {
	listen     string
	groupName  string
	self       transport.Peer
	passphrase string
	log        *zap.Logger
	extra      map[string]http.Handler
	upgrader   websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	group    *transport.Group
	linked   []*linkedPeer
	presence []*transport.Pipe[[]transport.Peer]
	inbound  []*transport.Pipe[string]
	disposed bool
}

var _ transport.HostTransport = (*Host)(nil)

// NewHost creates a host that will listen on addr (host:port) once initialized.
func NewHost(addr, groupName string, self transport.Peer, opts ...HostOption) *Host {
	h := &Host{
		listen:    addr,
		groupName: groupName,
		self:      self,
		log:       zap.NewNop(),
		extra:     map[string]http.Handler{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Initialize binds the listener and starts serving.
func (h *Host) Initialize(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.disposed {
		return transport.ErrDisposed
	}
	if h.listener != nil {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", h.listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.listen, err)
	}
	h.listener = ln
	h.server = &http.Server{
		Handler:           h.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("link server stopped", zap.Error(err))
		}
	}()
	h.log.Info("link listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound listener address, or "" before Initialize.
func (h *Host) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

func (h *Host) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/group", h.handleGroup)
	r.Get("/link", h.handleLink)
	for pattern, handler := range h.extra {
		r.Handle(pattern, handler)
	}
	return r
}

// CreateGroup publishes the group descriptor. The passphrase is generated
// unless one was configured.
func (h *Host) CreateGroup(ctx context.Context) (transport.Group, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.disposed {
		return transport.Group{}, transport.ErrDisposed
	}
	if h.listener == nil {
		return transport.Group{}, fmt.Errorf("create group: transport not initialized")
	}
	if h.group != nil {
		return *h.group, nil
	}

	passphrase := h.passphrase
	if passphrase == "" {
		passphrase = strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	h.group = &transport.Group{
		SSID:        "DIRECT-" + h.groupName,
		Passphrase:  passphrase,
		HostAddress: h.listener.Addr().String(),
	}
	return *h.group, nil
}

func (h *Host) handleGroup(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	group := h.group
	h.mu.Unlock()

	if group == nil {
		http.Error(w, "no group", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(GroupInfo{SSID: group.SSID, HostAddress: group.HostAddress, Host: h.self})
}

func (h *Host) handleLink(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	group := h.group
	h.mu.Unlock()

	if group == nil {
		http.Error(w, "no group", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	if q.Get("passphrase") != group.Passphrase {
		http.Error(w, "wrong passphrase", http.StatusForbidden)
		return
	}
	peer := transport.Peer{ID: q.Get("id"), DisplayName: q.Get("name"), Address: r.RemoteAddr}
	if peer.ID == "" || peer.DisplayName == "" {
		http.Error(w, "id and name are required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("link upgrade failed", zap.String("peer", peer.ID), zap.Error(err))
		return
	}

	lp := &linkedPeer{peer: peer, conn: newConnWrapper(conn)}
	if !h.addLinked(lp) {
		_ = lp.conn.Close()
		return
	}
	h.log.Info("peer linked", zap.String("peer", peer.ID), zap.String("name", peer.DisplayName))

	err = readLoop(conn, h.deliver)
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		h.log.Warn("link read error", zap.String("peer", peer.ID), zap.Error(err))
	}

	h.removeLinked(lp)
	_ = lp.conn.Close()
	h.log.Info("peer unlinked", zap.String("peer", peer.ID))
}

// addLinked registers a link, replacing an older link from the same peer id.
func (h *Host) addLinked(lp *linkedPeer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.disposed {
		return false
	}
	for i, existing := range h.linked {
		if existing.peer.ID == lp.peer.ID {
			_ = existing.conn.Close()
			h.linked = append(h.linked[:i], h.linked[i+1:]...)
			break
		}
	}
	h.linked = append(h.linked, lp)
	h.publishLocked()
	return true
}

func (h *Host) removeLinked(lp *linkedPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, existing := range h.linked {
		if existing == lp {
			h.linked = append(h.linked[:i], h.linked[i+1:]...)
			h.publishLocked()
			return
		}
	}
}

func (h *Host) publishLocked() {
	peers := make([]transport.Peer, len(h.linked))
	for i, lp := range h.linked {
		peers[i] = lp.peer
	}
	for _, p := range h.presence {
		p.Push(append([]transport.Peer(nil), peers...))
	}
}

func (h *Host) deliver(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.inbound {
		p.Push(text)
	}
}

// PeerPresence subscribes to presence snapshots. The current list is
// delivered first.
func (h *Host) PeerPresence(ctx context.Context) (<-chan []transport.Peer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.disposed {
		return nil, transport.ErrDisposed
	}
	p := transport.NewPipe[[]transport.Peer](ctx)
	h.presence = append(h.presence, p)

	peers := make([]transport.Peer, len(h.linked))
	for i, lp := range h.linked {
		peers[i] = lp.peer
	}
	p.Push(peers)
	return p.Out(), nil
}

func (h *Host) InboundText(ctx context.Context) (<-chan string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.disposed {
		return nil, transport.ErrDisposed
	}
	p := transport.NewPipe[string](ctx)
	h.inbound = append(h.inbound, p)
	return p.Out(), nil
}

// BroadcastText writes text to every linked client. Failures on individual
// links are joined into the returned error; delivery to the rest proceeds.
func (h *Host) BroadcastText(ctx context.Context, text string) error {
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		return transport.ErrDisposed
	}
	linked := append([]*linkedPeer(nil), h.linked...)
	h.mu.Unlock()

	var errs []error
	for _, lp := range linked {
		if err := lp.conn.WriteText(text); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", lp.peer.ID, err))
		}
	}
	return errors.Join(errs...)
}

// SendText is BroadcastText: the host has no single addressee.
func (h *Host) SendText(ctx context.Context, text string) error {
	return h.BroadcastText(ctx, text)
}

// Dispose closes every link, stops the server and closes all streams.
func (h *Host) Dispose() error {
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		return nil
	}
	h.disposed = true
	linked := h.linked
	pipes := h.presence
	inbound := h.inbound
	server := h.server
	h.linked, h.presence, h.inbound = nil, nil, nil
	h.mu.Unlock()

	for _, lp := range linked {
		_ = lp.conn.Close()
	}
	for _, p := range pipes {
		p.Close()
	}
	for _, p := range inbound {
		p.Close()
	}
	if server != nil {
		return server.Close()
	}
	return nil
}
