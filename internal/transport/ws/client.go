package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/roach88/huddle/internal/transport"
)

// DefaultScanInterval is how often Scan probes candidate hosts.
const DefaultScanInterval = 2 * time.Second

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the client's logger.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithScanInterval sets the probe interval used by Scan.
func WithScanInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.scanInterval = d }
}

// WithHTTPClient sets the HTTP client used to probe /group.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// Client is the client side of the WebSocket link. Discovery probes a fixed
// list of candidate host addresses.
type Client struct {
	self         transport.Peer
	passphrase   string
	candidates   []string
	scanInterval time.Duration
	http         *http.Client
	dialer       *websocket.Dialer
	log          *zap.Logger

	mu       sync.Mutex
	conn     *connWrapper
	inbound  []*transport.Pipe[string]
	stopScan context.CancelFunc
	disposed bool
}

var _ transport.ClientTransport = (*Client)(nil)

// NewClient creates a client announcing self and joining with passphrase.
func NewClient(self transport.Peer, passphrase string, candidates []string, opts ...ClientOption) *Client {
	c := &Client{
		self:         self,
		passphrase:   passphrase,
		candidates:   candidates,
		scanInterval: DefaultScanInterval,
		http:         &http.Client{Timeout: 3 * time.Second},
		dialer:       websocket.DefaultDialer,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return transport.ErrDisposed
	}
	if len(c.candidates) == 0 {
		return fmt.Errorf("initialize: no candidate hosts configured")
	}
	return nil
}

// Scan probes every candidate immediately and then every scan interval,
// reporting the hosts that answered. It returns once the first probe round
// has been reported; later rounds run in the background until StopScan.
func (c *Client) Scan(ctx context.Context, onPeers func([]transport.Peer)) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return transport.ErrDisposed
	}
	if c.stopScan != nil {
		c.stopScan()
	}
	scanCtx, cancel := context.WithCancel(ctx)
	c.stopScan = cancel
	c.mu.Unlock()

	onPeers(c.probe(scanCtx))

	go func() {
		ticker := time.NewTicker(c.scanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-scanCtx.Done():
				return
			case <-ticker.C:
				onPeers(c.probe(scanCtx))
			}
		}
	}()
	return nil
}

func (c *Client) StopScan() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopScan != nil {
		c.stopScan()
		c.stopScan = nil
	}
}

func (c *Client) probe(ctx context.Context) []transport.Peer {
	peers := []transport.Peer{}
	for _, addr := range c.candidates {
		info, err := c.fetchGroup(ctx, addr)
		if err != nil {
			c.log.Debug("probe failed", zap.String("addr", addr), zap.Error(err))
			continue
		}
		host := info.Host
		host.Address = addr
		peers = append(peers, host)
	}
	return peers
}

func (c *Client) fetchGroup(ctx context.Context, addr string) (GroupInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/group", nil)
	if err != nil {
		return GroupInfo{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return GroupInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return GroupInfo{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	var info GroupInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return GroupInfo{}, fmt.Errorf("decode group: %w", err)
	}
	return info, nil
}

// Connect dials the host's /link endpoint and starts forwarding inbound text.
func (c *Client) Connect(ctx context.Context, host transport.Peer) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return transport.ErrDisposed
	}
	c.mu.Unlock()

	q := url.Values{}
	q.Set("id", c.self.ID)
	q.Set("name", c.self.DisplayName)
	q.Set("passphrase", c.passphrase)
	u := url.URL{Scheme: "ws", Host: host.Address, Path: "/link", RawQuery: q.Encode()}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connect %s: %w (status %d)", host.Address, err, resp.StatusCode)
		}
		return fmt.Errorf("connect %s: %w", host.Address, err)
	}

	wrapped := newConnWrapper(conn)
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = wrapped
	c.mu.Unlock()

	go func() {
		err := readLoop(conn, c.deliver)
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			c.log.Warn("link read error", zap.Error(err))
		}
		c.mu.Lock()
		if c.conn == wrapped {
			c.conn = nil
		}
		c.mu.Unlock()
	}()
	return nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) InboundText(ctx context.Context) (<-chan string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return nil, transport.ErrDisposed
	}
	p := transport.NewPipe[string](ctx)
	c.inbound = append(c.inbound, p)
	return p.Out(), nil
}

func (c *Client) deliver(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.inbound {
		p.Push(text)
	}
}

// SendText writes text to the host.
func (c *Client) SendText(ctx context.Context, text string) error {
	c.mu.Lock()
	conn, disposed := c.conn, c.disposed
	c.mu.Unlock()

	if disposed {
		return transport.ErrDisposed
	}
	if conn == nil {
		return transport.ErrNotConnected
	}
	return conn.WriteText(text)
}

// BroadcastText is SendText: a client's only link peer is the host.
func (c *Client) BroadcastText(ctx context.Context, text string) error {
	return c.SendText(ctx, text)
}

func (c *Client) Dispose() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	if c.stopScan != nil {
		c.stopScan()
	}
	conn := c.conn
	inbound := c.inbound
	c.conn, c.inbound = nil, nil
	c.mu.Unlock()

	for _, p := range inbound {
		p.Close()
	}
	if conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			return err
		}
	}
	return nil
}
