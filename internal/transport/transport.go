// Package transport defines the link layer the sync engine runs on and ships
// two implementations: an in-memory loopback hub and a WebSocket LAN link
// (package ws).
//
// The engine never discovers peers or frames messages itself. It consumes
// three things from a transport: a stream of peer-presence snapshots (host
// only), a stream of inbound text, and best-effort send primitives.
package transport

import (
	"context"
	"errors"
)

// ErrDisposed is returned by operations on a transport after Dispose.
var ErrDisposed = errors.New("transport disposed")

// ErrNotConnected is returned by client sends before Connect succeeds.
var ErrNotConnected = errors.New("transport not connected")

// Peer is a device visible on the link. ID is assigned by the transport and
// is stable for the lifetime of the peer's install.
type Peer struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	Address     string `json:"address,omitempty"`
}

// Group describes the link a host created for its clients to join.
type Group struct {
	SSID        string `json:"ssid"`
	Passphrase  string `json:"passphrase,omitempty"`
	HostAddress string `json:"host_address"`
}

// Transport is the part of the link shared by hosts and clients.
//
// Sends are best-effort and unacknowledged. Dispose is idempotent and closes
// every stream handed out by the transport.
type Transport interface {
	Initialize(ctx context.Context) error

	// InboundText returns the stream of raw text messages received from peers.
	// The channel is closed when ctx is done or the transport is disposed.
	InboundText(ctx context.Context) (<-chan string, error)

	BroadcastText(ctx context.Context, text string) error
	SendText(ctx context.Context, text string) error

	Dispose() error
}

// HostTransport is the host side of the link.
type HostTransport interface {
	Transport

	CreateGroup(ctx context.Context) (Group, error)

	// PeerPresence returns a stream of full "currently visible peers" lists.
	// Each value replaces the previous one; it is not a delta. The stream can
	// only be restarted by subscribing again.
	PeerPresence(ctx context.Context) (<-chan []Peer, error)
}

// ClientTransport is the client side of the link.
type ClientTransport interface {
	Transport

	// Scan reports discovered hosts to onPeers until StopScan or ctx is done.
	Scan(ctx context.Context, onPeers func([]Peer)) error
	StopScan()

	Connect(ctx context.Context, host Peer) error
	Disconnect(ctx context.Context) error
}
