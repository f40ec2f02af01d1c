// Package ws implements the transport over WebSocket for hosts and clients on
// the same LAN.
//
// The host serves a small chi router:
//
//	GET /group    group descriptor (ssid, host address, host peer)
//	GET /link     WebSocket upgrade; query: id, name, passphrase
//	GET /healthz  liveness
//
// plus any extra handlers passed with WithHandler (the CLI mounts /metrics).
// Presence is the ordered list of clients with an open link.
package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds one frame write. A peer that stops reading fails its
// sends instead of blocking the engine loop.
const writeWait = 10 * time.Second

// connWrapper serializes writes; gorilla connections allow one concurrent writer.
type connWrapper struct {
	conn      *websocket.Conn
	mutex     sync.Mutex
	writeWait time.Duration
}

func newConnWrapper(c *websocket.Conn) *connWrapper {
	return &connWrapper{conn: c, writeWait: writeWait}
}

func (w *connWrapper) WriteText(text string) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (w *connWrapper) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeWait))
	_ = w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return w.conn.Close()
}

// readLoop forwards text frames to push until the connection fails.
func readLoop(conn *websocket.Conn, push func(string)) error {
	for {
		kind, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind == websocket.TextMessage {
			push(string(raw))
		}
	}
}
