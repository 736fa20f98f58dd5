// ABOUTME: Shared websocket plumbing for the three connection actor kinds
// ABOUTME: Upgrader with origin checking and a write-serialized connection wrapper

package channel

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/handoff-gateway/internal/fabric"
)

const (
	// wsWriteWait bounds a single frame write.
	wsWriteWait = 10 * time.Second
	// wsReadWait is the idle deadline; any inbound frame resets it, so a
	// client that pings within this window stays connected.
	wsReadWait = 90 * time.Second
	// maxFrameBytes caps inbound frame size.
	maxFrameBytes = 64 * 1024
)

// MakeUpgrader creates a websocket upgrader that accepts the given origins.
// An empty list or a single "*" allows all origins; requests without an
// Origin header (non-browser clients) are always allowed.
func MakeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return originSet[origin]
		},
	}
}

// wsConn wraps a websocket connection with a write mutex. gorilla/websocket
// permits one concurrent writer, and each actor writes from both its read
// loop (pong, error frames) and its fabric pump.
type wsConn struct {
	raw *websocket.Conn
	mu  sync.Mutex
}

func newWSConn(raw *websocket.Conn) *wsConn {
	raw.SetReadLimit(maxFrameBytes)
	_ = raw.SetReadDeadline(time.Now().Add(wsReadWait))
	return &wsConn{raw: raw}
}

func (c *wsConn) writeJSON(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.raw.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.raw.WriteMessage(websocket.TextMessage, payload)
}

// sendEvent writes a fabric event as a wire envelope.
func (c *wsConn) sendEvent(e fabric.Event) error {
	data, err := fabric.Marshal(e)
	if err != nil {
		return err
	}
	return c.writeJSON(data)
}

// sendError reports a per-message failure without closing the connection.
func (c *wsConn) sendError(logger *slog.Logger, message string) {
	if err := c.sendEvent(fabric.ErrorEvent{Message: message}); err != nil {
		logger.Debug("failed to write error frame", "error", err)
	}
}

// sendPong answers a liveness ping. No side effects.
func (c *wsConn) sendPong() error {
	return c.writeJSON([]byte(`{"type":"pong"}`))
}

// readFrame blocks for the next inbound text frame and refreshes the idle
// deadline. Returns the raw payload or the transport error that ended the
// connection.
func (c *wsConn) readFrame() ([]byte, error) {
	_, msg, err := c.raw.ReadMessage()
	if err != nil {
		return nil, err
	}
	_ = c.raw.SetReadDeadline(time.Now().Add(wsReadWait))
	return msg, nil
}

// pumpEvents forwards fabric events to the socket until the membership
// channel closes. Runs as the actor's single background goroutine.
func pumpEvents(conn *wsConn, events <-chan fabric.Event, logger *slog.Logger) {
	for event := range events {
		if err := conn.sendEvent(event); err != nil {
			logger.Debug("event write failed", "kind", event.Kind(), "error", err)
			return
		}
	}
}
