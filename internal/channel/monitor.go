// ABOUTME: Company monitor connection actor for dashboard views
// ABOUTME: Read-only fan-out of the company's monitor group; only ping has effect

package channel

import (
	"context"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/2389/handoff-gateway/internal/fabric"
)

// MonitorChannel is the actor behind one dashboard websocket. It relays the
// company's monitor group (escalations, assignments, session updates, agent
// presence changes) and accepts nothing inbound except liveness pings.
type MonitorChannel struct {
	fab       fabric.Fabric
	logger    *slog.Logger
	companyID string
}

// NewMonitorChannel builds the actor for one accepted monitor connection.
func NewMonitorChannel(fab fabric.Fabric, companyID string, logger *slog.Logger) *MonitorChannel {
	return &MonitorChannel{
		fab:       fab,
		logger:    logger.With("component", "monitor-channel", "company_id", companyID),
		companyID: companyID,
	}
}

// Run serves the connection until it closes.
func (c *MonitorChannel) Run(ctx context.Context, rawConn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn := newWSConn(rawConn)

	group := fabric.MonitorGroup(c.companyID)
	events, memberID := c.fab.Join(ctx, group)
	defer c.fab.Leave(group, memberID)
	go pumpEvents(conn, events, c.logger)

	c.logger.Info("monitor connected")
	defer c.logger.Info("monitor disconnected")

	for {
		raw, err := conn.readFrame()
		if err != nil {
			return
		}

		frame, ok := decodeFrame(raw)
		if !ok {
			conn.sendError(c.logger, "malformed message")
			continue
		}

		if frame.Type == frameTypePing {
			if err := conn.sendPong(); err != nil {
				return
			}
			continue
		}
		conn.sendError(c.logger, "monitor channel is read-only")
	}
}
