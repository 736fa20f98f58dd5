// ABOUTME: Agent connection actor: presence side effects plus event relay
// ABOUTME: Forwards the agent's group events verbatim and accepts agent replies

package channel

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/handoff-gateway/internal/fabric"
	"github.com/2389/handoff-gateway/internal/presence"
	"github.com/2389/handoff-gateway/internal/store"
)

// AgentChannel is the actor behind one human agent's websocket. Connecting
// marks the agent present, disconnecting marks them offline, and every
// inbound frame renews the heartbeat lease. Events published to the agent's
// group are relayed verbatim.
type AgentChannel struct {
	store     store.Store
	fab       fabric.Fabric
	registry  *presence.Registry
	logger    *slog.Logger
	agentID   string
	companyID string
}

// NewAgentChannel builds the actor for one accepted agent connection.
func NewAgentChannel(st store.Store, fab fabric.Fabric, registry *presence.Registry, agentID, companyID string, logger *slog.Logger) *AgentChannel {
	return &AgentChannel{
		store:     st,
		fab:       fab,
		registry:  registry,
		logger:    logger.With("component", "agent-channel", "agent_id", agentID),
		agentID:   agentID,
		companyID: companyID,
	}
}

// Run serves the connection until it closes. Presence transitions bracket
// the lifetime: onConnect at open, onDisconnect at close.
func (c *AgentChannel) Run(ctx context.Context, rawConn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn := newWSConn(rawConn)

	if err := c.registry.OnConnect(ctx, c.agentID); err != nil {
		c.logger.Error("presence connect failed", "error", err)
		conn.sendError(c.logger, "internal error")
		return
	}
	defer func() {
		if err := c.registry.OnDisconnect(context.WithoutCancel(ctx), c.agentID); err != nil {
			c.logger.Warn("presence disconnect failed", "error", err)
		}
	}()

	group := fabric.AgentGroup(c.agentID)
	events, memberID := c.fab.Join(ctx, group)
	defer c.fab.Leave(group, memberID)
	go pumpEvents(conn, events, c.logger)

	c.logger.Info("agent connected")
	defer c.logger.Info("agent disconnected")

	for {
		raw, err := conn.readFrame()
		if err != nil {
			return
		}
		c.registry.Touch(c.agentID)

		frame, ok := decodeFrame(raw)
		if !ok {
			conn.sendError(c.logger, "malformed message")
			continue
		}

		switch frame.Type {
		case frameTypePing:
			if err := conn.sendPong(); err != nil {
				return
			}
		case frameTypeAgentMessage:
			if frame.SessionID == "" || frame.Content == "" {
				conn.sendError(c.logger, "agent_message requires session_id and content")
				continue
			}
			if err := c.handleReply(ctx, frame.SessionID, frame.Content); err != nil {
				c.logger.Warn("agent reply failed", "session_id", frame.SessionID, "error", err)
				conn.sendError(c.logger, err.Error())
			}
		case frameTypeStatusUpdate:
			if err := c.handleStatus(ctx, frame.Status); err != nil {
				conn.sendError(c.logger, err.Error())
			}
		default:
			conn.sendError(c.logger, "unsupported message type: "+frame.Type)
		}
	}
}

var errNotAssigned = errors.New("no active handoff assigned to you for this session")

// handleReply persists the agent's message and delivers it to the user's
// group. The agent must hold the session's active handoff.
func (c *AgentChannel) handleReply(ctx context.Context, sessionID, content string) error {
	handoff, err := c.store.GetActiveHandoff(ctx, c.companyID, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return errNotAssigned
	}
	if err != nil {
		return err
	}
	if handoff.AssignedAgentID == nil || *handoff.AssignedAgentID != c.agentID {
		return errNotAssigned
	}

	now := time.Now()
	if err := c.store.AppendMessage(ctx, &store.ConversationMessage{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		SenderType: store.SenderTypeAgent,
		Content:    content,
		CreatedAt:  now,
	}); err != nil {
		return err
	}

	return c.fab.Publish(ctx, fabric.UserGroup(c.companyID, sessionID), fabric.AgentMessage{
		CompanyID: c.companyID,
		SessionID: sessionID,
		AgentID:   c.agentID,
		Content:   content,
		SentAt:    now,
	})
}

// handleStatus applies a manual availability change from the agent UI.
func (c *AgentChannel) handleStatus(ctx context.Context, status string) error {
	switch store.AgentStatus(status) {
	case store.AgentStatusAvailable, store.AgentStatusBusy:
		return c.registry.SetStatus(ctx, c.agentID, store.AgentStatus(status))
	default:
		return errors.New("status must be available or busy")
	}
}
