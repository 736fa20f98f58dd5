// ABOUTME: User connection actor for one escalated (or escalatable) conversation
// ABOUTME: Persists inbound chat and forwards it to the assigned agent's group

package channel

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/handoff-gateway/internal/fabric"
	"github.com/2389/handoff-gateway/internal/store"
)

// UserChannel is the actor behind one end-user websocket. It is keyed by
// company and session; the conversation record is created on first contact.
type UserChannel struct {
	store     store.Store
	fab       fabric.Fabric
	logger    *slog.Logger
	companyID string
	sessionID string
}

// NewUserChannel builds the actor for one accepted user connection.
func NewUserChannel(st store.Store, fab fabric.Fabric, companyID, sessionID string, logger *slog.Logger) *UserChannel {
	return &UserChannel{
		store:     st,
		fab:       fab,
		logger:    logger.With("component", "user-channel", "company_id", companyID, "session_id", sessionID),
		companyID: companyID,
		sessionID: sessionID,
	}
}

// Run serves the connection until it closes. It joins the conversation's
// fabric group, confirms with connection_established, then processes inbound
// frames. Membership and the event pump are torn down on return.
func (c *UserChannel) Run(ctx context.Context, rawConn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn := newWSConn(rawConn)

	if err := c.ensureConversation(ctx); err != nil {
		c.logger.Error("conversation bootstrap failed", "error", err)
		conn.sendError(c.logger, "internal error")
		return
	}

	group := fabric.UserGroup(c.companyID, c.sessionID)
	events, memberID := c.fab.Join(ctx, group)
	defer c.fab.Leave(group, memberID)
	go pumpEvents(conn, events, c.logger)

	if err := conn.sendEvent(fabric.ConnectionEstablished{
		CompanyID: c.companyID,
		SessionID: c.sessionID,
	}); err != nil {
		c.logger.Debug("connection_established write failed", "error", err)
		return
	}

	c.logger.Info("user connected")
	defer c.logger.Info("user disconnected")

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

		switch frame.Type {
		case frameTypePing:
			if err := conn.sendPong(); err != nil {
				return
			}
		case frameTypeChatMessage:
			if frame.Content == "" {
				conn.sendError(c.logger, "chat_message requires content")
				continue
			}
			if err := c.handleChat(ctx, frame.Content); err != nil {
				c.logger.Warn("chat handling failed", "error", err)
				conn.sendError(c.logger, "message could not be processed")
			}
		default:
			conn.sendError(c.logger, "unsupported message type: "+frame.Type)
		}
	}
}

// handleChat persists the message, then forwards it to the assigned agent if
// the conversation has an active handoff. With no assignee the message is
// persisted only; it will be visible when an agent picks the session up.
func (c *UserChannel) handleChat(ctx context.Context, content string) error {
	now := time.Now()
	if err := c.store.AppendMessage(ctx, &store.ConversationMessage{
		ID:         uuid.New().String(),
		SessionID:  c.sessionID,
		SenderType: store.SenderTypeUser,
		Content:    content,
		CreatedAt:  now,
	}); err != nil {
		return err
	}

	handoff, err := c.store.GetActiveHandoff(ctx, c.companyID, c.sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if handoff.AssignedAgentID == nil {
		return nil
	}

	return c.fab.Publish(ctx, fabric.AgentGroup(*handoff.AssignedAgentID), fabric.ChatMessage{
		CompanyID: c.companyID,
		SessionID: c.sessionID,
		Sender:    store.SenderTypeUser,
		Content:   content,
		SentAt:    now,
	})
}

func (c *UserChannel) ensureConversation(ctx context.Context) error {
	_, err := c.store.GetConversation(ctx, c.companyID, c.sessionID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return c.store.CreateConversation(ctx, &store.Conversation{
		ID:        uuid.New().String(),
		CompanyID: c.companyID,
		SessionID: c.sessionID,
		CreatedAt: time.Now(),
	})
}
