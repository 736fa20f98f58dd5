// ABOUTME: Handoff session state machine implemented as atomic SQLite transactions
// ABOUTME: Escalate is idempotent; assign/transfer/resolve/cancel enforce the transition rules

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Escalate creates a handoff session for the conversation, or returns the
// existing non-terminal one. Idempotence is deliberate: client retries of the
// escalation trigger must not create duplicate sessions, so the existing
// record is returned rather than an error.
func (s *SQLiteStore) Escalate(ctx context.Context, companyID, sessionID, reason string, priority Priority) (*HandoffSession, error) {
	now := time.Now().UTC()
	h := &HandoffSession{
		ID:               uuid.New().String(),
		CompanyID:        companyID,
		SessionID:        sessionID,
		Status:           HandoffStatusPending,
		Priority:         priority,
		EscalationReason: reason,
		CreatedAt:        now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO handoff_sessions (id, company_id, session_id, status, priority, escalation_reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.CompanyID, h.SessionID, h.Status, h.Priority, h.EscalationReason, h.CreatedAt,
	)
	if err == nil {
		s.logger.Info("handoff escalated",
			"handoff_id", h.ID,
			"company_id", companyID,
			"session_id", sessionID,
			"priority", priority,
		)
		return h, nil
	}

	// The partial unique index on open handoffs rejects a second escalation
	// for the same conversation. Return the open session instead.
	if isUniqueViolation(err) {
		existing, lookupErr := s.GetActiveHandoff(ctx, companyID, sessionID)
		if lookupErr == nil {
			s.logger.Debug("duplicate escalation, returning open handoff",
				"handoff_id", existing.ID,
				"session_id", sessionID,
			)
			return existing, nil
		}
		return nil, fmt.Errorf("duplicate escalation lookup: %w", lookupErr)
	}
	return nil, fmt.Errorf("inserting handoff: %w", err)
}

// Assign binds a pending handoff to an agent: pending -> active.
// Retrying an assign of the same agent on an already-active session is a
// no-op success; a different agent is ErrInvalidTransition.
func (s *SQLiteStore) Assign(ctx context.Context, handoffID, agentID string) (*HandoffSession, error) {
	return s.inHandoffTx(ctx, handoffID, func(tx *sql.Tx, h *HandoffSession) error {
		if h.Status == HandoffStatusActive && h.AssignedAgentID != nil && *h.AssignedAgentID == agentID {
			return nil // duplicate delivery of the same command
		}
		if h.Status != HandoffStatusPending {
			return fmt.Errorf("%w: assign from %s", ErrInvalidTransition, h.Status)
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE handoff_sessions SET status = ?, assigned_agent_id = ? WHERE id = ?`,
			HandoffStatusActive, agentID, handoffID,
		)
		if err != nil {
			return fmt.Errorf("updating handoff: %w", err)
		}
		h.Status = HandoffStatusActive
		h.AssignedAgentID = &agentID
		return nil
	})
}

// Transfer reassigns an active handoff to another agent and writes the
// immutable SessionTransfer audit record. The session stays active.
func (s *SQLiteStore) Transfer(ctx context.Context, handoffID, fromAgentID, toAgentID, reason, transferredBy string) (*HandoffSession, error) {
	return s.inHandoffTx(ctx, handoffID, func(tx *sql.Tx, h *HandoffSession) error {
		if h.Status != HandoffStatusActive {
			return fmt.Errorf("%w: transfer from %s", ErrInvalidTransition, h.Status)
		}
		if h.AssignedAgentID == nil || *h.AssignedAgentID != fromAgentID {
			return fmt.Errorf("%w: transfer from agent %s does not match assignee", ErrInvalidTransition, fromAgentID)
		}

		now := time.Now().UTC()
		_, err := tx.ExecContext(ctx,
			`INSERT INTO session_transfers (id, handoff_id, from_agent_id, to_agent_id, reason, transferred_at, transferred_by)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), handoffID, fromAgentID, toAgentID, reason, now, transferredBy,
		)
		if err != nil {
			return fmt.Errorf("inserting transfer: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE handoff_sessions SET assigned_agent_id = ? WHERE id = ?`,
			toAgentID, handoffID,
		)
		if err != nil {
			return fmt.Errorf("updating assignee: %w", err)
		}
		h.AssignedAgentID = &toAgentID
		return nil
	})
}

// Resolve completes a handoff: pending/active -> completed.
func (s *SQLiteStore) Resolve(ctx context.Context, handoffID string, notes *string) (*HandoffSession, error) {
	return s.inHandoffTx(ctx, handoffID, func(tx *sql.Tx, h *HandoffSession) error {
		if h.Status.Terminal() {
			return fmt.Errorf("%w: resolve from %s", ErrInvalidTransition, h.Status)
		}
		now := time.Now().UTC()
		_, err := tx.ExecContext(ctx,
			`UPDATE handoff_sessions SET status = ?, resolved_at = ?, notes = ? WHERE id = ?`,
			HandoffStatusCompleted, now, notes, handoffID,
		)
		if err != nil {
			return fmt.Errorf("updating handoff: %w", err)
		}
		h.Status = HandoffStatusCompleted
		h.ResolvedAt = &now
		h.Notes = notes
		return nil
	})
}

// Cancel abandons a handoff: pending/active -> cancelled.
func (s *SQLiteStore) Cancel(ctx context.Context, handoffID string) (*HandoffSession, error) {
	return s.inHandoffTx(ctx, handoffID, func(tx *sql.Tx, h *HandoffSession) error {
		if h.Status.Terminal() {
			return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, h.Status)
		}
		now := time.Now().UTC()
		_, err := tx.ExecContext(ctx,
			`UPDATE handoff_sessions SET status = ?, resolved_at = ? WHERE id = ?`,
			HandoffStatusCancelled, now, handoffID,
		)
		if err != nil {
			return fmt.Errorf("updating handoff: %w", err)
		}
		h.Status = HandoffStatusCancelled
		h.ResolvedAt = &now
		return nil
	})
}

// GetHandoff returns a handoff session by id.
func (s *SQLiteStore) GetHandoff(ctx context.Context, handoffID string) (*HandoffSession, error) {
	row := s.db.QueryRowContext(ctx, selectHandoff+` WHERE id = ?`, handoffID)
	return scanHandoff(row)
}

// GetActiveHandoff returns the single non-terminal handoff for a
// conversation, or ErrNotFound.
func (s *SQLiteStore) GetActiveHandoff(ctx context.Context, companyID, sessionID string) (*HandoffSession, error) {
	row := s.db.QueryRowContext(ctx,
		selectHandoff+` WHERE company_id = ? AND session_id = ? AND resolved_at IS NULL`,
		companyID, sessionID,
	)
	return scanHandoff(row)
}

// ListPendingHandoffs returns a company's unassigned handoffs ordered by
// priority (urgent first) then age (oldest first), for the monitor queue view.
func (s *SQLiteStore) ListPendingHandoffs(ctx context.Context, companyID string) ([]*HandoffSession, error) {
	rows, err := s.db.QueryContext(ctx,
		selectHandoff+` WHERE company_id = ? AND status = ?
		 ORDER BY CASE priority
			WHEN 'urgent' THEN 0
			WHEN 'high' THEN 1
			WHEN 'medium' THEN 2
			ELSE 3
		 END, created_at ASC`,
		companyID, HandoffStatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("querying pending handoffs: %w", err)
	}
	defer rows.Close()

	var out []*HandoffSession
	for rows.Next() {
		h, err := scanHandoff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ListTransfers returns the transfer audit trail for a handoff, oldest first.
func (s *SQLiteStore) ListTransfers(ctx context.Context, handoffID string) ([]*SessionTransfer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, handoff_id, from_agent_id, to_agent_id, reason, transferred_at, transferred_by
		 FROM session_transfers WHERE handoff_id = ? ORDER BY transferred_at ASC`,
		handoffID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying transfers: %w", err)
	}
	defer rows.Close()

	var out []*SessionTransfer
	for rows.Next() {
		tr := &SessionTransfer{}
		var from, to sql.NullString
		if err := rows.Scan(&tr.ID, &tr.HandoffID, &from, &to, &tr.Reason, &tr.TransferredAt, &tr.TransferredBy); err != nil {
			return nil, fmt.Errorf("scanning transfer: %w", err)
		}
		if from.Valid {
			v := from.String
			tr.FromAgentID = &v
		}
		if to.Valid {
			v := to.String
			tr.ToAgentID = &v
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

const selectHandoff = `SELECT id, company_id, session_id, status, priority, assigned_agent_id,
	escalation_reason, notes, created_at, resolved_at FROM handoff_sessions`

func scanHandoff(row scanner) (*HandoffSession, error) {
	h := &HandoffSession{}
	var assigned, notes sql.NullString
	var resolved sql.NullTime
	err := row.Scan(&h.ID, &h.CompanyID, &h.SessionID, &h.Status, &h.Priority,
		&assigned, &h.EscalationReason, &notes, &h.CreatedAt, &resolved)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning handoff: %w", err)
	}
	if assigned.Valid {
		v := assigned.String
		h.AssignedAgentID = &v
	}
	if notes.Valid {
		v := notes.String
		h.Notes = &v
	}
	if resolved.Valid {
		t := resolved.Time
		h.ResolvedAt = &t
	}
	return h, nil
}

// inHandoffTx runs fn inside a transaction with the handoff row loaded.
// Each state transition is a single atomic read-modify-write; the database's
// transaction semantics prevent lost updates under concurrent attempts for
// the same handoff id.
func (s *SQLiteStore) inHandoffTx(ctx context.Context, handoffID string, fn func(tx *sql.Tx, h *HandoffSession) error) (*HandoffSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, selectHandoff+` WHERE id = ?`, handoffID)
	h, err := scanHandoff(row)
	if err != nil {
		return nil, err
	}

	if err := fn(tx, h); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return h, nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint error.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
