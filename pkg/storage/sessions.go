package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"assistant/pkg/session"
)

var sessionColumns = []string{
	"id", "name", "type", "state", "end_reason", "require_validation",
	"automation_id", "scheduled_execution_ms", "provider_id",
	"last_network_error_ms", "is_active", "created_at_ms", "last_activity_ms",
}

// Get returns the session or session.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	query, args := builder().
		Select(sessionColumns...).
		From(entsql.Table(SessionsTable.Name)).
		Where(entsql.EQ("id", id)).
		Query()
	return scanSession(s.db.QueryRowContext(ctx, query, args...))
}

// Create inserts a new session.
func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.LastActivity.IsZero() {
		sess.LastActivity = sess.CreatedAt
	}
	if sess.State == "" {
		sess.State = session.StateIdle
	}

	_, err := s.exec(ctx, builder().
		Insert(SessionsTable.Name).
		Columns(sessionColumns...).
		Values(
			sess.ID, sess.Name, string(sess.Type), string(sess.State),
			nullEndReason(sess.EndReason), sess.RequireValidation,
			sess.AutomationID, nullMillis(sess.ScheduledExecutionTime), sess.ProviderID,
			nullMillis(sess.LastNetworkErrorTime), sess.IsActive,
			sess.CreatedAt.UnixMilli(), sess.LastActivity.UnixMilli(),
		))
	if err != nil {
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	return nil
}

// Update overwrites the mutable fields of a session. The active flag is
// owned by SetActive and DeactivateAll.
func (s *Store) Update(ctx context.Context, sess *session.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	return s.execOne(ctx, builder().
		Update(SessionsTable.Name).
		Set("name", sess.Name).
		Set("state", string(sess.State)).
		Set("end_reason", nullEndReason(sess.EndReason)).
		Set("require_validation", sess.RequireValidation).
		Set("automation_id", sess.AutomationID).
		Set("scheduled_execution_ms", nullMillis(sess.ScheduledExecutionTime)).
		Set("provider_id", sess.ProviderID).
		Set("last_network_error_ms", nullMillis(sess.LastNetworkErrorTime)).
		Set("last_activity_ms", sess.LastActivity.UnixMilli()).
		Where(entsql.EQ("id", sess.ID)))
}

// List returns sessions newest first.
func (s *Store) List(ctx context.Context, filter session.ListFilter) ([]*session.Session, error) {
	sel := builder().
		Select(sessionColumns...).
		From(entsql.Table(SessionsTable.Name))

	var preds []*entsql.Predicate
	if filter.Type != "" {
		preds = append(preds, entsql.EQ("type", string(filter.Type)))
	}
	if filter.AutomationID != "" {
		preds = append(preds, entsql.EQ("automation_id", filter.AutomationID))
	}
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	sel.OrderBy(entsql.Desc("created_at_ms"))
	if filter.Limit > 0 {
		sel.Limit(filter.Limit)
	}

	query, args := sel.Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Delete removes a session and its messages.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		query, args := builder().Delete(MessagesTable.Name).Where(entsql.EQ("session_id", id)).Query()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
		query, args = builder().Delete(SessionsTable.Name).Where(entsql.EQ("id", id)).Query()
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return session.ErrNotFound
		}
		return nil
	})
}

// SetActive marks id as the only active session and resets its state,
// end reason and last network error.
func (s *Store) SetActive(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		query, args := builder().
			Update(SessionsTable.Name).
			Set("is_active", false).
			Where(entsql.And(entsql.EQ("is_active", true), entsql.NEQ("id", id))).
			Query()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}

		query, args = builder().
			Update(SessionsTable.Name).
			Set("is_active", true).
			Set("state", string(session.StateIdle)).
			SetNull("end_reason").
			SetNull("last_network_error_ms").
			Where(entsql.EQ("id", id)).
			Query()
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return session.ErrNotFound
		}
		return nil
	})
}

// DeactivateAll clears the active flag on every session.
func (s *Store) DeactivateAll(ctx context.Context) error {
	_, err := s.exec(ctx, builder().
		Update(SessionsTable.Name).
		Set("is_active", false).
		Where(entsql.EQ("is_active", true)))
	return err
}

// GetActive returns the active session or session.ErrNotFound.
func (s *Store) GetActive(ctx context.Context) (*session.Session, error) {
	query, args := builder().
		Select(sessionColumns...).
		From(entsql.Table(SessionsTable.Name)).
		Where(entsql.EQ("is_active", true)).
		Limit(1).
		Query()
	return scanSession(s.db.QueryRowContext(ctx, query, args...))
}

// UpdateActivity sets the last activity timestamp.
func (s *Store) UpdateActivity(ctx context.Context, id string, ts time.Time) error {
	return s.execOne(ctx, builder().
		Update(SessionsTable.Name).
		Set("last_activity_ms", ts.UnixMilli()).
		Where(entsql.EQ("id", id)))
}

// UpdateState sets the processing state.
func (s *Store) UpdateState(ctx context.Context, id string, state session.State) error {
	return s.execOne(ctx, builder().
		Update(SessionsTable.Name).
		Set("state", string(state)).
		Where(entsql.EQ("id", id)))
}

// RecordNetworkError sets the last network error timestamp.
func (s *Store) RecordNetworkError(ctx context.Context, id string, ts time.Time) error {
	return s.execOne(ctx, builder().
		Update(SessionsTable.Name).
		Set("last_network_error_ms", ts.UnixMilli()).
		Where(entsql.EQ("id", id)))
}

// SetEndReason sets or clears the end reason.
func (s *Store) SetEndReason(ctx context.Context, id string, reason *session.EndReason) error {
	upd := builder().Update(SessionsTable.Name)
	if reason == nil {
		upd.SetNull("end_reason")
	} else {
		upd.Set("end_reason", string(*reason))
	}
	return s.execOne(ctx, upd.Where(entsql.EQ("id", id)))
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*session.Session, error) {
	var (
		sess       session.Session
		typ, state string
		endReason  sql.NullString
		scheduled  sql.NullInt64
		lastNetErr sql.NullInt64
		createdAt  int64
		lastActive int64
	)
	err := row.Scan(
		&sess.ID, &sess.Name, &typ, &state, &endReason, &sess.RequireValidation,
		&sess.AutomationID, &scheduled, &sess.ProviderID,
		&lastNetErr, &sess.IsActive, &createdAt, &lastActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	sess.Type = session.Type(typ)
	sess.State = session.State(state)
	if endReason.Valid {
		sess.EndReason = session.EndReasonPtr(session.EndReason(endReason.String))
	}
	sess.ScheduledExecutionTime = fromMillis(scheduled)
	sess.LastNetworkErrorTime = fromMillis(lastNetErr)
	sess.CreatedAt = time.UnixMilli(createdAt)
	sess.LastActivity = time.UnixMilli(lastActive)
	return &sess, nil
}

func nullEndReason(r *session.EndReason) any {
	if r == nil {
		return nil
	}
	return string(*r)
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
