package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"assistant/pkg/session"
)

var messageColumns = []string{
	"id", "session_id", "sender", "seq", "timestamp_ms",
	"rich_content", "text_content", "ai_message", "ai_message_json", "system_message",
	"input_tokens", "cache_write_tokens", "cache_read_tokens", "output_tokens",
	"exclude_from_prompt",
}

// AppendMessage stores a message, assigning an ID and timestamp when empty.
func (s *Store) AppendMessage(ctx context.Context, m *session.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	rich, err := marshalNullable(m.RichContent)
	if err != nil {
		return fmt.Errorf("encode rich content: %w", err)
	}
	ai, err := marshalNullable(m.AIMessage)
	if err != nil {
		return fmt.Errorf("encode ai message: %w", err)
	}
	sys, err := marshalNullable(m.SystemMessage)
	if err != nil {
		return fmt.Errorf("encode system message: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		query, args := builder().
			Select(entsql.Max("seq")).
			From(entsql.Table(MessagesTable.Name)).
			Where(entsql.EQ("session_id", m.SessionID)).
			Query()
		var last sql.NullInt64
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&last); err != nil {
			return err
		}

		query, args = builder().
			Insert(MessagesTable.Name).
			Columns(messageColumns...).
			Values(
				m.ID, m.SessionID, string(m.Sender), last.Int64+1, m.Timestamp.UnixMilli(),
				rich, m.TextContent, ai, m.AIMessageJSON, sys,
				m.Usage.Input, m.Usage.CacheWrite, m.Usage.CacheRead, m.Usage.Output,
				m.ExcludeFromPrompt,
			).
			Query()
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("append message to %s: %w", m.SessionID, err)
	}
	return nil
}

// ListMessages returns the messages of a session in emission order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*session.Message, error) {
	query, args := builder().
		Select(messageColumns...).
		From(entsql.Table(MessagesTable.Name)).
		Where(entsql.EQ("session_id", sessionID)).
		OrderBy(entsql.Asc("seq")).
		Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*session.Message
	for rows.Next() {
		m, err := s.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DeleteMessage removes one message.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	return s.execOne(ctx, builder().
		Delete(MessagesTable.Name).
		Where(entsql.EQ("id", id)))
}

func (s *Store) scanMessage(row scannable) (*session.Message, error) {
	var (
		m            session.Message
		sender       string
		seq, ts      int64
		rich, ai, sy sql.NullString
	)
	err := row.Scan(
		&m.ID, &m.SessionID, &sender, &seq, &ts,
		&rich, &m.TextContent, &ai, &m.AIMessageJSON, &sy,
		&m.Usage.Input, &m.Usage.CacheWrite, &m.Usage.CacheRead, &m.Usage.Output,
		&m.ExcludeFromPrompt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.Sender = session.Sender(sender)
	m.Timestamp = time.UnixMilli(ts)

	if rich.Valid {
		m.RichContent = &session.RichContent{}
		if err := json.Unmarshal([]byte(rich.String), m.RichContent); err != nil {
			s.log.Warn("Dropping undecodable rich content", zap.String("message_id", m.ID), zap.Error(err))
			m.RichContent = nil
		}
	}
	if ai.Valid {
		m.AIMessage = &session.AIMessage{}
		if err := json.Unmarshal([]byte(ai.String), m.AIMessage); err != nil {
			s.log.Warn("Dropping undecodable AI message", zap.String("message_id", m.ID), zap.Error(err))
			m.AIMessage = nil
		}
	}
	if sy.Valid {
		m.SystemMessage = &session.SystemMessage{}
		if err := json.Unmarshal([]byte(sy.String), m.SystemMessage); err != nil {
			s.log.Warn("Dropping undecodable system message", zap.String("message_id", m.ID), zap.Error(err))
			m.SystemMessage = nil
		}
	}
	return &m, nil
}

func marshalNullable[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
