// Package storage persists sessions and messages in SQLite through the
// ent SQL driver.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	_ "github.com/lib-x/entsqlite"
	"go.uber.org/zap"

	"assistant/pkg/logger"
	"assistant/pkg/session"
)

const sqliteDSN = "file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)"

// Store implements session.Store on SQLite.
type Store struct {
	drv *entsql.Driver
	db  *sql.DB
	log *logger.Logger
}

var _ session.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string, log *logger.Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	if log == nil {
		log = logger.NewNop()
	}

	drv, err := entsql.Open(dialect.SQLite, fmt.Sprintf(sqliteDSN, path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite has a single writer.
	drv.DB().SetMaxOpenConns(1)

	s := &Store{drv: drv, db: drv.DB(), log: log}
	if err := s.migrate(ctx); err != nil {
		_ = drv.Close()
		return nil, err
	}

	log.Debug("Session database ready", zap.String("path", path))
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(s.drv)
	if err != nil {
		return fmt.Errorf("prepare migration: %w", err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.drv.Close()
}

func builder() *entsql.DialectBuilder {
	return entsql.Dialect(dialect.SQLite)
}

type querier interface {
	Query() (string, []any)
}

func (s *Store) exec(ctx context.Context, q querier) (sql.Result, error) {
	query, args := q.Query()
	return s.db.ExecContext(ctx, query, args...)
}

// execOne runs q and maps "no row affected" to session.ErrNotFound.
func (s *Store) execOne(ctx context.Context, q querier) error {
	res, err := s.exec(ctx, q)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}
