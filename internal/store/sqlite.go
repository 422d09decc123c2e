// This file implements an SQLite-backed store for sessions, identifications and dedup keys.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/BTreeMap/Kantei/internal/dedup"
	"github.com/BTreeMap/Kantei/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time checks for SQLiteStore.
var (
	_ Store        = (*SQLiteStore)(nil)
	_ dedup.Window = (*SQLiteStore)(nil)
)

// SQLiteStore persists Kantei state in a single SQLite file.
type SQLiteStore struct {
	db      *sql.DB
	logger  *zap.Logger
	nowFunc func() time.Time
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	cfg := applyOpts(opts)
	logger := cfg.Logger
	logger.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", zap.Bool("dsn_set", cfg.DSN != ""))

	dsn := cfg.DSN
	if dsn == "" {
		return nil, ErrDSNNotSet
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		logger.Error("SQLiteStore.NewSQLiteStore: failed to create database directory", zap.String("dir", dir), zap.Error(err))
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		logger.Error("SQLiteStore.NewSQLiteStore: failed to open connection", zap.Error(err))
		return nil, err
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY under concurrent webhooks.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		logger.Error("SQLiteStore.NewSQLiteStore: ping failed", zap.Error(err))
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		logger.Error("SQLiteStore.NewSQLiteStore: migrations failed", zap.Error(err))
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Debug("SQLiteStore.NewSQLiteStore: migrations applied", zap.String("path", dsn))

	return &SQLiteStore{db: db, logger: logger, nowFunc: time.Now}, nil
}

// CreateSession inserts a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *models.DialogueSession) error {
	enc, err := encodeSession(sess)
	if err != nil {
		return err
	}
	sess.Version = 1
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dialogue_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.OwnerID, sess.Status, sess.Kind, sess.VisualSummary,
		nullableJSON(enc.candidate), string(enc.turnHistory), string(enc.rejectedTitles),
		sess.Version, utc(sess.CreatedAt), utc(sess.UpdatedAt))
	if err != nil {
		s.logger.Error("SQLiteStore.CreateSession: insert failed", zap.String("session_id", sess.ID), zap.Error(err))
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	s.logger.Debug("SQLiteStore.CreateSession: inserted", zap.String("session_id", sess.ID), zap.String("owner_id", sess.OwnerID))
	return nil
}

// GetSession returns the session with id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.DialogueSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM dialogue_sessions WHERE id = ?`, id)
	sess, err := scanSession(row, s.logger)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return sess, nil
}

// UpdateSession writes sess when its version matches the stored one.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *models.DialogueSession) error {
	enc, err := encodeSession(sess)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE dialogue_sessions
		 SET status = ?, kind = ?, visual_summary = ?, candidate = ?, turn_history = ?, rejected_titles = ?,
		     version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		sess.Status, sess.Kind, sess.VisualSummary, nullableJSON(enc.candidate),
		string(enc.turnHistory), string(enc.rejectedTitles), utc(sess.UpdatedAt),
		sess.ID, sess.Version)
	if err != nil {
		s.logger.Error("SQLiteStore.UpdateSession: update failed", zap.String("session_id", sess.ID), zap.Error(err))
		return fmt.Errorf("failed to update session %s: %w", sess.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session rows affected check failed: %w", err)
	}
	if n == 0 {
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM dialogue_sessions WHERE id = ?`, sess.ID).Scan(&one)
		return versionMiss(err == nil)
	}
	sess.Version++
	s.logger.Debug("SQLiteStore.UpdateSession: updated", zap.String("session_id", sess.ID),
		zap.String("status", string(sess.Status)), zap.String("kind", string(sess.Kind)), zap.Int64("version", sess.Version))
	return nil
}

// ListActiveSessions returns the owner's in-progress sessions.
func (s *SQLiteStore) ListActiveSessions(ctx context.Context, ownerID string) ([]*models.DialogueSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM dialogue_sessions
		 WHERE owner_id = ? AND status IN (?, ?)
		 ORDER BY updated_at DESC`,
		ownerID, models.StatusAnalyzing, models.StatusQuestioning)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	return scanSessions(rows, s.logger)
}

// ListIdleSessions returns active sessions idle since cutoff, oldest first.
func (s *SQLiteStore) ListIdleSessions(ctx context.Context, cutoff time.Time, limit int) ([]*models.DialogueSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM dialogue_sessions
		 WHERE status IN (?, ?) AND updated_at < ?
		 ORDER BY updated_at ASC LIMIT ?`,
		models.StatusAnalyzing, models.StatusQuestioning, utc(cutoff), normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query idle sessions: %w", err)
	}
	return scanSessions(rows, s.logger)
}

// SaveIdentification appends a completed identification to the log.
func (s *SQLiteStore) SaveIdentification(ctx context.Context, rec models.Identification) error {
	candidate, err := json.Marshal(rec.Candidate)
	if err != nil {
		return fmt.Errorf("marshal identification candidate: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO identifications (id, owner_id, session_id, kind, candidate, completed_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, rec.SessionID, rec.Kind, string(candidate), utc(rec.CompletedAt))
	if err != nil {
		s.logger.Error("SQLiteStore.SaveIdentification: insert failed", zap.String("id", rec.ID), zap.Error(err))
		return fmt.Errorf("failed to insert identification %s: %w", rec.ID, err)
	}
	return nil
}

// ListIdentifications returns the owner's identifications, newest first.
func (s *SQLiteStore) ListIdentifications(ctx context.Context, ownerID string, limit int) ([]models.Identification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, session_id, kind, candidate, completed_at FROM identifications
		 WHERE owner_id = ? ORDER BY completed_at DESC LIMIT ?`,
		ownerID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query identifications: %w", err)
	}
	return scanIdentifications(rows, s.logger)
}

// Seen implements dedup.Window on the dedup_keys table. Expired keys are purged
// before the membership test; the upsert only refreshes a key whose window has passed.
func (s *SQLiteStore) Seen(ctx context.Context, key string, window time.Duration) (bool, error) {
	now := s.nowFunc()
	nowMs := now.UnixMilli()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM dedup_keys WHERE expires_ms < ?`, nowMs); err != nil {
		return false, fmt.Errorf("dedup purge failed: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup_keys (dedup_key, seen_at_ms, expires_ms) VALUES (?, ?, ?)
		 ON CONFLICT (dedup_key) DO UPDATE SET seen_at_ms = excluded.seen_at_ms, expires_ms = excluded.expires_ms
		 WHERE dedup_keys.expires_ms < excluded.seen_at_ms`,
		key, nowMs, now.Add(window).UnixMilli())
	if err != nil {
		return false, fmt.Errorf("dedup record failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n == 0, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Debug("SQLiteStore.Close: closing database")
	return s.db.Close()
}

// nullableJSON maps an empty encoding to SQL NULL.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
