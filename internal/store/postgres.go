// This file implements a PostgreSQL-backed store for sessions, identifications and dedup keys.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/BTreeMap/Kantei/internal/dedup"
	"github.com/BTreeMap/Kantei/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time checks for PostgresStore.
var (
	_ Store        = (*PostgresStore)(nil)
	_ dedup.Window = (*PostgresStore)(nil)
)

// PostgresStore persists Kantei state in PostgreSQL. It is safe to share
// between several Kantei processes.
type PostgresStore struct {
	db      *sql.DB
	logger  *zap.Logger
	nowFunc func() time.Time
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := applyOpts(opts)
	logger := cfg.Logger
	logger.Debug("PostgresStore.NewPostgresStore: creating Postgres store", zap.Bool("dsn_set", cfg.DSN != ""))

	if cfg.DSN == "" {
		return nil, ErrDSNNotSet
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		logger.Error("PostgresStore.NewPostgresStore: failed to open connection", zap.Error(err))
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		logger.Error("PostgresStore.NewPostgresStore: ping failed", zap.Error(err))
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		logger.Error("PostgresStore.NewPostgresStore: migrations failed", zap.Error(err))
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Debug("PostgresStore.NewPostgresStore: migrations applied")

	return &PostgresStore{db: db, logger: logger, nowFunc: time.Now}, nil
}

// CreateSession inserts a new session.
func (s *PostgresStore) CreateSession(ctx context.Context, sess *models.DialogueSession) error {
	enc, err := encodeSession(sess)
	if err != nil {
		return err
	}
	sess.Version = 1
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dialogue_sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sess.ID, sess.OwnerID, sess.Status, sess.Kind, sess.VisualSummary,
		nullableJSON(enc.candidate), string(enc.turnHistory), string(enc.rejectedTitles),
		sess.Version, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		s.logger.Error("PostgresStore.CreateSession: insert failed", zap.String("session_id", sess.ID), zap.Error(err))
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	s.logger.Debug("PostgresStore.CreateSession: inserted", zap.String("session_id", sess.ID), zap.String("owner_id", sess.OwnerID))
	return nil
}

// GetSession returns the session with id.
func (s *PostgresStore) GetSession(ctx context.Context, id string) (*models.DialogueSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM dialogue_sessions WHERE id = $1`, id)
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
func (s *PostgresStore) UpdateSession(ctx context.Context, sess *models.DialogueSession) error {
	enc, err := encodeSession(sess)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE dialogue_sessions
		 SET status = $1, kind = $2, visual_summary = $3, candidate = $4, turn_history = $5, rejected_titles = $6,
		     version = version + 1, updated_at = $7
		 WHERE id = $8 AND version = $9`,
		sess.Status, sess.Kind, sess.VisualSummary, nullableJSON(enc.candidate),
		string(enc.turnHistory), string(enc.rejectedTitles), sess.UpdatedAt,
		sess.ID, sess.Version)
	if err != nil {
		s.logger.Error("PostgresStore.UpdateSession: update failed", zap.String("session_id", sess.ID), zap.Error(err))
		return fmt.Errorf("failed to update session %s: %w", sess.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session rows affected check failed: %w", err)
	}
	if n == 0 {
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM dialogue_sessions WHERE id = $1`, sess.ID).Scan(&one)
		return versionMiss(err == nil)
	}
	sess.Version++
	s.logger.Debug("PostgresStore.UpdateSession: updated", zap.String("session_id", sess.ID),
		zap.String("status", string(sess.Status)), zap.String("kind", string(sess.Kind)), zap.Int64("version", sess.Version))
	return nil
}

// ListActiveSessions returns the owner's in-progress sessions.
func (s *PostgresStore) ListActiveSessions(ctx context.Context, ownerID string) ([]*models.DialogueSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM dialogue_sessions
		 WHERE owner_id = $1 AND status IN ($2, $3)
		 ORDER BY updated_at DESC`,
		ownerID, models.StatusAnalyzing, models.StatusQuestioning)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	return scanSessions(rows, s.logger)
}

// ListIdleSessions returns active sessions idle since cutoff, oldest first.
func (s *PostgresStore) ListIdleSessions(ctx context.Context, cutoff time.Time, limit int) ([]*models.DialogueSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM dialogue_sessions
		 WHERE status IN ($1, $2) AND updated_at < $3
		 ORDER BY updated_at ASC LIMIT $4`,
		models.StatusAnalyzing, models.StatusQuestioning, cutoff, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query idle sessions: %w", err)
	}
	return scanSessions(rows, s.logger)
}

// SaveIdentification appends a completed identification to the log.
func (s *PostgresStore) SaveIdentification(ctx context.Context, rec models.Identification) error {
	candidate, err := json.Marshal(rec.Candidate)
	if err != nil {
		return fmt.Errorf("marshal identification candidate: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO identifications (id, owner_id, session_id, kind, candidate, completed_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.OwnerID, rec.SessionID, rec.Kind, string(candidate), rec.CompletedAt)
	if err != nil {
		s.logger.Error("PostgresStore.SaveIdentification: insert failed", zap.String("id", rec.ID), zap.Error(err))
		return fmt.Errorf("failed to insert identification %s: %w", rec.ID, err)
	}
	return nil
}

// ListIdentifications returns the owner's identifications, newest first.
func (s *PostgresStore) ListIdentifications(ctx context.Context, ownerID string, limit int) ([]models.Identification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, session_id, kind, candidate, completed_at FROM identifications
		 WHERE owner_id = $1 ORDER BY completed_at DESC LIMIT $2`,
		ownerID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query identifications: %w", err)
	}
	return scanIdentifications(rows, s.logger)
}

// Seen implements dedup.Window. A single upsert decides membership, so
// concurrent processes racing on one key get exactly one "not seen".
func (s *PostgresStore) Seen(ctx context.Context, key string, window time.Duration) (bool, error) {
	now := s.nowFunc()
	nowMs := now.UnixMilli()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM dedup_keys WHERE expires_ms < $1`, nowMs); err != nil {
		return false, fmt.Errorf("dedup purge failed: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup_keys (dedup_key, seen_at_ms, expires_ms) VALUES ($1, $2, $3)
		 ON CONFLICT (dedup_key) DO UPDATE SET seen_at_ms = EXCLUDED.seen_at_ms, expires_ms = EXCLUDED.expires_ms
		 WHERE dedup_keys.expires_ms < EXCLUDED.seen_at_ms`,
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
func (s *PostgresStore) Close() error {
	s.logger.Debug("PostgresStore.Close: closing database")
	return s.db.Close()
}
