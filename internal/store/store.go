// Package store provides storage backends for Kantei.
//
// It persists dialogue sessions, the log of completed identifications and,
// for multi-process deployments, the shared dedup window. An in-memory store
// is used when no database DSN is configured.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BTreeMap/Kantei/internal/models"
)

// Error variables for better error handling and testability
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrVersionConflict = errors.New("session was modified concurrently")
	ErrDSNNotSet       = errors.New("database DSN not set")
)

// SessionRepo persists dialogue sessions. It enforces no invariants beyond
// versioned updates; the one-active-session rule belongs to the dialogue engine.
type SessionRepo interface {
	// CreateSession inserts a new session. Version is reset to 1.
	CreateSession(ctx context.Context, s *models.DialogueSession) error
	// GetSession returns the session with id, or ErrSessionNotFound.
	GetSession(ctx context.Context, id string) (*models.DialogueSession, error)
	// UpdateSession writes s if the stored version still equals s.Version,
	// then increments s.Version. A stale version yields ErrVersionConflict.
	UpdateSession(ctx context.Context, s *models.DialogueSession) error
	// ListActiveSessions returns the owner's sessions in ANALYZING or QUESTIONING,
	// most recently updated first.
	ListActiveSessions(ctx context.Context, ownerID string) ([]*models.DialogueSession, error)
	// ListIdleSessions returns active sessions not updated since cutoff.
	ListIdleSessions(ctx context.Context, cutoff time.Time, limit int) ([]*models.DialogueSession, error)
}

// IdentificationRepo persists the log of completed identifications.
type IdentificationRepo interface {
	SaveIdentification(ctx context.Context, rec models.Identification) error
	// ListIdentifications returns the owner's records, newest first.
	ListIdentifications(ctx context.Context, ownerID string, limit int) ([]models.Identification, error)
}

// Store is the full persistence surface used by Kantei.
type Store interface {
	SessionRepo
	IdentificationRepo
	Close() error
}

// Opts holds configuration options for store constructors.
type Opts struct {
	DSN    string
	Logger *zap.Logger
}

// Option defines a configuration option for store constructors.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithLogger sets the logger used by the store.
func WithLogger(l *zap.Logger) Option {
	return func(o *Opts) { o.Logger = l }
}

func applyOpts(opts []Option) Opts {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}

// DetectDSNType returns "postgres" for PostgreSQL URLs or key/value DSNs, "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open returns the backend matching the configured DSN: Postgres, SQLite,
// or the in-memory store when the DSN is empty.
func Open(opts ...Option) (Store, error) {
	cfg := applyOpts(opts)
	switch {
	case cfg.DSN == "":
		cfg.Logger.Debug("store.Open: no DSN, using in-memory store")
		return NewInMemoryStore(), nil
	case DetectDSNType(cfg.DSN) == "postgres":
		return NewPostgresStore(opts...)
	default:
		return NewSQLiteStore(opts...)
	}
}

// defaultListLimit bounds list queries when the caller passes no limit.
const defaultListLimit = 100

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > defaultListLimit {
		return defaultListLimit
	}
	return limit
}
