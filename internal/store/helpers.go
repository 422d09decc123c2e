package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BTreeMap/Kantei/internal/models"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// sessionColumns is the column list shared by every session query.
const sessionColumns = `id, owner_id, status, kind, visual_summary, candidate, turn_history, rejected_titles, version, created_at, updated_at`

// encodedSession holds the JSON columns of a session.
type encodedSession struct {
	candidate      []byte
	turnHistory    []byte
	rejectedTitles []byte
}

func encodeSession(s *models.DialogueSession) (encodedSession, error) {
	var enc encodedSession
	var err error
	if s.Candidate != nil {
		if enc.candidate, err = json.Marshal(s.Candidate); err != nil {
			return enc, fmt.Errorf("marshal candidate: %w", err)
		}
	}
	history := s.TurnHistory
	if history == nil {
		history = []models.Turn{}
	}
	if enc.turnHistory, err = json.Marshal(history); err != nil {
		return enc, fmt.Errorf("marshal turn history: %w", err)
	}
	rejected := s.RejectedTitles
	if rejected == nil {
		rejected = []string{}
	}
	if enc.rejectedTitles, err = json.Marshal(rejected); err != nil {
		return enc, fmt.Errorf("marshal rejected titles: %w", err)
	}
	return enc, nil
}

// scanSession scans one session row. Corrupt JSON columns degrade to empty
// values rather than failing the read.
func scanSession(row rowScanner, logger *zap.Logger) (*models.DialogueSession, error) {
	var s models.DialogueSession
	var candidate, history, rejected []byte
	err := row.Scan(&s.ID, &s.OwnerID, &s.Status, &s.Kind, &s.VisualSummary,
		&candidate, &history, &rejected, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(candidate) > 0 && string(candidate) != "null" {
		var c models.Candidate
		if err := json.Unmarshal(candidate, &c); err != nil {
			logger.Error("scanSession: candidate JSON unmarshal failed", zap.String("session_id", s.ID), zap.Error(err))
		} else {
			s.Candidate = &c
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &s.TurnHistory); err != nil {
			logger.Error("scanSession: turn history JSON unmarshal failed", zap.String("session_id", s.ID), zap.Error(err))
			s.TurnHistory = nil
		}
	}
	if len(rejected) > 0 {
		if err := json.Unmarshal(rejected, &s.RejectedTitles); err != nil {
			logger.Error("scanSession: rejected titles JSON unmarshal failed", zap.String("session_id", s.ID), zap.Error(err))
			s.RejectedTitles = nil
		}
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

func scanSessions(rows *sql.Rows, logger *zap.Logger) ([]*models.DialogueSession, error) {
	defer rows.Close()
	var out []*models.DialogueSession
	for rows.Next() {
		s, err := scanSession(rows, logger)
		if err != nil {
			return nil, fmt.Errorf("scan session failed: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows failed: %w", err)
	}
	return out, nil
}

func scanIdentifications(rows *sql.Rows, logger *zap.Logger) ([]models.Identification, error) {
	defer rows.Close()
	var out []models.Identification
	for rows.Next() {
		var rec models.Identification
		var candidate []byte
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.SessionID, &rec.Kind, &candidate, &rec.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan identification failed: %w", err)
		}
		if err := json.Unmarshal(candidate, &rec.Candidate); err != nil {
			logger.Error("scanIdentifications: candidate JSON unmarshal failed", zap.String("id", rec.ID), zap.Error(err))
		}
		rec.CompletedAt = rec.CompletedAt.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identification rows failed: %w", err)
	}
	return out, nil
}

// versionMiss decides between ErrSessionNotFound and ErrVersionConflict after
// an update touched no rows.
func versionMiss(exists bool) error {
	if !exists {
		return ErrSessionNotFound
	}
	return ErrVersionConflict
}

// utc normalises t so textual timestamp comparisons stay ordered.
func utc(t time.Time) time.Time {
	return t.UTC()
}
