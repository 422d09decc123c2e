package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/Kantei/internal/models"
)

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// InMemoryStore keeps sessions and identifications in process memory.
// Values are cloned on the way in and out so callers never share state with the store.
type InMemoryStore struct {
	mu              sync.RWMutex
	sessions        map[string]*models.DialogueSession
	identifications []models.Identification
}

// NewInMemoryStore returns an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*models.DialogueSession)}
}

func (s *InMemoryStore) CreateSession(_ context.Context, sess *models.DialogueSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.Version = 1
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *InMemoryStore) GetSession(_ context.Context, id string) (*models.DialogueSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *InMemoryStore) UpdateSession(_ context.Context, sess *models.DialogueSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[sess.ID]
	if !ok {
		return ErrSessionNotFound
	}
	if cur.Version != sess.Version {
		return ErrVersionConflict
	}
	sess.Version++
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *InMemoryStore) ListActiveSessions(_ context.Context, ownerID string) ([]*models.DialogueSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.DialogueSession
	for _, sess := range s.sessions {
		if sess.OwnerID == ownerID && sess.IsActive() {
			out = append(out, sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *InMemoryStore) ListIdleSessions(_ context.Context, cutoff time.Time, limit int) ([]*models.DialogueSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.DialogueSession
	for _, sess := range s.sessions {
		if sess.IsActive() && sess.IdleSince(cutoff) {
			out = append(out, sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) SaveIdentification(_ context.Context, rec models.Identification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Candidate = *rec.Candidate.Clone()
	s.identifications = append(s.identifications, rec)
	return nil
}

func (s *InMemoryStore) ListIdentifications(_ context.Context, ownerID string, limit int) ([]models.Identification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Identification
	for i := len(s.identifications) - 1; i >= 0; i-- {
		if rec := s.identifications[i]; rec.OwnerID == ownerID {
			out = append(out, rec)
		}
	}
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
