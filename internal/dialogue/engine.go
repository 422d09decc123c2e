// Package dialogue implements the identification dialogue state machine.
//
// A session starts from an image (ANALYZING is never persisted), waits in
// QUESTIONING while the user answers, and ends COMPLETED or CANCELLED. The
// Engine serialises work per owner, enforces a single active session per
// owner and persists every transition with a versioned write. What happens
// inside a transition is decided by a Flow: MediaFlow for media
// identification, SellFlow for product listings.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BTreeMap/Kantei/internal/models"
	"github.com/BTreeMap/Kantei/internal/store"
)

// ErrPersistence wraps store failures. The current event failed and no
// state change may be assumed.
var ErrPersistence = errors.New("dialogue state could not be persisted")

// DefaultIdleTimeout is how long an unanswered session stays active.
const DefaultIdleTimeout = 30 * time.Minute

// Recorder receives the durable output of completed sessions.
type Recorder interface {
	Record(ctx context.Context, rec models.Identification) error
}

// Reply is the engine's answer to one inbound event.
type Reply struct {
	Messages []string
	// Declined means the engine did not handle the event and the caller may route it elsewhere.
	Declined bool
	// Session is the session state after the event, when one was touched.
	Session *models.DialogueSession
}

// Engine drives dialogue sessions.
type Engine struct {
	sessions    store.SessionRepo
	media       Flow
	sell        Flow
	recorder    Recorder
	locks       *ownerLocks
	idleTimeout time.Duration
	nowFunc     func() time.Time
	newID       func() string
	logger      *zap.Logger
}

// EngineOpts holds configuration options for NewEngine.
type EngineOpts struct {
	Recorder    Recorder
	IdleTimeout time.Duration
	Logger      *zap.Logger
	Now         func() time.Time
	NewID       func() string
}

// EngineOption defines a configuration option for NewEngine.
type EngineOption func(*EngineOpts)

// WithRecorder sets the hand-off for completed sessions.
func WithRecorder(r Recorder) EngineOption {
	return func(o *EngineOpts) { o.Recorder = r }
}

// WithIdleTimeout sets how long a session may wait for a reply.
func WithIdleTimeout(d time.Duration) EngineOption {
	return func(o *EngineOpts) { o.IdleTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(o *EngineOpts) { o.Logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(o *EngineOpts) { o.Now = now }
}

// WithIDGenerator overrides the session and record id generator.
func WithIDGenerator(f func() string) EngineOption {
	return func(o *EngineOpts) { o.NewID = f }
}

// NewEngine creates an engine for the media and sell flows. Either flow may be nil.
func NewEngine(sessions store.SessionRepo, media, sell Flow, opts ...EngineOption) *Engine {
	cfg := EngineOpts{IdleTimeout: DefaultIdleTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Engine{
		sessions:    sessions,
		media:       media,
		sell:        sell,
		recorder:    cfg.Recorder,
		locks:       newOwnerLocks(),
		idleTimeout: cfg.IdleTimeout,
		nowFunc:     cfg.Now,
		newID:       cfg.NewID,
		logger:      cfg.Logger,
	}
}

func (e *Engine) flowForIntent(intent models.IntentLabel) Flow {
	switch intent {
	case models.IntentMedia:
		return e.media
	case models.IntentSell:
		return e.sell
	default:
		return nil
	}
}

func (e *Engine) flowForKind(kind models.SessionKind) Flow {
	for _, f := range []Flow{e.media, e.sell} {
		if f != nil && f.Handles(kind) {
			return f
		}
	}
	return nil
}

func (e *Engine) persistFailure(op string, owner string, err error) (Reply, error) {
	e.logger.Error("Engine."+op+": persistence failed", zap.String("owner_id", owner), zap.Error(err))
	return Reply{Messages: []string{TextPersistenceFailure}}, fmt.Errorf("%w: %v", ErrPersistence, err)
}

// OnImageReceived starts a new session for an image classified as intent.
// Any active session of the owner is cancelled first, also when the flow
// cannot start from the image, which is then declined. Intents without a
// dialogue are declined and leave the active session alone.
func (e *Engine) OnImageReceived(ctx context.Context, owner string, intent models.IntentLabel, img *models.Image) (Reply, error) {
	if owner == "" {
		return Reply{}, models.ErrEmptyOwner
	}
	flow := e.flowForIntent(intent)
	if flow == nil || img == nil || img.Empty() {
		e.logger.Debug("Engine.OnImageReceived: declined", zap.String("owner_id", owner), zap.String("intent", string(intent)))
		return Reply{Declined: true}, nil
	}

	unlock := e.locks.Lock(owner)
	defer unlock()

	op := flow.Start(ctx, img)
	if err := e.cancelActive(ctx, owner); err != nil {
		return e.persistFailure("OnImageReceived", owner, err)
	}
	if op == nil {
		e.logger.Debug("Engine.OnImageReceived: flow could not start, declined", zap.String("owner_id", owner), zap.String("intent", string(intent)))
		return Reply{Declined: true}, nil
	}

	now := e.nowFunc().UTC()
	sess := &models.DialogueSession{
		ID:            e.newID(),
		OwnerID:       owner,
		Status:        models.StatusQuestioning,
		Kind:          flow.Kind(),
		VisualSummary: op.VisualSummary,
		Candidate:     op.Candidate,
		TurnHistory:   []models.Turn{{Speaker: models.SpeakerAssistant, Text: op.Question}},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.sessions.CreateSession(ctx, sess); err != nil {
		return e.persistFailure("OnImageReceived", owner, err)
	}
	e.logger.Info("Engine.OnImageReceived: session started",
		zap.String("owner_id", owner), zap.String("session_id", sess.ID), zap.String("kind", string(sess.Kind)),
		zap.Bool("has_candidate", sess.Candidate != nil))
	return Reply{Messages: op.Messages, Session: sess.Clone()}, nil
}

// OnTextReceived resumes the owner's active session with a reply. Without an
// active session the event is declined.
func (e *Engine) OnTextReceived(ctx context.Context, owner, text string) (Reply, error) {
	if owner == "" {
		return Reply{}, models.ErrEmptyOwner
	}

	unlock := e.locks.Lock(owner)
	defer unlock()

	sess, err := e.loadActive(ctx, owner)
	if err != nil {
		return e.persistFailure("OnTextReceived", owner, err)
	}
	if sess == nil {
		e.logger.Debug("Engine.OnTextReceived: no active session, declined", zap.String("owner_id", owner))
		return Reply{Declined: true}, nil
	}

	if IsCancel(text) {
		next := sess.Clone()
		next.Status = models.StatusCancelled
		next.TurnHistory = sess.WithTurns(models.Turn{Speaker: models.SpeakerUser, Text: text})
		if err := e.save(ctx, next); err != nil {
			return e.persistFailure("OnTextReceived", owner, err)
		}
		e.logger.Info("Engine.OnTextReceived: session cancelled by user", zap.String("owner_id", owner), zap.String("session_id", sess.ID))
		return Reply{Messages: []string{textCancelled}, Session: next.Clone()}, nil
	}

	flow := e.flowForKind(sess.Kind)
	if flow == nil {
		e.logger.Warn("Engine.OnTextReceived: no flow for session kind, declined",
			zap.String("session_id", sess.ID), zap.String("kind", string(sess.Kind)))
		return Reply{Declined: true}, nil
	}

	step := flow.Continue(ctx, sess, text)
	if step.Next == nil {
		return Reply{Messages: step.Messages, Session: sess.Clone()}, nil
	}
	if err := e.save(ctx, step.Next); err != nil {
		return e.persistFailure("OnTextReceived", owner, err)
	}
	e.logger.Debug("Engine.OnTextReceived: transition saved",
		zap.String("session_id", sess.ID),
		zap.String("from_kind", string(sess.Kind)), zap.String("to_kind", string(step.Next.Kind)),
		zap.String("status", string(step.Next.Status)), zap.Int("turns", len(step.Next.TurnHistory)))

	if step.Completed {
		e.record(ctx, step.Next)
	}
	return Reply{Messages: step.Messages, Session: step.Next.Clone()}, nil
}

// ActiveSession returns the owner's active session, or nil.
func (e *Engine) ActiveSession(ctx context.Context, owner string) (*models.DialogueSession, error) {
	sessions, err := e.sessions.ListActiveSessions(ctx, owner)
	if err != nil {
		return nil, err
	}
	cutoff := e.idleCutoff()
	for _, s := range sessions {
		if !s.IdleSince(cutoff) {
			return s, nil
		}
	}
	return nil, nil
}

// ExpireIdle cancels sessions that have waited longer than the idle timeout.
// It returns the number of sessions cancelled.
func (e *Engine) ExpireIdle(ctx context.Context, limit int) (int, error) {
	idle, err := e.sessions.ListIdleSessions(ctx, e.idleCutoff(), limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, candidate := range idle {
		ok, err := e.expireOne(ctx, candidate.OwnerID, candidate.ID)
		if err != nil {
			e.logger.Warn("Engine.ExpireIdle: failed to expire session", zap.String("session_id", candidate.ID), zap.Error(err))
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (e *Engine) expireOne(ctx context.Context, owner, id string) (bool, error) {
	unlock := e.locks.Lock(owner)
	defer unlock()

	sess, err := e.sessions.GetSession(ctx, id)
	if err != nil {
		return false, err
	}
	// Re-check under the lock: a reply may have arrived since the listing.
	if !sess.IsActive() || !sess.IdleSince(e.idleCutoff()) {
		return false, nil
	}
	sess.Status = models.StatusCancelled
	if err := e.save(ctx, sess); err != nil {
		return false, err
	}
	e.logger.Info("Engine.expireOne: idle session expired", zap.String("owner_id", owner), zap.String("session_id", id))
	return true, nil
}

func (e *Engine) idleCutoff() time.Time {
	if e.idleTimeout <= 0 {
		return time.Time{}
	}
	return e.nowFunc().Add(-e.idleTimeout)
}

// loadActive returns the newest active session of owner. Idle sessions and
// any surplus active sessions are cancelled on the way.
func (e *Engine) loadActive(ctx context.Context, owner string) (*models.DialogueSession, error) {
	sessions, err := e.sessions.ListActiveSessions(ctx, owner)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	current := sessions[0]
	for _, extra := range sessions[1:] {
		e.logger.Warn("Engine.loadActive: cancelling surplus active session",
			zap.String("owner_id", owner), zap.String("session_id", extra.ID))
		extra.Status = models.StatusCancelled
		if err := e.save(ctx, extra); err != nil {
			return nil, err
		}
	}
	if current.IdleSince(e.idleCutoff()) {
		e.logger.Info("Engine.loadActive: session idle past timeout, expiring",
			zap.String("owner_id", owner), zap.String("session_id", current.ID))
		current.Status = models.StatusCancelled
		if err := e.save(ctx, current); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return current, nil
}

// cancelActive cancels every active session of owner.
func (e *Engine) cancelActive(ctx context.Context, owner string) error {
	sessions, err := e.sessions.ListActiveSessions(ctx, owner)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		s.Status = models.StatusCancelled
		if err := e.save(ctx, s); err != nil {
			return err
		}
		e.logger.Info("Engine.cancelActive: superseded session cancelled",
			zap.String("owner_id", owner), zap.String("session_id", s.ID))
	}
	return nil
}

func (e *Engine) save(ctx context.Context, s *models.DialogueSession) error {
	s.UpdatedAt = e.nowFunc().UTC()
	return e.sessions.UpdateSession(ctx, s)
}

// record hands a completed session to the recorder. Failures are logged; the
// completion itself stands.
func (e *Engine) record(ctx context.Context, s *models.DialogueSession) {
	if e.recorder == nil || s.Candidate == nil {
		return
	}
	rec := models.Identification{
		ID:          e.newID(),
		OwnerID:     s.OwnerID,
		SessionID:   s.ID,
		Kind:        s.Kind,
		Candidate:   *s.Candidate.Clone(),
		CompletedAt: s.UpdatedAt,
	}
	if err := e.recorder.Record(ctx, rec); err != nil {
		e.logger.Error("Engine.record: recorder failed", zap.String("session_id", s.ID), zap.Error(err))
		return
	}
	e.logger.Info("Engine.record: identification recorded",
		zap.String("owner_id", s.OwnerID), zap.String("session_id", s.ID), zap.String("title", s.Candidate.Title()))
}
