package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Default window lengths.
const (
	// DefaultEventWindow covers platform redelivery of the same event.
	DefaultEventWindow = 2 * time.Minute
	// DefaultActionWindow covers double taps of the same user action.
	DefaultActionWindow = 3 * time.Second
)

// GuardOpts holds configuration for a Guard.
type GuardOpts struct {
	EventWindow  time.Duration
	ActionWindow time.Duration
	Logger       *zap.Logger
}

// GuardOption configures a Guard.
type GuardOption func(*GuardOpts)

// WithEventWindow sets the event-level window.
func WithEventWindow(d time.Duration) GuardOption {
	return func(o *GuardOpts) { o.EventWindow = d }
}

// WithActionWindow sets the action-level window.
func WithActionWindow(d time.Duration) GuardOption {
	return func(o *GuardOpts) { o.ActionWindow = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) GuardOption {
	return func(o *GuardOpts) { o.Logger = l }
}

// Guard combines the two independent dedup instances: one keyed by
// platform event and one keyed by (owner, action).
type Guard struct {
	events       Window
	actions      Window
	eventWindow  time.Duration
	actionWindow time.Duration
	logger       *zap.Logger
}

// NewGuard returns a Guard over the given windows.
func NewGuard(events, actions Window, opts ...GuardOption) *Guard {
	cfg := GuardOpts{
		EventWindow:  DefaultEventWindow,
		ActionWindow: DefaultActionWindow,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Guard{
		events:       events,
		actions:      actions,
		eventWindow:  cfg.EventWindow,
		actionWindow: cfg.ActionWindow,
		logger:       cfg.Logger,
	}
}

// FirstDelivery reports whether the event key has not been processed within the event window.
// Backend errors fail open: a new event is never dropped.
func (g *Guard) FirstDelivery(ctx context.Context, eventKey string) bool {
	return g.first(ctx, g.events, eventKey, g.eventWindow, "event")
}

// FirstAction reports whether ownerID has not performed action within the action window.
func (g *Guard) FirstAction(ctx context.Context, ownerID, action string) bool {
	return g.first(ctx, g.actions, ActionKey(ownerID, action), g.actionWindow, "action")
}

func (g *Guard) first(ctx context.Context, w Window, key string, window time.Duration, level string) bool {
	seen, err := w.Seen(ctx, key, window)
	if err != nil {
		g.logger.Warn("Guard.first: dedup backend failed, treating as new",
			zap.String("level", level), zap.String("key", key), zap.Error(err))
		return true
	}
	if seen {
		g.logger.Debug("Guard.first: duplicate suppressed", zap.String("level", level), zap.String("key", key))
	}
	return !seen
}

// EventKey returns the platform event id, or ownerID:unix-millis when none is available.
func EventKey(eventID, ownerID string, at time.Time) string {
	if eventID != "" {
		return eventID
	}
	return ownerID + ":" + strconv.FormatInt(at.UnixMilli(), 10)
}

// ActionKey composes the action-level key for ownerID.
func ActionKey(ownerID, action string) string {
	return ownerID + "|" + action
}

// ImageAction describes an image as an action descriptor keyed by content digest.
func ImageAction(data []byte) string {
	sum := sha256.Sum256(data)
	return "image:" + hex.EncodeToString(sum[:8])
}
