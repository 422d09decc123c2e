package dialogue

import (
	"context"

	"github.com/BTreeMap/Kantei/internal/models"
)

// Opening is the first state of a new session produced by a flow.
type Opening struct {
	VisualSummary string
	Question      string
	Candidate     *models.Candidate
	// Messages are delivered to the user; the hidden candidate is never part of them.
	Messages []string
}

// Step is the outcome of one reply handled by a flow.
type Step struct {
	// Next is the proposed session; nil leaves the stored session untouched.
	Next *models.DialogueSession
	// Messages are delivered to the user.
	Messages []string
	// Completed hands Next's candidate to the recorder after it is saved.
	Completed bool
}

// Flow is one dialogue variant sharing the session shape. Flows compute
// transitions; the Engine owns locking, persistence and recording.
type Flow interface {
	// Kind is the kind of a freshly started session.
	Kind() models.SessionKind
	// Handles reports whether sessions of kind belong to this flow.
	Handles(kind models.SessionKind) bool
	// Start opens a dialogue from an image. A nil Opening means the flow could not start.
	Start(ctx context.Context, img *models.Image) *Opening
	// Continue applies a user reply to an active session. sess must not be modified.
	Continue(ctx context.Context, sess *models.DialogueSession, reply string) Step
}

// unchanged is the recoverable-failure step: a follow-up prompt and no state change.
func unchanged(messages ...string) Step {
	return Step{Messages: messages}
}
