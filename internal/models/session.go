package models

import "time"

// SessionStatus is the lifecycle status of a dialogue session.
type SessionStatus string

const (
	// StatusAnalyzing is transient and only exists while the initiating image is handled.
	StatusAnalyzing SessionStatus = "ANALYZING"
	// StatusQuestioning means the session is waiting for a user reply.
	StatusQuestioning SessionStatus = "QUESTIONING"
	// StatusCompleted is terminal: the candidate was confirmed and recorded.
	StatusCompleted SessionStatus = "COMPLETED"
	// StatusCancelled is terminal: the session was abandoned, superseded or expired.
	StatusCancelled SessionStatus = "CANCELLED"
)

// ActiveStatuses lists the statuses that count as an in-progress session.
var ActiveStatuses = []SessionStatus{StatusAnalyzing, StatusQuestioning}

// IsTerminal reports whether no further transition may act on the status.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// SessionKind discriminates the dialogue flows sharing one session shape.
type SessionKind string

const (
	// KindMediaDialogue is the question/answer stage of media identification.
	KindMediaDialogue SessionKind = "MEDIA_DIALOGUE"
	// KindMediaConfirm is the explicit yes/no stage before a media result is recorded.
	KindMediaConfirm SessionKind = "MEDIA_CONFIRM"
	// KindOpenEnded is the product identification dialogue with a free-form attribute map.
	KindOpenEnded SessionKind = "OPEN_ENDED_DIALOGUE"
)

// IsValid reports whether k is a known session kind.
func (k SessionKind) IsValid() bool {
	switch k {
	case KindMediaDialogue, KindMediaConfirm, KindOpenEnded:
		return true
	default:
		return false
	}
}

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerAssistant Speaker = "assistant"
	SpeakerUser      Speaker = "user"
)

// Turn is one entry of the conversation history.
type Turn struct {
	Speaker Speaker `json:"role"`
	Text    string  `json:"text"`
}

// DialogueSession is one in-progress or finished identification conversation.
type DialogueSession struct {
	ID             string        `json:"id"`
	OwnerID        string        `json:"owner_id"`
	Status         SessionStatus `json:"status"`
	Kind           SessionKind   `json:"kind"`
	VisualSummary  string        `json:"visual_summary"`
	Candidate      *Candidate    `json:"candidate,omitempty"`
	TurnHistory    []Turn        `json:"turn_history"`
	RejectedTitles []string      `json:"rejected_titles,omitempty"`
	Version        int64         `json:"version"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// IsActive reports whether the session still accepts transitions.
func (s *DialogueSession) IsActive() bool {
	return s != nil && !s.Status.IsTerminal()
}

// IdleSince reports whether the session has not been touched since cutoff.
func (s *DialogueSession) IdleSince(cutoff time.Time) bool {
	return s.UpdatedAt.Before(cutoff)
}

// RecentTurns returns at most the last n turns of the history.
// A non-positive n returns the whole history.
func (s *DialogueSession) RecentTurns(n int) []Turn {
	return LastTurns(s.TurnHistory, n)
}

// WithTurns returns a new history slice consisting of the session history
// followed by the given turns. The stored history is never modified in place.
func (s *DialogueSession) WithTurns(turns ...Turn) []Turn {
	out := make([]Turn, 0, len(s.TurnHistory)+len(turns))
	out = append(out, s.TurnHistory...)
	return append(out, turns...)
}

// HasRejected reports whether title was already rejected by the owner.
func (s *DialogueSession) HasRejected(title string) bool {
	if title == "" {
		return false
	}
	for _, t := range s.RejectedTitles {
		if t == title {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so transitions can work on a scratch value.
func (s *DialogueSession) Clone() *DialogueSession {
	if s == nil {
		return nil
	}
	c := *s
	c.TurnHistory = append([]Turn(nil), s.TurnHistory...)
	c.RejectedTitles = append([]string(nil), s.RejectedTitles...)
	c.Candidate = s.Candidate.Clone()
	return &c
}

// LastTurns returns at most the last n entries of turns.
func LastTurns(turns []Turn, n int) []Turn {
	if n <= 0 || len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
