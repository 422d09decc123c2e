package models

import "time"

// Identification is the durable output of a completed session, handed to the recorder.
type Identification struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"owner_id"`
	SessionID   string      `json:"session_id"`
	Kind        SessionKind `json:"kind"`
	Candidate   Candidate   `json:"candidate"`
	CompletedAt time.Time   `json:"completed_at"`
}
