// Package models defines the core data structures for Kantei.
//
// It includes the dialogue session, the candidate union, inbound events and
// recorded identifications, which are shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// IntentLabel is the coarse classification of an inbound image.
type IntentLabel string

const (
	// IntentHelp routes to the "confusing screen" assistance flow.
	IntentHelp IntentLabel = "help"
	// IntentMedia routes to media identification.
	IntentMedia IntentLabel = "media"
	// IntentSell routes to the open-ended product identification flow.
	IntentSell IntentLabel = "sell"
)

// ParseIntentLabel maps free model output onto an IntentLabel.
// Anything unrecognised is HELP.
func ParseIntentLabel(s string) IntentLabel {
	text := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(text, string(IntentMedia)):
		return IntentMedia
	case strings.Contains(text, string(IntentSell)):
		return IntentSell
	default:
		return IntentHelp
	}
}

// Validation constants for inbound input
const (
	// MaxTextLength bounds the text accepted from a single inbound message.
	MaxTextLength = 4096
	// MaxImageBytes bounds the image payload accepted from a single inbound message.
	MaxImageBytes = 10 << 20
)

// Error variables for better error handling and testability
var (
	ErrEmptyOwner    = errors.New("owner id cannot be empty")
	ErrEmptyEvent    = errors.New("event carries neither text nor image")
	ErrTextTooLong   = errors.New("text exceeds maximum length")
	ErrImageTooLarge = errors.New("image exceeds maximum size")
)

// Image is an inbound picture together with its MIME type.
type Image struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
}

// Empty reports whether the image carries no bytes.
func (i Image) Empty() bool {
	return len(i.Data) == 0
}

// InboundEvent is a single message delivered by a messaging platform.
type InboundEvent struct {
	EventID    string    `json:"event_id,omitempty"`
	OwnerID    string    `json:"owner_id"`
	Text       string    `json:"text,omitempty"`
	Image      *Image    `json:"image,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Validate checks the event before it reaches the dialogue engine.
func (e *InboundEvent) Validate() error {
	if e.OwnerID == "" {
		return ErrEmptyOwner
	}
	if e.Image == nil && strings.TrimSpace(e.Text) == "" {
		return ErrEmptyEvent
	}
	if len(e.Text) > MaxTextLength {
		return ErrTextTooLong
	}
	if e.Image != nil && len(e.Image.Data) > MaxImageBytes {
		return ErrImageTooLarge
	}
	return nil
}

// HasImage reports whether the event carries a non-empty image.
func (e *InboundEvent) HasImage() bool {
	return e.Image != nil && !e.Image.Empty()
}
