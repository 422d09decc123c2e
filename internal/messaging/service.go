// Package messaging provides the transport services Kantei talks to users through.
//
// A Service sends text to an owner. Transports that receive events on their
// own connection (whatsmeow) also implement Source; Twilio events arrive over
// the HTTP webhook instead.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/BTreeMap/Kantei/internal/models"
)

// Constants for service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the inbound event channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned by SendMessage after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Sender delivers text messages to an owner.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Service is a pluggable message transport.
type Service interface {
	Sender
	// Start begins any background processing.
	Start(ctx context.Context) error
	// Stop stops background processing and cleans up resources.
	Stop() error
}

// Source is a transport that produces inbound events on its own.
type Source interface {
	Events() <-chan models.InboundEvent
}

// CanonicalOwner validates a phone-number style identifier and returns it as
// "+<digits>". Prefixes such as "whatsapp:" and any punctuation are dropped.
func CanonicalOwner(recipient string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyOwner
	}
	digits := phoneNumberRegex.ReplaceAllString(recipient, "")
	if digits == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(digits) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", digits)
	}
	return "+" + digits, nil
}
