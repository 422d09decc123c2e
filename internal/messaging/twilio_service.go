package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BTreeMap/Kantei/internal/models"
	"github.com/BTreeMap/Kantei/internal/twiliowhatsapp"
)

// TwilioWebhook is the subset of a Twilio WhatsApp webhook Kantei reads.
type TwilioWebhook struct {
	MessageSid        string
	From              string
	Body              string
	NumMedia          int
	MediaURL0         string
	MediaContentType0 string
}

// TwilioService implements Service using the Twilio API.
type TwilioService struct {
	client  twiliowhatsapp.Sender
	logger  *zap.Logger
	nowFunc func() time.Time
	mu      sync.RWMutex
	stopped bool
}

var _ Service = (*TwilioService)(nil)

// NewTwilioService creates a TwilioService over client.
func NewTwilioService(client twiliowhatsapp.Sender, logger *zap.Logger) *TwilioService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TwilioService{client: client, logger: logger, nowFunc: time.Now}
}

// Start is a no-op for Twilio; inbound events arrive over the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop marks the service stopped.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

// SendMessage sends a message via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}

	owner, err := CanonicalOwner(to)
	if err != nil {
		s.logger.Error("TwilioService.SendMessage: invalid recipient", zap.String("to", to), zap.Error(err))
		return err
	}
	return s.client.SendMessage(ctx, twiliowhatsapp.Address(owner), body)
}

// InboundEvent converts a webhook into an inbound event, downloading the first
// image attachment when present. Non-image attachments are ignored.
func (s *TwilioService) InboundEvent(ctx context.Context, hook TwilioWebhook) (models.InboundEvent, error) {
	owner, err := CanonicalOwner(hook.From)
	if err != nil {
		return models.InboundEvent{}, err
	}
	ev := models.InboundEvent{
		EventID:    hook.MessageSid,
		OwnerID:    owner,
		Text:       hook.Body,
		ReceivedAt: s.nowFunc().UTC(),
	}
	if hook.NumMedia > 0 && hook.MediaURL0 != "" && strings.HasPrefix(hook.MediaContentType0, "image/") {
		data, mime, err := s.client.FetchMedia(ctx, hook.MediaURL0, models.MaxImageBytes)
		if err != nil {
			return models.InboundEvent{}, fmt.Errorf("failed to fetch inbound image: %w", err)
		}
		if mime == "" {
			mime = hook.MediaContentType0
		}
		ev.Image = &models.Image{Data: data, MIMEType: mime}
		s.logger.Debug("TwilioService.InboundEvent: image fetched",
			zap.String("owner_id", owner), zap.Int("bytes", len(data)), zap.String("mime_type", mime))
	}
	return ev, nil
}
