package messaging

import (
	"context"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"github.com/BTreeMap/Kantei/internal/models"
	"github.com/BTreeMap/Kantei/internal/whatsapp"
)

// eventRegistrar is implemented by the real whatsmeow-backed client.
type eventRegistrar interface {
	AddEventHandler(handler func(evt any))
}

// WhatsAppService implements Service and Source using the whatsmeow-based client.
type WhatsAppService struct {
	client whatsapp.Messenger
	events chan models.InboundEvent
	logger *zap.Logger
	mu     sync.RWMutex
	ctx    context.Context
	stop   context.CancelFunc
	closed bool
}

var (
	_ Service = (*WhatsAppService)(nil)
	_ Source  = (*WhatsAppService)(nil)
)

// NewWhatsAppService creates a new WhatsAppService wrapping the given client.
func NewWhatsAppService(client whatsapp.Messenger, logger *zap.Logger) *WhatsAppService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WhatsAppService{
		client: client,
		events: make(chan models.InboundEvent, DefaultChannelBufferSize),
		logger: logger,
	}
}

// Start registers the whatsmeow event handler. Events are only accepted
// while ctx is live and the service is not stopped.
func (s *WhatsAppService) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.stop = context.WithCancel(ctx)
	s.mu.Unlock()

	if reg, ok := s.client.(eventRegistrar); ok {
		reg.AddEventHandler(func(evt any) {
			if msg, ok := evt.(*events.Message); ok {
				s.handleIncomingMessage(msg)
			}
		})
		s.logger.Debug("WhatsAppService.Start: event handler registered")
	} else {
		s.logger.Debug("WhatsAppService.Start: client cannot deliver events, skipping handler")
	}
	return nil
}

// Stop stops accepting events and closes the event channel.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.stop != nil {
		s.stop()
	}
	close(s.events)
	if d, ok := s.client.(interface{ Disconnect() }); ok {
		d.Disconnect()
	}
	s.logger.Info("WhatsAppService.Stop: stopped")
	return nil
}

// SendMessage sends a text message.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrServiceStopped
	}
	owner, err := CanonicalOwner(to)
	if err != nil {
		return err
	}
	return s.client.SendMessage(ctx, owner, body)
}

// Events returns inbound text and image messages.
func (s *WhatsAppService) Events() <-chan models.InboundEvent {
	return s.events
}

// handleIncomingMessage converts a whatsmeow message into an inbound event.
// Messages that carry neither text nor an image are ignored.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe {
		return
	}
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}

	ev := models.InboundEvent{
		EventID:    string(evt.Info.ID),
		OwnerID:    whatsapp.OwnerID(evt.Info.Sender),
		ReceivedAt: evt.Info.Timestamp.UTC(),
	}
	switch {
	case evt.Message.GetImageMessage() != nil:
		img := evt.Message.GetImageMessage()
		data, err := s.client.DownloadImage(ctx, img)
		if err != nil {
			s.logger.Error("WhatsAppService.handleIncomingMessage: image download failed",
				zap.String("owner_id", ev.OwnerID), zap.Error(err))
			return
		}
		ev.Image = &models.Image{Data: data, MIMEType: img.GetMimetype()}
		ev.Text = img.GetCaption()
	case evt.Message.GetConversation() != "":
		ev.Text = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage().GetText() != "":
		ev.Text = evt.Message.GetExtendedTextMessage().GetText()
	default:
		s.logger.Debug("WhatsAppService.handleIncomingMessage: ignoring unsupported message", zap.String("owner_id", ev.OwnerID))
		return
	}
	s.emit(ctx, ev)
}

func (s *WhatsAppService) emit(ctx context.Context, ev models.InboundEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Warn("WhatsAppService.emit: dropping event, service stopped", zap.String("owner_id", ev.OwnerID))
		return
	}
	select {
	case s.events <- ev:
		s.logger.Debug("WhatsAppService.emit: event forwarded", zap.String("owner_id", ev.OwnerID), zap.Bool("has_image", ev.HasImage()))
	case <-ctx.Done():
	case <-time.After(DefaultChannelTimeout):
		s.logger.Warn("WhatsAppService.emit: events channel blocked, dropping event",
			zap.String("owner_id", ev.OwnerID), zap.Duration("timeout", DefaultChannelTimeout))
	}
}
