// Package inbound routes inbound chat events into the dialogue engine and
// sends the replies back out.
//
// Every event passes the dedup guard by platform event id. Images also pass
// it by (owner, image digest) so a photo sent twice in a row starts a single
// dialogue; text replies skip that check because the same short answer, such
// as "はい", is legitimately sent on consecutive turns. Survivors are
// classified (images) or handed to the active session (text). Every handled
// event produces at least one reply.
package inbound

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/BTreeMap/Kantei/internal/dedup"
	"github.com/BTreeMap/Kantei/internal/dialogue"
	"github.com/BTreeMap/Kantei/internal/messaging"
	"github.com/BTreeMap/Kantei/internal/models"
)

// User-facing texts owned by the dispatcher.
const (
	// TextHelp answers events no dialogue handled.
	TextHelp = "🤖 テレビや配信の画面、売りたい物の写真を送ってください。一緒に作品名や出品情報を調べます！\n途中でやめたいときは「キャンセル」と送ってください。"
	// TextInternalError answers events that failed outside the dialogue engine.
	TextInternalError = "申し訳ありません、メッセージを処理できませんでした。もう一度お試しください。"
)

// Classifier labels an inbound image.
type Classifier interface {
	ClassifyIntent(ctx context.Context, img *models.Image) models.IntentLabel
}

// Engine is the dialogue surface the dispatcher drives.
type Engine interface {
	OnImageReceived(ctx context.Context, owner string, intent models.IntentLabel, img *models.Image) (dialogue.Reply, error)
	OnTextReceived(ctx context.Context, owner, text string) (dialogue.Reply, error)
}

// Result describes what happened to one event.
type Result struct {
	// Duplicate is set when the guard suppressed the event.
	Duplicate bool
	Intent    models.IntentLabel
	Messages  []string
}

// Dispatcher glues the guard, classifier, engine and outbound transport.
type Dispatcher struct {
	guard      *dedup.Guard
	classifier Classifier
	engine     Engine
	sender     messaging.Sender
	logger     *zap.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(guard *dedup.Guard, classifier Classifier, engine Engine, sender messaging.Sender, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{guard: guard, classifier: classifier, engine: engine, sender: sender, logger: logger}
}

// Handle processes one inbound event end to end. Errors are logged and
// returned after the user has been answered; they never stop the caller.
func (d *Dispatcher) Handle(ctx context.Context, ev models.InboundEvent) (Result, error) {
	if err := ev.Validate(); err != nil {
		d.logger.Warn("Dispatcher.Handle: invalid event", zap.String("owner_id", ev.OwnerID), zap.Error(err))
		return Result{}, err
	}

	if !d.guard.FirstDelivery(ctx, dedup.EventKey(ev.EventID, ev.OwnerID, ev.ReceivedAt)) {
		return Result{Duplicate: true}, nil
	}
	if ev.HasImage() && !d.guard.FirstAction(ctx, ev.OwnerID, dedup.ImageAction(ev.Image.Data)) {
		return Result{Duplicate: true}, nil
	}

	var (
		res   Result
		reply dialogue.Reply
		err   error
	)
	if ev.HasImage() {
		res.Intent = d.classifier.ClassifyIntent(ctx, ev.Image)
		d.logger.Debug("Dispatcher.Handle: image classified", zap.String("owner_id", ev.OwnerID), zap.String("intent", string(res.Intent)))
		reply, err = d.engine.OnImageReceived(ctx, ev.OwnerID, res.Intent, ev.Image)
	} else {
		reply, err = d.engine.OnTextReceived(ctx, ev.OwnerID, ev.Text)
	}

	switch {
	case err != nil:
		d.logger.Error("Dispatcher.Handle: dialogue failed", zap.String("owner_id", ev.OwnerID), zap.Error(err))
		res.Messages = reply.Messages
		if len(res.Messages) == 0 {
			res.Messages = []string{TextInternalError}
		}
	case reply.Declined:
		res.Messages = []string{TextHelp}
	default:
		res.Messages = reply.Messages
	}

	if sendErr := d.send(ctx, ev.OwnerID, res.Messages); sendErr != nil {
		err = errors.Join(err, sendErr)
	}
	return res, err
}

func (d *Dispatcher) send(ctx context.Context, owner string, messages []string) error {
	for _, msg := range messages {
		if err := d.sender.SendMessage(ctx, owner, msg); err != nil {
			d.logger.Error("Dispatcher.send: outbound message failed", zap.String("owner_id", owner), zap.Error(err))
			return err
		}
	}
	return nil
}

// Consume handles events from a transport until ctx is done or the channel closes.
func (d *Dispatcher) Consume(ctx context.Context, events <-chan models.InboundEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			// Errors are already logged; the next event proceeds regardless.
			_, _ = d.Handle(ctx, ev)
		}
	}
}
