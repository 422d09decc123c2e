package inbound

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/BTreeMap/Kantei/internal/dedup"
	"github.com/BTreeMap/Kantei/internal/dialogue"
	"github.com/BTreeMap/Kantei/internal/models"
)

const owner = "+819012345678"

type fixedClassifier struct {
	label models.IntentLabel
	calls int
}

func (c *fixedClassifier) ClassifyIntent(context.Context, *models.Image) models.IntentLabel {
	c.calls++
	return c.label
}

type fakeEngine struct {
	mu         sync.Mutex
	imageReply dialogue.Reply
	textReply  dialogue.Reply
	err        error
	intents    []models.IntentLabel
	texts      []string
}

func (e *fakeEngine) OnImageReceived(_ context.Context, _ string, intent models.IntentLabel, _ *models.Image) (dialogue.Reply, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.intents = append(e.intents, intent)
	return e.imageReply, e.err
}

func (e *fakeEngine) OnTextReceived(_ context.Context, _ string, text string) (dialogue.Reply, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.texts = append(e.texts, text)
	return e.textReply, e.err
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *recordingSender) SendMessage(_ context.Context, _ string, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, body)
	return nil
}

func newDispatcher(label models.IntentLabel, engine *fakeEngine) (*Dispatcher, *fixedClassifier, *recordingSender) {
	cls := &fixedClassifier{label: label}
	snd := &recordingSender{}
	guard := dedup.NewGuard(dedup.NewMemoryWindow(), dedup.NewMemoryWindow())
	return NewDispatcher(guard, cls, engine, snd, nil), cls, snd
}

var at = time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

func imageEvent(id string, data string) models.InboundEvent {
	return models.InboundEvent{EventID: id, OwnerID: owner, Image: &models.Image{Data: []byte(data), MIMEType: "image/png"}, ReceivedAt: at}
}

func textEvent(id, text string) models.InboundEvent {
	return models.InboundEvent{EventID: id, OwnerID: owner, Text: text, ReceivedAt: at}
}

func TestDispatcher_ImageRoutedByIntent(t *testing.T) {
	engine := &fakeEngine{imageReply: dialogue.Reply{Messages: []string{"Is this a Gundam series?"}}}
	d, cls, snd := newDispatcher(models.IntentMedia, engine)

	res, err := d.Handle(context.Background(), imageEvent("SM1", "img"))
	require.NoError(t, err)
	assert.Equal(t, models.IntentMedia, res.Intent)
	assert.Equal(t, 1, cls.calls)
	assert.Equal(t, []models.IntentLabel{models.IntentMedia}, engine.intents)
	assert.Equal(t, []string{"Is this a Gundam series?"}, snd.sent)
}

func TestDispatcher_DeclinedGetsHelp(t *testing.T) {
	engine := &fakeEngine{imageReply: dialogue.Reply{Declined: true}, textReply: dialogue.Reply{Declined: true}}
	d, _, snd := newDispatcher(models.IntentHelp, engine)
	ctx := context.Background()

	_, err := d.Handle(ctx, imageEvent("SM1", "img"))
	require.NoError(t, err)
	_, err = d.Handle(ctx, textEvent("SM2", "hello"))
	require.NoError(t, err)
	assert.Equal(t, []string{TextHelp, TextHelp}, snd.sent)
}

func TestDispatcher_Duplicates(t *testing.T) {
	engine := &fakeEngine{textReply: dialogue.Reply{Messages: []string{"next?"}}}
	d, _, snd := newDispatcher(models.IntentMedia, engine)
	ctx := context.Background()

	_, err := d.Handle(ctx, textEvent("SM1", "it has wings"))
	require.NoError(t, err)

	res, err := d.Handle(ctx, textEvent("SM1", "it has wings"))
	require.NoError(t, err)
	assert.True(t, res.Duplicate, "redelivered event")

	res, err = d.Handle(ctx, textEvent("SM2", "different hint"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	assert.Equal(t, []string{"it has wings", "different hint"}, engine.texts)
	assert.Len(t, snd.sent, 2)
}

func TestDispatcher_DoubleSentImage(t *testing.T) {
	engine := &fakeEngine{imageReply: dialogue.Reply{Messages: []string{"Is this a Gundam series?"}}}
	d, cls, snd := newDispatcher(models.IntentMedia, engine)
	ctx := context.Background()

	_, err := d.Handle(ctx, imageEvent("SM1", "img"))
	require.NoError(t, err)

	res, err := d.Handle(ctx, imageEvent("SM2", "img"))
	require.NoError(t, err)
	assert.True(t, res.Duplicate, "same photo sent twice")

	res, err = d.Handle(ctx, imageEvent("SM3", "another img"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	assert.Equal(t, 2, cls.calls)
	assert.Len(t, snd.sent, 2)
}

func TestDispatcher_RepeatedShortAnswerIsHandled(t *testing.T) {
	engine := &fakeEngine{textReply: dialogue.Reply{Messages: []string{"ok"}}}
	d, _, snd := newDispatcher(models.IntentMedia, engine)
	ctx := context.Background()

	// The dialogue "はい" is followed by the confirmation "はい" within a second.
	for _, id := range []string{"SM1", "SM2"} {
		res, err := d.Handle(ctx, textEvent(id, "はい"))
		require.NoError(t, err)
		assert.False(t, res.Duplicate)
	}
	assert.Equal(t, []string{"はい", "はい"}, engine.texts)
	assert.Equal(t, []string{"ok", "ok"}, snd.sent)
}

func TestDispatcher_PersistenceFailureApologises(t *testing.T) {
	engine := &fakeEngine{
		textReply: dialogue.Reply{Messages: []string{dialogue.TextPersistenceFailure}},
		err:       fmt.Errorf("%w: db down", dialogue.ErrPersistence),
	}
	d, _, snd := newDispatcher(models.IntentMedia, engine)

	_, err := d.Handle(context.Background(), textEvent("SM1", "hint"))
	assert.ErrorIs(t, err, dialogue.ErrPersistence)
	assert.Equal(t, []string{dialogue.TextPersistenceFailure}, snd.sent)
}

func TestDispatcher_UnexpectedErrorStillReplies(t *testing.T) {
	engine := &fakeEngine{err: models.ErrEmptyOwner}
	d, _, snd := newDispatcher(models.IntentMedia, engine)

	_, err := d.Handle(context.Background(), textEvent("SM1", "hint"))
	assert.Error(t, err)
	assert.Equal(t, []string{TextInternalError}, snd.sent)
}

func TestDispatcher_InvalidEvent(t *testing.T) {
	d, _, snd := newDispatcher(models.IntentMedia, &fakeEngine{})
	_, err := d.Handle(context.Background(), models.InboundEvent{OwnerID: owner})
	assert.ErrorIs(t, err, models.ErrEmptyEvent)
	assert.Empty(t, snd.sent)
}

func TestDispatcher_SendFailure(t *testing.T) {
	engine := &fakeEngine{textReply: dialogue.Reply{Messages: []string{"a", "b"}}}
	d, _, snd := newDispatcher(models.IntentMedia, engine)
	snd.err = errors.New("twilio 500")

	_, err := d.Handle(context.Background(), textEvent("SM1", "hint"))
	assert.ErrorIs(t, err, snd.err)
}

func TestDispatcher_Consume(t *testing.T) {
	defer goleak.VerifyNone(t)

	engine := &fakeEngine{textReply: dialogue.Reply{Messages: []string{"ok"}}}
	d, _, snd := newDispatcher(models.IntentMedia, engine)

	events := make(chan models.InboundEvent, 3)
	events <- textEvent("SM1", "one")
	events <- textEvent("SM2", "two")
	events <- models.InboundEvent{}
	close(events)

	require.NoError(t, d.Consume(context.Background(), events))
	assert.Equal(t, []string{"ok", "ok"}, snd.sent)
}
