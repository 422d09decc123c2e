package dialogue

import (
	"context"

	"go.uber.org/zap"

	"github.com/BTreeMap/Kantei/internal/enrich"
	"github.com/BTreeMap/Kantei/internal/genai"
	"github.com/BTreeMap/Kantei/internal/models"
)

// MediaCapability is the model-backed part of media identification.
type MediaCapability interface {
	StartIdentification(ctx context.Context, img *models.Image) (*genai.MediaOpening, error)
	ContinueIdentification(ctx context.Context, in genai.MediaTurn) (genai.MediaResult, error)
}

// maxRepeatedGuesses ends a session whose model keeps finalizing titles the
// owner already rejected.
const maxRepeatedGuesses = 3

// MediaFlow identifies a media item through a question/answer dialogue
// followed by an explicit confirmation stage.
type MediaFlow struct {
	caps          MediaCapability
	enricher      enrich.Enricher
	maxRejections int
	logger        *zap.Logger
}

var _ Flow = (*MediaFlow)(nil)

// NewMediaFlow creates the media flow. maxRejections caps confirmation-stage
// rejections per session; zero disables the cap.
func NewMediaFlow(caps MediaCapability, enricher enrich.Enricher, maxRejections int, logger *zap.Logger) *MediaFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaFlow{caps: caps, enricher: enricher, maxRejections: maxRejections, logger: logger}
}

func (f *MediaFlow) Kind() models.SessionKind { return models.KindMediaDialogue }

func (f *MediaFlow) Handles(kind models.SessionKind) bool {
	return kind == models.KindMediaDialogue || kind == models.KindMediaConfirm
}

// Start asks the model for a visual summary and a first question. The
// model's guess is kept as the hidden candidate.
func (f *MediaFlow) Start(ctx context.Context, img *models.Image) *Opening {
	op, err := f.caps.StartIdentification(ctx, img)
	if err != nil {
		f.logger.Warn("MediaFlow.Start: identification failed", zap.Error(err))
		return nil
	}
	if op == nil {
		f.logger.Warn("MediaFlow.Start: identification returned nothing")
		return nil
	}
	return &Opening{
		VisualSummary: op.VisualSummary,
		Question:      op.Question,
		Candidate:     models.NewMediaCandidate(op.Candidate),
		Messages:      []string{mediaOpeningText(op.Question)},
	}
}

// Continue dispatches on the session stage.
func (f *MediaFlow) Continue(ctx context.Context, sess *models.DialogueSession, reply string) Step {
	if sess.Kind == models.KindMediaConfirm {
		return f.confirm(ctx, sess, reply)
	}
	return f.converse(ctx, sess, reply)
}

func currentMedia(sess *models.DialogueSession) *models.MediaInfo {
	if sess.Candidate == nil || sess.Candidate.Kind != models.CandidateMedia {
		return nil
	}
	return sess.Candidate.Media
}

// converse handles a reply in the question/answer stage.
func (f *MediaFlow) converse(ctx context.Context, sess *models.DialogueSession, reply string) Step {
	userTurn := models.Turn{Speaker: models.SpeakerUser, Text: reply}
	res, err := f.caps.ContinueIdentification(ctx, genai.MediaTurn{
		VisualSummary: sess.VisualSummary,
		History:       sess.WithTurns(userTurn),
		Reply:         reply,
		Candidate:     currentMedia(sess),
		Rejected:      sess.RejectedTitles,
	})
	if err != nil {
		f.logger.Warn("MediaFlow.converse: continuation failed, asking for more", zap.String("session_id", sess.ID), zap.Error(err))
		return unchanged(textTellMeMore)
	}

	switch res.Outcome {
	case genai.OutcomeFinalized:
		rejected := sess.RejectedTitles
		if sess.HasRejected(res.Final.Title) {
			if !mentionsTitle(reply, res.Final.Title) {
				return f.repeatedGuess(sess, userTurn, res.Final.Title)
			}
			// The owner named the title themselves, so it is offered again.
			f.logger.Info("MediaFlow.converse: owner insists on a rejected title",
				zap.String("session_id", sess.ID), zap.String("title", res.Final.Title))
			rejected = withoutTitle(rejected, res.Final.Title)
		}
		enriched := f.enrich(ctx, res.Final)
		if enriched.Title != res.Final.Title && containsTitle(rejected, enriched.Title) {
			f.logger.Debug("MediaFlow.converse: enriched title was rejected before, presenting model title",
				zap.String("session_id", sess.ID), zap.String("title", enriched.Title))
			enriched = res.Final
		}
		next := sess.Clone()
		next.Kind = models.KindMediaConfirm
		next.Candidate = models.NewMediaCandidate(enriched)
		next.RejectedTitles = append([]string(nil), rejected...)
		next.TurnHistory = sess.WithTurns(userTurn)
		return Step{Next: next, Messages: []string{mediaCard(enriched), textConfirmPrompt}}

	case genai.OutcomeContinue:
		next := sess.Clone()
		next.VisualSummary = res.VisualSummary
		if res.Candidate != nil && !sess.HasRejected(res.Candidate.Title) {
			next.Candidate = models.NewMediaCandidate(res.Candidate)
		}
		next.TurnHistory = sess.WithTurns(userTurn, models.Turn{Speaker: models.SpeakerAssistant, Text: res.Question})
		return Step{Next: next, Messages: []string{res.Question}}

	default:
		f.logger.Warn("MediaFlow.converse: unparseable continuation, asking for more", zap.String("session_id", sess.ID))
		return unchanged(textTellMeMore)
	}
}

// confirm handles the explicit yes/no on a finalized candidate.
func (f *MediaFlow) confirm(ctx context.Context, sess *models.DialogueSession, reply string) Step {
	userTurn := models.Turn{Speaker: models.SpeakerUser, Text: reply}
	media := currentMedia(sess)

	answer := ClassifyConfirmation(reply)
	if media != nil {
		switch answer {
		case ConfirmYes:
			next := sess.Clone()
			next.Status = models.StatusCompleted
			next.TurnHistory = sess.WithTurns(userTurn)
			return Step{
				Next:      next,
				Messages:  []string{mediaCompletedText(media), textRatingPrompt},
				Completed: true,
			}
		case ConfirmUnclear:
			prompt := confirmAgainText(media)
			next := sess.Clone()
			next.TurnHistory = sess.WithTurns(userTurn, models.Turn{Speaker: models.SpeakerAssistant, Text: prompt})
			return Step{Next: next, Messages: []string{prompt}}
		}
	}

	next := sess.Clone()
	next.Kind = models.KindMediaDialogue
	next.Candidate = nil
	if title := sess.Candidate.Title(); title != "" && !sess.HasRejected(title) {
		next.RejectedTitles = append(next.RejectedTitles, title)
	}

	if f.maxRejections > 0 && len(next.RejectedTitles) >= f.maxRejections {
		next.Status = models.StatusCancelled
		next.TurnHistory = sess.WithTurns(userTurn)
		f.logger.Info("MediaFlow.confirm: rejection limit reached, giving up",
			zap.String("session_id", sess.ID), zap.Int("rejections", len(next.RejectedTitles)))
		return Step{Next: next, Messages: []string{textGaveUp}}
	}

	// A new round of questioning starts from the same summary and history;
	// only the rejected guess is dropped.
	question := textRejectedFallback
	res, err := f.caps.ContinueIdentification(ctx, genai.MediaTurn{
		VisualSummary: sess.VisualSummary,
		History:       sess.WithTurns(userTurn),
		Reply:         reply,
		Rejected:      next.RejectedTitles,
	})
	switch {
	case err != nil:
		f.logger.Warn("MediaFlow.confirm: continuation after rejection failed", zap.String("session_id", sess.ID), zap.Error(err))
	case res.Outcome == genai.OutcomeContinue:
		question = textRejectedPrefix + res.Question
	}
	next.TurnHistory = sess.WithTurns(userTurn, models.Turn{Speaker: models.SpeakerAssistant, Text: question})
	return Step{Next: next, Messages: []string{question}}
}

// repeatedGuess answers a finalize of an already rejected title. The exchange
// is kept in the history; consecutive repeats end the session once they reach
// maxRepeatedGuesses or, together with the rejections, the rejection cap.
func (f *MediaFlow) repeatedGuess(sess *models.DialogueSession, userTurn models.Turn, title string) Step {
	next := sess.Clone()
	repeats := trailingRepeats(sess.TurnHistory) + 1
	f.logger.Warn("MediaFlow.converse: model finalized a rejected title",
		zap.String("session_id", sess.ID), zap.String("title", title), zap.Int("repeats", repeats))

	capped := f.maxRejections > 0 && len(sess.RejectedTitles)+repeats >= f.maxRejections
	if repeats >= maxRepeatedGuesses || capped {
		next.Status = models.StatusCancelled
		next.TurnHistory = sess.WithTurns(userTurn)
		f.logger.Info("MediaFlow.converse: model keeps repeating a rejected title, giving up",
			zap.String("session_id", sess.ID), zap.Int("repeats", repeats))
		return Step{Next: next, Messages: []string{textGaveUp}}
	}
	next.TurnHistory = sess.WithTurns(userTurn, models.Turn{Speaker: models.SpeakerAssistant, Text: textRepeatedGuess})
	return Step{Next: next, Messages: []string{textRepeatedGuess}}
}

// trailingRepeats counts the textRepeatedGuess answers at the end of history,
// skipping the owner's turns in between.
func trailingRepeats(history []models.Turn) int {
	n := 0
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		if t.Speaker != models.SpeakerAssistant {
			continue
		}
		if t.Text != textRepeatedGuess {
			break
		}
		n++
	}
	return n
}

func containsTitle(titles []string, title string) bool {
	for _, t := range titles {
		if t == title {
			return true
		}
	}
	return false
}

func withoutTitle(titles []string, title string) []string {
	out := make([]string, 0, len(titles))
	for _, t := range titles {
		if t != title {
			out = append(out, t)
		}
	}
	return out
}

func (f *MediaFlow) enrich(ctx context.Context, m *models.MediaInfo) *models.MediaInfo {
	if f.enricher == nil {
		return m
	}
	if out := f.enricher.Enrich(ctx, m); out != nil {
		return out
	}
	return m
}
