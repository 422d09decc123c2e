package dialogue

import (
	"context"
	"maps"

	"go.uber.org/zap"

	"github.com/BTreeMap/Kantei/internal/genai"
	"github.com/BTreeMap/Kantei/internal/models"
)

// SellCapability is the model-backed part of the product listing dialogue.
type SellCapability interface {
	AnalyzeProduct(ctx context.Context, img *models.Image) (*genai.SellOpening, error)
	ContinueSelling(ctx context.Context, in genai.SellTurn) (genai.SellResult, error)
}

// SellFlow collects product attributes until a listing can be written.
// It completes without a confirmation stage.
type SellFlow struct {
	caps   SellCapability
	logger *zap.Logger
}

var _ Flow = (*SellFlow)(nil)

// NewSellFlow creates the open-ended product flow.
func NewSellFlow(caps SellCapability, logger *zap.Logger) *SellFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SellFlow{caps: caps, logger: logger}
}

func (f *SellFlow) Kind() models.SessionKind { return models.KindOpenEnded }

func (f *SellFlow) Handles(kind models.SessionKind) bool { return kind == models.KindOpenEnded }

func (f *SellFlow) Start(ctx context.Context, img *models.Image) *Opening {
	op, err := f.caps.AnalyzeProduct(ctx, img)
	if err != nil {
		f.logger.Warn("SellFlow.Start: product analysis failed", zap.Error(err))
		return nil
	}
	if op == nil {
		f.logger.Warn("SellFlow.Start: product analysis returned nothing")
		return nil
	}
	return &Opening{
		VisualSummary: op.ImageSummary,
		Question:      op.Question,
		Candidate:     models.NewAttributeCandidate(op.Info),
		Messages:      []string{op.Question},
	}
}

func (f *SellFlow) Continue(ctx context.Context, sess *models.DialogueSession, reply string) Step {
	userTurn := models.Turn{Speaker: models.SpeakerUser, Text: reply}
	var info map[string]any
	if sess.Candidate != nil {
		info = maps.Clone(sess.Candidate.Attributes)
	}

	res, err := f.caps.ContinueSelling(ctx, genai.SellTurn{
		ImageSummary: sess.VisualSummary,
		Info:         info,
		History:      sess.WithTurns(userTurn),
		Reply:        reply,
	})
	if err != nil {
		f.logger.Warn("SellFlow.Continue: continuation failed, asking for more", zap.String("session_id", sess.ID), zap.Error(err))
		return unchanged(textTellMeMore)
	}

	switch res.Outcome {
	case genai.OutcomeFinalized:
		next := sess.Clone()
		next.Status = models.StatusCompleted
		next.Candidate = models.NewAttributeCandidate(res.Info)
		listing := *res.Listing
		next.Candidate.Listing = &listing
		next.TurnHistory = sess.WithTurns(userTurn)
		return Step{Next: next, Messages: []string{textSellComplete, listingText(&listing)}, Completed: true}

	case genai.OutcomeContinue:
		next := sess.Clone()
		next.Candidate = models.NewAttributeCandidate(res.Info)
		next.TurnHistory = sess.WithTurns(userTurn, models.Turn{Speaker: models.SpeakerAssistant, Text: res.Question})
		return Step{Next: next, Messages: []string{res.Question}}

	default:
		f.logger.Warn("SellFlow.Continue: unparseable continuation, asking for more", zap.String("session_id", sess.ID))
		return unchanged(textTellMeMore)
	}
}
