package genai

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BTreeMap/Kantei/internal/models"
)

// History windows passed to the continuation prompts.
const (
	MediaHistoryTurns = 6
	SellHistoryTurns  = 4
)

// Fallback texts used when the model omits a field.
const (
	DefaultVisualSummary   = "情報不足"
	DefaultMediaQuestion   = "この画面に映っているのは何ですか？"
	DefaultProductQuestion = "詳細を教えていただけますか？"
)

// Outcome classifies a continuation response.
type Outcome int

const (
	// OutcomeUnparseable means the response matched neither contract shape.
	OutcomeUnparseable Outcome = iota
	// OutcomeFinalized means the model settled on a result.
	OutcomeFinalized
	// OutcomeContinue means the model asks another question.
	OutcomeContinue
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFinalized:
		return "finalized"
	case OutcomeContinue:
		return "continue"
	default:
		return "unparseable"
	}
}

// MediaOpening starts a media identification dialogue.
type MediaOpening struct {
	VisualSummary string
	Question      string
	// Candidate is the hidden first guess; it may be nil.
	Candidate *models.MediaInfo
}

// MediaTurn is the input of one media continuation call.
type MediaTurn struct {
	VisualSummary string
	History       []models.Turn
	Reply         string
	Candidate     *models.MediaInfo
	Rejected      []string
}

// MediaResult is the three-way result of ContinueIdentification.
type MediaResult struct {
	Outcome Outcome
	// Final is set when Outcome is OutcomeFinalized.
	Final *models.MediaInfo
	// VisualSummary, Question and Candidate are set when Outcome is OutcomeContinue.
	VisualSummary string
	Question      string
	Candidate     *models.MediaInfo
}

// SellOpening starts a product listing dialogue.
type SellOpening struct {
	ImageSummary string
	Info         map[string]any
	Question     string
}

// SellTurn is the input of one product continuation call.
type SellTurn struct {
	ImageSummary string
	Info         map[string]any
	History      []models.Turn
	Reply        string
}

// SellResult is the three-way result of ContinueSelling.
type SellResult struct {
	Outcome  Outcome
	Info     map[string]any
	Question string
	Listing  *models.Listing
}

// Capabilities implements the model-backed calls of the dialogue flows.
type Capabilities struct {
	gen     Generator
	timeout time.Duration
	logger  *zap.Logger
}

// NewCapabilities wraps gen. A non-positive timeout uses DefaultTimeout.
func NewCapabilities(gen Generator, timeout time.Duration, logger *zap.Logger) *Capabilities {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capabilities{gen: gen, timeout: timeout, logger: logger}
}

func (c *Capabilities) generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out, err := c.gen.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return StripCodeFence(out), nil
}

// ClassifyIntent labels an image. Any failure yields IntentHelp.
func (c *Capabilities) ClassifyIntent(ctx context.Context, img *models.Image) models.IntentLabel {
	out, err := c.generate(ctx, Request{
		Prompt:          classifyPrompt,
		Image:           img,
		Temperature:     0.1,
		MaxTokens:       50,
		DisableThinking: true,
	})
	if err != nil {
		c.logger.Warn("Capabilities.ClassifyIntent: classification failed, defaulting to help", zap.Error(err))
		return models.IntentHelp
	}
	return models.ParseIntentLabel(out)
}

// mediaWire tolerates numbers sent as strings.
type mediaWire struct {
	MediaType    string  `json:"media_type"`
	Title        string  `json:"title"`
	Subtitle     string  `json:"subtitle"`
	ArtistOrCast string  `json:"artist_or_cast"`
	Year         flexInt `json:"year"`
	Trivia       string  `json:"trivia"`
}

func (w *mediaWire) toModel() *models.MediaInfo {
	if w == nil || strings.TrimSpace(w.Title) == "" {
		return nil
	}
	m := &models.MediaInfo{
		MediaType:    models.MediaType(w.MediaType),
		Title:        strings.TrimSpace(w.Title),
		Subtitle:     w.Subtitle,
		ArtistOrCast: w.ArtistOrCast,
		Trivia:       w.Trivia,
	}
	if m.MediaType == "" {
		m.MediaType = models.MediaTypeOther
	}
	if w.Year > 0 {
		m.Year = int(w.Year)
	}
	return m
}

// flexInt accepts a JSON number or a numeric string. Anything else decodes to zero.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

// decodeCandidate decodes an optional candidate object, ignoring malformed ones.
func decodeCandidate(raw json.RawMessage) *models.MediaInfo {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var w mediaWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil
	}
	return w.toModel()
}

// StartIdentification opens a media dialogue from an image. It returns
// (nil, nil) when the response cannot be parsed.
func (c *Capabilities) StartIdentification(ctx context.Context, img *models.Image) (*MediaOpening, error) {
	out, err := c.generate(ctx, Request{
		Prompt:          identifyPrompt,
		Image:           img,
		Temperature:     0.3,
		JSON:            true,
		DisableThinking: true,
	})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		VisualClues    string          `json:"visual_clues"`
		Question       string          `json:"question"`
		MediaCandidate json.RawMessage `json:"media_candidate"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		c.logger.Warn("Capabilities.StartIdentification: unparseable response", zap.Error(err))
		return nil, nil
	}
	opening := &MediaOpening{
		VisualSummary: strings.TrimSpace(parsed.VisualClues),
		Question:      strings.TrimSpace(parsed.Question),
		Candidate:     decodeCandidate(parsed.MediaCandidate),
	}
	if opening.VisualSummary == "" {
		opening.VisualSummary = DefaultVisualSummary
	}
	if opening.Question == "" {
		opening.Question = DefaultMediaQuestion
	}
	return opening, nil
}

// ContinueIdentification feeds the user's reply to the model and classifies
// its answer. An error is returned only when the call itself failed.
func (c *Capabilities) ContinueIdentification(ctx context.Context, in MediaTurn) (MediaResult, error) {
	out, err := c.generate(ctx, Request{
		Prompt:          continueIdentificationPrompt(in),
		Temperature:     0.4,
		JSON:            true,
		DisableThinking: true,
	})
	if err != nil {
		return MediaResult{}, err
	}
	var parsed struct {
		Identified     bool            `json:"identified"`
		Data           json.RawMessage `json:"data"`
		VisualClues    string          `json:"visual_clues"`
		Question       string          `json:"question"`
		MediaCandidate json.RawMessage `json:"media_candidate"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		c.logger.Warn("Capabilities.ContinueIdentification: unparseable response", zap.Error(err))
		return MediaResult{Outcome: OutcomeUnparseable}, nil
	}

	if parsed.Identified {
		if final := decodeCandidate(parsed.Data); final != nil {
			return MediaResult{Outcome: OutcomeFinalized, Final: final}, nil
		}
		return MediaResult{Outcome: OutcomeUnparseable}, nil
	}
	question := strings.TrimSpace(parsed.Question)
	if question == "" {
		return MediaResult{Outcome: OutcomeUnparseable}, nil
	}
	summary := strings.TrimSpace(parsed.VisualClues)
	if summary == "" {
		summary = in.VisualSummary
	}
	return MediaResult{
		Outcome:       OutcomeContinue,
		VisualSummary: summary,
		Question:      question,
		Candidate:     decodeCandidate(parsed.MediaCandidate),
	}, nil
}

// AnalyzeProduct opens a listing dialogue from an image. It returns
// (nil, nil) when the response cannot be parsed.
func (c *Capabilities) AnalyzeProduct(ctx context.Context, img *models.Image) (*SellOpening, error) {
	out, err := c.generate(ctx, Request{
		Prompt:      analyzeProductPrompt,
		Image:       img,
		Temperature: 0.5,
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		ImageSummary  string         `json:"image_summary"`
		ExtractedInfo map[string]any `json:"extracted_info"`
		FirstQuestion string         `json:"first_question"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		c.logger.Warn("Capabilities.AnalyzeProduct: unparseable response", zap.Error(err))
		return nil, nil
	}
	opening := &SellOpening{
		ImageSummary: strings.TrimSpace(parsed.ImageSummary),
		Info:         parsed.ExtractedInfo,
		Question:     strings.TrimSpace(parsed.FirstQuestion),
	}
	if opening.Info == nil {
		opening.Info = map[string]any{}
	}
	if opening.Question == "" {
		opening.Question = DefaultProductQuestion
	}
	return opening, nil
}

// ContinueSelling updates the product information from the user's reply.
func (c *Capabilities) ContinueSelling(ctx context.Context, in SellTurn) (SellResult, error) {
	out, err := c.generate(ctx, Request{
		Prompt:      continueSellingPrompt(in),
		Temperature: 0.5,
		JSON:        true,
	})
	if err != nil {
		return SellResult{}, err
	}
	var parsed struct {
		ExtractedInfo map[string]any  `json:"extracted_info"`
		IsSufficient  bool            `json:"is_sufficient"`
		NextQuestion  string          `json:"next_question"`
		Listing       *models.Listing `json:"listing"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		c.logger.Warn("Capabilities.ContinueSelling: unparseable response", zap.Error(err))
		return SellResult{Outcome: OutcomeUnparseable}, nil
	}
	info := parsed.ExtractedInfo
	if info == nil {
		info = in.Info
	}
	switch {
	case parsed.IsSufficient && parsed.Listing != nil && strings.TrimSpace(parsed.Listing.Title) != "":
		return SellResult{Outcome: OutcomeFinalized, Info: info, Listing: parsed.Listing}, nil
	case strings.TrimSpace(parsed.NextQuestion) != "":
		return SellResult{Outcome: OutcomeContinue, Info: info, Question: strings.TrimSpace(parsed.NextQuestion)}, nil
	default:
		return SellResult{Outcome: OutcomeUnparseable}, nil
	}
}
