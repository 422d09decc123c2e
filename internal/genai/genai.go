// Package genai provides the generative-AI capabilities used by Kantei's dialogues.
//
// A Generator turns a prompt (plus an optional image) into raw model text.
// Two backends exist: Gemini via google.golang.org/genai with a primary and a
// fallback model, and any OpenAI-compatible endpoint via openai-go.
// Capabilities wraps a Generator with the prompt and parse contracts of the
// individual calls (intent classification, media identification, product
// listing dialogue).
package genai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BTreeMap/Kantei/internal/models"
)

// Error variables for better error handling and testability
var (
	ErrAPIKeyNotSet      = errors.New("API key not set")
	ErrNoChoicesReturned = errors.New("no choices returned")
	ErrEmptyResponse     = errors.New("model returned an empty response")
)

// Request is one generation call.
type Request struct {
	Prompt string
	// Image is attached after the prompt when non-nil.
	Image       *models.Image
	Temperature float32
	// MaxTokens caps the output; zero leaves the backend default.
	MaxTokens int32
	// JSON asks the backend for a JSON object response.
	JSON bool
	// DisableThinking turns off reasoning tokens on backends that support it.
	DisableThinking bool
}

// Generator produces raw model text for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Opts holds configuration shared by the generator constructors.
type Opts struct {
	APIKey        string
	BaseURL       string
	Model         string
	FallbackModel string
	HTTPClient    *http.Client
	Logger        *zap.Logger
	// DebugDir, when set, receives one JSON file per call.
	DebugDir string
}

// Option defines a configuration option for generator constructors.
type Option func(*Opts)

// WithAPIKey sets the backend API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL overrides the backend endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the model name (the primary model for Gemini).
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithFallbackModel sets the model retried when the primary model fails.
func WithFallbackModel(model string) Option {
	return func(o *Opts) { o.FallbackModel = model }
}

// WithHTTPClient sets the HTTP client used by the backend SDK.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Opts) { o.Logger = l }
}

// WithDebugDir enables request/response dumps under dir/debug.
func WithDebugDir(dir string) Option {
	return func(o *Opts) { o.DebugDir = dir }
}

func applyOpts(opts []Option) Opts {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}

// StripCodeFence removes a surrounding Markdown code fence such as ```json ... ```.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// DefaultTimeout bounds a single capability call.
const DefaultTimeout = 20 * time.Second
