package genai

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	genaisdk "google.golang.org/genai"
)

// Default Gemini models. The fallback absorbs quota and availability errors on the primary.
const (
	DefaultGeminiModel         = "gemini-2.5-pro"
	DefaultGeminiFallbackModel = "gemini-2.5-flash"
)

// contentGenerator is the subset of *genaisdk.Models used by GeminiClient.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genaisdk.Content, config *genaisdk.GenerateContentConfig) (*genaisdk.GenerateContentResponse, error)
}

// GeminiClient is a Generator backed by the Gemini API.
type GeminiClient struct {
	models   contentGenerator
	primary  string
	fallback string
	logger   *zap.Logger
	debugDir string
}

var _ Generator = (*GeminiClient)(nil)

// NewGeminiClient creates a Gemini generator. An API key is required.
func NewGeminiClient(ctx context.Context, opts ...Option) (*GeminiClient, error) {
	cfg := applyOpts(opts)
	cfg.Logger.Debug("GeminiClient.NewGeminiClient: creating client",
		zap.Bool("api_key_set", cfg.APIKey != ""), zap.String("model", cfg.Model), zap.String("fallback_model", cfg.FallbackModel))
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	cc := &genaisdk.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genaisdk.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genaisdk.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genaisdk.NewClient(ctx, cc)
	if err != nil {
		cfg.Logger.Error("GeminiClient.NewGeminiClient: failed to create client", zap.Error(err))
		return nil, err
	}

	primary := cfg.Model
	if primary == "" {
		primary = DefaultGeminiModel
	}
	fallback := cfg.FallbackModel
	if fallback == "" {
		fallback = DefaultGeminiFallbackModel
	}
	return &GeminiClient{
		models:   client.Models,
		primary:  primary,
		fallback: fallback,
		logger:   cfg.Logger,
		debugDir: cfg.DebugDir,
	}, nil
}

// Generate calls the primary model and retries once on the fallback model.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	out, err := c.generateWith(ctx, c.primary, req)
	if err == nil || c.fallback == "" || c.fallback == c.primary || ctx.Err() != nil {
		return out, err
	}
	c.logger.Warn("GeminiClient.Generate: primary model failed, trying fallback",
		zap.String("primary", c.primary), zap.String("fallback", c.fallback), zap.Error(err))
	return c.generateWith(ctx, c.fallback, req)
}

func (c *GeminiClient) generateWith(ctx context.Context, model string, req Request) (string, error) {
	started := time.Now()
	parts := []*genaisdk.Part{genaisdk.NewPartFromText(req.Prompt)}
	if req.Image != nil && !req.Image.Empty() {
		parts = append(parts, genaisdk.NewPartFromBytes(req.Image.Data, req.Image.MIMEType))
	}
	contents := []*genaisdk.Content{genaisdk.NewContentFromParts(parts, genaisdk.RoleUser)}

	config := &genaisdk.GenerateContentConfig{
		Temperature:     genaisdk.Ptr(req.Temperature),
		MaxOutputTokens: req.MaxTokens,
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}
	if req.DisableThinking {
		config.ThinkingConfig = &genaisdk.ThinkingConfig{ThinkingBudget: genaisdk.Ptr[int32](0)}
	}

	var out string
	resp, err := c.models.GenerateContent(ctx, model, contents, config)
	if err == nil {
		// Text skips thought parts.
		out = strings.TrimSpace(resp.Text())
		if out == "" {
			err = ErrEmptyResponse
		}
	}
	writeDebug(c.debugDir, c.logger, "gemini", model, req, out, err, started)
	if err != nil {
		return "", err
	}
	c.logger.Debug("GeminiClient.generateWith: response received",
		zap.String("model", model), zap.Int("length", len(out)), zap.Duration("took", time.Since(started)))
	return out, nil
}
