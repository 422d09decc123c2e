package genai

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completions adapts the SDK service to chatService.
type completions struct {
	svc openai.ChatCompletionService
}

func (c completions) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := c.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// OpenAIClient is a Generator backed by an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	chat     chatService
	model    string
	logger   *zap.Logger
	debugDir string
}

var _ Generator = (*OpenAIClient)(nil)

// NewOpenAIClient initializes a client. An API key is required.
func NewOpenAIClient(opts ...Option) (*OpenAIClient, error) {
	cfg := applyOpts(opts)
	cfg.Logger.Debug("OpenAIClient.NewOpenAIClient: creating client",
		zap.Bool("api_key_set", cfg.APIKey != ""), zap.String("base_url", cfg.BaseURL), zap.String("model", cfg.Model))
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.HTTPClient))
	}
	cli := openai.NewClient(reqOpts...)

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIClient{
		chat:     completions{svc: cli.Chat.Completions},
		model:    model,
		logger:   cfg.Logger,
		debugDir: cfg.DebugDir,
	}, nil
}

// Generate sends one user message, with the image inlined as a data URL.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	started := time.Now()
	params := c.buildParams(req)

	resp, err := c.chat.Create(ctx, params)
	out, err := c.firstChoice(resp, err)
	writeDebug(c.debugDir, c.logger, "openai", c.model, req, out, err, started)
	if err != nil {
		c.logger.Warn("OpenAIClient.Generate: completion failed", zap.String("model", c.model), zap.Error(err))
		return "", err
	}
	c.logger.Debug("OpenAIClient.Generate: completion received",
		zap.String("model", c.model), zap.Int("length", len(out)), zap.Duration("took", time.Since(started)))
	return out, nil
}

func (c *OpenAIClient) buildParams(req Request) openai.ChatCompletionNewParams {
	var msg openai.ChatCompletionMessageParamUnion
	if req.Image != nil && !req.Image.Empty() {
		dataURL := "data:" + req.Image.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(req.Image.Data)
		msg = openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(req.Prompt),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
		})
	} else {
		msg = openai.UserMessage(req.Prompt)
	}

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.model),
		Messages:    []openai.ChatCompletionMessageParamUnion{msg},
		Temperature: openai.Float(float64(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

func (c *OpenAIClient) firstChoice(resp openai.ChatCompletion, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}
