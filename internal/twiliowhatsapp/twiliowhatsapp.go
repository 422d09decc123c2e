// Package twiliowhatsapp wraps the Twilio API for WhatsApp messaging in Kantei.
package twiliowhatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// WhatsAppPrefix marks Twilio addresses on the WhatsApp channel.
const WhatsAppPrefix = "whatsapp:"

// DefaultMediaTimeout bounds a single media download.
const DefaultMediaTimeout = 15 * time.Second

// Error variables for better error handling and testability
var (
	ErrCredentialsNotSet = errors.New("account SID and auth token must be provided")
	ErrFromNotSet        = errors.New("from number must be provided")
	ErrMediaTooLarge     = errors.New("media exceeds maximum size")
)

// Sender is the Twilio surface used by the messaging service.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
	// FetchMedia downloads an inbound media URL and returns its bytes and content type.
	FetchMedia(ctx context.Context, url string, maxBytes int64) ([]byte, string, error)
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending number, with or without the whatsapp: prefix.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// WithHTTPClient sets the client used for media downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Opts) { o.Logger = l }
}

// Client wraps the Twilio REST API for WhatsApp.
type Client struct {
	client     *twilio.RestClient
	accountSID string
	authToken  string
	fromWhats  string
	http       *http.Client
	logger     *zap.Logger
}

var _ Sender = (*Client)(nil)

// NewClient creates a Twilio client.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cfg.Logger.Debug("twiliowhatsapp.NewClient: config loaded",
		zap.Bool("account_sid_set", cfg.AccountSID != ""),
		zap.Bool("auth_token_set", cfg.AuthToken != ""),
		zap.Bool("from_set", cfg.FromWhats != ""))

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, ErrCredentialsNotSet
	}
	if cfg.FromWhats == "" {
		return nil, ErrFromNotSet
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultMediaTimeout}
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{
		client:     client,
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		fromWhats:  Address(cfg.FromWhats),
		http:       cfg.HTTPClient,
		logger:     cfg.Logger,
	}, nil
}

// Address returns number on the WhatsApp channel.
func Address(number string) string {
	if strings.HasPrefix(number, WhatsAppPrefix) {
		return number
	}
	return WhatsAppPrefix + number
}

// SendMessage sends a WhatsApp message using the Twilio API.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(Address(to))
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		c.logger.Error("Client.SendMessage: Twilio request failed", zap.String("to", to), zap.Error(err))
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	var sid string
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	c.logger.Debug("Client.SendMessage: sent", zap.String("to", to), zap.String("sid", sid))
	return nil
}

// FetchMedia downloads inbound media. Twilio media URLs require the account credentials.
func (c *Client) FetchMedia(ctx context.Context, url string, maxBytes int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build media request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("media fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, "", ErrMediaTooLarge
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// MockClient records sent messages and serves media from memory.
type MockClient struct {
	SentMessages []SentMessage
	Media        map[string]MockMedia
	SendErr      error
}

// SentMessage is one message recorded by MockClient.
type SentMessage struct {
	To   string
	Body string
}

// MockMedia is a media object served by MockClient.
type MockMedia struct {
	Data        []byte
	ContentType string
}

var _ Sender = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{Media: map[string]MockMedia{}}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	if m.SendErr != nil {
		return m.SendErr
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockClient) FetchMedia(ctx context.Context, url string, maxBytes int64) ([]byte, string, error) {
	media, ok := m.Media[url]
	if !ok {
		return nil, "", fmt.Errorf("media fetch returned status %d", http.StatusNotFound)
	}
	if int64(len(media.Data)) > maxBytes {
		return nil, "", ErrMediaTooLarge
	}
	return media.Data, media.ContentType, nil
}
