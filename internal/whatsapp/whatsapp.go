// Package whatsapp wraps the whatsmeow client for WhatsApp integration in Kantei.
//
// It logs the device in (QR code or numeric pairing code), sends text
// messages and downloads inbound images.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"

	"github.com/BTreeMap/Kantei/internal/store"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for the whatsmeow device database
	DefaultSQLitePath = "/var/lib/kantei/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = "s.whatsapp.net"
)

// Error variables for better error handling and testability
var (
	ErrNotInitialized = errors.New("whatsapp client not initialized")
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyBody      = errors.New("message body cannot be empty")
)

// Messenger is the WhatsApp surface used by the messaging service.
type Messenger interface {
	SendMessage(ctx context.Context, to string, body string) error
	DownloadImage(ctx context.Context, img *waE2E.ImageMessage) ([]byte, error)
}

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // whatsmeow device database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // use numeric login code instead of QR code
	Logger      *zap.Logger
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput instructs the WhatsApp client to write the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode instructs the WhatsApp client to use numeric login code instead of QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// WithLogger sets the logger; whatsmeow's own logs are routed through it as well.
func WithLogger(l *zap.Logger) Option {
	return func(o *Opts) {
		o.Logger = l
	}
}

// Client wraps the whatsmeow client.
type Client struct {
	waClient *whatsmeow.Client
	logger   *zap.Logger
}

var _ Messenger = (*Client)(nil)

// driverFor picks the database/sql driver for dsn.
func driverFor(dsn string) string {
	if store.DetectDSNType(dsn) == "postgres" {
		return "postgres"
	}
	return "sqlite3"
}

// hasForeignKeys reports whether a SQLite DSN enables foreign keys, which whatsmeow requires.
func hasForeignKeys(dsn string) bool {
	return strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "foreign_keys")
}

// NewClient opens the device store, logs in when needed and connects.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	logger := cfg.Logger
	logger.Debug("whatsapp.NewClient: options set",
		zap.Bool("db_dsn_set", cfg.DBDSN != ""), zap.Bool("qr_path_set", cfg.QRPath != ""), zap.Bool("numeric_code", cfg.NumericCode))

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		logger.Debug("whatsapp.NewClient: no database DSN provided, using default SQLite path", zap.String("path", dbDSN))
	}
	dbDriver := driverFor(dbDSN)
	if dbDriver == "sqlite3" && !hasForeignKeys(dbDSN) {
		logger.Warn("whatsapp.NewClient: SQLite DSN does not enable foreign keys; whatsmeow strongly recommends them",
			zap.String("dsn_example", "file:"+dbDSN+"?_foreign_keys=on"))
	}

	container, err := sqlstore.New(ctx, dbDriver, dbDSN, zapLog{logger.Named("whatsmeow.db")})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, zapLog{logger.Named("whatsmeow")})
	if waClient.Store.ID == nil {
		if err := login(ctx, waClient, cfg, logger); err != nil {
			return nil, err
		}
	} else {
		logger.Debug("whatsapp.NewClient: already logged in, connecting")
		if err := waClient.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}
	logger.Info("whatsapp.NewClient: connected")
	return &Client{waClient: waClient, logger: logger}, nil
}

func login(ctx context.Context, waClient *whatsmeow.Client, cfg Opts, logger *zap.Logger) error {
	logger.Info("whatsapp.login: login required, starting QR flow")
	qrChan, err := waClient.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to open QR channel: %w", err)
	}
	if err := waClient.Connect(); err != nil {
		return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}

	writer := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		writer = f
	}
	for evt := range qrChan {
		if evt.Event != "code" {
			logger.Info("whatsapp.login: login event", zap.String("event", evt.Event))
			continue
		}
		if cfg.NumericCode {
			fmt.Fprintln(writer, evt.Code)
		} else {
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
		}
	}
	return nil
}

// JID returns the user JID for an owner id such as "+819012345678".
func JID(owner string) types.JID {
	return types.NewJID(strings.TrimPrefix(owner, "+"), JIDSuffix)
}

// OwnerID returns the owner id for a sender JID.
func OwnerID(jid types.JID) string {
	return "+" + jid.User
}

// SendMessage sends a text message to the owner id to.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil || c.waClient.Store == nil {
		return ErrNotInitialized
	}
	if to == "" {
		return ErrEmptyRecipient
	}
	if body == "" {
		return ErrEmptyBody
	}

	msg := &waE2E.Message{Conversation: &body}
	if _, err := c.waClient.SendMessage(ctx, JID(to), msg); err != nil {
		c.logger.Error("Client.SendMessage: send failed", zap.String("to", to), zap.Error(err))
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	c.logger.Debug("Client.SendMessage: sent", zap.String("to", to), zap.Int("body_length", len(body)))
	return nil
}

// DownloadImage fetches and decrypts an inbound image.
func (c *Client) DownloadImage(ctx context.Context, img *waE2E.ImageMessage) ([]byte, error) {
	if c.waClient == nil {
		return nil, ErrNotInitialized
	}
	data, err := c.waClient.Download(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	return data, nil
}

// AddEventHandler registers a whatsmeow event handler.
func (c *Client) AddEventHandler(handler func(evt any)) {
	c.waClient.AddEventHandler(handler)
}

// Disconnect closes the connection to WhatsApp.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// zapLog routes whatsmeow logs through zap.
type zapLog struct {
	l *zap.Logger
}

var _ waLog.Logger = zapLog{}

func (z zapLog) Warnf(msg string, args ...any)  { z.l.Warn(fmt.Sprintf(msg, args...)) }
func (z zapLog) Errorf(msg string, args ...any) { z.l.Error(fmt.Sprintf(msg, args...)) }
func (z zapLog) Infof(msg string, args ...any)  { z.l.Info(fmt.Sprintf(msg, args...)) }
func (z zapLog) Debugf(msg string, args ...any) { z.l.Debug(fmt.Sprintf(msg, args...)) }
func (z zapLog) Sub(module string) waLog.Logger { return zapLog{z.l.Named(module)} }

// MockClient records sent messages and serves a fixed image (for tests).
type MockClient struct {
	SentMessages []SentMessage
	Image        []byte
	DownloadErr  error
}

// SentMessage is one message recorded by MockClient.
type SentMessage struct {
	To   string
	Body string
}

var _ Messenger = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockClient) DownloadImage(ctx context.Context, img *waE2E.ImageMessage) ([]byte, error) {
	return m.Image, m.DownloadErr
}
