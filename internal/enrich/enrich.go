// Package enrich augments finalized media candidates with catalog metadata.
//
// The Gateway picks a catalog by media type (Jikan for anime, TMDB for
// movies, TV and anything else, iTunes for music). Lookups are best-effort:
// every failure leaves the candidate exactly as it was.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BTreeMap/Kantei/internal/models"
)

// DefaultTimeout bounds one catalog lookup.
const DefaultTimeout = 5 * time.Second

// synopsisRunes caps the synopsis copied from a catalog.
const synopsisRunes = 200

var (
	ErrNoResults     = errors.New("catalog returned no results")
	ErrNotConfigured = errors.New("catalog is not configured")
)

// Enricher augments a media candidate. Implementations never fail; on any
// problem they return the input unchanged.
type Enricher interface {
	Enrich(ctx context.Context, m *models.MediaInfo) *models.MediaInfo
}

// Provider looks a candidate up in one catalog and returns an enriched copy.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, m *models.MediaInfo) (*models.MediaInfo, error)
}

// Gateway dispatches candidates to catalog providers by media type.
type Gateway struct {
	byType   map[models.MediaType]Provider
	fallback Provider
	timeout  time.Duration
	logger   *zap.Logger
}

var _ Enricher = (*Gateway)(nil)

// Opts holds configuration options for NewGateway.
type Opts struct {
	TMDBToken  string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Option defines a configuration option for NewGateway.
type Option func(*Opts)

// WithTMDBToken sets the TMDB read access token. Without it TMDB lookups are skipped.
func WithTMDBToken(token string) Option {
	return func(o *Opts) { o.TMDBToken = token }
}

// WithHTTPClient sets the HTTP client shared by all providers.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithTimeout sets the per-lookup timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Opts) { o.Logger = l }
}

// NewGateway wires the default catalog providers.
func NewGateway(opts ...Option) *Gateway {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	jikan := NewJikanProvider(cfg.HTTPClient)
	itunes := NewITunesProvider(cfg.HTTPClient)
	return &Gateway{
		byType: map[models.MediaType]Provider{
			models.MediaTypeAnime:  jikan,
			models.MediaTypeMovie:  NewTMDBProvider(cfg.HTTPClient, cfg.TMDBToken, TMDBMovie),
			models.MediaTypeTVShow: NewTMDBProvider(cfg.HTTPClient, cfg.TMDBToken, TMDBTV),
			models.MediaTypeMusic:  itunes,
		},
		fallback: NewTMDBProvider(cfg.HTTPClient, cfg.TMDBToken, TMDBMulti),
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}
}

// Enrich looks m up in the catalog for its media type.
func (g *Gateway) Enrich(ctx context.Context, m *models.MediaInfo) *models.MediaInfo {
	if m == nil || m.Title == "" {
		return m
	}
	p, ok := g.byType[m.MediaType]
	if !ok {
		p = g.fallback
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	out, err := p.Lookup(ctx, m)
	if err != nil {
		g.logger.Debug("Gateway.Enrich: lookup failed, keeping candidate",
			zap.String("provider", p.Name()), zap.String("title", m.Title), zap.Error(err))
		return m
	}
	g.logger.Debug("Gateway.Enrich: candidate enriched",
		zap.String("provider", p.Name()), zap.String("title", m.Title), zap.String("canonical_title", out.Title))
	return out
}

// getJSON performs a GET and decodes a JSON body into dst.
func getJSON(ctx context.Context, client *http.Client, url string, header http.Header, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// yearFromDate extracts the year of a date such as "1979-04-07" or an ISO timestamp.
func yearFromDate(s string, fallback int) int {
	if len(s) < 4 {
		return fallback
	}
	y := 0
	for _, c := range s[:4] {
		if c < '0' || c > '9' {
			return fallback
		}
		y = y*10 + int(c-'0')
	}
	if y == 0 {
		return fallback
	}
	return y
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// clone copies m so providers never mutate the caller's candidate.
func clone(m *models.MediaInfo) *models.MediaInfo {
	c := *m
	c.Genres = append([]string(nil), m.Genres...)
	return &c
}
