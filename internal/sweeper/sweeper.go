// Package sweeper expires dialogue sessions that have been waiting for a reply
// longer than the idle timeout.
//
// Sweeps run on a cron schedule; the dialogue engine also expires idle
// sessions on demand, so the sweeper only keeps the store tidy.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultInterval is the pause between two sweeps.
const DefaultInterval = time.Minute

// DefaultBatchSize bounds how many sessions one store query expires.
const DefaultBatchSize = 100

// ErrAlreadyStarted is returned when Run is called on a sweeper that already ran.
var ErrAlreadyStarted = errors.New("sweeper already started")

// Expirer cancels sessions idle past the timeout and reports how many it cancelled.
type Expirer interface {
	ExpireIdle(ctx context.Context, limit int) (int, error)
}

// Sweeper periodically calls an Expirer.
type Sweeper struct {
	expirer   Expirer
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
	cron      *cron.Cron
}

// Opts holds configuration options for New.
type Opts struct {
	Interval  time.Duration
	BatchSize int
	Logger    *zap.Logger
}

// Option defines a configuration option for New.
type Option func(*Opts)

// WithInterval sets the pause between sweeps. Sub-second intervals round up to one second.
func WithInterval(d time.Duration) Option {
	return func(o *Opts) { o.Interval = d }
}

// WithBatchSize sets the per-query limit.
func WithBatchSize(n int) Option {
	return func(o *Opts) { o.BatchSize = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Opts) { o.Logger = l }
}

// New creates a sweeper. It does nothing until Run is called.
func New(expirer Expirer, opts ...Option) *Sweeper {
	cfg := Opts{Interval: DefaultInterval, BatchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Sweeper{
		expirer:   expirer,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger,
	}
}

// Run sweeps once immediately and then on every interval until ctx is done.
// It returns after the last running sweep has finished.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.cron != nil {
		return ErrAlreadyStarted
	}
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{s.logger.Sugar()}),
		cron.SkipIfStillRunning(cronLogger{s.logger.Sugar()}),
	))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	s.cron = c
	s.logger.Info("Sweeper.Run: started", zap.Duration("interval", s.interval), zap.Int("batch_size", s.batchSize))

	s.Sweep(ctx)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("Sweeper.Run: stopped")
	return nil
}

// Sweep expires idle sessions in batches until a batch comes back short.
// It returns the total number of sessions expired.
func (s *Sweeper) Sweep(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := s.expirer.ExpireIdle(ctx, s.batchSize)
		if err != nil {
			s.logger.Error("Sweeper.Sweep: expiry failed", zap.Error(err))
			break
		}
		total += n
		if n < s.batchSize {
			break
		}
	}
	if total > 0 {
		s.logger.Info("Sweeper.Sweep: idle sessions expired", zap.Int("count", total))
	} else {
		s.logger.Debug("Sweeper.Sweep: nothing to expire")
	}
	return total
}

// cronLogger adapts zap to cron's logger interface.
type cronLogger struct {
	*zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
