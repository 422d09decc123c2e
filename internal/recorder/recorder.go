// Package recorder hands completed identifications to their durable sinks.
package recorder

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/BTreeMap/Kantei/internal/dialogue"
	"github.com/BTreeMap/Kantei/internal/models"
	"github.com/BTreeMap/Kantei/internal/store"
)

var (
	_ dialogue.Recorder = (*StoreRecorder)(nil)
	_ dialogue.Recorder = (*SQSRecorder)(nil)
	_ dialogue.Recorder = MultiRecorder(nil)
)

// StoreRecorder appends identifications to the store's log.
type StoreRecorder struct {
	repo store.IdentificationRepo
}

// NewStoreRecorder creates a recorder writing to repo.
func NewStoreRecorder(repo store.IdentificationRepo) *StoreRecorder {
	return &StoreRecorder{repo: repo}
}

func (r *StoreRecorder) Record(ctx context.Context, rec models.Identification) error {
	if err := r.repo.SaveIdentification(ctx, rec); err != nil {
		return fmt.Errorf("failed to save identification %s: %w", rec.ID, err)
	}
	return nil
}

// MultiRecorder records to every sink in order. All sinks run; the errors are joined.
type MultiRecorder []dialogue.Recorder

func (m MultiRecorder) Record(ctx context.Context, rec models.Identification) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Logged wraps r so every call is logged with its outcome.
func Logged(r dialogue.Recorder, name string, logger *zap.Logger) dialogue.Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return loggedRecorder{next: r, name: name, logger: logger}
}

type loggedRecorder struct {
	next   dialogue.Recorder
	name   string
	logger *zap.Logger
}

func (l loggedRecorder) Record(ctx context.Context, rec models.Identification) error {
	err := l.next.Record(ctx, rec)
	if err != nil {
		l.logger.Warn("Recorder.Record: sink failed", zap.String("sink", l.name), zap.String("identification_id", rec.ID), zap.Error(err))
		return err
	}
	l.logger.Debug("Recorder.Record: stored", zap.String("sink", l.name), zap.String("identification_id", rec.ID))
	return nil
}
