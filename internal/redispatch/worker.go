// Package redispatch periodically re-runs the pipeline for emergencies that
// are still waiting for an assignment.
package redispatch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ILLUVRSE/dispatch/internal/models"
	"github.com/ILLUVRSE/dispatch/internal/service"
)

const (
	defaultInterval = time.Minute
	defaultMinAge   = time.Minute
)

type Source interface {
	ListOpenEmergencies(ctx context.Context) ([]models.Emergency, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, id models.ID) (service.Outcome, error)
}

type Config struct {
	Interval time.Duration
	// MinAge skips emergencies touched more recently than this.
	MinAge time.Duration
	Now    func() time.Time
	Logger *zap.Logger
}

type Worker struct {
	src    Source
	disp   Dispatcher
	cfg    Config
	logger *zap.Logger
}

func New(src Source, disp Dispatcher, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = defaultMinAge
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{src: src, disp: disp, cfg: cfg, logger: logger.Named("redispatch")}
}

// Run sweeps every Interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.logger.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep dispatches each active emergency older than MinAge once and returns
// how many runs were started. A failed run is logged and the sweep moves on.
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	open, err := w.src.ListOpenEmergencies(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := w.cfg.Now().Add(-w.cfg.MinAge)
	runs := 0
	for _, em := range open {
		if ctx.Err() != nil {
			return runs, ctx.Err()
		}
		if em.Status != models.EmergencyActive || em.UpdatedAt.After(cutoff) {
			continue
		}
		out, err := w.disp.Dispatch(ctx, em.ID)
		switch {
		case errors.Is(err, service.ErrNotActive):
			// resolved or assigned since the listing
			continue
		case err != nil:
			w.logger.Warn("re-dispatch failed", zap.Stringer("emergency_id", em.ID), zap.Error(err))
			continue
		}
		runs++
		w.logger.Info("re-dispatched",
			zap.Stringer("emergency_id", em.ID),
			zap.String("run_id", out.Run.RunID),
			zap.String("status", string(out.Emergency.Status)),
		)
	}
	return runs, nil
}
