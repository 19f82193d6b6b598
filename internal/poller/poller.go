// Package poller drives the periodic status poll of every registered
// amplifier. Controllers never schedule themselves; the host owns the
// cadence.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"dynaudio-go-home/internal/transport"
)

// Target is something that can be polled. *amp.Controller implements it.
type Target interface {
	ID() string
	Poll(ctx context.Context) error
}

// Source supplies the current set of targets on every tick.
type Source func() []Target

// Config controls the cadence.
type Config struct {
	Interval time.Duration
	// Timeout bounds a single poll. Zero leaves it to the transport.
	Timeout time.Duration
}

// Result is the outcome of polling one target.
type Result struct {
	ID  string
	Err error
}

// Poller polls targets sequentially on a fixed interval.
type Poller struct {
	cfg     Config
	targets Source
	logger  *slog.Logger
}

// New creates a poller.
func New(cfg Config, targets Source, logger *slog.Logger) *Poller {
	return &Poller{
		cfg:     cfg,
		targets: targets,
		logger:  logger.With("component", "poller"),
	}
}

// Run polls on every tick until ctx is cancelled. Ticks never overlap: a slow
// round delays the next one. A non-positive interval returns immediately.
func (p *Poller) Run(ctx context.Context) {
	if p.cfg.Interval <= 0 {
		p.logger.Info("polling disabled")
		return
	}
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce polls every target once and returns the per-target results.
func (p *Poller) PollOnce(ctx context.Context) []Result {
	targets := p.targets()
	results := make([]Result, 0, len(targets))
	for _, t := range targets {
		if ctx.Err() != nil {
			break
		}
		err := p.pollOne(ctx, t)
		results = append(results, Result{ID: t.ID(), Err: err})
	}
	return results
}

func (p *Poller) pollOne(ctx context.Context, t Target) error {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	err := t.Poll(ctx)
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrRefused):
		p.logger.Debug("poll refused", "device", t.ID())
	default:
		p.logger.Warn("poll failed", "device", t.ID(), "err", err)
	}
	return err
}
