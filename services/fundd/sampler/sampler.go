package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"traderchain/native/fund"
	"traderchain/observability"
	"traderchain/services/fundd/storage"
)

// Valuer exposes the fund views the sampler reads.
type Valuer interface {
	Funds(ctx context.Context) ([]uint64, error)
	Snapshot(ctx context.Context, fundID uint64) (*fund.Snapshot, error)
}

// Recorder persists sampled valuations.
type Recorder interface {
	RecordSnapshot(ctx context.Context, snap *storage.NAVSnapshot) error
}

// Sampler periodically values every fund and records the result.
type Sampler struct {
	logger   *slog.Logger
	valuer   Valuer
	recorder Recorder
	interval time.Duration
	metrics  *observability.FundMetrics
	once     sync.Once
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sampler) {
		s.logger = l
	}
}

// WithMetrics overrides the metrics sink. Passing nil disables metrics.
func WithMetrics(m *observability.FundMetrics) Option {
	return func(s *Sampler) {
		s.metrics = m
	}
}

// New constructs a sampler instance.
func New(valuer Valuer, recorder Recorder, interval time.Duration, opts ...Option) (*Sampler, error) {
	if valuer == nil {
		return nil, fmt.Errorf("valuer required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("recorder required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	s := &Sampler{
		logger:   slog.Default(),
		valuer:   valuer,
		recorder: recorder,
		interval: interval,
		metrics:  observability.Funds(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Run blocks, sampling every interval until the context is cancelled.
func (s *Sampler) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("sampler not configured")
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.once.Do(func() {
		s.logger.Info("nav sampler started", "interval", s.interval.String())
	})
	for {
		if err := s.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("nav sampler tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick samples every fund once. A fund that cannot be valued, for example
// because a route is missing, is skipped and reported in the returned error
// without stopping the others.
func (s *Sampler) Tick(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("sampler not configured")
	}
	ids, err := s.valuer.Funds(ctx)
	if err != nil {
		return fmt.Errorf("list funds: %w", err)
	}
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.sample(ctx, id); err != nil {
			s.metrics.RecordSampleError(id)
			errs = append(errs, fmt.Errorf("fund %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sampler) sample(ctx context.Context, fundID uint64) error {
	snap, err := s.valuer.Snapshot(ctx, fundID)
	if err != nil {
		return err
	}
	s.metrics.RecordSample(fundID, snap.BaseCurrency, snap.NAV, snap.SharePrice, snap.Halted)
	return s.recorder.RecordSnapshot(ctx, &storage.NAVSnapshot{
		FundID:       fundID,
		BaseCurrency: snap.BaseCurrency,
		NAV:          snap.NAV.Dec(),
		SharePrice:   snap.SharePrice.Dec(),
		TotalShares:  snap.TotalShares.Dec(),
		Halted:       snap.Halted,
		SampledAt:    snap.At,
	})
}
