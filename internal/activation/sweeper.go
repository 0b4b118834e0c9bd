// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package activation

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensor/internal/models"
)

const (
	sweepTimeout         = 2 * time.Minute
	defaultSweepInterval = 5 * time.Minute

	initialBackoff = 30 * time.Second
	maxBackoff     = 10 * time.Minute
)

// Timing is read before every sweep so configuration reloads apply
// without a restart.
type Timing struct {
	Interval           time.Duration
	HeartbeatStaleness time.Duration
	SlotStaleness      time.Duration
}

// Report is the outcome of one full sweep
type Report struct {
	StartedAt       time.Time    `json:"startedAt"`
	ExpiredLicenses int          `json:"expiredLicenses"`
	Devices         *SweepResult `json:"devices,omitempty"`
	Slots           *SweepResult `json:"slots,omitempty"`
}

// SweepObserver receives every completed sweep report
type SweepObserver interface {
	SweepCompleted(report *Report)
}

// Sweeper runs license expiry and stale activation sweeps on a ticker
type Sweeper struct {
	engine   *Engine
	timing   func() Timing
	observer SweepObserver

	mu        sync.Mutex
	ticker    *time.Ticker
	interval  time.Duration
	stop      chan struct{}
	done      chan struct{}
	running   bool
	attempts  int
	nextRetry time.Time
	last      *Report
}

// NewSweeper builds a sweeper; observer may be nil
func NewSweeper(engine *Engine, timing func() Timing, observer SweepObserver) *Sweeper {
	return &Sweeper{
		engine:   engine,
		timing:   timing,
		observer: observer,
	}
}

// Start launches the sweep loop. It runs one sweep immediately.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.interval = s.timing().Interval
	if s.interval <= 0 {
		s.interval = defaultSweepInterval
	}
	s.ticker = time.NewTicker(s.interval)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	go s.loop(s.ticker, s.stop, s.done)

	log.Info().Dur("interval", s.interval).Msg("Activation sweeper started")
}

// Stop halts the loop and waits for an in-flight sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.ticker.Stop()
	done := s.done
	s.mu.Unlock()

	<-done
	log.Info().Msg("Activation sweeper stopped")
}

func (s *Sweeper) loop(ticker *time.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	s.tick(ctx)

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-stop:
			return
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if s.inBackoff() {
		return
	}

	timing := s.timing()
	s.adjustInterval(timing.Interval)

	sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	if _, err := s.RunOnce(sweepCtx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.trackFailure(err)
		return
	}
	s.resetFailures()
}

// RunOnce performs a single sweep: licenses past their validity window are
// expired, then stale devices and slots are released.
func (s *Sweeper) RunOnce(ctx context.Context) (*Report, error) {
	timing := s.timing()
	report := &Report{StartedAt: s.engine.now().UTC()}

	var errs *multierror.Error

	expired, err := s.engine.ExpireLicenses(ctx)
	report.ExpiredLicenses = expired
	if err != nil {
		errs = multierror.Append(errs, err)
	}

	if timing.HeartbeatStaleness > 0 {
		devices, err := s.engine.SweepStale(ctx, models.ActivationKindDevice, timing.HeartbeatStaleness)
		report.Devices = devices
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if timing.SlotStaleness > 0 {
		slots, err := s.engine.SweepStale(ctx, models.ActivationKindSlot, timing.SlotStaleness)
		report.Slots = slots
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.SweepCompleted(report)
	}

	return report, errs.ErrorOrNil()
}

// LastReport returns the most recent sweep report, if any
func (s *Sweeper) LastReport() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Sweeper) adjustInterval(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if interval <= 0 || interval == s.interval || s.ticker == nil {
		return
	}

	s.ticker.Reset(interval)
	log.Info().Dur("from", s.interval).Dur("to", interval).Msg("Activation sweep interval changed")
	s.interval = interval
}

func (s *Sweeper) inBackoff() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().Before(s.nextRetry)
}

// trackFailure applies exponential backoff after a failed sweep
func (s *Sweeper) trackFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	backoff := calculateBackoff(s.attempts, initialBackoff, maxBackoff)
	s.nextRetry = time.Now().Add(backoff)

	log.Error().Err(err).Int("attempts", s.attempts).Dur("backoffDuration", backoff).Msg("Activation sweep failed")
}

func (s *Sweeper) resetFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attempts > 0 {
		log.Debug().Int("attempts", s.attempts).Msg("Activation sweep recovered")
	}
	s.attempts = 0
	s.nextRetry = time.Time{}
}

func calculateBackoff(attempts int, initial, limit time.Duration) time.Duration {
	if attempts > 16 {
		return limit
	}
	backoff := time.Duration(1<<(attempts-1)) * initial
	if backoff > limit {
		backoff = limit
	}
	return backoff
}
