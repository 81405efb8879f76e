package ina219

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const DefaultPollPeriod = 10 * time.Millisecond

// CurrentSource polls a sensor in the background so that MeasuredCurrent
// can be called from the control tick without touching the bus.
type CurrentSource struct {
	sensor Interface
	period time.Duration
	clock  clock.Clock
	logger *zap.SugaredLogger

	amps   atomic.Float64
	failed bool
}

func NewCurrentSource(sensor Interface, period time.Duration, clk clock.Clock, logger *zap.SugaredLogger) *CurrentSource {
	return &CurrentSource{
		sensor: sensor,
		period: period,
		clock:  clk,
		logger: logger,
	}
}

func (s *CurrentSource) MeasuredCurrent() float64 {
	return s.amps.Load()
}

func (s *CurrentSource) Poll() {
	amps, err := s.sensor.ReadCurrent()
	if err != nil {
		if !s.failed {
			s.logger.Warnw("INA219: read failed, holding last value", "error", err)
		}
		s.failed = true
		return
	}
	if s.failed {
		s.logger.Info("INA219: reads recovered")
	}
	s.failed = false
	s.amps.Store(amps)
}

func (s *CurrentSource) Loop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer s.logger.Info("INA219: poll loop exited")
	ticker := s.clock.Ticker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll()
		}
	}
}
