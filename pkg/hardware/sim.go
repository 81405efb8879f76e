package hardware

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/shooter"
)

// SimParams describes the simulated mechanism.
type SimParams struct {
	// Pivot speed per volt applied; the pivot has no inertia.
	PivotDegreesPerSecPerVolt float64
	PivotMin, PivotMax        float64
	StartAngle                float64

	// Flywheel steady-state speed per volt and its time constant.
	FlywheelRPMPerVolt float64
	FlywheelTau        time.Duration

	// Kicker current is proportional to |volts| until a fed piece jams it
	// for PieceDuration, when it reads PieceCurrent instead.
	KickerAmpsPerVolt float64
	PieceCurrent      float64
	PieceDuration     time.Duration

	BusVolts float64
}

func DefaultSimParams() SimParams {
	return SimParams{
		PivotDegreesPerSecPerVolt: 40,
		PivotMin:                  -40,
		PivotMax:                  130,
		StartAngle:                110,
		FlywheelRPMPerVolt:        500,
		FlywheelTau:               time.Second,
		KickerAmpsPerVolt:         1.5,
		PieceCurrent:              35,
		PieceDuration:             400 * time.Millisecond,
		BusVolts:                  12.6,
	}
}

const simStep = 5 * time.Millisecond

// Sim is a first-order plant standing in for the real mechanism.
type Sim struct {
	params SimParams
	clock  clock.Clock
	logger *zap.SugaredLogger

	lock          sync.Mutex
	pivotVolts    float64
	flywheelVolts float64
	kickerVolts   float64
	angle         float64
	velocity      float64 // rad/s
	pieceAt       time.Time
	lastStep      time.Time

	cancel context.CancelFunc
	done   sync.WaitGroup
}

func NewSim(params SimParams, clk clock.Clock, logger *zap.SugaredLogger) *Sim {
	return &Sim{
		params:   params,
		clock:    clk,
		logger:   logger,
		angle:    params.StartAngle,
		lastStep: clk.Now(),
	}
}

var _ Interface = (*Sim)(nil)

func (s *Sim) Start(ctx context.Context) {
	s.logger.Info("Sim: Start")
	ctx, s.cancel = context.WithCancel(ctx)
	s.done.Add(1)
	go s.loop(ctx)
}

func (s *Sim) loop(ctx context.Context) {
	defer s.done.Done()
	ticker := s.clock.Ticker(simStep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Step()
		}
	}
}

// Step integrates the plant up to the current time.
func (s *Sim) Step() {
	s.lock.Lock()
	defer s.lock.Unlock()
	now := s.clock.Now()
	dt := now.Sub(s.lastStep).Seconds()
	s.lastStep = now
	if dt <= 0 {
		return
	}
	p := s.params

	s.angle += s.pivotVolts * p.PivotDegreesPerSecPerVolt * dt
	s.angle = math.Max(p.PivotMin, math.Min(p.PivotMax, s.angle))

	target := shooter.RPMToRadPerSec(s.flywheelVolts * p.FlywheelRPMPerVolt)
	alpha := 1.0
	if p.FlywheelTau > 0 {
		alpha = math.Min(1, dt/p.FlywheelTau.Seconds())
	}
	s.velocity += (target - s.velocity) * alpha
}

// FeedPiece simulates a game piece reaching the kicker.
func (s *Sim) FeedPiece() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.logger.Info("Sim: piece fed")
	s.pieceAt = s.clock.Now()
}

func (s *Sim) Ports(vision shooter.VisionPort) shooter.Ports {
	return shooter.Ports{
		Pivot:            simActuator{s, &s.pivotVolts},
		Flywheel:         simActuator{s, &s.flywheelVolts},
		Kicker:           simActuator{s, &s.kickerVolts},
		PivotAngle:       simPivot{s},
		FlywheelVelocity: simFlywheel{s},
		Vision:           vision,
	}
}

func (s *Sim) kickerCurrent() float64 {
	p := s.params
	if s.kickerVolts > 0 && !s.pieceAt.IsZero() && s.clock.Since(s.pieceAt) < p.PieceDuration {
		return p.PieceCurrent
	}
	return math.Abs(s.kickerVolts) * p.KickerAmpsPerVolt
}

func (s *Sim) BusVoltage() float64 {
	return s.params.BusVolts
}

func (s *Sim) PlaySound(path string) {
	s.logger.Infow("Sim: PlaySound", "path", path)
}

func (s *Sim) Shutdown() {
	s.logger.Info("Sim: Shutdown")
	if s.cancel != nil {
		s.cancel()
		s.done.Wait()
	}
	s.lock.Lock()
	s.pivotVolts, s.flywheelVolts, s.kickerVolts = 0, 0, 0
	s.lock.Unlock()
}

type simActuator struct {
	sim   *Sim
	volts *float64
}

func (a simActuator) ApplyVoltage(v float64) {
	a.sim.lock.Lock()
	defer a.sim.lock.Unlock()
	*a.volts = v
}

func (a simActuator) MeasuredCurrent() float64 {
	a.sim.lock.Lock()
	defer a.sim.lock.Unlock()
	if a.volts == &a.sim.kickerVolts {
		return a.sim.kickerCurrent()
	}
	return math.Abs(*a.volts) * a.sim.params.KickerAmpsPerVolt
}

type simPivot struct{ sim *Sim }

func (p simPivot) MeasuredAngle() float64 {
	p.sim.lock.Lock()
	defer p.sim.lock.Unlock()
	return p.sim.angle
}

type simFlywheel struct{ sim *Sim }

func (f simFlywheel) MeasuredVelocity() float64 {
	f.sim.lock.Lock()
	defer f.sim.lock.Unlock()
	return f.sim.velocity
}
