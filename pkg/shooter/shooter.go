// Package shooter is the control core of the pivot + flywheel shooter. It
// owns the two setpoint controllers, the operating mode and the
// acquisition detector, and is driven by calling Tick once per control
// period. All methods must be called from a single goroutine (see
// pkg/runloop); LatestSnapshot is the only method safe to call from
// elsewhere.
package shooter

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/interp"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/setpoint"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/targeting"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/tunable"
)

func RPMToRadPerSec(rpm float64) float64 {
	return rpm * 2 * math.Pi / 60
}

func RadPerSecToRPM(radPerSec float64) float64 {
	return radPerSec * 60 / (2 * math.Pi)
}

// Snapshot is the state published after each tick.
type Snapshot struct {
	Time        time.Time     `json:"time"`
	Mode        string        `json:"mode"`
	ModeElapsed time.Duration `json:"mode_elapsed"`

	MechanismEnabled bool `json:"mechanism_enabled"`
	AutoAimEnabled   bool `json:"auto_aim_enabled"`

	PivotAngle      float64 `json:"pivot_angle"`
	PivotTarget     float64 `json:"pivot_target"`
	PivotVolts      float64 `json:"pivot_volts"`
	AtPivotSetpoint bool    `json:"at_pivot_setpoint"`

	FlywheelRPM        float64 `json:"flywheel_rpm"`
	FlywheelTargetRPM  float64 `json:"flywheel_target_rpm"`
	FlywheelVolts      float64 `json:"flywheel_volts"`
	AtFlywheelSetpoint bool    `json:"at_flywheel_setpoint"`

	KickerAmps  float64 `json:"kicker_amps"`
	KickerVolts float64 `json:"kicker_volts"`

	Vision   targeting.Sample   `json:"vision"`
	Solution targeting.Solution `json:"solution"`
	Acquired bool               `json:"acquired"`
}

// sensors is the per-tick snapshot of every input.
type sensors struct {
	angle    float64
	velocity float64
	current  float64
	vision   targeting.Sample
}

type Shooter struct {
	cfg    Config
	ports  Ports
	clock  clock.Clock
	logger *zap.SugaredLogger
	pub    Publisher
	trim   *tunable.Tunable

	pivot    *setpoint.Controller
	flywheel *setpoint.Controller
	targeter *targeting.Targeter
	modes    *ModeTracker
	detector Detector

	mechanismEnabled bool
	autoAimEnabled   bool

	kickerVolts  float64
	lastSensors  sensors
	lastSolution targeting.Solution

	latest atomic.Value // Snapshot
}

type Option func(*Shooter)

func WithClock(clk clock.Clock) Option {
	return func(s *Shooter) { s.clock = clk }
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Shooter) { s.logger = logger }
}

func WithPublisher(p Publisher) Option {
	return func(s *Shooter) { s.pub = p }
}

// WithDistanceTrim offsets every vision distance (in table units) by the
// tunable's value before lookup.
func WithDistanceTrim(trim *tunable.Tunable) Option {
	return func(s *Shooter) { s.trim = trim }
}

func New(cfg Config, ports Ports, opts ...Option) (*Shooter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid shooter config")
	}
	if missing := ports.missing(); len(missing) > 0 {
		return nil, errors.Errorf("shooter ports not connected: %v", missing)
	}

	s := &Shooter{
		cfg:    cfg,
		ports:  ports,
		clock:  clock.New(),
		logger: zap.NewNop().Sugar(),
		pub:    nopPublisher{},
	}
	for _, o := range opts {
		o(s)
	}

	gate := setpoint.GateFunc(func() bool { return s.mechanismEnabled })

	var err error
	s.pivot, err = setpoint.New(setpoint.Config{
		Name:       "pivot",
		Gains:      cfg.Pivot.Gains,
		Tolerance:  cfg.Pivot.ToleranceDegrees,
		Period:     cfg.Period,
		MaxOutput:  cfg.NominalVoltage,
		SafeStartP: cfg.Pivot.SafeStartP,
	}, gate)
	if err != nil {
		return nil, err
	}
	s.flywheel, err = setpoint.New(setpoint.Config{
		Name:      "flywheel",
		Gains:     cfg.Flywheel.Gains,
		Tolerance: RPMToRadPerSec(cfg.Flywheel.ToleranceRPM),
		Period:    cfg.Period,
		MaxOutput: cfg.NominalVoltage,
	}, gate)
	if err != nil {
		return nil, err
	}

	angles, err := interp.New(cfg.AngleTable...)
	if err != nil {
		return nil, errors.Wrap(err, "angle table")
	}
	velocities, err := interp.New(cfg.VelocityTable...)
	if err != nil {
		return nil, errors.Wrap(err, "velocity table")
	}
	var targetOpts []targeting.Option
	if s.trim != nil {
		targetOpts = append(targetOpts, targeting.WithDistanceTrim(s.trim))
	}
	s.targeter, err = targeting.New(angles, velocities, cfg.Pivot.Poses.Hold, targetOpts...)
	if err != nil {
		return nil, err
	}

	s.modes = NewModeTracker(s.clock)
	s.detector = Detector{
		GracePeriod:      cfg.GracePeriod,
		CurrentThreshold: cfg.CurrentThreshold,
		HoldAngle:        cfg.Pivot.Poses.Hold,
	}
	s.latest.Store(Snapshot{Mode: Stopped.String()})
	return s, nil
}

func (s *Shooter) Config() Config {
	return s.cfg
}

// EnterIntake spins the flywheel at intake speed and drives the kicker
// inward. The mode timer only restarts if we were not already intaking.
func (s *Shooter) EnterIntake() {
	s.setFlywheelTarget(s.cfg.IntakeRPM)
	s.setKicker(s.cfg.IntakePower * s.cfg.NominalVoltage)
	s.enter(Intaking)
}

// EnterOuttake reverses the flywheel and drives the kicker outward at the
// given fraction of nominal voltage.
func (s *Shooter) EnterOuttake(power float64) {
	s.setFlywheelTarget(s.cfg.OuttakeRPM)
	s.setKicker(-power * s.cfg.NominalVoltage)
	s.enter(Outtaking)
}

// Kick drives only the kicker outward, leaving the flywheel target alone.
// Used to feed a held piece into an already spinning flywheel.
func (s *Shooter) Kick(power float64) {
	s.setKicker(-power * s.cfg.NominalVoltage)
	s.enter(Outtaking)
}

func (s *Shooter) Stop() {
	s.setFlywheelTarget(0)
	s.setKicker(0)
	s.enter(Stopped)
}

func (s *Shooter) enter(m Mode) {
	if s.modes.Enter(m) {
		s.logger.Infow("Shooter: mode", "mode", m)
	}
}

func (s *Shooter) SetAutoAimEnabled(enabled bool) {
	if enabled != s.autoAimEnabled {
		s.logger.Infow("Shooter: auto-aim", "enabled", enabled)
	}
	s.autoAimEnabled = enabled
}

// SetMechanismEnabled opens or closes the output gate. While closed every
// actuator is commanded to 0 V.
func (s *Shooter) SetMechanismEnabled(enabled bool) {
	if enabled != s.mechanismEnabled {
		s.logger.Infow("Shooter: mechanism", "enabled", enabled)
	}
	s.mechanismEnabled = enabled
	if !enabled {
		s.ports.Pivot.ApplyVoltage(0)
		s.ports.Flywheel.ApplyVoltage(0)
		s.ports.Kicker.ApplyVoltage(0)
	}
}

func (s *Shooter) SetTargetAngle(degrees float64) {
	wasLatched := s.pivot.Latched()
	s.pivot.SetTarget(degrees)
	if !wasLatched && s.pivot.Latched() {
		s.logger.Infow("Shooter: pivot gain armed", "p", s.pivot.Gains().P)
	}
}

func (s *Shooter) SetTargetVelocity(rpm float64) {
	s.setFlywheelTarget(rpm)
}

func (s *Shooter) setFlywheelTarget(rpm float64) {
	s.flywheel.SetTarget(RPMToRadPerSec(rpm))
}

func (s *Shooter) setKicker(volts float64) {
	s.kickerVolts = volts
	s.ports.Kicker.ApplyVoltage(s.gatedKicker())
}

func (s *Shooter) gatedKicker() float64 {
	if !s.mechanismEnabled {
		return 0
	}
	return s.kickerVolts
}

func (s *Shooter) Mode() Mode {
	return s.modes.Mode()
}

func (s *Shooter) ModeElapsed() time.Duration {
	return s.modes.Elapsed()
}

func (s *Shooter) TargetAngle() float64 {
	return s.pivot.Target()
}

func (s *Shooter) TargetVelocityRPM() float64 {
	return RadPerSecToRPM(s.flywheel.Target())
}

func (s *Shooter) AutoAimEnabled() bool {
	return s.autoAimEnabled
}

func (s *Shooter) MechanismEnabled() bool {
	return s.mechanismEnabled
}

// PivotGains exposes the pivot controller's current gains, including the
// effect of the safe-start latch.
func (s *Shooter) PivotGains() setpoint.Gains {
	return s.pivot.Gains()
}

// AtAngleSetpoint uses the angle read on the most recent tick.
func (s *Shooter) AtAngleSetpoint() bool {
	return s.pivot.AtSetpoint(s.lastSensors.angle)
}

// AtVelocitySetpoint uses the velocity read on the most recent tick.
func (s *Shooter) AtVelocitySetpoint() bool {
	return s.flywheel.AtSetpoint(s.lastSensors.velocity)
}

// IsAcquired reports whether a game piece has just been pulled in. Mode,
// timer and targets are read live; the kicker current is the value sampled
// on the most recent tick.
func (s *Shooter) IsAcquired() bool {
	return s.acquired(s.modes.Elapsed())
}

func (s *Shooter) acquired(elapsed time.Duration) bool {
	return s.detector.Acquired(DetectorInput{
		Mode:           s.modes.Mode(),
		Elapsed:        elapsed,
		KickerCurrent:  s.lastSensors.current,
		PivotTarget:    s.pivot.Target(),
		FlywheelTarget: s.flywheel.Target(),
	})
}

func (s *Shooter) readSensors() sensors {
	return sensors{
		angle:    s.ports.PivotAngle.MeasuredAngle(),
		velocity: s.ports.FlywheelVelocity.MeasuredVelocity(),
		current:  s.ports.Kicker.MeasuredCurrent(),
		vision:   s.ports.Vision.Sample(),
	}
}

// Tick runs one control period: sample every sensor once, apply dynamic
// targets if auto-aim is on, drive both axes, refresh the kicker command
// and publish telemetry.
func (s *Shooter) Tick() {
	in := s.readSensors()
	s.lastSensors = in

	if s.autoAimEnabled {
		sol := s.targeter.Compute(in.vision)
		s.lastSolution = sol
		s.setFlywheelTarget(sol.VelocityRPM)
		s.SetTargetAngle(sol.AngleDegrees)
	}

	pivotVolts := s.pivot.ComputeOutput(in.angle)
	s.ports.Pivot.ApplyVoltage(pivotVolts)

	flywheelVolts := s.flywheel.ComputeOutput(in.velocity)
	s.ports.Flywheel.ApplyVoltage(flywheelVolts)

	kickerVolts := s.gatedKicker()
	s.ports.Kicker.ApplyVoltage(kickerVolts)

	// One clock read so ModeElapsed and Acquired agree on the grace period.
	elapsed := s.modes.Elapsed()
	snap := Snapshot{
		Time:               s.clock.Now(),
		Mode:               s.modes.Mode().String(),
		ModeElapsed:        elapsed,
		MechanismEnabled:   s.mechanismEnabled,
		AutoAimEnabled:     s.autoAimEnabled,
		PivotAngle:         in.angle,
		PivotTarget:        s.pivot.Target(),
		PivotVolts:         pivotVolts,
		AtPivotSetpoint:    s.pivot.AtSetpoint(in.angle),
		FlywheelRPM:        RadPerSecToRPM(in.velocity),
		FlywheelTargetRPM:  s.TargetVelocityRPM(),
		FlywheelVolts:      flywheelVolts,
		AtFlywheelSetpoint: s.flywheel.AtSetpoint(in.velocity),
		KickerAmps:         in.current,
		KickerVolts:        kickerVolts,
		Vision:             in.vision,
		Solution:           s.lastSolution,
		Acquired:           s.acquired(elapsed),
	}
	s.latest.Store(snap)
	s.publish(snap)
}

// LatestSnapshot returns the state recorded by the most recent tick. Safe
// to call from any goroutine.
func (s *Shooter) LatestSnapshot() Snapshot {
	return s.latest.Load().(Snapshot)
}

func (s *Shooter) publish(snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warnw("Shooter: telemetry publish failed", "error", r)
		}
	}()
	s.pub.Publish("Shooter Pivot", snap.PivotAngle)
	s.pub.Publish("Shooter Pivot Target", snap.PivotTarget)
	s.pub.Publish("Flywheel RPM", snap.FlywheelRPM)
	s.pub.Publish("Flywheel Target RPM", snap.FlywheelTargetRPM)
	s.pub.Publish("Kicker Current", snap.KickerAmps)
	s.pub.Publish("Shooter Mode", snap.Mode)
	s.pub.Publish("Shooter Enabled", snap.MechanismEnabled)
	s.pub.Publish("Auto Aim", snap.AutoAimEnabled)
	s.pub.Publish("Target Visible", snap.Vision.Visible)
	s.pub.Publish("Interpolated Pivot", snap.Solution.AngleDegrees)
	s.pub.Publish("Interpolated Velocity", snap.Solution.VelocityRPM)
	s.pub.Publish("Front Distance From Goal", snap.Solution.DistanceKey)
	s.pub.Publish("Cube Detected", snap.Acquired)
}
