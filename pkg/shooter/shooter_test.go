package shooter

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/interp"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/targeting"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/tunable"
)

func newShooter(t *testing.T, r *rig, opts ...Option) (*Shooter, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	opts = append([]Option{WithClock(clk), WithLogger(zaptest.NewLogger(t).Sugar())}, opts...)
	s, err := New(DefaultConfig(), r.ports(), opts...)
	test.That(t, err, test.ShouldBeNil)
	return s, clk
}

func TestNewRejectsEmptyTables(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AngleTable = nil
	cfg.VelocityTable = []interp.Point{}
	_, err := New(cfg, newRig().ports())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "angle table")
	test.That(t, err.Error(), test.ShouldContainSubstring, "velocity table")
}

func TestNewRejectsMissingPorts(t *testing.T) {
	ports := newRig().ports()
	ports.Kicker = nil
	ports.Vision = nil
	_, err := New(DefaultConfig(), ports)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "kicker actuator")
	test.That(t, err.Error(), test.ShouldContainSubstring, "vision")
}

func TestConfigValidateAggregates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Period = 0
	cfg.NominalVoltage = -1
	cfg.IntakePower = 2
	err := cfg.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "control period")
	test.That(t, err.Error(), test.ShouldContainSubstring, "nominal voltage")
	test.That(t, err.Error(), test.ShouldContainSubstring, "intake power")
	test.That(t, DefaultConfig().Validate(), test.ShouldBeNil)
}

func TestDisabledMechanismDrivesNothing(t *testing.T) {
	r := newRig()
	s, _ := newShooter(t, r)
	s.SetTargetAngle(90)
	s.SetTargetVelocity(3000)
	s.EnterIntake()
	r.sensors.angle = -40
	for i := 0; i < 5; i++ {
		s.Tick()
		test.That(t, r.pivot.volts, test.ShouldEqual, 0.0)
		test.That(t, r.flywheel.volts, test.ShouldEqual, 0.0)
		test.That(t, r.kicker.volts, test.ShouldEqual, 0.0)
	}

	s.SetMechanismEnabled(true)
	s.Tick()
	test.That(t, r.pivot.volts, test.ShouldBeGreaterThan, 0.0)
	test.That(t, r.flywheel.volts, test.ShouldBeGreaterThan, 0.0)
	test.That(t, r.kicker.volts, test.ShouldAlmostEqual, 0.4*12)

	s.SetMechanismEnabled(false)
	test.That(t, r.pivot.volts, test.ShouldEqual, 0.0)
	test.That(t, r.flywheel.volts, test.ShouldEqual, 0.0)
	test.That(t, r.kicker.volts, test.ShouldEqual, 0.0)
}

func TestPivotSafeStartLatch(t *testing.T) {
	r := newRig()
	s, _ := newShooter(t, r)
	s.SetMechanismEnabled(true)
	r.sensors.angle = 50

	// No target yet: P is zero so the pivot holds still.
	s.Tick()
	test.That(t, s.PivotGains().P, test.ShouldEqual, 0.0)
	test.That(t, r.pivot.volts, test.ShouldEqual, 0.0)

	for i := 0; i < 10; i++ {
		s.SetTargetAngle(float64(60 + i))
	}
	test.That(t, s.PivotGains().P, test.ShouldEqual, 0.2)
	s.Tick()
	test.That(t, r.pivot.volts, test.ShouldAlmostEqual, 0.2*(69-50))
}

func TestVelocityTargetsInRPM(t *testing.T) {
	r := newRig()
	s, _ := newShooter(t, r)
	s.SetTargetVelocity(600)
	test.That(t, s.TargetVelocityRPM(), test.ShouldAlmostEqual, 600.0)

	r.sensors.velocity = RPMToRadPerSec(600 + 49)
	s.Tick()
	test.That(t, s.AtVelocitySetpoint(), test.ShouldBeTrue)
	r.sensors.velocity = RPMToRadPerSec(600 + 52)
	s.Tick()
	test.That(t, s.AtVelocitySetpoint(), test.ShouldBeFalse)
}

func TestAtAngleSetpointBoundary(t *testing.T) {
	r := newRig()
	s, _ := newShooter(t, r)
	s.SetTargetAngle(45)
	r.sensors.angle = 49
	s.Tick()
	test.That(t, s.AtAngleSetpoint(), test.ShouldBeTrue)
	r.sensors.angle = 49.001
	s.Tick()
	test.That(t, s.AtAngleSetpoint(), test.ShouldBeFalse)
}

func TestIntakeOuttakeStop(t *testing.T) {
	r := newRig()
	s, _ := newShooter(t, r)
	s.SetMechanismEnabled(true)

	s.EnterIntake()
	test.That(t, s.Mode(), test.ShouldEqual, Intaking)
	test.That(t, s.TargetVelocityRPM(), test.ShouldAlmostEqual, 100.0)
	test.That(t, r.kicker.volts, test.ShouldAlmostEqual, 4.8)

	s.EnterOuttake(0.5)
	test.That(t, s.Mode(), test.ShouldEqual, Outtaking)
	test.That(t, s.TargetVelocityRPM(), test.ShouldAlmostEqual, -100.0)
	test.That(t, r.kicker.volts, test.ShouldAlmostEqual, -6.0)

	s.Stop()
	test.That(t, s.Mode(), test.ShouldEqual, Stopped)
	test.That(t, s.TargetVelocityRPM(), test.ShouldEqual, 0.0)
	test.That(t, r.kicker.volts, test.ShouldEqual, 0.0)
}

func TestKickLeavesFlywheel(t *testing.T) {
	r := newRig()
	s, _ := newShooter(t, r)
	s.SetMechanismEnabled(true)
	s.SetTargetVelocity(2500)
	s.Kick(1)
	test.That(t, s.TargetVelocityRPM(), test.ShouldAlmostEqual, 2500.0)
	test.That(t, r.kicker.volts, test.ShouldAlmostEqual, -12.0)
	test.That(t, s.Mode(), test.ShouldEqual, Outtaking)
}

func TestRepeatedIntakeKeepsTimer(t *testing.T) {
	r := newRig()
	s, clk := newShooter(t, r)

	s.EnterIntake()
	clk.Add(100 * time.Millisecond)
	s.EnterIntake()
	test.That(t, s.ModeElapsed(), test.ShouldEqual, 100*time.Millisecond)

	s.EnterOuttake(0.3)
	test.That(t, s.ModeElapsed(), test.ShouldEqual, time.Duration(0))
}

func TestAcquisitionLifecycle(t *testing.T) {
	r := newRig()
	s, clk := newShooter(t, r)
	s.SetMechanismEnabled(true)
	s.SetTargetAngle(-30)
	r.kicker.current = 40

	s.EnterIntake()
	s.Tick()
	test.That(t, s.IsAcquired(), test.ShouldBeFalse)

	clk.Add(100 * time.Millisecond)
	s.Tick()
	test.That(t, s.IsAcquired(), test.ShouldBeFalse)

	clk.Add(60 * time.Millisecond)
	s.Tick()
	test.That(t, s.IsAcquired(), test.ShouldBeTrue)
	test.That(t, s.LatestSnapshot().Acquired, test.ShouldBeTrue)

	// Still true on the next call: nothing latched, conditions still hold.
	test.That(t, s.IsAcquired(), test.ShouldBeTrue)

	// Current drops: false on the very next tick.
	r.kicker.current = 5
	s.Tick()
	test.That(t, s.IsAcquired(), test.ShouldBeFalse)

	r.kicker.current = 40
	s.Tick()
	test.That(t, s.IsAcquired(), test.ShouldBeTrue)

	s.Stop()
	test.That(t, s.IsAcquired(), test.ShouldBeFalse)
	s.Tick()
	test.That(t, s.IsAcquired(), test.ShouldBeFalse)
}

// steppingClock moves time forward on every Since call, like a real clock
// read twice within one tick.
type steppingClock struct {
	*clock.Mock
	step time.Duration
}

func (c *steppingClock) Since(t time.Time) time.Duration {
	c.Mock.Add(c.step)
	return c.Mock.Since(t)
}

func TestSnapshotAcquiredMatchesModeElapsed(t *testing.T) {
	r := newRig()
	clk := &steppingClock{Mock: clock.NewMock(), step: 10 * time.Millisecond}
	s, err := New(DefaultConfig(), r.ports(), WithClock(clk), WithLogger(zaptest.NewLogger(t).Sugar()))
	test.That(t, err, test.ShouldBeNil)
	s.SetMechanismEnabled(true)
	s.SetTargetAngle(-30)
	r.kicker.current = 40
	s.EnterIntake()

	grace := DefaultConfig().GracePeriod
	clk.Mock.Add(grace - 30*time.Millisecond)
	for i := 0; i < 6; i++ {
		s.Tick()
		snap := s.LatestSnapshot()
		test.That(t, snap.Acquired, test.ShouldEqual, snap.ModeElapsed > grace)
	}
	test.That(t, s.LatestSnapshot().Acquired, test.ShouldBeTrue)
}

func TestAcquisitionSuppressedWhenParked(t *testing.T) {
	r := newRig()
	s, clk := newShooter(t, r)
	s.SetTargetAngle(DefaultConfig().Pivot.Poses.Hold)
	r.kicker.current = 40
	s.EnterIntake()
	clk.Add(time.Second)
	s.Tick()
	test.That(t, s.IsAcquired(), test.ShouldBeFalse)

	s.SetTargetAngle(0)
	test.That(t, s.IsAcquired(), test.ShouldBeTrue)

	s.SetTargetVelocity(0)
	test.That(t, s.IsAcquired(), test.ShouldBeFalse)
}

func TestAutoAimOverwritesTargets(t *testing.T) {
	r := newRig()
	trim := &tunable.Tunable{Name: "trim"}
	s, _ := newShooter(t, r, WithDistanceTrim(trim))
	s.SetTargetAngle(12)
	s.SetTargetVelocity(1234)

	r.sensors.sample = targeting.Sample{Visible: true, DistanceMeters: 0.762}
	s.Tick()
	test.That(t, s.TargetAngle(), test.ShouldEqual, 12.0)

	s.SetAutoAimEnabled(true)
	s.Tick()
	test.That(t, s.TargetAngle(), test.ShouldAlmostEqual, 30.0)
	test.That(t, s.TargetVelocityRPM(), test.ShouldAlmostEqual, 500.0)
	test.That(t, s.LatestSnapshot().Solution.Visible, test.ShouldBeTrue)

	trim.Set(2.5)
	s.Tick()
	test.That(t, s.TargetAngle(), test.ShouldAlmostEqual, 60.0)
	test.That(t, s.TargetVelocityRPM(), test.ShouldAlmostEqual, 1000.0)

	r.sensors.sample = targeting.Sample{Visible: false, DistanceMeters: 0.762}
	s.Tick()
	test.That(t, s.TargetAngle(), test.ShouldEqual, DefaultConfig().Pivot.Poses.Hold)
	test.That(t, s.TargetVelocityRPM(), test.ShouldEqual, 0.0)
}

func TestTickReadsEachSensorOnce(t *testing.T) {
	r := newRig()
	s, _ := newShooter(t, r)
	s.SetAutoAimEnabled(true)
	s.Tick()
	test.That(t, r.sensors.reads, test.ShouldEqual, 1)
	s.IsAcquired()
	s.AtAngleSetpoint()
	test.That(t, r.sensors.reads, test.ShouldEqual, 1)
}

func TestTelemetryPublished(t *testing.T) {
	r := newRig()
	pub := &recordingPublisher{}
	s, _ := newShooter(t, r, WithPublisher(pub))
	r.sensors.angle = 33
	s.EnterIntake()
	s.Tick()
	test.That(t, pub.values["Shooter Pivot"], test.ShouldEqual, 33.0)
	test.That(t, pub.values["Shooter Mode"], test.ShouldEqual, "intaking")
	test.That(t, pub.values["Cube Detected"], test.ShouldEqual, false)
}

func TestPublisherFailureDoesNotAffectControl(t *testing.T) {
	r := newRig()
	s, _ := newShooter(t, r, WithPublisher(panickingPublisher{}))
	s.SetMechanismEnabled(true)
	s.SetTargetVelocity(100)
	test.That(t, func() { s.Tick() }, test.ShouldNotPanic)
	test.That(t, r.flywheel.volts, test.ShouldBeGreaterThan, 0.0)
	test.That(t, s.LatestSnapshot().FlywheelTargetRPM, test.ShouldAlmostEqual, 100.0)
}
