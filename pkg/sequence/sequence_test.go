package sequence

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/shooter"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/targeting"
)

type motor struct {
	volts   float64
	current float64
}

func (m *motor) ApplyVoltage(v float64) { m.volts = v }
func (m *motor) MeasuredCurrent() float64 { return m.current }

// plant moves the pivot a fixed step toward its goal on every read and
// reports the flywheel at whatever speed it is told.
type plant struct {
	angle, goal, step float64
	velocity          float64
}

func (p *plant) MeasuredAngle() float64 {
	d := p.goal - p.angle
	if math.Abs(d) <= p.step {
		p.angle = p.goal
	} else {
		p.angle += math.Copysign(p.step, d)
	}
	return p.angle
}

func (p *plant) MeasuredVelocity() float64 { return p.velocity }
func (p *plant) Sample() targeting.Sample { return targeting.Sample{} }

// tickingCommander stands in for the run loop: every command is preceded
// by one control tick.
type tickingCommander struct {
	s     *shooter.Shooter
	plant *plant
	ticks int
}

func (c *tickingCommander) Do(ctx context.Context, f func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.plant.goal = c.s.TargetAngle()
	c.s.Tick()
	c.ticks++
	f()
	return nil
}

type fixture struct {
	kicker *motor
	plant  *plant
	cmd    *tickingCommander
	runner *Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{kicker: &motor{}, plant: &plant{angle: 110, goal: 110, step: 10}}
	s, err := shooter.New(shooter.DefaultConfig(), shooter.Ports{
		Pivot:            &motor{},
		Flywheel:         &motor{},
		Kicker:           f.kicker,
		PivotAngle:       f.plant,
		FlywheelVelocity: f.plant,
		Vision:           f.plant,
	})
	test.That(t, err, test.ShouldBeNil)
	s.SetMechanismEnabled(true)
	f.cmd = &tickingCommander{s: s, plant: f.plant}
	f.runner = New(f.cmd, s, WithPoll(time.Millisecond), WithLogger(zaptest.NewLogger(t).Sugar()))
	return f
}

func TestPoseNames(t *testing.T) {
	for p := PoseIntake; p <= PoseShoot; p++ {
		parsed, err := ParsePose(p.String())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, parsed, test.ShouldEqual, p)
	}
	_, err := ParsePose("sideways")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestWaitUntil(t *testing.T) {
	n := 0
	err := WaitUntil(context.Background(), clock.New(), time.Millisecond, func() (bool, error) {
		n++
		return n == 3, nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 3)

	boom := errors.New("boom")
	err = WaitUntil(context.Background(), clock.New(), time.Millisecond, func() (bool, error) {
		return false, boom
	})
	test.That(t, err, test.ShouldEqual, boom)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = WaitUntil(ctx, clock.New(), time.Millisecond, func() (bool, error) { return false, nil })
	test.That(t, errors.Is(err, context.DeadlineExceeded), test.ShouldBeTrue)
}

func TestPivotToWaitsForSetpoint(t *testing.T) {
	f := newFixture(t)
	test.That(t, f.runner.PivotTo(context.Background(), PoseShoot), test.ShouldBeNil)
	test.That(t, f.cmd.s.TargetAngle(), test.ShouldEqual, 45.0)
	test.That(t, math.Abs(f.plant.angle-45), test.ShouldBeLessThanOrEqualTo, 4.0)
	// 110 -> 45 in steps of 10 takes several ticks.
	test.That(t, f.cmd.ticks, test.ShouldBeGreaterThan, 5)
}

func TestPivotToHoldStopsFlywheel(t *testing.T) {
	f := newFixture(t)
	f.cmd.s.SetTargetVelocity(2000)
	test.That(t, f.runner.PivotTo(context.Background(), PoseHold), test.ShouldBeNil)
	test.That(t, f.cmd.s.TargetVelocityRPM(), test.ShouldEqual, 0.0)
	test.That(t, f.cmd.s.TargetAngle(), test.ShouldEqual, 110.0)
}

func TestPivotToTimesOut(t *testing.T) {
	f := newFixture(t)
	f.plant.step = 0
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := f.runner.PivotTo(ctx, PoseIntake)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, context.DeadlineExceeded), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "intake")
}

func TestIntakeSequence(t *testing.T) {
	f := newFixture(t)
	test.That(t, f.runner.IntakeSequence(context.Background()), test.ShouldBeNil)
	test.That(t, f.cmd.s.Mode(), test.ShouldEqual, shooter.Intaking)
	test.That(t, f.cmd.s.TargetAngle(), test.ShouldEqual, -30.0)
	test.That(t, f.kicker.volts, test.ShouldBeGreaterThan, 0.0)
}

func TestOuttakeSequence(t *testing.T) {
	f := newFixture(t)
	test.That(t, f.runner.OuttakeSequence(context.Background(), 0.5), test.ShouldBeNil)
	test.That(t, f.cmd.s.Mode(), test.ShouldEqual, shooter.Outtaking)
	test.That(t, f.cmd.s.TargetAngle(), test.ShouldEqual, 20.0)
	test.That(t, f.kicker.volts, test.ShouldAlmostEqual, -6.0)
}

func TestIntakeUntilAcquired(t *testing.T) {
	f := newFixture(t)
	f.kicker.current = 40
	test.That(t, f.runner.IntakeUntilAcquired(context.Background()), test.ShouldBeNil)
	test.That(t, f.cmd.s.Mode(), test.ShouldEqual, shooter.Stopped)
	test.That(t, f.cmd.s.TargetAngle(), test.ShouldEqual, 110.0)
}
