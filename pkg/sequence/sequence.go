// Package sequence builds multi-step shooter actions (move to a pose and
// wait, intake, outtake) on top of the shooter's synchronous predicates.
// Every call into the shooter goes through a Commander so that it runs on
// the control loop's goroutine.
package sequence

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/shooter"
)

const DefaultPoll = 20 * time.Millisecond

// Commander runs f where it may safely touch the shooter; runloop.Loop
// satisfies it.
type Commander interface {
	Do(ctx context.Context, f func()) error
}

type Pose int

const (
	PoseIntake Pose = iota
	PoseOuttake
	PoseRetract
	PoseHold
	PoseShoot
)

func (p Pose) String() string {
	switch p {
	case PoseIntake:
		return "intake"
	case PoseOuttake:
		return "outtake"
	case PoseRetract:
		return "retract"
	case PoseHold:
		return "hold"
	case PoseShoot:
		return "shoot"
	}
	return "unknown"
}

// ParsePose is the inverse of Pose.String.
func ParsePose(name string) (Pose, error) {
	for p := PoseIntake; p <= PoseShoot; p++ {
		if p.String() == name {
			return p, nil
		}
	}
	return 0, errors.Errorf("unknown pose %q", name)
}

// WaitUntil polls pred every poll interval until it returns true, returns
// an error, or ctx is done.
func WaitUntil(ctx context.Context, clk clock.Clock, poll time.Duration, pred func() (bool, error)) error {
	for {
		ok, err := pred()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(poll):
		}
	}
}

type Runner struct {
	cmd     Commander
	shooter *shooter.Shooter
	poses   shooter.Poses
	clock   clock.Clock
	poll    time.Duration
	logger  *zap.SugaredLogger
}

type Option func(*Runner)

func WithClock(clk clock.Clock) Option {
	return func(r *Runner) { r.clock = clk }
}

func WithPoll(poll time.Duration) Option {
	return func(r *Runner) { r.poll = poll }
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(r *Runner) { r.logger = logger }
}

func New(cmd Commander, s *shooter.Shooter, opts ...Option) *Runner {
	r := &Runner{
		cmd:     cmd,
		shooter: s,
		poses:   s.Config().Pivot.Poses,
		clock:   clock.New(),
		poll:    DefaultPoll,
		logger:  zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Runner) do(ctx context.Context, f func(s *shooter.Shooter)) error {
	return r.cmd.Do(ctx, func() { f(r.shooter) })
}

func (r *Runner) check(ctx context.Context, f func(s *shooter.Shooter) bool) (bool, error) {
	var ok bool
	err := r.cmd.Do(ctx, func() { ok = f(r.shooter) })
	return ok, err
}

func (r *Runner) Angle(p Pose) float64 {
	switch p {
	case PoseIntake:
		return r.poses.Intake
	case PoseOuttake:
		return r.poses.Outtake
	case PoseRetract:
		return r.poses.Retract
	case PoseShoot:
		return r.poses.Shoot
	default:
		return r.poses.Hold
	}
}

// PivotTo sets the pivot target to the pose and waits for it to settle.
// Moving to the hold pose also stops the flywheel.
func (r *Runner) PivotTo(ctx context.Context, p Pose) error {
	angle := r.Angle(p)
	r.logger.Infow("Sequence: pivot", "pose", p, "angle", angle)
	err := r.do(ctx, func(s *shooter.Shooter) {
		if p == PoseHold {
			s.SetTargetVelocity(0)
		}
		s.SetTargetAngle(angle)
	})
	if err != nil {
		return err
	}
	return errors.Wrapf(r.WaitForPivot(ctx), "moving pivot to %v", p)
}

func (r *Runner) WaitForPivot(ctx context.Context) error {
	return WaitUntil(ctx, r.clock, r.poll, func() (bool, error) {
		return r.check(ctx, (*shooter.Shooter).AtAngleSetpoint)
	})
}

func (r *Runner) WaitForFlywheel(ctx context.Context) error {
	return WaitUntil(ctx, r.clock, r.poll, func() (bool, error) {
		return r.check(ctx, (*shooter.Shooter).AtVelocitySetpoint)
	})
}

func (r *Runner) WaitForAcquisition(ctx context.Context) error {
	return WaitUntil(ctx, r.clock, r.poll, func() (bool, error) {
		return r.check(ctx, (*shooter.Shooter).IsAcquired)
	})
}

// IntakeSequence starts the rollers and then lowers the pivot to the
// intake pose.
func (r *Runner) IntakeSequence(ctx context.Context) error {
	if err := r.do(ctx, (*shooter.Shooter).EnterIntake); err != nil {
		return err
	}
	return r.PivotTo(ctx, PoseIntake)
}

// OuttakeSequence moves to the outtake pose first, then reverses.
func (r *Runner) OuttakeSequence(ctx context.Context, power float64) error {
	if err := r.PivotTo(ctx, PoseOuttake); err != nil {
		return err
	}
	return r.do(ctx, func(s *shooter.Shooter) { s.EnterOuttake(power) })
}

// IntakeUntilAcquired runs the intake sequence, waits for a piece, then
// stops and parks at hold.
func (r *Runner) IntakeUntilAcquired(ctx context.Context) error {
	if err := r.IntakeSequence(ctx); err != nil {
		return err
	}
	if err := r.WaitForAcquisition(ctx); err != nil {
		return errors.Wrap(err, "waiting for game piece")
	}
	r.logger.Info("Sequence: game piece acquired")
	if err := r.do(ctx, (*shooter.Shooter).Stop); err != nil {
		return err
	}
	return r.PivotTo(ctx, PoseHold)
}

// Shoot spins up to rpm at the shoot pose and kicks once both axes are at
// their setpoints.
func (r *Runner) Shoot(ctx context.Context, rpm, kickPower float64) error {
	if err := r.do(ctx, func(s *shooter.Shooter) { s.SetTargetVelocity(rpm) }); err != nil {
		return err
	}
	if err := r.PivotTo(ctx, PoseShoot); err != nil {
		return err
	}
	if err := r.WaitForFlywheel(ctx); err != nil {
		return errors.Wrap(err, "spinning up flywheel")
	}
	return r.do(ctx, func(s *shooter.Shooter) { s.Kick(kickPower) })
}
