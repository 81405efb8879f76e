package main

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/config"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/dashboard"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/hardware"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/joystick"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/runloop"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/screen"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/sequence"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/shooter"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/sound"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/telemetry"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/tunable"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/vision"
)

const (
	// In the simulator a piece arrives this long after intaking starts.
	simFeedDelay = 2 * time.Second

	joystickRetry = time.Second
	trimTunable   = "Distance Trim"
)

type robot struct {
	cfg    config.Config
	clock  clock.Clock
	logger *zap.SugaredLogger

	hw       hardware.Interface
	sim      *hardware.Sim
	vision   *vision.Store
	tunables *tunable.Tunables
	latest   *telemetry.Latest
	shooter  *shooter.Shooter
	loop     *runloop.Loop
	server   *dashboard.Server
	cue      *sound.Cue

	simFed bool
}

type playerFunc func(path string)

func (f playerFunc) Play(path string) { f(path) }

func newRobot(ctx context.Context, cfg config.Config, clk clock.Clock, logger *zap.SugaredLogger) (*robot, error) {
	r := &robot{
		cfg:      cfg,
		clock:    clk,
		logger:   logger,
		vision:   vision.New(clk, vision.DefaultMaxAge),
		tunables: tunable.New(logger),
		latest:   telemetry.NewLatest(),
	}

	switch cfg.Hardware.Backend {
	case config.BackendSim:
		r.sim = hardware.NewSim(hardware.DefaultSimParams(), clk, logger)
		r.hw = r.sim
	case config.BackendCAN:
		can, err := hardware.NewCAN(ctx, cfg.Hardware, logger)
		if err != nil {
			return nil, err
		}
		r.hw = can
	default:
		return nil, errors.Errorf("unknown hardware backend %q", cfg.Hardware.Backend)
	}

	trim := r.tunables.Create(trimTunable, cfg.Targeting.DistanceTrim, cfg.Targeting.TrimStep)
	pub := telemetry.New(logger, telemetry.NewLogSink(logger), r.latest)

	var err error
	r.shooter, err = shooter.New(cfg.ShooterConfig(), r.hw.Ports(r.vision),
		shooter.WithClock(clk),
		shooter.WithLogger(logger),
		shooter.WithPublisher(pub),
		shooter.WithDistanceTrim(trim))
	if err != nil {
		r.hw.Shutdown()
		return nil, err
	}

	r.cue = sound.NewCue(playerFunc(r.hw.PlaySound), cfg.Dashboard.AcquiredSound)
	r.loop, err = runloop.New(r.shooter, cfg.Control.Period,
		runloop.WithClock(clk),
		runloop.WithLogger(logger),
		runloop.WithAfterTick(r.afterTick),
		runloop.WithOnStop(func() { r.shooter.SetMechanismEnabled(false) }))
	if err != nil {
		r.hw.Shutdown()
		return nil, err
	}

	runner := sequence.New(r.loop, r.shooter,
		sequence.WithClock(clk),
		sequence.WithLogger(logger))
	r.server = dashboard.New(ctx, r.loop, r.shooter, runner, r.vision, r.tunables,
		dashboard.Defaults{OuttakePower: cfg.Intake.OuttakePower, KickPower: cfg.Intake.KickPower},
		logger)
	pub.AddSink(r.server)
	return r, nil
}

// afterTick runs on the control goroutine after every shooter tick.
func (r *robot) afterTick() {
	if r.cue.Observe(r.shooter.IsAcquired()) {
		r.logger.Info("Shooter: game piece acquired")
	}
	if r.sim == nil {
		return
	}
	if r.shooter.Mode() != shooter.Intaking {
		r.simFed = false
		return
	}
	if !r.simFed && r.shooter.ModeElapsed() >= simFeedDelay {
		r.sim.FeedPiece()
		r.simFed = true
	}
}

func (r *robot) handleAction(ctx context.Context, a joystick.Action) error {
	switch a.Kind {
	case joystick.Command:
		return r.server.Command(ctx, a.Name, nil)
	case joystick.Pose:
		return r.server.Pose(a.Name)
	case joystick.Sequence:
		return r.server.Sequence(a.Name, nil)
	case joystick.Trim:
		t := r.tunables.Current()
		if t == nil {
			return errors.New("no tunables")
		}
		v := t.Nudge(a.Steps)
		r.logger.Infow("Tunable adjusted", "name", t.Name, "value", v)
		return nil
	case joystick.SelectTunable:
		if a.Steps < 0 {
			r.tunables.SelectPrev()
		} else {
			r.tunables.SelectNext()
		}
		return nil
	default:
		return errors.Errorf("unknown action %v", a)
	}
}

func (r *robot) screenStatus() screen.Status {
	return screen.StatusFrom(r.shooter.LatestSnapshot(), r.hw.BusVoltage())
}

func (r *robot) runJoystick(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	device := r.cfg.Dashboard.Joystick
	firstLog := true
	for {
		j, err := joystick.NewJoystick(device)
		if err == nil {
			r.logger.Infow("Joystick: opened", "device", device)
			var inner sync.WaitGroup
			inner.Add(1)
			joystick.Loop(ctx, &inner, j, joystick.DefaultBindings(), r.handleAction, r.logger)
			inner.Wait()
		} else if firstLog {
			r.logger.Infow("Joystick: waiting for joystick", "device", device, "error", err)
			firstLog = false
		}
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(joystickRetry):
		}
	}
}

// run starts everything and blocks until ctx is done or a component fails.
// Motors are zeroed on the way out.
func (r *robot) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.hw.Start(ctx)
	defer r.hw.Shutdown()
	r.hw.PlaySound("/sounds/shooterstart.wav")

	var wg sync.WaitGroup
	wg.Add(2)
	go screen.New(r.cfg.Dashboard.ScreenDevice, r.clock, r.logger, r.screenStatus).Loop(ctx, &wg)
	go r.runJoystick(ctx, &wg)

	errC := make(chan error, 2)
	go func() { errC <- r.loop.Run(ctx) }()
	go func() { errC <- r.server.Run(ctx, r.cfg.Dashboard.Listen) }()

	first := <-errC
	cancel()
	second := <-errC
	wg.Wait()

	var err error
	for _, e := range []error{first, second} {
		if e != nil && !errors.Is(e, context.Canceled) {
			err = multierr.Append(err, e)
		}
	}
	return err
}
