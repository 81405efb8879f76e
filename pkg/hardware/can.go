package hardware

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/config"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/ina219"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/mux"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/shooter"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/sound"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/sparkmax"
)

type currentReader interface {
	MeasuredCurrent() float64
}

// CAN is the real mechanism: three SPARK MAX controllers on SocketCAN and
// optionally an INA219 on the kicker supply.
type CAN struct {
	logger *zap.SugaredLogger

	bus      *sparkmax.Bus
	pivot    *sparkmax.Motor
	flywheel *sparkmax.Motor
	kicker   *sparkmax.Motor

	ina     *ina219.INA219
	current *ina219.CurrentSource

	sounds *sound.Player

	cancel context.CancelFunc
	loops  sync.WaitGroup
}

var _ Interface = (*CAN)(nil)

func NewCAN(ctx context.Context, cfg config.HardwareConfig, logger *zap.SugaredLogger) (*CAN, error) {
	bus, err := sparkmax.Dial(ctx, cfg.CANInterface, logger.Named("can"))
	if err != nil {
		return nil, err
	}
	h := newCANWithBus(bus, cfg, logger)

	if cfg.CurrentSource == config.CurrentFromINA219 {
		if err := mux.Select(cfg.I2CBus, cfg.I2CMuxPort, logger.Named("mux")); err != nil {
			_ = bus.Close()
			return nil, errors.Wrap(err, "failed to select INA219 mux port")
		}
		ina, err := ina219.NewI2C(cfg.I2CBus, cfg.INA219Address, logger.Named("ina219"))
		if err != nil {
			_ = bus.Close()
			return nil, err
		}
		if err := ina.Configure(cfg.ShuntOhms, cfg.MaxCurrent); err != nil {
			_ = ina.Close()
			_ = bus.Close()
			return nil, errors.Wrap(err, "failed to configure INA219")
		}
		h.ina = ina
		h.current = ina219.NewCurrentSource(ina, ina219.DefaultPollPeriod, clock.New(), logger.Named("ina219"))
	}
	h.sounds = sound.New(logger.Named("sound"))
	return h, nil
}

func newCANWithBus(bus *sparkmax.Bus, cfg config.HardwareConfig, logger *zap.SugaredLogger) *CAN {
	flywheelOpts := []sparkmax.MotorOption{sparkmax.WithGearRatio(cfg.FlywheelGearRatio)}
	if cfg.FlywheelFollowerID != 0 {
		var followerOpts []sparkmax.MotorOption
		if cfg.FlywheelFollowerInverted {
			followerOpts = append(followerOpts, sparkmax.Inverted())
		}
		flywheelOpts = append(flywheelOpts, sparkmax.WithFollowers(bus.Motor(cfg.FlywheelFollowerID, followerOpts...)))
	}
	return &CAN{
		logger: logger,
		bus:    bus,
		pivot: bus.Motor(cfg.PivotID,
			sparkmax.WithGearRatio(cfg.PivotGearRatio),
			sparkmax.WithOffsetDegrees(cfg.PivotOffsetDegrees)),
		flywheel: bus.Motor(cfg.FlywheelID, flywheelOpts...),
		kicker:   bus.Motor(cfg.KickerID),
	}
}

func (h *CAN) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.loops.Add(2)
	go h.bus.Loop(ctx, &h.loops)
	go h.bus.HeartbeatLoop(ctx, &h.loops)
	if h.current != nil {
		h.loops.Add(1)
		go h.current.Loop(ctx, &h.loops)
	}
	h.logger.Info("HW: started")
}

func (h *CAN) Ports(vision shooter.VisionPort) shooter.Ports {
	var kicker shooter.ActuatorPort = h.kicker
	if h.current != nil {
		kicker = kickerWithShunt{Motor: h.kicker, current: h.current}
	}
	return shooter.Ports{
		Pivot:            h.pivot,
		Flywheel:         h.flywheel,
		Kicker:           kicker,
		PivotAngle:       h.pivot,
		FlywheelVelocity: h.flywheel,
		Vision:           vision,
	}
}

func (h *CAN) BusVoltage() float64 {
	return h.pivot.BusVolts()
}

func (h *CAN) PlaySound(path string) {
	if h.sounds != nil {
		h.sounds.Play(path)
	}
}

func (h *CAN) Shutdown() {
	h.logger.Info("HW: stopping motors")
	for _, m := range []*sparkmax.Motor{h.pivot, h.flywheel, h.kicker} {
		m.ApplyVoltage(0)
	}
	if h.cancel != nil {
		// The receive loop closes the bus on its way out.
		h.cancel()
		h.loops.Wait()
	} else if err := h.bus.Close(); err != nil {
		h.logger.Warnw("HW: failed to close CAN bus", "error", err)
	}
	if h.ina != nil {
		if err := h.ina.Close(); err != nil {
			h.logger.Warnw("HW: failed to close INA219", "error", err)
		}
	}
	if h.sounds != nil {
		h.sounds.Close()
	}
	h.logger.Info("HW: stopped")
}

// kickerWithShunt drives the kicker through its controller but reports the
// current measured by the external shunt.
type kickerWithShunt struct {
	*sparkmax.Motor
	current currentReader
}

func (k kickerWithShunt) MeasuredCurrent() float64 {
	return k.current.MeasuredCurrent()
}
