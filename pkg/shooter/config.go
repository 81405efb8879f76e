package shooter

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/interp"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/setpoint"
)

// Poses are the fixed pivot angles, in degrees, used by the presets.
type Poses struct {
	Intake  float64
	Outtake float64
	Retract float64
	Hold    float64
	Shoot   float64
}

type PivotConfig struct {
	Gains            setpoint.Gains
	SafeStartP       float64
	ToleranceDegrees float64
	Poses            Poses
}

type FlywheelConfig struct {
	Gains        setpoint.Gains
	ToleranceRPM float64
}

type Config struct {
	Period         time.Duration
	NominalVoltage float64

	Pivot    PivotConfig
	Flywheel FlywheelConfig

	IntakeRPM  float64
	OuttakeRPM float64
	// IntakePower and the outtake power passed to EnterOuttake are
	// fractions of NominalVoltage applied to the kicker.
	IntakePower float64

	GracePeriod      time.Duration
	CurrentThreshold float64

	AngleTable    []interp.Point
	VelocityTable []interp.Point
}

// DefaultConfig carries placeholder tuning taken from the first bring-up of
// the mechanism.
func DefaultConfig() Config {
	return Config{
		Period:         20 * time.Millisecond,
		NominalVoltage: 12,
		Pivot: PivotConfig{
			SafeStartP:       0.2,
			ToleranceDegrees: 4,
			Poses: Poses{
				Intake:  -30,
				Outtake: 20,
				Retract: 90,
				Hold:    110,
				Shoot:   45,
			},
		},
		Flywheel: FlywheelConfig{
			Gains:        setpoint.Gains{P: 0.5},
			ToleranceRPM: 50,
		},
		IntakeRPM:        100,
		OuttakeRPM:       -100,
		IntakePower:      0.4,
		GracePeriod:      150 * time.Millisecond,
		CurrentThreshold: 25,
		AngleTable: []interp.Point{
			{Key: 0, Value: 0},
			{Key: 10, Value: 120},
		},
		VelocityTable: []interp.Point{
			{Key: 0, Value: 0},
			{Key: 5, Value: 1000},
		},
	}
}

func (c Config) Validate() error {
	var err error
	if c.Period <= 0 {
		err = multierr.Append(err, errors.Errorf("control period must be positive, got %v", c.Period))
	}
	if c.NominalVoltage <= 0 {
		err = multierr.Append(err, errors.Errorf("nominal voltage must be positive, got %v", c.NominalVoltage))
	}
	if c.Pivot.ToleranceDegrees < 0 {
		err = multierr.Append(err, errors.New("pivot tolerance must not be negative"))
	}
	if c.Flywheel.ToleranceRPM < 0 {
		err = multierr.Append(err, errors.New("flywheel tolerance must not be negative"))
	}
	if c.IntakePower < 0 || c.IntakePower > 1 {
		err = multierr.Append(err, errors.Errorf("intake power must be within [0, 1], got %v", c.IntakePower))
	}
	if c.GracePeriod < 0 {
		err = multierr.Append(err, errors.New("grace period must not be negative"))
	}
	if len(c.AngleTable) == 0 {
		err = multierr.Append(err, errors.Wrap(interp.ErrEmptyTable, "angle table"))
	}
	if len(c.VelocityTable) == 0 {
		err = multierr.Append(err, errors.Wrap(interp.ErrEmptyTable, "velocity table"))
	}
	return err
}
