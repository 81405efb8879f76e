// Package config loads the shooter's YAML configuration, applies
// environment overrides and converts it into the shapes the other
// packages expect.
package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	yaml "gopkg.in/yaml.v2"

	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/interp"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/setpoint"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/shooter"
)

const (
	DefaultPath = "/cfg/shooter.yaml"

	BackendSim = "sim"
	BackendCAN = "can"

	CurrentFromSparkMax = "sparkmax"
	CurrentFromINA219   = "ina219"
)

type Config struct {
	Debug bool `yaml:"debug"`

	Control   ControlConfig   `yaml:"control"`
	Pivot     PivotConfig     `yaml:"pivot"`
	Flywheel  FlywheelConfig  `yaml:"flywheel"`
	Intake    IntakeConfig    `yaml:"intake"`
	Detector  DetectorConfig  `yaml:"detector"`
	Targeting TargetingConfig `yaml:"targeting"`
	Hardware  HardwareConfig  `yaml:"hardware"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

type ControlConfig struct {
	Period         time.Duration `yaml:"period"`
	NominalVoltage float64       `yaml:"nominal_voltage"`
}

type PivotConfig struct {
	Gains      setpoint.Gains `yaml:"gains"`
	SafeStartP float64        `yaml:"safe_start_p"`
	Tolerance  float64        `yaml:"tolerance_degrees"`

	IntakeAngle  float64 `yaml:"intake_angle"`
	OuttakeAngle float64 `yaml:"outtake_angle"`
	RetractAngle float64 `yaml:"retract_angle"`
	HoldAngle    float64 `yaml:"hold_angle"`
	ShootAngle   float64 `yaml:"shoot_angle"`
}

type FlywheelConfig struct {
	Gains        setpoint.Gains `yaml:"gains"`
	ToleranceRPM float64        `yaml:"tolerance_rpm"`
}

type IntakeConfig struct {
	IntakeRPM    float64 `yaml:"intake_rpm"`
	OuttakeRPM   float64 `yaml:"outtake_rpm"`
	IntakePower  float64 `yaml:"intake_power"`
	OuttakePower float64 `yaml:"outtake_power"`
	KickPower    float64 `yaml:"kick_power"`
}

type DetectorConfig struct {
	GracePeriod      time.Duration `yaml:"grace_period"`
	CurrentThreshold float64       `yaml:"current_threshold"`
}

type TargetingConfig struct {
	// Both tables are keyed in feet.
	PivotTable    []interp.Point `yaml:"pivot_table"`
	VelocityTable []interp.Point `yaml:"velocity_table"`
	DistanceTrim  float64        `yaml:"distance_trim"`
	TrimStep      float64        `yaml:"trim_step"`
}

type HardwareConfig struct {
	Backend      string `yaml:"backend"`
	CANInterface string `yaml:"can_interface"`

	PivotID    uint8 `yaml:"pivot_id"`
	FlywheelID uint8 `yaml:"flywheel_id"`
	KickerID   uint8 `yaml:"kicker_id"`
	// Second flywheel motor driven with the same voltage; 0 for none.
	FlywheelFollowerID       uint8 `yaml:"flywheel_follower_id"`
	FlywheelFollowerInverted bool  `yaml:"flywheel_follower_inverted"`

	// Motor rotations per mechanism rotation. The pivot offset is
	// subtracted from the geared-down encoder angle.
	PivotGearRatio     float64 `yaml:"pivot_gear_ratio"`
	PivotOffsetDegrees float64 `yaml:"pivot_offset_degrees"`
	FlywheelGearRatio  float64 `yaml:"flywheel_gear_ratio"`

	CurrentSource string  `yaml:"current_source"`
	I2CBus        string  `yaml:"i2c_bus"`
	INA219Address uint16  `yaml:"ina219_address"`
	// Multiplexer port the INA219 hangs off, or -1 if it is on the bus
	// directly.
	I2CMuxPort int     `yaml:"i2c_mux_port"`
	ShuntOhms  float64 `yaml:"shunt_ohms"`
	MaxCurrent float64 `yaml:"max_current"`
}

type DashboardConfig struct {
	Listen        string `yaml:"listen"`
	ScreenDevice  string `yaml:"screen_device"`
	AcquiredSound string `yaml:"acquired_sound"`
	Joystick      string `yaml:"joystick"`
}

func Default() Config {
	d := shooter.DefaultConfig()
	return Config{
		Control: ControlConfig{
			Period:         d.Period,
			NominalVoltage: d.NominalVoltage,
		},
		Pivot: PivotConfig{
			Gains:        d.Pivot.Gains,
			SafeStartP:   d.Pivot.SafeStartP,
			Tolerance:    d.Pivot.ToleranceDegrees,
			IntakeAngle:  d.Pivot.Poses.Intake,
			OuttakeAngle: d.Pivot.Poses.Outtake,
			RetractAngle: d.Pivot.Poses.Retract,
			HoldAngle:    d.Pivot.Poses.Hold,
			ShootAngle:   d.Pivot.Poses.Shoot,
		},
		Flywheel: FlywheelConfig{
			Gains:        d.Flywheel.Gains,
			ToleranceRPM: d.Flywheel.ToleranceRPM,
		},
		Intake: IntakeConfig{
			IntakeRPM:    d.IntakeRPM,
			OuttakeRPM:   d.OuttakeRPM,
			IntakePower:  d.IntakePower,
			OuttakePower: 0.5,
			KickPower:    1,
		},
		Detector: DetectorConfig{
			GracePeriod:      d.GracePeriod,
			CurrentThreshold: d.CurrentThreshold,
		},
		Targeting: TargetingConfig{
			PivotTable:    d.AngleTable,
			VelocityTable: d.VelocityTable,
			TrimStep:      0.25,
		},
		Hardware: HardwareConfig{
			Backend:                  BackendSim,
			CANInterface:             "can0",
			PivotID:                  11,
			FlywheelID:               12,
			KickerID:                 13,
			FlywheelFollowerID:       14,
			FlywheelFollowerInverted: true,
			PivotGearRatio:           100,
			PivotOffsetDegrees:       123,
			FlywheelGearRatio:        1,
			CurrentSource:            CurrentFromSparkMax,
			I2CBus:                   "1",
			INA219Address:            0x41,
			I2CMuxPort:               -1,
			ShuntOhms:                0.1,
			MaxCurrent:               40,
		},
		Dashboard: DashboardConfig{
			Listen:        ":8080",
			ScreenDevice:  "/dev/fb1",
			AcquiredSound: "/sounds/acquired.wav",
			Joystick:      "/dev/input/js0",
		},
	}
}

// Parse applies data over the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to parse config")
	}
	return cfg, nil
}

// Load reads the file at path. A missing file is not an error; the
// defaults are returned instead.
func Load(path string) (Config, error) {
	data, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config %s", path)
	}
	return Parse(data)
}

// InUsePath is where the effective config is written back so that it can
// be inspected or copied as a starting point.
func InUsePath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-in-use" + ext
}

func (c Config) WriteInUse(path string) error {
	data, err := yaml.Marshal(&c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	return errors.Wrap(ioutil.WriteFile(InUsePath(path), data, 0666), "failed to write in-use config")
}

// Env holds the environment overrides. Empty values leave the file's
// settings alone.
type Env struct {
	ConfigPath   string `env:"SHOOTER_CONFIG" envDefault:"/cfg/shooter.yaml"`
	Debug        bool   `env:"SHOOTER_DEBUG"`
	Listen       string `env:"SHOOTER_LISTEN"`
	Backend      string `env:"SHOOTER_BACKEND"`
	CANInterface string `env:"SHOOTER_CAN_INTERFACE"`
}

func ReadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, errors.Wrap(err, "failed to parse environment")
	}
	return e, nil
}

func (c *Config) ApplyEnv(e Env) {
	if e.Debug {
		c.Debug = true
	}
	if e.Listen != "" {
		c.Dashboard.Listen = e.Listen
	}
	if e.Backend != "" {
		c.Hardware.Backend = e.Backend
	}
	if e.CANInterface != "" {
		c.Hardware.CANInterface = e.CANInterface
	}
}

func (c Config) Validate() error {
	err := c.ShooterConfig().Validate()

	if c.Intake.OuttakePower < 0 || c.Intake.OuttakePower > 1 {
		err = multierr.Append(err, errors.Errorf("outtake power must be within [0, 1], got %v", c.Intake.OuttakePower))
	}
	if c.Intake.KickPower < 0 || c.Intake.KickPower > 1 {
		err = multierr.Append(err, errors.Errorf("kick power must be within [0, 1], got %v", c.Intake.KickPower))
	}

	h := c.Hardware
	switch h.Backend {
	case BackendSim:
	case BackendCAN:
		if h.CANInterface == "" {
			err = multierr.Append(err, errors.New("CAN backend needs a CAN interface"))
		}
		named := map[string]uint8{"pivot": h.PivotID, "flywheel": h.FlywheelID, "kicker": h.KickerID}
		if h.FlywheelFollowerID != 0 {
			named["flywheel follower"] = h.FlywheelFollowerID
		}
		ids := map[uint8]string{}
		for name, id := range named {
			if id > 63 {
				err = multierr.Append(err, errors.Errorf("%s CAN id %d out of range", name, id))
			}
			if other, ok := ids[id]; ok {
				err = multierr.Append(err, errors.Errorf("%s and %s share CAN id %d", name, other, id))
			}
			ids[id] = name
		}
		if h.PivotGearRatio <= 0 || h.FlywheelGearRatio <= 0 {
			err = multierr.Append(err, errors.New("gear ratios must be positive"))
		}
		switch h.CurrentSource {
		case CurrentFromSparkMax:
		case CurrentFromINA219:
			if h.ShuntOhms <= 0 || h.MaxCurrent <= 0 {
				err = multierr.Append(err, errors.New("INA219 needs a positive shunt resistance and max current"))
			}
			if h.I2CMuxPort < -1 || h.I2CMuxPort > 7 {
				err = multierr.Append(err, errors.Errorf("I2C mux port %d out of range", h.I2CMuxPort))
			}
		default:
			err = multierr.Append(err, errors.Errorf("unknown current source %q", h.CurrentSource))
		}
	default:
		err = multierr.Append(err, errors.Errorf("unknown hardware backend %q", h.Backend))
	}

	if c.Dashboard.Listen == "" {
		err = multierr.Append(err, errors.New("dashboard listen address must be set"))
	}
	return err
}

func (c Config) ShooterConfig() shooter.Config {
	return shooter.Config{
		Period:         c.Control.Period,
		NominalVoltage: c.Control.NominalVoltage,
		Pivot: shooter.PivotConfig{
			Gains:            c.Pivot.Gains,
			SafeStartP:       c.Pivot.SafeStartP,
			ToleranceDegrees: c.Pivot.Tolerance,
			Poses: shooter.Poses{
				Intake:  c.Pivot.IntakeAngle,
				Outtake: c.Pivot.OuttakeAngle,
				Retract: c.Pivot.RetractAngle,
				Hold:    c.Pivot.HoldAngle,
				Shoot:   c.Pivot.ShootAngle,
			},
		},
		Flywheel: shooter.FlywheelConfig{
			Gains:        c.Flywheel.Gains,
			ToleranceRPM: c.Flywheel.ToleranceRPM,
		},
		IntakeRPM:        c.Intake.IntakeRPM,
		OuttakeRPM:       c.Intake.OuttakeRPM,
		IntakePower:      c.Intake.IntakePower,
		GracePeriod:      c.Detector.GracePeriod,
		CurrentThreshold: c.Detector.CurrentThreshold,
		AngleTable:       c.Targeting.PivotTable,
		VelocityTable:    c.Targeting.VelocityTable,
	}
}
