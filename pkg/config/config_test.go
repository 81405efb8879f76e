package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/interp"
)

const testYaml = `
control:
  period: 10ms
pivot:
  hold_angle: 100
  gains: {p: 0.3, i: 0, d: 0.01}
detector:
  grace_period: 250ms
  current_threshold: 30
targeting:
  pivot_table:
  - {key: 1, value: 10}
  - {key: 3, value: 40}
hardware:
  backend: can
  can_interface: vcan0
  current_source: ina219
`

func TestConfigParsing(t *testing.T) {
	Convey("parsing is successful", t, func() {
		cfg, err := Parse([]byte(testYaml))
		So(err, ShouldBeNil)

		Convey("values from the file override defaults", func() {
			So(cfg.Control.Period, ShouldEqual, 10*time.Millisecond)
			So(cfg.Pivot.HoldAngle, ShouldEqual, 100.0)
			So(cfg.Pivot.Gains.P, ShouldEqual, 0.3)
			So(cfg.Pivot.Gains.D, ShouldEqual, 0.01)
			So(cfg.Detector.GracePeriod, ShouldEqual, 250*time.Millisecond)
			So(cfg.Hardware.Backend, ShouldEqual, BackendCAN)
			So(cfg.Hardware.CANInterface, ShouldEqual, "vcan0")
		})

		Convey("tables replace the defaults", func() {
			So(cfg.Targeting.PivotTable, ShouldResemble, []interp.Point{{Key: 1, Value: 10}, {Key: 3, Value: 40}})
			So(cfg.Targeting.VelocityTable, ShouldResemble, Default().Targeting.VelocityTable)
		})

		Convey("unset values keep their defaults", func() {
			So(cfg.Control.NominalVoltage, ShouldEqual, 12.0)
			So(cfg.Pivot.SafeStartP, ShouldEqual, 0.2)
			So(cfg.Intake.IntakeRPM, ShouldEqual, 100.0)
			So(cfg.Hardware.PivotID, ShouldEqual, uint8(11))
		})

		Convey("the shooter config carries the overrides", func() {
			sc := cfg.ShooterConfig()
			So(sc.Period, ShouldEqual, 10*time.Millisecond)
			So(sc.Pivot.Poses.Hold, ShouldEqual, 100.0)
			So(sc.CurrentThreshold, ShouldEqual, 30.0)
			So(sc.AngleTable, ShouldHaveLength, 2)
			So(cfg.Validate(), ShouldBeNil)
		})
	})

	Convey("unknown keys are rejected", t, func() {
		_, err := Parse([]byte("pivot:\n  hold_angel: 100\n"))
		So(err, ShouldNotBeNil)
	})
}

func TestValidate(t *testing.T) {
	Convey("defaults are valid", t, func() {
		So(Default().Validate(), ShouldBeNil)
	})

	Convey("every problem is reported", t, func() {
		cfg := Default()
		cfg.Control.Period = 0
		cfg.Targeting.PivotTable = nil
		cfg.Hardware.Backend = BackendCAN
		cfg.Hardware.KickerID = cfg.Hardware.PivotID
		cfg.Hardware.CurrentSource = "magic"
		cfg.Dashboard.Listen = ""

		err := cfg.Validate()
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "control period")
		So(err.Error(), ShouldContainSubstring, "angle table")
		So(err.Error(), ShouldContainSubstring, "share CAN id")
		So(err.Error(), ShouldContainSubstring, "unknown current source")
		So(err.Error(), ShouldContainSubstring, "listen address")
	})

	Convey("the INA219 mux port is range checked", t, func() {
		cfg := Default()
		cfg.Hardware.Backend = BackendCAN
		cfg.Hardware.CurrentSource = CurrentFromINA219
		So(cfg.Validate(), ShouldBeNil)

		cfg.Hardware.I2CMuxPort = 6
		So(cfg.Validate(), ShouldBeNil)

		cfg.Hardware.I2CMuxPort = 8
		So(cfg.Validate(), ShouldNotBeNil)
		So(cfg.Validate().Error(), ShouldContainSubstring, "mux port")
	})

	Convey("unknown backends are rejected", t, func() {
		cfg := Default()
		cfg.Hardware.Backend = "serial"
		So(cfg.Validate(), ShouldNotBeNil)
	})
}

func TestEnvOverrides(t *testing.T) {
	Convey("environment values win over the file", t, func() {
		os.Setenv("SHOOTER_LISTEN", ":9999")
		os.Setenv("SHOOTER_BACKEND", BackendCAN)
		os.Setenv("SHOOTER_DEBUG", "true")
		defer os.Unsetenv("SHOOTER_LISTEN")
		defer os.Unsetenv("SHOOTER_BACKEND")
		defer os.Unsetenv("SHOOTER_DEBUG")

		e, err := ReadEnv()
		So(err, ShouldBeNil)
		So(e.ConfigPath, ShouldEqual, DefaultPath)

		cfg := Default()
		cfg.ApplyEnv(e)
		So(cfg.Dashboard.Listen, ShouldEqual, ":9999")
		So(cfg.Hardware.Backend, ShouldEqual, BackendCAN)
		So(cfg.Hardware.CANInterface, ShouldEqual, "can0")
		So(cfg.Debug, ShouldBeTrue)
	})
}

func TestLoadAndWriteInUse(t *testing.T) {
	Convey("with a temporary config directory", t, func() {
		dir, err := ioutil.TempDir("", "shooter-config")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dir)
		path := filepath.Join(dir, "shooter.yaml")

		Convey("a missing file gives the defaults", func() {
			cfg, err := Load(path)
			So(err, ShouldBeNil)
			So(cfg, ShouldResemble, Default())
		})

		Convey("the in-use copy loads back to the same config", func() {
			So(ioutil.WriteFile(path, []byte(testYaml), 0666), ShouldBeNil)
			cfg, err := Load(path)
			So(err, ShouldBeNil)
			So(cfg.WriteInUse(path), ShouldBeNil)

			inUse := InUsePath(path)
			So(inUse, ShouldEqual, filepath.Join(dir, "shooter-in-use.yaml"))
			reloaded, err := Load(inUse)
			So(err, ShouldBeNil)
			So(reloaded, ShouldResemble, cfg)
		})
	})
}
