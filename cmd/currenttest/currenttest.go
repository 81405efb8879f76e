package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/urfave/cli/v2"

	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/config"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/ina219"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/logging"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/mux"
)

func main() {
	hw := config.Default().Hardware
	app := &cli.App{
		Name:  "currenttest",
		Usage: "print readings from the kicker's INA219 shunt monitor",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bus", Value: hw.I2CBus, Usage: "I2C bus `NAME`"},
			&cli.UintFlag{Name: "address", Value: uint(hw.INA219Address), Usage: "INA219 I2C address"},
			&cli.IntFlag{Name: "mux-port", Value: hw.I2CMuxPort, Usage: "I2C multiplexer port, -1 for none"},
			&cli.Float64Flag{Name: "shunt", Value: hw.ShuntOhms, Usage: "shunt resistance in ohms"},
			&cli.Float64Flag{Name: "max-current", Value: hw.MaxCurrent, Usage: "expected maximum current in amps"},
			&cli.DurationFlag{Name: "period", Value: 500 * time.Millisecond, Usage: "time between readings"},
			&cli.Float64Flag{Name: "threshold", Value: config.Default().Detector.CurrentThreshold,
				Usage: "flag readings above this many amps"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	logger := logging.New("currenttest", false)

	if err := mux.Select(c.String("bus"), c.Int("mux-port"), logger); err != nil {
		return err
	}
	sensor, err := ina219.NewI2C(c.String("bus"), uint16(c.Uint("address")), logger)
	if err != nil {
		return err
	}
	defer sensor.Close()

	if err := sensor.Configure(c.Float64("shunt"), c.Float64("max-current")); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	threshold := c.Float64("threshold")
	ticker := clock.New().Ticker(c.Duration("period"))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		voltage, err := sensor.ReadBusVoltage()
		fmt.Printf("%.2fV %v ", voltage, err)
		current, err := sensor.ReadCurrent()
		fmt.Printf("%.3fA %v ", current, err)
		power, err := sensor.ReadPower()
		fmt.Printf("%.3fW %v", power, err)
		if current > threshold {
			fmt.Print(" <- over threshold")
		}
		fmt.Println()
	}
}
