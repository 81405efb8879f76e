package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"

	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/config"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/logging"
)

const (
	flagConfig       = "config"
	flagDebug        = "debug"
	flagListen       = "listen"
	flagBackend      = "backend"
	flagCANInterface = "can-interface"
)

var app = &cli.App{
	Name:  "shooter",
	Usage: "run the pivot and flywheel shooter",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE` (default $SHOOTER_CONFIG or " + config.DefaultPath + ")",
		},
		&cli.BoolFlag{
			Name:  flagDebug,
			Usage: "enable debug logging",
		},
		&cli.StringFlag{
			Name:  flagListen,
			Usage: "dashboard listen `ADDRESS`",
		},
		&cli.StringFlag{
			Name:  flagBackend,
			Usage: "hardware backend, sim or can",
		},
		&cli.StringFlag{
			Name:  flagCANInterface,
			Usage: "SocketCAN `INTERFACE` for the can backend",
		},
	},
	Action: runShooter,
	Commands: []*cli.Command{
		{
			Name:   "check-config",
			Usage:  "validate the configuration and print the effective settings",
			Action: checkConfig,
		},
	},
}

// loadConfig layers the file, the environment and then the flags.
func loadConfig(c *cli.Context) (config.Config, string, error) {
	e, err := config.ReadEnv()
	if err != nil {
		return config.Config{}, "", err
	}
	if c.IsSet(flagConfig) {
		e.ConfigPath = c.String(flagConfig)
	}
	if c.Bool(flagDebug) {
		e.Debug = true
	}
	if c.IsSet(flagListen) {
		e.Listen = c.String(flagListen)
	}
	if c.IsSet(flagBackend) {
		e.Backend = c.String(flagBackend)
	}
	if c.IsSet(flagCANInterface) {
		e.CANInterface = c.String(flagCANInterface)
	}

	cfg, err := config.Load(e.ConfigPath)
	if err != nil {
		return config.Config{}, "", err
	}
	cfg.ApplyEnv(e)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, "", err
	}
	return cfg, e.ConfigPath, nil
}

func checkConfig(c *cli.Context) error {
	cfg, _, err := loadConfig(c)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	fmt.Fprint(c.App.Writer, string(out))
	return nil
}

func runShooter(c *cli.Context) error {
	cfg, path, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := logging.New("shooter", cfg.Debug)
	defer func() { _ = logger.Sync() }()
	logger.Infow("---- Shooter ----", "GOMAXPROCS", runtime.GOMAXPROCS(0), "backend", cfg.Hardware.Backend)

	if err := cfg.WriteInUse(path); err != nil {
		logger.Warnw("Failed to write in-use config", "error", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	r, err := newRobot(ctx, cfg, clock.New(), logger)
	if err != nil {
		return err
	}
	err = r.run(ctx)
	logger.Info("Shut down")
	return err
}

func main() {
	if err := app.RunContext(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
