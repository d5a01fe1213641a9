package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/norflash/cmd/norflash/console"
	"github.com/mklimuk/norflash/config"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	app := newApp()
	err := app.Run(args)
	if err != nil {
		console.Error(err.Error())
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			return exerr.ExitCode()
		}
		return 1
	}
	return 0
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "norflash"
	app.EnableBashCompletion = true
	app.Version = fmt.Sprintf("%s-%s-%s", config.Version, config.Date, config.Commit)
	app.Usage = "SPI NOR flash tool"
	// exit codes are resolved in run
	app.ExitErrHandler = func(*cli.Context, error) {}
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable verbose logging and frame traces",
		},
		&cli.BoolFlag{
			Name:  "trace",
			Usage: "log every controller register access",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file",
			EnvVars: []string{"NORFLASH_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "transport",
			Aliases: []string{"t"},
			Usage:   "mmio, periph, gobot or sim",
			EnvVars: []string{"NORFLASH_TRANSPORT"},
		},
		&cli.Uint64Flag{
			Name:  "base",
			Usage: "physical base address of the SPI controller",
		},
		&cli.UintFlag{
			Name:  "divider",
			Usage: "SPI clock divider",
		},
		&cli.StringFlag{
			Name:  "mode",
			Usage: "controller chip-select mode: auto or manual",
		},
		&cli.StringFlag{
			Name:    "spi-dev",
			Usage:   "spidev port for the periph transport",
			EnvVars: []string{"NORFLASH_SPI_DEV"},
		},
		&cli.UintFlag{
			Name:  "capacity",
			Usage: "flash size in bytes",
		},
	}
	app.Before = func(ctx *cli.Context) error {
		charm := chlog.NewWithOptions(os.Stdout, chlog.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		charm.SetColorProfile(termenv.TrueColor)
		charm.SetLevel(chlog.InfoLevel)
		if ctx.Bool("verbose") || ctx.Bool("trace") {
			charm.SetLevel(chlog.DebugLevel)
		}
		slog.SetDefault(slog.New(charm))
		console.Trace = ctx.Bool("verbose")
		return nil
	}
	app.Commands = cli.Commands{
		&idCmd,
		&statusCmd,
		&readCmd,
		&writeCmd,
		&eraseCmd,
		&verifyCmd,
		&sweepCmd,
		&powerCmd,
		&configCmd,
	}
	return app
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, err
	}
	if c.IsSet("transport") {
		cfg.Transport = c.String("transport")
	}
	if c.IsSet("base") {
		cfg.Controller.Base = c.Uint64("base")
	}
	if c.IsSet("divider") {
		cfg.Controller.Divider = uint32(c.Uint("divider"))
	}
	if c.IsSet("mode") {
		cfg.Controller.Mode = c.String("mode")
	}
	if c.IsSet("spi-dev") {
		cfg.Periph.Device = c.String("spi-dev")
	}
	if c.IsSet("capacity") {
		cfg.Flash.Capacity = uint32(c.Uint("capacity"))
	}
	return cfg, cfg.Validate()
}
