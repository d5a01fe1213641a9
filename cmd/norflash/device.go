package main

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v2"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/norflash"
	"github.com/mklimuk/norflash/cmd/norflash/console"
	"github.com/mklimuk/norflash/config"
	"github.com/mklimuk/norflash/engine"
	"github.com/mklimuk/norflash/fctx"
	"github.com/mklimuk/norflash/flash"
	"github.com/mklimuk/norflash/register"
	"github.com/mklimuk/norflash/sim"
	"github.com/mklimuk/norflash/spi"
)

// session is an opened flash device and whatever must be released with it.
type session struct {
	dev     *flash.Device
	closers []func() error
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("release failed", "error", err)
		}
	}
}

// open builds the transport selected in the configuration and binds a flash
// device to it.
func open(c *cli.Context) (context.Context, *session, error) {
	ctx := fctx.SetVerbose(c.Context, c.Bool("verbose"))
	cfg, err := loadConfig(c)
	if err != nil {
		return ctx, nil, console.Exit(console.ExitUsage, "configuration error: %s", console.Red(err))
	}
	s := &session{}
	var bus norflash.Transactor
	switch cfg.Transport {
	case config.TransportMMIO:
		mmio, err := register.NewMMIO(cfg.Controller.Base)
		if err != nil {
			return ctx, nil, console.Exit(console.ExitFailure, "controller initialization error: %s", console.Red(err))
		}
		s.closers = append(s.closers, mmio.Close)
		bus, err = newEngine(c, cfg, mmio)
		if err != nil {
			s.Close()
			return ctx, nil, err
		}
	case config.TransportSim:
		chip := sim.NewChip(sim.WithCapacity(int(cfg.Flash.Capacity)))
		bus, err = newEngine(c, cfg, sim.NewController(chip))
		if err != nil {
			return ctx, nil, err
		}
	case config.TransportPeriph:
		conn, err := spi.NewPeriphConn(cfg.Periph.Device, physic.Frequency(cfg.Periph.FrequencyHz)*physic.Hertz)
		if err != nil {
			return ctx, nil, console.Exit(console.ExitFailure, "spi port initialization error: %s", console.Red(err))
		}
		s.closers = append(s.closers, conn.Close)
		bus = conn
	case config.TransportGobot:
		conn := spi.NewGobotConn(nanopi.NewNeoAdaptor())
		if err := conn.Start(); err != nil {
			return ctx, nil, console.Exit(console.ExitFailure, "SPI device start error: %s", console.Red(err))
		}
		s.closers = append(s.closers, conn.Halt)
		bus = conn
	}
	s.dev = flash.New(bus, cfg.FlashOpts()...)
	slog.Debug("flash device ready", "transport", cfg.Transport, "capacity", cfg.Flash.Capacity)
	return ctx, s, nil
}

func newEngine(c *cli.Context, cfg config.Config, bank register.Bank) (*engine.Engine, error) {
	mode, err := register.ParseMode(cfg.Controller.Mode)
	if err != nil {
		return nil, console.Exit(console.ExitUsage, "configuration error: %s", console.Red(err))
	}
	if c.Bool("trace") {
		rec := register.NewRecorder(bank)
		rec.Trace = true
		bank = rec
	}
	e := engine.New(bank, cfg.EngineOpts()...)
	e.Configure(mode, cfg.Controller.Divider)
	return e, nil
}

func parseAddress(c *cli.Context) (uint32, error) {
	addr := c.Uint64("address")
	if addr > 0xFFFFFF {
		return 0, console.Exit(console.ExitUsage, "address %#x does not fit in 24 bits", addr)
	}
	return uint32(addr), nil
}

func addressFlag() *cli.Uint64Flag {
	return &cli.Uint64Flag{
		Name:     "address",
		Aliases:  []string{"a"},
		Usage:    "flash address (0x prefix for hex)",
		Required: true,
	}
}
