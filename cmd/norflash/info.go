package main

import (
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/norflash/cmd/norflash/console"
)

var idCmd = cli.Command{
	Name:  "id",
	Usage: "read JEDEC and manufacturer/device identification",
	Action: func(c *cli.Context) error {
		ctx, s, err := open(c)
		if err != nil {
			return err
		}
		defer s.Close()
		id, err := s.dev.ReadID(ctx)
		if err != nil {
			return console.ExitErr("error reading jedec id", err)
		}
		mfr, dev, err := s.dev.ReadManufacturerID(ctx)
		if err != nil {
			return console.ExitErr("error reading manufacturer id", err)
		}
		name := id.Name()
		if name == "" {
			name = console.Yellow("unknown part")
		}
		console.PInfof(console.PictoKey, "jedec %s %s", console.White(id.String()), name)
		console.PInfof(console.PictoKey, "manufacturer %s device %s", console.White(hexByte(mfr)), console.White(hexByte(dev)))
		return nil
	},
}

var statusCmd = cli.Command{
	Name:  "status",
	Usage: "read the flash status register",
	Action: func(c *cli.Context) error {
		ctx, s, err := open(c)
		if err != nil {
			return err
		}
		defer s.Close()
		sr, err := s.dev.ReadStatus(ctx)
		if err != nil {
			return console.ExitErr("error reading status", err)
		}
		busy := console.Green("ready")
		if sr.Busy() {
			busy = console.Yellow("busy")
		}
		console.Printf("%s %s\n", console.White(sr.String()), busy)
		return nil
	},
}

var powerCmd = cli.Command{
	Name:  "power",
	Usage: "deep power-down control",
	Subcommands: []*cli.Command{
		{
			Name:  "down",
			Usage: "enter deep power-down",
			Action: func(c *cli.Context) error {
				ctx, s, err := open(c)
				if err != nil {
					return err
				}
				defer s.Close()
				if err := s.dev.PowerDown(ctx); err != nil {
					return console.ExitErr("error entering power-down", err)
				}
				console.PInfof(console.PictoSleep, "flash powered down")
				return nil
			},
		},
		{
			Name:  "up",
			Usage: "release from deep power-down",
			Action: func(c *cli.Context) error {
				ctx, s, err := open(c)
				if err != nil {
					return err
				}
				defer s.Close()
				dev, err := s.dev.ReleasePowerDown(ctx)
				if err != nil {
					return console.ExitErr("error releasing power-down", err)
				}
				console.PInfof(console.PictoCheck, "flash awake, device id %s", console.White(hexByte(dev)))
				return nil
			},
		},
	},
}

var configCmd = cli.Command{
	Name:  "config",
	Usage: "print the effective configuration",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(console.ExitUsage, "configuration error: %s", console.Red(err))
		}
		out, err := cfg.Marshal()
		if err != nil {
			return console.Exit(console.ExitFailure, "could not encode configuration: %s", console.Red(err))
		}
		console.Printf("%s", out)
		return nil
	},
}
