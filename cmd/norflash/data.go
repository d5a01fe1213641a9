package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/norflash/cmd/norflash/console"
	"github.com/mklimuk/norflash/fctx"
	"github.com/mklimuk/norflash/flash"
)

var readCmd = cli.Command{
	Name:  "read",
	Usage: "read flash content",
	Flags: []cli.Flag{
		addressFlag(),
		&cli.IntFlag{Name: "length", Aliases: []string{"n"}, Usage: "number of bytes to read", Value: 256},
		&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "write raw bytes to a file instead of dumping"},
		&cli.BoolFlag{Name: "fast", Usage: "use the fast read command"},
	},
	Action: func(c *cli.Context) error {
		addr, err := parseAddress(c)
		if err != nil {
			return err
		}
		length := c.Int("length")
		if length <= 0 {
			return console.Exit(console.ExitUsage, "length out of range: %d", length)
		}
		ctx, s, err := open(c)
		if err != nil {
			return err
		}
		defer s.Close()
		ctx = fctx.WithOperation(ctx, "read")
		buf := make([]byte, length)
		if c.Bool("fast") {
			err = s.dev.FastRead(ctx, addr, buf)
		} else {
			err = s.dev.Read(ctx, addr, buf)
		}
		if err != nil {
			return console.ExitErr("error reading flash", err)
		}
		if out := c.String("out"); out != "" {
			if err := os.WriteFile(out, buf, 0o644); err != nil {
				return console.Exit(console.ExitFailure, "could not write %s: %s", out, console.Red(err))
			}
			console.PInfof(console.PictoFinish, "%d bytes from %s saved to %s", length, console.Addr(addr), out)
			return nil
		}
		console.Dump(addr, buf)
		return nil
	},
}

var writeCmd = cli.Command{
	Name:  "write",
	Usage: "program data, splitting it on page boundaries",
	Flags: []cli.Flag{
		addressFlag(),
		&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "hex bytes to write (e.g. '01FF23')"},
		&cli.StringFlag{Name: "in", Aliases: []string{"i"}, Usage: "file to write"},
		&cli.BoolFlag{Name: "erase", Usage: "erase the touched sectors first"},
		&cli.BoolFlag{Name: "verify", Usage: "read back and compare after writing"},
	},
	Action: func(c *cli.Context) error {
		addr, err := parseAddress(c)
		if err != nil {
			return err
		}
		data, err := inputData(c)
		if err != nil {
			return err
		}
		ctx, s, err := open(c)
		if err != nil {
			return err
		}
		defer s.Close()
		if c.Bool("erase") {
			if err := s.dev.Erase(ctx, addr, len(data)); err != nil {
				return console.ExitErr("error erasing flash", err)
			}
			console.PInfof(console.PictoBroom, "erased sectors under %s+%d", console.Addr(addr), len(data))
		}
		runs := flash.Split(addr, len(data))
		console.Debugf("%d bytes in %d page programs", len(data), len(runs))
		if err := s.dev.Write(ctx, addr, data); err != nil {
			return console.ExitErr("error writing flash", err)
		}
		console.PInfof(console.PictoPencil, "wrote %d bytes at %s", len(data), console.Addr(addr))
		if !c.Bool("verify") {
			return nil
		}
		return verify(c, s, addr, data)
	},
}

var eraseCmd = cli.Command{
	Name:  "erase",
	Usage: "erase a range or the whole chip",
	Flags: []cli.Flag{
		&cli.Uint64Flag{Name: "address", Aliases: []string{"a"}, Usage: "first address of the range"},
		&cli.IntFlag{Name: "length", Aliases: []string{"n"}, Usage: "range size in bytes", Value: flash.SectorSize},
		&cli.BoolFlag{Name: "chip", Usage: "erase the whole chip"},
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	},
	Action: func(c *cli.Context) error {
		if c.Bool("chip") {
			if !c.Bool("yes") {
				ok, err := console.Confirm("erase the whole chip?")
				if err != nil {
					return console.Exit(console.ExitFailure, "prompt error: %s", console.Red(err))
				}
				if !ok {
					console.PInfof(console.PictoStop, "aborted")
					return nil
				}
			}
			ctx, s, err := open(c)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.dev.ChipErase(ctx); err != nil {
				return console.ExitErr("error erasing chip", err)
			}
			console.PInfof(console.PictoBroom, "chip erased")
			return nil
		}
		addr, err := parseAddress(c)
		if err != nil {
			return err
		}
		ctx, s, err := open(c)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.dev.Erase(ctx, addr, c.Int("length")); err != nil {
			return console.ExitErr("error erasing flash", err)
		}
		console.PInfof(console.PictoBroom, "erased sectors under %s+%d", console.Addr(addr), c.Int("length"))
		return nil
	},
}

var verifyCmd = cli.Command{
	Name:  "verify",
	Usage: "compare flash content with the given data",
	Flags: []cli.Flag{
		addressFlag(),
		&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "expected hex bytes"},
		&cli.StringFlag{Name: "in", Aliases: []string{"i"}, Usage: "file with the expected content"},
	},
	Action: func(c *cli.Context) error {
		addr, err := parseAddress(c)
		if err != nil {
			return err
		}
		data, err := inputData(c)
		if err != nil {
			return err
		}
		_, s, err := open(c)
		if err != nil {
			return err
		}
		defer s.Close()
		return verify(c, s, addr, data)
	},
}

var sweepCmd = cli.Command{
	Name:  "sweep",
	Usage: "erase sectors from address 0 then program and check a pattern in every page",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "sectors", Usage: "sectors to erase", Value: 70},
		&cli.IntFlag{Name: "pages", Usage: "pages to program and check", Value: 1024},
		&cli.StringFlag{Name: "pattern", Usage: "hex pattern programmed into each page (default 00..13)"},
	},
	Action: func(c *cli.Context) error {
		opts := []flash.SweepOpt{
			flash.WithSweepSize(c.Int("sectors"), c.Int("pages")),
			flash.WithProgress(func(page int, addr uint32, r flash.Report) {
				console.Debugf("[addr: %s] %d iter check done, %d errors", console.Addr(addr), page, r.Errors)
			}),
		}
		if p := c.String("pattern"); p != "" {
			pattern, err := hexStringToBytes(p)
			if err != nil {
				return console.Exit(console.ExitUsage, "invalid pattern: %s", console.Red(err))
			}
			opts = append(opts, flash.WithPattern(pattern))
		}
		ctx, s, err := open(c)
		if err != nil {
			return err
		}
		defer s.Close()
		r, err := s.dev.Sweep(ctx, opts...)
		if err != nil {
			return console.ExitErr("sweep failed", err)
		}
		return report(r)
	},
}

func verify(c *cli.Context, s *session, addr uint32, data []byte) error {
	ctx := fctx.SetVerbose(c.Context, c.Bool("verbose"))
	r, err := s.dev.Verify(fctx.WithOperation(ctx, "verify"), addr, data)
	if err != nil {
		return console.ExitErr("error reading back", err)
	}
	return report(r)
}

func report(r flash.Report) error {
	for _, m := range r.Mismatches {
		console.Warnf("[mismatch] %s", m)
	}
	if !r.OK() {
		return console.Exit(console.ExitFailure, "%s", console.Red(r.String()))
	}
	console.PInfof(console.PictoCheck, "%s", console.Green(r.String()))
	return nil
}

func inputData(c *cli.Context) ([]byte, error) {
	switch {
	case c.IsSet("data") && c.IsSet("in"):
		return nil, console.Exit(console.ExitUsage, "use either --data or --in")
	case c.IsSet("data"):
		data, err := hexStringToBytes(c.String("data"))
		if err != nil {
			return nil, console.Exit(console.ExitUsage, "invalid data hex string: %s", console.Red(err))
		}
		return data, nil
	case c.IsSet("in"):
		data, err := os.ReadFile(c.String("in"))
		if err != nil {
			return nil, console.Exit(console.ExitFailure, "could not read %s: %s", c.String("in"), console.Red(err))
		}
		return data, nil
	}
	return nil, console.Exit(console.ExitUsage, "--data or --in is required")
}

// hexStringToBytes accepts hex with optional spaces and 0x prefix.
func hexStringToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.ReplaceAll(s, " ", "")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("hex string must have even length")
	}
	if len(s) == 0 {
		return nil, fmt.Errorf("hex string is empty")
	}
	return hex.DecodeString(s)
}

func hexByte(b byte) string {
	return fmt.Sprintf("%#02x", b)
}
