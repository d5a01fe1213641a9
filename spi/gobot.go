package spi

import (
	"context"
	"fmt"

	"github.com/mklimuk/norflash"
	gobotspi "gobot.io/x/gobot/v2/drivers/spi"
)

var _ norflash.Transactor = &GobotConn{}

// commandConn is the subset of the gobot SPI connection the flash needs.
type commandConn interface {
	ReadCommandData(command []byte, data []byte) error
	WriteBytes(data []byte) error
}

// GobotConn is a Transactor on top of a gobot SPI driver, e.g. bound to the
// NanoPi adaptor.
type GobotConn struct {
	driver *gobotspi.Driver
	ops    commandConn
}

// NewGobotConn binds a gobot SPI driver to the adaptor. Start must be called
// before the first transfer.
func NewGobotConn(adaptor gobotspi.Connector, opts ...func(gobotspi.Config)) *GobotConn {
	d := gobotspi.NewDriver(adaptor, "norflash", opts...)
	// W25 parts accept mode 0 and mode 3
	d.SetMode(0)
	if d.GetSpeedOrDefault(0) == 0 {
		d.SetSpeed(10_000_000)
	}
	return &GobotConn{driver: d}
}

func (g *GobotConn) Start() error {
	if err := g.driver.Start(); err != nil {
		return fmt.Errorf("spi driver start: %w", err)
	}
	ops, ok := g.driver.Connection().(commandConn)
	if !ok {
		return fmt.Errorf("spi connection does not support required operations")
	}
	g.ops = ops
	return nil
}

func (g *GobotConn) Halt() error {
	return g.driver.Halt()
}

func (g *GobotConn) Send(ctx context.Context, frame norflash.Frame) error {
	if g.ops == nil {
		return fmt.Errorf("spi driver not started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := g.ops.WriteBytes(frame.Bytes()); err != nil {
		return fmt.Errorf("could not send frame %#02x: %w", frame.Opcode, err)
	}
	return nil
}

func (g *GobotConn) Receive(ctx context.Context, frame norflash.Frame, buf []byte) error {
	if len(buf) == 0 {
		return fmt.Errorf("frame %#02x: %w", frame.Opcode, norflash.ErrEmptyRead)
	}
	if g.ops == nil {
		return fmt.Errorf("spi driver not started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := g.ops.ReadCommandData(frame.Bytes(), buf); err != nil {
		return fmt.Errorf("could not receive frame %#02x: %w", frame.Opcode, err)
	}
	return nil
}
