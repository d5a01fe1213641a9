// Package spi provides norflash.Transactor implementations over Linux SPI
// devices, for boards where the flash chip sits behind spidev instead of the
// memory-mapped controller.
package spi

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mklimuk/norflash"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// DefaultFrequency is a conservative clock supported by all W25 parts.
const DefaultFrequency = 10 * physic.MegaHertz

var _ norflash.Transactor = &PeriphConn{}

type txer interface {
	Tx(w, r []byte) error
}

// PeriphConn talks to the flash through a periph.io SPI port. The port keeps
// chip-select asserted for the length of a Tx call.
type PeriphConn struct {
	port spi.PortCloser
	conn txer
}

func NewPeriphConn(dev string, freq physic.Frequency) (*PeriphConn, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("host driver loaded", "driver", driver.String())
	}
	port, err := spireg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open spi port %q: %w", dev, err)
	}
	conn, err := port.Connect(freq, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("could not connect to spi port %q: %w", dev, err)
	}
	return &PeriphConn{port: port, conn: conn}, nil
}

func (p *PeriphConn) Send(ctx context.Context, frame norflash.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.conn.Tx(frame.Bytes(), nil); err != nil {
		return fmt.Errorf("could not send frame %#02x: %w", frame.Opcode, err)
	}
	return nil
}

// Receive clocks the frame followed by len(buf) filler bytes in one full-duplex
// transfer and keeps the bytes read after the frame.
func (p *PeriphConn) Receive(ctx context.Context, frame norflash.Frame, buf []byte) error {
	if len(buf) == 0 {
		return fmt.Errorf("frame %#02x: %w", frame.Opcode, norflash.ErrEmptyRead)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	header := frame.Bytes()
	w := make([]byte, len(header)+len(buf))
	copy(w, header)
	r := make([]byte, len(w))
	if err := p.conn.Tx(w, r); err != nil {
		return fmt.Errorf("could not receive frame %#02x: %w", frame.Opcode, err)
	}
	copy(buf, r[len(header):])
	return nil
}

func (p *PeriphConn) Close() error {
	if p.port == nil {
		return nil
	}
	return p.port.Close()
}
