// Package engine frames flash commands into the SPI controller registers: it
// loads and drains the FIFOs, triggers transfers and waits for completion.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mklimuk/norflash"
	"github.com/mklimuk/norflash/fctx"
	"github.com/mklimuk/norflash/register"
)

// DefaultMaxPolls bounds every busy-wait unless overridden with WithMaxPolls.
const DefaultMaxPolls = 1 << 20

type Opts struct {
	// MaxPolls is the number of status reads a busy-wait may take before
	// giving up with norflash.ErrPollTimeout. Zero waits forever.
	MaxPolls int
}

type Opt func(*Opts)

func WithMaxPolls(n int) Opt {
	return func(o *Opts) {
		o.MaxPolls = n
	}
}

var _ norflash.Transactor = &Engine{}

// Engine drives one SPI controller. It is not safe for concurrent use; the
// flash command layer owning it serializes access.
type Engine struct {
	bank   register.Bank
	config Opts
	ctrl2  uint32
}

func New(bank register.Bank, opts ...Opt) *Engine {
	config := Opts{
		MaxPolls: DefaultMaxPolls,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Engine{
		bank:   bank,
		config: config,
		ctrl2:  register.Ctrl2ChipSelect | register.Ctrl2Enable,
	}
}

// Configure programs the clock divider and transfer mode, selects the chip and
// enables the controller. Chip-select stays asserted until the next call.
func (e *Engine) Configure(mode register.Mode, divider uint32) {
	e.bank.Write(register.Divider, divider)
	e.bank.Write(register.Control1, uint32(mode))
	e.bank.Write(register.Control2, register.Ctrl2ChipSelect)
	e.ctrl2 = register.Ctrl2ChipSelect | register.Ctrl2Enable
	e.bank.Write(register.Control2, e.ctrl2)
	slog.Debug("spi controller configured", "mode", mode.String(), "divider", divider)
}

// Status returns the controller status flags.
func (e *Engine) Status() register.StatusFlags {
	return register.StatusFlags(e.bank.Read(register.Status))
}

// Send transmits a host-to-device frame and waits for the transfer to
// complete. When the TX FIFO fills up mid-frame the frame is abandoned with a
// *norflash.FrameAbortError and no transfer is triggered.
func (e *Engine) Send(ctx context.Context, frame norflash.Frame) error {
	if fctx.IsVerbose(ctx) {
		slog.Debug("spi send", "frame", frame.String(), "op", fctx.Operation(ctx))
	}
	data := frame.Bytes()
	if err := e.push(frame.Opcode, data); err != nil {
		return err
	}
	e.bank.Write(register.Calibration, 0)
	// the controller counts the opcode on its own
	e.bank.Write(register.TransferLength, uint32(len(data)-1))
	e.bank.Write(register.Control2, e.ctrl2|register.Ctrl2Start)
	return e.waitWhile(ctx, register.StatusFlags.Busy, "transfer busy")
}

// Receive transmits the frame header (and payload, used for dummy bytes) and
// reads exactly len(buf) response bytes.
func (e *Engine) Receive(ctx context.Context, frame norflash.Frame, buf []byte) error {
	if len(buf) == 0 {
		return fmt.Errorf("frame %#02x: %w", frame.Opcode, norflash.ErrEmptyRead)
	}
	if fctx.IsVerbose(ctx) {
		slog.Debug("spi receive", "frame", frame.String(), "expect", len(buf), "op", fctx.Operation(ctx))
	}
	data := frame.Bytes()
	if err := e.push(frame.Opcode, data); err != nil {
		return err
	}
	length := len(data) - 1 + len(buf)
	// dummy cycle offset is the header length: 1 for a bare opcode, 4 with an
	// address
	e.bank.Write(register.Calibration, uint32(length-len(data)))
	e.bank.Write(register.TransferLength, uint32(length))
	e.bank.Write(register.Control2, e.ctrl2|register.Ctrl2Start|register.Ctrl2Receive)
	for i := range buf {
		if err := e.waitWhile(ctx, register.StatusFlags.RxEmpty, "rx fifo empty"); err != nil {
			return fmt.Errorf("frame %#02x: received %d of %d bytes: %w", frame.Opcode, i, len(buf), err)
		}
		buf[i] = byte(e.bank.Read(register.Rx))
	}
	return nil
}

func (e *Engine) push(opcode byte, data []byte) error {
	for i, b := range data {
		if e.Status().TxFull() {
			slog.Warn("tx fifo is full", "opcode", fmt.Sprintf("%#02x", opcode), "pushed", i, "total", len(data))
			return &norflash.FrameAbortError{Opcode: opcode, Pushed: i, Total: len(data)}
		}
		e.bank.Write(register.Tx, uint32(b))
	}
	return nil
}

func (e *Engine) waitWhile(ctx context.Context, cond func(register.StatusFlags) bool, what string) error {
	for polls := 0; ; polls++ {
		if !cond(e.Status()) {
			return nil
		}
		if e.config.MaxPolls > 0 && polls >= e.config.MaxPolls {
			return fmt.Errorf("%s after %d polls: %w", what, polls+1, norflash.ErrPollTimeout)
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
	}
}
