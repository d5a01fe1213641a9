package norflash

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrFIFOFull          = errors.New("tx fifo full, frame aborted")
	ErrPollTimeout       = errors.New("poll limit reached")
	ErrOversizePageWrite = errors.New("page program exceeds page size")
	ErrPageBoundary      = errors.New("page program crosses page boundary")
	ErrOutOfRange        = errors.New("address out of device range")
	ErrEmptyRead         = errors.New("receive frame expects at least one byte")
)

// FrameAbortError reports a frame abandoned mid-flight because the controller
// TX FIFO was full. Pushed bytes are already in the FIFO and no transfer was
// triggered.
type FrameAbortError struct {
	Opcode byte
	Pushed int
	Total  int
}

func (e *FrameAbortError) Error() string {
	return fmt.Sprintf("frame %#02x aborted after %d of %d bytes: %s", e.Opcode, e.Pushed, e.Total, ErrFIFOFull)
}

func (e *FrameAbortError) Unwrap() error {
	return ErrFIFOFull
}

// Frame is a single flash command as it goes over the wire: opcode, optional
// 24-bit address (big-endian) and payload.
type Frame struct {
	Opcode     byte
	Address    uint32
	HasAddress bool
	Payload    []byte
}

// Cmd returns an opcode-only frame.
func Cmd(opcode byte) Frame {
	return Frame{Opcode: opcode}
}

// AddrCmd returns a frame carrying a 24-bit address.
func AddrCmd(opcode byte, address uint32, payload ...byte) Frame {
	return Frame{Opcode: opcode, Address: address, HasAddress: true, Payload: payload}
}

// Header returns the opcode followed by the address bytes, if any.
func (f Frame) Header() []byte {
	if !f.HasAddress {
		return []byte{f.Opcode}
	}
	return []byte{f.Opcode, byte(f.Address >> 16), byte(f.Address >> 8), byte(f.Address)}
}

// Bytes returns the complete host-to-device byte sequence.
func (f Frame) Bytes() []byte {
	return append(f.Header(), f.Payload...)
}

func (f Frame) String() string {
	if f.HasAddress {
		return fmt.Sprintf("op=%#02x addr=0x%06x len=%d", f.Opcode, f.Address&0xFFFFFF, len(f.Payload))
	}
	return fmt.Sprintf("op=%#02x len=%d", f.Opcode, len(f.Payload))
}

type FrameSender interface {
	Send(ctx context.Context, frame Frame) error
}

type FrameReceiver interface {
	// Receive sends the frame header and fills buf with the device response.
	Receive(ctx context.Context, frame Frame, buf []byte) error
}

// Transactor moves command frames between host and flash device.
type Transactor interface {
	FrameSender
	FrameReceiver
}

// Delayer is the blocking timer service.
type Delayer interface {
	Delay(ctx context.Context, d time.Duration) error
}
