// Package sim models the memory-mapped SPI controller and a W25Q-style NOR
// flash chip closely enough to run the driver stack without hardware.
package sim

import (
	"sync"

	"github.com/mklimuk/norflash/register"
)

// Device is whatever sits on the far side of the SPI wire. Transfer clocks tx
// out and then clocks in rxLen response bytes.
type Device interface {
	Transfer(tx []byte, rxLen int) []byte
}

type ControllerOpts struct {
	// FIFODepth is the TX FIFO capacity in bytes.
	FIFODepth int
	// BusyPolls is the number of Status reads reporting transfer-busy after
	// each triggered transfer.
	BusyPolls int
	// StuckBusy keeps transfer-busy set forever.
	StuckBusy bool
	// StuckRxEmpty keeps rx-fifo-empty set forever.
	StuckRxEmpty bool
}

type ControllerOpt func(*ControllerOpts)

func WithFIFODepth(depth int) ControllerOpt {
	return func(o *ControllerOpts) {
		o.FIFODepth = depth
	}
}

func WithBusyPolls(n int) ControllerOpt {
	return func(o *ControllerOpts) {
		o.BusyPolls = n
	}
}

func WithStuckBusy() ControllerOpt {
	return func(o *ControllerOpts) {
		o.StuckBusy = true
	}
}

func WithStuckRxEmpty() ControllerOpt {
	return func(o *ControllerOpts) {
		o.StuckRxEmpty = true
	}
}

var _ register.Bank = &Controller{}

// Controller is a register.Bank emulating the SPI controller. A transfer runs
// when Control2 is written with the start bit: Transfer-Length+1 bytes are
// clocked, of which Calibration+1 trailing bytes are captured into the RX FIFO
// for receive transfers.
type Controller struct {
	mx     sync.Mutex
	dev    Device
	config ControllerOpts
	regs   [register.WindowSize / 4]uint32
	tx     []byte
	rx     []byte
	busy   int

	transfers int
	dropped   int
}

func NewController(dev Device, opts ...ControllerOpt) *Controller {
	config := ControllerOpts{
		FIFODepth: 512,
		BusyPolls: 1,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Controller{dev: dev, config: config}
}

func (c *Controller) Read(reg register.Register) uint32 {
	c.mx.Lock()
	defer c.mx.Unlock()
	switch reg {
	case register.Status:
		return uint32(c.status())
	case register.Rx:
		if len(c.rx) == 0 || c.config.StuckRxEmpty {
			return 0
		}
		b := c.rx[0]
		c.rx = c.rx[1:]
		return uint32(b)
	}
	return c.regs[reg.Index()]
}

func (c *Controller) Write(reg register.Register, value uint32) {
	c.mx.Lock()
	defer c.mx.Unlock()
	switch reg {
	case register.Tx:
		if len(c.tx) >= c.config.FIFODepth {
			c.dropped++
			return
		}
		c.tx = append(c.tx, byte(value))
		return
	case register.Control2:
		c.regs[reg.Index()] = value &^ register.Ctrl2Start
		if value&register.Ctrl2Start != 0 {
			c.start(value)
		}
		return
	}
	c.regs[reg.Index()] = value
}

func (c *Controller) status() register.StatusFlags {
	var s register.StatusFlags
	if c.busy > 0 || c.config.StuckBusy {
		s |= register.StatusTransferBusy
		if c.busy > 0 {
			c.busy--
		}
	}
	if len(c.tx) >= c.config.FIFODepth {
		s |= register.StatusTxFull
	}
	if len(c.rx) == 0 || c.config.StuckRxEmpty {
		s |= register.StatusRxEmpty
	}
	return s
}

func (c *Controller) start(ctrl uint32) {
	frame := c.tx
	c.tx = nil
	if ctrl&register.Ctrl2Enable == 0 {
		return
	}
	c.transfers++
	c.busy = c.config.BusyPolls

	clocked := int(c.regs[register.TransferLength.Index()]) + 1
	rxLen := 0
	if ctrl&register.Ctrl2Receive != 0 {
		rxLen = int(c.regs[register.Calibration.Index()]) + 1
		if rxLen > clocked {
			rxLen = clocked
		}
	}
	out := make([]byte, clocked-rxLen)
	copy(out, frame)

	var resp []byte
	if ctrl&register.Ctrl2ChipSelect == 0 {
		// chip not selected, the data line floats high
		resp = fill(rxLen, 0xFF)
	} else {
		resp = c.dev.Transfer(out, rxLen)
	}
	if rxLen > 0 {
		c.rx = append(c.rx, resp...)
	}
}

// Transfers returns the number of triggered transfers.
func (c *Controller) Transfers() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.transfers
}

// Dropped returns the number of Tx writes lost to a full FIFO.
func (c *Controller) Dropped() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.dropped
}

// Pending returns the bytes currently queued in the TX FIFO.
func (c *Controller) Pending() []byte {
	c.mx.Lock()
	defer c.mx.Unlock()
	return append([]byte(nil), c.tx...)
}

func fill(n int, b byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
