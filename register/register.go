// Package register describes the memory-mapped SPI controller: register
// offsets, status and control bits, and the Bank abstraction the bus engine
// talks to.
package register

import (
	"fmt"
	"strings"
)

// Register is a controller register identified by its byte offset from the
// controller base address.
type Register uint32

const (
	Control1       Register = 0
	Control2       Register = 4
	Divider        Register = 8
	Calibration    Register = 12
	TransferLength Register = 16
	Tx             Register = 20
	Rx             Register = 24
	Status         Register = 28
)

// WindowSize is the span of the register map in bytes.
const WindowSize = 32

var names = map[Register]string{
	Control1:       "CTRL1",
	Control2:       "CTRL2",
	Divider:        "DIV",
	Calibration:    "CAL",
	TransferLength: "TRL",
	Tx:             "TXR",
	Rx:             "RXR",
	Status:         "STAT",
}

func (r Register) String() string {
	if n, ok := names[r]; ok {
		return n
	}
	return fmt.Sprintf("REG(+%d)", uint32(r))
}

// Index returns the 32-bit word index of the register inside the window.
func (r Register) Index() int {
	return int(r / 4)
}

// StatusFlags is the content of the Status register.
type StatusFlags uint32

const (
	StatusTransferBusy StatusFlags = 1 << 2
	StatusTxFull       StatusFlags = 1 << 3
	StatusRxEmpty      StatusFlags = 1 << 4
)

func (s StatusFlags) Busy() bool    { return s&StatusTransferBusy != 0 }
func (s StatusFlags) TxFull() bool  { return s&StatusTxFull != 0 }
func (s StatusFlags) RxEmpty() bool { return s&StatusRxEmpty != 0 }

func (s StatusFlags) String() string {
	var set []string
	if s.Busy() {
		set = append(set, "BUSY")
	}
	if s.TxFull() {
		set = append(set, "TXFULL")
	}
	if s.RxEmpty() {
		set = append(set, "RXEMPTY")
	}
	b := fmt.Sprintf("%05b", uint32(s)&0x1F)
	if len(set) == 0 {
		return b
	}
	return b + " " + strings.Join(set, ",")
}

// Control2 bits.
const (
	Ctrl2Enable     uint32 = 1 << 2
	Ctrl2Start      uint32 = 1 << 3
	Ctrl2Receive    uint32 = 1 << 4
	Ctrl2ChipSelect uint32 = 1 << 5
)

// Mode is the chip-select handling mode programmed into Control1.
type Mode uint32

const (
	// ModeManual leaves chip-select to the Control2 chip-select bit.
	ModeManual Mode = 0
	// ModeAuto lets the controller frame chip-select around each transfer.
	ModeAuto Mode = 1 << 3
)

func (m Mode) String() string {
	switch m {
	case ModeManual:
		return "manual"
	case ModeAuto:
		return "auto"
	default:
		return fmt.Sprintf("mode(%#x)", uint32(m))
	}
}

// ParseMode accepts "manual" or "auto".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "manual":
		return ModeManual, nil
	case "auto", "":
		return ModeAuto, nil
	}
	return 0, fmt.Errorf("unknown controller mode %q", s)
}

// Bank gives typed access to the controller registers. Writing Tx pushes one
// byte into the TX FIFO and reading Rx pops one byte from the RX FIFO, so
// neither access is idempotent.
type Bank interface {
	Read(reg Register) uint32
	Write(reg Register, value uint32)
}
