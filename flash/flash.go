// Package flash implements the W25X/W25Q NOR flash command set on top of a
// norflash.Transactor: write-enable protocol, status polling, page-aligned
// writes, erase and identification.
//
// Typical usage with the memory-mapped controller:
//
//	bank, _ := register.NewMMIO(register.DefaultBase)
//	bus := engine.New(bank)
//	bus.Configure(register.ModeAuto, 0)
//	dev := flash.New(bus)
//	if err := dev.SectorErase(ctx, 0x1000); err != nil { ... }
//	err := dev.Write(ctx, 0x10C8, payload) // split on 256 byte page boundaries
//
// All operations on a Device are serialized.
package flash

import (
	"fmt"
	"sync"
	"time"

	"github.com/mklimuk/norflash"
)

// Instruction set (W25X datasheet, instruction table).
const (
	CmdWriteEnable      = 0x06
	CmdWriteDisable     = 0x04
	CmdReadStatus       = 0x05
	CmdWriteStatus      = 0x01
	CmdReadData         = 0x03
	CmdFastRead         = 0x0B
	CmdFastReadDual     = 0x3B
	CmdPageProgram      = 0x02
	CmdBlockErase       = 0xD8
	CmdSectorErase      = 0x20
	CmdChipErase        = 0xC7
	CmdPowerDown        = 0xB9
	CmdReleasePowerDown = 0xAB
	CmdManufacturerID   = 0x90
	CmdJEDECID          = 0x9F
)

// Geometry.
const (
	PageSize   = 256
	SectorSize = 4096
	BlockSize  = 65536

	// DefaultCapacity is 256 blocks of 64 KiB.
	DefaultCapacity = 256 * BlockSize
)

type Opts struct {
	Capacity uint32
	// MaxPolls bounds the write-in-progress wait after program and erase.
	// Zero waits until the device reports ready.
	MaxPolls     int
	PollInterval time.Duration
	Delayer      norflash.Delayer
}

type Opt func(*Opts)

func WithCapacity(bytes uint32) Opt {
	return func(o *Opts) {
		o.Capacity = bytes
	}
}

func WithMaxPolls(n int) Opt {
	return func(o *Opts) {
		o.MaxPolls = n
	}
}

// WithPollInterval sleeps between status reads while waiting for a program or
// erase to finish.
func WithPollInterval(interval time.Duration) Opt {
	return func(o *Opts) {
		o.PollInterval = interval
	}
}

func WithDelayer(d norflash.Delayer) Opt {
	return func(o *Opts) {
		o.Delayer = d
	}
}

// Device is a NOR flash chip reachable through a Transactor.
type Device struct {
	mx     sync.Mutex
	bus    norflash.Transactor
	config Opts
}

func New(bus norflash.Transactor, opts ...Opt) *Device {
	config := Opts{
		Capacity: DefaultCapacity,
		MaxPolls: 1 << 24,
		Delayer:  SleepDelayer{},
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Device{bus: bus, config: config}
}

func (d *Device) Capacity() uint32 {
	return d.config.Capacity
}

func (d *Device) checkRange(addr uint32, n int) error {
	if uint64(addr)+uint64(n) > uint64(d.config.Capacity) {
		return fmt.Errorf("0x%06x+%d exceeds capacity %#x: %w", addr, n, d.config.Capacity, norflash.ErrOutOfRange)
	}
	return nil
}

// ID is the JEDEC identification of the chip.
type ID struct {
	Manufacturer byte
	Device       uint16
}

var knownChips = map[ID]string{
	{0xEF, 0x4016}: "Winbond W25Q32",
	{0xEF, 0x4017}: "Winbond W25Q64",
	{0xEF, 0x4018}: "Winbond W25Q128",
	{0xEF, 0x3015}: "Winbond W25X16",
	{0xEF, 0x3016}: "Winbond W25X32",
	{0x20, 0xBA16}: "Micron N25Q32",
	{0xC2, 0x2018}: "Macronix MX25L128",
}

// Name returns the part name for known IDs and an empty string otherwise.
func (id ID) Name() string {
	return knownChips[id]
}

func (id ID) String() string {
	if name := id.Name(); name != "" {
		return fmt.Sprintf("%02X %04X (%s)", id.Manufacturer, id.Device, name)
	}
	return fmt.Sprintf("%02X %04X", id.Manufacturer, id.Device)
}
