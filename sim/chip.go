package sim

import (
	"sync"
)

// W25Q instruction set understood by the chip model.
const (
	opWriteEnable      = 0x06
	opWriteDisable     = 0x04
	opReadStatus       = 0x05
	opWriteStatus      = 0x01
	opReadData         = 0x03
	opFastRead         = 0x0B
	opFastReadDual     = 0x3B
	opPageProgram      = 0x02
	opBlockErase       = 0xD8
	opSectorErase      = 0x20
	opChipErase        = 0xC7
	opPowerDown        = 0xB9
	opReleasePowerDown = 0xAB
	opManufacturerID   = 0x90
	opJEDECID          = 0x9F
)

const (
	pageSize   = 256
	sectorSize = 4096
	blockSize  = 65536
)

type ChipOpts struct {
	Capacity int
	JEDEC    [3]byte
	DeviceID byte
	// ProgramPolls and ErasePolls are the number of status reads reporting
	// write-in-progress after a program or erase.
	ProgramPolls int
	ErasePolls   int
	StuckBusy    bool
}

type ChipOpt func(*ChipOpts)

func WithCapacity(bytes int) ChipOpt {
	return func(o *ChipOpts) {
		o.Capacity = bytes
	}
}

func WithJEDEC(manufacturer, memType, capacity byte) ChipOpt {
	return func(o *ChipOpts) {
		o.JEDEC = [3]byte{manufacturer, memType, capacity}
	}
}

func WithBusyCycles(program, erase int) ChipOpt {
	return func(o *ChipOpts) {
		o.ProgramPolls = program
		o.ErasePolls = erase
	}
}

// WithChipStuckBusy makes the write-in-progress bit never clear.
func WithChipStuckBusy() ChipOpt {
	return func(o *ChipOpts) {
		o.StuckBusy = true
	}
}

// Transaction is one frame seen by the chip.
type Transaction struct {
	Opcode     byte
	Address    uint32
	HasAddress bool
	Length     int
	// Ignored is set when the chip dropped the command (busy, powered down or
	// write-enable latch clear).
	Ignored bool
}

// Mutating reports whether the opcode changes array or status register content.
func (t Transaction) Mutating() bool {
	switch t.Opcode {
	case opPageProgram, opSectorErase, opBlockErase, opChipErase, opWriteStatus:
		return true
	}
	return false
}

var _ Device = &Chip{}

// Chip models a W25Q NOR flash: programming can only clear bits, program
// addresses wrap inside the page, and program/erase require the write-enable
// latch and keep the chip busy for a configurable number of status polls.
type Chip struct {
	mx        sync.Mutex
	config    ChipOpts
	mem       []byte
	status    byte
	wel       bool
	busy      int
	powerDown bool
	log       []Transaction
}

func NewChip(opts ...ChipOpt) *Chip {
	config := ChipOpts{
		Capacity:     16 << 20,
		JEDEC:        [3]byte{0xEF, 0x40, 0x18},
		DeviceID:     0x17,
		ProgramPolls: 2,
		ErasePolls:   3,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Chip{config: config, mem: fill(config.Capacity, 0xFF)}
}

func (c *Chip) Transfer(tx []byte, rxLen int) []byte {
	c.mx.Lock()
	defer c.mx.Unlock()
	resp := fill(rxLen, 0xFF)
	if len(tx) == 0 {
		return resp
	}
	t := Transaction{Opcode: tx[0], Length: rxLen}
	if hasAddress(tx[0]) && len(tx) >= 4 {
		t.HasAddress = true
		t.Address = uint32(tx[1])<<16 | uint32(tx[2])<<8 | uint32(tx[3])
		t.Length += len(tx) - 4
	} else {
		t.Length += len(tx) - 1
	}
	t.Ignored = !c.execute(t, tx, resp)
	c.log = append(c.log, t)
	return resp
}

func (c *Chip) execute(t Transaction, tx []byte, resp []byte) bool {
	if c.powerDown && t.Opcode != opReleasePowerDown {
		return false
	}
	if c.isBusy() && t.Opcode != opReadStatus {
		return false
	}
	switch t.Opcode {
	case opReadStatus:
		st := c.statusByte()
		for i := range resp {
			resp[i] = st
		}
		if c.busy > 0 {
			c.busy--
		}
	case opWriteEnable:
		c.wel = true
	case opWriteDisable:
		c.wel = false
	case opWriteStatus:
		if !c.wel || len(tx) < 2 {
			return false
		}
		c.status = tx[1] & 0xFC
		c.startCycle(c.config.ProgramPolls)
	case opPageProgram:
		if !c.wel || !t.HasAddress {
			return false
		}
		c.program(t.Address, tx[4:])
		c.startCycle(c.config.ProgramPolls)
	case opSectorErase, opBlockErase, opChipErase:
		if !c.wel {
			return false
		}
		c.erase(t)
		c.startCycle(c.config.ErasePolls)
	case opReadData:
		c.read(t.Address, resp)
	case opFastRead, opFastReadDual:
		// one dummy byte follows the address and has already been clocked
		c.read(t.Address, resp)
	case opJEDECID:
		copy(resp, c.config.JEDEC[:])
	case opManufacturerID:
		id := [2]byte{c.config.JEDEC[0], c.config.DeviceID}
		for i := range resp {
			resp[i] = id[(int(t.Address&1)+i)%2]
		}
	case opPowerDown:
		c.powerDown = true
	case opReleasePowerDown:
		c.powerDown = false
		for i := range resp {
			resp[i] = c.config.DeviceID
		}
	default:
		return false
	}
	return true
}

func (c *Chip) isBusy() bool {
	return c.busy > 0 || c.config.StuckBusy
}

func (c *Chip) statusByte() byte {
	st := c.status
	if c.wel {
		st |= 0x02
	}
	if c.isBusy() {
		st |= 0x01
	}
	return st
}

func (c *Chip) startCycle(polls int) {
	c.wel = false
	c.busy = polls
}

func (c *Chip) program(addr uint32, data []byte) {
	page := int(addr) &^ (pageSize - 1)
	offset := int(addr) & (pageSize - 1)
	for i, b := range data {
		// the page address counter wraps, it never carries into the next page
		idx := (page + (offset+i)%pageSize) % len(c.mem)
		c.mem[idx] &= b
	}
}

func (c *Chip) erase(t Transaction) {
	start, size := 0, len(c.mem)
	switch t.Opcode {
	case opSectorErase:
		start, size = int(t.Address)&^(sectorSize-1), sectorSize
	case opBlockErase:
		start, size = int(t.Address)&^(blockSize-1), blockSize
	}
	for i := start; i < start+size && i < len(c.mem); i++ {
		c.mem[i] = 0xFF
	}
}

func (c *Chip) read(addr uint32, resp []byte) {
	for i := range resp {
		resp[i] = c.mem[(int(addr)+i)%len(c.mem)]
	}
}

// Log returns a copy of every frame the chip has seen.
func (c *Chip) Log() []Transaction {
	c.mx.Lock()
	defer c.mx.Unlock()
	return append([]Transaction(nil), c.log...)
}

func (c *Chip) ResetLog() {
	c.mx.Lock()
	c.log = nil
	c.mx.Unlock()
}

// Peek returns a copy of n bytes of the array starting at addr.
func (c *Chip) Peek(addr, n int) []byte {
	c.mx.Lock()
	defer c.mx.Unlock()
	return append([]byte(nil), c.mem[addr:addr+n]...)
}

// Load overwrites array content directly, bypassing NOR semantics.
func (c *Chip) Load(addr int, data []byte) {
	c.mx.Lock()
	copy(c.mem[addr:], data)
	c.mx.Unlock()
}

func (c *Chip) PoweredDown() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.powerDown
}

func (c *Chip) Capacity() int {
	return c.config.Capacity
}

func hasAddress(op byte) bool {
	switch op {
	case opPageProgram, opSectorErase, opBlockErase, opReadData, opFastRead, opFastReadDual, opManufacturerID:
		return true
	}
	return false
}
