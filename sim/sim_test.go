package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/norflash/register"
)

func TestChip_ProgramRequiresWriteEnable(t *testing.T) {
	c := NewChip(WithCapacity(64<<10), WithBusyCycles(0, 0))

	c.Transfer([]byte{opPageProgram, 0, 0, 0, 0x00}, 0)
	assert.Equal(t, []byte{0xFF}, c.Peek(0, 1))

	c.Transfer([]byte{opWriteEnable}, 0)
	c.Transfer([]byte{opPageProgram, 0, 0, 0, 0x00}, 0)
	assert.Equal(t, []byte{0x00}, c.Peek(0, 1))

	log := c.Log()
	require.Len(t, log, 3)
	assert.True(t, log[0].Ignored)
	assert.False(t, log[2].Ignored)
}

func TestChip_ProgramOnlyClearsBits(t *testing.T) {
	c := NewChip(WithCapacity(64<<10), WithBusyCycles(0, 0))
	c.Transfer([]byte{opWriteEnable}, 0)
	c.Transfer([]byte{opPageProgram, 0, 0, 0x10, 0xF0}, 0)
	c.Transfer([]byte{opWriteEnable}, 0)
	c.Transfer([]byte{opPageProgram, 0, 0, 0x10, 0x3C}, 0)
	assert.Equal(t, []byte{0x30}, c.Peek(0x10, 1))
}

func TestChip_ProgramWrapsInsidePage(t *testing.T) {
	c := NewChip(WithCapacity(64<<10), WithBusyCycles(0, 0))
	c.Transfer([]byte{opWriteEnable}, 0)
	c.Transfer([]byte{opPageProgram, 0, 0x01, 0xFF, 0x11, 0x22}, 0)
	assert.Equal(t, []byte{0x11}, c.Peek(0x1FF, 1))
	assert.Equal(t, []byte{0x22}, c.Peek(0x100, 1), "second byte wraps to the start of the same page")
	assert.Equal(t, []byte{0xFF}, c.Peek(0x200, 1))
}

func TestChip_EraseGranularity(t *testing.T) {
	tests := []struct {
		name   string
		frame  []byte
		erased [2]int
	}{
		{"sector", []byte{opSectorErase, 0x00, 0x12, 0x34}, [2]int{0x1000, 0x2000}},
		{"block", []byte{opBlockErase, 0x01, 0x23, 0x45}, [2]int{0x10000, 0x20000}},
		{"chip", []byte{opChipErase}, [2]int{0, 0x20000}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := NewChip(WithCapacity(128<<10), WithBusyCycles(0, 0))
			c.Load(0, make([]byte, 128<<10))
			c.Transfer([]byte{opWriteEnable}, 0)
			c.Transfer(test.frame, 0)
			for _, addr := range []int{0, 0xFFF, 0x1000, 0x1FFF, 0x2000, 0x10000, 0x1FFFF} {
				inside := addr >= test.erased[0] && addr < test.erased[1]
				if inside {
					assert.Equal(t, byte(0xFF), c.Peek(addr, 1)[0], "addr %#x", addr)
				} else {
					assert.Equal(t, byte(0x00), c.Peek(addr, 1)[0], "addr %#x", addr)
				}
			}
		})
	}
}

func TestChip_BusyIgnoresCommands(t *testing.T) {
	c := NewChip(WithCapacity(64<<10), WithBusyCycles(2, 2))
	c.Transfer([]byte{opWriteEnable}, 0)
	c.Transfer([]byte{opPageProgram, 0, 0, 0, 0x00}, 0)

	assert.Equal(t, []byte{0x01}, c.Transfer([]byte{opReadStatus}, 1))
	assert.Equal(t, []byte{0xFF}, c.Transfer([]byte{opReadData, 0, 0, 0}, 1), "read is ignored while busy")
	assert.Equal(t, []byte{0x01}, c.Transfer([]byte{opReadStatus}, 1))
	assert.Equal(t, []byte{0x00}, c.Transfer([]byte{opReadStatus}, 1))
	assert.Equal(t, []byte{0x00}, c.Transfer([]byte{opReadData, 0, 0, 0}, 1))
}

func TestChip_IDs(t *testing.T) {
	c := NewChip(WithJEDEC(0xEF, 0x40, 0x17))
	assert.Equal(t, []byte{0xEF, 0x40, 0x17}, c.Transfer([]byte{opJEDECID}, 3))
	assert.Equal(t, []byte{0xEF, 0x17}, c.Transfer([]byte{opManufacturerID, 0, 0, 0}, 2))
	assert.Equal(t, []byte{0x17, 0xEF}, c.Transfer([]byte{opManufacturerID, 0, 0, 1}, 2))
}

func TestChip_PowerDown(t *testing.T) {
	c := NewChip(WithCapacity(64<<10))
	c.Transfer([]byte{opPowerDown}, 0)
	assert.True(t, c.PoweredDown())
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF}, c.Transfer([]byte{opJEDECID}, 3))
	assert.Equal(t, []byte{0x17}, c.Transfer([]byte{opReleasePowerDown, 0, 0, 0}, 1))
	assert.False(t, c.PoweredDown())
}

func TestController_ReceiveUsesLengthAndCalibration(t *testing.T) {
	chip := NewChip(WithCapacity(64<<10))
	chip.Load(0x100, []byte{1, 2, 3})
	ctl := NewController(chip, WithBusyPolls(0))
	ctl.Write(register.Control2, register.Ctrl2ChipSelect|register.Ctrl2Enable)

	for _, b := range []byte{opReadData, 0x00, 0x01, 0x00} {
		ctl.Write(register.Tx, uint32(b))
	}
	ctl.Write(register.Calibration, 2)
	ctl.Write(register.TransferLength, 6)
	ctl.Write(register.Control2, register.Ctrl2ChipSelect|register.Ctrl2Enable|register.Ctrl2Start|register.Ctrl2Receive)

	var got []byte
	for !register.StatusFlags(ctl.Read(register.Status)).RxEmpty() {
		got = append(got, byte(ctl.Read(register.Rx)))
	}
	assert.Equal(t, []byte{1, 2, 3}, got)
	assert.Equal(t, 1, ctl.Transfers())
	require.Len(t, chip.Log(), 1)
	assert.Equal(t, uint32(0x100), chip.Log()[0].Address)
}

func TestController_FIFOFull(t *testing.T) {
	ctl := NewController(NewChip(WithCapacity(64<<10)), WithFIFODepth(2))
	ctl.Write(register.Tx, 1)
	assert.False(t, register.StatusFlags(ctl.Read(register.Status)).TxFull())
	ctl.Write(register.Tx, 2)
	assert.True(t, register.StatusFlags(ctl.Read(register.Status)).TxFull())
	ctl.Write(register.Tx, 3)
	assert.Equal(t, 1, ctl.Dropped())
	assert.Equal(t, []byte{1, 2}, ctl.Pending())
}

func TestController_ChipNotSelected(t *testing.T) {
	chip := NewChip(WithCapacity(64<<10))
	ctl := NewController(chip)
	ctl.Write(register.Tx, opWriteEnable)
	ctl.Write(register.TransferLength, 0)
	ctl.Write(register.Control2, register.Ctrl2Enable|register.Ctrl2Start)
	assert.Equal(t, 1, ctl.Transfers())
	assert.Empty(t, chip.Log())
}
