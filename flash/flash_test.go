package flash

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/norflash"
	"github.com/mklimuk/norflash/engine"
	"github.com/mklimuk/norflash/register"
	"github.com/mklimuk/norflash/sim"
)

const simCapacity = 1 << 20

type simSetup struct {
	dev  *Device
	chip *sim.Chip
	rec  *register.Recorder
}

func newSim(t *testing.T, ctlOpts []sim.ControllerOpt, chipOpts []sim.ChipOpt, opts ...Opt) simSetup {
	t.Helper()
	chip := sim.NewChip(append([]sim.ChipOpt{sim.WithCapacity(simCapacity)}, chipOpts...)...)
	rec := register.NewRecorder(sim.NewController(chip, ctlOpts...))
	bus := engine.New(rec)
	bus.Configure(register.ModeAuto, 0)
	rec.Reset()
	return simSetup{
		dev:  New(bus, append([]Opt{WithCapacity(simCapacity)}, opts...)...),
		chip: chip,
		rec:  rec,
	}
}

func pattern(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i*7) + seed
	}
	return out
}

func TestDevice_RoundTrip(t *testing.T) {
	for _, addr := range []uint32{0, 200, 4095, 4096} {
		for _, length := range []int{1, 56, 256, 300, 512} {
			t.Run(fmt.Sprintf("%d@%d", length, addr), func(t *testing.T) {
				s := newSim(t, nil, nil)
				ctx := context.Background()
				data := pattern(length, byte(addr))

				require.NoError(t, s.dev.Erase(ctx, addr, length))
				require.NoError(t, s.dev.Write(ctx, addr, data))

				got := make([]byte, length)
				require.NoError(t, s.dev.Read(ctx, addr, got))
				assert.Equal(t, data, got)
				assert.Equal(t, data, s.chip.Peek(int(addr), length))
			})
		}
	}
}

func TestDevice_WriteScenarios(t *testing.T) {
	tests := []struct {
		name     string
		addr     uint32
		length   int
		programs []uint32
	}{
		{"A", 200, 300, []uint32{200, 256}},
		{"B", 0, 256, []uint32{0}},
		{"C", 0, 512, []uint32{0, 256}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := newSim(t, nil, nil)
			require.NoError(t, s.dev.Write(context.Background(), test.addr, pattern(test.length, 1)))

			var programs []uint32
			for _, tr := range s.chip.Log() {
				if tr.Opcode == CmdPageProgram {
					assert.False(t, tr.Ignored)
					programs = append(programs, tr.Address)
				}
			}
			assert.Equal(t, test.programs, programs)
		})
	}
}

func TestDevice_EraseIdempotence(t *testing.T) {
	s := newSim(t, nil, nil)
	ctx := context.Background()
	s.chip.Load(0, bytes.Repeat([]byte{0x5A}, 3*SectorSize))

	for i := 0; i < 2; i++ {
		require.NoError(t, s.dev.SectorErase(ctx, SectorSize+100))
		got := make([]byte, SectorSize)
		require.NoError(t, s.dev.Read(ctx, SectorSize, got))
		assert.Equal(t, bytes.Repeat([]byte{0xFF}, SectorSize), got)
	}
	assert.Equal(t, byte(0x5A), s.chip.Peek(SectorSize-1, 1)[0])
	assert.Equal(t, byte(0x5A), s.chip.Peek(2*SectorSize, 1)[0])
}

func TestDevice_EraseRange(t *testing.T) {
	tests := []struct {
		name   string
		addr   uint32
		size   int
		frames []byte
	}{
		{"partial sector", 0x1010, 10, []byte{CmdSectorErase}},
		{"two sectors", 0x0FFF, 2, []byte{CmdSectorErase, CmdSectorErase}},
		{"aligned block", 0x10000, BlockSize, []byte{CmdBlockErase}},
		{"sector then block", 0xF000, SectorSize + BlockSize, []byte{CmdSectorErase, CmdBlockErase}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := newSim(t, nil, nil)
			require.NoError(t, s.dev.Erase(context.Background(), test.addr, test.size))
			var frames []byte
			for _, tr := range s.chip.Log() {
				if tr.Opcode == CmdSectorErase || tr.Opcode == CmdBlockErase {
					frames = append(frames, tr.Opcode)
				}
			}
			assert.Equal(t, test.frames, frames)
		})
	}
	t.Run("beyond capacity", func(t *testing.T) {
		s := newSim(t, nil, nil)
		err := s.dev.Erase(context.Background(), simCapacity-SectorSize, SectorSize+1)
		assert.ErrorIs(t, err, norflash.ErrOutOfRange)
		assert.Empty(t, s.chip.Log())
	})
}

func TestDevice_OversizeNoRegisterAccess(t *testing.T) {
	s := newSim(t, nil, nil)
	err := s.dev.PageProgram(context.Background(), 0, make([]byte, 257))
	assert.ErrorIs(t, err, norflash.ErrOversizePageWrite)
	assert.Empty(t, s.rec.Writes())
	assert.Empty(t, s.rec.Accesses())
}

func TestDevice_WriteEnableOrdering(t *testing.T) {
	s := newSim(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.dev.Erase(ctx, 0, 2*SectorSize))
	require.NoError(t, s.dev.Write(ctx, 100, pattern(900, 3)))
	require.NoError(t, s.dev.WriteStatus(ctx, 0))

	log := s.chip.Log()
	mutating := 0
	for i, tr := range log {
		if !tr.Mutating() {
			continue
		}
		mutating++
		assert.False(t, tr.Ignored, "frame %d %#02x", i, tr.Opcode)
		j := i - 1
		for ; j >= 0 && log[j].Opcode != CmdWriteEnable; j-- {
			assert.False(t, log[j].Mutating(), "frame %d interleaved before %d", j, i)
		}
		require.GreaterOrEqual(t, j, 0, "frame %d %#02x has no write enable", i, tr.Opcode)
	}
	assert.Equal(t, 2+4+1, mutating)
}

func TestDevice_WriteAbortsOnFailedRun(t *testing.T) {
	// the second run does not fit in the FIFO
	s := newSim(t, []sim.ControllerOpt{sim.WithFIFODepth(100)}, nil)
	data := pattern(300, 9)

	err := s.dev.Write(context.Background(), 200, data)
	require.Error(t, err)
	assert.ErrorIs(t, err, norflash.ErrFIFOFull)

	var werr *WriteError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, Run{Address: 256, Offset: 56, Length: 244}, werr.Run)
	assert.Equal(t, 56, werr.Written)
	assert.Contains(t, err.Error(), "0x000100+244")

	assert.Equal(t, data[:56], s.chip.Peek(200, 56))
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 244), s.chip.Peek(256, 244))
}

func TestDevice_WriteStuckBusy(t *testing.T) {
	s := newSim(t, nil, []sim.ChipOpt{sim.WithChipStuckBusy()}, WithMaxPolls(8))
	err := s.dev.Write(context.Background(), 0, []byte{1, 2, 3})
	assert.ErrorIs(t, err, norflash.ErrPollTimeout)
	var werr *WriteError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, 0, werr.Written)
}

func TestDevice_OutOfRange(t *testing.T) {
	s := newSim(t, nil, nil)
	ctx := context.Background()
	assert.ErrorIs(t, s.dev.Write(ctx, simCapacity-2, []byte{1, 2, 3}), norflash.ErrOutOfRange)
	assert.ErrorIs(t, s.dev.SectorErase(ctx, simCapacity), norflash.ErrOutOfRange)
	assert.Empty(t, s.chip.Log())
}

func TestDevice_Identify(t *testing.T) {
	s := newSim(t, nil, []sim.ChipOpt{sim.WithJEDEC(0xEF, 0x40, 0x17)})
	ctx := context.Background()

	id, err := s.dev.ReadID(ctx)
	require.NoError(t, err)
	assert.Equal(t, ID{Manufacturer: 0xEF, Device: 0x4017}, id)
	assert.Equal(t, "Winbond W25Q64", id.Name())

	mfr, dev, err := s.dev.ReadManufacturerID(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(0xEF), mfr)
	assert.Equal(t, byte(0x17), dev)
}

func TestDevice_PowerCycle(t *testing.T) {
	delayer := &countingDelayer{}
	s := newSim(t, nil, nil, WithDelayer(delayer))
	ctx := context.Background()

	require.NoError(t, s.dev.PowerDown(ctx))
	assert.True(t, s.chip.PoweredDown())
	id, err := s.dev.ReadID(ctx)
	require.NoError(t, err)
	assert.Equal(t, ID{Manufacturer: 0xFF, Device: 0xFFFF}, id, "commands are ignored while powered down")

	devID, err := s.dev.ReleasePowerDown(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(0x17), devID)
	assert.False(t, s.chip.PoweredDown())
	assert.Equal(t, []time.Duration{time.Millisecond}, delayer.calls())
}

func TestDevice_StatusRegister(t *testing.T) {
	s := newSim(t, nil, nil)
	ctx := context.Background()

	sr, err := s.dev.ReadStatus(ctx)
	require.NoError(t, err)
	assert.False(t, sr.WriteEnabled())

	require.NoError(t, s.dev.WriteEnable(ctx))
	sr, err = s.dev.ReadStatus(ctx)
	require.NoError(t, err)
	assert.True(t, sr.WriteEnabled())

	require.NoError(t, s.dev.WriteDisable(ctx))
	sr, err = s.dev.ReadStatus(ctx)
	require.NoError(t, err)
	assert.False(t, sr.WriteEnabled())

	require.NoError(t, s.dev.WriteStatus(ctx, 0x1C))
	sr, err = s.dev.ReadStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(7), sr.BlockProtect())
}

func TestStatusRegister_String(t *testing.T) {
	tests := []struct {
		sr       StatusRegister
		expected string
	}{
		{0x00, "00000000"},
		{0x03, "00000011 WEL,BUSY"},
		{0x9C, "10011100 SRP,BP=7"},
		{0x60, "01100000 SEC,TB"},
	}
	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.sr.String())
		})
	}
}

func TestDevice_Verify(t *testing.T) {
	s := newSim(t, nil, nil)
	ctx := context.Background()
	want := pattern(32, 0)
	s.chip.Load(0x300, want)

	r, err := s.dev.Verify(ctx, 0x300, want)
	require.NoError(t, err)
	assert.True(t, r.OK())
	assert.Equal(t, 32, r.Total)

	bad := append([]byte(nil), want...)
	bad[3] ^= 0xFF
	bad[17] ^= 0x01
	r, err = s.dev.Verify(ctx, 0x300, bad)
	require.NoError(t, err)
	assert.False(t, r.OK())
	assert.Equal(t, 2, r.Errors)
	assert.Equal(t, []Mismatch{
		{Address: 0x303, Want: bad[3], Got: want[3]},
		{Address: 0x311, Want: bad[17], Got: want[17]},
	}, r.Mismatches)
	assert.Equal(t, "tot: 32, err: 2", r.String())
}

func TestDevice_Sweep(t *testing.T) {
	s := newSim(t, nil, nil)
	s.chip.Load(0, bytes.Repeat([]byte{0x00}, 2*SectorSize))
	var pages []uint32

	r, err := s.dev.Sweep(context.Background(), WithSweepSize(2, 24), WithProgress(func(page int, addr uint32, r Report) {
		pages = append(pages, addr)
	}))
	require.NoError(t, err)
	assert.True(t, r.OK())
	assert.Equal(t, 24*20, r.Total)
	require.Len(t, pages, 24)
	assert.Equal(t, uint32(23*PageSize), pages[23])
	assert.Equal(t, []byte{0, 1, 2, 3}, s.chip.Peek(5*PageSize, 4))
	assert.Equal(t, byte(0xFF), s.chip.Peek(5*PageSize+20, 1)[0])
}

func TestDevice_SweepReportsMismatch(t *testing.T) {
	s := newSim(t, nil, nil)
	// program without a preceding erase: the stale zero bits survive
	s.chip.Load(SectorSize, bytes.Repeat([]byte{0x00}, PageSize))

	r, err := s.dev.Sweep(context.Background(), WithSweepSize(1, 17), WithPattern([]byte{0xFF, 0x01}))
	require.NoError(t, err)
	assert.Equal(t, 17*2, r.Total)
	assert.Equal(t, 2, r.Errors)
	assert.Equal(t, uint32(SectorSize), r.Mismatches[0].Address)
}

func TestSection(t *testing.T) {
	s := newSim(t, nil, nil)
	ctx := context.Background()
	sec := s.dev.Section(ctx)
	require.NoError(t, s.dev.Erase(ctx, 0, 2*SectorSize))

	n, err := sec.WriteAt([]byte("hello flash"), 250)
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	buf := make([]byte, 11)
	n, err = sec.ReadAt(buf, 250)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "hello flash", string(buf))

	r := io.NewSectionReader(sec, 250, 5)
	all, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(all))

	n, err = sec.ReadAt(make([]byte, 8), simCapacity-4)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 4, n)

	_, err = sec.ReadAt(buf, simCapacity)
	assert.ErrorIs(t, err, io.EOF)

	_, err = sec.WriteAt(buf, simCapacity-1)
	assert.ErrorIs(t, err, norflash.ErrOutOfRange)
}
