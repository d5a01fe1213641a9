package flash

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mklimuk/norflash"
)

// tRES1, power-down release to standby. The datasheet gives 3us; the timer
// service has millisecond resolution.
const releaseDelay = time.Millisecond

func (d *Device) WriteEnable(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.writeEnable(ctx)
}

func (d *Device) writeEnable(ctx context.Context) error {
	if err := d.bus.Send(ctx, norflash.Cmd(CmdWriteEnable)); err != nil {
		return fmt.Errorf("flash: write enable: %w", err)
	}
	return nil
}

func (d *Device) WriteDisable(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := d.bus.Send(ctx, norflash.Cmd(CmdWriteDisable)); err != nil {
		return fmt.Errorf("flash: write disable: %w", err)
	}
	return nil
}

func (d *Device) ReadStatus(ctx context.Context) (StatusRegister, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.readStatus(ctx)
}

func (d *Device) readStatus(ctx context.Context) (StatusRegister, error) {
	var buf [1]byte
	if err := d.bus.Receive(ctx, norflash.Cmd(CmdReadStatus), buf[:]); err != nil {
		return 0, fmt.Errorf("flash: read status: %w", err)
	}
	return StatusRegister(buf[0]), nil
}

// WriteStatus writes status register 1 and waits for the write cycle to end.
func (d *Device) WriteStatus(ctx context.Context, value StatusRegister) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := d.writeEnable(ctx); err != nil {
		return err
	}
	frame := norflash.Frame{Opcode: CmdWriteStatus, Payload: []byte{byte(value)}}
	if err := d.bus.Send(ctx, frame); err != nil {
		return fmt.Errorf("flash: write status: %w", err)
	}
	return d.waitReady(ctx)
}

// PageProgram programs up to one page. The range must not cross a page
// boundary; use Write for arbitrary ranges.
func (d *Device) PageProgram(ctx context.Context, addr uint32, data []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.pageProgram(ctx, addr, data)
}

func (d *Device) pageProgram(ctx context.Context, addr uint32, data []byte) error {
	if len(data) > PageSize {
		slog.Warn("page program rejected", "address", fmt.Sprintf("0x%06x", addr), "length", len(data))
		return fmt.Errorf("flash: program %d bytes at 0x%06x: %w", len(data), addr, norflash.ErrOversizePageWrite)
	}
	if len(data) == 0 {
		return nil
	}
	if int(addr%PageSize)+len(data) > PageSize {
		slog.Warn("page program rejected", "address", fmt.Sprintf("0x%06x", addr), "length", len(data))
		return fmt.Errorf("flash: program %d bytes at 0x%06x: %w", len(data), addr, norflash.ErrPageBoundary)
	}
	if err := d.checkRange(addr, len(data)); err != nil {
		return err
	}
	if err := d.writeEnable(ctx); err != nil {
		return err
	}
	if err := d.bus.Send(ctx, norflash.AddrCmd(CmdPageProgram, addr, data...)); err != nil {
		return fmt.Errorf("flash: page program at 0x%06x: %w", addr, err)
	}
	return d.waitReady(ctx)
}

// SectorErase erases the 4 KiB sector containing addr.
func (d *Device) SectorErase(ctx context.Context, addr uint32) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.erase(ctx, CmdSectorErase, addr)
}

// BlockErase erases the 64 KiB block containing addr.
func (d *Device) BlockErase(ctx context.Context, addr uint32) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.erase(ctx, CmdBlockErase, addr)
}

func (d *Device) ChipErase(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := d.writeEnable(ctx); err != nil {
		return err
	}
	if err := d.bus.Send(ctx, norflash.Cmd(CmdChipErase)); err != nil {
		return fmt.Errorf("flash: chip erase: %w", err)
	}
	return d.waitReady(ctx)
}

func (d *Device) erase(ctx context.Context, opcode byte, addr uint32) error {
	if err := d.checkRange(addr, 1); err != nil {
		return err
	}
	if err := d.writeEnable(ctx); err != nil {
		return err
	}
	if err := d.bus.Send(ctx, norflash.AddrCmd(opcode, addr)); err != nil {
		return fmt.Errorf("flash: erase %#02x at 0x%06x: %w", opcode, addr, err)
	}
	return d.waitReady(ctx)
}

// ReadID returns the JEDEC manufacturer and device identification.
func (d *Device) ReadID(ctx context.Context) (ID, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	var buf [3]byte
	if err := d.bus.Receive(ctx, norflash.Cmd(CmdJEDECID), buf[:]); err != nil {
		return ID{}, fmt.Errorf("flash: read jedec id: %w", err)
	}
	return ID{Manufacturer: buf[0], Device: uint16(buf[1])<<8 | uint16(buf[2])}, nil
}

// ReadManufacturerID issues the legacy 0x90 command and returns the
// manufacturer and the one byte device id.
func (d *Device) ReadManufacturerID(ctx context.Context) (byte, byte, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	var buf [2]byte
	if err := d.bus.Receive(ctx, norflash.AddrCmd(CmdManufacturerID, 0), buf[:]); err != nil {
		return 0, 0, fmt.Errorf("flash: read manufacturer id: %w", err)
	}
	return buf[0], buf[1], nil
}

// Read fills buf with flash content starting at addr. Reads are not limited
// by page boundaries.
func (d *Device) Read(ctx context.Context, addr uint32, buf []byte) error {
	return d.ReadData(ctx, addr, buf)
}

func (d *Device) ReadData(ctx context.Context, addr uint32, buf []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.readData(ctx, addr, buf)
}

func (d *Device) readData(ctx context.Context, addr uint32, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if err := d.checkRange(addr, len(buf)); err != nil {
		return err
	}
	if err := d.bus.Receive(ctx, norflash.AddrCmd(CmdReadData, addr), buf); err != nil {
		return fmt.Errorf("flash: read %d bytes at 0x%06x: %w", len(buf), addr, err)
	}
	return nil
}

// FastRead reads with the 0x0B command, clocking one dummy byte after the
// address.
func (d *Device) FastRead(ctx context.Context, addr uint32, buf []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if len(buf) == 0 {
		return nil
	}
	if err := d.checkRange(addr, len(buf)); err != nil {
		return err
	}
	if err := d.bus.Receive(ctx, norflash.AddrCmd(CmdFastRead, addr, 0x00), buf); err != nil {
		return fmt.Errorf("flash: fast read %d bytes at 0x%06x: %w", len(buf), addr, err)
	}
	return nil
}

// PowerDown puts the chip into deep power-down. Every command other than
// ReleasePowerDown is ignored until it is woken up.
func (d *Device) PowerDown(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := d.bus.Send(ctx, norflash.Cmd(CmdPowerDown)); err != nil {
		return fmt.Errorf("flash: power down: %w", err)
	}
	return nil
}

// ReleasePowerDown wakes the chip and returns the device id it reports.
func (d *Device) ReleasePowerDown(ctx context.Context) (byte, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	var buf [1]byte
	frame := norflash.Frame{Opcode: CmdReleasePowerDown, Payload: []byte{0, 0, 0}}
	if err := d.bus.Receive(ctx, frame, buf[:]); err != nil {
		return 0, fmt.Errorf("flash: release power down: %w", err)
	}
	if err := d.config.Delayer.Delay(ctx, releaseDelay); err != nil {
		return 0, err
	}
	return buf[0], nil
}
