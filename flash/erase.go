package flash

import (
	"context"
	"fmt"

	"github.com/mklimuk/norflash"
	"github.com/mklimuk/norflash/fctx"
)

// Erase erases every sector touched by [addr, addr+size). Block erase is used
// wherever a whole 64 KiB block is covered, sector erase elsewhere.
func (d *Device) Erase(ctx context.Context, addr uint32, size int) error {
	if size <= 0 {
		return nil
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	start := addr &^ (SectorSize - 1)
	end := (uint64(addr) + uint64(size) + SectorSize - 1) &^ (SectorSize - 1)
	if end > uint64(d.config.Capacity) {
		return fmt.Errorf("flash: erase 0x%06x+%d: %w", addr, size, norflash.ErrOutOfRange)
	}
	ctx = fctx.WithOperation(ctx, "erase")
	for cur := uint64(start); cur < end; {
		if cur%BlockSize == 0 && end-cur >= BlockSize {
			if err := d.erase(ctx, CmdBlockErase, uint32(cur)); err != nil {
				return err
			}
			cur += BlockSize
			continue
		}
		if err := d.erase(ctx, CmdSectorErase, uint32(cur)); err != nil {
			return err
		}
		cur += SectorSize
	}
	return nil
}
