package flash

import (
	"context"
	"fmt"

	"github.com/mklimuk/norflash/fctx"
)

// Run is a contiguous piece of a write request that fits in a single page.
type Run struct {
	Address uint32
	// Offset is the position of the run inside the source data.
	Offset int
	Length int
}

func (r Run) String() string {
	return fmt.Sprintf("0x%06x+%d", r.Address, r.Length)
}

// Split partitions [address, address+length) at page boundaries: a partial
// run up to the first boundary, then whole pages, then the tail. Runs are in
// ascending address order, non-empty and contiguous.
func Split(address uint32, length int) []Run {
	if length <= 0 {
		return nil
	}
	runs := make([]Run, 0, length/PageSize+2)
	for offset := 0; offset < length; {
		addr := address + uint32(offset)
		n := PageSize - int(addr%PageSize)
		if rem := length - offset; n > rem {
			n = rem
		}
		runs = append(runs, Run{Address: addr, Offset: offset, Length: n})
		offset += n
	}
	return runs
}

// WriteError is returned by Write when a run fails. Runs before it have been
// programmed; runs after it were not attempted.
type WriteError struct {
	Run     Run
	Written int
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("flash: write aborted at run %s after %d bytes: %v", e.Run, e.Written, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Write programs data at address, one page program per run. The target range
// must be erased beforehand.
func (d *Device) Write(ctx context.Context, address uint32, data []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := d.checkRange(address, len(data)); err != nil {
		return err
	}
	ctx = fctx.WithOperation(ctx, "write")
	for _, run := range Split(address, len(data)) {
		if err := d.pageProgram(ctx, run.Address, data[run.Offset:run.Offset+run.Length]); err != nil {
			return &WriteError{Run: run, Written: run.Offset, Err: err}
		}
	}
	return nil
}
