package flash

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mklimuk/norflash/fctx"
)

// Mismatch is a byte read back different from what was expected.
type Mismatch struct {
	Address uint32
	Want    byte
	Got     byte
}

func (m Mismatch) String() string {
	return fmt.Sprintf("0x%06x: want %#02x got %#02x", m.Address, m.Want, m.Got)
}

// Report counts compared bytes and mismatches.
type Report struct {
	Total      int
	Errors     int
	Mismatches []Mismatch
}

func (r Report) OK() bool {
	return r.Errors == 0
}

func (r *Report) Add(o Report) {
	r.Total += o.Total
	r.Errors += o.Errors
	r.Mismatches = append(r.Mismatches, o.Mismatches...)
}

func (r Report) String() string {
	return fmt.Sprintf("tot: %d, err: %d", r.Total, r.Errors)
}

// Verify reads len(want) bytes at addr and compares them with want.
func (d *Device) Verify(ctx context.Context, addr uint32, want []byte) (Report, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.verify(ctx, addr, want)
}

func (d *Device) verify(ctx context.Context, addr uint32, want []byte) (Report, error) {
	got := make([]byte, len(want))
	if err := d.readData(ctx, addr, got); err != nil {
		return Report{}, err
	}
	r := Report{Total: len(want)}
	for i := range want {
		if want[i] != got[i] {
			m := Mismatch{Address: addr + uint32(i), Want: want[i], Got: got[i]}
			slog.Debug("mismatch", "address", fmt.Sprintf("0x%06x", m.Address), "want", m.Want, "got", m.Got)
			r.Errors++
			r.Mismatches = append(r.Mismatches, m)
		}
	}
	return r, nil
}

type SweepOpts struct {
	// Sectors is the number of 4 KiB sectors erased from address 0.
	Sectors int
	// Pages is the number of consecutive pages programmed and read back.
	Pages int
	// Pattern is programmed at the start of every page.
	Pattern []byte
	// Progress is called after each page.
	Progress func(page int, addr uint32, r Report)
}

type SweepOpt func(*SweepOpts)

func WithSweepSize(sectors, pages int) SweepOpt {
	return func(o *SweepOpts) {
		o.Sectors = sectors
		o.Pages = pages
	}
}

func WithPattern(pattern []byte) SweepOpt {
	return func(o *SweepOpts) {
		o.Pattern = pattern
	}
}

func WithProgress(fn func(page int, addr uint32, r Report)) SweepOpt {
	return func(o *SweepOpts) {
		o.Progress = fn
	}
}

// Sweep erases a run of sectors, then programs the pattern into each page and
// reads it back. The returned report covers every page checked.
func (d *Device) Sweep(ctx context.Context, opts ...SweepOpt) (Report, error) {
	config := SweepOpts{
		Sectors: 70,
		Pages:   1024,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Pattern == nil {
		config.Pattern = make([]byte, 20)
		for i := range config.Pattern {
			config.Pattern[i] = byte(i)
		}
	}
	if len(config.Pattern) > PageSize {
		config.Pattern = config.Pattern[:PageSize]
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	ctx = fctx.WithOperation(ctx, "sweep")
	for i := 0; i < config.Sectors; i++ {
		if err := d.erase(ctx, CmdSectorErase, uint32(i*SectorSize)); err != nil {
			return Report{}, err
		}
	}
	slog.Debug("sector erase done", "sectors", config.Sectors)
	var total Report
	for i := 0; i < config.Pages; i++ {
		addr := uint32(i * PageSize)
		if err := d.pageProgram(ctx, addr, config.Pattern); err != nil {
			return total, err
		}
		r, err := d.verify(ctx, addr, config.Pattern)
		if err != nil {
			return total, err
		}
		total.Add(r)
		if config.Progress != nil {
			config.Progress(i, addr, total)
		}
	}
	return total, nil
}
