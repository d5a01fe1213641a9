package flash

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mklimuk/norflash"
)

var (
	_ io.ReaderAt = &Section{}
	_ io.WriterAt = &Section{}
)

// Section exposes the device as io.ReaderAt and io.WriterAt bound to one
// context. WriteAt programs without erasing.
type Section struct {
	ctx context.Context
	dev *Device
}

func (d *Device) Section(ctx context.Context) *Section {
	return &Section{ctx: ctx, dev: d}
}

func (s *Section) Size() int64 {
	return int64(s.dev.config.Capacity)
}

func (s *Section) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("flash: negative offset")
	}
	if off >= s.Size() {
		return 0, io.EOF
	}
	n := len(p)
	if rem := s.Size() - off; int64(n) > rem {
		n = int(rem)
	}
	if err := s.dev.Read(s.ctx, uint32(off), p[:n]); err != nil {
		return 0, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *Section) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("flash: negative offset")
	}
	if off+int64(len(p)) > s.Size() {
		return 0, fmt.Errorf("flash: write %d bytes at %#x: %w", len(p), off, norflash.ErrOutOfRange)
	}
	err := s.dev.Write(s.ctx, uint32(off), p)
	var werr *WriteError
	if errors.As(err, &werr) {
		return werr.Written, err
	}
	if err != nil {
		return 0, err
	}
	return len(p), nil
}
