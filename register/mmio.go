package register

import (
	"fmt"
	"log/slog"

	"periph.io/x/host/v3"
	"periph.io/x/host/v3/pmem"
)

// DefaultBase is the physical base address of the SPI controller on the
// reference SoC.
const DefaultBase uint64 = 0x10006000

var _ Bank = &MMIO{}

// MMIO is a Bank backed by the physical controller registers mapped through
// /dev/mem.
type MMIO struct {
	view *pmem.View
	regs []uint32
}

func NewMMIO(base uint64) (*MMIO, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("host driver loaded", "driver", driver.String())
	}
	view, err := pmem.Map(base, WindowSize)
	if err != nil {
		return nil, fmt.Errorf("could not map spi controller at %#x: %w", base, err)
	}
	return &MMIO{view: view, regs: view.Uint32()}, nil
}

func (m *MMIO) Read(reg Register) uint32 {
	return m.regs[reg.Index()]
}

func (m *MMIO) Write(reg Register, value uint32) {
	m.regs[reg.Index()] = value
}

func (m *MMIO) Close() error {
	return m.view.Close()
}
