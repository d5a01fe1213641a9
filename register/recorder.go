package register

import (
	"fmt"
	"log/slog"
	"sync"
)

type Op byte

const (
	OpRead  Op = 'R'
	OpWrite Op = 'W'
)

// Access is one recorded register access.
type Access struct {
	Op    Op
	Reg   Register
	Value uint32
}

func (a Access) String() string {
	return fmt.Sprintf("%c %s %#x", a.Op, a.Reg, a.Value)
}

var _ Bank = &Recorder{}

// Recorder wraps a Bank and keeps a log of every access. With Trace set,
// accesses are also logged at debug level.
type Recorder struct {
	mx       sync.Mutex
	bank     Bank
	accesses []Access
	Trace    bool
}

func NewRecorder(bank Bank) *Recorder {
	return &Recorder{bank: bank}
}

func (r *Recorder) Read(reg Register) uint32 {
	v := r.bank.Read(reg)
	r.record(Access{Op: OpRead, Reg: reg, Value: v})
	return v
}

func (r *Recorder) Write(reg Register, value uint32) {
	r.record(Access{Op: OpWrite, Reg: reg, Value: value})
	r.bank.Write(reg, value)
}

func (r *Recorder) record(a Access) {
	if r.Trace {
		slog.Debug("register access", "op", string(a.Op), "reg", a.Reg.String(), "value", fmt.Sprintf("%#x", a.Value))
	}
	r.mx.Lock()
	r.accesses = append(r.accesses, a)
	r.mx.Unlock()
}

// Accesses returns a copy of the recorded log.
func (r *Recorder) Accesses() []Access {
	r.mx.Lock()
	defer r.mx.Unlock()
	out := make([]Access, len(r.accesses))
	copy(out, r.accesses)
	return out
}

// Writes returns only the recorded writes, optionally filtered by register.
func (r *Recorder) Writes(regs ...Register) []Access {
	var out []Access
	for _, a := range r.Accesses() {
		if a.Op != OpWrite {
			continue
		}
		if len(regs) == 0 || contains(regs, a.Reg) {
			out = append(out, a)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mx.Lock()
	r.accesses = nil
	r.mx.Unlock()
}

func contains(regs []Register, reg Register) bool {
	for _, r := range regs {
		if r == reg {
			return true
		}
	}
	return false
}
