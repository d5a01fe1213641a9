package flash

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/mklimuk/norflash"
)

// MockTransactor is a mock implementation of norflash.Transactor using testify/mock
type MockTransactor struct {
	mock.Mock
	concurrentOps int64 // tracks concurrent operations
	maxConcurrent int64 // maximum concurrent operations observed
	mu            sync.Mutex
}

func (m *MockTransactor) enter() {
	m.mu.Lock()
	concurrent := atomic.AddInt64(&m.concurrentOps, 1)
	if concurrent > atomic.LoadInt64(&m.maxConcurrent) {
		atomic.StoreInt64(&m.maxConcurrent, concurrent)
	}
	m.mu.Unlock()
}

func (m *MockTransactor) leave() {
	m.mu.Lock()
	atomic.AddInt64(&m.concurrentOps, -1)
	m.mu.Unlock()
}

func (m *MockTransactor) Send(ctx context.Context, frame norflash.Frame) error {
	m.enter()
	defer m.leave()
	args := m.Called(ctx, frame)
	return args.Error(0)
}

func (m *MockTransactor) Receive(ctx context.Context, frame norflash.Frame, buf []byte) error {
	m.enter()
	defer m.leave()
	args := m.Called(ctx, frame, buf)
	if args.Get(0) != nil {
		// Copy mock data to buffer if provided
		if data, ok := args.Get(0).([]byte); ok && len(data) <= len(buf) {
			copy(buf, data)
		}
	}
	return args.Error(1)
}

// countingDelayer records requested delays without sleeping.
type countingDelayer struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (d *countingDelayer) Delay(ctx context.Context, duration time.Duration) error {
	d.mu.Lock()
	d.delays = append(d.delays, duration)
	d.mu.Unlock()
	return ctx.Err()
}

func (d *countingDelayer) calls() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Duration(nil), d.delays...)
}

// statusReady makes every status read report an idle device.
func statusReady(m *MockTransactor) {
	m.On("Receive", mock.Anything, norflash.Cmd(CmdReadStatus), mock.Anything).Return([]byte{0x00}, nil)
}
