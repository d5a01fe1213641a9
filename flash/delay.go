package flash

import (
	"context"
	"time"

	"github.com/mklimuk/norflash"
)

var _ norflash.Delayer = SleepDelayer{}

// SleepDelayer blocks on a timer and gives up early when the context is done.
type SleepDelayer struct{}

func (SleepDelayer) Delay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DelayMilliseconds blocks for ms milliseconds using d.
func DelayMilliseconds(ctx context.Context, d norflash.Delayer, ms int) error {
	return d.Delay(ctx, time.Duration(ms)*time.Millisecond)
}
