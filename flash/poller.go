package flash

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mklimuk/norflash"
	"github.com/mklimuk/norflash/fctx"
)

type pollState int

const (
	pollWait pollState = iota
	pollDone
)

// waitReady reads the status register until the write-in-progress bit clears.
// It must follow every program, erase and status write.
func (d *Device) waitReady(ctx context.Context) error {
	state := pollWait
	polls := 0
	for state == pollWait {
		sr, err := d.readStatus(ctx)
		if err != nil {
			return fmt.Errorf("poll status: %w", err)
		}
		polls++
		if !sr.Busy() {
			state = pollDone
			continue
		}
		if d.config.MaxPolls > 0 && polls >= d.config.MaxPolls {
			return fmt.Errorf("write in progress after %d polls: %w", polls, norflash.ErrPollTimeout)
		}
		if d.config.PollInterval > 0 {
			if err := d.config.Delayer.Delay(ctx, d.config.PollInterval); err != nil {
				return fmt.Errorf("poll status: %w", err)
			}
		} else if err := ctx.Err(); err != nil {
			return fmt.Errorf("poll status: %w", err)
		}
	}
	if fctx.IsVerbose(ctx) {
		slog.Debug("device ready", "polls", polls, "op", fctx.Operation(ctx))
	}
	return nil
}
