package console

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/norflash"
)

// Exit codes.
const (
	ExitFailure  = 1
	ExitUsage    = 2
	ExitTimeout  = 3
	ExitBusFault = 4
)

func Exit(code int, msg string, args ...interface{}) cli.ExitCoder {
	return cli.Exit(fmt.Sprintf(msg, args...), code)
}

// ExitErr picks the exit code from the error kind.
func ExitErr(msg string, err error) cli.ExitCoder {
	code := ExitFailure
	switch {
	case errors.Is(err, norflash.ErrPollTimeout):
		code = ExitTimeout
	case errors.Is(err, norflash.ErrFIFOFull):
		code = ExitBusFault
	case errors.Is(err, norflash.ErrOutOfRange),
		errors.Is(err, norflash.ErrOversizePageWrite),
		errors.Is(err, norflash.ErrPageBoundary):
		code = ExitUsage
	}
	return Exit(code, "%s: %s", msg, Red(err))
}
