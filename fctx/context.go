// Package fctx carries per-call flags through context.Context.
package fctx

import "context"

type ctxIndex int

const (
	ctxIndexVerbose ctxIndex = iota
	ctxIndexOperation
)

// IsVerbose reports whether frame level tracing was requested for ctx.
func IsVerbose(ctx context.Context) bool {
	val := ctx.Value(ctxIndexVerbose)
	if val == nil {
		return false
	}
	return val.(bool)
}

func SetVerbose(ctx context.Context, value bool) context.Context {
	return context.WithValue(ctx, ctxIndexVerbose, value)
}

// Operation returns the name of the high level operation ctx belongs to.
func Operation(ctx context.Context) string {
	val := ctx.Value(ctxIndexOperation)
	if val == nil {
		return ""
	}
	return val.(string)
}

func WithOperation(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ctxIndexOperation, name)
}
