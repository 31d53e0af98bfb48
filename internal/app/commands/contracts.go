package commands

import (
	"context"
	"errors"
	"fmt"
)

// Command is a write request; Key selects its handler on the bus.
type Command interface {
	Key() string
}

// Handler runs one command type and returns its typed result.
type Handler[C Command, R any] interface {
	Handle(ctx context.Context, cmd C) (R, error)
}

// Bus is the untyped surface that middleware wraps.
type Bus interface {
	Dispatch(ctx context.Context, cmd Command) (any, error)
}

var (
	ErrHandlerNotFound  = errors.New("commands: handler not found")
	ErrDuplicateHandler = errors.New("commands: handler already registered")
	ErrInvalidCommand   = errors.New("commands: invalid command for handler")
	ErrResultType       = errors.New("commands: result type mismatch")
	ErrNilBus           = errors.New("commands: nil bus")
)

// Dispatch sends cmd through bus and returns the handler result as R. A nil
// result yields the zero R.
func Dispatch[C Command, R any](ctx context.Context, bus Bus, cmd C) (R, error) {
	if bus == nil {
		var zero R
		return zero, ErrNilBus
	}
	res, err := bus.Dispatch(ctx, cmd)
	if err != nil {
		var zero R
		return zero, err
	}
	return resultAs[R](cmd.Key(), res)
}

func resultAs[R any](key string, res any) (R, error) {
	var zero R
	if res == nil {
		return zero, nil
	}
	value, ok := res.(R)
	if !ok {
		return zero, fmt.Errorf("%w: %s returned %T", ErrResultType, key, res)
	}
	return value, nil
}
