// Package command maps operator command lines to amplifier operations.
package command

import (
	"fmt"
)

// Code classifies a command result.
type Code int

const (
	Ok Code = iota
	UnknownCommand
	InvalidArguments
	ExecutionError
)

func (c Code) String() string {
	switch c {
	case Ok:
		return "ok"
	case UnknownCommand:
		return "unknown_command"
	case InvalidArguments:
		return "invalid_arguments"
	case ExecutionError:
		return "execution_error"
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c Code) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Code) UnmarshalText(b []byte) error {
	for _, v := range []Code{Ok, UnknownCommand, InvalidArguments, ExecutionError} {
		if v.String() == string(b) {
			*c = v
			return nil
		}
	}
	return fmt.Errorf("unknown result code %q", b)
}

// Result is the reply to a command.
type Result struct {
	Code    Code   `json:"code"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// OK returns a successful result.
func OK(msg string) Result { return Result{Code: Ok, Message: msg} }

// OKData returns a successful result carrying data.
func OKData(msg string, data any) Result { return Result{Code: Ok, Message: msg, Data: data} }

// Invalid returns an InvalidArguments result.
func Invalid(format string, args ...any) Result {
	return Result{Code: InvalidArguments, Message: fmt.Sprintf(format, args...)}
}

// Failed returns an ExecutionError result for err.
func Failed(err error) Result {
	return Result{Code: ExecutionError, Message: err.Error()}
}
