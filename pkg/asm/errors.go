package asm

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedLabel       = errors.New("malformed label")
	ErrMalformedInstruction = errors.New("malformed instruction")
	ErrUnknownMnemonic      = errors.New("unknown mnemonic")
	ErrAddressRange         = errors.New("address out of range")
	ErrProgramTooLarge      = errors.New("program too large")
)

// LineError ties a failure to the input line that caused it.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%v on line %d: %s", e.Err, e.Line, e.Text)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

func lineErr(p parsedLine, err error) error {
	return &LineError{Line: p.lineNo, Text: p.raw, Err: err}
}
