package dap

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrProtocol matches every error raised for an unexpected probe response.
	ErrProtocol = errors.New("CMSIS-DAP protocol error")

	eNoProbe       = errors.New("no CMSIS-DAP probe found")
	eNotOpen       = errors.New("probe transport not open")
	eNoHIDEndpoint = errors.New("couldn't find HID input endpoint of probe")
)

// ProtocolError is raised for a response with a wrong opcode, a short
// payload or a failing command status. It is never retried.
type ProtocolError struct {
	Op      string
	Command Command
	Got     []byte
	Msg     string
}

func (e *ProtocolError) Error() string {
	if len(e.Got) > 0 {
		return fmt.Sprintf("%s %s: %s (got % x)", e.Op, e.Command, e.Msg, e.Got)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Command, e.Msg)
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// TransferError is raised when a transfer completes fewer requests than
// asked or ends with a non-OK acknowledge. It is the transient class.
type TransferError struct {
	Op    string
	Count int
	Want  int
	Ack   byte
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s: transfer failed, %d/%d done, ack %#x", e.Op, e.Count, e.Want, e.Ack)
}

func (e *TransferError) Is(target error) bool {
	return target == ErrProtocol
}

// IsTransient reports whether err is worth retrying at a higher level.
func IsTransient(err error) bool {
	var te *TransferError
	return errors.As(err, &te)
}
