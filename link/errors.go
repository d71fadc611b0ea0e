package link

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNotConnected    = errors.New("target link not connected")
	ErrInvalidArgument = errors.New("invalid argument")
)

// TimeoutError reports a deadline passing while waiting on the target.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %v", e.Op, e.After)
}

func (e *TimeoutError) Timeout() bool { return true }
