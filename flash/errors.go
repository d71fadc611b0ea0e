package flash

import "fmt"

// FlashError is returned when a write failed, including its fallback if one
// was tried.
type FlashError struct {
	Mode        Mode
	Err         error
	FallbackErr error
}

func (e *FlashError) Error() string {
	if e.FallbackErr != nil {
		return fmt.Sprintf("%s write failed: %v; %s fallback failed: %v", e.Mode, e.Err, e.Mode.other(), e.FallbackErr)
	}
	return fmt.Sprintf("%s write failed: %v", e.Mode, e.Err)
}

func (e *FlashError) Unwrap() error {
	return e.Err
}
