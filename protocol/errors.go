package protocol

import "fmt"

// ParseError reports a frame that carried the event marker but could not be
// decoded. One bad frame never aborts the stream; callers log the error and
// continue with the next frame.
type ParseError struct {
	Cause   error
	Message string
	Frame   string
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("protocol error: %s", e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}
