package forwarder

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrTransport matches every *TransportError via errors.Is.
	ErrTransport = errors.New("backend transport failure")

	// ErrRequestBody is returned when the inbound request body cannot be read.
	ErrRequestBody = errors.New("cannot read request body")
)

// TransportError reports that the backend could not be reached or did not
// answer in time.
type TransportError struct {
	Backend string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("forward to %s: %v", e.Backend, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// Timeout reports whether the failure was caused by the forward timeout.
func (e *TransportError) Timeout() bool {
	var netErr net.Error
	if errors.As(e.Err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// Canceled reports whether the inbound request was abandoned by the client.
func (e *TransportError) Canceled() bool {
	return errors.Is(e.Err, context.Canceled)
}
