package deriv

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConnection matches every *ConnectionError.
	ErrConnection = errors.New("deriv: connection error")
	// ErrMalformedMessage marks an inbound frame that could not be decoded.
	ErrMalformedMessage = errors.New("deriv: malformed message")
	ErrNotConnected     = errors.New("deriv: not connected")
)

// ConnectionError is a dial, auth or I/O failure on the stream. It ends the
// current connection and triggers a reconnect.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("deriv %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// APIError is the error envelope of a Deriv response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	MsgType string `json:"-"`
}

func (e *APIError) Error() string {
	if e.MsgType != "" {
		return fmt.Sprintf("deriv api %s: %s (%s)", e.MsgType, e.Message, e.Code)
	}
	return fmt.Sprintf("deriv api: %s (%s)", e.Message, e.Code)
}

func malformed(reason string, args ...interface{}) error {
	return errors.Wrapf(ErrMalformedMessage, reason, args...)
}
