package location

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrorCode is the stable code attached to every device-level failure.
type ErrorCode int

const (
	CodePermissionDenied    ErrorCode = 1
	CodePositionUnavailable ErrorCode = 2
	CodeTimeout             ErrorCode = 3
	CodeDeviceUnavailable   ErrorCode = 4
)

// String returns the machine-readable name of the code.
func (c ErrorCode) String() string {
	switch c {
	case CodePermissionDenied:
		return "permission_denied"
	case CodePositionUnavailable:
		return "position_unavailable"
	case CodeTimeout:
		return "timeout"
	case CodeDeviceUnavailable:
		return "device_unavailable"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// Message returns a human-readable explanation suitable for display.
func (c ErrorCode) Message() string {
	switch c {
	case CodePermissionDenied:
		return "Location access was denied. Enable location permissions to track your position."
	case CodePositionUnavailable:
		return "Your position is currently unavailable. Waiting for a GPS signal."
	case CodeTimeout:
		return "Getting your position took too long. Retrying with the next sample."
	case CodeDeviceUnavailable:
		return "No location device is available on this system."
	default:
		return "An unknown location error occurred."
	}
}

// PositionError is a device-level failure with a stable code.
type PositionError struct {
	Code ErrorCode
	Err  error
}

func (e *PositionError) Error() string {
	if e.Err == nil {
		return "location: " + e.Code.String()
	}
	return fmt.Sprintf("location: %s: %v", e.Code, e.Err)
}

func (e *PositionError) Unwrap() error {
	return e.Err
}

// Is matches any PositionError sentinel carrying the same code.
func (e *PositionError) Is(target error) bool {
	t, ok := target.(*PositionError)
	if !ok {
		return false
	}
	return t.Err == nil && t.Code == e.Code
}

var (
	ErrPermissionDenied    = &PositionError{Code: CodePermissionDenied}
	ErrPositionUnavailable = &PositionError{Code: CodePositionUnavailable}
	ErrTimeout             = &PositionError{Code: CodeTimeout}
	ErrDeviceUnavailable   = &PositionError{Code: CodeDeviceUnavailable}
)

// CodeOf extracts the error code from err, reporting false for non-device errors.
func CodeOf(err error) (ErrorCode, bool) {
	var pe *PositionError
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return 0, false
}

func newPositionError(code ErrorCode, err error) *PositionError {
	return &PositionError{Code: code, Err: err}
}

// classify maps a raw provider error onto the device error taxonomy.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := CodeOf(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return newPositionError(CodeTimeout, err)
	case errors.Is(err, os.ErrPermission):
		return newPositionError(CodePermissionDenied, err)
	case errors.Is(err, os.ErrNotExist):
		return newPositionError(CodeDeviceUnavailable, err)
	default:
		return newPositionError(CodePositionUnavailable, err)
	}
}
