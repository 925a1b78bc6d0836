package dynamixel

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrInvalidFrameSize    = errors.New("invalid frame size")
	ErrEnvelopeConsumed    = errors.New("envelope already consumed")
	ErrInvalidRegister     = errors.New("invalid register")
	ErrAddressRange        = errors.New("register address out of range for protocol")
	ErrUnsupportedProtocol = errors.New("unsupported protocol version")
	ErrTimeout             = errors.New("communication timeout")
	ErrNoResponse          = errors.New("no response from motor")
	ErrInvalidPacket       = errors.New("invalid packet format")
	ErrChecksum            = errors.New("checksum mismatch")
	ErrBusClosed           = errors.New("bus is closed")
	ErrInvalidID           = errors.New("invalid motor ID")
	ErrAlert               = errors.New("hardware alert")
)

// CommError represents a communication-level error.
type CommError struct {
	Op  string // Operation that failed (e.g., "read", "write", "sync_write")
	Err error  // Underlying error
}

func (e *CommError) Error() string {
	return fmt.Sprintf("communication error during %s: %v", e.Op, e.Err)
}

func (e *CommError) Unwrap() error {
	return e.Err
}

// MotorError represents an error reported by, or about, a specific motor.
type MotorError struct {
	ID  int    // Motor ID
	Op  string // Operation that failed
	Err error  // Status error from the motor or underlying failure
}

func (e *MotorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("motor %d %s failed: %v", e.ID, e.Op, e.Err)
	}
	return fmt.Sprintf("motor %d %s failed", e.ID, e.Op)
}

func (e *MotorError) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if the error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNoResponse returns true if the error indicates no response was received.
func IsNoResponse(err error) bool {
	return errors.Is(err, ErrNoResponse)
}

// IsInvalidFrameSize reports whether err was caused by an undersized frame.
func IsInvalidFrameSize(err error) bool {
	return errors.Is(err, ErrInvalidFrameSize)
}

// GetMotorError extracts a MotorError from an error chain, if present.
func GetMotorError(err error) (*MotorError, bool) {
	var motorErr *MotorError
	if errors.As(err, &motorErr) {
		return motorErr, true
	}
	return nil, false
}
