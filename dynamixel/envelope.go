package dynamixel

import "fmt"

// EnvelopeState is the lifecycle state of an Envelope.
type EnvelopeState int

const (
	// Pending means the envelope still owns its frame.
	Pending EnvelopeState = iota
	// Consumed means the frame has been released; there is no way back.
	Consumed
)

func (s EnvelopeState) String() string {
	if s == Consumed {
		return "consumed"
	}
	return "pending"
}

// Envelope is a ready-to-send instruction frame together with the size of
// the status packet expected back. A zero response size means the motor
// will not answer.
//
// An envelope owns its frame. It is handed to the transport side (usually
// Bus.Transact), which releases it exactly once after the send/receive
// cycle. Envelopes are always passed by pointer; use Clone for a copy.
type Envelope struct {
	version      Version
	frame        []byte
	size         int
	responseSize int
	state        EnvelopeState
}

// NewEnvelope wraps frame for a request that expects no status response.
// Ownership of frame passes to the envelope; the caller must not modify it
// afterwards.
func NewEnvelope(v Version, frame []byte) (*Envelope, error) {
	return newEnvelope(v, frame, 0)
}

// NewEnvelopeWithResponse wraps frame for a request whose status packet is
// responseSize bytes long. responseSize must be positive.
func NewEnvelopeWithResponse(v Version, frame []byte, responseSize int) (*Envelope, error) {
	if responseSize <= 0 {
		return nil, fmt.Errorf("%w: response size %d must be positive", ErrInvalidFrameSize, responseSize)
	}
	return newEnvelope(v, frame, responseSize)
}

func newEnvelope(v Version, frame []byte, responseSize int) (*Envelope, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedProtocol, int(v))
	}
	if minLen := v.MinFrameLength(); len(frame) < minLen {
		return nil, fmt.Errorf("%w: %d byte %s frame, minimum is %d", ErrInvalidFrameSize, len(frame), v, minLen)
	}
	if responseSize > 0 {
		if minLen := v.MinResponseFrameLength(); responseSize < minLen {
			return nil, fmt.Errorf("%w: %d byte %s response, minimum is %d", ErrInvalidFrameSize, responseSize, v, minLen)
		}
	}
	return &Envelope{
		version:      v,
		frame:        frame,
		size:         len(frame),
		responseSize: responseSize,
	}, nil
}

// Version returns the protocol the frame was built for.
func (e *Envelope) Version() Version {
	return e.version
}

// Bytes returns the frame, or nil once the envelope is consumed. The slice
// is owned by the envelope and must not be retained past Release.
func (e *Envelope) Bytes() []byte {
	return e.frame
}

// Size returns the frame length in bytes. It stays valid after Release.
func (e *Envelope) Size() int {
	return e.size
}

// ResponseSize returns the expected status packet length, 0 if none.
func (e *Envelope) ResponseSize() int {
	return e.responseSize
}

// ExpectsResponse reports whether a status packet should be read.
func (e *Envelope) ExpectsResponse() bool {
	return e.responseSize > 0
}

// State returns the lifecycle state.
func (e *Envelope) State() EnvelopeState {
	return e.state
}

// Release drops the frame and marks the envelope consumed. Releasing twice
// returns ErrEnvelopeConsumed.
func (e *Envelope) Release() error {
	if e.state == Consumed {
		return ErrEnvelopeConsumed
	}
	e.frame = nil
	e.state = Consumed
	return nil
}

// Clone returns a pending envelope with its own copy of the frame.
func (e *Envelope) Clone() (*Envelope, error) {
	if e.state == Consumed {
		return nil, ErrEnvelopeConsumed
	}
	frame := make([]byte, len(e.frame))
	copy(frame, e.frame)
	return &Envelope{
		version:      e.version,
		frame:        frame,
		size:         e.size,
		responseSize: e.responseSize,
	}, nil
}

func (e *Envelope) String() string {
	return fmt.Sprintf("%s envelope (%d bytes, response %d, %s)", e.version, e.size, e.responseSize, e.state)
}
