package transports

import (
	"io"
	"time"
)

// MockTransport implements the bus transport for testing.
type MockTransport struct {
	ReadData    []byte
	ReadErr     error
	WriteData   []byte
	WriteErr    error
	Closed      bool
	ReadTimeout time.Duration
	Flushed     bool

	// Frames records every Write call separately.
	Frames [][]byte

	// Replies are queued status packets. Each Write moves the next reply
	// into ReadData, like a motor answering a request.
	Replies [][]byte

	// ReadFunc allows custom read behavior for complex tests
	ReadFunc func(p []byte) (int, error)
}

func (m *MockTransport) Read(p []byte) (int, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(p)
	}
	if m.ReadErr != nil {
		return 0, m.ReadErr
	}
	n := copy(p, m.ReadData)
	m.ReadData = m.ReadData[n:]
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (m *MockTransport) Write(p []byte) (int, error) {
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	m.WriteData = append(m.WriteData, p...)
	m.Frames = append(m.Frames, append([]byte(nil), p...))
	if len(m.Replies) > 0 {
		m.ReadData = append(m.ReadData, m.Replies[0]...)
		m.Replies = m.Replies[1:]
	}
	return len(p), nil
}

// LastFrame returns the most recent frame written, or nil.
func (m *MockTransport) LastFrame() []byte {
	if len(m.Frames) == 0 {
		return nil
	}
	return m.Frames[len(m.Frames)-1]
}

func (m *MockTransport) Close() error {
	m.Closed = true
	return nil
}

func (m *MockTransport) SetReadTimeout(timeout time.Duration) error {
	m.ReadTimeout = timeout
	return nil
}

func (m *MockTransport) Flush() error {
	m.Flushed = true
	// Don't clear ReadData - tests need to preserve mock response data
	return nil
}
