//go:build baremetal

package transports

import (
	"errors"
	"fmt"
	"machine"
	"time"
)

// MCUTransport drives the bus from a microcontroller UART under TinyGo.
type MCUTransport struct {
	*machine.UART
	timeout time.Duration
}

// SerialConfig holds configuration for a UART. Port is the UART number.
type SerialConfig struct {
	Port     string
	BaudRate int
	Timeout  time.Duration
}

var currentTransport MCUTransport

// OpenSerial configures a UART with the given configuration.
func OpenSerial(cfg SerialConfig) (*MCUTransport, error) {
	if cfg.Port == "" {
		return nil, errors.New("serial port path is required")
	}

	if cfg.BaudRate == 0 {
		cfg.BaudRate = 1000000
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}

	switch cfg.Port {
	case "0":
		currentTransport = MCUTransport{UART: machine.UART0}
	case "1":
		currentTransport = MCUTransport{UART: machine.UART1}
	default:
		return nil, fmt.Errorf("unknown UART %s", cfg.Port)
	}

	currentTransport.SetBaudRate(uint32(cfg.BaudRate))
	currentTransport.timeout = cfg.Timeout

	return &currentTransport, nil
}

// SetReadTimeout records the timeout. UART reads never block, so the bus
// polls until its own deadline.
func (t *MCUTransport) SetReadTimeout(timeout time.Duration) error {
	t.timeout = timeout
	return nil
}

func (t *MCUTransport) Close() error {
	return nil
}

// Flush drains the UART receive buffer.
func (t *MCUTransport) Flush() error {
	for t.Buffered() > 0 {
		if _, err := t.ReadByte(); err != nil {
			return err
		}
	}
	return nil
}
