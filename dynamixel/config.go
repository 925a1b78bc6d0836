package dynamixel

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
)

// MotorSpec describes one motor in a setup file.
type MotorSpec struct {
	ID    int    `json:"id"`    // Motor ID on the bus
	Model string `json:"model"` // Registered model name, e.g. "xl430-w250"
}

// Setup describes the motors attached to one bus. It is usually loaded
// from a JSON file:
//
//	{
//	    "protocol": 2,
//	    "motors": {
//	        "pan":  {"id": 1, "model": "xl430-w250"},
//	        "tilt": {"id": 2, "model": "xl430-w250"}
//	    }
//	}
type Setup struct {
	Protocol Version              `json:"protocol"`
	Motors   map[string]MotorSpec `json:"motors"`
}

// Validate checks protocol, IDs and model names.
func (s *Setup) Validate() error {
	if !s.Protocol.Valid() {
		return fmt.Errorf("%w: %d", ErrUnsupportedProtocol, int(s.Protocol))
	}

	var errs []error
	seen := make(map[int]string, len(s.Motors))
	for _, name := range s.names() {
		spec := s.Motors[name]
		if err := validateMotorID(spec.ID); err != nil {
			errs = append(errs, fmt.Errorf("motor %q: %w", name, err))
			continue
		}
		if other, dup := seen[spec.ID]; dup {
			errs = append(errs, fmt.Errorf("motor %q: ID %d already used by %q", name, spec.ID, other))
		}
		seen[spec.ID] = name

		if _, ok := GetModel(spec.Model); !ok {
			errs = append(errs, fmt.Errorf("motor %q: unknown model %q", name, spec.Model))
		}
	}
	return errors.Join(errs...)
}

// Build creates a Motor for every entry. The bus must speak the setup's
// protocol.
func (s *Setup) Build(bus *Bus) (map[string]*Motor, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if v := bus.Codec().Version(); v != s.Protocol {
		return nil, fmt.Errorf("%w: setup is %s, bus is %s", ErrUnsupportedProtocol, s.Protocol, v)
	}

	motors := make(map[string]*Motor, len(s.Motors))
	for name, spec := range s.Motors {
		model, _ := GetModel(spec.Model)
		m, err := NewMotor(bus, spec.ID, model)
		if err != nil {
			return nil, fmt.Errorf("motor %q: %w", name, err)
		}
		motors[name] = m
	}
	return motors, nil
}

// Group builds the motors and returns them as a group, ordered by name.
func (s *Setup) Group(bus *Bus) (*MotorGroup, error) {
	motors, err := s.Build(bus)
	if err != nil {
		return nil, err
	}
	ordered := make([]*Motor, 0, len(motors))
	for _, name := range s.names() {
		ordered = append(ordered, motors[name])
	}
	return NewMotorGroup(bus, ordered...), nil
}

func (s *Setup) names() []string {
	names := make([]string, 0, len(s.Motors))
	for name := range s.Motors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// LoadSetup loads a setup from a JSON file.
func LoadSetup(filename string) (*Setup, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read setup file: %w", err)
	}

	var s Setup
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse setup JSON: %w", err)
	}
	if s.Protocol == 0 {
		s.Protocol = ProtocolV1
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid setup: %w", err)
	}
	return &s, nil
}

// SaveSetup writes a setup to a JSON file.
func SaveSetup(filename string, s *Setup) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid setup: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal setup: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write setup file: %w", err)
	}
	return nil
}
