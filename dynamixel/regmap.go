package dynamixel

import (
	"errors"
	"fmt"
)

// Registers lists the control table entries a motor driver needs. The
// descriptors are borrowed from the model and never copied.
type Registers struct {
	ID              *Register
	LED             *Register
	TorqueEnable    *Register
	CurrentTorque   *Register
	GoalAngle       *Register
	CurrentAngle    *Register
	GoalVelocity    *Register
	CurrentVelocity *Register
}

// Validate checks that every descriptor is set.
func (r Registers) Validate() error {
	var errs []error
	for _, f := range []struct {
		name string
		reg  *Register
	}{
		{"id", r.ID},
		{"led", r.LED},
		{"torque enable", r.TorqueEnable},
		{"current torque", r.CurrentTorque},
		{"goal angle", r.GoalAngle},
		{"current angle", r.CurrentAngle},
		{"goal velocity", r.GoalVelocity},
		{"current velocity", r.CurrentVelocity},
	} {
		if f.reg == nil {
			errs = append(errs, fmt.Errorf("%w: %s register missing", ErrInvalidRegister, f.name))
		}
	}
	return errors.Join(errs...)
}

// Conversion holds raw-value-to-unit factors: physical = raw * factor.
type Conversion struct {
	ValueToTorque   float64
	ValueToAngle    float64
	ValueToVelocity float64
}

// RegisterMap binds a model's registers and conversion factors to one
// motor. The motor ID is the only per-motor state and changes only through
// SetID. A RegisterMap belongs to the goroutine driving the bus; it is not
// safe for concurrent use.
type RegisterMap struct {
	id   byte
	regs Registers
	conv Conversion
}

// NewRegisterMap creates a register map for motor id.
func NewRegisterMap(id byte, regs Registers, conv Conversion) (*RegisterMap, error) {
	if err := validateMotorID(int(id)); err != nil {
		return nil, err
	}
	if err := regs.Validate(); err != nil {
		return nil, err
	}
	return &RegisterMap{id: id, regs: regs, conv: conv}, nil
}

// ID returns the motor ID.
func (m *RegisterMap) ID() byte { return m.id }

// SetID records a new motor ID. It does not talk to the motor; see
// Motor.SetID for that.
func (m *RegisterMap) SetID(id byte) error {
	if err := validateMotorID(int(id)); err != nil {
		return err
	}
	m.id = id
	return nil
}

func (m *RegisterMap) IDRegister() *Register              { return m.regs.ID }
func (m *RegisterMap) LEDRegister() *Register             { return m.regs.LED }
func (m *RegisterMap) TorqueEnableRegister() *Register    { return m.regs.TorqueEnable }
func (m *RegisterMap) CurrentTorqueRegister() *Register   { return m.regs.CurrentTorque }
func (m *RegisterMap) GoalAngleRegister() *Register       { return m.regs.GoalAngle }
func (m *RegisterMap) CurrentAngleRegister() *Register    { return m.regs.CurrentAngle }
func (m *RegisterMap) GoalVelocityRegister() *Register    { return m.regs.GoalVelocity }
func (m *RegisterMap) CurrentVelocityRegister() *Register { return m.regs.CurrentVelocity }

// Conversion returns the conversion factors.
func (m *RegisterMap) Conversion() Conversion { return m.conv }

func validateMotorID(id int) error {
	if id < 0 || id > MaxMotorID {
		return fmt.Errorf("%w: %d (valid range: 0-%d)", ErrInvalidID, id, MaxMotorID)
	}
	return nil
}
