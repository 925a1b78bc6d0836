package dynamixel

import (
	"context"
	"fmt"
	"math"
)

// Motor provides a high-level interface for controlling a single motor.
// Values are converted with the model's factors: angles in degrees,
// velocities in rpm, torque in percent of maximum.
type Motor struct {
	bus   *Bus
	model *Model
	regs  *RegisterMap
}

// NewMotor creates a new Motor instance.
// If model is nil, defaults to AX-12A on a v1 bus and XL430-W250 on v2.
func NewMotor(bus *Bus, id int, model *Model) (*Motor, error) {
	if model == nil {
		model = defaultModel(bus.Codec().Version())
	}
	if err := validateMotorID(id); err != nil {
		return nil, err
	}
	regs, err := model.NewRegisterMap(byte(id))
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", model.Name, err)
	}
	return &Motor{bus: bus, model: model, regs: regs}, nil
}

func defaultModel(v Version) *Model {
	if v == ProtocolV2 {
		return &ModelXL430W250
	}
	return &ModelAX12A
}

// ID returns the motor's ID.
func (m *Motor) ID() int {
	return int(m.regs.ID())
}

// Model returns the motor's model.
func (m *Motor) Model() *Model {
	return m.model
}

// RegisterMap returns the motor's register map.
func (m *Motor) RegisterMap() *RegisterMap {
	return m.regs
}

// Ping verifies communication with the motor and returns the model number.
func (m *Motor) Ping(ctx context.Context) (int, error) {
	return m.bus.Ping(ctx, m.ID())
}

// DetectModel pings the motor and switches to the model it reports.
func (m *Motor) DetectModel(ctx context.Context) error {
	modelNum, err := m.Ping(ctx)
	if err != nil {
		return err
	}

	model, ok := GetModelByNumber(modelNum)
	if !ok {
		return fmt.Errorf("unknown model number: %d", modelNum)
	}
	regs, err := model.NewRegisterMap(m.regs.ID())
	if err != nil {
		return err
	}
	m.model, m.regs = model, regs
	return nil
}

// Position Control

// RawAngle reads the current position in raw steps.
func (m *Motor) RawAngle(ctx context.Context) (int, error) {
	reg := m.regs.CurrentAngleRegister()
	data, err := m.bus.ReadRegister(ctx, m.ID(), reg)
	if err != nil {
		return 0, err
	}
	return decodePosition(data), nil
}

// Angle reads the current angle in degrees.
func (m *Motor) Angle(ctx context.Context) (float64, error) {
	raw, err := m.RawAngle(ctx)
	if err != nil {
		return 0, err
	}
	return float64(raw) * m.regs.Conversion().ValueToAngle, nil
}

// SetRawGoalAngle commands the motor to move to a position in raw steps.
func (m *Motor) SetRawGoalAngle(ctx context.Context, raw int) error {
	reg := m.regs.GoalAngleRegister()
	return m.bus.WriteRegister(ctx, m.ID(), reg, EncodeValue(uint32(int32(raw)), int(reg.Length())))
}

// SetGoalAngle commands the motor to move to an angle in degrees.
func (m *Motor) SetGoalAngle(ctx context.Context, degrees float64) error {
	raw, err := toRaw(degrees, m.regs.Conversion().ValueToAngle)
	if err != nil {
		return err
	}
	return m.SetRawGoalAngle(ctx, raw)
}

// Velocity Control

// Velocity reads the current velocity in rpm.
// Negative values indicate the reverse direction.
func (m *Motor) Velocity(ctx context.Context) (float64, error) {
	raw, err := m.readSigned(ctx, m.regs.CurrentVelocityRegister())
	if err != nil {
		return 0, err
	}
	return float64(raw) * m.regs.Conversion().ValueToVelocity, nil
}

// SetGoalVelocity sets the goal velocity in rpm.
func (m *Motor) SetGoalVelocity(ctx context.Context, rpm float64) error {
	raw, err := toRaw(rpm, m.regs.Conversion().ValueToVelocity)
	if err != nil {
		return err
	}
	reg := m.regs.GoalVelocityRegister()
	return m.bus.WriteRegister(ctx, m.ID(), reg, m.encodeSigned(raw, reg))
}

// Torque Control

// Torque reads the present load in percent of maximum torque.
// Negative values indicate load in the reverse direction.
func (m *Motor) Torque(ctx context.Context) (float64, error) {
	raw, err := m.readSigned(ctx, m.regs.CurrentTorqueRegister())
	if err != nil {
		return 0, err
	}
	return float64(raw) * m.regs.Conversion().ValueToTorque, nil
}

// TorqueEnabled returns whether torque is enabled.
func (m *Motor) TorqueEnabled(ctx context.Context) (bool, error) {
	data, err := m.bus.ReadRegister(ctx, m.ID(), m.regs.TorqueEnableRegister())
	if err != nil {
		return false, err
	}
	return data[0] != 0, nil
}

// SetTorqueEnabled enables or disables torque.
func (m *Motor) SetTorqueEnabled(ctx context.Context, enabled bool) error {
	return m.bus.WriteRegister(ctx, m.ID(), m.regs.TorqueEnableRegister(), []byte{boolByte(enabled)})
}

// Enable is a convenience alias for SetTorqueEnabled(true).
func (m *Motor) Enable(ctx context.Context) error {
	return m.SetTorqueEnabled(ctx, true)
}

// Disable is a convenience alias for SetTorqueEnabled(false).
func (m *Motor) Disable(ctx context.Context) error {
	return m.SetTorqueEnabled(ctx, false)
}

// SetLED switches the motor LED.
func (m *Motor) SetLED(ctx context.Context, on bool) error {
	return m.bus.WriteRegister(ctx, m.ID(), m.regs.LEDRegister(), []byte{boolByte(on)})
}

// Configuration

// SetID changes the motor's ID.
// The register map is updated with the new ID on success.
func (m *Motor) SetID(ctx context.Context, newID int) error {
	if err := validateMotorID(newID); err != nil {
		return err
	}

	// Safety: disable torque first
	if err := m.SetTorqueEnabled(ctx, false); err != nil {
		return fmt.Errorf("failed to disable torque: %w", err)
	}

	if err := m.bus.WriteRegister(ctx, m.ID(), m.regs.IDRegister(), []byte{byte(newID)}); err != nil {
		return err
	}

	return m.regs.SetID(byte(newID))
}

// ReadRegister reads a named register.
func (m *Motor) ReadRegister(ctx context.Context, name string) ([]byte, error) {
	reg, ok := m.model.GetRegister(name)
	if !ok {
		return nil, fmt.Errorf("unknown register: %s", name)
	}
	return m.bus.ReadRegister(ctx, m.ID(), reg)
}

// WriteRegister writes to a named register.
func (m *Motor) WriteRegister(ctx context.Context, name string, data []byte) error {
	reg, ok := m.model.GetRegister(name)
	if !ok {
		return fmt.Errorf("unknown register: %s", name)
	}
	if reg == RegModelNumber {
		return fmt.Errorf("register %s is read-only", name)
	}
	return m.bus.WriteRegister(ctx, m.ID(), reg, data)
}

func (m *Motor) readSigned(ctx context.Context, reg *Register) (int, error) {
	data, err := m.bus.ReadRegister(ctx, m.ID(), reg)
	if err != nil {
		return 0, err
	}
	raw := DecodeValue(data)
	if m.model.SignBit > 0 {
		return decodeSignMagnitude(int(raw), m.model.SignBit), nil
	}
	return signExtend(raw, len(data)), nil
}

func (m *Motor) encodeSigned(value int, reg *Register) []byte {
	if m.model.SignBit > 0 {
		return EncodeValue(uint32(encodeSignMagnitude(value, m.model.SignBit)), int(reg.Length()))
	}
	return EncodeValue(uint32(int32(value)), int(reg.Length()))
}

// decodePosition treats 4-byte positions as signed (multi-turn) and shorter
// ones as unsigned.
func decodePosition(data []byte) int {
	raw := DecodeValue(data)
	if len(data) == 4 {
		return int(int32(raw))
	}
	return int(raw)
}

func toRaw(value, factor float64) (int, error) {
	if factor == 0 {
		return 0, fmt.Errorf("no conversion factor for value %v", value)
	}
	return int(math.Round(value / factor)), nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Sign helpers

func signExtend(raw uint32, n int) int {
	switch n {
	case 1:
		return int(int8(raw))
	case 2:
		return int(int16(raw))
	default:
		return int(int32(raw))
	}
}

func decodeSignMagnitude(value, signBit int) int {
	if signBit == 0 {
		return value
	}

	signMask := 1 << signBit
	if value&signMask != 0 {
		return -(value & (signMask - 1))
	}
	return value
}

func encodeSignMagnitude(value, signBit int) int {
	if signBit == 0 {
		return value
	}

	if value < 0 {
		signMask := 1 << signBit
		return (-value) | signMask
	}
	return value
}
