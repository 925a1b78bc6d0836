package dynamixel

import (
	"fmt"
	"slices"
)

// Register locates a value in a motor's control table. It is immutable:
// descriptors are created once per model and shared by pointer between all
// motors of that model.
type Register struct {
	address [2]byte // little-endian
	length  byte
}

// NewRegister creates a register descriptor from the address bytes (low
// byte first) and the value length in bytes.
func NewRegister(addressLow, addressHigh, length byte) (*Register, error) {
	if length == 0 {
		return nil, fmt.Errorf("%w: length must be at least 1", ErrInvalidRegister)
	}
	return &Register{address: [2]byte{addressLow, addressHigh}, length: length}, nil
}

// MustRegister is like NewRegister but panics on error. It is meant for
// package-level register tables.
func MustRegister(addressLow, addressHigh, length byte) *Register {
	r, err := NewRegister(addressLow, addressHigh, length)
	if err != nil {
		panic(err)
	}
	return r
}

// AddressLow returns the low address byte.
func (r *Register) AddressLow() byte { return r.address[0] }

// AddressHigh returns the high address byte.
func (r *Register) AddressHigh() byte { return r.address[1] }

// Address returns the full 16-bit address.
func (r *Register) Address() uint16 {
	return uint16(r.address[0]) | uint16(r.address[1])<<8
}

// Length returns the value size in bytes.
func (r *Register) Length() byte { return r.length }

func (r *Register) String() string {
	return fmt.Sprintf("0x%04X/%d", r.Address(), r.length)
}

// RegModelNumber is at the same place on every model and both protocols.
var RegModelNumber = MustRegister(0x00, 0x00, 2)

// Control table entries of the built-in models.
var (
	// AX-12A and XL-320 share the low control table layout.
	axID              = MustRegister(3, 0, 1)
	axTorqueEnable    = MustRegister(24, 0, 1)
	axLED             = MustRegister(25, 0, 1)
	axGoalPosition    = MustRegister(30, 0, 2)
	axMovingSpeed     = MustRegister(32, 0, 2)
	axPresentPosition = MustRegister(36, 0, 2)
	axPresentSpeed    = MustRegister(38, 0, 2)
	axPresentLoad     = MustRegister(40, 0, 2)

	xl320PresentPosition = MustRegister(37, 0, 2)
	xl320PresentSpeed    = MustRegister(39, 0, 2)
	xl320PresentLoad     = MustRegister(41, 0, 2)

	xID              = MustRegister(7, 0, 1)
	xTorqueEnable    = MustRegister(64, 0, 1)
	xLED             = MustRegister(65, 0, 1)
	xGoalVelocity    = MustRegister(104, 0, 4)
	xGoalPosition    = MustRegister(116, 0, 4)
	xPresentLoad     = MustRegister(126, 0, 2)
	xPresentVelocity = MustRegister(128, 0, 4)
	xPresentPosition = MustRegister(132, 0, 4)
)

// Model describes a motor model: its control table and unit conversions.
type Model struct {
	Name       string
	Number     int     // Model number stored at RegModelNumber
	Protocol   Version // Protocol the model speaks by default
	Resolution int     // Position resolution in steps

	Registers  Registers
	Conversion Conversion

	// SignBit is the direction bit of the velocity and torque registers
	// for sign-magnitude models. 0 means two's complement.
	SignBit int
}

// Predefined motor models.
var (
	ModelAX12A = Model{
		Name:       "ax-12a",
		Number:     12,
		Protocol:   ProtocolV1,
		Resolution: 1024,
		Registers: Registers{
			ID:              axID,
			LED:             axLED,
			TorqueEnable:    axTorqueEnable,
			CurrentTorque:   axPresentLoad,
			GoalAngle:       axGoalPosition,
			CurrentAngle:    axPresentPosition,
			GoalVelocity:    axMovingSpeed,
			CurrentVelocity: axPresentSpeed,
		},
		Conversion: Conversion{
			ValueToTorque:   0.1,          // % of max torque
			ValueToAngle:    300.0 / 1023, // degrees
			ValueToVelocity: 0.111,        // rpm
		},
		SignBit: 10,
	}

	ModelXL320 = Model{
		Name:       "xl-320",
		Number:     350,
		Protocol:   ProtocolV2,
		Resolution: 1024,
		Registers: Registers{
			ID:              axID,
			LED:             axLED,
			TorqueEnable:    axTorqueEnable,
			CurrentTorque:   xl320PresentLoad,
			GoalAngle:       axGoalPosition,
			CurrentAngle:    xl320PresentPosition,
			GoalVelocity:    axMovingSpeed,
			CurrentVelocity: xl320PresentSpeed,
		},
		Conversion: Conversion{
			ValueToTorque:   0.1,
			ValueToAngle:    300.0 / 1023,
			ValueToVelocity: 0.111,
		},
		SignBit: 10,
	}

	ModelXL430W250 = Model{
		Name:       "xl430-w250",
		Number:     1060,
		Protocol:   ProtocolV2,
		Resolution: 4096,
		Registers: Registers{
			ID:              xID,
			LED:             xLED,
			TorqueEnable:    xTorqueEnable,
			CurrentTorque:   xPresentLoad,
			GoalAngle:       xGoalPosition,
			CurrentAngle:    xPresentPosition,
			GoalVelocity:    xGoalVelocity,
			CurrentVelocity: xPresentVelocity,
		},
		Conversion: Conversion{
			ValueToTorque:   0.1,
			ValueToAngle:    360.0 / 4096,
			ValueToVelocity: 0.229,
		},
	}
)

// modelRegistry holds all known models indexed by name and number.
var modelRegistry = struct {
	byName   map[string]*Model
	byNumber map[int]*Model
}{
	byName:   make(map[string]*Model),
	byNumber: make(map[int]*Model),
}

func init() {
	// Register built-in models
	RegisterModel(&ModelAX12A)
	RegisterModel(&ModelXL320)
	RegisterModel(&ModelXL430W250)
}

// RegisterModel adds a model to the registry.
func RegisterModel(m *Model) {
	modelRegistry.byName[m.Name] = m
	modelRegistry.byNumber[m.Number] = m
}

// GetModel returns a model by name.
func GetModel(name string) (*Model, bool) {
	m, ok := modelRegistry.byName[name]
	return m, ok
}

// GetModelByNumber returns a model by its hardware model number.
func GetModelByNumber(number int) (*Model, bool) {
	m, ok := modelRegistry.byNumber[number]
	return m, ok
}

// ListModels returns all registered model names, sorted.
func ListModels() []string {
	names := make([]string, 0, len(modelRegistry.byName))
	for name := range modelRegistry.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewRegisterMap returns a register map for motor id that shares this
// model's descriptors.
func (m *Model) NewRegisterMap(id byte) (*RegisterMap, error) {
	return NewRegisterMap(id, m.Registers, m.Conversion)
}

// GetRegister returns the register with the given name.
func (m *Model) GetRegister(name string) (*Register, bool) {
	var reg *Register
	switch name {
	case "model_number":
		reg = RegModelNumber
	case "id":
		reg = m.Registers.ID
	case "led":
		reg = m.Registers.LED
	case "torque_enable":
		reg = m.Registers.TorqueEnable
	case "present_load", "current_torque":
		reg = m.Registers.CurrentTorque
	case "goal_position", "goal_angle":
		reg = m.Registers.GoalAngle
	case "present_position", "current_angle":
		reg = m.Registers.CurrentAngle
	case "goal_velocity":
		reg = m.Registers.GoalVelocity
	case "present_velocity", "current_velocity":
		reg = m.Registers.CurrentVelocity
	}
	return reg, reg != nil
}
