package dynamixel

import (
	"context"
	"fmt"
)

// MotorGroup manages coordinated operations across multiple motors on one
// bus. Motors of the same model share register descriptors, so one sync
// packet is sent per distinct register.
type MotorGroup struct {
	bus    *Bus
	motors []*Motor
}

// AngleMap is a map of motor ID to angle in degrees.
type AngleMap map[int]float64

// NewMotorGroup creates a new group from the given motors.
func NewMotorGroup(bus *Bus, motors ...*Motor) *MotorGroup {
	return &MotorGroup{
		bus:    bus,
		motors: motors,
	}
}

// Motors returns the motors in this group.
func (g *MotorGroup) Motors() []*Motor {
	return g.motors
}

// IDs returns the motor IDs in this group.
func (g *MotorGroup) IDs() []int {
	ids := make([]int, len(g.motors))
	for i, m := range g.motors {
		ids[i] = m.ID()
	}
	return ids
}

// MotorByID returns the motor with the given ID, or nil if not found.
func (g *MotorGroup) MotorByID(id int) *Motor {
	for _, m := range g.motors {
		if m.ID() == id {
			return m
		}
	}
	return nil
}

// Angles reads the current angle of every motor. On protocol v2 this is
// one sync read per register layout; protocol v1 has no sync read, so the
// motors are read one by one.
func (g *MotorGroup) Angles(ctx context.Context) (AngleMap, error) {
	angles := make(AngleMap, len(g.motors))

	if g.bus.Codec().Version() != ProtocolV2 {
		for _, m := range g.motors {
			a, err := m.Angle(ctx)
			if err != nil {
				return angles, err
			}
			angles[m.ID()] = a
		}
		return angles, nil
	}

	groups := make(map[*Register][]*Motor)
	var order []*Register
	for _, m := range g.motors {
		reg := m.regs.CurrentAngleRegister()
		if _, ok := groups[reg]; !ok {
			order = append(order, reg)
		}
		groups[reg] = append(groups[reg], m)
	}

	for _, reg := range order {
		motors := groups[reg]
		ids := make([]int, len(motors))
		for i, m := range motors {
			ids[i] = m.ID()
		}

		data, err := g.bus.SyncRead(ctx, reg, ids)
		if err != nil {
			return angles, fmt.Errorf("sync read of %s: %w", reg, err)
		}
		for _, m := range motors {
			raw := decodePosition(data[m.ID()])
			angles[m.ID()] = float64(raw) * m.regs.Conversion().ValueToAngle
		}
	}

	return angles, nil
}

// SetGoalAngles writes goal angles with sync write.
// Only motors with IDs present in the map are written.
func (g *MotorGroup) SetGoalAngles(ctx context.Context, angles AngleMap) error {
	if len(angles) == 0 {
		return nil // No-op for empty map
	}

	writes := make(map[*Register]map[int][]byte)
	for id, deg := range angles {
		m := g.MotorByID(id)
		if m == nil {
			return fmt.Errorf("motor ID %d not in group", id)
		}
		raw, err := toRaw(deg, m.regs.Conversion().ValueToAngle)
		if err != nil {
			return fmt.Errorf("motor %d: %w", id, err)
		}

		reg := m.regs.GoalAngleRegister()
		if writes[reg] == nil {
			writes[reg] = make(map[int][]byte)
		}
		writes[reg][id] = EncodeValue(uint32(int32(raw)), int(reg.Length()))
	}

	for reg, data := range writes {
		if err := g.bus.SyncWrite(ctx, reg, data); err != nil {
			return fmt.Errorf("sync write of %s: %w", reg, err)
		}
	}
	return nil
}

// RegWriteGoalAngles buffers goal angles on each motor; call Bus.Action to
// start the motion on all of them at the same instant. Protocol v1 only.
func (g *MotorGroup) RegWriteGoalAngles(ctx context.Context, angles AngleMap) error {
	for _, m := range g.motors {
		deg, ok := angles[m.ID()]
		if !ok {
			continue
		}
		raw, err := toRaw(deg, m.regs.Conversion().ValueToAngle)
		if err != nil {
			return fmt.Errorf("motor %d: %w", m.ID(), err)
		}
		reg := m.regs.GoalAngleRegister()
		if err := g.bus.RegWrite(ctx, m.ID(), reg, EncodeValue(uint32(int32(raw)), int(reg.Length()))); err != nil {
			return err
		}
	}
	return nil
}

// EnableAll enables torque on all motors.
func (g *MotorGroup) EnableAll(ctx context.Context) error {
	return g.setTorque(ctx, true)
}

// DisableAll disables torque on all motors.
func (g *MotorGroup) DisableAll(ctx context.Context) error {
	return g.setTorque(ctx, false)
}

func (g *MotorGroup) setTorque(ctx context.Context, enabled bool) error {
	writes := make(map[*Register]map[int][]byte)
	for _, m := range g.motors {
		reg := m.regs.TorqueEnableRegister()
		if writes[reg] == nil {
			writes[reg] = make(map[int][]byte)
		}
		writes[reg][m.ID()] = []byte{boolByte(enabled)}
	}

	for reg, data := range writes {
		if err := g.bus.SyncWrite(ctx, reg, data); err != nil {
			return err
		}
	}
	return nil
}
