package dynamixel

import (
	"fmt"
	"maps"
	"slices"
)

// V1Codec implements Codec for protocol v1.
//
// Instruction: [FF FF][id][length][instruction][params...][checksum]
// Status:      [FF FF][id][length][error][params...][checksum]
//
// length counts the bytes after itself; the checksum covers id through the
// last parameter.
type V1Codec struct{}

// Version returns ProtocolV1.
func (V1Codec) Version() Version {
	return ProtocolV1
}

// Encode constructs a wire-format instruction frame.
func (V1Codec) Encode(id, instruction byte, params []byte) ([]byte, error) {
	if len(params) > 0xFF-2 {
		return nil, fmt.Errorf("%w: %d parameter bytes exceed the v1 length field", ErrInvalidPacket, len(params))
	}
	length := byte(len(params) + 2) // params + instruction + checksum

	buf := make([]byte, 0, minV1Frame+len(params))
	buf = append(buf, headerV1[:]...)
	buf = append(buf, id, length, instruction)
	buf = append(buf, params...)
	buf = append(buf, V1Checksum(buf[len(headerV1):]))

	return buf, nil
}

// ResponseLength returns the expected wire length for a status packet.
func (V1Codec) ResponseLength(dataLen int) int {
	// header(2) + id(1) + length(1) + error(1) + data(n) + checksum(1)
	return minV1Frame + dataLen
}

// PingPacket creates a ping instruction packet.
func (c V1Codec) PingPacket(id byte) (*Envelope, error) {
	frame, err := c.Encode(id, InstPing, nil)
	if err != nil {
		return nil, err
	}
	return framedEnvelope(ProtocolV1, frame, c.responseFor(id, 0))
}

// ReadPacket creates a read instruction packet.
func (c V1Codec) ReadPacket(id byte, reg *Register) (*Envelope, error) {
	if err := c.checkAddress(reg); err != nil {
		return nil, err
	}
	frame, err := c.Encode(id, InstRead, []byte{reg.AddressLow(), reg.Length()})
	if err != nil {
		return nil, err
	}
	return framedEnvelope(ProtocolV1, frame, c.responseFor(id, int(reg.Length())))
}

// WritePacket creates a write instruction packet.
func (c V1Codec) WritePacket(id byte, reg *Register, data []byte) (*Envelope, error) {
	if err := checkRegisterData(reg, data); err != nil {
		return nil, err
	}
	if err := c.checkAddress(reg); err != nil {
		return nil, err
	}

	params := make([]byte, 1+len(data))
	params[0] = reg.AddressLow()
	copy(params[1:], data)

	frame, err := c.Encode(id, InstWrite, params)
	if err != nil {
		return nil, err
	}
	return framedEnvelope(ProtocolV1, frame, c.responseFor(id, 0))
}

// RegWritePacket creates a buffered write. The motor holds the value until
// an action packet arrives.
func (c V1Codec) RegWritePacket(id byte, reg *Register, data []byte) (*Envelope, error) {
	if err := checkRegisterData(reg, data); err != nil {
		return nil, err
	}
	if err := c.checkAddress(reg); err != nil {
		return nil, err
	}

	params := make([]byte, 1+len(data))
	params[0] = reg.AddressLow()
	copy(params[1:], data)

	frame, err := c.Encode(id, InstRegWrite, params)
	if err != nil {
		return nil, err
	}
	return framedEnvelope(ProtocolV1, frame, c.responseFor(id, 0))
}

// ActionPacket creates a broadcast action packet that applies every
// buffered write.
func (c V1Codec) ActionPacket() (*Envelope, error) {
	frame, err := c.Encode(BroadcastID, InstAction, nil)
	if err != nil {
		return nil, err
	}
	return NewEnvelope(ProtocolV1, frame)
}

// SyncWritePacket creates a sync write instruction packet.
// Parameters: address(1) + dataLen(1) + [id(1) + data(n)]...
func (c V1Codec) SyncWritePacket(reg *Register, data map[byte][]byte) (*Envelope, error) {
	if err := c.checkAddress(reg); err != nil {
		return nil, err
	}

	params := make([]byte, 0, 2+len(data)*(1+int(reg.Length())))
	params = append(params, reg.AddressLow(), reg.Length())
	for _, id := range slices.Sorted(maps.Keys(data)) {
		if err := checkRegisterData(reg, data[id]); err != nil {
			return nil, fmt.Errorf("motor %d: %w", id, err)
		}
		params = append(params, id)
		params = append(params, data[id]...)
	}

	frame, err := c.Encode(BroadcastID, InstSyncWrite, params)
	if err != nil {
		return nil, err
	}
	return NewEnvelope(ProtocolV1, frame)
}

// Decode parses a wire-format status packet into its components.
// Returns the packet and number of bytes consumed, or an error.
func (V1Codec) Decode(data []byte) (Packet, int, error) {
	if len(data) < minV1Frame {
		return Packet{}, 0, fmt.Errorf("%w: packet too short", ErrInvalidPacket)
	}

	headerIdx := indexHeader(data, headerV1[:], minV1Frame)
	if headerIdx < 0 {
		return Packet{}, 0, fmt.Errorf("%w: header not found", ErrInvalidPacket)
	}
	data = data[headerIdx:]

	id := data[2]
	length := int(data[3])
	if length < 2 {
		return Packet{}, 0, fmt.Errorf("%w: length field %d too small", ErrInvalidPacket, length)
	}

	totalLen := 4 + length // header(2) + id(1) + length(1) + [length bytes]
	if len(data) < totalLen {
		return Packet{}, 0, fmt.Errorf("%w: incomplete packet: need %d bytes, have %d", ErrInvalidPacket, totalLen, len(data))
	}

	expected := V1Checksum(data[2 : totalLen-1])
	if actual := data[totalLen-1]; expected != actual {
		return Packet{}, 0, fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrChecksum, expected, actual)
	}

	pkt := Packet{
		ID:     id,
		Status: data[4],
	}
	if status := StatusError(data[4]); status.HasError() {
		pkt.Err = status
	}

	if paramLen := length - 2; paramLen > 0 {
		pkt.Parameters = make([]byte, paramLen)
		copy(pkt.Parameters, data[5:5+paramLen])
	}

	return pkt, headerIdx + totalLen, nil
}

// DecodeMultiple parses multiple status packets from a buffer.
func (c V1Codec) DecodeMultiple(data []byte, count int) ([]Packet, error) {
	return decodeMultiple(c, data, count, headerV1[:]), nil
}

func (c V1Codec) responseFor(id byte, dataLen int) int {
	if id == BroadcastID {
		return 0
	}
	return c.ResponseLength(dataLen)
}

func (V1Codec) checkAddress(reg *Register) error {
	if reg == nil {
		return fmt.Errorf("%w: nil register", ErrInvalidRegister)
	}
	if reg.AddressHigh() != 0 {
		return fmt.Errorf("%w: %s needs a 16-bit address", ErrAddressRange, reg)
	}
	return nil
}
