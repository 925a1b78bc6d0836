package dynamixel

import (
	"encoding/binary"
	"fmt"
	"maps"
	"slices"
)

// V2Codec implements Codec for protocol v2.
//
// Instruction: [FF FF FD 00][id][len L][len H][instruction][params...][crc L][crc H]
// Status:      [FF FF FD 00][id][len L][len H][55][error][params...][crc L][crc H]
//
// The length field counts the bytes after itself, CRC included. The CRC
// covers every byte before it, header included.
type V2Codec struct{}

// Version returns ProtocolV2.
func (V2Codec) Version() Version {
	return ProtocolV2
}

// Encode constructs a wire-format instruction frame.
func (V2Codec) Encode(id, instruction byte, params []byte) ([]byte, error) {
	length := len(params) + 1 + crcSize
	if length > 0xFFFF {
		return nil, fmt.Errorf("%w: %d parameter bytes exceed the v2 length field", ErrInvalidPacket, len(params))
	}

	buf := make([]byte, InstructionPos+length)
	copy(buf, headerV2[:])
	buf[len(headerV2)] = id
	binary.LittleEndian.PutUint16(buf[LengthLowPos:], uint16(length))
	buf[InstructionPos] = instruction
	copy(buf[InstructionPos+1:], params)

	crcPos := len(buf) - crcSize
	binary.LittleEndian.PutUint16(buf[crcPos:], CRC16(buf[:crcPos]))

	return buf, nil
}

// ResponseLength returns the expected wire length for a status packet.
func (V2Codec) ResponseLength(dataLen int) int {
	// header(4) + id(1) + length(2) + instruction(1) + error(1) + data(n) + crc(2)
	return ProtocolV2.MinResponseFrameLength() + dataLen
}

// ReadPacket creates a read instruction packet.
func (c V2Codec) ReadPacket(id byte, reg *Register) (*Envelope, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: nil register", ErrInvalidRegister)
	}
	frame, err := c.Encode(id, InstReadV2, registerParams(reg))
	if err != nil {
		return nil, err
	}
	return framedEnvelope(ProtocolV2, frame, c.responseFor(id, int(reg.Length())))
}

// WritePacket creates a write instruction packet.
func (c V2Codec) WritePacket(id byte, reg *Register, data []byte) (*Envelope, error) {
	if err := checkRegisterData(reg, data); err != nil {
		return nil, err
	}

	params := make([]byte, 2+len(data))
	params[0], params[1] = reg.AddressLow(), reg.AddressHigh()
	copy(params[2:], data)

	frame, err := c.Encode(id, InstWriteV2, params)
	if err != nil {
		return nil, err
	}
	return framedEnvelope(ProtocolV2, frame, c.responseFor(id, 0))
}

// SyncWritePacket creates a sync write instruction packet.
// Parameters: address(2) + dataLen(2) + [id(1) + data(n)]...
func (c V2Codec) SyncWritePacket(reg *Register, data map[byte][]byte) (*Envelope, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: nil register", ErrInvalidRegister)
	}

	params := make([]byte, 0, 4+len(data)*(1+int(reg.Length())))
	params = append(params, registerParams(reg)...)
	for _, id := range slices.Sorted(maps.Keys(data)) {
		if err := checkRegisterData(reg, data[id]); err != nil {
			return nil, fmt.Errorf("motor %d: %w", id, err)
		}
		params = append(params, id)
		params = append(params, data[id]...)
	}

	frame, err := c.Encode(BroadcastID, InstSyncWriteV2, params)
	if err != nil {
		return nil, err
	}
	return NewEnvelope(ProtocolV2, frame)
}

// SyncReadPacket creates a sync read instruction packet. Every listed motor
// answers with its own status packet, in the order given.
func (c V2Codec) SyncReadPacket(reg *Register, ids []byte) (*Envelope, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: nil register", ErrInvalidRegister)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: sync read needs at least one motor", ErrInvalidID)
	}

	params := make([]byte, 0, 4+len(ids))
	params = append(params, registerParams(reg)...)
	params = append(params, ids...)

	frame, err := c.Encode(BroadcastID, InstSyncReadV2, params)
	if err != nil {
		return nil, err
	}
	return NewEnvelopeWithResponse(ProtocolV2, frame, len(ids)*c.ResponseLength(int(reg.Length())))
}

// Decode parses a wire-format status packet into its components.
// Returns the packet and number of bytes consumed, or an error.
func (c V2Codec) Decode(data []byte) (Packet, int, error) {
	minLen := c.ResponseLength(0)
	if len(data) < minLen {
		return Packet{}, 0, fmt.Errorf("%w: packet too short", ErrInvalidPacket)
	}

	headerIdx := indexHeader(data, headerV2[:], minLen)
	if headerIdx < 0 {
		return Packet{}, 0, fmt.Errorf("%w: header not found", ErrInvalidPacket)
	}
	data = data[headerIdx:]

	length := int(binary.LittleEndian.Uint16(data[LengthLowPos:]))
	if length < MinResponseLength-1 {
		return Packet{}, 0, fmt.Errorf("%w: length field %d too small", ErrInvalidPacket, length)
	}

	totalLen := InstructionPos + length
	if len(data) < totalLen {
		return Packet{}, 0, fmt.Errorf("%w: incomplete packet: need %d bytes, have %d", ErrInvalidPacket, totalLen, len(data))
	}

	crcPos := totalLen - crcSize
	expected := CRC16(data[:crcPos])
	if actual := binary.LittleEndian.Uint16(data[crcPos:]); expected != actual {
		return Packet{}, 0, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrChecksum, expected, actual)
	}

	if data[InstructionPos] != InstStatusV2 {
		return Packet{}, 0, fmt.Errorf("%w: instruction 0x%02X is not a status packet", ErrInvalidPacket, data[InstructionPos])
	}

	pkt := Packet{
		ID:          data[len(headerV2)],
		Instruction: InstStatusV2,
		Status:      data[ResponseParameterStart],
	}
	if status := ResultError(pkt.Status); status.HasError() {
		pkt.Err = status
	}

	if paramLen := crcPos - (ResponseParameterStart + 1); paramLen > 0 {
		pkt.Parameters = make([]byte, paramLen)
		copy(pkt.Parameters, data[ResponseParameterStart+1:crcPos])
	}

	return pkt, headerIdx + totalLen, nil
}

// DecodeMultiple parses multiple status packets from a buffer.
func (c V2Codec) DecodeMultiple(data []byte, count int) ([]Packet, error) {
	return decodeMultiple(c, data, count, headerV2[:]), nil
}

func (c V2Codec) responseFor(id byte, dataLen int) int {
	if id == BroadcastID {
		return 0
	}
	return c.ResponseLength(dataLen)
}

// registerParams returns address(2) + length(2), both little-endian.
func registerParams(reg *Register) []byte {
	return []byte{reg.AddressLow(), reg.AddressHigh(), reg.Length(), 0x00}
}
