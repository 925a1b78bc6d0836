// Package dynamixel provides a Go library for communicating with Dynamixel
// servo motors over protocol v1 or protocol v2.
package dynamixel

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Version selects a wire protocol.
type Version int

// Protocol versions.
const (
	ProtocolV1 Version = 1 // AX/MX series: 2-byte header, 8-bit checksum
	ProtocolV2 Version = 2 // X series, XL-320: 4-byte header, CRC-16
)

func (v Version) String() string {
	switch v {
	case ProtocolV1:
		return "v1"
	case ProtocolV2:
		return "v2"
	default:
		return fmt.Sprintf("Version(%d)", int(v))
	}
}

// Valid reports whether v is a supported protocol version.
func (v Version) Valid() bool {
	return v == ProtocolV1 || v == ProtocolV2
}

// MinFrameLength returns the smallest instruction frame accepted for v,
// or 0 for an unknown version.
func (v Version) MinFrameLength() int {
	switch v {
	case ProtocolV1:
		return minV1Frame
	case ProtocolV2:
		return MinPacketLength
	}
	return 0
}

// MinResponseFrameLength returns the size of a status frame with no
// parameters, or 0 for an unknown version.
func (v Version) MinResponseFrameLength() int {
	switch v {
	case ProtocolV1:
		return minV1Frame
	case ProtocolV2:
		return len(headerV2) + MinResponseLength + crcSize
	}
	return 0
}

// Packet header bytes.
var (
	headerV1 = [2]byte{0xFF, 0xFF}
	headerV2 = [4]byte{0xFF, 0xFF, 0xFD, 0x00}
)

// HeaderV1 returns the protocol v1 frame header.
func HeaderV1() []byte { return headerV1[:] }

// HeaderV2 returns the protocol v2 frame header.
func HeaderV2() []byte { return headerV2[:] }

// Protocol v2 framing constants.
const (
	MinPacketLength      = 12 // With CRC
	MinInstructionLength = 5  // Without CRC
	MinResponseLength    = 5  // Without CRC

	InstWriteV2     byte = 0x03
	InstReadV2      byte = 0x04
	InstStatusV2    byte = 0x55
	InstSyncReadV2  byte = 0x82
	InstSyncWriteV2 byte = 0x83

	AlertBit byte = 0x80

	LengthLowPos   = 5
	LengthHighPos  = 6
	InstructionPos = 7
	// ResponseParameterStart is where the status frame payload begins; the
	// first parameter is the error byte.
	ResponseParameterStart = 8

	crcSize = 2
)

// Protocol v1 instruction codes.
const (
	InstPing      byte = 0x01
	InstRead      byte = 0x02
	InstWrite     byte = 0x03
	InstRegWrite  byte = 0x04
	InstAction    byte = 0x05
	InstReset     byte = 0x06
	InstSyncWrite byte = 0x83

	// header(2) + id(1) + length(1) + instruction/error(1) + checksum(1)
	minV1Frame = 6
)

// Special ID values.
const (
	BroadcastID = 0xFE
	MaxMotorID  = 0xFC
)

// StatusError holds the protocol v1 status error flags.
type StatusError byte

const (
	ErrVoltage     StatusError = 1 << 0
	ErrAngleLimit  StatusError = 1 << 1
	ErrOverheat    StatusError = 1 << 2
	ErrRange       StatusError = 1 << 3
	ErrChecksumBit StatusError = 1 << 4
	ErrOverload    StatusError = 1 << 5
	ErrInstruction StatusError = 1 << 6
)

func (e StatusError) Error() string {
	if e == 0 {
		return "no error"
	}

	var msgs []string
	if e&ErrVoltage != 0 {
		msgs = append(msgs, "voltage")
	}
	if e&ErrAngleLimit != 0 {
		msgs = append(msgs, "angle limit")
	}
	if e&ErrOverheat != 0 {
		msgs = append(msgs, "overheat")
	}
	if e&ErrRange != 0 {
		msgs = append(msgs, "range")
	}
	if e&ErrChecksumBit != 0 {
		msgs = append(msgs, "checksum")
	}
	if e&ErrOverload != 0 {
		msgs = append(msgs, "overload")
	}
	if e&ErrInstruction != 0 {
		msgs = append(msgs, "instruction")
	}

	return fmt.Sprintf("motor status error: %v", msgs)
}

// HasError returns true if any error flag is set.
func (e StatusError) HasError() bool {
	return e != 0
}

// ResultError is the protocol v2 status error byte: an error number in the
// low seven bits and the alert flag in the top bit.
type ResultError byte

// Protocol v2 error numbers.
const (
	ResultFail        ResultError = 0x01
	ResultInstruction ResultError = 0x02
	ResultCRC         ResultError = 0x03
	ResultDataRange   ResultError = 0x04
	ResultDataLength  ResultError = 0x05
	ResultDataLimit   ResultError = 0x06
	ResultAccess      ResultError = 0x07
)

var resultNames = map[ResultError]string{
	ResultFail:        "result fail",
	ResultInstruction: "instruction error",
	ResultCRC:         "crc error",
	ResultDataRange:   "data range error",
	ResultDataLength:  "data length error",
	ResultDataLimit:   "data limit error",
	ResultAccess:      "access error",
}

// Alert reports whether the hardware alert flag is set.
func (e ResultError) Alert() bool {
	return byte(e)&AlertBit != 0
}

// Code returns the error number without the alert flag.
func (e ResultError) Code() ResultError {
	return e &^ ResultError(AlertBit)
}

// HasError returns true if an error number or the alert flag is set.
func (e ResultError) HasError() bool {
	return e != 0
}

func (e ResultError) Error() string {
	if e == 0 {
		return "no error"
	}
	var parts []string
	if code := e.Code(); code != 0 {
		name, ok := resultNames[code]
		if !ok {
			name = fmt.Sprintf("error 0x%02X", byte(code))
		}
		parts = append(parts, name)
	}
	if e.Alert() {
		parts = append(parts, "alert")
	}
	return "motor status error: " + strings.Join(parts, ", ")
}

// Is makes errors.Is(err, ErrAlert) true when the alert flag is set.
func (e ResultError) Is(target error) bool {
	return target == ErrAlert && e.Alert()
}

// Packet is a decoded status packet.
type Packet struct {
	ID          byte
	Instruction byte
	Status      byte   // Raw error byte
	Parameters  []byte // Payload after the error byte
	Err         error  // Decoded status error, nil when Status is clear
}

// Codec frames instructions and parses status packets for one protocol
// version. Motor-level code only talks to this interface.
type Codec interface {
	Version() Version

	// ReadPacket frames a read of reg from motor id.
	ReadPacket(id byte, reg *Register) (*Envelope, error)

	// WritePacket frames a write of data to reg on motor id. len(data)
	// must equal reg.Length().
	WritePacket(id byte, reg *Register, data []byte) (*Envelope, error)

	// SyncWritePacket frames a broadcast write of the same register on
	// several motors. Each value must be reg.Length() bytes.
	SyncWritePacket(reg *Register, data map[byte][]byte) (*Envelope, error)

	// ResponseLength returns the wire length of a status packet carrying
	// dataLen parameter bytes.
	ResponseLength(dataLen int) int

	// Decode parses one status packet from data. It returns the packet and
	// the number of bytes consumed, including any garbage before the header.
	Decode(data []byte) (Packet, int, error)

	// DecodeMultiple parses up to count consecutive status packets, skipping
	// corrupt ones.
	DecodeMultiple(data []byte, count int) ([]Packet, error)
}

// NewCodec returns the codec for the given protocol version.
func NewCodec(v Version) (Codec, error) {
	switch v {
	case ProtocolV1:
		return V1Codec{}, nil
	case ProtocolV2:
		return V2Codec{}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupportedProtocol, int(v))
}

// EncodeValue encodes the low n bytes of value little-endian. Both protocol
// versions use little-endian register values.
func EncodeValue(value uint32, n int) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], value)
	buf := make([]byte, n)
	copy(buf, tmp[:])
	return buf
}

// DecodeValue decodes up to four little-endian bytes.
func DecodeValue(data []byte) uint32 {
	var tmp [4]byte
	copy(tmp[:], data)
	return binary.LittleEndian.Uint32(tmp[:])
}

func checkRegisterData(reg *Register, data []byte) error {
	if reg == nil {
		return fmt.Errorf("%w: nil register", ErrInvalidRegister)
	}
	if len(data) != int(reg.Length()) {
		return fmt.Errorf("data size mismatch for register %s: expected %d bytes, got %d", reg, reg.Length(), len(data))
	}
	return nil
}

func framedEnvelope(v Version, frame []byte, responseSize int) (*Envelope, error) {
	if responseSize == 0 {
		return NewEnvelope(v, frame)
	}
	return NewEnvelopeWithResponse(v, frame, responseSize)
}

// indexHeader returns the first offset at which header starts with at least
// minLen bytes available, or -1.
func indexHeader(data, header []byte, minLen int) int {
	for i := 0; i <= len(data)-minLen; i++ {
		if string(data[i:i+len(header)]) == string(header) {
			return i
		}
	}
	return -1
}

func decodeMultiple(c Codec, data []byte, count int, header []byte) []Packet {
	packets := make([]Packet, 0, count)
	offset := 0
	minLen := c.ResponseLength(0)

	for len(packets) < count && offset < len(data) {
		pkt, consumed, err := c.Decode(data[offset:])
		if err != nil {
			// Try to find next header
			next := indexHeader(data[offset+1:], header, minLen)
			if next < 0 {
				break
			}
			offset += 1 + next
			continue
		}
		packets = append(packets, pkt)
		offset += consumed
	}

	return packets
}
