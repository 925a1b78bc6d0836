package dynamixel

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireConstants(t *testing.T) {
	require.Equal(t, []byte{0xFF, 0xFF}, HeaderV1())
	require.Equal(t, []byte{0xFF, 0xFF, 0xFD, 0x00}, HeaderV2())
	require.Equal(t, 12, MinPacketLength)
	require.Equal(t, 5, MinInstructionLength)
	require.Equal(t, 5, MinResponseLength)
	require.Equal(t, byte(0x03), InstWriteV2)
	require.Equal(t, byte(0x04), InstReadV2)
	require.Equal(t, byte(0x55), InstStatusV2)
	require.Equal(t, byte(0x80), AlertBit)
	require.Equal(t, 5, LengthLowPos)
	require.Equal(t, 6, LengthHighPos)
	require.Equal(t, 7, InstructionPos)
	require.Equal(t, 8, ResponseParameterStart)
}

func TestNewCodec(t *testing.T) {
	c1, err := NewCodec(ProtocolV1)
	require.NoError(t, err)
	require.Equal(t, ProtocolV1, c1.Version())

	c2, err := NewCodec(ProtocolV2)
	require.NoError(t, err)
	require.Equal(t, ProtocolV2, c2.Version())

	_, err = NewCodec(Version(3))
	require.ErrorIs(t, err, ErrUnsupportedProtocol)
}

func TestV1Codec_PingPacket(t *testing.T) {
	// Ping motor ID 1: FF FF 01 02 01 FB
	env, err := V1Codec{}.PingPacket(0x01)
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0xFF, 0x01, 0x02, 0x01, 0xFB}, env.Bytes())
	require.Equal(t, 6, env.ResponseSize())
}

func TestV1Codec_ReadPacket(t *testing.T) {
	// Read 2 bytes from address 0x24 on motor ID 1
	env, err := V1Codec{}.ReadPacket(0x01, axPresentPosition)
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0xFF, 0x01, 0x04, 0x02, 0x24, 0x02, 0xD2}, env.Bytes())
	require.Equal(t, 8, env.ResponseSize())
	require.Equal(t, ProtocolV1, env.Version())
}

func TestV1Codec_WritePacket(t *testing.T) {
	c := V1Codec{}

	env, err := c.WritePacket(0x01, axGoalPosition, []byte{0x00, 0x02})
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0xFF, 0x01, 0x05, 0x03, 0x1E, 0x00, 0x02, 0xD6}, env.Bytes())
	require.Equal(t, 6, env.ResponseSize())

	// Write ID value 1 to address 3 using broadcast: no status packet
	env, err = c.WritePacket(BroadcastID, axID, []byte{0x01})
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0xFF, 0xFE, 0x04, 0x03, 0x03, 0x01, 0xF6}, env.Bytes())
	require.False(t, env.ExpectsResponse())
}

func TestV1Codec_WritePacketSizeMismatch(t *testing.T) {
	_, err := V1Codec{}.WritePacket(0x01, axGoalPosition, []byte{0x00})
	require.Error(t, err)
}

func TestV1Codec_AddressRange(t *testing.T) {
	c := V1Codec{}
	wide := MustRegister(0x10, 0x01, 2)

	_, err := c.ReadPacket(1, wide)
	require.ErrorIs(t, err, ErrAddressRange)

	_, err = c.WritePacket(1, wide, []byte{0, 0})
	require.ErrorIs(t, err, ErrAddressRange)

	_, err = c.SyncWritePacket(wide, map[byte][]byte{1: {0, 0}})
	require.ErrorIs(t, err, ErrAddressRange)
}

func TestV1Codec_EncodeTooLong(t *testing.T) {
	_, err := V1Codec{}.Encode(1, InstWrite, make([]byte, 254))
	require.ErrorIs(t, err, ErrInvalidPacket)

	frame, err := V1Codec{}.Encode(1, InstWrite, make([]byte, 253))
	require.NoError(t, err)
	require.Equal(t, byte(0xFF), frame[3])
}

func TestV1Codec_SyncWritePacket(t *testing.T) {
	env, err := V1Codec{}.SyncWritePacket(axGoalPosition, map[byte][]byte{
		2: {0x00, 0x01},
		1: {0x00, 0x02},
	})
	require.NoError(t, err)
	require.Equal(t, []byte{
		0xFF, 0xFF, 0xFE, 0x0A, 0x83, 0x1E, 0x02,
		0x01, 0x00, 0x02,
		0x02, 0x00, 0x01,
		0x4E,
	}, env.Bytes())
	require.False(t, env.ExpectsResponse())
}

func TestV1Codec_Decode(t *testing.T) {
	c := V1Codec{}

	testCases := []struct {
		name     string
		data     []byte
		id       byte
		params   []byte
		consumed int
	}{
		{"ack", []byte{0xFF, 0xFF, 0x01, 0x02, 0x00, 0xFC}, 1, nil, 6},
		{"with data", []byte{0xFF, 0xFF, 0x01, 0x04, 0x00, 0x00, 0x02, 0xF8}, 1, []byte{0x00, 0x02}, 8},
		{"leading garbage", []byte{0x00, 0x12, 0xFF, 0xFF, 0x01, 0x02, 0x00, 0xFC}, 1, nil, 8},
		{"trailing bytes", []byte{0xFF, 0xFF, 0x01, 0x02, 0x00, 0xFC, 0xAA}, 1, nil, 6},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pkt, consumed, err := c.Decode(tc.data)
			require.NoError(t, err)
			require.Equal(t, tc.consumed, consumed)
			require.Equal(t, tc.id, pkt.ID)
			require.Equal(t, tc.params, pkt.Parameters)
			require.NoError(t, pkt.Err)
		})
	}
}

func TestV1Codec_DecodeErrors(t *testing.T) {
	c := V1Codec{}

	testCases := []struct {
		name   string
		data   []byte
		target error
	}{
		{"too short", []byte{0xFF, 0xFF, 0x01}, ErrInvalidPacket},
		{"no header", []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, ErrInvalidPacket},
		{"bad length", []byte{0xFF, 0xFF, 0x01, 0x01, 0x00, 0xFD}, ErrInvalidPacket},
		{"incomplete", []byte{0xFF, 0xFF, 0x01, 0x04, 0x00, 0x00}, ErrInvalidPacket},
		{"checksum", []byte{0xFF, 0xFF, 0x01, 0x02, 0x00, 0x00}, ErrChecksum},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := c.Decode(tc.data)
			require.ErrorIs(t, err, tc.target)
		})
	}
}

func TestV1Codec_DecodeStatusError(t *testing.T) {
	pkt, _, err := V1Codec{}.Decode([]byte{0xFF, 0xFF, 0x01, 0x02, 0x04, 0xF8})
	require.NoError(t, err)
	require.Equal(t, byte(0x04), pkt.Status)

	var status StatusError
	require.True(t, errors.As(pkt.Err, &status))
	require.Equal(t, ErrOverheat, status)
}

func TestV1Codec_DecodeMultiple(t *testing.T) {
	data := []byte{
		0xFF, 0xFF, 0x01, 0x04, 0x00, 0x0C, 0x00, 0xEE, // ID 1, model 12
		0xFF, 0xFF, 0x01, 0x02, 0x00, 0x00, // corrupt
		0xFF, 0xFF, 0x02, 0x04, 0x00, 0x0C, 0x00, 0xED, // ID 2, model 12
	}

	packets, err := V1Codec{}.DecodeMultiple(data, 2)
	require.NoError(t, err)
	require.Len(t, packets, 2)
	require.Equal(t, byte(1), packets[0].ID)
	require.Equal(t, byte(2), packets[1].ID)
}

func TestV2Codec_ReadPacket(t *testing.T) {
	env, err := V2Codec{}.ReadPacket(0x01, xPresentPosition)
	require.NoError(t, err)
	require.Equal(t, []byte{
		0xFF, 0xFF, 0xFD, 0x00, 0x01, 0x07, 0x00, 0x04,
		0x84, 0x00, 0x04, 0x00,
		0x0D, 0x14,
	}, env.Bytes())
	// Status: 11 bytes of framing + 4 data bytes
	require.Equal(t, 15, env.ResponseSize())
}

func TestV2Codec_WritePacket(t *testing.T) {
	env, err := V2Codec{}.WritePacket(0x01, xGoalPosition, EncodeValue(2048, 4))
	require.NoError(t, err)
	require.Equal(t, []byte{
		0xFF, 0xFF, 0xFD, 0x00, 0x01, 0x09, 0x00, 0x03,
		0x74, 0x00, 0x00, 0x08, 0x00, 0x00,
		0x42, 0x89,
	}, env.Bytes())
	require.Equal(t, 11, env.ResponseSize())
}

func TestV2Codec_CRCRoundTrip(t *testing.T) {
	c := V2Codec{}
	regs := []*Register{xID, xLED, xGoalVelocity, xGoalPosition, xPresentLoad, MustRegister(0x34, 0x12, 3)}

	for _, reg := range regs {
		read, err := c.ReadPacket(7, reg)
		require.NoError(t, err)
		write, err := c.WritePacket(7, reg, make([]byte, reg.Length()))
		require.NoError(t, err)

		for _, env := range []*Envelope{read, write} {
			frame := env.Bytes()
			n := len(frame)
			require.GreaterOrEqual(t, n, MinPacketLength)
			require.Equal(t, HeaderV2(), frame[:4])
			require.Equal(t, uint16(n-InstructionPos), binary.LittleEndian.Uint16(frame[LengthLowPos:]))
			require.Equal(t, reg.AddressLow(), frame[InstructionPos+1])
			require.Equal(t, reg.AddressHigh(), frame[InstructionPos+2])
			require.Equal(t, CRC16(frame[:n-2]), binary.LittleEndian.Uint16(frame[n-2:]), "register %s", reg)
		}
	}
}

func TestV2Codec_SyncWritePacket(t *testing.T) {
	env, err := V2Codec{}.SyncWritePacket(xGoalPosition, map[byte][]byte{
		2: EncodeValue(1024, 4),
		1: EncodeValue(2048, 4),
	})
	require.NoError(t, err)
	require.Equal(t, []byte{
		0xFF, 0xFF, 0xFD, 0x00, 0xFE, 0x11, 0x00, 0x83,
		0x74, 0x00, 0x04, 0x00,
		0x01, 0x00, 0x08, 0x00, 0x00,
		0x02, 0x00, 0x04, 0x00, 0x00,
		0x98, 0x4C,
	}, env.Bytes())
	require.False(t, env.ExpectsResponse())
}

func TestV2Codec_SyncReadPacket(t *testing.T) {
	c := V2Codec{}
	env, err := c.SyncReadPacket(xPresentPosition, []byte{1, 2})
	require.NoError(t, err)
	require.Equal(t, []byte{
		0xFF, 0xFF, 0xFD, 0x00, 0xFE, 0x09, 0x00, 0x82,
		0x84, 0x00, 0x04, 0x00, 0x01, 0x02,
		0xCE, 0xFA,
	}, env.Bytes())
	require.Equal(t, 2*15, env.ResponseSize())

	_, err = c.SyncReadPacket(xPresentPosition, nil)
	require.ErrorIs(t, err, ErrInvalidID)
}

func TestV2Codec_Decode(t *testing.T) {
	c := V2Codec{}

	data := []byte{0xFF, 0xFF, 0xFD, 0x00, 0x01, 0x08, 0x00, 0x55, 0x00, 0x00, 0x08, 0x00, 0x00, 0x1C, 0x38}
	pkt, consumed, err := c.Decode(data)
	require.NoError(t, err)
	require.Equal(t, 15, consumed)
	require.Equal(t, byte(1), pkt.ID)
	require.Equal(t, InstStatusV2, pkt.Instruction)
	require.Equal(t, []byte{0x00, 0x08, 0x00, 0x00}, pkt.Parameters)
	require.Equal(t, uint32(2048), DecodeValue(pkt.Parameters))
	require.NoError(t, pkt.Err)

	// Garbage before the header, including a partial header
	garbage := append([]byte{0x00, 0xFF, 0xFF, 0x12}, data...)
	pkt, consumed, err = c.Decode(garbage)
	require.NoError(t, err)
	require.Equal(t, 19, consumed)
	require.Equal(t, byte(1), pkt.ID)

	ack := []byte{0xFF, 0xFF, 0xFD, 0x00, 0x01, 0x04, 0x00, 0x55, 0x00, 0xA1, 0x0C}
	pkt, consumed, err = c.Decode(ack)
	require.NoError(t, err)
	require.Equal(t, 11, consumed)
	require.Nil(t, pkt.Parameters)
}

func TestV2Codec_DecodeErrors(t *testing.T) {
	c := V2Codec{}

	// An instruction packet echoed back is not a status packet
	echo, err := c.ReadPacket(1, xPresentPosition)
	require.NoError(t, err)

	testCases := []struct {
		name   string
		data   []byte
		target error
	}{
		{"too short", []byte{0xFF, 0xFF, 0xFD, 0x00, 0x01}, ErrInvalidPacket},
		{"no header", make([]byte, 16), ErrInvalidPacket},
		{"bad length", []byte{0xFF, 0xFF, 0xFD, 0x00, 0x01, 0x02, 0x00, 0x55, 0x00, 0x00, 0x00}, ErrInvalidPacket},
		{"incomplete", []byte{0xFF, 0xFF, 0xFD, 0x00, 0x01, 0x08, 0x00, 0x55, 0x00, 0x00, 0x08}, ErrInvalidPacket},
		{"crc", []byte{0xFF, 0xFF, 0xFD, 0x00, 0x01, 0x04, 0x00, 0x55, 0x00, 0xA1, 0x0D}, ErrChecksum},
		{"not status", echo.Bytes(), ErrInvalidPacket},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := c.Decode(tc.data)
			require.ErrorIs(t, err, tc.target)
		})
	}
}

func TestV2Codec_DecodeStatusErrors(t *testing.T) {
	c := V2Codec{}

	pkt, _, err := c.Decode([]byte{0xFF, 0xFF, 0xFD, 0x00, 0x01, 0x04, 0x00, 0x55, 0x80, 0xA2, 0x8F})
	require.NoError(t, err)
	require.ErrorIs(t, pkt.Err, ErrAlert)

	pkt, _, err = c.Decode([]byte{0xFF, 0xFF, 0xFD, 0x00, 0x01, 0x04, 0x00, 0x55, 0x04, 0xBA, 0x8C})
	require.NoError(t, err)
	require.NotErrorIs(t, pkt.Err, ErrAlert)

	var result ResultError
	require.True(t, errors.As(pkt.Err, &result))
	require.Equal(t, ResultDataRange, result.Code())
}

func TestV2Codec_DecodeMultiple(t *testing.T) {
	data := []byte{
		0xFF, 0xFF, 0xFD, 0x00, 0x01, 0x08, 0x00, 0x55, 0x00, 0x00, 0x08, 0x00, 0x00, 0x1C, 0x38,
		0xFF, 0xFF, 0xFD, 0x00, 0x02, 0x08, 0x00, 0x55, 0x00, 0x00, 0x04, 0x00, 0x00, 0x4C, 0x32,
	}

	packets, err := V2Codec{}.DecodeMultiple(data, 2)
	require.NoError(t, err)
	require.Len(t, packets, 2)
	assert.Equal(t, uint32(2048), DecodeValue(packets[0].Parameters))
	assert.Equal(t, uint32(1024), DecodeValue(packets[1].Parameters))
}

func TestResponseLength(t *testing.T) {
	require.Equal(t, 6, V1Codec{}.ResponseLength(0))
	require.Equal(t, 8, V1Codec{}.ResponseLength(2))
	require.Equal(t, 11, V2Codec{}.ResponseLength(0))
	require.Equal(t, 15, V2Codec{}.ResponseLength(4))
}

func TestEncodeDecodeValue(t *testing.T) {
	require.Equal(t, []byte{0x34}, EncodeValue(0x1234, 1))
	require.Equal(t, []byte{0x34, 0x12}, EncodeValue(0x1234, 2))
	require.Equal(t, []byte{0x78, 0x56, 0x34, 0x12}, EncodeValue(0x12345678, 4))
	require.Equal(t, uint32(0x1234), DecodeValue([]byte{0x34, 0x12}))
	require.Equal(t, uint32(0x12345678), DecodeValue([]byte{0x78, 0x56, 0x34, 0x12}))
	require.Equal(t, uint32(0), DecodeValue(nil))
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		status   StatusError
		hasError bool
	}{
		{0, false},
		{ErrVoltage, true},
		{ErrOverheat, true},
		{ErrOverload | ErrOverheat, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.hasError, tt.status.HasError(), "StatusError(%X)", byte(tt.status))
	}

	assert.Contains(t, (ErrOverheat | ErrOverload).Error(), "overheat")
}

func TestResultError(t *testing.T) {
	e := ResultError(AlertBit) | ResultAccess
	assert.True(t, e.Alert())
	assert.Equal(t, ResultAccess, e.Code())
	assert.Contains(t, e.Error(), "access error")
	assert.Contains(t, e.Error(), "alert")
	assert.True(t, errors.Is(e, ErrAlert))

	assert.False(t, ResultError(0).HasError())
	assert.Contains(t, ResultError(0x12).Error(), "0x12")
}

func TestV1Codec_RegWriteAction(t *testing.T) {
	c := V1Codec{}

	env, err := c.RegWritePacket(0x01, axGoalPosition, []byte{0x00, 0x02})
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0xFF, 0x01, 0x05, 0x04, 0x1E, 0x00, 0x02, 0xD5}, env.Bytes())
	require.Equal(t, 6, env.ResponseSize())

	env, err = c.ActionPacket()
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0xFF, 0xFE, 0x02, 0x05, 0xFA}, env.Bytes())
	require.False(t, env.ExpectsResponse())

	_, err = c.RegWritePacket(0x01, MustRegister(0x00, 0x02, 1), []byte{0x00})
	require.ErrorIs(t, err, ErrAddressRange)
}
