package wssengine

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

/*************************************************************************************************/
/* TEST SUITE                                                                                    */
/*************************************************************************************************/

// Test suite for the frame codec
type FrameUnitTestSuite struct {
	suite.Suite
}

// Run FrameUnitTestSuite test suite
func TestFrameUnitTestSuite(t *testing.T) {
	suite.Run(t, new(FrameUnitTestSuite))
}

// Parse a complete frame out of the provided bytes with a fresh incremental parser.
func parseFrame(t *testing.T, data []byte) *Frame {
	parser := frameParser{}
	buf := data
	frame, err := parser.advance(&buf)
	require.NoError(t, err)
	require.NotNil(t, frame)
	require.Empty(t, buf)
	return frame
}

/*************************************************************************************************/
/* SERIALIZATION - TESTS                                                                         */
/*************************************************************************************************/

// Test serialization of a short unmasked text frame: header bits and payload must land at the
// documented offsets.
func (suite *FrameUnitTestSuite) TestSerializeShortUnmaskedFrame() {
	frame := NewFrame(OpcodeText, []byte("Hello"), true)
	data := frame.Serialize()
	// FIN set, opcode text
	require.Equal(suite.T(), byte(0x81), data[0])
	// Unmasked, 7 bit length
	require.Equal(suite.T(), byte(0x05), data[1])
	require.Equal(suite.T(), []byte("Hello"), data[2:])
}

// Test the 16 bit extended length encoding kicks in above 125 payload bytes.
func (suite *FrameUnitTestSuite) TestSerializeExtended16BitLength() {
	payload := bytes.Repeat([]byte{0xAB}, 300)
	data := NewFrame(OpcodeBinary, payload, true).Serialize()
	require.Equal(suite.T(), byte(126), data[1]&0x7F)
	// Big endian length on 2 bytes
	require.Equal(suite.T(), byte(0x01), data[2])
	require.Equal(suite.T(), byte(0x2C), data[3])
	require.Len(suite.T(), data, 2+2+300)
}

// Test the 64 bit extended length encoding kicks in above 65535 payload bytes.
func (suite *FrameUnitTestSuite) TestSerializeExtended64BitLength() {
	payload := bytes.Repeat([]byte{0xCD}, 70000)
	data := NewFrame(OpcodeBinary, payload, true).Serialize()
	require.Equal(suite.T(), byte(127), data[1]&0x7F)
	require.Len(suite.T(), data, 2+8+70000)
}

// Test the serialized form is cached and SetPayload invalidates the cache.
func (suite *FrameUnitTestSuite) TestSerializeCacheInvalidation() {
	frame := NewFrame(OpcodeText, []byte("one"), true)
	first := frame.Serialize()
	second := frame.Serialize()
	// Same backing slice as long as the payload is untouched
	require.Same(suite.T(), &first[0], &second[0])
	// Mutating the payload invalidates the cache
	frame.SetPayload([]byte("two"))
	third := frame.Serialize()
	require.Equal(suite.T(), []byte("two"), third[2:])
}

/*************************************************************************************************/
/* ROUND TRIP - TESTS                                                                            */
/*************************************************************************************************/

// Test that parsing a serialized frame yields the original frame, for unmasked frames of every
// length encoding.
func (suite *FrameUnitTestSuite) TestRoundTripUnmasked() {
	for _, size := range []int{0, 5, 125, 126, 300, 65535, 65536} {
		payload := bytes.Repeat([]byte{0x42}, size)
		original := NewFrame(OpcodeBinary, payload, true)
		parsed := parseFrame(suite.T(), original.Serialize())
		require.Equal(suite.T(), original.Fin, parsed.Fin)
		require.Equal(suite.T(), original.Opcode, parsed.Opcode)
		require.Equal(suite.T(), original.Masked, parsed.Masked)
		require.Equal(suite.T(), uint64(size), parsed.PayloadLength)
		require.Equal(suite.T(), payload, parsed.Payload())
	}
}

// Test that a masked frame round trips: the parser must unmask the payload with the key carried
// by the frame.
func (suite *FrameUnitTestSuite) TestRoundTripMasked() {
	original := NewFrame(OpcodeText, []byte("masked payload"), true)
	require.NoError(suite.T(), original.Mask())
	parsed := parseFrame(suite.T(), original.Serialize())
	require.True(suite.T(), parsed.Masked)
	require.Equal(suite.T(), original.MaskingKey, parsed.MaskingKey)
	require.Equal(suite.T(), []byte("masked payload"), parsed.Payload())
}

// Test the known masked text frame from RFC 6455 section 5.7: a masked "Hello".
func (suite *FrameUnitTestSuite) TestParseRfcMaskedHello() {
	data := []byte{0x81, 0x85, 0x37, 0xfa, 0x21, 0x3d, 0x7f, 0x9f, 0x4d, 0x51, 0x58}
	frame := parseFrame(suite.T(), data)
	require.True(suite.T(), frame.Fin)
	require.Equal(suite.T(), OpcodeText, frame.Opcode)
	require.True(suite.T(), frame.Masked)
	require.Equal(suite.T(), []byte("Hello"), frame.Payload())
}

// Test applying the mask twice with the same key restores the original payload.
func (suite *FrameUnitTestSuite) TestMaskingInvolution() {
	key := [4]byte{0x37, 0xfa, 0x21, 0x3d}
	payload := []byte("an arbitrary payload of odd length!")
	masked := append([]byte{}, payload...)
	maskBytes(masked, key)
	require.NotEqual(suite.T(), payload, masked)
	maskBytes(masked, key)
	require.Equal(suite.T(), payload, masked)
}

/*************************************************************************************************/
/* INCREMENTAL PARSING - TESTS                                                                   */
/*************************************************************************************************/

// Test the parser preserves partial progress: feed a masked frame one byte at a time and expect
// the frame to complete only on the last byte.
func (suite *FrameUnitTestSuite) TestIncrementalParsingBytePerByte() {
	original := NewFrame(OpcodeText, []byte("Hello"), true)
	require.NoError(suite.T(), original.Mask())
	data := original.Serialize()
	parser := frameParser{}
	var buf []byte
	for i, b := range data {
		buf = append(buf, b)
		frame, err := parser.advance(&buf)
		require.NoError(suite.T(), err)
		if i < len(data)-1 {
			require.Nil(suite.T(), frame)
		} else {
			require.NotNil(suite.T(), frame)
			require.Equal(suite.T(), []byte("Hello"), frame.Payload())
		}
	}
}

// Test two back to back frames in the buffer are parsed one after the other and the latches
// reset in between.
func (suite *FrameUnitTestSuite) TestBackToBackFrames() {
	buf := append([]byte{}, NewFrame(OpcodeText, []byte("first"), true).Serialize()...)
	buf = append(buf, NewFrame(OpcodeBinary, []byte{0x01, 0x02}, true).Serialize()...)
	parser := frameParser{}
	first, err := parser.advance(&buf)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), first)
	require.Equal(suite.T(), OpcodeText, first.Opcode)
	second, err := parser.advance(&buf)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), second)
	require.Equal(suite.T(), OpcodeBinary, second.Opcode)
	require.Empty(suite.T(), buf)
}

// Test the parser rejects frames which declare a payload larger than the configured bound.
func (suite *FrameUnitTestSuite) TestFrameTooLarge() {
	parser := frameParser{maxPayload: 16}
	buf := NewFrame(OpcodeBinary, bytes.Repeat([]byte{0x00}, 17), true).Serialize()
	frame, err := parser.advance(&buf)
	require.Nil(suite.T(), frame)
	require.Error(suite.T(), err)
	violation, ok := err.(ProtocolViolationError)
	require.True(suite.T(), ok)
	require.Equal(suite.T(), CloseMessageTooBig, violation.CloseCode)
}

/*************************************************************************************************/
/* VALIDATION - TESTS                                                                            */
/*************************************************************************************************/

// Test structural validation: reserved opcodes, reserved bits and malformed control frames must
// all be rejected with a 1002 protocol error.
func (suite *FrameUnitTestSuite) TestValidate() {
	// Well formed data frame
	require.NoError(suite.T(), NewFrame(OpcodeText, []byte("ok"), true).Validate())
	// Reserved opcode
	err := NewFrame(Opcode(0x3), nil, true).Validate()
	require.Error(suite.T(), err)
	require.Equal(suite.T(), CloseProtocolError, err.(ProtocolViolationError).CloseCode)
	// Reserved bits set
	rsvFrame := NewFrame(OpcodeText, nil, true)
	rsvFrame.Rsv = 0x4
	err = rsvFrame.Validate()
	require.Error(suite.T(), err)
	// Fragmented control frame
	err = NewFrame(OpcodePing, nil, false).Validate()
	require.Error(suite.T(), err)
	// Control frame payload too long
	err = NewFrame(OpcodePing, bytes.Repeat([]byte{0x00}, 126), true).Validate()
	require.Error(suite.T(), err)
}

// Test the opcode helpers.
func (suite *FrameUnitTestSuite) TestOpcodeHelpers() {
	require.True(suite.T(), OpcodePing.IsControl())
	require.True(suite.T(), OpcodeClose.IsControl())
	require.False(suite.T(), OpcodeText.IsControl())
	require.True(suite.T(), OpcodeText.IsValid())
	require.False(suite.T(), Opcode(0xB).IsValid())
	require.Equal(suite.T(), "TEXT", OpcodeText.String())
	require.Equal(suite.T(), "RESERVED", Opcode(0x7).String())
}
