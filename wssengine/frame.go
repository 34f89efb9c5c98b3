package wssengine

import (
	"crypto/rand"
	"encoding/binary"
)

/*************************************************************************************************/
/* OPCODES & CLOSE CODES                                                                         */
/*************************************************************************************************/

// Opcode identifies the type of a websocket frame (RFC 6455 section 5.2).
type Opcode byte

const (
	// Continuation frame of a fragmented message
	OpcodeContinuation Opcode = 0x0
	// Text data frame
	OpcodeText Opcode = 0x1
	// Binary data frame
	OpcodeBinary Opcode = 0x2
	// Close control frame
	OpcodeClose Opcode = 0x8
	// Ping control frame
	OpcodePing Opcode = 0x9
	// Pong control frame
	OpcodePong Opcode = 0xA
)

// # Description
//
// Returns true when the opcode is one of the opcodes defined by RFC 6455. Opcodes 0x3-0x7 and
// 0xB-0xF are reserved and must be rejected with a protocol error close.
func (o Opcode) IsValid() bool {
	switch o {
	case OpcodeContinuation, OpcodeText, OpcodeBinary, OpcodeClose, OpcodePing, OpcodePong:
		return true
	default:
		return false
	}
}

// Returns true when the opcode identifies a control frame (close, ping or pong).
func (o Opcode) IsControl() bool {
	return o == OpcodeClose || o == OpcodePing || o == OpcodePong
}

// Returns a human readable representation of the opcode.
func (o Opcode) String() string {
	switch o {
	case OpcodeContinuation:
		return "CONTINUATION"
	case OpcodeText:
		return "TEXT"
	case OpcodeBinary:
		return "BINARY"
	case OpcodeClose:
		return "CLOSE"
	case OpcodePing:
		return "PING"
	case OpcodePong:
		return "PONG"
	default:
		return "RESERVED"
	}
}

// CloseCode is a status code carried by a close frame (RFC 6455 section 7.4.1).
type CloseCode uint16

const (
	// Normal closure
	CloseNormal CloseCode = 1000
	// Endpoint is going away
	CloseGoingAway CloseCode = 1001
	// Protocol error
	CloseProtocolError CloseCode = 1002
	// Endpoint received data it cannot accept
	CloseUnsupportedData CloseCode = 1003
	// No status code was present in the close frame. Never sent on the wire.
	CloseNoStatus CloseCode = 1005
	// Connection was lost without a closing handshake. Never sent on the wire.
	CloseAbnormal CloseCode = 1006
	// Payload of a text message is not valid UTF-8
	CloseInvalidPayload CloseCode = 1007
	// Frame payload exceeds the size the endpoint is willing to process
	CloseMessageTooBig CloseCode = 1009
)

// Maximum payload length of a control frame (RFC 6455 section 5.5).
const maxControlPayloadLength = 125

/*************************************************************************************************/
/* FRAME                                                                                         */
/*************************************************************************************************/

// Frame is the unit exchanged on a websocket connection. A frame carries up to 2^63-1 payload
// bytes along with an opcode and control bits.
//
// The serialized form of a frame is cached by Serialize. Use SetPayload to mutate the payload so
// the cache is invalidated.
type Frame struct {
	// Final fragment flag
	Fin bool
	// The three reserved bits packed as a value between 0 and 7. Non-zero values are only legal
	// when an extension has been negotiated.
	Rsv byte
	// Frame opcode
	Opcode Opcode
	// Indicates whether the payload is masked. Client to server frames must be masked, server to
	// client frames must not.
	Masked bool
	// Masking key. Meaningful only when Masked is true.
	MaskingKey [4]byte
	// Declared payload length. Kept as a 64 bit value so frames larger than the platform word
	// size are representable.
	PayloadLength uint64
	// Payload bytes, unmasked
	payload []byte
	// Cached serialized form. Reset whenever the payload is mutated.
	cache []byte
}

// # Description
//
// Factory which creates a new frame with the provided opcode, payload and final flag. The created
// frame is unmasked, which is the shape of every frame a server emits.
func NewFrame(opcode Opcode, payload []byte, fin bool) *Frame {
	return &Frame{
		Fin:           fin,
		Opcode:        opcode,
		PayloadLength: uint64(len(payload)),
		payload:       payload,
	}
}

// Returns the frame payload. The returned slice must not be mutated directly, use SetPayload.
func (f *Frame) Payload() []byte {
	return f.payload
}

// # Description
//
// Replace the frame payload and invalidate the cached serialized form.
func (f *Frame) SetPayload(payload []byte) {
	f.payload = payload
	f.PayloadLength = uint64(len(payload))
	f.cache = nil
}

// # Description
//
// Enable masking on the frame with a fresh masking key drawn from crypto/rand. Server to client
// frames are never masked, the method exists for symmetry and for client use.
func (f *Frame) Mask() error {
	_, err := rand.Read(f.MaskingKey[:])
	if err != nil {
		return err
	}
	f.Masked = true
	f.cache = nil
	return nil
}

// # Description
//
// Serialize the frame to its wire form:
//
//	[FIN(1)][RSV(3)][OPCODE(4)] [MASK(1)][LEN7(7)] [ext-len: 0|16|64 bits] [mask-key: 0|32 bits] [payload]
//
// The result is cached: serializing the same frame twice returns the same byte slice. Mutating
// the payload through SetPayload invalidates the cache.
func (f *Frame) Serialize() []byte {
	// Return cached form when available
	if f.cache != nil {
		return f.cache
	}
	payloadLen := len(f.payload)
	// Compute the extended length encoding: 0, 2 or 8 extra bytes
	extLen := 0
	lenCode := byte(payloadLen)
	if payloadLen > 65535 {
		extLen = 8
		lenCode = 127
	} else if payloadLen > 125 {
		extLen = 2
		lenCode = 126
	}
	size := 2 + extLen + payloadLen
	if f.Masked {
		size += 4
	}
	buf := make([]byte, size)
	// Header byte: final flag, reserved bits and opcode
	buf[0] = byte(f.Opcode) & 0x0F
	buf[0] |= (f.Rsv & 0x07) << 4
	if f.Fin {
		buf[0] |= 0x80
	}
	// Mask-and-length byte
	buf[1] = lenCode
	if f.Masked {
		buf[1] |= 0x80
	}
	pos := 2
	// Extended length, big endian
	switch extLen {
	case 2:
		binary.BigEndian.PutUint16(buf[pos:], uint16(payloadLen))
		pos += 2
	case 8:
		binary.BigEndian.PutUint64(buf[pos:], uint64(payloadLen))
		pos += 8
	}
	// Masking key
	if f.Masked {
		copy(buf[pos:], f.MaskingKey[:])
		pos += 4
	}
	// Payload, XORed with the masking key when masked
	copy(buf[pos:], f.payload)
	if f.Masked {
		maskBytes(buf[pos:], f.MaskingKey)
	}
	f.cache = buf
	return buf
}

// # Description
//
// Validate the structural invariants of a received frame:
//   - the opcode is not a reserved one
//   - reserved bits are zero (no extension is ever negotiated)
//   - control frames are final and carry at most 125 payload bytes
//
// # Returns
//
// Nil when the frame is well formed, a ProtocolViolationError otherwise.
func (f *Frame) Validate() error {
	if !f.Opcode.IsValid() {
		return ProtocolViolationError{CloseCode: CloseProtocolError, Reason: "Reserved opcode."}
	}
	if f.Rsv != 0 {
		return ProtocolViolationError{CloseCode: CloseProtocolError, Reason: "Reserved bits set without negotiated extension."}
	}
	if f.Opcode.IsControl() {
		if !f.Fin {
			return ProtocolViolationError{CloseCode: CloseProtocolError, Reason: "Control frames must not be fragmented."}
		}
		if f.PayloadLength > maxControlPayloadLength {
			return ProtocolViolationError{CloseCode: CloseProtocolError, Reason: "Control frame payload too long."}
		}
	}
	return nil
}

// # Description
//
// XOR every payload byte with the masking key cycled modulo 4. Applying the function twice with
// the same key restores the original bytes.
func maskBytes(payload []byte, key [4]byte) {
	for i := range payload {
		payload[i] ^= key[i%4]
	}
}
