package wssengine

import "encoding/binary"

/*************************************************************************************************/
/* INCREMENTAL FRAME PARSER                                                                      */
/*************************************************************************************************/

// frameParser incrementally decodes frames out of the per-connection read buffer. The parser is
// driven by Connection.Cycle: each call consumes whatever bytes are available and preserves
// partial progress until the frame completes.
//
// Progress is tracked with three latches: headerRead, lengthRead and maskRead.
type frameParser struct {
	// Maximum accepted payload length. 0 means unlimited.
	maxPayload uint64
	// Latches
	headerRead bool
	lengthRead bool
	maskRead   bool
	// 7 bit length code read from the second header byte
	lenCode byte
	// Frame under construction
	frame *Frame
}

// # Description
//
// Consume bytes from the front of the provided buffer and advance the frame under construction
// as far as possible. The buffer is shrunk in place by the number of consumed bytes.
//
// # Returns
//
// The completed frame once all its bytes have been consumed, nil while the frame is still
// partial. An error is returned when the declared payload length exceeds maxPayload; in that
// case the frame under construction is left as is and the caller is expected to fail the
// connection.
func (p *frameParser) advance(buf *[]byte) (*Frame, error) {
	// Read the two fixed header bytes
	if !p.headerRead {
		if len(*buf) < 2 {
			return nil, nil
		}
		b0 := (*buf)[0]
		b1 := (*buf)[1]
		*buf = (*buf)[2:]
		p.frame = &Frame{
			Fin:    b0&0x80 != 0,
			Rsv:    (b0 >> 4) & 0x07,
			Opcode: Opcode(b0 & 0x0F),
			Masked: b1&0x80 != 0,
		}
		p.lenCode = b1 & 0x7F
		p.frame.PayloadLength = uint64(p.lenCode)
		p.headerRead = true
	}
	// Read the extended length when the 7 bit code announces one
	if !p.lengthRead {
		switch {
		case p.lenCode <= 125:
			p.lengthRead = true
		case p.lenCode == 126:
			if len(*buf) < 2 {
				return nil, nil
			}
			p.frame.PayloadLength = uint64(binary.BigEndian.Uint16((*buf)[:2]))
			*buf = (*buf)[2:]
			p.lengthRead = true
		case p.lenCode == 127:
			if len(*buf) < 8 {
				return nil, nil
			}
			p.frame.PayloadLength = binary.BigEndian.Uint64((*buf)[:8])
			*buf = (*buf)[8:]
			p.lengthRead = true
		}
		if !p.lengthRead {
			return nil, nil
		}
		// Reject frames larger than what the connection accepts
		if p.maxPayload > 0 && p.frame.PayloadLength > p.maxPayload {
			return nil, ProtocolViolationError{CloseCode: CloseMessageTooBig, Reason: "Frame too large."}
		}
	}
	// Read the masking key
	if p.frame.Masked && !p.maskRead {
		if len(*buf) < 4 {
			return nil, nil
		}
		copy(p.frame.MaskingKey[:], (*buf)[:4])
		*buf = (*buf)[4:]
		p.maskRead = true
	}
	// Read the payload
	if uint64(len(*buf)) < p.frame.PayloadLength {
		return nil, nil
	}
	payload := make([]byte, p.frame.PayloadLength)
	copy(payload, (*buf)[:p.frame.PayloadLength])
	*buf = (*buf)[p.frame.PayloadLength:]
	// Unmask in place
	if p.frame.Masked {
		maskBytes(payload, p.frame.MaskingKey)
	}
	complete := p.frame
	complete.payload = payload
	// Reset latches for the next frame
	p.headerRead = false
	p.lengthRead = false
	p.maskRead = false
	p.lenCode = 0
	p.frame = nil
	return complete, nil
}
