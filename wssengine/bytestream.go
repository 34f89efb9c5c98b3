package wssengine

import (
	"bytes"
	"errors"
	"net"
	"os"
	"time"
)

/*************************************************************************************************/
/* BYTE STREAM                                                                                   */
/*************************************************************************************************/

// ByteStream wraps a network connection (plain TCP or TLS) and exposes the non-blocking byte
// oriented primitives the engine is built on: reads return whatever is available, writes may be
// partial and callers must handle short writes.
//
// Non-blocking reads are implemented with a read deadline pollWindow ahead of now: when no byte
// arrives within that window the read fails with os.ErrDeadlineExceeded which the stream swallows
// and reports as "no data".
type ByteStream struct {
	// Underlying network connection
	conn net.Conn
	// Blocking mode flag
	blocking bool
	// Set once the peer has closed its side of the connection
	eof bool
	// Bytes received from the socket but not consumed yet. Needed so ReadLine can wait for a
	// complete line without discarding partial ones.
	buf []byte
	// Counters
	bytesIn  uint64
	bytesOut uint64
}

// # Description
//
// Factory which wraps the provided network connection into a byte stream. The stream starts in
// blocking mode, SetBlocking(false) switches it to non-blocking mode.
func NewByteStream(conn net.Conn) *ByteStream {
	return &ByteStream{
		conn:     conn,
		blocking: true,
	}
}

// # Description
//
// Switch the stream between blocking and non-blocking mode. In non-blocking mode read methods
// return immediately with whatever data is available, possibly none.
func (s *ByteStream) SetBlocking(blocking bool) {
	s.blocking = blocking
}

// Returns true once the peer has shut down its side of the connection.
func (s *ByteStream) IsEOF() bool {
	return s.eof
}

// Number of bytes read from the socket since the stream was created.
func (s *ByteStream) BytesIn() uint64 {
	return s.bytesIn
}

// Number of bytes written to the socket since the stream was created.
func (s *ByteStream) BytesOut() uint64 {
	return s.bytesOut
}

// # Description
//
// Pull available bytes from the socket into the internal buffer. In non-blocking mode the pull
// returns immediately when nothing is available. EOF and transport failures latch the eof flag,
// subsequent reads only drain the internal buffer.
func (s *ByteStream) fill(max int) {
	if s.eof {
		return
	}
	if !s.blocking {
		// Short deadline: buffered bytes are returned at once, an idle socket times out after
		// pollWindow. A deadline already in the past would fail the read before any byte is read.
		_ = s.conn.SetReadDeadline(time.Now().Add(pollWindow))
	} else {
		_ = s.conn.SetReadDeadline(time.Time{})
	}
	tmp := make([]byte, max)
	n, err := s.conn.Read(tmp)
	if n > 0 {
		s.buf = append(s.buf, tmp[:n]...)
		s.bytesIn += uint64(n)
	}
	if err != nil {
		var netErr net.Error
		if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			// No data available right now
			return
		}
		// EOF or a transport failure: either way no more bytes will come
		s.eof = true
	}
}

// # Description
//
// Read at most max bytes from the stream. In non-blocking mode the method returns immediately
// with whatever is available.
//
// # Returns
//
// The read bytes, nil when nothing is available.
func (s *ByteStream) Read(max int) []byte {
	s.fill(max)
	if len(s.buf) == 0 {
		return nil
	}
	n := max
	if n > len(s.buf) {
		n = len(s.buf)
	}
	out := s.buf[:n]
	s.buf = s.buf[n:]
	return out
}

// # Description
//
// Read one line terminated by CRLF from the stream. Bytes of a partial line stay buffered until
// the terminator shows up.
//
// # Returns
//
// The line without its terminator and true, or nil and false when no complete line is buffered
// yet. An empty header-block terminator line is reported as an empty slice and true.
func (s *ByteStream) ReadLine() ([]byte, bool) {
	s.fill(readLineChunk)
	idx := bytes.IndexByte(s.buf, '\n')
	if idx < 0 {
		return nil, false
	}
	line := s.buf[:idx]
	s.buf = s.buf[idx+1:]
	// Strip the carriage return
	line = bytes.TrimSuffix(line, []byte{'\r'})
	return line, true
}

// Number of bytes pulled from the socket per ReadLine call.
const readLineChunk = 1024

// Longest time a non-blocking read or accept waits for data before reporting that none is there.
const pollWindow = time.Millisecond

// # Description
//
// Write the provided bytes to the socket. Writes may be partial: the method returns the number
// of bytes actually written and callers must handle short writes.
func (s *ByteStream) Write(data []byte) (int, error) {
	n, err := s.conn.Write(data)
	if n > 0 {
		s.bytesOut += uint64(n)
	}
	if err != nil {
		return n, TransportError{Err: err}
	}
	return n, nil
}

// # Description
//
// Close the underlying socket. Reads and writes fail afterwards.
func (s *ByteStream) Close() error {
	s.eof = true
	return s.conn.Close()
}

// Remote address of the underlying socket.
func (s *ByteStream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}
