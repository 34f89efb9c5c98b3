package wssengine

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

/*************************************************************************************************/
/* TEST SUITE                                                                                    */
/*************************************************************************************************/

// Test suite for the non-blocking byte stream
type ByteStreamUnitTestSuite struct {
	suite.Suite
}

// Run ByteStreamUnitTestSuite test suite
func TestByteStreamUnitTestSuite(t *testing.T) {
	suite.Run(t, new(ByteStreamUnitTestSuite))
}

// Create a connected TCP socket pair on the loopback interface.
func tcpPair(t *testing.T) (server net.Conn, client net.Conn) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	client, err = net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	server, err = listener.Accept()
	require.NoError(t, err)
	return server, client
}

// Poll the provided condition until it holds or the timeout elapses.
func eventually(t *testing.T, condition func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.FailNow(t, "condition not reached before timeout")
}

/*************************************************************************************************/
/* UNIT TESTS                                                                                    */
/*************************************************************************************************/

// Test a non-blocking read returns immediately with no data instead of stalling.
func (suite *ByteStreamUnitTestSuite) TestNonBlockingReadReturnsNothing() {
	server, client := tcpPair(suite.T())
	defer server.Close()
	defer client.Close()
	stream := NewByteStream(server)
	stream.SetBlocking(false)
	start := time.Now()
	data := stream.Read(128)
	require.Nil(suite.T(), data)
	require.Less(suite.T(), time.Since(start), time.Second)
	require.False(suite.T(), stream.IsEOF())
}

// Test written bytes show up on a subsequent read and the counters add up.
func (suite *ByteStreamUnitTestSuite) TestReadAndCounters() {
	server, client := tcpPair(suite.T())
	defer server.Close()
	defer client.Close()
	stream := NewByteStream(server)
	stream.SetBlocking(false)
	_, err := client.Write([]byte("hello"))
	require.NoError(suite.T(), err)
	var data []byte
	eventually(suite.T(), func() bool {
		data = append(data, stream.Read(128)...)
		return len(data) == 5
	})
	require.Equal(suite.T(), []byte("hello"), data)
	require.Equal(suite.T(), uint64(5), stream.BytesIn())
	// Write back and check the out counter
	n, err := stream.Write([]byte("ok"))
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), 2, n)
	require.Equal(suite.T(), uint64(2), stream.BytesOut())
}

// Test ReadLine withholds partial lines until the CRLF terminator shows up.
func (suite *ByteStreamUnitTestSuite) TestReadLine() {
	server, client := tcpPair(suite.T())
	defer server.Close()
	defer client.Close()
	stream := NewByteStream(server)
	stream.SetBlocking(false)
	// Partial line: nothing to deliver yet
	_, err := client.Write([]byte("GET / HT"))
	require.NoError(suite.T(), err)
	eventually(suite.T(), func() bool {
		stream.fill(readLineChunk)
		return len(stream.buf) == 8
	})
	line, ok := stream.ReadLine()
	require.False(suite.T(), ok)
	require.Nil(suite.T(), line)
	// Complete the line plus the empty terminator line
	_, err = client.Write([]byte("TP/1.1\r\n\r\n"))
	require.NoError(suite.T(), err)
	eventually(suite.T(), func() bool {
		line, ok = stream.ReadLine()
		return ok
	})
	require.Equal(suite.T(), []byte("GET / HTTP/1.1"), line)
	// The empty terminator line is delivered as an empty slice
	line, ok = stream.ReadLine()
	require.True(suite.T(), ok)
	require.Empty(suite.T(), line)
}

// Test the EOF flag latches once the peer has closed its side.
func (suite *ByteStreamUnitTestSuite) TestEofDetection() {
	server, client := tcpPair(suite.T())
	defer server.Close()
	stream := NewByteStream(server)
	stream.SetBlocking(false)
	require.NoError(suite.T(), client.Close())
	eventually(suite.T(), func() bool {
		stream.Read(128)
		return stream.IsEOF()
	})
}

// Test writes fail with a transport error once the socket is closed.
func (suite *ByteStreamUnitTestSuite) TestWriteAfterCloseFails() {
	server, client := tcpPair(suite.T())
	defer client.Close()
	stream := NewByteStream(server)
	require.NoError(suite.T(), stream.Close())
	_, err := stream.Write([]byte("data"))
	require.Error(suite.T(), err)
	transport, ok := err.(TransportError)
	require.True(suite.T(), ok)
	require.NotNil(suite.T(), transport.Unwrap())
}
