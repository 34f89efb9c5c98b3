package chatwsserver

import (
	"context"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"nhooyr.io/websocket"
)

/*************************************************************************************************/
/* TEST SUITE                                                                                    */
/*************************************************************************************************/

// Test suite for ChatWebsocketServer
type ChatWebsocketServerTestSuite struct {
	suite.Suite
}

// Run ChatWebsocketServerTestSuite test suite
func TestChatWebsocketServerTestSuite(t *testing.T) {
	suite.Run(t, new(ChatWebsocketServerTestSuite))
}

// Create and start a chat server on an ephemeral loopback port.
func startTestServer(t *testing.T) *ChatWebsocketServer {
	srv, err := NewChatWebsocketServer("127.0.0.1", 0, nil, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	return srv
}

/*************************************************************************************************/
/* CHATWEBSOCKETSERVER - TESTS                                                                   */
/*************************************************************************************************/

// # Description
//
// Test server Start/Stop methods.
//
// Test will succeed if
//   - Server starts without error
//   - A websocket client connect to the server & perform a ping/pong
//   - Server stops without error
//   - A second ping from the same client fails because connection is closed.
func (suite *ChatWebsocketServerTestSuite) TestServerStartAndStop() {
	// Create and start server
	srv := startTestServer(suite.T())
	// Connect client
	conn, res, err := websocket.Dial(context.Background(), "ws://"+srv.Addr(), nil)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), res)
	// Automatically process incoming control frames & ping
	conn.CloseRead(context.Background())
	err = conn.Ping(context.Background())
	require.NoError(suite.T(), err)
	// Stop server
	err = srv.Stop()
	require.NoError(suite.T(), err)
	// Pause before testing connection again
	time.Sleep(2 * time.Second)
	// Ping again and expect it to fail because connection is closed
	err = conn.Ping(context.Background())
	require.Error(suite.T(), err)
}

// # Description
//
// Test server Start method. Test will succeed if server starts and then returns an error on
// second Start method call.
func (suite *ChatWebsocketServerTestSuite) TestServerStartErrorAlreadyStarted() {
	// Create and start server
	srv := startTestServer(suite.T())
	// Start server - Must error
	err := srv.Start()
	require.Error(suite.T(), err)
	// Stop server
	err = srv.Stop()
	require.NoError(suite.T(), err)
}

// # Description
//
// Test server Stop method. Test will succeed if server stop returns an error when method is
// called while server has not started.
func (suite *ChatWebsocketServerTestSuite) TestServerStopErrorSrvNotStarted() {
	// Create server
	srv, err := NewChatWebsocketServer("127.0.0.1", 0, nil, nil)
	require.NoError(suite.T(), err)
	// Stop server
	err = srv.Stop()
	require.Error(suite.T(), err)
}

// # Description
//
// Test the chat broadcast feature. Test will succeed if two websocket clients can open a
// connection to the server and both receive the text message one of them sends.
func (suite *ChatWebsocketServerTestSuite) TestChatBroadcast() {
	// Create and start server
	srv := startTestServer(suite.T())
	defer srv.Stop()
	// Connect two clients
	sender, _, err := gorillaws.DefaultDialer.Dial("ws://"+srv.Addr(), nil)
	require.NoError(suite.T(), err)
	defer sender.Close()
	receiver, _, err := gorillaws.DefaultDialer.Dial("ws://"+srv.Addr(), nil)
	require.NoError(suite.T(), err)
	defer receiver.Close()
	// Give the driver loop a little time to open both connections
	time.Sleep(200 * time.Millisecond)
	// Send a chat message from the first client
	expected := "hello room"
	err = sender.WriteMessage(gorillaws.TextMessage, []byte(expected))
	require.NoError(suite.T(), err)
	// Both clients receive the broadcast
	for _, client := range []*gorillaws.Conn{sender, receiver} {
		require.NoError(suite.T(), client.SetReadDeadline(time.Now().Add(5*time.Second)))
		msgType, msg, err := client.ReadMessage()
		require.NoError(suite.T(), err)
		require.Equal(suite.T(), gorillaws.TextMessage, msgType)
		require.Equal(suite.T(), expected, string(msg))
	}
}

// # Description
//
// Test several chat messages in a row reach every connected client in wire order.
func (suite *ChatWebsocketServerTestSuite) TestChatMessageOrdering() {
	// Create and start server
	srv := startTestServer(suite.T())
	defer srv.Stop()
	// Connect a client
	conn, _, err := gorillaws.DefaultDialer.Dial("ws://"+srv.Addr(), nil)
	require.NoError(suite.T(), err)
	defer conn.Close()
	time.Sleep(100 * time.Millisecond)
	// Send several messages and expect them echoed back in order
	messages := []string{"first", "second", "third", "fourth"}
	for _, message := range messages {
		require.NoError(suite.T(), conn.WriteMessage(gorillaws.TextMessage, []byte(message)))
	}
	for _, expected := range messages {
		require.NoError(suite.T(), conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, msg, err := conn.ReadMessage()
		require.NoError(suite.T(), err)
		require.Equal(suite.T(), expected, string(msg))
	}
}
