package wssengine

import (
	"github.com/stretchr/testify/mock"
)

// Mock for ConnectionObserver
type ConnectionObserverMock struct {
	mock.Mock
}

// Factory
func NewConnectionObserverMock() *ConnectionObserverMock {
	return &ConnectionObserverMock{
		Mock: mock.Mock{},
	}
}

// Mocked OnHandshakeReceived method
func (m *ConnectionObserverMock) OnHandshakeReceived(conn *Connection) {
	m.Called(conn)
}

// Mocked OnOpen method
func (m *ConnectionObserverMock) OnOpen(conn *Connection) {
	m.Called(conn)
}

// Mocked OnMessage method
func (m *ConnectionObserverMock) OnMessage(conn *Connection, opcode Opcode, payload []byte) {
	m.Called(conn, opcode, payload)
}

// Mocked OnPing method
func (m *ConnectionObserverMock) OnPing(conn *Connection) {
	m.Called(conn)
}

// Mocked OnPong method
func (m *ConnectionObserverMock) OnPong(conn *Connection) {
	m.Called(conn)
}

// Mocked OnClose method
func (m *ConnectionObserverMock) OnClose(conn *Connection, code CloseCode, reason string) {
	m.Called(conn, code, reason)
}
