package wssengine

import (
	"github.com/stretchr/testify/mock"
)

// Mock for ServerObserver
type ServerObserverMock struct {
	mock.Mock
}

// Factory
func NewServerObserverMock() *ServerObserverMock {
	return &ServerObserverMock{
		Mock: mock.Mock{},
	}
}

// Mocked OnServerOpened method
func (m *ServerObserverMock) OnServerOpened(listener *WebsocketServerListener) {
	m.Called(listener)
}

// Mocked OnServerClosed method
func (m *ServerObserverMock) OnServerClosed(listener *WebsocketServerListener) {
	m.Called(listener)
}

// Mocked OnNewConnection method
func (m *ServerObserverMock) OnNewConnection(conn *Connection) {
	m.Called(conn)
}
