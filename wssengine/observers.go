package wssengine

/*************************************************************************************************/
/* OBSERVER INTERFACES                                                                           */
/*************************************************************************************************/

// ServerObserver receives listener lifecycle events. Implementations are called synchronously
// from the listener Open, Accept and Close methods, in registration order.
type ServerObserver interface {
	// Called once the listener socket is bound and the listener accepts connections.
	OnServerOpened(listener *WebsocketServerListener)
	// Called once the listener socket has been closed.
	OnServerClosed(listener *WebsocketServerListener)
	// Called when the listener has accepted a new connection and ran its first cycle.
	OnNewConnection(conn *Connection)
}

// ConnectionObserver receives per-connection protocol events. Implementations are called
// synchronously from Connection.Cycle, in registration order. Connection invariants are updated
// before dispatch so calling Send or Disconnect from inside a callback is safe.
type ConnectionObserver interface {
	// Called once a valid opening handshake request has been parsed, before the handshake
	// response is written. This is the last point where SetCookie has an effect.
	OnHandshakeReceived(conn *Connection)
	// Called once the handshake response has been sent and the connection is open.
	OnOpen(conn *Connection)
	// Called when a data message has been fully reassembled. Opcode is OpcodeText or
	// OpcodeBinary, text payloads are valid UTF-8.
	OnMessage(conn *Connection, opcode Opcode, payload []byte)
	// Called when a ping frame has been received. The pong reply has already been sent.
	OnPing(conn *Connection)
	// Called when a pong frame has been received.
	OnPong(conn *Connection)
	// Called exactly once, last, when the connection reaches the CLOSED state.
	OnClose(conn *Connection, code CloseCode, reason string)
}

/*************************************************************************************************/
/* OBSERVER BUS                                                                                  */
/*************************************************************************************************/

// serverObserverBus holds the observers subscribed to a listener. Registration is idempotent and
// removal is by identity.
type serverObserverBus struct {
	observers []ServerObserver
}

// Subscribe the provided observer. Subscribing an already registered observer is a no-op.
func (bus *serverObserverBus) subscribe(observer ServerObserver) {
	for _, registered := range bus.observers {
		if registered == observer {
			return
		}
	}
	bus.observers = append(bus.observers, observer)
}

// Unsubscribe the provided observer by identity. Unknown observers are ignored.
func (bus *serverObserverBus) unsubscribe(observer ServerObserver) {
	for i, registered := range bus.observers {
		if registered == observer {
			bus.observers = append(bus.observers[:i], bus.observers[i+1:]...)
			return
		}
	}
}

// # Description
//
// Call the provided function once per subscribed observer, in registration order. Dispatch
// iterates a snapshot so observers can subscribe or unsubscribe from inside a callback without
// corrupting the iteration. A panic raised by one observer is recovered and does not prevent the
// remaining observers from being notified.
func (bus *serverObserverBus) notify(fn func(observer ServerObserver)) {
	snapshot := make([]ServerObserver, len(bus.observers))
	copy(snapshot, bus.observers)
	for _, observer := range snapshot {
		guardObserverCall(func() { fn(observer) })
	}
}

// connectionObserverBus holds the observers subscribed to a connection. Same registration and
// dispatch rules as serverObserverBus.
type connectionObserverBus struct {
	observers []ConnectionObserver
}

func (bus *connectionObserverBus) subscribe(observer ConnectionObserver) {
	for _, registered := range bus.observers {
		if registered == observer {
			return
		}
	}
	bus.observers = append(bus.observers, observer)
}

func (bus *connectionObserverBus) unsubscribe(observer ConnectionObserver) {
	for i, registered := range bus.observers {
		if registered == observer {
			bus.observers = append(bus.observers[:i], bus.observers[i+1:]...)
			return
		}
	}
}

func (bus *connectionObserverBus) notify(fn func(observer ConnectionObserver)) {
	snapshot := make([]ConnectionObserver, len(bus.observers))
	copy(snapshot, bus.observers)
	for _, observer := range snapshot {
		guardObserverCall(func() { fn(observer) })
	}
}

// Run one observer callback and recover any panic it raises so a failing observer cannot corrupt
// the protocol state of its subject.
func guardObserverCall(fn func()) {
	defer func() {
		_ = recover()
	}()
	fn()
}
