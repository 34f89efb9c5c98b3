// This package contains the implementation of a simple chat websocket server built on the
// wssengine package. Every text message received from a client is broadcast to all open
// connections. The server owns the cooperative driver loop which accepts connections, cycles
// them and runs the periodic keepalive pass.
package chatwsserver

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"gitlab.com/lake42/go-websocket-server/wssengine"
)

// Delay between two driver loop iterations.
const tickInterval = 40 * time.Millisecond

// Number of driver ticks between two keepalive passes.
const keepaliveEveryTicks = 250

// Structure for the chat websocket server
type ChatWebsocketServer struct {
	// Websocket listener
	listener *wssengine.WebsocketServerListener
	// Live connections keyed by their opaque connection ID
	connections map[string]*wssengine.Connection
	// Keepalive policy bounds, copied from the engine options
	pingAfterIdle time.Duration
	dropAfterIdle time.Duration
	// Indicates that server has started
	started bool
	// Context bound to the driver loop lifetime
	serverCtx context.Context
	// Cancel function used to stop the driver loop
	cancelServerCtx context.CancelFunc
	// Buffered channel used to signal the driver loop has finished stopping
	stoppedChannel chan bool
	// Internal mutex used to coordinate start/stop
	startMu *sync.Mutex
	// Logger
	logger *log.Logger
}

// # Description
//
// Factory which creates a new, non-started ChatWebsocketServer.
//
// # Inputs
//
//   - host: Host the server listens on.
//   - port: Port the server listens on. 0 picks an ephemeral port.
//   - opts: Engine configuration options. If nil, default options are used.
//   - logger: Logger to use. If nil, default logger will be used.
//
// # Returns
//
// A new, non-started ChatWebsocketServer or an error if any has occured.
func NewChatWebsocketServer(
	host string,
	port int,
	opts *wssengine.WebsocketServerConfigurationOptions,
	logger *log.Logger) (*ChatWebsocketServer, error) {
	if opts == nil {
		// Use default options
		opts = wssengine.NewWebsocketServerConfigurationOptions()
	}
	if logger == nil {
		// Use default logger
		logger = log.Default()
	}
	// Create the listener. Tracer and meter providers default to the global ones.
	listener, err := wssengine.NewWebsocketServerListener(host, port, false, "", opts, nil, nil)
	if err != nil {
		return nil, err
	}
	// Build server with initial state
	srv := &ChatWebsocketServer{
		listener:      listener,
		connections:   map[string]*wssengine.Connection{},
		pingAfterIdle: time.Duration(opts.PingAfterIdleSeconds) * time.Second,
		dropAfterIdle: time.Duration(opts.DropAfterIdleSeconds) * time.Second,
		started:       false,
		startMu:       &sync.Mutex{},
		logger:        logger,
	}
	// The server observes its own listener and every accepted connection
	listener.Subscribe(srv)
	return srv, nil
}

// # Description
//
// Open the listener and start the driver loop goroutine which accepts incoming connections,
// cycles every live connection and periodically runs the keepalive pass.
//
// All engine calls happen from the driver loop goroutine: the engine is single threaded by
// design and the server never touches it from another goroutine while the loop runs.
func (srv *ChatWebsocketServer) Start() error {
	// Lock start mutex
	srv.startMu.Lock()
	defer srv.startMu.Unlock()
	if srv.started {
		// Server is already started -> error
		return fmt.Errorf("server already started")
	}
	// Open the listener
	if err := srv.listener.Open(context.Background()); err != nil {
		return err
	}
	// Create cancelable server context
	srv.serverCtx, srv.cancelServerCtx = context.WithCancel(context.Background())
	srv.stoppedChannel = make(chan bool, 1)
	// Start the driver loop
	srv.started = true
	go srv.runDriverLoop()
	return nil
}

// # Description
//
// Stop the chat websocket server: the driver loop disconnects every client, closes the listener
// and exits. The method blocks until the loop has finished stopping.
//
// # Returns
//
// Nil in case of success, an error otherwise.
func (srv *ChatWebsocketServer) Stop() error {
	// Lock start mutex
	srv.startMu.Lock()
	defer srv.startMu.Unlock()
	// Check started flag
	if !srv.started {
		return fmt.Errorf("server not started")
	}
	// Cancel server context so the driver loop performs its shutdown sequence
	srv.cancelServerCtx()
	// Wait for the driver loop to finish
	<-srv.stoppedChannel
	srv.started = false
	return nil
}

// Host and port the server listens on.
func (srv *ChatWebsocketServer) Addr() string {
	return srv.listener.Addr()
}

/*************************************************************************************************/
/* DRIVER LOOP                                                                                   */
/*************************************************************************************************/

// # Description
//
// Cooperative driver loop: each tick accepts at most one new connection, runs one cycle on every
// live connection and sleeps. Every keepaliveEveryTicks ticks the keepalive pass pings idle
// peers and drops dead ones. The loop exits once the server context is canceled.
func (srv *ChatWebsocketServer) runDriverLoop() {
	ticks := 0
	for {
		select {
		case <-srv.serverCtx.Done():
			// Disconnect every client, close the listener and signal the loop has stopped
			srv.shutdownDriverLoop()
			return
		default:
			ctx := context.Background()
			// Accept at most one new connection per tick
			if _, err := srv.listener.Accept(ctx); err != nil {
				srv.logger.Println("accept failed:", err)
			}
			// Cycle every live connection
			for _, conn := range srv.connections {
				conn.Cycle(ctx)
			}
			// Periodic keepalive pass
			ticks++
			if ticks%keepaliveEveryTicks == 0 {
				srv.doPings(ctx)
			}
			time.Sleep(tickInterval)
		}
	}
}

// # Description
//
// Keepalive pass: peers idle beyond the drop bound are disconnected with a 1001 going away
// close, peers idle beyond the ping bound are pinged.
func (srv *ChatWebsocketServer) doPings(ctx context.Context) {
	for _, conn := range srv.connections {
		if conn.GetReadyState() != wssengine.StateOpen {
			continue
		}
		idle := time.Since(conn.LastActivity())
		if idle >= srv.dropAfterIdle {
			srv.logger.Printf("%s - dropping idle connection\n", conn.Id())
			conn.Disconnect(ctx, wssengine.CloseGoingAway, "Idle timeout")
		} else if idle >= srv.pingAfterIdle {
			if err := conn.Ping(ctx); err != nil {
				srv.logger.Printf("%s - ping failed: %s\n", conn.Id(), err.Error())
			}
		}
	}
}

// Shutdown sequence of the driver loop: force every client connection closed (best effort close
// frame, immediate socket shutdown, no wait for the peer reply), then close the listener.
func (srv *ChatWebsocketServer) shutdownDriverLoop() {
	ctx := context.Background()
	for _, conn := range srv.connections {
		conn.Close(ctx, wssengine.CloseGoingAway, "Going away")
	}
	if err := srv.listener.Close(ctx); err != nil {
		srv.logger.Println("listener close failed:", err)
	}
	srv.stoppedChannel <- true
}

/*************************************************************************************************/
/* OBSERVER CALLBACKS                                                                            */
/*************************************************************************************************/

// Server observer callback: the listener has been opened.
func (srv *ChatWebsocketServer) OnServerOpened(listener *wssengine.WebsocketServerListener) {
	srv.logger.Println("chat server listening on", listener.Addr())
}

// Server observer callback: the listener has been closed.
func (srv *ChatWebsocketServer) OnServerClosed(listener *wssengine.WebsocketServerListener) {
	srv.logger.Println("chat server closed")
}

// Server observer callback: a new connection has been accepted. The server subscribes itself so
// it receives the connection events and tracks the connection in its table.
func (srv *ChatWebsocketServer) OnNewConnection(conn *wssengine.Connection) {
	srv.logger.Printf("%s - new connection from %s:%d\n", conn.Id(), conn.RemoteHost(), conn.RemotePort())
	conn.Subscribe(srv)
	srv.connections[conn.Id()] = conn
}

// Connection observer callback: the opening handshake request has been parsed.
func (srv *ChatWebsocketServer) OnHandshakeReceived(conn *wssengine.Connection) {
	srv.logger.Printf("%s - handshake received for resource %s\n", conn.Id(), conn.Resource())
}

// Connection observer callback: the connection is open and can chat.
func (srv *ChatWebsocketServer) OnOpen(conn *wssengine.Connection) {
	srv.logger.Printf("%s - connection open\n", conn.Id())
}

// Connection observer callback: broadcast every text message to all open connections. Binary
// messages are not part of the chat protocol and are ignored.
func (srv *ChatWebsocketServer) OnMessage(conn *wssengine.Connection, opcode wssengine.Opcode, payload []byte) {
	srv.logger.Printf("%s - type: %s - read: %s\n", conn.Id(), opcode.String(), string(payload))
	if opcode != wssengine.OpcodeText {
		return
	}
	for _, peer := range srv.connections {
		if peer.GetReadyState() != wssengine.StateOpen {
			continue
		}
		if err := peer.Send(context.Background(), wssengine.OpcodeText, payload); err != nil {
			srv.logger.Printf("%s - broadcast failed: %s\n", peer.Id(), err.Error())
		}
	}
}

// Connection observer callback: a ping has been received, the pong reply is already on the wire.
func (srv *ChatWebsocketServer) OnPing(conn *wssengine.Connection) {
	srv.logger.Printf("%s - ping\n", conn.Id())
}

// Connection observer callback: a pong has been received.
func (srv *ChatWebsocketServer) OnPong(conn *wssengine.Connection) {
	srv.logger.Printf("%s - pong\n", conn.Id())
}

// Connection observer callback: the connection is closed, drop it from the table.
func (srv *ChatWebsocketServer) OnClose(conn *wssengine.Connection, code wssengine.CloseCode, reason string) {
	srv.logger.Printf("%s - connection closed: %d %s\n", conn.Id(), code, reason)
	delete(srv.connections, conn.Id())
}
