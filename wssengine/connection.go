package wssengine

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

/*************************************************************************************************/
/* READY STATE                                                                                   */
/*************************************************************************************************/

// ReadyState is the observable phase of a connection. States only advance forward:
// NEW -> OPEN -> CLOSING -> CLOSED.
type ReadyState int

const (
	// Connection accepted, opening handshake not complete yet
	StateNew ReadyState = iota
	// Handshake complete, data and control frames flow
	StateOpen
	// A close frame has been sent, waiting for the peer reply or the grace period
	StateClosing
	// Connection is terminated. Terminal state.
	StateClosed
)

// Returns a human readable representation of the ready state.
func (s ReadyState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

/*************************************************************************************************/
/* CONNECTION                                                                                    */
/*************************************************************************************************/

// Connection manages one websocket peer: the opening handshake, the frame traffic while open and
// the closing handshake. A connection never blocks: all progress is made through Cycle which the
// application driver calls cooperatively.
//
// The connection exclusively owns its byte stream. Observers hold non-owning references back to
// the connection and are notified synchronously from Cycle.
type Connection struct {
	// Opaque stable identifier of the connection
	id string
	// Byte stream the connection exclusively owns
	stream *ByteStream
	// Engine configuration options
	opts *WebsocketServerConfigurationOptions
	// Remote peer host and port
	remoteHost string
	remotePort int
	// Ready state, advances monotonically
	state ReadyState
	// Opening handshake request parser
	request *handshakeRequest
	// Cookies queued before the handshake response is sent
	pendingCookies []Cookie
	// Subprotocol negotiated during the handshake. Empty when none matched.
	subprotocol string
	// Partial frame parser state
	parser frameParser
	// Bytes read from the stream and not consumed by the parser yet
	readBuf []byte
	// Fragment assembly state: opcode of the message under assembly and accumulated payload
	// bytes. messageInProgress is false when no message is being assembled.
	messageInProgress bool
	messageOpcode     Opcode
	fragments         []byte
	// Closing handshake flags
	receivedClose bool
	sentClose     bool
	// When our close frame was sent. Zero until then.
	closeStartedAt time.Time
	// Final close code and reason delivered with the close event
	closeCode   CloseCode
	closeReason string
	// Set once the close event has been delivered. The close event fires exactly once.
	closeEmitted bool
	// Handshake progress flags
	readHandshake bool
	sentHandshake bool
	// Instant of the last byte traffic, used by the application keepalive pass
	lastActivity time.Time
	// Subscribed observers
	observers connectionObserverBus
	// Tracer used to instrument connection code
	tracer trace.Tracer
	// Engine instruments fed with byte counters
	instruments *websocketServerInstruments
	// Bytes already reported to the instruments
	reportedIn  uint64
	reportedOut uint64
	// Hook called once when the connection leaves the NEW state. Wired by the listener to free
	// the connecting slot of the source IP.
	onLeaveNew func(conn *Connection)
	leftNew    bool
}

// # Description
//
// Factory which wraps an accepted network connection. The byte stream is switched to
// non-blocking mode so Cycle never stalls the driver loop.
func newConnection(
	netConn net.Conn,
	opts *WebsocketServerConfigurationOptions,
	tracer trace.Tracer,
	instruments *websocketServerInstruments,
	onLeaveNew func(conn *Connection)) *Connection {
	// Split the remote address into host and port
	host, portStr, err := net.SplitHostPort(netConn.RemoteAddr().String())
	if err != nil {
		host = netConn.RemoteAddr().String()
		portStr = "0"
	}
	port, _ := strconv.Atoi(portStr)
	// Wrap the socket and switch it to non-blocking mode
	stream := NewByteStream(netConn)
	stream.SetBlocking(false)
	return &Connection{
		id:           uuid.New().String(),
		stream:       stream,
		opts:         opts,
		remoteHost:   host,
		remotePort:   port,
		state:        StateNew,
		request:      newHandshakeRequest(),
		parser:       frameParser{maxPayload: uint64(opts.MaxReadPayloadBytes)},
		lastActivity: time.Now(),
		tracer:       tracer,
		instruments:  instruments,
		onLeaveNew:   onLeaveNew,
	}
}

/*************************************************************************************************/
/* ACCESSORS                                                                                     */
/*************************************************************************************************/

// Opaque stable identifier of the connection. Use it as the identity of the connection in
// application containers instead of retaining owning references.
func (c *Connection) Id() string {
	return c.id
}

// Remote peer host.
func (c *Connection) RemoteHost() string {
	return c.remoteHost
}

// Remote peer port.
func (c *Connection) RemotePort() int {
	return c.remotePort
}

// Current ready state of the connection.
func (c *Connection) GetReadyState() ReadyState {
	return c.state
}

// Resource path of the opening handshake request. Empty until the handshake has been read.
func (c *Connection) Resource() string {
	return c.request.resource
}

// Subprotocol negotiated during the handshake. Empty when none matched.
func (c *Connection) Subprotocol() string {
	return c.subprotocol
}

// # Description
//
// Get a request header by its case-insensitive name.
//
// # Returns
//
// The header value and true, or an empty string and false when the header is absent.
func (c *Connection) GetHeader(name string) (string, bool) {
	value, ok := c.request.headers[strings.ToLower(name)]
	return value, ok
}

// # Description
//
// Get a request cookie value by name.
//
// # Returns
//
// The cookie value and true, or an empty string and false when the cookie is absent.
func (c *Connection) GetCookie(name string) (string, bool) {
	value, ok := c.request.cookies[name]
	return value, ok
}

// # Description
//
// Queue a cookie which will be written as a Set-Cookie header in the handshake response. The
// method only has an effect while the connection is NEW: cookies set after the handshake
// response has been sent are ignored.
func (c *Connection) SetCookie(cookie Cookie) {
	if c.state != StateNew || c.sentHandshake {
		return
	}
	c.pendingCookies = append(c.pendingCookies, cookie)
}

// Instant of the last byte traffic on the connection. Used by the application keepalive pass.
func (c *Connection) LastActivity() time.Time {
	return c.lastActivity
}

// Number of bytes received from the peer.
func (c *Connection) BytesIn() uint64 {
	return c.stream.BytesIn()
}

// Number of bytes sent to the peer.
func (c *Connection) BytesOut() uint64 {
	return c.stream.BytesOut()
}

// Subscribe a connection observer. Subscribing an already registered observer is a no-op.
func (c *Connection) Subscribe(observer ConnectionObserver) {
	c.observers.subscribe(observer)
}

// Unsubscribe a connection observer by identity.
func (c *Connection) Unsubscribe(observer ConnectionObserver) {
	c.observers.unsubscribe(observer)
}

/*************************************************************************************************/
/* CYCLE                                                                                         */
/*************************************************************************************************/

// # Description
//
// Run one cooperative step of the connection: make progress on the opening handshake while NEW,
// otherwise read available bytes, advance the frame parser and dispatch completed frames. The
// method returns promptly and never blocks, partial progress is preserved across calls.
//
// Cycle is idempotent: calling it on a CLOSED connection is a no-op.
func (c *Connection) Cycle(ctx context.Context) {
	switch c.state {
	case StateNew:
		c.cycleHandshake(ctx)
	case StateOpen, StateClosing:
		c.cycleFrames(ctx)
	case StateClosed:
		// Nothing left to do
	}
	c.reportTraffic(ctx)
}

// # Description
//
// Handshake step of the cycle: consume available request lines, then validate the request, emit
// the handshake-received event, write the response and open the connection.
func (c *Connection) cycleHandshake(ctx context.Context) {
	// Consume every complete line available on the stream
	for !c.request.complete {
		line, ok := c.stream.ReadLine()
		if !ok {
			// The peer going away before completing its handshake is an abnormal closure
			if c.stream.IsEOF() {
				c.shutdown(ctx, CloseAbnormal, "")
			}
			return
		}
		c.lastActivity = time.Now()
		if err := c.request.feedLine(string(line)); err != nil {
			c.rejectHandshake(ctx, err)
			return
		}
	}
	c.readHandshake = true
	// Validate the upgrade request
	if err := c.request.validate(); err != nil {
		c.rejectHandshake(ctx, err)
		return
	}
	ctx, span := c.tracer.Start(ctx, spanConnectionHandshake,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(attrConnectionId, c.id),
			attribute.String(attrRemoteHost, c.remoteHost),
			attribute.String(attrResource, c.request.resource),
		))
	defer span.End()
	// Select the subprotocol: first client preferred entry present in the allowed set wins
	c.subprotocol = selectSubprotocol(c.request.requestedSubprotocols(), c.opts.Subprotocols)
	span.SetAttributes(attribute.String(attrSubprotocol, c.subprotocol))
	// Notify observers before the response is written so they can still queue cookies
	c.observers.notify(func(observer ConnectionObserver) { observer.OnHandshakeReceived(c) })
	// Compose and send the handshake response
	response := c.composeHandshakeResponse()
	if !c.writeAll(ctx, []byte(response)) {
		span.SetStatus(codes.Error, codes.Error.String())
		return
	}
	c.sentHandshake = true
	// The connection is open
	c.state = StateOpen
	c.leaveNew()
	span.SetStatus(codes.Ok, codes.Ok.String())
	c.observers.notify(func(observer ConnectionObserver) { observer.OnOpen(c) })
}

// # Description
//
// Reply to a malformed handshake request with a plain HTTP error and terminate the connection
// with a 1002 protocol error close event. No websocket event is emitted beyond the close.
func (c *Connection) rejectHandshake(ctx context.Context, err error) {
	status := 400
	if hsErr, ok := err.(HandshakeError); ok {
		status = hsErr.HttpStatus
	}
	var response string
	switch status {
	case 405:
		response = "HTTP/1.1 405 Method Not Allowed\r\nAllow: GET\r\n\r\n"
	default:
		response = "HTTP/1.1 400 Bad Request\r\n\r\n"
	}
	c.writeAll(ctx, []byte(response))
	c.shutdown(ctx, CloseProtocolError, "")
}

// # Description
//
// Compose the 101 Switching Protocols response: upgrade headers, the accept key derived from the
// client key, the optional Server header, one Set-Cookie line per queued cookie and the selected
// subprotocol when one matched.
func (c *Connection) composeHandshakeResponse() string {
	var sb strings.Builder
	sb.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	sb.WriteString("Upgrade: websocket\r\n")
	sb.WriteString("Connection: Upgrade\r\n")
	sb.WriteString(fmt.Sprintf("Sec-WebSocket-Accept: %s\r\n", computeAcceptKey(c.request.headers["sec-websocket-key"])))
	if c.opts.ServerHeader != "" {
		sb.WriteString(fmt.Sprintf("Server: %s\r\n", c.opts.ServerHeader))
	}
	for _, cookie := range c.pendingCookies {
		sb.WriteString(fmt.Sprintf("Set-Cookie: %s\r\n", cookie.Serialize()))
	}
	if c.subprotocol != "" {
		sb.WriteString(fmt.Sprintf("Sec-WebSocket-Protocol: %s\r\n", c.subprotocol))
	}
	sb.WriteString("\r\n")
	return sb.String()
}

// # Description
//
// Select the subprotocol to speak: iterate the client preferred order and return the first entry
// also present in the allowed set. Returns an empty string when nothing matches, in which case
// the handshake still succeeds without a subprotocol.
func selectSubprotocol(requested []string, allowed []string) string {
	for _, candidate := range requested {
		for _, accepted := range allowed {
			if candidate == accepted {
				return candidate
			}
		}
	}
	return ""
}

// # Description
//
// Frame step of the cycle: enforce the close grace, detect EOF, pull available bytes and advance
// the frame parser, dispatching every completed frame.
func (c *Connection) cycleFrames(ctx context.Context) {
	// Force the closure once the grace elapsed without a peer close reply
	if c.state == StateClosing && !c.closeStartedAt.IsZero() &&
		time.Since(c.closeStartedAt) >= time.Duration(c.opts.CloseGraceSeconds)*time.Second {
		c.shutdown(ctx, c.closeCode, c.closeReason)
		return
	}
	// Pull available bytes
	data := c.stream.Read(c.opts.ReadChunkBytes)
	if len(data) > 0 {
		c.readBuf = append(c.readBuf, data...)
		c.lastActivity = time.Now()
	} else if c.stream.IsEOF() && len(c.readBuf) == 0 {
		// The peer dropped the TCP connection without a closing handshake
		c.shutdown(ctx, CloseAbnormal, "")
		return
	}
	// Advance the parser as far as the buffered bytes allow
	for c.state == StateOpen || c.state == StateClosing {
		frame, err := c.parser.advance(&c.readBuf)
		if err != nil {
			violation := err.(ProtocolViolationError)
			c.failConnection(ctx, violation.CloseCode, violation.Reason)
			return
		}
		if frame == nil {
			return
		}
		c.handleFrame(ctx, frame)
	}
}

// # Description
//
// Dispatch one completed inbound frame through the protocol rules: structural validation,
// masking policy, control frame handling and data message assembly.
func (c *Connection) handleFrame(ctx context.Context, frame *Frame) {
	// Structural invariants: reserved opcodes, reserved bits, malformed control frames
	if err := frame.Validate(); err != nil {
		violation := err.(ProtocolViolationError)
		c.failConnection(ctx, violation.CloseCode, violation.Reason)
		return
	}
	// Every client to server frame must be masked
	if !frame.Masked {
		c.failConnection(ctx, CloseProtocolError, "Message should be masked.")
		return
	}
	// Control frames pass through immediately, they do not disturb the reassembly buffer
	if frame.Opcode.IsControl() {
		c.handleControlFrame(ctx, frame)
		return
	}
	c.handleDataFrame(ctx, frame)
}

// Handle a close, ping or pong frame.
func (c *Connection) handleControlFrame(ctx context.Context, frame *Frame) {
	switch frame.Opcode {
	case OpcodePing:
		// Reply with a pong echoing the ping payload, then notify
		if c.state == StateOpen {
			c.sendFrame(ctx, NewFrame(OpcodePong, frame.Payload(), true))
		}
		c.observers.notify(func(observer ConnectionObserver) { observer.OnPing(c) })
	case OpcodePong:
		c.observers.notify(func(observer ConnectionObserver) { observer.OnPong(c) })
	case OpcodeClose:
		c.handleCloseFrame(ctx, frame)
	}
}

// # Description
//
// Handle an inbound close frame. When the peer speaks first, the engine records the peer code
// and reason, replies with a close frame and shuts the socket. When the engine spoke first, the
// inbound close completes the closing handshake with the earlier recorded code and reason.
func (c *Connection) handleCloseFrame(ctx context.Context, frame *Frame) {
	c.receivedClose = true
	// Decode the close payload: 2 byte big endian code then an UTF-8 reason. An empty payload
	// means no status (1005).
	code := CloseNoStatus
	reason := ""
	payload := frame.Payload()
	if len(payload) >= 2 {
		code = CloseCode(binary.BigEndian.Uint16(payload[:2]))
		reason = string(payload[2:])
	}
	if !c.sentClose {
		// Peer spoke first: record its code and reason, reply and shut
		c.closeCode = code
		c.closeReason = reason
		c.sendCloseFrame(ctx, code, "")
		c.state = StateClosing
		c.shutdown(ctx, code, reason)
	} else {
		// The engine spoke first: the peer reply completes the closing handshake
		c.shutdown(ctx, c.closeCode, c.closeReason)
	}
}

// # Description
//
// Handle a data frame: enforce the fragmentation rules, assemble message payload bytes and
// deliver the message once its final frame arrived.
func (c *Connection) handleDataFrame(ctx context.Context, frame *Frame) {
	if frame.Opcode == OpcodeContinuation {
		// A continuation frame is only legal while a message is being assembled
		if !c.messageInProgress {
			c.failConnection(ctx, CloseProtocolError, "Unexpected continuation frame.")
			return
		}
		c.fragments = append(c.fragments, frame.Payload()...)
		if frame.Fin {
			c.deliverMessage(ctx, c.messageOpcode, c.fragments)
		}
		return
	}
	// A text or binary frame must not show up in the middle of another message
	if c.messageInProgress {
		c.failConnection(ctx, CloseProtocolError, "Expected continuation frame.")
		return
	}
	if frame.Fin {
		// Unfragmented message, deliver as is
		c.deliverMessage(ctx, frame.Opcode, frame.Payload())
		return
	}
	// First fragment: record the message opcode and start accumulating
	c.messageInProgress = true
	c.messageOpcode = frame.Opcode
	c.fragments = append([]byte{}, frame.Payload()...)
}

// # Description
//
// Deliver a fully assembled message to the observers. Text payloads are validated as UTF-8 and
// fail the connection with a 1007 close when invalid. Assembly state is reset before dispatch so
// re-entrant sends are safe.
func (c *Connection) deliverMessage(ctx context.Context, opcode Opcode, payload []byte) {
	c.messageInProgress = false
	c.fragments = nil
	if opcode == OpcodeText && !utf8.Valid(payload) {
		c.failConnection(ctx, CloseInvalidPayload, "Invalid UTF-8 payload.")
		return
	}
	c.observers.notify(func(observer ConnectionObserver) { observer.OnMessage(c, opcode, payload) })
}

/*************************************************************************************************/
/* SEND & CONTROL OPERATIONS                                                                     */
/*************************************************************************************************/

// # Description
//
// Send a data message to the peer. Payloads larger than MaxWritePayloadBytes are fragmented:
// the first frame carries the provided opcode, subsequent frames carry the continuation opcode
// and the last frame has its final flag set.
//
// # Inputs
//
//   - ctx: Context used for tracing purpose.
//   - opcode: OpcodeText or OpcodeBinary.
//   - payload: Message payload.
//
// # Returns
//
// Nil on success, an error when the connection is not open or the write fails.
func (c *Connection) Send(ctx context.Context, opcode Opcode, payload []byte) error {
	ctx, span := c.tracer.Start(ctx, spanConnectionSend,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(attrConnectionId, c.id),
			attribute.String(attrMsgOpcode, opcode.String()),
			attribute.Int(attrMsgLength, len(payload)),
		))
	defer span.End()
	if c.state != StateOpen {
		return handleError(fmt.Errorf("connection is not open: %s", c.state), span, codes.Error, codes.Error.String())
	}
	maxOut := int(c.opts.MaxWritePayloadBytes)
	if maxOut <= 0 || len(payload) <= maxOut {
		// Single unfragmented frame
		if !c.sendFrame(ctx, NewFrame(opcode, payload, true)) {
			return handleError(fmt.Errorf("failed to send message"), span, codes.Error, codes.Error.String())
		}
		span.SetStatus(codes.Ok, codes.Ok.String())
		return nil
	}
	// Fragment the payload
	pos := 0
	frameOpcode := opcode
	for pos < len(payload) {
		end := pos + maxOut
		if end > len(payload) {
			end = len(payload)
		}
		if !c.sendFrame(ctx, NewFrame(frameOpcode, payload[pos:end], end == len(payload))) {
			return handleError(fmt.Errorf("failed to send message"), span, codes.Error, codes.Error.String())
		}
		frameOpcode = OpcodeContinuation
		pos = end
	}
	span.SetStatus(codes.Ok, codes.Ok.String())
	return nil
}

// # Description
//
// Send a zero payload ping control frame to the peer.
func (c *Connection) Ping(ctx context.Context) error {
	if c.state != StateOpen {
		return fmt.Errorf("connection is not open: %s", c.state)
	}
	if !c.sendFrame(ctx, NewFrame(OpcodePing, nil, true)) {
		return fmt.Errorf("failed to send ping")
	}
	return nil
}

// # Description
//
// Send a zero payload pong control frame to the peer. Pongs replying to inbound pings are sent
// automatically, the method exists for unsolicited pongs.
func (c *Connection) Pong(ctx context.Context) error {
	if c.state != StateOpen {
		return fmt.Errorf("connection is not open: %s", c.state)
	}
	if !c.sendFrame(ctx, NewFrame(OpcodePong, nil, true)) {
		return fmt.Errorf("failed to send pong")
	}
	return nil
}

// # Description
//
// Initiate or complete the closing handshake.
//
// # Behaviour
//
//   - When neither side has sent a close frame yet: send a close frame carrying the provided
//     code and reason, switch to CLOSING and start the grace period. The close event fires once
//     the peer replies or the grace elapses.
//   - When a close was received but not replied yet: send the close reply and shut the socket.
//   - When both sides already exchanged close frames: shut the socket.
//
// A zero code sends a close frame without payload, which the peer reads as 1005.
//
// # Inputs
//
//   - ctx: Context used for tracing purpose.
//   - code: Close code, 0 for none.
//   - reason: Optional close reason, truncated so the close payload fits 125 bytes.
func (c *Connection) Disconnect(ctx context.Context, code CloseCode, reason string) {
	ctx, span := c.tracer.Start(ctx, spanConnectionDisconnect,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(attrConnectionId, c.id),
			attribute.Int(attrCloseCode, int(code)),
			attribute.String(attrCloseReason, reason),
		))
	defer span.End()
	defer span.SetStatus(codes.Ok, codes.Ok.String())
	if c.state == StateClosed {
		return
	}
	switch {
	case !c.sentClose && !c.receivedClose:
		// Initiate the closing handshake and wait for the peer reply
		c.closeCode = code
		c.closeReason = reason
		c.sendCloseFrame(ctx, code, reason)
		if c.state == StateClosed {
			// The write failed and the transport shutdown already completed the closure
			return
		}
		c.closeStartedAt = time.Now()
		c.state = StateClosing
	case c.receivedClose && !c.sentClose:
		// Reply to the peer close with its own code, then shut
		c.sendCloseFrame(ctx, c.closeCode, "")
		c.shutdown(ctx, c.closeCode, c.closeReason)
	default:
		// Both close frames exchanged, finish the closure
		c.shutdown(ctx, c.closeCode, c.closeReason)
	}
}

// # Description
//
// Force the connection closed: best effort close frame, immediate socket shutdown and close
// event delivery. Unlike Disconnect the method never waits for the peer reply.
func (c *Connection) Close(ctx context.Context, code CloseCode, reason string) {
	if c.state == StateClosed {
		return
	}
	if !c.sentClose && c.sentHandshake {
		c.sendCloseFrame(ctx, code, reason)
	}
	c.shutdown(ctx, code, reason)
}

/*************************************************************************************************/
/* INTERNALS                                                                                     */
/*************************************************************************************************/

// # Description
//
// Terminate the connection because of a protocol violation: send a close frame with the
// violation code and reason, then shut the socket and deliver the close event.
func (c *Connection) failConnection(ctx context.Context, code CloseCode, reason string) {
	if !c.sentClose {
		c.sendCloseFrame(ctx, code, reason)
	}
	c.shutdown(ctx, code, reason)
}

// # Description
//
// Send a close frame carrying the provided code and reason. The reason is truncated so the close
// payload fits in a control frame. A zero code produces an empty close payload.
func (c *Connection) sendCloseFrame(ctx context.Context, code CloseCode, reason string) {
	var payload []byte
	if code != 0 && code != CloseNoStatus {
		// Reason bytes beyond the 125 byte control frame payload bound are dropped
		if len(reason) > maxControlPayloadLength-2 {
			reason = reason[:maxControlPayloadLength-2]
		}
		payload = make([]byte, 2+len(reason))
		binary.BigEndian.PutUint16(payload[:2], uint16(code))
		copy(payload[2:], reason)
	}
	c.sentClose = true
	c.sendFrame(ctx, NewFrame(OpcodeClose, payload, true))
}

// # Description
//
// Serialize and write one frame to the byte stream, handling short writes. A transport failure
// terminates the connection with a 1006 abnormal closure.
//
// # Returns
//
// True when the frame has been fully written, false when the transport failed.
func (c *Connection) sendFrame(ctx context.Context, frame *Frame) bool {
	ok := c.writeAll(ctx, frame.Serialize())
	if ok {
		c.lastActivity = time.Now()
	}
	return ok
}

// Write the whole buffer to the byte stream, looping over short writes. On transport failure the
// connection is terminated with a 1006 abnormal closure and the method returns false.
func (c *Connection) writeAll(ctx context.Context, data []byte) bool {
	for len(data) > 0 {
		n, err := c.stream.Write(data)
		if err != nil {
			c.shutdown(ctx, CloseAbnormal, "")
			return false
		}
		data = data[n:]
	}
	return true
}

// # Description
//
// Final transition to CLOSED: shut the TCP socket, free the connecting slot when the connection
// never opened and deliver the close event exactly once. State and flags are updated before
// dispatch so re-entrant calls from inside the close callback are harmless.
func (c *Connection) shutdown(ctx context.Context, code CloseCode, reason string) {
	if c.state == StateClosed && c.closeEmitted {
		return
	}
	_ = c.stream.Close()
	c.state = StateClosed
	c.leaveNew()
	if c.closeEmitted {
		return
	}
	c.closeEmitted = true
	c.closeCode = code
	c.closeReason = reason
	span := trace.SpanFromContext(ctx)
	span.AddEvent(eventConnectionClosed, trace.WithAttributes(
		attribute.String(attrConnectionId, c.id),
		attribute.Int(attrCloseCode, int(code)),
		attribute.String(attrCloseReason, reason),
	))
	c.observers.notify(func(observer ConnectionObserver) { observer.OnClose(c, code, reason) })
}

// Call the leave-NEW hook once. The listener uses it to free the connecting slot of the source
// IP so a deferred connection from the same source becomes eligible.
func (c *Connection) leaveNew() {
	if c.leftNew {
		return
	}
	c.leftNew = true
	if c.onLeaveNew != nil {
		c.onLeaveNew(c)
	}
}

// Report byte counter deltas to the engine instruments.
func (c *Connection) reportTraffic(ctx context.Context) {
	if c.instruments == nil {
		return
	}
	in := c.stream.BytesIn()
	out := c.stream.BytesOut()
	if in > c.reportedIn {
		c.instruments.bytesInCounter.Add(ctx, int64(in-c.reportedIn))
		c.reportedIn = in
	}
	if out > c.reportedOut {
		c.instruments.bytesOutCounter.Add(ctx, int64(out-c.reportedOut))
		c.reportedOut = out
	}
}
