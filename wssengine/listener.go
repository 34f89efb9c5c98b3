package wssengine

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

/*************************************************************************************************/
/* LISTENER                                                                                      */
/*************************************************************************************************/

// Delay granted to a TLS peer to complete its TLS handshake before the socket is dropped.
const tlsHandshakeTimeout = 5 * time.Second

// Entry of the deferred queue: an accepted raw socket whose source IP already occupies its
// connecting slot.
type deferredSocket struct {
	ip   string
	conn net.Conn
}

// WebsocketServerListener accepts TCP connections, optionally upgrades them to TLS and wraps
// them into websocket connections which are handed over to the application.
//
// The listener enforces the RFC 6455 section 4.1 client requirement server side: at most one
// connection per source IP may be in the CONNECTING state at a time. Extra sockets from a source
// which is already handshaking are parked in a FIFO deferred queue and promoted once the prior
// connection leaves the NEW state.
//
// The listener is single threaded by design: Accept must be driven from the application
// cooperative loop, together with the Cycle method of every live connection.
type WebsocketServerListener struct {
	// Host the listener binds to
	host string
	// Port the listener binds to
	port int
	// TLS flag
	secure bool
	// Optional local IP to bind to instead of host
	bindIp string
	// Engine configuration options
	opts *WebsocketServerConfigurationOptions
	// Underlying TCP listening socket. Nil until Open succeeds.
	tcpListener *net.TCPListener
	// TLS configuration built from the configured PEM files when secure
	tlsConfig *tls.Config
	// Source IPs with an unfinished handshake. Owned by the listener so multiple listeners can
	// coexist independently.
	connecting map[string]bool
	// FIFO queue of accepted raw sockets whose source IP was already connecting
	deferred []deferredSocket
	// Subscribed server observers
	observers serverObserverBus
	// Total number of connections accepted during the listener lifetime
	openedConnectionsCount int64
	// Tracer used to instrument listener code
	tracer trace.Tracer
	// Engine instruments
	instruments *websocketServerInstruments
	// Internal state flag
	opened bool
}

// # Description
//
// Factory - Return a new, non-opened websocket listener.
//
// # Inputs
//
//   - host: Host name or IP the listener binds to.
//   - port: Port the listener binds to.
//   - secure: When true the listener upgrades accepted sockets to TLS using the PEM files from
//     the configuration options.
//   - bindIp: Optional local IP to bind to instead of host. Empty uses host.
//   - opts: Engine configuration options. If nil, default options are used.
//   - tracerProvider: OpenTelemetry tracer provider to use. If nil, global TracerProvider is used.
//   - meterProvider: OpenTelemetry meter provider to use. If nil, global MeterProvider is used.
//
// # Return
//
// Factory returns a new, non-opened listener in case of success. If provided options are
// invalid, factory will return nil and an error.
func NewWebsocketServerListener(
	host string,
	port int,
	secure bool,
	bindIp string,
	opts *WebsocketServerConfigurationOptions,
	tracerProvider trace.TracerProvider,
	meterProvider metric.MeterProvider) (*WebsocketServerListener, error) {
	// Use default options if not set
	if opts == nil {
		opts = NewWebsocketServerConfigurationOptions()
	}
	// Validate options
	err := Validate(opts)
	if err != nil {
		return nil, err
	}
	// Get tracer provider from global tracer provider if not provided
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}
	// Get meter provider from global meter provider if not provided
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}
	// A secure listener requires the certificate PEM files
	if secure && (opts.CertificatePemPath == "" || opts.KeyPemPath == "") {
		return nil, fmt.Errorf("secure listener requires certificate and key PEM paths")
	}
	// Build the listener
	listener := &WebsocketServerListener{
		host:       host,
		port:       port,
		secure:     secure,
		bindIp:     bindIp,
		opts:       opts,
		connecting: map[string]bool{},
		tracer:     tracerProvider.Tracer(pkgName, trace.WithInstrumentationVersion(pkgVersion)),
	}
	// Create the engine instruments
	instruments, err := newWebsocketServerInstruments(
		meterProvider.Meter(pkgName, metric.WithInstrumentationVersion(pkgVersion)), listener)
	if err != nil {
		return nil, err
	}
	listener.instruments = instruments
	return listener, nil
}

// # Description
//
// Bind the TCP listening socket and, when secure, load the TLS certificate. On success the
// server-opened event is emitted.
//
// # Inputs
//
//   - ctx: Context used for tracing purpose.
//
// # Return
//
// Nil on success, an error when the listener is already opened, the TLS material cannot be
// loaded or the socket cannot be bound.
func (l *WebsocketServerListener) Open(ctx context.Context) error {
	ctx, span := l.tracer.Start(ctx, spanListenerOpen,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(attrRemoteHost, l.host),
			attribute.Bool(attrSecure, l.secure),
		))
	defer span.End()
	if l.opened {
		return handleError(fmt.Errorf("listener is already opened"), span, codes.Error, codes.Error.String())
	}
	// Load the TLS material first so a bad certificate does not leave a bound socket behind
	if l.secure {
		certificate, err := tls.LoadX509KeyPair(l.opts.CertificatePemPath, l.opts.KeyPemPath)
		if err != nil {
			return handleError(err, span, codes.Error, codes.Error.String())
		}
		l.tlsConfig = &tls.Config{Certificates: []tls.Certificate{certificate}}
	}
	// Bind the listening socket
	bindHost := l.host
	if l.bindIp != "" {
		bindHost = l.bindIp
	}
	addr, err := net.ResolveTCPAddr("tcp", fmt.Sprintf("%s:%d", bindHost, l.port))
	if err != nil {
		return handleError(err, span, codes.Error, codes.Error.String())
	}
	tcpListener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return handleError(err, span, codes.Error, codes.Error.String())
	}
	l.tcpListener = tcpListener
	l.opened = true
	span.SetStatus(codes.Ok, codes.Ok.String())
	// Notify observers
	l.observers.notify(func(observer ServerObserver) { observer.OnServerOpened(l) })
	return nil
}

// # Description
//
// Non-blocking accept step, meant to be called once per driver tick:
//
//  1. Try to accept one raw socket. When its source IP already occupies the connecting slot the
//     socket is parked in the deferred queue and the step stops.
//  2. When no new socket showed up, walk the deferred queue once from the head and promote the
//     first entry whose source IP no longer occupies its slot.
//  3. Upgrade the selected socket to TLS when configured, wrap it into a connection, run one
//     cycle to kick off handshake parsing and emit the new-connection event.
//
// # Returns
//
// The new connection, or nil when no connection was produced this tick. An error is only
// returned when the listener is not opened.
func (l *WebsocketServerListener) Accept(ctx context.Context) (*Connection, error) {
	if !l.opened {
		return nil, fmt.Errorf("listener is not opened")
	}
	ctx, span := l.tracer.Start(ctx, spanListenerAccept,
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	defer span.SetStatus(codes.Ok, codes.Ok.String())
	// Try to accept one raw socket without blocking
	var selected net.Conn
	var selectedIp string
	_ = l.tcpListener.SetDeadline(time.Now().Add(pollWindow))
	rawConn, err := l.tcpListener.Accept()
	if err == nil {
		ip := remoteIp(rawConn)
		if l.connecting[ip] {
			// The source is already handshaking: park the socket until the slot frees up
			l.deferred = append(l.deferred, deferredSocket{ip: ip, conn: rawConn})
			span.AddEvent(eventConnectionDeferred, trace.WithAttributes(
				attribute.String(attrRemoteHost, ip),
			))
			return nil, nil
		}
		selected = rawConn
		selectedIp = ip
	} else {
		// No new socket: promote the first eligible deferred one
		for i, entry := range l.deferred {
			if !l.connecting[entry.ip] {
				selected = entry.conn
				selectedIp = entry.ip
				l.deferred = append(l.deferred[:i], l.deferred[i+1:]...)
				span.AddEvent(eventConnectionPromoted, trace.WithAttributes(
					attribute.String(attrRemoteHost, entry.ip),
				))
				break
			}
		}
	}
	if selected == nil {
		return nil, nil
	}
	// The source occupies its connecting slot until the connection leaves NEW
	l.connecting[selectedIp] = true
	// Complete the TLS handshake before the socket enters the engine
	if l.secure {
		tlsConn := tls.Server(selected, l.tlsConfig)
		_ = tlsConn.SetDeadline(time.Now().Add(tlsHandshakeTimeout))
		if err := tlsConn.Handshake(); err != nil {
			span.RecordError(err)
			_ = tlsConn.Close()
			delete(l.connecting, selectedIp)
			return nil, nil
		}
		_ = tlsConn.SetDeadline(time.Time{})
		selected = tlsConn
	}
	// Wrap the socket into a connection. The leave-NEW hook frees the connecting slot so a
	// deferred socket from the same source becomes eligible.
	conn := newConnection(selected, l.opts, l.tracer, l.instruments, func(conn *Connection) {
		delete(l.connecting, conn.RemoteHost())
	})
	l.openedConnectionsCount++
	span.AddEvent(eventConnectionAccepted, trace.WithAttributes(
		attribute.String(attrConnectionId, conn.Id()),
		attribute.String(attrRemoteHost, conn.RemoteHost()),
	))
	// First cycle kicks off handshake parsing
	conn.Cycle(ctx)
	// Notify observers
	l.observers.notify(func(observer ServerObserver) { observer.OnNewConnection(conn) })
	return conn, nil
}

// # Description
//
// Close the listening socket and every socket still parked in the deferred queue, then emit the
// server-closed event. Connections already handed over to the application are not touched.
//
// # Return
//
// Nil on success or an error when the listener is not opened.
func (l *WebsocketServerListener) Close(ctx context.Context) error {
	ctx, span := l.tracer.Start(ctx, spanListenerClose,
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	if !l.opened {
		return handleError(fmt.Errorf("listener is not opened"), span, codes.Error, codes.Error.String())
	}
	err := l.tcpListener.Close()
	l.opened = false
	// Drop parked sockets which never entered the engine
	for _, entry := range l.deferred {
		_ = entry.conn.Close()
	}
	l.deferred = nil
	// Notify observers
	l.observers.notify(func(observer ServerObserver) { observer.OnServerClosed(l) })
	return handlePotentialError(err, span)
}

// Subscribe a server observer. Subscribing an already registered observer is a no-op.
func (l *WebsocketServerListener) Subscribe(observer ServerObserver) {
	l.observers.subscribe(observer)
}

// Unsubscribe a server observer by identity.
func (l *WebsocketServerListener) Unsubscribe(observer ServerObserver) {
	l.observers.unsubscribe(observer)
}

// Host and port the listener binds to.
func (l *WebsocketServerListener) Addr() string {
	if l.tcpListener != nil {
		return l.tcpListener.Addr().String()
	}
	return fmt.Sprintf("%s:%d", l.host, l.port)
}

// Extract the bare IP of the remote peer of a socket.
func remoteIp(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
