package wssengine

import (
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

/*************************************************************************************************/
/* TRACING RELATED CONSTANTS                                                                     */
/*************************************************************************************************/

// Constants used for tracing purpose.
const (
	// Package name used by library tracer
	pkgName = "wssengine"
	// Package version
	pkgVersion = "0.0.0"

	// Namespace used by spans, events and attributes
	namespace = "wssengine"
	// Sub-namespace used by spans related to the listener accept path
	listenerNamespace = namespace + ".listener"
	// Sub-namespace used by spans related to per-connection processing
	connectionNamespace = namespace + ".connection"

	// Name of span used to trace listener Open public method
	spanListenerOpen = listenerNamespace + ".open"
	// Name of span used to trace listener Accept public method
	spanListenerAccept = listenerNamespace + ".accept"
	// Name of span used to trace listener Close public method
	spanListenerClose = listenerNamespace + ".close"
	// Name of span used to trace the opening handshake completion
	spanConnectionHandshake = connectionNamespace + ".handshake"
	// Name of span used to trace connection Send public method
	spanConnectionSend = connectionNamespace + ".send"
	// Name of span used to trace connection Disconnect public method
	spanConnectionDisconnect = connectionNamespace + ".disconnect"

	// Event used in span to signal a new connection has been accepted
	eventConnectionAccepted = listenerNamespace + ".connection_accepted"
	// Event used in span to signal an accepted socket has been parked in the deferred queue
	eventConnectionDeferred = listenerNamespace + ".connection_deferred"
	// Event used in span to signal a deferred socket has been promoted
	eventConnectionPromoted = listenerNamespace + ".connection_promoted"
	// Event used in span to signal connection has been closed
	eventConnectionClosed = connectionNamespace + ".closed"
	// Event name for an observer callback panic. Not emitted: guardObserverCall recovers panics
	// without recording them.
	eventObserverPanic = namespace + ".observer_panic"

	// Attribute used to store the connection ID
	attrConnectionId = namespace + ".connection_id"
	// Attribute used to store the connection remote host
	attrRemoteHost = namespace + ".remote_host"
	// Attribute used to indicate close reason code
	attrCloseCode = namespace + ".close_code"
	// Attribute used to indicate close reason text
	attrCloseReason = namespace + ".close_reason"
	// Attribute used to indicate message opcode
	attrMsgOpcode = namespace + ".message.opcode"
	// Attribute used to indicate message length
	attrMsgLength = namespace + ".message.length"
	// Attribute used to indicate the resource path requested during the handshake
	attrResource = namespace + ".resource"
	// Attribute used to indicate the negotiated subprotocol
	attrSubprotocol = namespace + ".subprotocol"
	// Attribute used to indicate whether the listener uses TLS
	attrSecure = namespace + ".secure"
)

// # Description
//
// The function records the input error in the provided span using span.RecordError(err) and set
// the span status with the provided code and description. The function returns the provided error.
//
// # Usage tips
//
// The function is meant to replace code blocks like this one:
//
//	if err != nil {
//			span.RecordError(err)
//			span.SetStatus(code, description)
//			return err
//	}
//
// By:
//
//	if err != nil {
//			return handleError(err, span, code, description)
//	}
func handleError(err error, span trace.Span, code codes.Code, description string) error {
	span.RecordError(err)
	span.SetStatus(code, description)
	return err
}

// # Description
//
// If the error is not nil, the function records the input error in the provided span and set the
// span status with an error code and description. In the other case, the span status is set with
// a Ok code. The function returns the provided error in all cases.
func handlePotentialError(err error, span trace.Span) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, codes.Error.String())
		return err
	} else {
		span.SetStatus(codes.Ok, codes.Ok.String())
		return nil
	}
}
