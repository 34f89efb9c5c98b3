package wssengine

import "fmt"

/*************************************************************************************************/
/* HANDSHAKE ERROR                                                                               */
/*************************************************************************************************/

// Specific error type for errors which occurs while parsing or validating the opening handshake.
type HandshakeError struct {
	// Embedded error
	Err error
	// HTTP status code which has been written back to the peer (400, 405, ...)
	HttpStatus int
}

func (err HandshakeError) Error() string {
	return fmt.Sprintf("websocket opening handshake failed: %v", err.Err)
}

func (err HandshakeError) Unwrap() error {
	return err.Err
}

/*************************************************************************************************/
/* PROTOCOL VIOLATION ERROR                                                                      */
/*************************************************************************************************/

// Specific error type for post-handshake protocol violations. The connection which detects such
// a violation recovers it into a clean close with the embedded close code.
type ProtocolViolationError struct {
	// Close code used to terminate the connection (1002, 1007, 1009, ...)
	CloseCode CloseCode
	// Close reason sent to the peer
	Reason string
}

func (err ProtocolViolationError) Error() string {
	return fmt.Sprintf("websocket protocol violation (%d): %s", err.CloseCode, err.Reason)
}

/*************************************************************************************************/
/* TRANSPORT ERROR                                                                               */
/*************************************************************************************************/

// Specific error type for errors which occurs at the byte stream level (TCP read/write failure,
// unexpected EOF, ...).
type TransportError struct {
	// Embedded error
	Err error
}

func (err TransportError) Error() string {
	return fmt.Sprintf("websocket transport failure: %v", err.Err)
}

func (err TransportError) Unwrap() error {
	return err.Err
}
