package wssengine

import (
	"github.com/go-playground/validator/v10"
)

// Defines configuration options for the websocket server engine.
//
// Use the factory function to get a new instance of the struct with nice defaults and then modify
// settings using With*** methods.
type WebsocketServerConfigurationOptions struct {
	// Maximum accepted payload length (bytes) for a single inbound frame. Frames which declare a
	// larger payload fail the connection with a 1009 close.
	//
	// Defaults to 0 = unlimited. Must be greater or equal to 0.
	MaxReadPayloadBytes int64 `validate:"gte=0"`
	// Maximum payload length (bytes) of a single outbound frame. Messages larger than this are
	// fragmented into a leading data frame plus continuation frames.
	//
	// Defaults to 0 = no fragmentation. Must be greater or equal to 0.
	MaxWritePayloadBytes int64 `validate:"gte=0"`
	// Number of bytes a connection pulls from its byte stream per cycle.
	//
	// Defaults to 2048. Must be at least 1.
	ReadChunkBytes int `validate:"gte=1"`
	// Grace period (seconds) after sending a close frame before the TCP socket is shut even if
	// the peer never replied with its own close frame.
	//
	// Defaults to 5. Must be at least 1.
	CloseGraceSeconds int `validate:"gte=1"`
	// Idle period (seconds) after which the keepalive pass sends a ping to the peer.
	//
	// Defaults to 60. Must be at least 1.
	PingAfterIdleSeconds int `validate:"gte=1"`
	// Idle period (seconds) after which the keepalive pass closes the connection with a 1001
	// going away close.
	//
	// Defaults to 120. Must be at least 1.
	DropAfterIdleSeconds int `validate:"gte=1"`
	// Subprotocols the server is willing to speak. During the handshake the first client
	// preferred entry present in this list is selected. An empty list disables subprotocol
	// negotiation.
	Subprotocols []string
	// Optional value of the Server response header written during the handshake. Empty omits
	// the header.
	ServerHeader string
	// Path to the PEM file holding the server certificate when the listener is secure.
	// Self-signed certificates are accepted.
	CertificatePemPath string
	// Path to the PEM file holding the certificate private key when the listener is secure.
	KeyPemPath string
}

// # Description
//
// Set opts.MaxReadPayloadBytes and return the modified object. Method does not validate inputs.
//
// # MaxReadPayloadBytes
//
// This option bounds the payload length the engine accepts for a single inbound frame. A peer
// which announces a larger frame is closed with a 1009 Message Too Big close.
//
// Defaults to 0 = unlimited. Must be greater or equal to 0.
//
// # Return
//
// The modified options.
func (opts *WebsocketServerConfigurationOptions) WithMaxReadPayloadBytes(
	value int64) *WebsocketServerConfigurationOptions {
	// Set and return
	opts.MaxReadPayloadBytes = value
	return opts
}

// # Description
//
// Set opts.MaxWritePayloadBytes and return the modified object. Method does not validate inputs.
//
// # MaxWritePayloadBytes
//
// This option bounds the payload length of a single outbound frame. Send fragments larger
// messages into a leading data frame followed by continuation frames.
//
// Defaults to 0 = no fragmentation. Must be greater or equal to 0.
//
// # Return
//
// The modified options.
func (opts *WebsocketServerConfigurationOptions) WithMaxWritePayloadBytes(
	value int64) *WebsocketServerConfigurationOptions {
	// Set and return
	opts.MaxWritePayloadBytes = value
	return opts
}

// # Description
//
// Set opts.ReadChunkBytes and return the modified object. Method does not validate inputs.
//
// # ReadChunkBytes
//
// This option defines how many bytes a connection pulls from its byte stream on each cycle.
//
// Defaults to 2048. Must be at least 1.
//
// # Return
//
// The modified options.
func (opts *WebsocketServerConfigurationOptions) WithReadChunkBytes(
	value int) *WebsocketServerConfigurationOptions {
	// Set and return
	opts.ReadChunkBytes = value
	return opts
}

// # Description
//
// Set opts.CloseGraceSeconds and return the modified object. Method does not validate inputs.
//
// # CloseGraceSeconds
//
// This option defines how long the engine waits for the peer close reply after sending its own
// close frame. Once the grace elapses the TCP socket is shut and the close event is delivered.
//
// Defaults to 5 seconds. Must be at least 1.
//
// # Return
//
// The modified options.
func (opts *WebsocketServerConfigurationOptions) WithCloseGraceSeconds(
	value int) *WebsocketServerConfigurationOptions {
	// Set and return
	opts.CloseGraceSeconds = value
	return opts
}

// # Description
//
// Set opts.PingAfterIdleSeconds and return the modified object. Method does not validate inputs.
//
// # PingAfterIdleSeconds
//
// This option defines the idle period after which the keepalive pass pings the peer.
//
// Defaults to 60 seconds. Must be at least 1.
//
// # Return
//
// The modified options.
func (opts *WebsocketServerConfigurationOptions) WithPingAfterIdleSeconds(
	value int) *WebsocketServerConfigurationOptions {
	// Set and return
	opts.PingAfterIdleSeconds = value
	return opts
}

// # Description
//
// Set opts.DropAfterIdleSeconds and return the modified object. Method does not validate inputs.
//
// # DropAfterIdleSeconds
//
// This option defines the idle period after which the keepalive pass closes the connection with
// a 1001 going away close.
//
// Defaults to 120 seconds. Must be at least 1.
//
// # Return
//
// The modified options.
func (opts *WebsocketServerConfigurationOptions) WithDropAfterIdleSeconds(
	value int) *WebsocketServerConfigurationOptions {
	// Set and return
	opts.DropAfterIdleSeconds = value
	return opts
}

// # Description
//
// Set opts.Subprotocols and return the modified object. Method does not validate inputs.
//
// # Subprotocols
//
// This option lists the subprotocols the server is willing to speak. During the handshake the
// first client preferred entry present in this list wins. When no entry matches, the handshake
// still succeeds without a negotiated subprotocol.
//
// Defaults to an empty list.
//
// # Return
//
// The modified options.
func (opts *WebsocketServerConfigurationOptions) WithSubprotocols(
	value []string) *WebsocketServerConfigurationOptions {
	// Set and return
	opts.Subprotocols = value
	return opts
}

// # Description
//
// Set opts.ServerHeader and return the modified object. Method does not validate inputs.
//
// # ServerHeader
//
// This option defines the value of the optional Server header written in the handshake
// response. An empty value omits the header.
//
// # Return
//
// The modified options.
func (opts *WebsocketServerConfigurationOptions) WithServerHeader(
	value string) *WebsocketServerConfigurationOptions {
	// Set and return
	opts.ServerHeader = value
	return opts
}

// # Description
//
// Set opts.CertificatePemPath and opts.KeyPemPath and return the modified object. Method does
// not validate inputs.
//
// # TLS configuration
//
// Both paths point to PEM files used to configure TLS when the listener is secure. Self-signed
// certificates are accepted, peer verification is off.
//
// # Return
//
// The modified options.
func (opts *WebsocketServerConfigurationOptions) WithTlsCertificate(
	certificatePemPath string, keyPemPath string) *WebsocketServerConfigurationOptions {
	// Set and return
	opts.CertificatePemPath = certificatePemPath
	opts.KeyPemPath = keyPemPath
	return opts
}

// # Description
//
// Factory which creates a new WebsocketServerConfigurationOptions object with nice defaults.
// Settings can then be modified by the user by using With*** methods.
//
// # Default settings
//
//   - MaxReadPayloadBytes = 0 , inbound frame payloads are not bounded.
//   - MaxWritePayloadBytes = 0 , outbound messages are not fragmented.
//   - ReadChunkBytes = 2048 , connections pull at most 2048 bytes per cycle.
//   - CloseGraceSeconds = 5 , sockets are shut 5 seconds after an unanswered close frame.
//   - PingAfterIdleSeconds = 60 , idle peers are pinged after one minute.
//   - DropAfterIdleSeconds = 120 , idle peers are dropped after two minutes.
//   - Subprotocols = empty , no subprotocol negotiation.
//   - ServerHeader = empty , no Server response header.
func NewWebsocketServerConfigurationOptions() *WebsocketServerConfigurationOptions {
	return &WebsocketServerConfigurationOptions{
		MaxReadPayloadBytes:  0,
		MaxWritePayloadBytes: 0,
		ReadChunkBytes:       2048,
		CloseGraceSeconds:    5,
		PingAfterIdleSeconds: 60,
		DropAfterIdleSeconds: 120,
		Subprotocols:         []string{},
		ServerHeader:         "",
	}
}

// # Description
//
// Helper function which validates WebsocketServerConfigurationOptions. Options are valid if:
//   - opts is not nil
//   - opts.MaxReadPayloadBytes is greater or equal to 0
//   - opts.MaxWritePayloadBytes is greater or equal to 0
//   - opts.ReadChunkBytes is greater or equal to 1
//   - opts.CloseGraceSeconds is greater or equal to 1
//   - opts.PingAfterIdleSeconds is greater or equal to 1
//   - opts.DropAfterIdleSeconds is greater or equal to 1
//
// # Returns
//
// InvalidValidationError for bad values passed in and nil or ValidationErrors as error otherwise.
// You will need to assert the error if it's not nil eg. err.(validator.ValidationErrors) to access
// the array of errors.
func Validate(opts *WebsocketServerConfigurationOptions) error {
	// Validate
	return validator.New().Struct(opts)
}
