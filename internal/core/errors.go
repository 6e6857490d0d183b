// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Callers match them with errors.Is.
var (
	// Connection construction errors
	ErrInvalidOption = errors.New("pseudoconn: invalid option")
	ErrAddressFormat = errors.New("pseudoconn: invalid address format")

	// Emission errors
	ErrConnectionClosed = errors.New("pseudoconn: connection closed")
	ErrNotBuffered      = errors.New("pseudoconn: session output is not buffered")

	// Packet decoding errors
	ErrPacketTooShort   = errors.New("pseudoconn: packet too short")
	ErrUnsupportedProto = errors.New("pseudoconn: unsupported protocol")

	// Capture container errors
	ErrBadCapture = errors.New("pseudoconn: malformed capture container")

	// Configuration errors
	ErrConfigInvalid = errors.New("pseudoconn: invalid configuration")
)
