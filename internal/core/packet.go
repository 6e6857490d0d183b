// Package core defines core data structures with zero external dependencies.
package core

import "time"

// RawPacket is one record read back from a capture container.
type RawPacket struct {
	Data       []byte
	Timestamp  time.Time
	CaptureLen uint32
	OrigLen    uint32
}

// DecodedPacket is the result of L2-L4 decoding of a generated frame.
type DecodedPacket struct {
	Timestamp time.Time
	Ethernet  EthernetHeader
	IP        IPHeader
	Transport TransportHeader
	Payload   []byte
	FrameLen  int

	// Checksum verification. IPv4ChecksumOK is always true for IPv6.
	IPv4ChecksumOK bool
	L4ChecksumOK   bool
}
