// Package decoder implements protocol decoding.
package decoder

import (
	"encoding/binary"

	"firestige.xyz/pseudoconn/internal/core"
	"firestige.xyz/pseudoconn/internal/wire"
)

const (
	udpHeaderLen    = 8
	tcpHeaderMinLen = 20

	// Protocol numbers
	protocolTCP = 6
	protocolUDP = 17
)

// decodeTransport decodes transport layer header (TCP/UDP).
// Returns TransportHeader and remaining payload.
func decodeTransport(data []byte, protocol uint8) (core.TransportHeader, []byte, error) {
	switch protocol {
	case protocolTCP:
		return decodeTCP(data)
	case protocolUDP:
		return decodeUDP(data)
	default:
		// Unsupported transport protocol (e.g., SCTP, ICMP)
		return core.TransportHeader{Protocol: protocol}, data, nil
	}
}

// decodeUDP decodes UDP header.
func decodeUDP(data []byte) (core.TransportHeader, []byte, error) {
	if len(data) < udpHeaderLen {
		return core.TransportHeader{}, nil, core.ErrPacketTooShort
	}

	transport := core.TransportHeader{
		Protocol: protocolUDP,
		SrcPort:  binary.BigEndian.Uint16(data[0:2]),
		DstPort:  binary.BigEndian.Uint16(data[2:4]),
		Length:   binary.BigEndian.Uint16(data[4:6]), // includes header
		Checksum: binary.BigEndian.Uint16(data[6:8]),
	}

	end := int(transport.Length)
	if end < udpHeaderLen || end > len(data) {
		return transport, nil, core.ErrPacketTooShort
	}
	return transport, data[udpHeaderLen:end], nil
}

// decodeTCP decodes TCP header.
func decodeTCP(data []byte) (core.TransportHeader, []byte, error) {
	if len(data) < tcpHeaderMinLen {
		return core.TransportHeader{}, nil, core.ErrPacketTooShort
	}

	transport := core.TransportHeader{
		Protocol: protocolTCP,
		SrcPort:  binary.BigEndian.Uint16(data[0:2]),
		DstPort:  binary.BigEndian.Uint16(data[2:4]),
		SeqNum:   binary.BigEndian.Uint32(data[4:8]),
		AckNum:   binary.BigEndian.Uint32(data[8:12]),
		Window:   binary.BigEndian.Uint16(data[14:16]),
		Checksum: binary.BigEndian.Uint16(data[16:18]),
	}

	// Data offset is in 32-bit words
	headerLen := int(data[12]>>4) * 4
	if headerLen < tcpHeaderMinLen || len(data) < headerLen {
		return transport, nil, core.ErrPacketTooShort
	}

	// Byte 13: | reserved (2 bits) | URG ACK PSH RST SYN FIN |
	transport.TCPFlags = data[13] & 0x3F

	return transport, data[headerLen:], nil
}

// verifyTransport checks the L4 checksum over the pseudo-header and segment.
// A zero UDP checksum means "not computed" and is accepted.
func verifyTransport(ipData, segment []byte, ip core.IPHeader, th core.TransportHeader) bool {
	switch {
	case th.Protocol == protocolUDP && th.Checksum == 0:
		return true
	case th.Protocol != protocolUDP && th.Protocol != protocolTCP:
		return false
	}
	seed := pseudoHeaderSum(ipData, ip.Version, th.Protocol, len(segment))
	return wire.Sum(segment, seed) == 0xFFFF
}
