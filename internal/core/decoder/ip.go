// Package decoder implements protocol decoding.
package decoder

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/pseudoconn/internal/core"
	"firestige.xyz/pseudoconn/internal/wire"
)

const (
	ipv4HeaderMinLen = 20
	ipv6HeaderLen    = 40
)

// decodeIP decodes IP header (IPv4 or IPv6).
// Returns IPHeader and the transport segment, trimmed to the declared length.
func decodeIP(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < 1 {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	// Check IP version (first 4 bits)
	switch data[0] >> 4 {
	case 4:
		return decodeIPv4(data)
	case 6:
		return decodeIPv6(data)
	default:
		return core.IPHeader{}, nil, core.ErrUnsupportedProto
	}
}

// decodeIPv4 decodes IPv4 header.
func decodeIPv4(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < ipv4HeaderMinLen {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	// IHL is in 32-bit words
	headerLen := int(data[0]&0x0F) * 4
	if headerLen < ipv4HeaderMinLen || len(data) < headerLen {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	ip := core.IPHeader{
		Version:  4,
		TotalLen: binary.BigEndian.Uint16(data[2:4]),
		ID:       binary.BigEndian.Uint16(data[4:6]),
		TTL:      data[8],
		Protocol: data[9],
		Checksum: binary.BigEndian.Uint16(data[10:12]),
		SrcIP:    netip.AddrFrom4([4]byte(data[12:16])),
		DstIP:    netip.AddrFrom4([4]byte(data[16:20])),
	}

	end := int(ip.TotalLen)
	if end < headerLen || end > len(data) {
		return ip, nil, core.ErrPacketTooShort
	}
	// Anything past TotalLen is Ethernet padding
	return ip, data[headerLen:end], nil
}

// decodeIPv6 decodes IPv6 header. Extension headers are not walked.
func decodeIPv6(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < ipv6HeaderLen {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	payloadLen := binary.BigEndian.Uint16(data[4:6])
	ip := core.IPHeader{
		Version:  6,
		TotalLen: uint16(ipv6HeaderLen) + payloadLen,
		Protocol: data[6], // Next Header
		TTL:      data[7], // Hop Limit
		SrcIP:    netip.AddrFrom16([16]byte(data[8:24])),
		DstIP:    netip.AddrFrom16([16]byte(data[24:40])),
	}

	end := ipv6HeaderLen + int(payloadLen)
	if end > len(data) {
		return ip, nil, core.ErrPacketTooShort
	}
	return ip, data[ipv6HeaderLen:end], nil
}

// verifyIPv4 reports whether the header checksum of an IPv4 packet is valid.
func verifyIPv4(ipData []byte) bool {
	headerLen := int(ipData[0]&0x0F) * 4
	return wire.Sum(ipData[:headerLen], 0) == 0xFFFF
}

// pseudoHeaderSum folds the source and destination addresses plus protocol and
// segment length into one partial sum.
func pseudoHeaderSum(ipData []byte, version uint8, protocol uint8, segLen int) uint32 {
	addrs := ipData[12:20]
	if version == 6 {
		addrs = ipData[8:40]
	}
	return uint32(wire.Sum(addrs, uint32(protocol)+uint32(segLen)))
}
