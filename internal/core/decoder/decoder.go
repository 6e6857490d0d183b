// Package decoder implements L2-L4 decoding of generated frames, including
// checksum verification.
package decoder

import (
	"fmt"

	"firestige.xyz/pseudoconn/internal/core"
)

// Decoder decodes raw packets into structured format.
type Decoder interface {
	Decode(raw core.RawPacket) (core.DecodedPacket, error)
}

// Config controls decoding.
type Config struct {
	// SkipChecksums leaves IPv4ChecksumOK and L4ChecksumOK false.
	SkipChecksums bool
}

// StandardDecoder walks Ethernet (with VLAN tags), IPv4/IPv6 and TCP/UDP.
type StandardDecoder struct {
	cfg Config
}

// NewStandardDecoder creates a decoder.
func NewStandardDecoder(cfg Config) *StandardDecoder {
	return &StandardDecoder{cfg: cfg}
}

// Decode parses one link-layer frame.
func (d *StandardDecoder) Decode(raw core.RawPacket) (core.DecodedPacket, error) {
	out := core.DecodedPacket{
		Timestamp: raw.Timestamp,
		FrameLen:  len(raw.Data),
	}

	eth, l3, err := decodeEthernet(raw.Data)
	if err != nil {
		return out, fmt.Errorf("ethernet: %w", err)
	}
	out.Ethernet = eth
	if eth.EtherType != etherTypeIPv4 && eth.EtherType != etherTypeIPv6 {
		return out, fmt.Errorf("%w: ethertype 0x%04x", core.ErrUnsupportedProto, eth.EtherType)
	}

	ip, l4, err := decodeIP(l3)
	if err != nil {
		return out, fmt.Errorf("ip: %w", err)
	}
	out.IP = ip

	transport, payload, err := decodeTransport(l4, ip.Protocol)
	if err != nil {
		return out, fmt.Errorf("transport: %w", err)
	}
	out.Transport = transport
	out.Payload = payload

	if !d.cfg.SkipChecksums {
		out.IPv4ChecksumOK = ip.Version == 6 || verifyIPv4(l3)
		out.L4ChecksumOK = verifyTransport(l3, l4, ip, transport)
	}
	return out, nil
}
