// Package core defines core types with zero external dependencies.
package core

import (
	"fmt"
	"net/netip"
	"strings"
)

// Transport selects the L4 protocol of a connection.
type Transport uint8

const (
	TCP Transport = 6
	UDP Transport = 17
)

func (t Transport) String() string {
	switch t {
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	default:
		return fmt.Sprintf("transport(%d)", uint8(t))
	}
}

// ParseTransport accepts "tcp" or "udp" in any case.
func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tcp":
		return TCP, nil
	case "udp":
		return UDP, nil
	default:
		return 0, fmt.Errorf("%w: unknown transport %q", ErrUnsupportedProto, s)
	}
}

// HeaderLen is the fixed transport header size used by the generator (no options).
func (t Transport) HeaderLen() int {
	if t == TCP {
		return 20
	}
	return 8
}

// Direction says which endpoint sends a frame.
type Direction uint8

const (
	// FromServer frames travel server -> client.
	FromServer Direction = iota
	// FromClient frames travel client -> server.
	FromClient
)

func (d Direction) String() string {
	if d == FromClient {
		return "client"
	}
	return "server"
}

// Flag is a logical TCP control marker requested for a frame. Several can be
// combined; the wire flag byte is derived additively (see frame.FlagByte).
type Flag uint8

const (
	FlagSYN Flag = 1 << iota
	FlagSYNACK
	FlagFIN
	FlagRST
)

// Has reports whether all bits of o are set.
func (f Flag) Has(o Flag) bool { return f&o == o }

func (f Flag) String() string {
	if f == 0 {
		return "ACK"
	}
	var parts []string
	if f.Has(FlagSYN) {
		parts = append(parts, "SYN")
	}
	if f.Has(FlagSYNACK) {
		parts = append(parts, "SYN_ACK")
	}
	if f.Has(FlagFIN) {
		parts = append(parts, "FIN")
	}
	if f.Has(FlagRST) {
		parts = append(parts, "RST")
	}
	return strings.Join(parts, "|")
}

// State is the lifecycle state of a connection.
type State uint8

const (
	StateInit State = iota
	StateHandshaking
	StateEstablished
	StateClosing
	StateReset
	StateClosed
)

var stateNames = [...]string{"INIT", "HANDSHAKING", "ESTABLISHED", "CLOSING", "RESET", "CLOSED"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Endpoint is one side of a connection. Only Seq changes after creation.
type Endpoint struct {
	MAC  [6]byte
	Addr netip.Addr
	Port uint16
	Seq  uint32
}

// EthernetHeader represents L2 Ethernet frame header.
type EthernetHeader struct {
	SrcMAC    [6]byte
	DstMAC    [6]byte
	EtherType uint16   // 0x0800=IPv4, 0x86DD=IPv6
	VLANs     []uint16 // TCI values, outer first
}

// IPHeader represents L3 IP header (IPv4/IPv6).
type IPHeader struct {
	Version  uint8
	SrcIP    netip.Addr
	DstIP    netip.Addr
	Protocol uint8 // TCP=6, UDP=17
	TTL      uint8
	ID       uint16 // IPv4 identification, zero for IPv6
	TotalLen uint16
	Checksum uint16
}

// TransportHeader represents L4 transport layer header (TCP/UDP).
type TransportHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
	Checksum uint16
	// TCP-specific fields (only populated for TCP)
	TCPFlags uint8
	SeqNum   uint32
	AckNum   uint32
	Window   uint16
	// UDP-specific
	Length uint16
}
