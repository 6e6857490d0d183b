// Package frame lays out Ethernet, VLAN, IPv4/IPv6 and TCP/UDP headers around a
// payload, segments it to the MTU and fills in checksums.
package frame

import (
	"fmt"
	"strings"

	"firestige.xyz/pseudoconn/internal/core"
	"firestige.xyz/pseudoconn/internal/prng"
	"firestige.xyz/pseudoconn/internal/wire"
)

const (
	ethernetHeaderLen = 14
	vlanTagLen        = 4
	ipv4HeaderLen     = 20
	ipv6HeaderLen     = 40

	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86DD
	tpidOuter     = 0x8100
	tpidNested    = 0x9100

	defaultTTL    = 0x40
	defaultWindow = 0x8000
	tcpDataOffset = 0x50

	tcpFlagFIN = 0x01
	tcpFlagSYN = 0x02
	tcpFlagRST = 0x04
	tcpFlagACK = 0x10
)

// Strategy decides which chunks of a segmented emission carry control flags.
type Strategy uint8

const (
	// Legacy repeats the requested flags on every chunk.
	Legacy Strategy = iota
	// Strict puts SYN/SYN_ACK on the first chunk and FIN/RST on the last.
	Strict
)

func (s Strategy) String() string {
	if s == Strict {
		return "strict"
	}
	return "legacy"
}

// ParseStrategy accepts "legacy", "strict" or the empty string (legacy).
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "legacy":
		return Legacy, nil
	case "strict":
		return Strict, nil
	default:
		return Legacy, fmt.Errorf("%w: segmentation strategy %q", core.ErrInvalidOption, s)
	}
}

// Config is the fixed shape of every frame a Builder produces.
type Config struct {
	Transport core.Transport
	IPv6      bool
	MTU       int
	VLANs     []uint16
	Strategy  Strategy
}

// Overhead is the header byte count added to every payload chunk.
func (c Config) Overhead() int {
	n := ethernetHeaderLen + vlanTagLen*len(c.VLANs)
	if c.IPv6 {
		n += ipv6HeaderLen
	} else {
		n += ipv4HeaderLen
	}
	return n + c.Transport.HeaderLen()
}

// Builder produces frames for one endpoint pair. Index 0 of the pair is the
// server and index 1 the client; the Builder advances their Seq fields.
type Builder struct {
	cfg  Config
	ends [2]*core.Endpoint
	ipID *prng.Generator
}

// New checks cfg against the endpoints and returns a Builder. ipID supplies the
// IPv4 identification field and may be nil for IPv6.
func New(cfg Config, server, client *core.Endpoint, ipID *prng.Generator) (*Builder, error) {
	if cfg.Transport != core.TCP && cfg.Transport != core.UDP {
		return nil, fmt.Errorf("%w: transport %v", core.ErrUnsupportedProto, cfg.Transport)
	}
	if cfg.MTU <= cfg.Overhead() {
		return nil, fmt.Errorf("%w: mtu %d does not exceed header overhead %d", core.ErrInvalidOption, cfg.MTU, cfg.Overhead())
	}
	if !cfg.IPv6 {
		for _, ep := range []*core.Endpoint{server, client} {
			if !ep.Addr.Is4() {
				return nil, fmt.Errorf("%w: %v is not an IPv4 address", core.ErrAddressFormat, ep.Addr)
			}
		}
		if ipID == nil {
			return nil, fmt.Errorf("%w: ipv4 builder needs an identification stream", core.ErrInvalidOption)
		}
	}
	cfg.VLANs = append([]uint16(nil), cfg.VLANs...)
	return &Builder{cfg: cfg, ends: [2]*core.Endpoint{server, client}, ipID: ipID}, nil
}

// Config returns the builder configuration.
func (b *Builder) Config() Config { return b.cfg }

// FlagByte derives the TCP flag byte. SYN replaces the ACK baseline and the
// other flags add to it, so SYN together with SYN_ACK gives 0x04.
func FlagByte(f core.Flag) byte {
	tf := byte(tcpFlagACK)
	if f.Has(core.FlagSYN) {
		tf = tcpFlagSYN
	}
	if f.Has(core.FlagSYNACK) {
		tf += tcpFlagSYN
	}
	if f.Has(core.FlagFIN) {
		tf += tcpFlagFIN
	}
	if f.Has(core.FlagRST) {
		tf += tcpFlagRST
	}
	return tf
}

// seqConsumed reports whether the flags occupy one sequence number.
func seqConsumed(f core.Flag) bool {
	return f&(core.FlagSYN|core.FlagSYNACK|core.FlagFIN) != 0
}

// Chunks splits payload into pieces of at most max bytes. An empty payload is
// one empty chunk.
func Chunks(payload []byte, max int) [][]byte {
	if len(payload) <= max {
		return [][]byte{payload}
	}
	out := make([][]byte, 0, (len(payload)+max-1)/max)
	for len(payload) > max {
		out = append(out, payload[:max])
		payload = payload[max:]
	}
	return append(out, payload)
}

// Build emits payload from dir as one or more complete link-layer frames.
func (b *Builder) Build(dir core.Direction, payload []byte, flags core.Flag) [][]byte {
	chunks := Chunks(payload, b.cfg.MTU-b.cfg.Overhead())
	frames := make([][]byte, 0, len(chunks))
	for i, chunk := range chunks {
		frames = append(frames, b.build(dir, chunk, b.chunkFlags(flags, i, len(chunks))))
	}
	return frames
}

func (b *Builder) chunkFlags(f core.Flag, i, n int) core.Flag {
	if b.cfg.Strategy != Strict || n == 1 {
		return f
	}
	if i > 0 {
		f &^= core.FlagSYN | core.FlagSYNACK
	}
	if i < n-1 {
		f &^= core.FlagFIN | core.FlagRST
	}
	return f
}

// endpoints resolves a direction to (sender, receiver).
func (b *Builder) endpoints(dir core.Direction) (*core.Endpoint, *core.Endpoint) {
	if dir == core.FromServer {
		return b.ends[0], b.ends[1]
	}
	return b.ends[1], b.ends[0]
}

func (b *Builder) build(dir core.Direction, payload []byte, flags core.Flag) []byte {
	src, dst := b.endpoints(dir)
	l4Len := b.cfg.Transport.HeaderLen() + len(payload)

	buf := make([]byte, 0, b.cfg.Overhead()+len(payload))

	// link layer
	buf = append(buf, dst.MAC[:]...)
	buf = append(buf, src.MAC[:]...)
	for i, tag := range b.cfg.VLANs {
		tpid := uint16(tpidNested)
		if i == 0 {
			tpid = tpidOuter
		}
		buf = wire.AppendBE16(buf, tpid)
		buf = wire.AppendBE16(buf, tag)
	}

	// network layer
	ipStart := len(buf) + 2
	var addrStart int
	if b.cfg.IPv6 {
		buf = wire.AppendBE16(buf, etherTypeIPv6)
		buf = wire.AppendBE32(buf, 0x60000000)
		buf = wire.AppendBE16(buf, uint16(l4Len))
		buf = append(buf, byte(b.cfg.Transport), defaultTTL)
		addrStart = len(buf)
		s, d := src.Addr.As16(), dst.Addr.As16()
		buf = append(buf, s[:]...)
		buf = append(buf, d[:]...)
	} else {
		buf = wire.AppendBE16(buf, etherTypeIPv4)
		buf = append(buf, 0x45, 0x00)
		buf = wire.AppendBE16(buf, uint16(ipv4HeaderLen+l4Len))
		buf = wire.AppendBE16(buf, b.ipID.Uint16())
		buf = append(buf, 0x00, 0x00, defaultTTL, byte(b.cfg.Transport), 0x00, 0x00)
		addrStart = len(buf)
		s, d := src.Addr.As4(), dst.Addr.As4()
		buf = append(buf, s[:]...)
		buf = append(buf, d[:]...)
	}

	// transport layer
	l4Start := len(buf)
	buf = wire.AppendBE16(buf, src.Port)
	buf = wire.AppendBE16(buf, dst.Port)
	if b.cfg.Transport == core.TCP {
		ack := dst.Seq
		if flags.Has(core.FlagSYN) {
			ack = 0
		}
		buf = wire.AppendBE32(buf, src.Seq)
		buf = wire.AppendBE32(buf, ack)
		buf = append(buf, tcpDataOffset, FlagByte(flags))
		buf = wire.AppendBE16(buf, defaultWindow)
		buf = append(buf, 0x00, 0x00, 0x00, 0x00) // checksum, urgent pointer
		buf = append(buf, payload...)

		inc := uint32(len(payload))
		if seqConsumed(flags) {
			inc++
		}
		src.Seq += inc

		sum := wire.Checksum(buf[addrStart:], uint32(core.TCP)+uint32(l4Len))
		wire.PutBE16(buf[l4Start+16:], sum)
	} else {
		buf = wire.AppendBE16(buf, uint16(l4Len))
		buf = append(buf, 0x00, 0x00)
		buf = append(buf, payload...)
	}

	if !b.cfg.IPv6 {
		wire.PutBE16(buf[ipStart+10:], wire.Checksum(buf[ipStart:ipStart+ipv4HeaderLen], 0))
	}
	return buf
}
