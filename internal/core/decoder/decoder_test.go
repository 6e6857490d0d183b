package decoder

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"firestige.xyz/pseudoconn/internal/core"
	"firestige.xyz/pseudoconn/internal/frame"
	"firestige.xyz/pseudoconn/internal/prng"
)

// generated builds one client-to-server frame between 10.0.0.1:31337 (or
// 2001:db8::1) and 42.13.37.80:80 (or 2001:db8::80). The client sequence
// number is 200 and the server's 100.
func generated(t *testing.T, cfg frame.Config, payload []byte, flags core.Flag) []byte {
	t.Helper()
	server := &core.Endpoint{MAC: [6]byte{2, 0, 0, 0, 0, 1}, Port: 80, Seq: 100}
	client := &core.Endpoint{MAC: [6]byte{2, 0, 0, 0, 0, 2}, Port: 31337, Seq: 200}
	if cfg.IPv6 {
		server.Addr = netip.MustParseAddr("2001:db8::80")
		client.Addr = netip.MustParseAddr("2001:db8::1")
	} else {
		server.Addr = netip.MustParseAddr("42.13.37.80")
		client.Addr = netip.MustParseAddr("10.0.0.1")
	}
	b, err := frame.New(cfg, server, client, prng.New(3))
	if err != nil {
		t.Fatalf("frame.New failed: %v", err)
	}
	return b.Build(core.FromClient, payload, flags)[0]
}

func TestStandardDecoderGeneratedFrames(t *testing.T) {
	tests := []struct {
		name string
		cfg  frame.Config
	}{
		{"ipv4 tcp", frame.Config{Transport: core.TCP, MTU: 1500}},
		{"ipv4 udp", frame.Config{Transport: core.UDP, MTU: 1500}},
		{"ipv6 tcp", frame.Config{Transport: core.TCP, IPv6: true, MTU: 1500}},
		{"ipv6 udp vlan", frame.Config{Transport: core.UDP, IPv6: true, MTU: 1500, VLANs: []uint16{7, 8}}},
	}

	decoder := NewStandardDecoder(Config{})
	ts := time.Date(2010, 1, 1, 0, 0, 0, 10_000_000, time.UTC)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := generated(t, tt.cfg, []byte("payload"), 0)
			decoded, err := decoder.Decode(core.RawPacket{Data: data, Timestamp: ts})
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if string(decoded.Payload) != "payload" {
				t.Errorf("Expected payload %q, got %q", "payload", decoded.Payload)
			}
			if !decoded.IPv4ChecksumOK || !decoded.L4ChecksumOK {
				t.Errorf("Expected checksums to verify, got ip=%v l4=%v", decoded.IPv4ChecksumOK, decoded.L4ChecksumOK)
			}
			if len(decoded.Ethernet.VLANs) != len(tt.cfg.VLANs) {
				t.Errorf("Expected %d VLAN tags, got %d", len(tt.cfg.VLANs), len(decoded.Ethernet.VLANs))
			}
			if decoded.Transport.SrcPort != 31337 || decoded.Transport.DstPort != 80 {
				t.Errorf("Expected 31337 > 80, got %d > %d", decoded.Transport.SrcPort, decoded.Transport.DstPort)
			}
			if decoded.Transport.Protocol != uint8(tt.cfg.Transport) {
				t.Errorf("Expected protocol %d, got %d", tt.cfg.Transport, decoded.Transport.Protocol)
			}
			if decoded.FrameLen != len(data) || !decoded.Timestamp.Equal(ts) {
				t.Errorf("Expected FrameLen %d at %v, got %d at %v", len(data), ts, decoded.FrameLen, decoded.Timestamp)
			}
		})
	}
}

func TestStandardDecoderDetectsCorruption(t *testing.T) {
	decoder := NewStandardDecoder(Config{})
	data := generated(t, frame.Config{Transport: core.TCP, MTU: 1500}, []byte("abc"), 0)
	data[len(data)-1] ^= 0x01

	decoded, err := decoder.Decode(core.RawPacket{Data: data})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !decoded.IPv4ChecksumOK {
		t.Error("Expected IPv4 checksum to still verify")
	}
	if decoded.L4ChecksumOK {
		t.Error("Expected TCP checksum to fail after corruption")
	}

	data = generated(t, frame.Config{Transport: core.TCP, MTU: 1500}, []byte("abc"), 0)
	data[14+8] = 1 // TTL
	decoded, err = decoder.Decode(core.RawPacket{Data: data})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.IPv4ChecksumOK {
		t.Error("Expected IPv4 checksum to fail after TTL rewrite")
	}
}

func TestStandardDecoderSkipChecksums(t *testing.T) {
	decoder := NewStandardDecoder(Config{SkipChecksums: true})
	data := generated(t, frame.Config{Transport: core.TCP, MTU: 1500}, []byte("abc"), core.FlagFIN)
	decoded, err := decoder.Decode(core.RawPacket{Data: data})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.IPv4ChecksumOK || decoded.L4ChecksumOK {
		t.Error("Expected checksum flags to stay false")
	}
	if decoded.Transport.TCPFlags != 0x11 {
		t.Errorf("Expected FIN|ACK, got 0x%02x", decoded.Transport.TCPFlags)
	}
}

func TestStandardDecoderErrors(t *testing.T) {
	arp := generated(t, frame.Config{Transport: core.UDP, MTU: 1500}, nil, 0)
	arp[12], arp[13] = 0x08, 0x06
	cut := generated(t, frame.Config{Transport: core.TCP, MTU: 1500}, []byte("abc"), 0)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, core.ErrPacketTooShort},
		{"runt", []byte{0x01, 0x02, 0x03}, core.ErrPacketTooShort},
		{"arp", arp, core.ErrUnsupportedProto},
		{"truncated ip", cut[:30], core.ErrPacketTooShort},
		{"truncated tcp", cut[:14+20+10], core.ErrPacketTooShort},
	}
	decoder := NewStandardDecoder(Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decoder.Decode(core.RawPacket{Data: tt.data})
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func BenchmarkStandardDecoderDecode(b *testing.B) {
	server := &core.Endpoint{Addr: netip.MustParseAddr("42.13.37.80"), Port: 80}
	client := &core.Endpoint{Addr: netip.MustParseAddr("10.0.0.1"), Port: 31337}
	fb, err := frame.New(frame.Config{Transport: core.TCP, MTU: 1500}, server, client, prng.New(1))
	if err != nil {
		b.Fatal(err)
	}
	raw := core.RawPacket{Data: fb.Build(core.FromClient, make([]byte, 1024), 0)[0]}
	decoder := NewStandardDecoder(Config{})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := decoder.Decode(raw); err != nil {
			b.Fatal(err)
		}
	}
}
