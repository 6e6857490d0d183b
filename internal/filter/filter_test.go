package filter

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/bpf"

	"firestige.xyz/pseudoconn/internal/core"
	"firestige.xyz/pseudoconn/internal/frame"
	"firestige.xyz/pseudoconn/internal/prng"
)

type flow struct {
	transport core.Transport
	src, dst  string
	sport     uint16
	dport     uint16
	vlans     []uint16
}

// build returns one client-to-server frame.
func build(t *testing.T, s flow) []byte {
	t.Helper()
	server := &core.Endpoint{Addr: netip.MustParseAddr(s.dst), Port: s.dport, MAC: [6]byte{0, 1, 2, 3, 4, 5}}
	client := &core.Endpoint{Addr: netip.MustParseAddr(s.src), Port: s.sport, MAC: [6]byte{6, 7, 8, 9, 10, 11}}
	b, err := frame.New(frame.Config{
		Transport: s.transport,
		IPv6:      server.Addr.Is6(),
		MTU:       1500,
		VLANs:     s.vlans,
	}, server, client, prng.New(1))
	require.NoError(t, err)
	frames := b.Build(core.FromClient, []byte("payload"), 0)
	require.Len(t, frames, 1)
	return frames[0]
}

var (
	tcp4 = flow{transport: core.TCP, src: "10.0.0.1", dst: "42.13.37.80", sport: 40000, dport: 80}
	udp4 = flow{transport: core.UDP, src: "192.168.1.7", dst: "8.8.8.8", sport: 5353, dport: 53}
	tcp6 = flow{transport: core.TCP, src: "2001:db8::1", dst: "2001:db8::80", sport: 40000, dport: 443}
	udp6 = flow{transport: core.UDP, src: "fe80::1", dst: "2001:db8:1::53", sport: 1234, dport: 53}
)

func TestMatch(t *testing.T) {
	frames := map[string][]byte{
		"tcp4": build(t, tcp4),
		"udp4": build(t, udp4),
		"tcp6": build(t, tcp6),
		"udp6": build(t, udp6),
	}
	tests := []struct {
		expr string
		want []string
	}{
		{"", []string{"tcp4", "udp4", "tcp6", "udp6"}},
		{"ip", []string{"tcp4", "udp4"}},
		{"ip6", []string{"tcp6", "udp6"}},
		{"tcp", []string{"tcp4", "tcp6"}},
		{"udp and ip6", []string{"udp6"}},
		{"src 10.0.0.1", []string{"tcp4"}},
		{"dst 10.0.0.1", nil},
		{"host 8.8.8.8", []string{"udp4"}},
		{"src host 192.168.1.7", []string{"udp4"}},
		{"net 192.168.0.0/16", []string{"udp4"}},
		{"dst net 42.13.0.0/16", []string{"tcp4"}},
		{"net 0.0.0.0/0", []string{"tcp4", "udp4"}},
		{"host 2001:db8::80", []string{"tcp6"}},
		{"net 2001:db8::/32", []string{"tcp6", "udp6"}},
		{"src net 2001:db8::/32", []string{"tcp6"}},
		{"port 53", []string{"udp4", "udp6"}},
		{"src port 40000", []string{"tcp4", "tcp6"}},
		{"dst port 40000", nil},
		{"tcp && dst port 443", []string{"tcp6"}},
		{"ip and host 192.168.1.7 and port 5353", []string{"udp4"}},
		{"HOST 42.13.37.80", []string{"tcp4"}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f, err := Compile(tt.expr)
			require.NoError(t, err)
			var got []string
			for _, name := range []string{"tcp4", "udp4", "tcp6", "udp6"} {
				if f.Match(frames[name]) {
					got = append(got, name)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVLANTaggedFrames(t *testing.T) {
	s := udp4
	s.vlans = []uint16{100, 200}
	tagged := build(t, s)

	f, err := Compile("udp and host 8.8.8.8 and dst port 53")
	require.NoError(t, err)
	assert.True(t, f.Match(tagged))

	f, err = Compile("ip6")
	require.NoError(t, err)
	assert.False(t, f.Match(tagged))
}

func TestShortFrameRejected(t *testing.T) {
	f, err := Compile("host 1.2.3.4")
	require.NoError(t, err)
	assert.False(t, f.Match([]byte{0, 1, 2}))
	assert.False(t, f.Match(nil))
}

func TestCompileErrors(t *testing.T) {
	for _, expr := range []string{
		"host",
		"src",
		"host 1.2.3",
		"net 10.0.0.0",
		"port 70000",
		"portrange 1-2",
		"ether host 00:11:22:33:44:55",
	} {
		t.Run(expr, func(t *testing.T) {
			assert.Error(t, Validate(expr))
		})
	}
}

func TestInstructionsAssemble(t *testing.T) {
	f, err := Compile("host 10.0.0.1")
	require.NoError(t, err)
	raw := f.Instructions()
	require.NotEmpty(t, raw)

	prog, allDecoded := bpf.Disassemble(raw)
	assert.True(t, allDecoded)
	assert.Equal(t, bpf.RetConstant{Val: 0}, prog[len(prog)-1])
	assert.Equal(t, "host 10.0.0.1", f.String())
}

func TestEmptyExpressionAcceptsAll(t *testing.T) {
	f, err := Compile("   ")
	require.NoError(t, err)
	assert.True(t, f.Match([]byte{1}))
	assert.Len(t, f.Instructions(), 2)
}
