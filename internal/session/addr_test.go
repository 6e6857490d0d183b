package session

import (
	"errors"
	"math/big"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pseudoconn/internal/core"
)

func TestParseAddr(t *testing.T) {
	big128, _ := new(big.Int).SetString("20010db8000000000000000000000001", 16)
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"dotted quad", "192.168.1.10", "192.168.1.10"},
		{"colon hex", "2001:db8::1", "2001:db8::1"},
		{"padded text", " 10.0.0.1 ", "10.0.0.1"},
		{"int", 167772161, "10.0.0.1"},
		{"uint32", uint32(0x2A0D2550), "42.13.37.80"},
		{"uint64 beyond 32 bits", uint64(1) << 40, "::100:0:0"},
		{"big int v4", big.NewInt(167772161), "10.0.0.1"},
		{"big int v6", big128, "2001:db8::1"},
		{"netip", netip.MustParseAddr("10.9.8.7"), "10.9.8.7"},
		{"net.IP v4 in 16 bytes", net.ParseIP("10.0.0.2"), "10.0.0.2"},
		{"net.IP v6", net.ParseIP("fe80::1"), "fe80::1"},
		{"array4", [4]byte{1, 2, 3, 4}, "1.2.3.4"},
		{"array16", netip.MustParseAddr("::2").As16(), "::2"},
		{"slice", []byte{8, 8, 4, 4}, "8.8.4.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddr(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseAddrRejects(t *testing.T) {
	tooBig := new(big.Int).Lsh(big.NewInt(1), 130)
	for _, in := range []any{
		nil, "", "10.0.0", "fe80::1%eth0", -1, big.NewInt(-5), tooBig,
		netip.Addr{}, net.IP{1, 2, 3}, []byte{1, 2}, 1.5, struct{}{},
	} {
		_, err := ParseAddr(in)
		assert.Error(t, err, "input %#v", in)
	}
}

func TestAddressErrorUnwrap(t *testing.T) {
	cause := errors.New("cause")
	err := error(&AddressError{Key: "src_ip", Value: 1.5, Err: cause})
	assert.True(t, errors.Is(err, core.ErrAddressFormat))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "src_ip")
}

func TestParseMAC(t *testing.T) {
	want := [6]byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}
	for _, in := range []any{
		"de:ad:be:ef:00:01",
		"DE-AD-BE-EF-00-01",
		net.HardwareAddr(want[:]),
		want[:],
		want,
	} {
		got, err := parseMAC(in)
		require.NoError(t, err, "input %#v", in)
		assert.Equal(t, want, got)
	}

	for _, in := range []any{"zz:zz", []byte{1, 2, 3}, "00:00:5e:00:53:00:00:01", 42} {
		_, err := parseMAC(in)
		assert.Error(t, err, "input %#v", in)
	}
}
