package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"net/netip"
	"reflect"
	"strings"
)

// ParseAddr accepts an address as text, an integer, or an already parsed
// value (netip.Addr, net.IP, [4]byte, [16]byte, a 4 or 16 byte slice).
// Integers up to 2^32-1 are IPv4; larger ones fill the low 64 bits of an IPv6
// address. A *big.Int may cover the full 128 bits.
func ParseAddr(v any) (netip.Addr, error) {
	switch a := v.(type) {
	case nil:
		return netip.Addr{}, errors.New("no address")
	case string:
		addr, err := netip.ParseAddr(strings.TrimSpace(a))
		if err != nil {
			return netip.Addr{}, err
		}
		if addr.Zone() != "" {
			return netip.Addr{}, fmt.Errorf("zoned address %q", a)
		}
		return addr, nil
	case netip.Addr:
		if !a.IsValid() {
			return netip.Addr{}, errors.New("zero netip.Addr")
		}
		return a, nil
	case net.IP:
		addr, ok := netip.AddrFromSlice(a)
		if !ok {
			return netip.Addr{}, fmt.Errorf("net.IP of length %d", len(a))
		}
		if a.To4() != nil {
			addr = addr.Unmap()
		}
		return addr, nil
	case [4]byte:
		return netip.AddrFrom4(a), nil
	case [16]byte:
		return netip.AddrFrom16(a), nil
	case []byte:
		addr, ok := netip.AddrFromSlice(a)
		if !ok {
			return netip.Addr{}, fmt.Errorf("byte slice of length %d", len(a))
		}
		return addr, nil
	case *big.Int:
		return addrFromBig(a)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Int() < 0 {
			return netip.Addr{}, fmt.Errorf("negative integer %d", rv.Int())
		}
		return addrFromUint(uint64(rv.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return addrFromUint(rv.Uint()), nil
	}
	return netip.Addr{}, fmt.Errorf("unsupported type %T", v)
}

func addrFromUint(n uint64) netip.Addr {
	if n <= math.MaxUint32 {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(n))
		return netip.AddrFrom4(b)
	}
	var b [16]byte
	binary.BigEndian.PutUint64(b[8:], n)
	return netip.AddrFrom16(b)
}

func addrFromBig(n *big.Int) (netip.Addr, error) {
	switch {
	case n == nil:
		return netip.Addr{}, errors.New("nil *big.Int")
	case n.Sign() < 0:
		return netip.Addr{}, fmt.Errorf("negative integer %v", n)
	case n.BitLen() <= 32:
		return addrFromUint(n.Uint64()), nil
	case n.BitLen() <= 128:
		var b [16]byte
		n.FillBytes(b[:])
		return netip.AddrFrom16(b), nil
	default:
		return netip.Addr{}, fmt.Errorf("integer %v exceeds 128 bits", n)
	}
}

// parseMAC accepts "aa:bb:cc:dd:ee:ff" style text, net.HardwareAddr, a 6 byte
// slice or a [6]byte.
func parseMAC(v any) ([6]byte, error) {
	var mac [6]byte
	var raw []byte
	switch m := v.(type) {
	case string:
		hw, err := net.ParseMAC(strings.TrimSpace(m))
		if err != nil {
			return mac, err
		}
		raw = hw
	case net.HardwareAddr:
		raw = m
	case []byte:
		raw = m
	case [6]byte:
		return m, nil
	default:
		return mac, fmt.Errorf("unsupported type %T", v)
	}
	if len(raw) != len(mac) {
		return mac, fmt.Errorf("%d byte hardware address", len(raw))
	}
	copy(mac[:], raw)
	return mac, nil
}
