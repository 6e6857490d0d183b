// Package wire holds byte-order helpers and the RFC 1071 one's-complement
// checksum shared by the frame builder and the decoder.
package wire

import "encoding/binary"

// AppendBE16 appends v in network byte order.
func AppendBE16(b []byte, v uint16) []byte { return binary.BigEndian.AppendUint16(b, v) }

// AppendBE32 appends v in network byte order.
func AppendBE32(b []byte, v uint32) []byte { return binary.BigEndian.AppendUint32(b, v) }

// AppendLE16 appends v in little-endian order.
func AppendLE16(b []byte, v uint16) []byte { return binary.LittleEndian.AppendUint16(b, v) }

// AppendLE32 appends v in little-endian order.
func AppendLE32(b []byte, v uint32) []byte { return binary.LittleEndian.AppendUint32(b, v) }

// BE16 reads a network-order uint16 from b[0:2].
func BE16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }

// BE32 reads a network-order uint32 from b[0:4].
func BE32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

// LE16 reads a little-endian uint16 from b[0:2].
func LE16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }

// LE32 reads a little-endian uint32 from b[0:4], as in pcap headers.
func LE32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

// PutBE16 overwrites b[0:2].
func PutBE16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }

// Sum adds every big-endian 16-bit word of data to seed and folds the carries.
// An odd trailing byte is padded with zero. The result is not complemented.
func Sum(data []byte, seed uint32) uint16 {
	sum := uint64(seed)
	n := len(data) &^ 1
	for i := 0; i < n; i += 2 {
		sum += uint64(data[i])<<8 | uint64(data[i+1])
	}
	if len(data)&1 == 1 {
		sum += uint64(data[len(data)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = sum&0xFFFF + sum>>16
	}
	return uint16(sum)
}

// Checksum returns the one's-complement checksum of data with seed folded in.
// Recomputing Sum over a range that already carries its checksum yields 0xFFFF.
func Checksum(data []byte, seed uint32) uint16 {
	return ^Sum(data, seed)
}
