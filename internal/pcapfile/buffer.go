// Package pcapfile writes and reads the classic libpcap container
// (microsecond timestamps, little-endian, version 2.4).
package pcapfile

import (
	"bytes"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const (
	// DefaultSnaplen is written into the global header.
	DefaultSnaplen = 0xFFFF
	// GlobalHeaderLen is the size of the container header.
	GlobalHeaderLen = 24
	// RecordHeaderLen is the size of each per-frame record header.
	RecordHeaderLen = 16
)

// Buffer accumulates a capture in memory. The global header is written on
// creation, so Bytes is always a complete container.
type Buffer struct {
	buf   bytes.Buffer
	w     *pcapgo.Writer
	count int
}

// NewBuffer returns an empty Ethernet capture with the given snap length.
// A zero snaplen means DefaultSnaplen.
func NewBuffer(snaplen uint32) *Buffer {
	if snaplen == 0 {
		snaplen = DefaultSnaplen
	}
	b := &Buffer{}
	b.w = pcapgo.NewWriter(&b.buf)
	// bytes.Buffer writes do not fail
	_ = b.w.WriteFileHeader(snaplen, layers.LinkTypeEthernet)
	return b
}

// WriteFrame appends one record. ci.Timestamp must be set; the captured and
// original lengths are taken from frame.
func (b *Buffer) WriteFrame(ci gopacket.CaptureInfo, frame []byte) error {
	ci.CaptureLength = len(frame)
	ci.Length = len(frame)
	if err := b.w.WritePacket(ci, frame); err != nil {
		return err
	}
	b.count++
	return nil
}

// Count is the number of records written.
func (b *Buffer) Count() int { return b.count }

// Len is the container size in bytes.
func (b *Buffer) Len() int { return b.buf.Len() }

// Bytes returns the container. The slice aliases the buffer until the next write.
func (b *Buffer) Bytes() []byte { return b.buf.Bytes() }

// WriteTo copies the container to w without draining the buffer.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.buf.Bytes())
	return int64(n), err
}
