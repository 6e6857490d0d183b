package pcapfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/pseudoconn/internal/core"
	"firestige.xyz/pseudoconn/internal/wire"
)

// Magic is the microsecond-resolution container magic.
const Magic = 0xA1B2C3D4

// FileHeader is the decoded global header.
type FileHeader struct {
	Magic        uint32
	VersionMajor uint16
	VersionMinor uint16
	ThisZone     int32
	SigFigs      uint32
	Snaplen      uint32
	LinkType     layers.LinkType
}

// ParseHeader decodes the 24-byte global header of a little-endian container.
func ParseHeader(data []byte) (FileHeader, error) {
	if len(data) < GlobalHeaderLen {
		return FileHeader{}, fmt.Errorf("%w: %d byte header", core.ErrBadCapture, len(data))
	}
	h := FileHeader{
		Magic:        wire.LE32(data[0:4]),
		VersionMajor: wire.LE16(data[4:6]),
		VersionMinor: wire.LE16(data[6:8]),
		ThisZone:     int32(wire.LE32(data[8:12])),
		SigFigs:      wire.LE32(data[12:16]),
		Snaplen:      wire.LE32(data[16:20]),
		LinkType:     layers.LinkType(wire.LE32(data[20:24])),
	}
	if h.Magic != Magic {
		return h, fmt.Errorf("%w: magic %#08x", core.ErrBadCapture, h.Magic)
	}
	return h, nil
}

// Reader yields records from a container one at a time.
type Reader struct {
	r *pcapgo.Reader
}

// NewReader reads the global header from r.
func NewReader(r io.Reader) (*Reader, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrBadCapture, err)
	}
	return &Reader{r: pr}, nil
}

// LinkType reports the container link type.
func (r *Reader) LinkType() layers.LinkType { return r.r.LinkType() }

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (core.RawPacket, error) {
	data, ci, err := r.r.ReadPacketData()
	if err != nil {
		// a record header with no body also surfaces as io.EOF
		if errors.Is(err, io.EOF) && ci.CaptureLength == 0 {
			return core.RawPacket{}, io.EOF
		}
		return core.RawPacket{}, fmt.Errorf("%w: %v", core.ErrBadCapture, err)
	}
	return core.RawPacket{
		Data:       data,
		Timestamp:  ci.Timestamp,
		CaptureLen: uint32(ci.CaptureLength),
		OrigLen:    uint32(ci.Length),
	}, nil
}

// Split separates a whole container into its header and records.
func Split(data []byte) (FileHeader, []core.RawPacket, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return h, nil, err
	}
	r, err := NewReader(bytes.NewReader(data))
	if err != nil {
		return h, nil, err
	}
	var records []core.RawPacket
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return h, records, nil
		}
		if err != nil {
			return h, records, fmt.Errorf("record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
}
