package pcapfile

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pseudoconn/internal/core"
)

var epoch = time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)

func TestEmptyBufferHeader(t *testing.T) {
	b := NewBuffer(0)
	want := []byte{
		0xd4, 0xc3, 0xb2, 0xa1, 0x02, 0x00, 0x04, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0xff, 0xff, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00,
	}
	assert.Equal(t, want, b.Bytes())
	assert.Equal(t, 0, b.Count())
	assert.Equal(t, GlobalHeaderLen, b.Len())
}

func TestWriteFrameRecordHeader(t *testing.T) {
	b := NewBuffer(0)
	ts := epoch.Add(1500 * time.Millisecond)
	require.NoError(t, b.WriteFrame(gopacket.CaptureInfo{Timestamp: ts}, []byte{1, 2, 3}))

	rec := b.Bytes()[GlobalHeaderLen:]
	require.Len(t, rec, RecordHeaderLen+3)
	assert.Equal(t, []byte{0x01, 0x2c, 0x3d, 0x4b}, rec[0:4]) // 1262304001
	assert.Equal(t, []byte{0x20, 0xa1, 0x07, 0x00}, rec[4:8]) // 500000
	assert.Equal(t, []byte{3, 0, 0, 0}, rec[8:12])
	assert.Equal(t, []byte{3, 0, 0, 0}, rec[12:16])
	assert.Equal(t, []byte{1, 2, 3}, rec[16:])
}

func TestRoundTrip(t *testing.T) {
	b := NewBuffer(0)
	frames := [][]byte{{0xaa}, bytes.Repeat([]byte{0xbb}, 60), {}}
	for i, f := range frames {
		ci := gopacket.CaptureInfo{Timestamp: epoch.Add(time.Duration(i+1) * 10 * time.Millisecond)}
		require.NoError(t, b.WriteFrame(ci, f))
	}
	require.Equal(t, 3, b.Count())

	h, recs, err := Split(b.Bytes())
	require.NoError(t, err)
	assert.Equal(t, uint32(Magic), h.Magic)
	assert.Equal(t, uint16(2), h.VersionMajor)
	assert.Equal(t, uint16(4), h.VersionMinor)
	assert.Equal(t, uint32(DefaultSnaplen), h.Snaplen)
	assert.Equal(t, layers.LinkTypeEthernet, h.LinkType)

	require.Len(t, recs, 3)
	for i, r := range recs {
		assert.Equal(t, frames[i], r.Data)
		assert.Equal(t, uint32(len(r.Data)), r.CaptureLen)
		assert.Equal(t, r.CaptureLen, r.OrigLen)
		assert.True(t, epoch.Add(time.Duration(i+1)*10*time.Millisecond).Equal(r.Timestamp))
	}
}

func TestWriteTo(t *testing.T) {
	b := NewBuffer(0)
	require.NoError(t, b.WriteFrame(gopacket.CaptureInfo{Timestamp: epoch}, []byte{9}))
	var out bytes.Buffer
	n, err := b.WriteTo(&out)
	require.NoError(t, err)
	assert.Equal(t, int64(b.Len()), n)
	assert.Equal(t, b.Bytes(), out.Bytes())
	// the buffer is not drained
	assert.Equal(t, GlobalHeaderLen+RecordHeaderLen+1, b.Len())
}

func TestReaderNext(t *testing.T) {
	b := NewBuffer(0)
	require.NoError(t, b.WriteFrame(gopacket.CaptureInfo{Timestamp: epoch}, []byte{1, 2}))
	r, err := NewReader(bytes.NewReader(b.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, rec.Data)
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestSplitRejectsMalformed(t *testing.T) {
	_, _, err := Split([]byte{1, 2, 3})
	assert.True(t, errors.Is(err, core.ErrBadCapture))

	bad := NewBuffer(0).Bytes()
	bad = append([]byte(nil), bad...)
	bad[0] = 0
	_, _, err = Split(bad)
	assert.True(t, errors.Is(err, core.ErrBadCapture))

	b := NewBuffer(0)
	require.NoError(t, b.WriteFrame(gopacket.CaptureInfo{Timestamp: epoch}, []byte{1, 2, 3, 4}))
	truncated := b.Bytes()[:b.Len()-2]
	_, recs, err := Split(truncated)
	assert.True(t, errors.Is(err, core.ErrBadCapture))
	assert.Empty(t, recs)

	headerOnly := b.Bytes()[:GlobalHeaderLen+RecordHeaderLen]
	_, _, err = Split(headerOnly)
	assert.True(t, errors.Is(err, core.ErrBadCapture))
}
