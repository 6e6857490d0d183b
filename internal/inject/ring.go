package inject

import "fmt"

const (
	tpacketAlignment = 16
	// TPACKET3_HDRLEN, rounded
	tpacketHdrLen = 52
	maxBlockSize  = 4 << 20
)

// ring is the PACKET_MMAP geometry of a handle.
type ring struct {
	frameSize int
	blockSize int
	numBlocks int
}

// ringFor sizes a ring of roughly bufferMB megabytes holding snaplen-byte
// frames. Frame and page sizes are powers of two, so a block of the larger of
// the two always holds a whole number of frames and is page aligned.
func ringFor(bufferMB, snaplen, pageSize int) (ring, error) {
	if bufferMB <= 0 {
		return ring{}, fmt.Errorf("buffer size must be positive, got %d MB", bufferMB)
	}
	if snaplen <= 0 {
		return ring{}, fmt.Errorf("snaplen must be positive, got %d", snaplen)
	}
	if pageSize < tpacketAlignment || pageSize&(pageSize-1) != 0 {
		return ring{}, fmt.Errorf("page size must be a power of two of at least %d, got %d", tpacketAlignment, pageSize)
	}

	var r ring
	r.frameSize = nextPow2(tpacketHdrLen + snaplen)
	if r.frameSize > maxBlockSize {
		return ring{}, fmt.Errorf("snaplen %d needs a %d byte frame, above the %d byte block limit", snaplen, r.frameSize, maxBlockSize)
	}
	r.blockSize = max(r.frameSize, pageSize)

	r.numBlocks = (bufferMB << 20) / r.blockSize
	if r.numBlocks < 1 {
		r.numBlocks = 1
	}
	return r, nil
}

func nextPow2(n int) int {
	p := tpacketAlignment
	for p < n {
		p <<= 1
	}
	return p
}

