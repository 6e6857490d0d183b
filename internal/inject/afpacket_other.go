//go:build !linux || !cgo

package inject

// Open always fails where AF_PACKET is unavailable.
func Open(cfg Config) (*Sink, error) {
	return nil, ErrUnsupported
}
