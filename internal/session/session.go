// Package session owns the capture clock, the output sink and the named
// generator streams, and hands out simulated connections that write into them.
package session

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"

	"firestige.xyz/pseudoconn/internal/core"
	"firestige.xyz/pseudoconn/internal/frame"
	"firestige.xyz/pseudoconn/internal/log"
	"firestige.xyz/pseudoconn/internal/metrics"
	"firestige.xyz/pseudoconn/internal/pcapfile"
	"firestige.xyz/pseudoconn/internal/prng"
)

// DefaultDelay is the clock advance applied before each frame.
const DefaultDelay = 10 * time.Millisecond

// DefaultStart is the first timestamp when neither Start nor WallClock is set.
var DefaultStart = time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)

// Sink receives every frame a session produces, in order.
type Sink interface {
	WriteFrame(ci gopacket.CaptureInfo, frame []byte) error
}

// Config configures a Session. The zero value is a deterministic in-memory
// capture.
type Config struct {
	// Start is the initial clock value. Zero means DefaultStart, or the current
	// time when WallClock is set.
	Start     time.Time
	WallClock bool
	// Delay is added to the clock before each frame. Zero means DefaultDelay;
	// negative values are rejected.
	Delay time.Duration
	// Seed is the base seed of every named stream; StreamSeeds overrides it
	// per stream name.
	Seed        uint64
	StreamSeeds map[string]uint64
	// MTU and Segmentation are the connection defaults.
	MTU          int
	Segmentation frame.Strategy
	// Snaplen of the in-memory capture. Zero means pcapfile.DefaultSnaplen. It
	// must not be below any connection MTU.
	Snaplen uint32
	// Sink replaces the in-memory capture, for example with a live injector.
	Sink Sink
}

// Session is a single-threaded capture under construction. It is not safe
// for concurrent use.
type Session struct {
	now     time.Time
	delay   time.Duration
	mtu     int
	snaplen int // 0 unless the session owns the capture buffer
	seg     frame.Strategy
	streams *prng.Streams
	sink    Sink
	frames  int
	conns   int
	log     log.Logger
}

// New creates a session from cfg. It fails with an *OptionError when cfg
// would move the clock backwards or truncate frames in the capture.
func New(cfg Config) (*Session, error) {
	start := cfg.Start
	if start.IsZero() {
		if cfg.WallClock {
			start = time.Now()
		} else {
			start = DefaultStart
		}
	}
	delay := cfg.Delay
	if delay < 0 {
		return nil, &OptionError{Key: "delay", Reason: fmt.Sprintf("%s is negative", delay)}
	}
	if delay == 0 {
		delay = DefaultDelay
	}
	mtu := cfg.MTU
	if mtu == 0 {
		mtu = DefaultMTU
	}
	if mtu < 0 || mtu > maxMTU {
		return nil, &OptionError{Key: "mtu", Reason: fmt.Sprintf("%d out of range", mtu)}
	}
	sink := cfg.Sink
	var snaplen int
	if sink == nil {
		snaplen = int(cfg.Snaplen)
		if snaplen == 0 {
			snaplen = pcapfile.DefaultSnaplen
		}
		if snaplen < mtu {
			return nil, &OptionError{Key: "snaplen", Reason: fmt.Sprintf("%d is below mtu %d", snaplen, mtu)}
		}
		sink = pcapfile.NewBuffer(uint32(snaplen))
	}
	return &Session{
		now:     start,
		delay:   delay,
		mtu:     mtu,
		snaplen: snaplen,
		seg:     cfg.Segmentation,
		streams: prng.NewStreams(cfg.Seed, cfg.StreamSeeds),
		sink:    sink,
		log:     log.GetLogger().WithField("component", "session"),
	}, nil
}

// Generate runs fn against a fresh session and returns the rendered capture.
func Generate(cfg Config, fn func(*Session) error) ([]byte, error) {
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	return s.Render()
}

// Now is the current clock value.
func (s *Session) Now() time.Time { return s.now }

// Delay is the per-frame clock advance.
func (s *Session) Delay() time.Duration { return s.delay }

// Sleep advances the clock without emitting a frame.
func (s *Session) Sleep(d time.Duration) {
	if d > 0 {
		s.now = s.now.Add(d)
	}
}

// Streams exposes the named generators, e.g. for DNS transaction ids.
func (s *Session) Streams() *prng.Streams { return s.streams }

// Frames is the number of frames written so far.
func (s *Session) Frames() int { return s.frames }

// Connect creates a connection from opts. TCP connections emit their
// three-way handshake before Connect returns.
func (s *Session) Connect(opts Options) (*Connection, error) {
	c, err := s.newConnection(opts)
	if err != nil {
		return nil, err
	}
	if err := c.open(); err != nil {
		return nil, err
	}
	return c, nil
}

// ConnectMap decodes m with DecodeOptions and calls Connect.
func (s *Session) ConnectMap(m map[string]any) (*Connection, error) {
	opts, err := DecodeOptions(m)
	if err != nil {
		return nil, err
	}
	return s.Connect(opts)
}

// Run opens a connection, hands it to fn and closes it afterwards unless fn
// already closed or reset it.
func (s *Session) Run(opts Options, fn func(*Connection) error) error {
	c, err := s.Connect(opts)
	if err != nil {
		return err
	}
	if err := fn(c); err != nil {
		return err
	}
	if c.State() == core.StateClosed {
		return nil
	}
	return c.Close()
}

// Render returns the complete capture container.
func (s *Session) Render() ([]byte, error) {
	buf, ok := s.sink.(*pcapfile.Buffer)
	if !ok {
		return nil, core.ErrNotBuffered
	}
	return bytes.Clone(buf.Bytes()), nil
}

// WriteTo writes the capture container to w.
func (s *Session) WriteTo(w io.Writer) (int64, error) {
	buf, ok := s.sink.(*pcapfile.Buffer)
	if !ok {
		return 0, core.ErrNotBuffered
	}
	return buf.WriteTo(w)
}

// record advances the clock and hands one frame to the sink.
func (s *Session) record(c *Connection, dir core.Direction, f []byte) error {
	s.now = s.now.Add(s.delay)
	ci := gopacket.CaptureInfo{
		Timestamp:     s.now,
		CaptureLength: len(f),
		Length:        len(f),
	}
	if err := s.sink.WriteFrame(ci, f); err != nil {
		return fmt.Errorf("write frame %d: %w", s.frames, err)
	}
	s.frames++
	metrics.ObserveFrame(c.transport.String(), dir.String(), len(f))
	if c.log.IsTraceEnabled() {
		c.log.WithFields(map[string]interface{}{"dir": dir, "len": len(f), "frame": s.frames}).Trace("frame written")
	}
	return nil
}
