// Package inject writes generated frames to a live network interface. A
// Sink satisfies session.Sink, so a scenario can be replayed onto the wire
// instead of into a capture file.
package inject

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket"

	"firestige.xyz/pseudoconn/internal/filter"
	"firestige.xyz/pseudoconn/internal/log"
	"firestige.xyz/pseudoconn/internal/metrics"
)

// ErrUnsupported is returned by Open on platforms without AF_PACKET.
var ErrUnsupported = errors.New("pseudoconn: live injection is not supported on this platform")

// Config selects the interface and ring sizing of a live sink.
type Config struct {
	Interface    string `mapstructure:"interface"`
	BufferSizeMB int    `mapstructure:"buffer_size_mb"`
	SnapLen      int    `mapstructure:"snap_len"`
	// Pace sleeps between writes for the gap between record timestamps.
	Pace bool `mapstructure:"pace"`
	// Filter drops frames that do not match; empty injects everything.
	Filter string `mapstructure:"filter"`
}

const (
	DefaultBufferSizeMB = 8
	DefaultSnapLen      = 65535
)

func (c *Config) applyDefaults() {
	if c.BufferSizeMB <= 0 {
		c.BufferSizeMB = DefaultBufferSizeMB
	}
	if c.SnapLen <= 0 {
		c.SnapLen = DefaultSnapLen
	}
}

// packetWriter is the transmit half of a capture handle.
type packetWriter interface {
	WritePacketData(data []byte) error
	Close()
}

// Sink writes each frame to a packetWriter.
type Sink struct {
	iface  string
	w      packetWriter
	filter *filter.Filter
	pace   bool
	sleep  func(time.Duration)
	last   time.Time

	written int
	skipped int
}

func newSink(cfg Config, w packetWriter) (*Sink, error) {
	f, err := filter.Compile(cfg.Filter)
	if err != nil {
		return nil, err
	}
	return &Sink{
		iface:  cfg.Interface,
		w:      w,
		filter: f,
		pace:   cfg.Pace,
		sleep:  time.Sleep,
	}, nil
}

// WriteFrame transmits one link-layer frame.
func (s *Sink) WriteFrame(ci gopacket.CaptureInfo, frame []byte) error {
	if !s.filter.Match(frame) {
		s.skipped++
		return nil
	}
	if s.pace {
		if !s.last.IsZero() {
			if gap := ci.Timestamp.Sub(s.last); gap > 0 {
				s.sleep(gap)
			}
		}
		s.last = ci.Timestamp
	}

	start := time.Now()
	err := s.w.WritePacketData(frame)
	metrics.InjectWriteSeconds.WithLabelValues(s.iface).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.InjectErrorsTotal.WithLabelValues(s.iface).Inc()
		return fmt.Errorf("inject on %s: %w", s.iface, err)
	}
	metrics.InjectFramesTotal.WithLabelValues(s.iface).Inc()
	s.written++

	if logger := log.GetLogger(); logger.IsTraceEnabled() {
		logger.WithField("iface", s.iface).Tracef("injected %d bytes", len(frame))
	}
	return nil
}

// Written is the number of frames transmitted.
func (s *Sink) Written() int { return s.written }

// Skipped is the number of frames the filter dropped.
func (s *Sink) Skipped() int { return s.skipped }

// Close releases the handle.
func (s *Sink) Close() error {
	s.w.Close()
	log.GetLogger().WithFields(map[string]interface{}{
		"iface":   s.iface,
		"written": s.written,
		"skipped": s.skipped,
	}).Debug("inject sink closed")
	return nil
}
