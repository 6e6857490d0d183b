package session

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"firestige.xyz/pseudoconn/internal/core"
	"firestige.xyz/pseudoconn/internal/frame"
	"firestige.xyz/pseudoconn/internal/log"
	"firestige.xyz/pseudoconn/internal/metrics"
	"firestige.xyz/pseudoconn/internal/prng"
)

// Emitter is what application encoders write through. A Connection is one;
// encoders never touch header fields.
type Emitter interface {
	EmitClient(data []byte) error
	EmitServer(data []byte) error
	Sleep(d time.Duration)
}

// Connection is one simulated TCP or UDP conversation. The server endpoint
// is the destination of the options, the client the source.
type Connection struct {
	id        int
	sess      *Session
	transport core.Transport
	ipv6      bool
	server    core.Endpoint
	client    core.Endpoint
	builder   *frame.Builder
	state     core.State
	log       log.Logger
}

var _ Emitter = (*Connection)(nil)

func (s *Session) newConnection(opts Options) (*Connection, error) {
	transport := core.TCP
	if opts.Transport != "" {
		t, err := core.ParseTransport(opts.Transport)
		if err != nil {
			return nil, &OptionError{Key: "transport", Reason: fmt.Sprintf("%q", opts.Transport)}
		}
		transport = t
	}

	mtu := opts.MTU
	if mtu == 0 {
		mtu = s.mtu
	}
	if mtu < 0 || mtu > maxMTU {
		return nil, &OptionError{Key: "mtu", Reason: fmt.Sprintf("%d out of range", mtu)}
	}
	if s.snaplen != 0 && mtu > s.snaplen {
		return nil, &OptionError{Key: "mtu", Reason: fmt.Sprintf("%d exceeds capture snaplen %d", mtu, s.snaplen)}
	}

	seg := s.seg
	if opts.Segmentation != "" {
		st, err := frame.ParseStrategy(opts.Segmentation)
		if err != nil {
			return nil, &OptionError{Key: "segmentation", Reason: fmt.Sprintf("%q", opts.Segmentation)}
		}
		seg = st
	}

	for _, tag := range opts.VLANs {
		if tag > maxVLANID {
			return nil, &OptionError{Key: "vlans", Reason: fmt.Sprintf("tag %d exceeds %d", tag, maxVLANID)}
		}
	}

	srcIP, err := resolveAddr("src_ip", opts.SrcIP, DefaultSrcIP)
	if err != nil {
		return nil, err
	}
	dstIP, err := resolveAddr("dst_ip", opts.DstIP, DefaultDstIP)
	if err != nil {
		return nil, err
	}
	ipv6 := opts.IPv6 || !srcIP.Is4() || !dstIP.Is4()
	if ipv6 {
		srcIP = netip.AddrFrom16(srcIP.As16())
		dstIP = netip.AddrFrom16(dstIP.As16())
	}

	c := &Connection{
		id:        s.conns + 1,
		sess:      s,
		transport: transport,
		ipv6:      ipv6,
		state:     core.StateInit,
	}
	c.client = core.Endpoint{
		Addr: srcIP,
		Port: s.port(opts.SrcPort, prng.StreamSrcPort),
		Seq:  s.seq(opts.SrcSeq, prng.StreamSrcSeq),
	}
	c.server = core.Endpoint{
		Addr: dstIP,
		Port: s.port(opts.DstPort, prng.StreamDstPort),
		Seq:  s.seq(opts.DstSeq, prng.StreamDstSeq),
	}
	if c.client.MAC, err = s.mac("src_mac", opts.SrcMAC, prng.StreamSrcMAC); err != nil {
		return nil, err
	}
	if c.server.MAC, err = s.mac("dst_mac", opts.DstMAC, prng.StreamDstMAC); err != nil {
		return nil, err
	}

	cfg := frame.Config{
		Transport: transport,
		IPv6:      ipv6,
		MTU:       mtu,
		VLANs:     opts.VLANs,
		Strategy:  seg,
	}
	c.builder, err = frame.New(cfg, &c.server, &c.client, s.streams.Get(prng.StreamIPID))
	if err != nil {
		if errors.Is(err, core.ErrInvalidOption) {
			return nil, &OptionError{Key: "mtu", Reason: fmt.Sprintf("%d does not exceed header overhead %d", mtu, cfg.Overhead())}
		}
		return nil, err
	}

	s.conns++
	version := "4"
	if ipv6 {
		version = "6"
	}
	metrics.ConnectionsTotal.WithLabelValues(transport.String(), version).Inc()
	c.log = s.log.WithField("conn", c.id)
	c.log.WithFields(map[string]interface{}{
		"transport": transport,
		"client":    netip.AddrPortFrom(c.client.Addr, c.client.Port).String(),
		"server":    netip.AddrPortFrom(c.server.Addr, c.server.Port).String(),
		"mtu":       mtu,
	}).Debug("connection created")
	return c, nil
}

func resolveAddr(key string, v any, def string) (netip.Addr, error) {
	if v == nil {
		v = def
	}
	addr, err := ParseAddr(v)
	if err != nil {
		return netip.Addr{}, &AddressError{Key: key, Value: v, Err: err}
	}
	return addr, nil
}

func (s *Session) port(p *uint16, stream string) uint16 {
	if p != nil {
		return *p
	}
	return uint16(portBase + s.streams.Get(stream).Intn(portSpan))
}

func (s *Session) seq(v *uint32, stream string) uint32 {
	if v != nil {
		return *v
	}
	return s.streams.Get(stream).Uint32()
}

func (s *Session) mac(key string, v any, stream string) ([6]byte, error) {
	if v == nil {
		var mac [6]byte
		copy(mac[:], s.streams.Get(stream).Bytes(6))
		return mac, nil
	}
	mac, err := parseMAC(v)
	if err != nil {
		return mac, &OptionError{Key: key, Reason: err.Error()}
	}
	return mac, nil
}

// open runs the TCP handshake; UDP connections are usable immediately.
func (c *Connection) open() error {
	if c.transport != core.TCP {
		c.state = core.StateEstablished
		return nil
	}
	c.state = core.StateHandshaking
	if err := c.emit(core.FromClient, nil, core.FlagSYN); err != nil {
		return err
	}
	if err := c.emit(core.FromServer, nil, core.FlagSYNACK); err != nil {
		return err
	}
	if err := c.emit(core.FromClient, nil, 0); err != nil {
		return err
	}
	c.state = core.StateEstablished
	return nil
}

func (c *Connection) emit(dir core.Direction, data []byte, flags core.Flag) error {
	for _, f := range c.builder.Build(dir, data, flags) {
		if err := c.sess.record(c, dir, f); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) send(dir core.Direction, data []byte) error {
	if c.state != core.StateEstablished {
		return fmt.Errorf("conn %d is %v: %w", c.id, c.state, core.ErrConnectionClosed)
	}
	return c.emit(dir, data, 0)
}

// Client sends data from the client to the server.
func (c *Connection) Client(data []byte) error { return c.send(core.FromClient, data) }

// Server sends data from the server to the client.
func (c *Connection) Server(data []byte) error { return c.send(core.FromServer, data) }

// EmitClient is Client, for encoders written against Emitter.
func (c *Connection) EmitClient(data []byte) error { return c.Client(data) }

// EmitServer is Server, for encoders written against Emitter.
func (c *Connection) EmitServer(data []byte) error { return c.Server(data) }

// Sleep advances the session clock.
func (c *Connection) Sleep(d time.Duration) { c.sess.Sleep(d) }

// Close emits client FIN, server FIN and client ACK for TCP. A UDP
// connection is marked closed without emitting anything.
func (c *Connection) Close() error {
	if c.state != core.StateEstablished {
		return fmt.Errorf("close conn %d in state %v: %w", c.id, c.state, core.ErrConnectionClosed)
	}
	if c.transport == core.TCP {
		c.state = core.StateClosing
		if err := c.emit(core.FromClient, nil, core.FlagFIN); err != nil {
			return err
		}
		if err := c.emit(core.FromServer, nil, core.FlagFIN); err != nil {
			return err
		}
		if err := c.emit(core.FromClient, nil, 0); err != nil {
			return err
		}
	}
	c.state = core.StateClosed
	c.log.Debug("connection closed")
	return nil
}

// Reset emits a single client RST for TCP. A UDP connection is marked closed
// without emitting anything.
func (c *Connection) Reset() error {
	if c.state != core.StateEstablished {
		return fmt.Errorf("reset conn %d in state %v: %w", c.id, c.state, core.ErrConnectionClosed)
	}
	if c.transport == core.TCP {
		c.state = core.StateReset
		if err := c.emit(core.FromClient, nil, core.FlagRST); err != nil {
			return err
		}
	}
	c.state = core.StateClosed
	c.log.Debug("connection reset")
	return nil
}

// ID is the 1-based creation index within the session.
func (c *Connection) ID() int { return c.id }

// State is the lifecycle state.
func (c *Connection) State() core.State { return c.state }

// Transport is TCP or UDP.
func (c *Connection) Transport() core.Transport { return c.transport }

// IPv6 reports whether frames carry an IPv6 header.
func (c *Connection) IPv6() bool { return c.ipv6 }

// Endpoints returns copies of the server and client endpoints.
func (c *Connection) Endpoints() (server, client core.Endpoint) { return c.server, c.client }
