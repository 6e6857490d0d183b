package session

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"firestige.xyz/pseudoconn/internal/core"
	"firestige.xyz/pseudoconn/internal/core/decoder"
	"firestige.xyz/pseudoconn/internal/pcapfile"
	"firestige.xyz/pseudoconn/internal/prng"
)

func newSession(t require.TestingT, cfg Config) *Session {
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func decodeAll(t *testing.T, s *Session) []core.DecodedPacket {
	t.Helper()
	data, err := s.Render()
	require.NoError(t, err)
	_, recs, err := pcapfile.Split(data)
	require.NoError(t, err)

	d := decoder.NewStandardDecoder(decoder.Config{})
	out := make([]core.DecodedPacket, 0, len(recs))
	for _, r := range recs {
		require.Equal(t, int(r.CaptureLen), len(r.Data))
		p, err := d.Decode(r)
		require.NoError(t, err)
		require.True(t, p.IPv4ChecksumOK, "ipv4 checksum")
		require.True(t, p.L4ChecksumOK, "l4 checksum")
		out = append(out, p)
	}
	return out
}

func TestTCPConversation(t *testing.T) {
	s := newSession(t, Config{Seed: 1, Delay: 10 * time.Millisecond})
	c, err := s.Connect(Options{SrcSeq: Seq(100), DstSeq: Seq(900)})
	require.NoError(t, err)
	assert.Equal(t, core.StateEstablished, c.State())

	require.NoError(t, c.Client([]byte("Hi")))
	require.NoError(t, c.Server([]byte("Bye")))
	require.NoError(t, c.Close())
	assert.Equal(t, core.StateClosed, c.State())

	pkts := decodeAll(t, s)
	require.Len(t, pkts, 8)
	assert.Equal(t, 8, s.Frames())

	type want struct {
		flags    uint8
		seq, ack uint32
		payload  string
		fromCli  bool
	}
	wants := []want{
		{0x02, 100, 0, "", true},     // SYN
		{0x12, 900, 101, "", false},  // SYN-ACK
		{0x10, 101, 901, "", true},   // ACK
		{0x10, 101, 901, "Hi", true}, // data
		{0x10, 901, 103, "Bye", false},
		{0x11, 103, 904, "", true}, // FIN
		{0x11, 904, 104, "", false},
		{0x10, 104, 905, "", true},
	}
	server, client := c.Endpoints()
	for i, w := range wants {
		p := pkts[i]
		assert.Equal(t, w.flags, p.Transport.TCPFlags, "frame %d flags", i)
		assert.Equal(t, w.seq, p.Transport.SeqNum, "frame %d seq", i)
		assert.Equal(t, w.ack, p.Transport.AckNum, "frame %d ack", i)
		assert.Equal(t, w.payload, string(p.Payload), "frame %d payload", i)
		if w.fromCli {
			assert.Equal(t, client.Addr, p.IP.SrcIP)
			assert.Equal(t, client.Port, p.Transport.SrcPort)
		} else {
			assert.Equal(t, server.Addr, p.IP.SrcIP)
			assert.Equal(t, server.Port, p.Transport.SrcPort)
		}
		assert.True(t, DefaultStart.Add(time.Duration(i+1)*10*time.Millisecond).Equal(p.Timestamp), "frame %d time", i)
	}
	assert.Equal(t, uint32(104), client.Seq)
	assert.Equal(t, uint32(905), server.Seq)
}

func TestDefaults(t *testing.T) {
	s := newSession(t, Config{})
	c, err := s.Connect(Options{})
	require.NoError(t, err)

	assert.Equal(t, core.TCP, c.Transport())
	assert.False(t, c.IPv6())
	server, client := c.Endpoints()
	assert.Equal(t, "10.0.0.1", client.Addr.String())
	assert.Equal(t, "42.13.37.80", server.Addr.String())
	for _, p := range []uint16{client.Port, server.Port} {
		assert.GreaterOrEqual(t, p, uint16(1025))
		assert.Less(t, p, uint16(31025))
	}
	assert.Equal(t, DefaultDelay, s.Delay())
	assert.True(t, DefaultStart.Add(3*DefaultDelay).Equal(s.Now()))
}

func TestUDPSegmentation(t *testing.T) {
	s := newSession(t, Config{Seed: 7})
	c, err := s.Connect(Options{Transport: "udp", MTU: 1500})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Frames(), "udp has no handshake")

	require.NoError(t, c.Client(bytes.Repeat([]byte{'u'}, 2000)))
	pkts := decodeAll(t, s)
	require.Len(t, pkts, 2)
	total := 0
	for _, p := range pkts {
		assert.LessOrEqual(t, p.FrameLen, 1500)
		assert.Equal(t, uint16(0), p.Transport.Checksum)
		total += len(p.Payload)
	}
	assert.Equal(t, 2000, total)

	require.NoError(t, c.Close())
	assert.Equal(t, 2, s.Frames(), "udp close emits nothing")
}

func TestDeterminism(t *testing.T) {
	script := func(seed uint64) []byte {
		out, err := Generate(Config{Seed: seed}, func(s *Session) error {
			if err := s.Run(Options{}, func(c *Connection) error {
				return c.Client([]byte("GET / HTTP/1.0\r\n\r\n"))
			}); err != nil {
				return err
			}
			c, err := s.Connect(Options{Transport: "udp", DstPort: Port(53)})
			if err != nil {
				return err
			}
			s.Sleep(250 * time.Millisecond)
			return c.Server([]byte("answer"))
		})
		require.NoError(t, err)
		return out
	}
	assert.Equal(t, script(42), script(42))
	assert.NotEqual(t, script(42), script(43))
}

func TestStreamOverrideIsolated(t *testing.T) {
	a := newSession(t, Config{Seed: 5})
	b := newSession(t, Config{Seed: 5, StreamSeeds: map[string]uint64{prng.StreamIPID: 99}})
	ca, err := a.Connect(Options{Transport: "udp"})
	require.NoError(t, err)
	cb, err := b.Connect(Options{Transport: "udp"})
	require.NoError(t, err)

	sa, cla := ca.Endpoints()
	sb, clb := cb.Endpoints()
	assert.Equal(t, sa, sb)
	assert.Equal(t, cla, clb)
}

func TestResetAndClosedPolicy(t *testing.T) {
	s := newSession(t, Config{})
	c, err := s.Connect(Options{})
	require.NoError(t, err)
	require.NoError(t, c.Reset())
	assert.Equal(t, 4, s.Frames())

	pkts := decodeAll(t, s)
	assert.Equal(t, uint8(0x14), pkts[3].Transport.TCPFlags)

	assert.True(t, errors.Is(c.Client([]byte("late")), core.ErrConnectionClosed))
	assert.True(t, errors.Is(c.EmitServer(nil), core.ErrConnectionClosed))
	assert.True(t, errors.Is(c.Close(), core.ErrConnectionClosed))
	assert.True(t, errors.Is(c.Reset(), core.ErrConnectionClosed))
	assert.Equal(t, 4, s.Frames())
}

func TestRunClosesOnce(t *testing.T) {
	s := newSession(t, Config{})
	require.NoError(t, s.Run(Options{}, func(c *Connection) error {
		return c.Client([]byte("x"))
	}))
	assert.Equal(t, 7, s.Frames())

	require.NoError(t, s.Run(Options{}, func(c *Connection) error {
		return c.Reset()
	}))
	assert.Equal(t, 11, s.Frames())

	boom := errors.New("boom")
	assert.Equal(t, boom, s.Run(Options{}, func(*Connection) error { return boom }))
}

func TestSleepAdvancesClock(t *testing.T) {
	s := newSession(t, Config{Start: time.Unix(1000, 0), Delay: time.Second})
	c, err := s.Connect(Options{Transport: "udp"})
	require.NoError(t, err)
	c.Sleep(1500 * time.Millisecond)
	require.NoError(t, c.Client(nil))

	pkts := decodeAll(t, s)
	require.Len(t, pkts, 1)
	assert.True(t, time.Unix(1002, 500_000_000).Equal(pkts[0].Timestamp))

	s.Sleep(-time.Second)
	assert.True(t, time.Unix(1002, 500_000_000).Equal(s.Now()))
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		key  string
	}{
		{"negative delay", Config{Delay: -time.Second}, "delay"},
		{"mtu out of range", Config{MTU: 70000}, "mtu"},
		{"snaplen below mtu", Config{Snaplen: 1000}, "snaplen"},
		{"snaplen below explicit mtu", Config{Snaplen: 9000, MTU: 9001}, "snaplen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.cfg)
			assert.Nil(t, s)
			var oe *OptionError
			require.ErrorAs(t, err, &oe)
			assert.Equal(t, tt.key, oe.Key)
			assert.ErrorIs(t, err, core.ErrInvalidOption)
		})
	}

	// A caller-supplied sink is not bound by Snaplen.
	_, err := New(Config{Snaplen: 1000, Sink: pcapfile.NewBuffer(0)})
	assert.NoError(t, err)
}

func TestClockNeverRunsBackwards(t *testing.T) {
	s := newSession(t, Config{Delay: time.Microsecond})
	prev := s.Now()
	c, err := s.Connect(Options{})
	require.NoError(t, err)
	require.NoError(t, c.Client([]byte("x")))
	require.NoError(t, c.Close())

	for _, p := range decodeAll(t, s) {
		if !p.Timestamp.After(prev) {
			t.Errorf("timestamp %v does not advance past %v", p.Timestamp, prev)
		}
		prev = p.Timestamp
	}
}

func TestConnectionMTUBoundedBySnaplen(t *testing.T) {
	s := newSession(t, Config{Snaplen: 1500})
	_, err := s.Connect(Options{MTU: 9000})
	var oe *OptionError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "mtu", oe.Key)

	_, err = s.Connect(Options{MTU: 1500})
	assert.NoError(t, err)
}

func TestWallClock(t *testing.T) {
	before := time.Now()
	s := newSession(t, Config{WallClock: true})
	assert.False(t, s.Now().Before(before))
}

func TestIPv6Connection(t *testing.T) {
	s := newSession(t, Config{})
	c, err := s.Connect(Options{SrcIP: "2001:db8::1", DstIP: "2001:db8::2", VLANs: []uint16{10}})
	require.NoError(t, err)
	require.NoError(t, c.Client([]byte("v6")))
	assert.True(t, c.IPv6())

	pkts := decodeAll(t, s)
	require.Len(t, pkts, 4)
	assert.Equal(t, uint8(6), pkts[3].IP.Version)
	assert.Equal(t, []uint16{10}, pkts[3].Ethernet.VLANs)
}

func TestMixedFamilyMapsIPv4(t *testing.T) {
	s := newSession(t, Config{})
	c, err := s.Connect(Options{Transport: "udp", SrcIP: "10.1.2.3", DstIP: "2001:db8::2"})
	require.NoError(t, err)
	assert.True(t, c.IPv6())
	_, client := c.Endpoints()
	assert.Equal(t, "::ffff:10.1.2.3", client.Addr.String())

	c, err = s.Connect(Options{Transport: "udp", IPv6: true})
	require.NoError(t, err)
	server, _ := c.Endpoints()
	assert.Equal(t, "::ffff:42.13.37.80", server.Addr.String())
}

func TestConnectErrors(t *testing.T) {
	s := newSession(t, Config{})

	_, err := s.ConnectMap(map[string]any{"transport": "udp", "bogus": 1})
	var oe *OptionError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "bogus", oe.Key)
	assert.True(t, errors.Is(err, core.ErrInvalidOption))

	_, err = s.Connect(Options{Transport: "sctp"})
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "transport", oe.Key)

	_, err = s.Connect(Options{MTU: 50})
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "mtu", oe.Key)

	_, err = s.Connect(Options{SrcMAC: "not-a-mac"})
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "src_mac", oe.Key)

	_, err = s.Connect(Options{VLANs: []uint16{5000}})
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "vlans", oe.Key)

	_, err = s.Connect(Options{Segmentation: "sometimes"})
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "segmentation", oe.Key)

	_, err = s.Connect(Options{DstIP: 3.5})
	var ae *AddressError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "dst_ip", ae.Key)
	assert.True(t, errors.Is(err, core.ErrAddressFormat))

	assert.Equal(t, 0, s.Frames(), "failed construction emits nothing")
}

func TestExplicitMACs(t *testing.T) {
	s := newSession(t, Config{})
	c, err := s.ConnectMap(map[string]any{
		"transport": "udp",
		"src_mac":   "02:00:00:00:00:0a",
		"dst_mac":   "02:00:00:00:00:0b",
		"src_port":  1234,
		"dst_port":  53,
	})
	require.NoError(t, err)
	require.NoError(t, c.Client([]byte("q")))

	p := decodeAll(t, s)[0]
	assert.Equal(t, [6]byte{2, 0, 0, 0, 0, 0x0a}, p.Ethernet.SrcMAC)
	assert.Equal(t, [6]byte{2, 0, 0, 0, 0, 0x0b}, p.Ethernet.DstMAC)
	assert.Equal(t, uint16(1234), p.Transport.SrcPort)
	assert.Equal(t, uint16(53), p.Transport.DstPort)
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) WriteFrame(ci gopacket.CaptureInfo, frame []byte) error {
	return m.Called(ci, frame).Error(0)
}

func TestCustomSink(t *testing.T) {
	sink := &mockSink{}
	sink.On("WriteFrame", mock.Anything, mock.Anything).Return(nil).Times(3)

	s := newSession(t, Config{Sink: sink})
	_, err := s.Connect(Options{})
	require.NoError(t, err)
	sink.AssertExpectations(t)

	_, err = s.Render()
	assert.Equal(t, core.ErrNotBuffered, err)
	_, err = s.WriteTo(&bytes.Buffer{})
	assert.Equal(t, core.ErrNotBuffered, err)
}

func TestSinkErrorPropagates(t *testing.T) {
	down := errors.New("link down")
	sink := &mockSink{}
	sink.On("WriteFrame", mock.Anything, mock.Anything).Return(down)

	s := newSession(t, Config{Sink: sink})
	_, err := s.Connect(Options{})
	assert.True(t, errors.Is(err, down))
	assert.Equal(t, 0, s.Frames())
}

func TestWriteTo(t *testing.T) {
	s := newSession(t, Config{})
	_, err := s.Connect(Options{})
	require.NoError(t, err)

	var out bytes.Buffer
	n, err := s.WriteTo(&out)
	require.NoError(t, err)
	rendered, err := s.Render()
	require.NoError(t, err)
	assert.Equal(t, int64(len(rendered)), n)
	assert.Equal(t, rendered, out.Bytes())
}

// Every emission call is accounted for in the container, and the clock moves
// forward by exactly one delay per frame.
func TestRecordCountProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		udp := rapid.Bool().Draw(t, "udp")
		opts := Options{MTU: rapid.IntRange(100, 1500).Draw(t, "mtu")}
		if udp {
			opts.Transport = "udp"
		}
		s := newSession(t, Config{Seed: rapid.Uint64().Draw(t, "seed")})
		c, err := s.Connect(opts)
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		overhead := 54
		if udp {
			overhead = 42
		}
		want := 3
		if udp {
			want = 0
		}
		n := rapid.IntRange(0, 8).Draw(t, "ops")
		for i := 0; i < n; i++ {
			size := rapid.IntRange(0, 4000).Draw(t, "size")
			chunk := opts.MTU - overhead
			want += max(1, (size+chunk-1)/chunk)
			if rapid.Bool().Draw(t, "client") {
				err = c.Client(make([]byte, size))
			} else {
				err = c.Server(make([]byte, size))
			}
			if err != nil {
				t.Fatalf("emit: %v", err)
			}
		}
		if err := c.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		if !udp {
			want += 3
		}

		data, err := s.Render()
		if err != nil {
			t.Fatalf("render: %v", err)
		}
		_, recs, err := pcapfile.Split(data)
		if err != nil {
			t.Fatalf("split: %v", err)
		}
		if len(recs) != want {
			t.Fatalf("got %d records, want %d", len(recs), want)
		}
		for i, r := range recs {
			if len(r.Data) > opts.MTU {
				t.Fatalf("record %d is %d bytes, mtu %d", i, len(r.Data), opts.MTU)
			}
			if ts := DefaultStart.Add(time.Duration(i+1) * DefaultDelay); !ts.Equal(r.Timestamp) {
				t.Fatalf("record %d at %v, want %v", i, r.Timestamp, ts)
			}
		}
	})
}
