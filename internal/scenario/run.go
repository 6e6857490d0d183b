package scenario

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/pseudoconn/internal/core"
	"firestige.xyz/pseudoconn/internal/encoder/dns"
	"firestige.xyz/pseudoconn/internal/encoder/http"
	"firestige.xyz/pseudoconn/internal/log"
	"firestige.xyz/pseudoconn/internal/prng"
	"firestige.xyz/pseudoconn/internal/session"
)

// Apply folds scenario-level settings into cfg.
func (sc *Scenario) Apply(cfg *session.Config) {
	if sc.Seed != nil {
		cfg.Seed = *sc.Seed
	}
}

// Run plays every step against s in order and stops at the first error.
// Connections left open at the end stay open.
func Run(s *session.Session, sc *Scenario) error {
	r := &runner{
		sess:  s,
		conns: make(map[string]*session.Connection),
		log:   log.GetLogger().WithField("scenario", sc.Name),
	}
	for i, st := range sc.Steps {
		if err := r.step(st); err != nil {
			return fmt.Errorf("step %d (line %d, %s): %w", i+1, st.Line(), st.Op, err)
		}
	}
	r.log.Debugf("scenario finished: %d steps, %d frames", len(sc.Steps), s.Frames())
	return nil
}

// DryRun plays sc against a session that discards its frames and returns how
// many frames it would have produced.
func DryRun(cfg session.Config, sc *Scenario) (int, error) {
	sc.Apply(&cfg)
	cfg.Sink = discard{}
	s, err := session.New(cfg)
	if err != nil {
		return 0, err
	}
	if err := Run(s, sc); err != nil {
		return s.Frames(), err
	}
	return s.Frames(), nil
}

type discard struct{}

func (discard) WriteFrame(gopacket.CaptureInfo, []byte) error { return nil }

type runner struct {
	sess  *session.Session
	conns map[string]*session.Connection
	log   log.Logger
}

func (r *runner) step(st Step) error {
	switch st.Op {
	case OpOpen:
		if c, ok := r.conns[st.Conn]; ok && c.State() != core.StateClosed {
			return fmt.Errorf("connection %q is already open", st.Conn)
		}
		c, err := r.sess.ConnectMap(st.Options)
		if err != nil {
			return err
		}
		r.conns[st.Conn] = c
		return nil
	case OpSleep:
		r.sess.Sleep(st.Duration)
		return nil
	case OpDNSQuery, OpDNSAnswer:
		return r.dns(st)
	}

	c, err := r.conn(st.Conn)
	if err != nil {
		return err
	}
	switch st.Op {
	case OpClient, OpServer:
		data, err := st.payload()
		if err != nil {
			return err
		}
		if st.Op == OpClient {
			return c.Client(data)
		}
		return c.Server(data)
	case OpClose:
		return c.Close()
	case OpReset:
		return c.Reset()
	case OpHTTP, OpHTTPRequest, OpHTTPResponse:
		opts, err := http.DecodeOptions(st.HTTP)
		if err != nil {
			return err
		}
		enc := http.New(c)
		switch st.Op {
		case OpHTTPRequest:
			return enc.Request(opts)
		case OpHTTPResponse:
			return enc.Response(opts)
		default:
			return enc.Transaction(opts)
		}
	}
	return fmt.Errorf("unknown op %q", st.Op)
}

func (r *runner) conn(name string) (*session.Connection, error) {
	c, ok := r.conns[name]
	if !ok {
		return nil, fmt.Errorf("connection %q is not open", name)
	}
	return c, nil
}

// dns writes on the named connection when one is given and opens a
// one-message UDP connection otherwise.
func (r *runner) dns(st Step) error {
	qtype := layers.DNSTypeA
	if st.DNS.Type != "" {
		t, err := dns.ParseType(st.DNS.Type)
		if err != nil {
			return err
		}
		qtype = t
	}
	var answers []dns.Answer
	if st.Op == OpDNSAnswer {
		a, err := dns.AnswersFrom(st.DNS.Answers)
		if err != nil {
			return err
		}
		answers = a
	}

	var enc *dns.Encoder
	var opened *session.Connection
	if st.Conn != "" {
		c, err := r.conn(st.Conn)
		if err != nil {
			return err
		}
		enc = dns.New(c, r.sess.Streams().Get(prng.StreamDNSID))
	} else {
		opts, err := session.DecodeOptions(st.Options)
		if err != nil {
			return err
		}
		c, e, err := dns.Connect(r.sess, opts)
		if err != nil {
			return err
		}
		enc, opened = e, c
	}

	var id uint16
	if st.DNS.ID != nil {
		id = *st.DNS.ID
	} else {
		id = enc.NextID()
	}
	var err error
	if st.Op == OpDNSQuery {
		err = enc.QueryID(id, st.DNS.Name, qtype)
	} else {
		err = enc.AnswerID(id, st.DNS.Name, qtype, answers...)
	}
	if err != nil {
		return err
	}
	if opened != nil {
		return opened.Close()
	}
	return nil
}

func (s Step) payload() ([]byte, error) {
	if s.Data != nil {
		return []byte(*s.Data), nil
	}
	clean := strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(s.Hex)
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("bad hex payload: %w", err)
	}
	return data, nil
}
