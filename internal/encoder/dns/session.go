package dns

import (
	"github.com/google/gopacket/layers"

	"firestige.xyz/pseudoconn/internal/core"
	"firestige.xyz/pseudoconn/internal/prng"
	"firestige.xyz/pseudoconn/internal/session"
)

// Connect opens a UDP connection for DNS traffic on s. The transport is
// forced to UDP and the destination port defaults to 53.
func Connect(s *session.Session, opts session.Options) (*session.Connection, *Encoder, error) {
	opts.Transport = core.UDP.String()
	if opts.DstPort == nil {
		opts.DstPort = session.Port(Port)
	}
	c, err := s.Connect(opts)
	if err != nil {
		return nil, nil, err
	}
	return c, New(c, s.Streams().Get(prng.StreamDNSID)), nil
}

// QueryOn sends a single query on a fresh UDP connection and returns its
// transaction id.
func QueryOn(s *session.Session, name string, qtype layers.DNSType, opts session.Options) (uint16, error) {
	c, enc, err := Connect(s, opts)
	if err != nil {
		return 0, err
	}
	id, err := enc.Query(name, qtype)
	if err != nil {
		return 0, err
	}
	return id, c.Close()
}

// AnswerOn sends a single response on a fresh UDP connection.
func AnswerOn(s *session.Session, name string, qtype layers.DNSType, answers []Answer, opts session.Options) error {
	c, enc, err := Connect(s, opts)
	if err != nil {
		return err
	}
	if err := enc.Answer(name, qtype, answers...); err != nil {
		return err
	}
	return c.Close()
}
