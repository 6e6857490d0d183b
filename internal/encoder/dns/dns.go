// Package dns writes DNS queries and answers through a connection's
// client/server emission primitives.
package dns

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/pseudoconn/internal/prng"
	"firestige.xyz/pseudoconn/internal/session"
)

const (
	// DefaultTTL applies to answers that do not set one.
	DefaultTTL = 86400
	// Port is the destination port of convenience connections.
	Port = 53

	mxPreferenceStep = 100
	maxLabelLen      = 63
	maxNameLen       = 253
	maxTXTChunk      = 255
)

// Answer is one resource record of a response. A zero Type is inferred from
// Value and the query type; a zero TTL means DefaultTTL.
type Answer struct {
	Value string
	Type  layers.DNSType
	TTL   uint32
}

// Encoder emits DNS messages on one connection. Queries go out as client
// data and answers as server data.
type Encoder struct {
	conn session.Emitter
	ids  *prng.Generator
}

// New returns an encoder. ids supplies transaction ids.
func New(conn session.Emitter, ids *prng.Generator) *Encoder {
	return &Encoder{conn: conn, ids: ids}
}

// NextID draws the next transaction id.
func (e *Encoder) NextID() uint16 { return e.ids.Uint16() }

// Query emits a recursive query for name and returns its transaction id.
func (e *Encoder) Query(name string, qtype layers.DNSType) (uint16, error) {
	id := e.NextID()
	return id, e.QueryID(id, name, qtype)
}

// QueryID emits a query with a caller-chosen transaction id.
func (e *Encoder) QueryID(id uint16, name string, qtype layers.DNSType) error {
	msg, err := BuildQuery(id, name, qtype)
	if err != nil {
		return err
	}
	return e.conn.EmitClient(msg)
}

// Answer emits a response to a query for name with a fresh transaction id.
func (e *Encoder) Answer(name string, qtype layers.DNSType, answers ...Answer) error {
	return e.AnswerID(e.NextID(), name, qtype, answers...)
}

// AnswerID emits a response with a caller-chosen transaction id.
func (e *Encoder) AnswerID(id uint16, name string, qtype layers.DNSType, answers ...Answer) error {
	msg, err := BuildAnswer(id, name, qtype, answers)
	if err != nil {
		return err
	}
	return e.conn.EmitServer(msg)
}

// Exchange emits a query and its answer under one transaction id.
func (e *Encoder) Exchange(name string, qtype layers.DNSType, answers ...Answer) error {
	id, err := e.Query(name, qtype)
	if err != nil {
		return err
	}
	return e.AnswerID(id, name, qtype, answers...)
}

// BuildQuery serializes a query message (flags 0x0100).
func BuildQuery(id uint16, name string, qtype layers.DNSType) ([]byte, error) {
	q, err := question(name, qtype)
	if err != nil {
		return nil, err
	}
	return serialize(&layers.DNS{
		ID:        id,
		OpCode:    layers.DNSOpCodeQuery,
		RD:        true,
		Questions: []layers.DNSQuestion{q},
	})
}

// BuildAnswer serializes a response message (flags 0x8180) echoing the
// question and carrying answers in order.
func BuildAnswer(id uint16, name string, qtype layers.DNSType, answers []Answer) ([]byte, error) {
	q, err := question(name, qtype)
	if err != nil {
		return nil, err
	}
	msg := &layers.DNS{
		ID:        id,
		QR:        true,
		OpCode:    layers.DNSOpCodeQuery,
		RD:        true,
		RA:        true,
		Questions: []layers.DNSQuestion{q},
	}
	pref := uint16(mxPreferenceStep)
	for i, a := range answers {
		rr, err := record(q.Name, qtype, a, &pref)
		if err != nil {
			return nil, fmt.Errorf("answer %d: %w", i, err)
		}
		msg.Answers = append(msg.Answers, rr)
	}
	return serialize(msg)
}

// InferType picks the record type for a bare answer value: an IPv4 literal is
// A, anything answering a PTR query is CNAME, everything else TXT.
func InferType(value string, qtype layers.DNSType) layers.DNSType {
	if addr, err := netip.ParseAddr(value); err == nil && addr.Is4() {
		return layers.DNSTypeA
	}
	if qtype == layers.DNSTypePTR {
		return layers.DNSTypeCNAME
	}
	return layers.DNSTypeTXT
}

func record(owner []byte, qtype layers.DNSType, a Answer, pref *uint16) (layers.DNSResourceRecord, error) {
	rr := layers.DNSResourceRecord{
		Name:  owner,
		Type:  a.Type,
		Class: layers.DNSClassIN,
		TTL:   a.TTL,
	}
	if rr.Type == 0 {
		rr.Type = InferType(a.Value, qtype)
	}
	if rr.TTL == 0 {
		rr.TTL = DefaultTTL
	}

	switch rr.Type {
	case layers.DNSTypeA, layers.DNSTypeAAAA:
		addr, err := netip.ParseAddr(a.Value)
		if err != nil {
			return rr, err
		}
		if rr.Type == layers.DNSTypeA && !addr.Is4() {
			return rr, fmt.Errorf("%q is not an IPv4 address", a.Value)
		}
		if rr.Type == layers.DNSTypeAAAA && !addr.Is6() {
			return rr, fmt.Errorf("%q is not an IPv6 address", a.Value)
		}
		rr.IP = net.IP(addr.AsSlice())
	case layers.DNSTypeCNAME, layers.DNSTypePTR, layers.DNSTypeNS:
		n, err := encodeName(a.Value)
		if err != nil {
			return rr, err
		}
		switch rr.Type {
		case layers.DNSTypeCNAME:
			rr.CNAME = n
		case layers.DNSTypePTR:
			rr.PTR = n
		default:
			rr.NS = n
		}
	case layers.DNSTypeMX:
		n, err := encodeName(a.Value)
		if err != nil {
			return rr, err
		}
		rr.MX = layers.DNSMX{Preference: *pref, Name: n}
		*pref += mxPreferenceStep
	case layers.DNSTypeTXT:
		rr.TXTs = splitTXT(a.Value)
	default:
		return rr, fmt.Errorf("record type %v not supported", rr.Type)
	}
	return rr, nil
}

func question(name string, qtype layers.DNSType) (layers.DNSQuestion, error) {
	n, err := encodeName(name)
	if err != nil {
		return layers.DNSQuestion{}, err
	}
	return layers.DNSQuestion{Name: n, Type: qtype, Class: layers.DNSClassIN}, nil
}

// encodeName validates a dotted name and strips the root dot.
func encodeName(name string) ([]byte, error) {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return nil, fmt.Errorf("empty domain name")
	}
	if len(name) > maxNameLen {
		return nil, fmt.Errorf("domain name of %d bytes", len(name))
	}
	for _, label := range strings.Split(name, ".") {
		if label == "" || len(label) > maxLabelLen {
			return nil, fmt.Errorf("bad label %q in %q", label, name)
		}
	}
	return []byte(name), nil
}

func splitTXT(s string) [][]byte {
	if s == "" {
		return [][]byte{{}}
	}
	var out [][]byte
	for len(s) > maxTXTChunk {
		out = append(out, []byte(s[:maxTXTChunk]))
		s = s[maxTXTChunk:]
	}
	return append(out, []byte(s))
}

func serialize(msg *layers.DNS) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	if err := msg.SerializeTo(buf, gopacket.SerializeOptions{FixLengths: true}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
