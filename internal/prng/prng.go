// Package prng provides the seeded linear-congruential generator used for
// every field a connection leaves unset, and a per-name registry of them.
package prng

import (
	"github.com/cespare/xxhash/v2"
)

const (
	multiplier = 6364136223846793005
	increment  = 1442695040888963407
)

// Generator is a 64-bit LCG. It is not safe for concurrent use.
type Generator struct {
	state uint64
}

// New returns a generator positioned at seed.
func New(seed uint64) *Generator {
	return &Generator{state: seed}
}

// Uint64 advances the generator and returns the new state.
func (g *Generator) Uint64() uint64 {
	g.state = g.state*multiplier + increment
	return g.state
}

// Uint32 returns the high 32 bits of the next state.
func (g *Generator) Uint32() uint32 { return uint32(g.Uint64() >> 32) }

// Uint16 returns the high 16 bits of the next state.
func (g *Generator) Uint16() uint16 { return uint16(g.Uint64() >> 48) }

// Intn returns a value in [0, n). It returns 0 when n <= 0.
func (g *Generator) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int((g.Uint64() >> 1) % uint64(n))
}

// Bytes returns n bytes taken big-endian from successive draws.
func (g *Generator) Bytes(n int) []byte {
	out := make([]byte, 0, n)
	for len(out) < n {
		v := g.Uint64()
		for i := 7; i >= 0 && len(out) < n; i-- {
			out = append(out, byte(v>>(uint(i)*8)))
		}
	}
	return out
}

// Well-known stream names.
const (
	StreamSrcPort = "src_port"
	StreamDstPort = "dst_port"
	StreamSrcSeq  = "src_seq"
	StreamDstSeq  = "dst_seq"
	StreamSrcMAC  = "src_mac"
	StreamDstMAC  = "dst_mac"
	StreamIPID    = "ip_id"
	StreamDNSID   = "dns_id"
)

// Streams maps a stream name to its own generator. Generators are created on
// first use and live as long as the Streams value.
type Streams struct {
	base      uint64
	overrides map[string]uint64
	gens      map[string]*Generator
}

// NewStreams builds a registry. A name found in overrides is seeded with that
// value; any other name is seeded with base ^ xxhash(name).
func NewStreams(base uint64, overrides map[string]uint64) *Streams {
	ov := make(map[string]uint64, len(overrides))
	for k, v := range overrides {
		ov[k] = v
	}
	return &Streams{
		base:      base,
		overrides: ov,
		gens:      make(map[string]*Generator),
	}
}

// Seed reports the seed the named stream starts from.
func (s *Streams) Seed(name string) uint64 {
	if v, ok := s.overrides[name]; ok {
		return v
	}
	return s.base ^ xxhash.Sum64String(name)
}

// Get returns the generator for name, creating it if needed.
func (s *Streams) Get(name string) *Generator {
	g, ok := s.gens[name]
	if !ok {
		g = New(s.Seed(name))
		s.gens[name] = g
	}
	return g
}

// Len reports how many streams have been used.
func (s *Streams) Len() int { return len(s.gens) }
