// Package filter compiles a small tcpdump-style expression language to
// classic BPF and runs it over generated frames.
//
// Supported primitives, all of which must hold ("and" is optional):
//
//	ip | ip6 | tcp | udp
//	[src|dst] host ADDR    (bare ADDR after src/dst/host also works)
//	[src|dst] net CIDR
//	[src|dst] port N
//
// Addresses may be IPv4 or IPv6. VLAN tags are skipped before matching.
package filter

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"golang.org/x/net/bpf"
)

const (
	etherTypeOff = 12
	l3Off        = 14

	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86DD

	ipv4ProtoOff = l3Off + 9
	ipv4SrcOff   = l3Off + 12
	ipv4DstOff   = l3Off + 16
	ipv6NextOff  = l3Off + 6
	ipv6SrcOff   = l3Off + 8
	ipv6DstOff   = l3Off + 24
	ipv6L4Off    = l3Off + 40

	protoTCP = 6
	protoUDP = 17

	acceptLen = 0xFFFF
)

// Filter is a compiled expression.
type Filter struct {
	expr string
	prog []bpf.Instruction
	raw  []bpf.RawInstruction
	vm   *bpf.VM
}

// Compile parses expr. An empty expression accepts every frame.
func Compile(expr string) (*Filter, error) {
	terms, err := parse(expr)
	if err != nil {
		return nil, err
	}

	var p program
	reject := p.newLabel()
	for _, t := range terms {
		t.compile(&p, reject)
	}
	p.emit(bpf.RetConstant{Val: acceptLen})
	p.mark(reject)
	p.emit(bpf.RetConstant{Val: 0})

	prog, err := p.assemble()
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", expr, err)
	}
	raw, err := bpf.Assemble(prog)
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", expr, err)
	}
	vm, err := bpf.NewVM(prog)
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", expr, err)
	}
	return &Filter{expr: strings.TrimSpace(expr), prog: prog, raw: raw, vm: vm}, nil
}

// Validate reports whether expr compiles.
func Validate(expr string) error {
	_, err := Compile(expr)
	return err
}

// Match runs the program over one link-layer frame.
func (f *Filter) Match(frame []byte) bool {
	n, err := f.vm.Run(stripVLANs(frame))
	return err == nil && n > 0
}

// Instructions returns the assembled program.
func (f *Filter) Instructions() []bpf.RawInstruction { return f.raw }

func (f *Filter) String() string { return f.expr }

func stripVLANs(frame []byte) []byte {
	off := etherTypeOff
	for len(frame) >= off+2 {
		switch binary.BigEndian.Uint16(frame[off:]) {
		case 0x8100, 0x88A8, 0x9100:
			off += 4
			continue
		}
		break
	}
	if off == etherTypeOff {
		return frame
	}
	out := make([]byte, 0, len(frame)-(off-etherTypeOff))
	out = append(out, frame[:etherTypeOff]...)
	return append(out, frame[off:]...)
}

type dir int

const (
	either dir = iota
	srcOnly
	dstOnly
)

type term interface {
	compile(p *program, reject label)
}

func parse(expr string) ([]term, error) {
	toks := strings.Fields(strings.ToLower(expr))
	var terms []term
	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		switch tok {
		case "and", "&&":
			continue
		case "ip":
			terms = append(terms, etherTerm(etherTypeIPv4))
			continue
		case "ip6", "ipv6":
			terms = append(terms, etherTerm(etherTypeIPv6))
			continue
		case "tcp":
			terms = append(terms, protoTerm(protoTCP))
			continue
		case "udp":
			terms = append(terms, protoTerm(protoUDP))
			continue
		}

		d := either
		switch tok {
		case "src":
			d = srcOnly
		case "dst":
			d = dstOnly
		}
		if d != either {
			i++
			if i >= len(toks) {
				return nil, fmt.Errorf("filter: %q needs an argument", tok)
			}
			tok = toks[i]
		}

		kind := tok
		switch kind {
		case "host", "net", "port":
			i++
			if i >= len(toks) {
				return nil, fmt.Errorf("filter: %q needs an argument", kind)
			}
		default:
			if d == either {
				return nil, fmt.Errorf("filter: unknown primitive %q", tok)
			}
			kind = "host"
		}
		arg := toks[i]

		switch kind {
		case "host":
			addr, err := netip.ParseAddr(arg)
			if err != nil {
				return nil, fmt.Errorf("filter: bad host %q", arg)
			}
			terms = append(terms, addrTerm{dir: d, prefix: netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen())})
		case "net":
			prefix, err := netip.ParsePrefix(arg)
			if err != nil {
				return nil, fmt.Errorf("filter: bad net %q", arg)
			}
			terms = append(terms, addrTerm{dir: d, prefix: prefix.Masked()})
		case "port":
			port, err := strconv.ParseUint(arg, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("filter: bad port %q", arg)
			}
			terms = append(terms, portTerm{dir: d, port: uint16(port)})
		}
	}
	return terms, nil
}

// etherTerm requires an EtherType.
type etherTerm uint16

func (t etherTerm) compile(p *program, reject label) {
	p.emit(bpf.LoadAbsolute{Off: etherTypeOff, Size: 2})
	p.jumpIf(bpf.JumpEqual, uint32(t), next, reject)
}

// protoTerm requires an IPv4 protocol or IPv6 next header.
type protoTerm uint8

func (t protoTerm) compile(p *program, reject label) {
	v6, done := p.newLabel(), p.newLabel()
	p.emit(bpf.LoadAbsolute{Off: etherTypeOff, Size: 2})
	p.jumpIf(bpf.JumpEqual, etherTypeIPv4, next, v6)
	p.emit(bpf.LoadAbsolute{Off: ipv4ProtoOff, Size: 1})
	p.jumpIf(bpf.JumpEqual, uint32(t), done, reject)
	p.mark(v6)
	p.jumpIf(bpf.JumpEqual, etherTypeIPv6, next, reject)
	p.emit(bpf.LoadAbsolute{Off: ipv6NextOff, Size: 1})
	p.jumpIf(bpf.JumpEqual, uint32(t), next, reject)
	p.mark(done)
}

// addrTerm matches a source and/or destination prefix.
type addrTerm struct {
	dir    dir
	prefix netip.Prefix
}

func (t addrTerm) compile(p *program, reject label) {
	ether, srcOff, dstOff := uint32(etherTypeIPv4), uint32(ipv4SrcOff), uint32(ipv4DstOff)
	if t.prefix.Addr().Is6() {
		ether, srcOff, dstOff = etherTypeIPv6, ipv6SrcOff, ipv6DstOff
	}
	p.emit(bpf.LoadAbsolute{Off: etherTypeOff, Size: 2})
	p.jumpIf(bpf.JumpEqual, ether, next, reject)
	if t.prefix.Bits() == 0 {
		return
	}

	offs := offsets(t.dir, srcOff, dstOff)
	done := p.newLabel()
	for i, off := range offs {
		miss := reject
		if i < len(offs)-1 {
			miss = p.newLabel()
		}
		matchPrefix(p, off, t.prefix, done, miss)
		if miss != reject {
			p.mark(miss)
		}
	}
	p.mark(done)
}

// matchPrefix compares the address at off word by word, masking the last
// partial word.
func matchPrefix(p *program, off uint32, prefix netip.Prefix, hit, miss label) {
	addr := prefix.Addr().AsSlice()
	bits := prefix.Bits()
	words := (bits + 31) / 32
	for k := 0; k < words; k++ {
		word := binary.BigEndian.Uint32(addr[4*k:])
		p.emit(bpf.LoadAbsolute{Off: off + uint32(4*k), Size: 4})
		if wb := bits - 32*k; wb < 32 {
			mask := ^uint32(0) << (32 - wb)
			p.emit(bpf.ALUOpConstant{Op: bpf.ALUOpAnd, Val: mask})
			word &= mask
		}
		onTrue := next
		if k == words-1 {
			onTrue = hit
		}
		p.jumpIf(bpf.JumpEqual, word, onTrue, miss)
	}
}

// portTerm matches a TCP or UDP source and/or destination port.
type portTerm struct {
	dir  dir
	port uint16
}

func (t portTerm) compile(p *program, reject label) {
	v6, v4ports, v6ports, done := p.newLabel(), p.newLabel(), p.newLabel(), p.newLabel()

	p.emit(bpf.LoadAbsolute{Off: etherTypeOff, Size: 2})
	p.jumpIf(bpf.JumpEqual, etherTypeIPv4, next, v6)
	p.emit(bpf.LoadAbsolute{Off: ipv4ProtoOff, Size: 1})
	p.jumpIf(bpf.JumpEqual, protoTCP, v4ports, next)
	p.jumpIf(bpf.JumpEqual, protoUDP, next, reject)
	p.mark(v4ports)
	p.emit(bpf.LoadMemShift{Off: l3Off})
	t.ports(p, func(off uint32) bpf.Instruction {
		return bpf.LoadIndirect{Off: l3Off + off, Size: 2}
	}, done, reject)

	p.mark(v6)
	p.jumpIf(bpf.JumpEqual, etherTypeIPv6, next, reject)
	p.emit(bpf.LoadAbsolute{Off: ipv6NextOff, Size: 1})
	p.jumpIf(bpf.JumpEqual, protoTCP, v6ports, next)
	p.jumpIf(bpf.JumpEqual, protoUDP, next, reject)
	p.mark(v6ports)
	t.ports(p, func(off uint32) bpf.Instruction {
		return bpf.LoadAbsolute{Off: ipv6L4Off + off, Size: 2}
	}, done, reject)
	p.mark(done)
}

func (t portTerm) ports(p *program, load func(off uint32) bpf.Instruction, hit, reject label) {
	offs := offsets(t.dir, 0, 2)
	for i, off := range offs {
		miss := reject
		if i < len(offs)-1 {
			miss = p.newLabel()
		}
		p.emit(load(off))
		p.jumpIf(bpf.JumpEqual, uint32(t.port), hit, miss)
		if miss != reject {
			p.mark(miss)
		}
	}
}

func offsets(d dir, src, dst uint32) []uint32 {
	switch d {
	case srcOnly:
		return []uint32{src}
	case dstOnly:
		return []uint32{dst}
	default:
		return []uint32{src, dst}
	}
}
