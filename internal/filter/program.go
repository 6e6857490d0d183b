package filter

import (
	"fmt"

	"golang.org/x/net/bpf"
)

// label names a position in a program under construction. next is the
// instruction that follows.
type label int

const next label = -1

type item struct {
	ins bpf.Instruction
	// jump fields, used when ins is nil
	cond      bpf.JumpTest
	val       uint32
	onTrue    label
	onFalse   label
	isJumpRef bool
}

// program assembles classic BPF with symbolic jump targets.
type program struct {
	items  []item
	labels []int
}

func (p *program) newLabel() label {
	p.labels = append(p.labels, -1)
	return label(len(p.labels) - 1)
}

func (p *program) mark(l label) { p.labels[l] = len(p.items) }

func (p *program) emit(ins ...bpf.Instruction) {
	for _, in := range ins {
		p.items = append(p.items, item{ins: in})
	}
}

func (p *program) jumpIf(cond bpf.JumpTest, val uint32, onTrue, onFalse label) {
	p.items = append(p.items, item{cond: cond, val: val, onTrue: onTrue, onFalse: onFalse, isJumpRef: true})
}

func (p *program) skip(at int, l label) (uint8, error) {
	if l == next {
		return 0, nil
	}
	pos := p.labels[l]
	if pos < 0 {
		return 0, fmt.Errorf("unbound label %d", l)
	}
	d := pos - at - 1
	if d < 0 || d > 0xFF {
		return 0, fmt.Errorf("jump of %d out of range", d)
	}
	return uint8(d), nil
}

func (p *program) assemble() ([]bpf.Instruction, error) {
	out := make([]bpf.Instruction, len(p.items))
	for i, it := range p.items {
		if !it.isJumpRef {
			out[i] = it.ins
			continue
		}
		t, err := p.skip(i, it.onTrue)
		if err != nil {
			return nil, err
		}
		f, err := p.skip(i, it.onFalse)
		if err != nil {
			return nil, err
		}
		out[i] = bpf.JumpIf{Cond: it.cond, Val: it.val, SkipTrue: t, SkipFalse: f}
	}
	return out, nil
}
