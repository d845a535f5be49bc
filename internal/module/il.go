package module

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Instruction is one decoded CIL instruction.
type Instruction struct {
	// Offset is the byte offset in the encoded body. It is refreshed by
	// Encode.
	Offset int
	OpCode *OpCode
	// Token is the operand of token-taking opcodes.
	Token Token
	// Value holds immediate operands: integers, variable indices, and the
	// raw bits of floating point constants.
	Value int64
	// Target is the destination of a branch.
	Target *Instruction
	// Targets are the destinations of a switch.
	Targets []*Instruction
}

func (in *Instruction) size() int {
	n := in.OpCode.Size()
	if in.OpCode.Operand == InlineSwitch {
		return n + 4 + 4*len(in.Targets)
	}
	return n + in.OpCode.Operand.size()
}

func (in *Instruction) String() string {
	switch {
	case in.OpCode.Operand.HasToken():
		return fmt.Sprintf("IL_%04x: %s %s", in.Offset, in.OpCode.Name, in.Token)
	case in.Target != nil:
		return fmt.Sprintf("IL_%04x: %s IL_%04x", in.Offset, in.OpCode.Name, in.Target.Offset)
	case in.OpCode.Operand == InlineNone:
		return fmt.Sprintf("IL_%04x: %s", in.Offset, in.OpCode.Name)
	default:
		return fmt.Sprintf("IL_%04x: %s %d", in.Offset, in.OpCode.Name, in.Value)
	}
}

// Clause is a decoded exception clause. End markers point at the first
// instruction after the region, or nil when the region runs to the end of
// the method.
type Clause struct {
	Flags        uint32
	TryStart     *Instruction
	TryEnd       *Instruction
	HandlerStart *Instruction
	HandlerEnd   *Instruction
	FilterStart  *Instruction
	Class        Token
}

// ILBody is an editable method body.
type ILBody struct {
	MaxStack     uint16
	Instructions []*Instruction
	Clauses      []*Clause
}

// Decode parses a method body into instructions with resolved branch
// targets and exception regions.
func Decode(b *Body) (*ILBody, error) {
	instrs, err := decodeCode(b.Code)
	if err != nil {
		return nil, err
	}
	at := make(map[int]*Instruction, len(instrs))
	for _, in := range instrs {
		at[in.Offset] = in
	}
	lookup := func(offset int, end bool) (*Instruction, error) {
		if end && offset == len(b.Code) {
			return nil, nil
		}
		in, ok := at[offset]
		if !ok {
			return nil, fmt.Errorf("offset %d is not an instruction boundary", offset)
		}
		return in, nil
	}

	// Branch operands were decoded as absolute offsets in Value.
	for _, in := range instrs {
		switch {
		case in.OpCode.IsBranch():
			t, err := lookup(int(in.Value), false)
			if err != nil {
				return nil, fmt.Errorf("branch at IL_%04x: %w", in.Offset, err)
			}
			in.Target = t
			in.Value = 0
		case in.OpCode.Operand == InlineSwitch:
			for i, off := range switchOffsets(in) {
				t, err := lookup(off, false)
				if err != nil {
					return nil, fmt.Errorf("switch at IL_%04x: %w", in.Offset, err)
				}
				in.Targets[i] = t
			}
		}
	}

	body := &ILBody{MaxStack: b.MaxStack, Instructions: instrs}
	for i, c := range b.Clauses {
		var (
			dc  = &Clause{Flags: c.Flags}
			err error
		)
		if dc.TryStart, err = lookup(int(c.TryOffset), false); err != nil {
			return nil, fmt.Errorf("clause %d try start: %w", i, err)
		}
		if dc.TryEnd, err = lookup(int(c.TryOffset+c.TryLength), true); err != nil {
			return nil, fmt.Errorf("clause %d try end: %w", i, err)
		}
		if dc.HandlerStart, err = lookup(int(c.HandlerOffset), false); err != nil {
			return nil, fmt.Errorf("clause %d handler start: %w", i, err)
		}
		if dc.HandlerEnd, err = lookup(int(c.HandlerOffset+c.HandlerLength), true); err != nil {
			return nil, fmt.Errorf("clause %d handler end: %w", i, err)
		}
		switch c.Flags {
		case ClauseFilter:
			if dc.FilterStart, err = lookup(int(c.ClassOrFilter), false); err != nil {
				return nil, fmt.Errorf("clause %d filter: %w", i, err)
			}
		case ClauseException:
			dc.Class = Token(c.ClassOrFilter)
		}
		body.Clauses = append(body.Clauses, dc)
	}
	return body, nil
}

// switchOffsets returns the absolute targets stashed by decodeCode.
func switchOffsets(in *Instruction) []int {
	offs := make([]int, len(in.Targets))
	for i, t := range in.Targets {
		offs[i] = t.Offset
	}
	return offs
}

func decodeCode(code []byte) ([]*Instruction, error) {
	var instrs []*Instruction
	pos := 0
	for pos < len(code) {
		op, err := decodeOpCode(code, pos)
		if err != nil {
			return nil, err
		}
		in := &Instruction{Offset: pos, OpCode: op}
		p := pos + op.Size()

		need := op.Operand.size()
		if p+need > len(code) {
			return nil, fmt.Errorf("truncated operand for %s at offset %d", op.Name, pos)
		}
		operand := code[p : p+need]
		p += need

		switch op.Operand {
		case InlineNone:
		case ShortInlineI:
			in.Value = int64(int8(operand[0]))
		case ShortInlineVar:
			in.Value = int64(operand[0])
		case ShortInlineBrTarget:
			in.Value = int64(p + int(int8(operand[0])))
		case InlineVar:
			in.Value = int64(binary.LittleEndian.Uint16(operand))
		case InlineI:
			in.Value = int64(int32(binary.LittleEndian.Uint32(operand)))
		case ShortInlineR:
			in.Value = int64(binary.LittleEndian.Uint32(operand))
		case InlineI8, InlineR:
			in.Value = int64(binary.LittleEndian.Uint64(operand))
		case InlineBrTarget:
			in.Value = int64(p + int(int32(binary.LittleEndian.Uint32(operand))))
		case InlineSwitch:
			n := int(binary.LittleEndian.Uint32(operand))
			if n < 0 || p+4*n > len(code) {
				return nil, fmt.Errorf("truncated switch table at offset %d", pos)
			}
			end := p + 4*n
			// Targets temporarily carry absolute offsets until Decode
			// resolves them.
			in.Targets = make([]*Instruction, n)
			for i := 0; i < n; i++ {
				delta := int32(binary.LittleEndian.Uint32(code[p+4*i:]))
				in.Targets[i] = &Instruction{Offset: end + int(delta)}
			}
			p = end
		default:
			in.Token = Token(binary.LittleEndian.Uint32(operand))
		}

		instrs = append(instrs, in)
		pos = p
	}
	return instrs, nil
}

// Encode lays the instructions out, widening short branches whose targets
// moved out of range, and returns the encoded body.
func (b *ILBody) Encode() (*Body, error) {
	index := make(map[*Instruction]bool, len(b.Instructions))
	for _, in := range b.Instructions {
		index[in] = true
	}
	check := func(in *Instruction, what string) error {
		if in != nil && !index[in] {
			return fmt.Errorf("%s refers to an instruction outside the body", what)
		}
		return nil
	}
	for _, in := range b.Instructions {
		if in.OpCode.IsBranch() {
			if in.Target == nil {
				return nil, fmt.Errorf("%s without target", in.OpCode.Name)
			}
			if err := check(in.Target, in.OpCode.Name); err != nil {
				return nil, err
			}
		}
		for _, t := range in.Targets {
			if err := check(t, "switch"); err != nil {
				return nil, err
			}
		}
	}
	for _, c := range b.Clauses {
		for _, in := range []*Instruction{c.TryStart, c.TryEnd, c.HandlerStart, c.HandlerEnd, c.FilterStart} {
			if err := check(in, "exception clause"); err != nil {
				return nil, err
			}
		}
	}

	total := b.layout()
	for widened := true; widened; {
		widened = false
		for _, in := range b.Instructions {
			if in.OpCode.Operand != ShortInlineBrTarget {
				continue
			}
			delta := in.Target.Offset - (in.Offset + in.size())
			if delta < math.MinInt8 || delta > math.MaxInt8 {
				in.OpCode = longForm(in.OpCode)
				widened = true
			}
		}
		if widened {
			total = b.layout()
		}
	}

	code := make([]byte, 0, total)
	for _, in := range b.Instructions {
		code = appendInstruction(code, in)
	}

	body := &Body{MaxStack: b.MaxStack, Code: code}
	endOf := func(in *Instruction) uint32 {
		if in == nil {
			return uint32(total)
		}
		return uint32(in.Offset)
	}
	for _, c := range b.Clauses {
		ec := ExceptionClause{
			Flags:         c.Flags,
			TryOffset:     uint32(c.TryStart.Offset),
			HandlerOffset: uint32(c.HandlerStart.Offset),
		}
		ec.TryLength = endOf(c.TryEnd) - ec.TryOffset
		ec.HandlerLength = endOf(c.HandlerEnd) - ec.HandlerOffset
		switch c.Flags {
		case ClauseFilter:
			ec.ClassOrFilter = uint32(c.FilterStart.Offset)
		case ClauseException:
			ec.ClassOrFilter = uint32(c.Class)
		}
		body.Clauses = append(body.Clauses, ec)
	}
	return body, nil
}

// layout assigns offsets and returns the code size.
func (b *ILBody) layout() int {
	off := 0
	for _, in := range b.Instructions {
		in.Offset = off
		off += in.size()
	}
	return off
}

func appendInstruction(code []byte, in *Instruction) []byte {
	op := in.OpCode
	if op.Size() == 2 {
		code = append(code, 0xFE, byte(op.Value))
	} else {
		code = append(code, byte(op.Value))
	}
	next := in.Offset + in.size()

	switch op.Operand {
	case InlineNone:
	case ShortInlineI, ShortInlineVar:
		code = append(code, byte(in.Value))
	case ShortInlineBrTarget:
		code = append(code, byte(int8(in.Target.Offset-next)))
	case InlineVar:
		code = binary.LittleEndian.AppendUint16(code, uint16(in.Value))
	case InlineI, ShortInlineR:
		code = binary.LittleEndian.AppendUint32(code, uint32(in.Value))
	case InlineI8, InlineR:
		code = binary.LittleEndian.AppendUint64(code, uint64(in.Value))
	case InlineBrTarget:
		code = binary.LittleEndian.AppendUint32(code, uint32(int32(in.Target.Offset-next)))
	case InlineSwitch:
		code = binary.LittleEndian.AppendUint32(code, uint32(len(in.Targets)))
		for _, t := range in.Targets {
			code = binary.LittleEndian.AppendUint32(code, uint32(int32(t.Offset-next)))
		}
	default:
		code = binary.LittleEndian.AppendUint32(code, uint32(in.Token))
	}
	return code
}

// InsertBefore inserts in ahead of at. Every branch, switch arm and
// exception region boundary that referred to at is moved to in, so the new
// instruction runs on every path that reached at.
func (b *ILBody) InsertBefore(at, in *Instruction) error {
	idx := -1
	for i, x := range b.Instructions {
		if x == at {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("instruction %s not in body", at)
	}

	b.Instructions = append(b.Instructions, nil)
	copy(b.Instructions[idx+1:], b.Instructions[idx:])
	b.Instructions[idx] = in

	retarget := func(p **Instruction) {
		if *p == at {
			*p = in
		}
	}
	for _, x := range b.Instructions {
		if x == in {
			continue
		}
		retarget(&x.Target)
		for i := range x.Targets {
			retarget(&x.Targets[i])
		}
	}
	for _, c := range b.Clauses {
		retarget(&c.TryStart)
		retarget(&c.TryEnd)
		retarget(&c.HandlerStart)
		retarget(&c.HandlerEnd)
		retarget(&c.FilterStart)
	}
	return nil
}
