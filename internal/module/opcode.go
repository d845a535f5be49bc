package module

import "fmt"

// OperandType describes the inline operand that follows an opcode.
type OperandType byte

const (
	InlineNone OperandType = iota
	ShortInlineI
	ShortInlineVar
	ShortInlineBrTarget
	ShortInlineR
	InlineVar
	InlineI
	InlineI8
	InlineR
	InlineBrTarget
	InlineSwitch
	InlineMethod
	InlineField
	InlineType
	InlineTok
	InlineString
	InlineSig
)

// size returns the operand's encoded size. Switch operands are variable
// and report only their count field.
func (o OperandType) size() int {
	switch o {
	case InlineNone:
		return 0
	case ShortInlineI, ShortInlineVar, ShortInlineBrTarget:
		return 1
	case InlineVar:
		return 2
	case InlineI8, InlineR:
		return 8
	default:
		return 4
	}
}

// HasToken reports whether the operand is a metadata token.
func (o OperandType) HasToken() bool {
	switch o {
	case InlineMethod, InlineField, InlineType, InlineTok, InlineString, InlineSig:
		return true
	}
	return false
}

// OpCode is a CIL instruction kind.
type OpCode struct {
	Name    string
	Value   uint16
	Operand OperandType
}

// Size returns the encoded size of the opcode itself.
func (o OpCode) Size() int {
	if o.Value > 0xFF {
		return 2
	}
	return 1
}

func (o OpCode) String() string { return o.Name }

// IsBranch reports whether the opcode takes a single branch target.
func (o OpCode) IsBranch() bool {
	return o.Operand == ShortInlineBrTarget || o.Operand == InlineBrTarget
}

var (
	oneByte [0x100]*OpCode
	twoByte [0x20]*OpCode
	byName  = map[string]*OpCode{}
)

// def registers an opcode. Opcodes already declared as variables keep their
// identity so instructions can be compared against them.
func def(value uint16, name string, operand OperandType) *OpCode {
	if op, ok := byName[name]; ok {
		return op
	}
	op := &OpCode{Name: name, Value: value, Operand: operand}
	if value > 0xFF {
		twoByte[value&0xFF] = op
	} else {
		oneByte[value] = op
	}
	byName[name] = op
	return op
}

// Opcodes referenced by name elsewhere.
var (
	Nop        = def(0x00, "nop", InlineNone)
	Ldarg0     = def(0x02, "ldarg.0", InlineNone)
	Ldloc0     = def(0x06, "ldloc.0", InlineNone)
	Stloc0     = def(0x0A, "stloc.0", InlineNone)
	Ldnull     = def(0x14, "ldnull", InlineNone)
	LdcI4S     = def(0x1F, "ldc.i4.s", ShortInlineI)
	LdcI4      = def(0x20, "ldc.i4", InlineI)
	Dup        = def(0x25, "dup", InlineNone)
	Pop        = def(0x26, "pop", InlineNone)
	Call       = def(0x28, "call", InlineMethod)
	Ret        = def(0x2A, "ret", InlineNone)
	BrS        = def(0x2B, "br.s", ShortInlineBrTarget)
	BrfalseS   = def(0x2C, "brfalse.s", ShortInlineBrTarget)
	BrtrueS    = def(0x2D, "brtrue.s", ShortInlineBrTarget)
	Br         = def(0x38, "br", InlineBrTarget)
	Brfalse    = def(0x39, "brfalse", InlineBrTarget)
	Brtrue     = def(0x3A, "brtrue", InlineBrTarget)
	Switch     = def(0x45, "switch", InlineSwitch)
	Callvirt   = def(0x6F, "callvirt", InlineMethod)
	Ldstr      = def(0x72, "ldstr", InlineString)
	Newobj     = def(0x73, "newobj", InlineMethod)
	Throw      = def(0x7A, "throw", InlineNone)
	Endfinally = def(0xDC, "endfinally", InlineNone)
	Leave      = def(0xDD, "leave", InlineBrTarget)
	LeaveS     = def(0xDE, "leave.s", ShortInlineBrTarget)
)

func init() {
	none := func(first uint16, names ...string) {
		for i, n := range names {
			def(first+uint16(i), n, InlineNone)
		}
	}
	with := func(first uint16, operand OperandType, names ...string) {
		for i, n := range names {
			def(first+uint16(i), n, operand)
		}
	}

	none(0x01, "break")
	none(0x03, "ldarg.1", "ldarg.2", "ldarg.3", "ldloc.0", "ldloc.1", "ldloc.2", "ldloc.3",
		"stloc.0", "stloc.1", "stloc.2", "stloc.3")
	with(0x0E, ShortInlineVar, "ldarg.s", "ldarga.s", "starg.s", "ldloc.s", "ldloca.s", "stloc.s")
	none(0x15, "ldc.i4.m1", "ldc.i4.0", "ldc.i4.1", "ldc.i4.2", "ldc.i4.3", "ldc.i4.4",
		"ldc.i4.5", "ldc.i4.6", "ldc.i4.7", "ldc.i4.8")
	def(0x21, "ldc.i8", InlineI8)
	def(0x22, "ldc.r4", ShortInlineR)
	def(0x23, "ldc.r8", InlineR)
	def(0x27, "jmp", InlineMethod)
	def(0x29, "calli", InlineSig)
	with(0x2E, ShortInlineBrTarget, "beq.s", "bge.s", "bgt.s", "ble.s", "blt.s",
		"bne.un.s", "bge.un.s", "bgt.un.s", "ble.un.s", "blt.un.s")
	with(0x3B, InlineBrTarget, "beq", "bge", "bgt", "ble", "blt",
		"bne.un", "bge.un", "bgt.un", "ble.un", "blt.un")
	none(0x46, "ldind.i1", "ldind.u1", "ldind.i2", "ldind.u2", "ldind.i4", "ldind.u4",
		"ldind.i8", "ldind.i", "ldind.r4", "ldind.r8", "ldind.ref",
		"stind.ref", "stind.i1", "stind.i2", "stind.i4", "stind.i8", "stind.r4", "stind.r8",
		"add", "sub", "mul", "div", "div.un", "rem", "rem.un", "and", "or", "xor",
		"shl", "shr", "shr.un", "neg", "not",
		"conv.i1", "conv.i2", "conv.i4", "conv.i8", "conv.r4", "conv.r8", "conv.u4", "conv.u8")
	with(0x70, InlineType, "cpobj", "ldobj")
	with(0x74, InlineType, "castclass", "isinst")
	none(0x76, "conv.r.un")
	def(0x79, "unbox", InlineType)
	with(0x7B, InlineField, "ldfld", "ldflda", "stfld", "ldsfld", "ldsflda", "stsfld")
	def(0x81, "stobj", InlineType)
	none(0x82, "conv.ovf.i1.un", "conv.ovf.i2.un", "conv.ovf.i4.un", "conv.ovf.i8.un",
		"conv.ovf.u1.un", "conv.ovf.u2.un", "conv.ovf.u4.un", "conv.ovf.u8.un",
		"conv.ovf.i.un", "conv.ovf.u.un")
	with(0x8C, InlineType, "box", "newarr")
	none(0x8E, "ldlen")
	def(0x8F, "ldelema", InlineType)
	none(0x90, "ldelem.i1", "ldelem.u1", "ldelem.i2", "ldelem.u2", "ldelem.i4", "ldelem.u4",
		"ldelem.i8", "ldelem.i", "ldelem.r4", "ldelem.r8", "ldelem.ref",
		"stelem.i", "stelem.i1", "stelem.i2", "stelem.i4", "stelem.i8", "stelem.r4", "stelem.r8", "stelem.ref")
	with(0xA3, InlineType, "ldelem", "stelem", "unbox.any")
	none(0xB3, "conv.ovf.i1", "conv.ovf.u1", "conv.ovf.i2", "conv.ovf.u2",
		"conv.ovf.i4", "conv.ovf.u4", "conv.ovf.i8", "conv.ovf.u8")
	def(0xC2, "refanyval", InlineType)
	none(0xC3, "ckfinite")
	def(0xC6, "mkrefany", InlineType)
	def(0xD0, "ldtoken", InlineTok)
	none(0xD1, "conv.u2", "conv.u1", "conv.i", "conv.ovf.i", "conv.ovf.u",
		"add.ovf", "add.ovf.un", "mul.ovf", "mul.ovf.un", "sub.ovf", "sub.ovf.un")
	none(0xDF, "stind.i", "conv.u")

	none(0xFE00, "arglist", "ceq", "cgt", "cgt.un", "clt", "clt.un")
	with(0xFE06, InlineMethod, "ldftn", "ldvirtftn")
	with(0xFE09, InlineVar, "ldarg", "ldarga", "starg", "ldloc", "ldloca", "stloc")
	none(0xFE0F, "localloc")
	none(0xFE11, "endfilter")
	def(0xFE12, "unaligned.", ShortInlineI)
	none(0xFE13, "volatile.", "tail.")
	with(0xFE15, InlineType, "initobj", "constrained.")
	none(0xFE17, "cpblk", "initblk")
	def(0xFE19, "no.", ShortInlineI)
	none(0xFE1A, "rethrow")
	def(0xFE1C, "sizeof", InlineType)
	none(0xFE1D, "refanytype", "readonly.")
}

// Lookup returns the opcode with the given mnemonic.
func Lookup(name string) (*OpCode, bool) {
	op, ok := byName[name]
	return op, ok
}

// longForm maps a short branch to its four-byte-offset form.
func longForm(op *OpCode) *OpCode {
	switch {
	case op.Value >= 0x2B && op.Value <= 0x37:
		return oneByte[op.Value+13]
	case op == LeaveS:
		return Leave
	}
	return op
}

// decodeOpCode reads the opcode at code[pos:].
func decodeOpCode(code []byte, pos int) (*OpCode, error) {
	b := code[pos]
	if b == 0xFE {
		if pos+1 >= len(code) {
			return nil, fmt.Errorf("truncated two-byte opcode at offset %d", pos)
		}
		second := code[pos+1]
		if int(second) >= len(twoByte) || twoByte[second] == nil {
			return nil, fmt.Errorf("unknown opcode 0xfe%02x at offset %d", second, pos)
		}
		return twoByte[second], nil
	}
	if oneByte[b] == nil {
		return nil, fmt.Errorf("unknown opcode 0x%02x at offset %d", b, pos)
	}
	return oneByte[b], nil
}
