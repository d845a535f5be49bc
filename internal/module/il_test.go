package module

import (
	"testing"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	ret := &Instruction{OpCode: Ret}
	loop := &Instruction{OpCode: Ldarg0}
	body := &ILBody{
		MaxStack: 3,
		Instructions: []*Instruction{
			loop,
			{OpCode: LdcI4S, Value: -5},
			{OpCode: LdcI4, Value: 123456},
			{OpCode: Pop},
			{OpCode: Pop},
			{OpCode: BrtrueS, Target: ret},
			{OpCode: Switch, Targets: []*Instruction{loop, ret}},
			{OpCode: Call, Token: MakeToken(TableMemberRef, 1)},
			ret,
		},
	}

	encoded, err := body.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if len(decoded.Instructions) != len(body.Instructions) {
		t.Fatalf("len(Instructions) = %d, want %d", len(decoded.Instructions), len(body.Instructions))
	}
	for i, in := range decoded.Instructions {
		want := body.Instructions[i]
		if in.OpCode != want.OpCode {
			t.Errorf("instruction %d opcode = %s, want %s", i, in.OpCode, want.OpCode)
		}
		if in.Offset != want.Offset {
			t.Errorf("instruction %d offset = %d, want %d", i, in.Offset, want.Offset)
		}
	}

	last := decoded.Instructions[len(decoded.Instructions)-1]
	if got := decoded.Instructions[5].Target; got != last {
		t.Errorf("brtrue.s target = %v, want ret", got)
	}
	sw := decoded.Instructions[6]
	if len(sw.Targets) != 2 || sw.Targets[0] != decoded.Instructions[0] || sw.Targets[1] != last {
		t.Errorf("switch targets = %v", sw.Targets)
	}
	if got := decoded.Instructions[1].Value; got != -5 {
		t.Errorf("ldc.i4.s value = %d, want -5", got)
	}
	if got := decoded.Instructions[2].Value; got != 123456 {
		t.Errorf("ldc.i4 value = %d, want 123456", got)
	}
	if got := decoded.Instructions[7].Token; got != MakeToken(TableMemberRef, 1) {
		t.Errorf("call token = %s, want %s", got, MakeToken(TableMemberRef, 1))
	}
}

func TestEncode_WidensShortBranches(t *testing.T) {
	ret := &Instruction{OpCode: Ret}
	instrs := []*Instruction{{OpCode: BrS, Target: ret}}
	for i := 0; i < 200; i++ {
		instrs = append(instrs, &Instruction{OpCode: Nop})
	}
	instrs = append(instrs, ret)
	body := &ILBody{MaxStack: 1, Instructions: instrs}

	encoded, err := body.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if encoded.Code[0] != byte(Br.Value) {
		t.Errorf("first opcode = 0x%02x, want br (0x%02x)", encoded.Code[0], Br.Value)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	first := decoded.Instructions[0]
	if first.OpCode != Br {
		t.Errorf("opcode = %s, want br", first.OpCode)
	}
	if first.Target != decoded.Instructions[len(decoded.Instructions)-1] {
		t.Errorf("branch target = %v, want final ret", first.Target)
	}
}

func TestEncode_KeepsShortBranchInRange(t *testing.T) {
	ret := &Instruction{OpCode: Ret}
	body := &ILBody{Instructions: []*Instruction{{OpCode: BrS, Target: ret}, {OpCode: Nop}, ret}}

	encoded, err := body.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want := []byte{0x2B, 0x01, 0x00, 0x2A}
	if string(encoded.Code) != string(want) {
		t.Errorf("Code = % x, want % x", encoded.Code, want)
	}
}

func TestInsertBefore_RetargetsReferences(t *testing.T) {
	call := &Instruction{OpCode: Call, Token: MakeToken(TableMemberRef, 1)}
	ret := &Instruction{OpCode: Ret}
	tryStart := &Instruction{OpCode: Nop}
	leave := &Instruction{OpCode: LeaveS, Target: ret}
	handler := &Instruction{OpCode: Pop}
	leave2 := &Instruction{OpCode: LeaveS, Target: ret}

	body := &ILBody{
		MaxStack: 2,
		Instructions: []*Instruction{
			{OpCode: Ldnull},
			{OpCode: BrfalseS, Target: call},
			tryStart,
			leave,
			handler,
			leave2,
			call,
			ret,
		},
		Clauses: []*Clause{{
			Flags:        ClauseException,
			TryStart:     tryStart,
			TryEnd:       handler,
			HandlerStart: handler,
			HandlerEnd:   call,
			Class:        MakeToken(TableTypeRef, 1),
		}},
	}

	ldstr := &Instruction{OpCode: Ldstr, Token: MakeToken(TableUserString, 1)}
	if err := body.InsertBefore(call, ldstr); err != nil {
		t.Fatalf("InsertBefore() error = %v", err)
	}

	if body.Instructions[6] != ldstr || body.Instructions[7] != call {
		t.Fatalf("ldstr not inserted ahead of call: %v", body.Instructions)
	}
	if body.Instructions[1].Target != ldstr {
		t.Errorf("branch target = %v, want inserted ldstr", body.Instructions[1].Target)
	}
	if body.Clauses[0].HandlerEnd != ldstr {
		t.Errorf("handler end = %v, want inserted ldstr", body.Clauses[0].HandlerEnd)
	}

	encoded, err := body.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(encoded.Clauses) != 1 {
		t.Fatalf("len(Clauses) = %d, want 1", len(encoded.Clauses))
	}
	c := encoded.Clauses[0]
	if int(c.HandlerOffset+c.HandlerLength) != ldstr.Offset {
		t.Errorf("handler ends at %d, want %d", c.HandlerOffset+c.HandlerLength, ldstr.Offset)
	}
	if Token(c.ClassOrFilter) != MakeToken(TableTypeRef, 1) {
		t.Errorf("clause class = %s", Token(c.ClassOrFilter))
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.Clauses[0].HandlerEnd.OpCode != Ldstr {
		t.Errorf("decoded handler end = %s, want ldstr", decoded.Clauses[0].HandlerEnd.OpCode)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		body *Body
	}{
		{"unknown opcode", &Body{Code: []byte{0x24}}},
		{"truncated operand", &Body{Code: []byte{0x28, 0x01}}},
		{"branch into operand", &Body{Code: []byte{0x2B, 0x01, 0x20, 0x00, 0x00, 0x00, 0x00, 0x2A}}},
		{"clause past end", &Body{Code: []byte{0x2A}, Clauses: []ExceptionClause{{Flags: ClauseFinally, TryOffset: 0, TryLength: 5}}}},
		{"unknown two-byte opcode", &Body{Code: []byte{0xFE, 0x1F}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.body); err == nil {
				t.Error("Decode() error = nil, want error")
			}
		})
	}
}

func TestLookup(t *testing.T) {
	op, ok := Lookup("newobj")
	if !ok || op != Newobj {
		t.Errorf("Lookup(newobj) = %v, %v", op, ok)
	}
	op, ok = Lookup("constrained.")
	if !ok || op.Value != 0xFE16 || op.Operand != InlineType {
		t.Errorf("Lookup(constrained.) = %+v, %v", op, ok)
	}
	if _, ok := Lookup("frobnicate"); ok {
		t.Error("Lookup(frobnicate) ok = true, want false")
	}
}
