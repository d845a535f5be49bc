package module

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// magic opens every encoded module.
var magic = [4]byte{'M', 'O', 'D', 'I'}

// formatVersion is the current encoding version.
const formatVersion uint16 = 1

// maxNesting bounds nested type depth when reading untrusted input.
const maxNesting = 64

// ErrMalformed is wrapped by every decoding error.
var ErrMalformed = errors.New("malformed module")

// Read decodes a module from r.
func Read(r io.Reader) (*Module, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading module: %w", err)
	}
	d := &decoder{buf: data}
	m := d.module()
	if d.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, d.err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, nil
}

// ReadFile decodes the module stored at path.
func ReadFile(path string) (*Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening module: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Write encodes m to w.
func (m *Module) Write(w io.Writer) error {
	e := &encoder{}
	e.module(m)
	if _, err := w.Write(e.buf.Bytes()); err != nil {
		return fmt.Errorf("writing module: %w", err)
	}
	return nil
}

// WriteFile encodes m to path, replacing any existing file atomically.
func (m *Module) WriteFile(path string) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating module directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if err := m.Write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// validate checks that every token stored in the tables resolves.
func (m *Module) validate() error {
	sig := func(s TypeSig, where string) error {
		if !s.valid() {
			return fmt.Errorf("%s: unknown element type 0x%02x", where, byte(s.Elem))
		}
		if s.Elem == ElemClass {
			if _, err := m.TypeRef(s.Class); err != nil {
				return fmt.Errorf("%s: %w", where, err)
			}
		}
		return nil
	}

	for i, t := range m.TypeRefs {
		if t.Scope.IsNil() {
			continue
		}
		if t.Scope.Table() != TableAssemblyRef || t.Scope.Row() > len(m.AssemblyRefs) {
			return fmt.Errorf("type reference %d: bad scope %s", i+1, t.Scope)
		}
	}
	for i, r := range m.MemberRefs {
		where := fmt.Sprintf("member reference %d", i+1)
		if _, err := m.TypeRef(r.Parent); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
		if err := sig(r.Return, where); err != nil {
			return err
		}
		for _, p := range r.Params {
			if err := sig(p, where); err != nil {
				return err
			}
		}
	}
	for i, s := range m.MethodSpecs {
		where := fmt.Sprintf("method instantiation %d", i+1)
		if _, err := m.MemberRef(s.Method); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
		for _, a := range s.Args {
			if err := sig(a, where); err != nil {
				return err
			}
		}
	}
	return nil
}

type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) u8(v byte) { e.buf.WriteByte(v) }

func (e *encoder) u16(v uint16) {
	e.buf.Write(binary.LittleEndian.AppendUint16(nil, v))
}

func (e *encoder) u32(v uint32) {
	e.buf.Write(binary.LittleEndian.AppendUint32(nil, v))
}

func (e *encoder) uvarint(v int) {
	e.buf.Write(binary.AppendUvarint(nil, uint64(v)))
}

func (e *encoder) str(s string) {
	e.uvarint(len(s))
	e.buf.WriteString(s)
}

func (e *encoder) sig(s TypeSig) {
	e.u8(byte(s.Elem))
	switch s.Elem {
	case ElemClass:
		e.u32(uint32(s.Class))
	case ElemVar, ElemMVar:
		e.uvarint(s.Index)
	}
}

func (e *encoder) module(m *Module) {
	e.buf.Write(magic[:])
	e.u16(formatVersion)
	e.str(m.Name)

	e.uvarint(len(m.AssemblyRefs))
	for _, a := range m.AssemblyRefs {
		e.str(a.Name)
		for _, v := range a.Version {
			e.u16(v)
		}
	}

	e.uvarint(len(m.TypeRefs))
	for _, t := range m.TypeRefs {
		e.u32(uint32(t.Scope))
		e.str(t.Namespace)
		e.str(t.Name)
	}

	e.uvarint(len(m.MemberRefs))
	for _, r := range m.MemberRefs {
		e.u32(uint32(r.Parent))
		e.str(r.Name)
		var flags byte
		if r.HasThis {
			flags |= 1
		}
		e.u8(flags)
		e.uvarint(r.GenericParams)
		e.sig(r.Return)
		e.uvarint(len(r.Params))
		for _, p := range r.Params {
			e.sig(p)
		}
	}

	e.uvarint(len(m.MethodSpecs))
	for _, s := range m.MethodSpecs {
		e.u32(uint32(s.Method))
		e.uvarint(len(s.Args))
		for _, a := range s.Args {
			e.sig(a)
		}
	}

	e.uvarint(len(m.Strings))
	for _, s := range m.Strings {
		e.str(s)
	}

	e.uvarint(len(m.Types))
	for _, t := range m.Types {
		e.typeDef(t)
	}
}

func (e *encoder) typeDef(t *TypeDef) {
	e.str(t.Namespace)
	e.str(t.Name)
	e.uvarint(len(t.Methods))
	for _, m := range t.Methods {
		e.str(m.Name)
		if m.Body == nil {
			e.u8(0)
			continue
		}
		e.u8(1)
		e.u16(m.Body.MaxStack)
		e.uvarint(len(m.Body.Code))
		e.buf.Write(m.Body.Code)
		e.uvarint(len(m.Body.Clauses))
		for _, c := range m.Body.Clauses {
			for _, v := range []uint32{c.Flags, c.TryOffset, c.TryLength, c.HandlerOffset, c.HandlerLength, c.ClassOrFilter} {
				e.u32(v)
			}
		}
	}
	e.uvarint(len(t.Nested))
	for _, n := range t.Nested {
		e.typeDef(n)
	}
}

// decoder reads from an in-memory buffer. The first error sticks and every
// later read returns zero values.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf(format+" at byte %d", append(args, d.off)...)
	}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.off+n > len(d.buf) {
		d.fail("unexpected end of data reading %d bytes", n)
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() byte {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// count reads a length prefix and rejects values that cannot fit in the
// remaining input.
func (d *decoder) count() int {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf[d.off:])
	if n <= 0 {
		d.fail("bad length prefix")
		return 0
	}
	d.off += n
	if v > uint64(len(d.buf)-d.off) {
		d.fail("length %d exceeds remaining data", v)
		return 0
	}
	return int(v)
}

func (d *decoder) str() string {
	return string(d.take(d.count()))
}

func (d *decoder) sig() TypeSig {
	s := TypeSig{Elem: ElementType(d.u8())}
	switch s.Elem {
	case ElemClass:
		s.Class = Token(d.u32())
	case ElemVar, ElemMVar:
		s.Index = d.count()
	}
	return s
}

func (d *decoder) module() *Module {
	if got := d.take(len(magic)); d.err == nil && !bytes.Equal(got, magic[:]) {
		d.fail("bad magic %q", got)
	}
	if v := d.u16(); d.err == nil && v != formatVersion {
		d.fail("unsupported format version %d", v)
	}

	m := &Module{Name: d.str()}

	for n := d.count(); n > 0 && d.err == nil; n-- {
		a := AssemblyRef{Name: d.str()}
		for i := range a.Version {
			a.Version[i] = d.u16()
		}
		m.AssemblyRefs = append(m.AssemblyRefs, a)
	}

	for n := d.count(); n > 0 && d.err == nil; n-- {
		m.TypeRefs = append(m.TypeRefs, TypeRef{Scope: Token(d.u32()), Namespace: d.str(), Name: d.str()})
	}

	for n := d.count(); n > 0 && d.err == nil; n-- {
		r := MemberRef{Parent: Token(d.u32()), Name: d.str()}
		r.HasThis = d.u8()&1 == 1
		r.GenericParams = d.count()
		r.Return = d.sig()
		for p := d.count(); p > 0 && d.err == nil; p-- {
			r.Params = append(r.Params, d.sig())
		}
		m.MemberRefs = append(m.MemberRefs, r)
	}

	for n := d.count(); n > 0 && d.err == nil; n-- {
		s := MethodSpec{Method: Token(d.u32())}
		for a := d.count(); a > 0 && d.err == nil; a-- {
			s.Args = append(s.Args, d.sig())
		}
		m.MethodSpecs = append(m.MethodSpecs, s)
	}

	for n := d.count(); n > 0 && d.err == nil; n-- {
		m.Strings = append(m.Strings, d.str())
	}

	for n := d.count(); n > 0 && d.err == nil; n-- {
		m.Types = append(m.Types, d.typeDef(0))
	}

	if d.err == nil && d.off != len(d.buf) {
		d.fail("%d trailing bytes", len(d.buf)-d.off)
	}
	return m
}

func (d *decoder) typeDef(depth int) *TypeDef {
	if depth > maxNesting {
		d.fail("types nested deeper than %d", maxNesting)
		return &TypeDef{}
	}
	t := &TypeDef{Namespace: d.str(), Name: d.str()}
	for n := d.count(); n > 0 && d.err == nil; n-- {
		method := &Method{Name: d.str()}
		if d.u8() == 1 {
			b := &Body{MaxStack: d.u16()}
			b.Code = append([]byte(nil), d.take(d.count())...)
			for c := d.count(); c > 0 && d.err == nil; c-- {
				b.Clauses = append(b.Clauses, ExceptionClause{
					Flags:         d.u32(),
					TryOffset:     d.u32(),
					TryLength:     d.u32(),
					HandlerOffset: d.u32(),
					HandlerLength: d.u32(),
					ClassOrFilter: d.u32(),
				})
			}
			method.Body = b
		}
		t.Methods = append(t.Methods, method)
	}
	for n := d.count(); n > 0 && d.err == nil; n-- {
		t.Nested = append(t.Nested, d.typeDef(depth+1))
	}
	return t
}
