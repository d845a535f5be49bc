package module

import (
	"fmt"
	"strings"
)

// ElementType is the leading byte of a type signature.
type ElementType byte

// Element types used in member signatures.
const (
	ElemVoid    ElementType = 0x01
	ElemBoolean ElementType = 0x02
	ElemChar    ElementType = 0x03
	ElemI4      ElementType = 0x08
	ElemI8      ElementType = 0x0a
	ElemR4      ElementType = 0x0c
	ElemR8      ElementType = 0x0d
	ElemString  ElementType = 0x0e
	ElemClass   ElementType = 0x12
	ElemVar     ElementType = 0x13
	ElemObject  ElementType = 0x1c
	ElemMVar    ElementType = 0x1e
)

// TypeSig is a single type in a member signature.
type TypeSig struct {
	Elem ElementType
	// Class is the TypeRef token for ElemClass.
	Class Token
	// Index is the generic parameter number for ElemVar and ElemMVar.
	Index int
}

func Void() TypeSig   { return TypeSig{Elem: ElemVoid} }
func Bool() TypeSig   { return TypeSig{Elem: ElemBoolean} }
func Int32() TypeSig  { return TypeSig{Elem: ElemI4} }
func Float() TypeSig  { return TypeSig{Elem: ElemR4} }
func String() TypeSig { return TypeSig{Elem: ElemString} }
func Object() TypeSig { return TypeSig{Elem: ElemObject} }

// Class returns a signature for the type referenced by tok.
func Class(tok Token) TypeSig { return TypeSig{Elem: ElemClass, Class: tok} }

// MethodVar returns a signature for the method's generic parameter i.
func MethodVar(i int) TypeSig { return TypeSig{Elem: ElemMVar, Index: i} }

func (s TypeSig) valid() bool {
	switch s.Elem {
	case ElemVoid, ElemBoolean, ElemChar, ElemI4, ElemI8, ElemR4, ElemR8,
		ElemString, ElemObject, ElemClass, ElemVar, ElemMVar:
		return true
	}
	return false
}

// format renders the signature using names from m.
func (s TypeSig) format(m *Module) string {
	switch s.Elem {
	case ElemVoid:
		return "void"
	case ElemBoolean:
		return "bool"
	case ElemChar:
		return "char"
	case ElemI4:
		return "int32"
	case ElemI8:
		return "int64"
	case ElemR4:
		return "float32"
	case ElemR8:
		return "float64"
	case ElemString:
		return "string"
	case ElemObject:
		return "object"
	case ElemClass:
		return m.TypeName(s.Class)
	case ElemVar:
		return fmt.Sprintf("!%d", s.Index)
	case ElemMVar:
		return fmt.Sprintf("!!%d", s.Index)
	}
	return fmt.Sprintf("elem(0x%02x)", byte(s.Elem))
}

// MemberRef is a reference to a method defined in another module.
type MemberRef struct {
	// Parent is the declaring TypeRef.
	Parent Token
	Name   string
	// HasThis is set for instance methods and constructors.
	HasThis bool
	// GenericParams is the number of method generic parameters.
	GenericParams int
	Return        TypeSig
	Params        []TypeSig
}

func (r MemberRef) equal(o MemberRef) bool {
	if r.Parent != o.Parent || r.Name != o.Name || r.HasThis != o.HasThis ||
		r.GenericParams != o.GenericParams || r.Return != o.Return || len(r.Params) != len(o.Params) {
		return false
	}
	for i := range r.Params {
		if r.Params[i] != o.Params[i] {
			return false
		}
	}
	return true
}

// MethodSpec instantiates a generic method reference.
type MethodSpec struct {
	Method Token
	Args   []TypeSig
}

func (s MethodSpec) equal(o MethodSpec) bool {
	if s.Method != o.Method || len(s.Args) != len(o.Args) {
		return false
	}
	for i := range s.Args {
		if s.Args[i] != o.Args[i] {
			return false
		}
	}
	return true
}

// FormatMember renders a member reference as "Ns.Type::Name(params)".
func (m *Module) FormatMember(r *MemberRef) string {
	params := make([]string, len(r.Params))
	for i, p := range r.Params {
		params[i] = p.format(m)
	}
	generic := ""
	if r.GenericParams > 0 {
		generic = fmt.Sprintf("<%d>", r.GenericParams)
	}
	return fmt.Sprintf("%s %s::%s%s(%s)", r.Return.format(m), m.TypeName(r.Parent), r.Name, generic, strings.Join(params, ", "))
}
