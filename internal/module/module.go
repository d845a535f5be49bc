// Package module reads, edits and writes compiled mod code modules.
//
// A module holds reference tables (assemblies, types, members, generic
// method instantiations, string literals) and type definitions whose
// methods carry CIL bodies. Instructions address table rows with tokens.
package module

import (
	"fmt"
)

// AssemblyRef names an external assembly.
type AssemblyRef struct {
	Name    string
	Version [4]uint16
}

// TypeRef names a type in an external assembly.
type TypeRef struct {
	// Scope is the AssemblyRef token of the defining assembly.
	Scope     Token
	Namespace string
	Name      string
}

// FullName is "Namespace.Name", or just Name without a namespace.
func (t TypeRef) FullName() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// ExceptionClause is a protected region as stored in a method body.
// Offsets are byte offsets into the body's code.
type ExceptionClause struct {
	Flags         uint32
	TryOffset     uint32
	TryLength     uint32
	HandlerOffset uint32
	HandlerLength uint32
	// ClassOrFilter is the caught TypeRef token for typed clauses, or the
	// filter offset for filter clauses.
	ClassOrFilter uint32
}

// Exception clause kinds.
const (
	ClauseException uint32 = 0
	ClauseFilter    uint32 = 1
	ClauseFinally   uint32 = 2
	ClauseFault     uint32 = 4
)

// Body is the encoded form of a method body.
type Body struct {
	MaxStack uint16
	Code     []byte
	Clauses  []ExceptionClause
}

// Method is a method definition. Abstract and extern methods have no body.
type Method struct {
	Name string
	Body *Body
}

// TypeDef is a type defined in the module.
type TypeDef struct {
	Namespace string
	Name      string
	Methods   []*Method
	Nested    []*TypeDef
}

// AddMethod appends a method with the given body, which may be nil.
func (t *TypeDef) AddMethod(name string, body *Body) *Method {
	m := &Method{Name: name, Body: body}
	t.Methods = append(t.Methods, m)
	return m
}

// AddNested appends a nested type.
func (t *TypeDef) AddNested(name string) *TypeDef {
	n := &TypeDef{Name: name}
	t.Nested = append(t.Nested, n)
	return n
}

// Module is a compiled code module.
type Module struct {
	Name         string
	AssemblyRefs []AssemblyRef
	TypeRefs     []TypeRef
	MemberRefs   []MemberRef
	MethodSpecs  []MethodSpec
	Strings      []string
	Types        []*TypeDef
}

// New creates an empty module.
func New(name string) *Module {
	return &Module{Name: name}
}

// AddType appends a top-level type definition.
func (m *Module) AddType(namespace, name string) *TypeDef {
	t := &TypeDef{Namespace: namespace, Name: name}
	m.Types = append(m.Types, t)
	return t
}

// AddAssemblyRef returns the token of the named assembly reference, adding
// it if it is not present.
func (m *Module) AddAssemblyRef(name string, version [4]uint16) Token {
	for i, r := range m.AssemblyRefs {
		if r.Name == name {
			return MakeToken(TableAssemblyRef, i+1)
		}
	}
	m.AssemblyRefs = append(m.AssemblyRefs, AssemblyRef{Name: name, Version: version})
	return MakeToken(TableAssemblyRef, len(m.AssemblyRefs))
}

// AddTypeRef returns the token of a type reference, adding it if needed.
func (m *Module) AddTypeRef(scope Token, namespace, name string) Token {
	ref := TypeRef{Scope: scope, Namespace: namespace, Name: name}
	for i, r := range m.TypeRefs {
		if r == ref {
			return MakeToken(TableTypeRef, i+1)
		}
	}
	m.TypeRefs = append(m.TypeRefs, ref)
	return MakeToken(TableTypeRef, len(m.TypeRefs))
}

// AddMemberRef returns the token of a member reference, adding it if needed.
func (m *Module) AddMemberRef(ref MemberRef) Token {
	for i, r := range m.MemberRefs {
		if r.equal(ref) {
			return MakeToken(TableMemberRef, i+1)
		}
	}
	ref.Params = append([]TypeSig(nil), ref.Params...)
	m.MemberRefs = append(m.MemberRefs, ref)
	return MakeToken(TableMemberRef, len(m.MemberRefs))
}

// AddMethodSpec returns the token of a generic instantiation, adding it if
// needed.
func (m *Module) AddMethodSpec(spec MethodSpec) Token {
	for i, s := range m.MethodSpecs {
		if s.equal(spec) {
			return MakeToken(TableMethodSpec, i+1)
		}
	}
	spec.Args = append([]TypeSig(nil), spec.Args...)
	m.MethodSpecs = append(m.MethodSpecs, spec)
	return MakeToken(TableMethodSpec, len(m.MethodSpecs))
}

// AddString returns the token of a string literal, adding it if needed.
func (m *Module) AddString(s string) Token {
	for i, v := range m.Strings {
		if v == s {
			return MakeToken(TableUserString, i+1)
		}
	}
	m.Strings = append(m.Strings, s)
	return MakeToken(TableUserString, len(m.Strings))
}

// TypeRef resolves a TypeRef token.
func (m *Module) TypeRef(tok Token) (*TypeRef, error) {
	if tok.Table() != TableTypeRef || tok.Row() < 1 || tok.Row() > len(m.TypeRefs) {
		return nil, fmt.Errorf("token %s is not a type reference", tok)
	}
	return &m.TypeRefs[tok.Row()-1], nil
}

// MemberRef resolves a MemberRef token.
func (m *Module) MemberRef(tok Token) (*MemberRef, error) {
	if tok.Table() != TableMemberRef || tok.Row() < 1 || tok.Row() > len(m.MemberRefs) {
		return nil, fmt.Errorf("token %s is not a member reference", tok)
	}
	return &m.MemberRefs[tok.Row()-1], nil
}

// MethodSpec resolves a MethodSpec token.
func (m *Module) MethodSpec(tok Token) (*MethodSpec, error) {
	if tok.Table() != TableMethodSpec || tok.Row() < 1 || tok.Row() > len(m.MethodSpecs) {
		return nil, fmt.Errorf("token %s is not a method instantiation", tok)
	}
	return &m.MethodSpecs[tok.Row()-1], nil
}

// String resolves a string literal token.
func (m *Module) String(tok Token) (string, error) {
	if tok.Table() != TableUserString || tok.Row() < 1 || tok.Row() > len(m.Strings) {
		return "", fmt.Errorf("token %s is not a string literal", tok)
	}
	return m.Strings[tok.Row()-1], nil
}

// TypeName returns the full name of a TypeRef token, or the token itself
// when it does not resolve.
func (m *Module) TypeName(tok Token) string {
	t, err := m.TypeRef(tok)
	if err != nil {
		return tok.String()
	}
	return t.FullName()
}

// Methods calls fn for every method in every type, nested types first.
func (m *Module) Methods(fn func(t *TypeDef, method *Method) error) error {
	for _, t := range m.Types {
		if err := walkType(t, fn); err != nil {
			return err
		}
	}
	return nil
}

func walkType(t *TypeDef, fn func(*TypeDef, *Method) error) error {
	for _, n := range t.Nested {
		if err := walkType(n, fn); err != nil {
			return err
		}
	}
	for _, method := range t.Methods {
		if err := fn(t, method); err != nil {
			return err
		}
	}
	return nil
}
