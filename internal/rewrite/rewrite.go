// Package rewrite patches compiled mod modules so that object creation is
// routed through the runtime's ObjectManager, which tracks every object a
// mod creates.
package rewrite

import (
	"fmt"
	"path/filepath"

	"modtool-go/internal/modtool"
	"modtool-go/internal/module"
)

// Names of the tracking type the rewritten calls are routed through.
const (
	TrackingAssembly  = "ModTool"
	TrackingNamespace = "ModTool"
	TrackingType      = "ObjectManager"
)

var trackingVersion = [4]uint16{1, 0, 0, 0}

// Result summarises one rewritten module.
type Result struct {
	Module string
	Output string
	// Constructors is the number of scene object constructions rewritten.
	Constructors int
	// Duplications is the number of Instantiate calls rewritten.
	Duplications int
	// Unresolved counts call operands that could not be resolved to a
	// method reference and were left unmodified.
	Unresolved int
}

// Rewritten is the total number of patched call sites.
func (r *Result) Rewritten() int { return r.Constructors + r.Duplications }

// Rewriter patches modules into a staging directory.
type Rewriter struct {
	outputDir string
	strict    bool
	logger    modtool.Logger
}

// New creates a Rewriter writing patched modules to outputDir. With strict
// set, an unresolvable call operand fails the module instead of being
// skipped.
func New(outputDir string, strict bool, logger modtool.Logger) *Rewriter {
	return &Rewriter{outputDir: outputDir, strict: strict, logger: logger}
}

// Rewrite patches the module at modulePath and writes the result to the
// output directory under the same file name. The input file is not touched.
func (r *Rewriter) Rewrite(modulePath, modName string) (*Result, error) {
	m, err := module.ReadFile(modulePath)
	if err != nil {
		return nil, &modtool.RewriteError{Module: modulePath, Err: err}
	}

	res, err := r.RewriteModule(m, modName)
	if err != nil {
		return nil, &modtool.RewriteError{Module: modulePath, Err: err}
	}
	res.Module = modulePath

	out := filepath.Join(r.outputDir, filepath.Base(modulePath))
	if err := m.WriteFile(out); err != nil {
		return nil, &modtool.IOError{Op: "writing rewritten module", Path: out, Err: err}
	}
	res.Output = out

	r.logger.Info("rewrote module",
		"module", filepath.Base(modulePath),
		"constructors", res.Constructors,
		"duplications", res.Duplications,
		"unresolved", res.Unresolved)
	return res, nil
}

// RewriteModule patches m in place.
func (r *Rewriter) RewriteModule(m *module.Module, modName string) (*Result, error) {
	p := &patcher{
		m:       m,
		modName: modName,
		strict:  r.strict,
		logger:  r.logger,
		res:     &Result{},
	}
	p.importReferences()

	err := m.Methods(func(t *module.TypeDef, method *module.Method) error {
		return p.method(t, method)
	})
	if err != nil {
		return nil, err
	}
	return p.res, nil
}

type patcher struct {
	m       *module.Module
	modName string
	strict  bool
	logger  modtool.Logger
	res     *Result

	tracker module.Token
	name    module.Token
}

func (p *patcher) importReferences() {
	asm := p.m.AddAssemblyRef(TrackingAssembly, trackingVersion)
	p.tracker = p.m.AddTypeRef(asm, TrackingNamespace, TrackingType)
}

func (p *patcher) method(t *module.TypeDef, method *module.Method) error {
	if method.Body == nil || len(method.Body.Code) == 0 {
		return nil
	}
	where := fmt.Sprintf("%s::%s", typeName(t), method.Name)

	body, err := module.Decode(method.Body)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", where, err)
	}

	var patched []*module.Instruction
	for _, in := range body.Instructions {
		if in.OpCode != module.Call && in.OpCode != module.Newobj {
			continue
		}
		ok, err := p.instruction(in)
		if err != nil {
			if p.strict {
				return fmt.Errorf("%s at IL_%04x: %w", where, in.Offset, err)
			}
			p.res.Unresolved++
			p.logger.Warn("left call unmodified", "method", where, "offset", in.Offset, "error", err)
			continue
		}
		if ok {
			patched = append(patched, in)
		}
	}
	if len(patched) == 0 {
		return nil
	}

	if p.name.IsNil() {
		p.name = p.m.AddString(p.modName)
	}
	for _, in := range patched {
		ldstr := &module.Instruction{OpCode: module.Ldstr, Token: p.name}
		if err := body.InsertBefore(in, ldstr); err != nil {
			return fmt.Errorf("patching %s: %w", where, err)
		}
	}
	body.MaxStack++

	encoded, err := body.Encode()
	if err != nil {
		return fmt.Errorf("encoding %s: %w", where, err)
	}
	method.Body = encoded
	return nil
}

// instruction rewrites in if it matches one of the tracked patterns. It
// reports whether the instruction was changed.
func (p *patcher) instruction(in *module.Instruction) (bool, error) {
	var (
		spec *module.MethodSpec
		ref  *module.MemberRef
		err  error
	)
	switch in.Token.Table() {
	case module.TableMethodDef:
		// Calls into the module's own methods are never tracked.
		return false, nil
	case module.TableMethodSpec:
		if spec, err = p.m.MethodSpec(in.Token); err != nil {
			return false, err
		}
		if ref, err = p.m.MemberRef(spec.Method); err != nil {
			return false, err
		}
	default:
		if ref, err = p.m.MemberRef(in.Token); err != nil {
			return false, err
		}
	}

	parent, err := p.m.TypeRef(ref.Parent)
	if err != nil {
		return false, err
	}

	switch {
	case in.OpCode == module.Newobj && spec == nil && parent.Name == "GameObject" && ref.Name == ".ctor":
		in.OpCode = module.Call
		in.Token = p.m.AddMemberRef(module.MemberRef{
			Parent: p.tracker,
			Name:   "Create",
			Return: module.Class(ref.Parent),
			Params: appendName(ref.Params),
		})
		p.res.Constructors++
		return true, nil

	case in.OpCode == module.Call && parent.Name == "Object" && ref.Name == "Instantiate":
		tok, err := p.instantiate(ref, spec)
		if err != nil {
			return false, err
		}
		in.Token = tok
		p.res.Duplications++
		return true, nil
	}
	return false, nil
}

// instantiate builds the tracking equivalent of an Instantiate reference.
// The generic form is re-bound to a single method generic parameter that
// takes the place of the first parameter and the return type.
func (p *patcher) instantiate(ref *module.MemberRef, spec *module.MethodSpec) (module.Token, error) {
	replacement := module.MemberRef{
		Parent: p.tracker,
		Name:   ref.Name,
		Return: ref.Return,
		Params: appendName(ref.Params),
	}
	if spec == nil {
		return p.m.AddMemberRef(replacement), nil
	}

	if len(spec.Args) == 0 || len(ref.Params) == 0 {
		return 0, fmt.Errorf("generic %s has no argument to re-bind", ref.Name)
	}
	replacement.GenericParams = 1
	replacement.Params[0] = module.MethodVar(0)
	replacement.Return = module.MethodVar(0)

	method := p.m.AddMemberRef(replacement)
	return p.m.AddMethodSpec(module.MethodSpec{Method: method, Args: spec.Args[:1]}), nil
}

func appendName(params []module.TypeSig) []module.TypeSig {
	out := make([]module.TypeSig, 0, len(params)+1)
	out = append(out, params...)
	return append(out, module.String())
}

func typeName(t *module.TypeDef) string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}
