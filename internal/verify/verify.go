// Package verify checks compiled modules against a list of disallowed
// namespaces, types and members.
package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"modtool-go/internal/modtool"
	"modtool-go/internal/module"
)

// Rule disallows a namespace, a type in it, or a single member of a type.
// Empty Type and Member fields match anything.
type Rule struct {
	Namespace string `yaml:"namespace"`
	Type      string `yaml:"type,omitempty"`
	Member    string `yaml:"member,omitempty"`
	Message   string `yaml:"message,omitempty"`
}

func (r Rule) String() string {
	s := r.Namespace
	if r.Type != "" {
		s += "." + r.Type
	}
	if r.Member != "" {
		s += "::" + r.Member
	}
	return s
}

// matchesType reports whether a referenced type falls under the rule.
// Namespaces match their nested namespaces too.
func (r Rule) matchesType(t *module.TypeRef) bool {
	if t.Namespace != r.Namespace && !strings.HasPrefix(t.Namespace, r.Namespace+".") {
		return false
	}
	return r.Type == "" || (t.Namespace == r.Namespace && t.Name == r.Type)
}

// Rules is the on-disk rule file.
type Rules struct {
	Disallowed []Rule `yaml:"disallowed"`
}

// DefaultRules is used when no rule file is configured.
func DefaultRules() *Rules {
	return &Rules{Disallowed: []Rule{
		{Namespace: "System.IO", Message: "mods may not access the file system"},
		{Namespace: "System.Net", Message: "mods may not open network connections"},
		{Namespace: "System.Diagnostics", Type: "Process", Message: "mods may not start processes"},
		{Namespace: "System.Reflection", Type: "Assembly", Member: "Load", Message: "mods may not load assemblies"},
		{Namespace: "UnityEditor", Message: "editor API is unavailable at runtime"},
	}}
}

// LoadRules reads a YAML rule file. A missing file yields DefaultRules.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultRules(), nil
		}
		return nil, fmt.Errorf("reading verify rules: %w", err)
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing verify rules: %w", err)
	}
	for i, r := range rules.Disallowed {
		if r.Namespace == "" {
			return nil, fmt.Errorf("verify rule %d: namespace is required", i+1)
		}
	}
	return &rules, nil
}

// Verifier implements modtool.Verifier over module files.
type Verifier struct {
	rules  []Rule
	logger modtool.Logger
}

var _ modtool.Verifier = (*Verifier)(nil)

func New(rules *Rules, logger modtool.Logger) *Verifier {
	return &Verifier{rules: rules.Disallowed, logger: logger}
}

// Verify returns one message per rule violated by each module.
func (v *Verifier) Verify(ctx context.Context, modules []string) ([]string, error) {
	var messages []string
	for _, path := range modules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := module.ReadFile(path)
		if err != nil {
			return nil, &modtool.IOError{Op: "reading module", Path: path, Err: err}
		}
		found := v.check(m)
		for _, msg := range found {
			messages = append(messages, filepath.Base(path)+": "+msg)
		}
		v.logger.Debug("verified module", "module", filepath.Base(path), "violations", len(found))
	}
	return messages, nil
}

func (v *Verifier) check(m *module.Module) []string {
	var out []string
	for _, r := range v.rules {
		if ref := v.violation(m, r); ref != "" {
			msg := "uses " + ref
			if r.Message != "" {
				msg += " (" + r.Message + ")"
			}
			out = append(out, msg)
		}
	}
	return out
}

// violation returns the first reference in m that breaks r, or "".
func (v *Verifier) violation(m *module.Module, r Rule) string {
	if r.Member == "" {
		for i := range m.TypeRefs {
			if r.matchesType(&m.TypeRefs[i]) {
				return m.TypeRefs[i].FullName()
			}
		}
		return ""
	}
	for i := range m.MemberRefs {
		ref := &m.MemberRefs[i]
		if ref.Name != r.Member {
			continue
		}
		parent, err := m.TypeRef(ref.Parent)
		if err != nil {
			continue
		}
		if r.matchesType(parent) {
			return parent.FullName() + "::" + ref.Name
		}
	}
	return ""
}
