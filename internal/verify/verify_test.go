package verify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"modtool-go/internal/modtool"
	"modtool-go/internal/module"
)

func writeModule(t *testing.T, dir, name string, build func(m *module.Module)) string {
	t.Helper()
	m := module.New(name)
	build(m)
	path := filepath.Join(dir, name+".dll")
	if err := m.WriteFile(path); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestVerifier_Verify(t *testing.T) {
	dir := t.TempDir()

	clean := writeModule(t, dir, "Clean", func(m *module.Module) {
		engine := m.AddAssemblyRef("UnityEngine", [4]uint16{})
		m.AddTypeRef(engine, "UnityEngine", "GameObject")
	})
	dirty := writeModule(t, dir, "Dirty", func(m *module.Module) {
		corlib := m.AddAssemblyRef("mscorlib", [4]uint16{4, 0, 0, 0})
		file := m.AddTypeRef(corlib, "System.IO.Compression", "ZipFile")
		m.AddMemberRef(module.MemberRef{Parent: file, Name: "Open", Return: module.Object(), Params: []module.TypeSig{module.String()}})
		asm := m.AddTypeRef(corlib, "System.Reflection", "Assembly")
		m.AddMemberRef(module.MemberRef{Parent: asm, Name: "GetName", HasThis: true, Return: module.Object()})
	})

	rules := &Rules{Disallowed: []Rule{
		{Namespace: "System.IO", Message: "no files"},
		{Namespace: "System.Reflection", Type: "Assembly", Member: "Load"},
	}}
	v := New(rules, modtool.NewNopLogger())

	t.Run("clean module passes", func(t *testing.T) {
		msgs, err := v.Verify(context.Background(), []string{clean})
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if len(msgs) != 0 {
			t.Errorf("Verify() = %v, want none", msgs)
		}
	})

	t.Run("nested namespace is disallowed", func(t *testing.T) {
		msgs, err := v.Verify(context.Background(), []string{clean, dirty})
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if len(msgs) != 1 {
			t.Fatalf("Verify() = %v, want 1 message", msgs)
		}
		want := "Dirty.dll: uses System.IO.Compression.ZipFile (no files)"
		if msgs[0] != want {
			t.Errorf("message = %q, want %q", msgs[0], want)
		}
	})

	t.Run("member rule matches by name", func(t *testing.T) {
		loader := writeModule(t, dir, "Loader", func(m *module.Module) {
			corlib := m.AddAssemblyRef("mscorlib", [4]uint16{4, 0, 0, 0})
			asm := m.AddTypeRef(corlib, "System.Reflection", "Assembly")
			m.AddMemberRef(module.MemberRef{Parent: asm, Name: "Load", Return: module.Object(), Params: []module.TypeSig{module.String()}})
		})
		msgs, err := v.Verify(context.Background(), []string{loader})
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if len(msgs) != 1 || !strings.Contains(msgs[0], "System.Reflection.Assembly::Load") {
			t.Errorf("Verify() = %v, want Assembly::Load violation", msgs)
		}
	})

	t.Run("unreadable module is an IO error", func(t *testing.T) {
		_, err := v.Verify(context.Background(), []string{filepath.Join(dir, "missing.dll")})
		var ioErr *modtool.IOError
		if !errors.As(err, &ioErr) {
			t.Errorf("Verify() error = %v, want IOError", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := v.Verify(ctx, []string{clean}); !errors.Is(err, context.Canceled) {
			t.Errorf("Verify() error = %v, want context.Canceled", err)
		}
	})
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file uses defaults", func(t *testing.T) {
		rules, err := LoadRules(filepath.Join(dir, "none.yaml"))
		if err != nil {
			t.Fatalf("LoadRules() error = %v", err)
		}
		if len(rules.Disallowed) != len(DefaultRules().Disallowed) {
			t.Errorf("len(Disallowed) = %d, want defaults", len(rules.Disallowed))
		}
	})

	t.Run("parses rule file", func(t *testing.T) {
		path := filepath.Join(dir, "rules.yaml")
		content := "disallowed:\n  - namespace: System.Threading\n    type: Thread\n    message: no threads\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		rules, err := LoadRules(path)
		if err != nil {
			t.Fatalf("LoadRules() error = %v", err)
		}
		want := Rule{Namespace: "System.Threading", Type: "Thread", Message: "no threads"}
		if len(rules.Disallowed) != 1 || rules.Disallowed[0] != want {
			t.Errorf("Disallowed = %+v, want [%+v]", rules.Disallowed, want)
		}
		if rules.Disallowed[0].String() != "System.Threading.Thread" {
			t.Errorf("String() = %q", rules.Disallowed[0].String())
		}
	})

	t.Run("rejects rule without namespace", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		if err := os.WriteFile(path, []byte("disallowed:\n  - type: Thread\n"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadRules(path); err == nil {
			t.Error("LoadRules() error = nil, want error")
		}
	})
}
