package asmdef

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func touch(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDefinition_WriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MyMod.asmdef")
	d := &Definition{Name: "MyMod", References: []string{"Shared"}, IncludePlatforms: []string{EditorPlatform}}

	if err := d.WriteFile(path); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !reflect.DeepEqual(got, d) {
		t.Errorf("Read() = %+v, want %+v", got, d)
	}
	if !got.EditorOnly() {
		t.Error("EditorOnly() = false, want true")
	}

	t.Run("refuses to overwrite", func(t *testing.T) {
		if err := d.WriteFile(path); err == nil {
			t.Error("WriteFile() error = nil, want error")
		}
	})
}

func TestIndexAndExportable(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "Assets", "Scripts", "Game.asmdef"), `{"name":"Game","references":[]}`)
	touch(t, filepath.Join(root, "Assets", "Tools", "Editor", "Tools.asmdef"), `{"name":"Tools","references":[],"includePlatforms":["Editor"]}`)
	touch(t, filepath.Join(root, "Packages", "com.vendor.lib", "Lib.asmdef"), `{"name":"Lib","references":[]}`)

	index, err := Index(root)
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	if got := index["Game"].Path; got != "Assets/Scripts/Game.asmdef" {
		t.Errorf("index[Game].Path = %q", got)
	}

	tests := []struct {
		name string
		want bool
	}{
		{DefaultModule, true},
		{"Game", true},
		{"Tools", false},
		{"Lib", false},
		{"Unknown", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Exportable(tt.name, index); got != tt.want {
				t.Errorf("Exportable(%s) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}

	t.Run("missing packages directory", func(t *testing.T) {
		bare := t.TempDir()
		touch(t, filepath.Join(bare, "Assets", "A.asmdef"), `{"name":"A","references":[]}`)
		index, err := Index(bare)
		if err != nil {
			t.Fatalf("Index() error = %v", err)
		}
		if len(index) != 1 {
			t.Errorf("len(index) = %d, want 1", len(index))
		}
	})
}

func TestEditorFolders(t *testing.T) {
	assets := filepath.Join(t.TempDir(), "Assets")
	touch(t, filepath.Join(assets, "Scripts", "Editor", "Inspector.cs"), "")
	touch(t, filepath.Join(assets, "Art", "Editor", "readme.txt"), "")
	touch(t, filepath.Join(assets, "Owned", "Editor", "Tool.cs"), "")
	touch(t, filepath.Join(assets, "Owned", "Editor", "Owned.asmdef"), "{}")
	touch(t, filepath.Join(assets, "Deep", "Editor", "Sub", "Window.cs"), "")

	got, err := EditorFolders(assets)
	if err != nil {
		t.Fatalf("EditorFolders() error = %v", err)
	}
	want := []string{
		filepath.Join(assets, "Deep", "Editor"),
		filepath.Join(assets, "Scripts", "Editor"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("EditorFolders() = %v, want %v", got, want)
	}
}

func TestFolderName(t *testing.T) {
	if got := FolderName(filepath.Join("Assets", "My Scripts", "Editor")); got != "Assets-MyScripts-Editor" {
		t.Errorf("FolderName() = %q, want Assets-MyScripts-Editor", got)
	}
}

func TestReferences(t *testing.T) {
	compiled := t.TempDir()
	for _, name := range []string{DefaultModule, DefaultModule + "-Editor", "Game", "Tools", "Shared"} {
		touch(t, filepath.Join(compiled, name+".dll"), "")
	}
	index := map[string]Entry{
		"Tools": {Path: "Assets/Tools/Editor/Tools.asmdef", Definition: &Definition{Name: "Tools", IncludePlatforms: []string{EditorPlatform}}},
	}

	got, err := References(compiled, index)
	if err != nil {
		t.Fatalf("References() error = %v", err)
	}
	if want := []string{"Game", "Shared"}; !reflect.DeepEqual(got, want) {
		t.Errorf("References() = %v, want %v", got, want)
	}
}
