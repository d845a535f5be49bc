package bundle

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"modtool-go/internal/encryption"
	"modtool-go/internal/modtool"
	"modtool-go/internal/testutil"
)

func assetsIn(t *testing.T, p *testutil.Project) []*modtool.Asset {
	t.Helper()
	return []*modtool.Asset{
		modtool.NewAsset(p.WriteAsset("Assets/Props/Crate.prefab", "crate", "crates")),
		modtool.NewAsset(p.WriteAsset("Assets/Props/Barrel.prefab", "barrel", "crates")),
		modtool.NewAsset(p.WriteAsset("Assets/Data/Loot.asset", "loot", "")),
		modtool.NewAsset(p.WriteAsset("Assets/Levels/Dock.unity", "dock", "levels")),
	}
}

func TestArchiver_BuildArchives(t *testing.T) {
	for _, c := range []modtool.Compression{modtool.Uncompressed, modtool.LZ4, modtool.LZMA} {
		t.Run(c.String(), func(t *testing.T) {
			p := testutil.NewProject(t)
			assets := assetsIn(t, p)
			outDir := filepath.Join(p.Layout.StagingDir, "Linux", "Linux")

			a := NewArchiver(p.Root, nil, modtool.NewNopLogger())
			files, err := a.BuildArchives(context.Background(), outDir, c, modtool.Linux, assets)
			if err != nil {
				t.Fatalf("BuildArchives() error = %v", err)
			}

			var names []string
			for _, f := range files {
				names = append(names, filepath.Base(f))
			}
			sort.Strings(names)
			want := []string{"Linux", "Linux.manifest", "crates", "crates.manifest", "levels", "levels.manifest"}
			if !reflect.DeepEqual(names, want) {
				t.Errorf("files = %v, want %v", names, want)
			}

			archive, err := OpenArchive(filepath.Join(outDir, "crates"), nil)
			if err != nil {
				t.Fatalf("OpenArchive() error = %v", err)
			}
			if archive.Compression != c {
				t.Errorf("Compression = %s, want %s", archive.Compression, c)
			}
			f, ok := archive.File("assets/props/crate.prefab")
			if !ok {
				t.Fatalf("crate missing from archive: %+v", archive.Files)
			}
			if string(f.Data) != "crate" {
				t.Errorf("crate data = %q, want %q", f.Data, "crate")
			}
			if len(archive.Files) != 2 {
				t.Errorf("len(Files) = %d, want 2", len(archive.Files))
			}

			m, err := ReadArchiveManifest(filepath.Join(outDir, "crates"))
			if err != nil {
				t.Fatalf("ReadArchiveManifest() error = %v", err)
			}
			if m.Platform != "Linux" || m.Compression != c.String() || m.CRC == 0 || m.Sealed {
				t.Errorf("manifest = %+v", m)
			}
			wantAssets := []string{"assets/props/barrel.prefab", "assets/props/crate.prefab"}
			if !reflect.DeepEqual(m.Assets, wantAssets) {
				t.Errorf("manifest assets = %v, want %v", m.Assets, wantAssets)
			}

			folder, err := ReadArchiveManifest(filepath.Join(outDir, "Linux"))
			if err != nil {
				t.Fatalf("ReadArchiveManifest(folder) error = %v", err)
			}
			if !reflect.DeepEqual(folder.Bundles, []string{"crates", "levels"}) {
				t.Errorf("folder bundles = %v", folder.Bundles)
			}
		})
	}
}

func TestArchiver_NoBundles(t *testing.T) {
	p := testutil.NewProject(t)
	outDir := filepath.Join(p.Layout.StagingDir, "OSX", "OSX")

	a := NewArchiver(p.Root, nil, modtool.NewNopLogger())
	files, err := a.BuildArchives(context.Background(), outDir, modtool.LZMA, modtool.OSX, nil)
	if err != nil {
		t.Fatalf("BuildArchives() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %v, want folder archive and manifest", files)
	}
	archive, err := OpenArchive(filepath.Join(outDir, "OSX"), nil)
	if err != nil {
		t.Fatalf("OpenArchive() error = %v", err)
	}
	if _, ok := archive.File(FolderEntry); !ok {
		t.Errorf("folder archive lacks %s entry", FolderEntry)
	}
}

func TestArchiver_Sealed(t *testing.T) {
	p := testutil.NewProject(t)
	assets := assetsIn(t, p)
	outDir := filepath.Join(p.Layout.StagingDir, "Windows", "Windows")
	enc := encryption.NewTestEncryptor()

	a := NewArchiver(p.Root, enc, modtool.NewNopLogger())
	if _, err := a.BuildArchives(context.Background(), outDir, modtool.LZ4, modtool.Windows, assets); err != nil {
		t.Fatalf("BuildArchives() error = %v", err)
	}

	t.Run("unreadable without key", func(t *testing.T) {
		if _, err := OpenArchive(filepath.Join(outDir, "levels"), nil); err == nil {
			t.Error("OpenArchive() without key expected error")
		}
	})

	t.Run("opens with key", func(t *testing.T) {
		dec, err := enc.Unlock("")
		if err != nil {
			t.Fatalf("Unlock() error = %v", err)
		}
		archive, err := OpenArchive(filepath.Join(outDir, "levels"), dec)
		if err != nil {
			t.Fatalf("OpenArchive() error = %v", err)
		}
		if f, ok := archive.File("assets/levels/dock.unity"); !ok || string(f.Data) != "dock" {
			t.Errorf("dock entry = %+v, %v", f, ok)
		}
	})

	t.Run("manifest marks sealed", func(t *testing.T) {
		m, err := ReadArchiveManifest(filepath.Join(outDir, "levels"))
		if err != nil {
			t.Fatalf("ReadArchiveManifest() error = %v", err)
		}
		if !m.Sealed {
			t.Error("Sealed = false, want true")
		}
	})
}

func TestOpenArchive_NotAnArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk")
	if err := os.WriteFile(path, []byte("PK\x03\x04 not ours"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenArchive(path, nil); err == nil {
		t.Error("OpenArchive() expected error")
	}
}
