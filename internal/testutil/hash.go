package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

// SHA256Hex returns the SHA-256 checksum of data as a lowercase hex string.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// TreeHash maps every regular file under root (slash path relative to root)
// to the checksum of its content. Paths under any of skip are left out.
func TreeHash(t *testing.T, root string, skip ...string) map[string]string {
	t.Helper()

	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[filepath.ToSlash(s)] = true
	}

	sums := make(map[string]string)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if skipped[rel] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		sums[rel] = SHA256Hex(data)
		return nil
	})
	if err != nil {
		t.Fatalf("hashing %s: %v", root, err)
	}
	return sums
}

// DiffTrees returns the paths that differ between two TreeHash results.
func DiffTrees(before, after map[string]string) []string {
	var diff []string
	for p, sum := range before {
		if got, ok := after[p]; !ok {
			diff = append(diff, "missing "+p)
		} else if got != sum {
			diff = append(diff, "changed "+p)
		}
	}
	for p := range after {
		if _, ok := before[p]; !ok {
			diff = append(diff, "added "+p)
		}
	}
	return diff
}
