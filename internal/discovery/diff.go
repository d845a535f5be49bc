package discovery

import (
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// InfoExt marks the manifest file that identifies a mod.
const InfoExt = ".info"

// Changes is the result of comparing two scans. Paths are mod manifest
// paths.
type Changes struct {
	Added   []string
	Removed []string
	Changed []string
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// Diff compares the known mods with a new snapshot and returns the changes
// and the new set of known mods with their last seen times.
//
// A known mod is changed when its manifest is newer, or when any path inside
// the manifest's directory is newer than the time recorded for it. New manifests are added;
// known mods missing from the snapshot are removed.
func Diff(known, cur Snapshot) (Changes, Snapshot) {
	next := make(Snapshot, len(known))
	for p, t := range known {
		next[p] = t
	}

	var c Changes
	for _, p := range sortedKeys(known) {
		if _, ok := cur[p]; !ok {
			delete(next, p)
			c.Removed = append(c.Removed, p)
		}
	}

	changed := make(map[string]bool)
	for _, p := range sortedKeys(cur) {
		mtime := cur[p]
		if prev, ok := next[p]; ok && mtime.After(prev) {
			next[p] = mtime
			changed[p] = true
			continue
		}

		for _, mod := range sortedKeys(next) {
			if within(p, filepath.Dir(mod)) && mtime.After(next[mod]) {
				next[mod] = mtime
				changed[mod] = true
				break
			}
		}

		if _, ok := next[p]; !ok && strings.HasSuffix(p, InfoExt) {
			next[p] = mtime
			c.Added = append(c.Added, p)
		}
	}

	for _, p := range sortedKeys(next) {
		if changed[p] {
			c.Changed = append(c.Changed, p)
		}
	}
	return c, next
}

// within reports whether p is dir or lies below it.
func within(p, dir string) bool {
	return p == dir || strings.HasPrefix(p, dir+string(filepath.Separator))
}

func sortedKeys(m map[string]time.Time) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
