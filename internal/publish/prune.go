// Package publish copies a finished staging tree to its output location,
// first removing only the files a previous build of the same mod produced.
package publish

import (
	"path"
	"strings"
)

// IsBuildFile reports whether rel, a slash path relative to the mod's output
// directory, follows the naming convention of files an export writes:
//   - an archive named like its folder, or that name plus ".manifest"
//   - a content archive "<modname>.scenes*" or "<modname>.assets*"
//   - a ".dll" or "<modName>.info" in the mod root or a platform folder
//   - "<modName>.rootinfo" in the mod root
func IsBuildFile(rel, modName string) bool {
	rel = strings.Trim(rel, "/")
	name := path.Base(rel)
	dir := path.Dir(rel)

	parent := modName
	if dir != "." {
		parent = path.Base(dir)
	}
	if name == parent || name == parent+".manifest" {
		return true
	}

	lower := strings.ToLower(modName)
	if strings.HasPrefix(name, lower+".scenes") || strings.HasPrefix(name, lower+".assets") {
		return true
	}

	depth := strings.Count(rel, "/")
	if depth <= 1 && (strings.HasSuffix(name, ".dll") || name == modName+".info") {
		return true
	}
	return depth == 0 && name == modName+".rootinfo"
}
