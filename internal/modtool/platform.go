package modtool

import (
	"fmt"
	"strings"
)

// Platform is a target runtime a mod can be built for. Values are bit flags
// so a set of platforms fits in one integer (the root metadata bitmask).
type Platform int

const (
	Windows Platform = 1
	Linux   Platform = 2
	OSX     Platform = 4
	Android Platform = 8
	IPhone  Platform = 16
)

// AllPlatforms lists every platform in matrix order.
var AllPlatforms = []Platform{Windows, Linux, OSX, Android, IPhone}

func (p Platform) String() string {
	switch p {
	case Windows:
		return "Windows"
	case Linux:
		return "Linux"
	case OSX:
		return "OSX"
	case Android:
		return "Android"
	case IPhone:
		return "iPhone"
	default:
		return fmt.Sprintf("Platform(%d)", int(p))
	}
}

// index returns the platform's row in the content matrix, or -1.
func (p Platform) index() int {
	for i, q := range AllPlatforms {
		if p == q {
			return i
		}
	}
	return -1
}

// Has reports whether the set p contains q.
func (p Platform) Has(q Platform) bool { return p&q == q }

// ParsePlatform converts a platform name (case-insensitive) to a Platform.
func ParsePlatform(s string) (Platform, error) {
	for _, p := range AllPlatforms {
		if strings.EqualFold(p.String(), s) {
			return p, nil
		}
	}
	if strings.EqualFold(s, "macos") {
		return OSX, nil
	}
	return 0, fmt.Errorf("unknown platform: %q", s)
}

// Platforms splits a bitmask into its platforms in matrix order.
func (p Platform) Platforms() []Platform {
	var out []Platform
	for _, q := range AllPlatforms {
		if p.Has(q) {
			out = append(out, q)
		}
	}
	return out
}

// Content is a set of content kinds exported for a platform.
type Content int

const (
	Scenes Content = 1
	Assets Content = 2
	Code   Content = 4
)

// AllContent lists every content kind in matrix column order.
var AllContent = []Content{Scenes, Assets, Code}

// Has reports whether c contains every kind in k.
func (c Content) Has(k Content) bool { return c&k == k }

func (c Content) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	if c.Has(Scenes) {
		parts = append(parts, "scenes")
	}
	if c.Has(Assets) {
		parts = append(parts, "assets")
	}
	if c.Has(Code) {
		parts = append(parts, "code")
	}
	return strings.Join(parts, "|")
}

// ParseContent parses a list of content kind names into a Content set.
func ParseContent(names []string) (Content, error) {
	var c Content
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "scenes", "scene":
			c |= Scenes
		case "assets", "asset":
			c |= Assets
		case "code":
			c |= Code
		default:
			return 0, fmt.Errorf("unknown content kind: %q", n)
		}
	}
	return c, nil
}

// Compression selects how a platform's content archive is packed.
type Compression int

const (
	Uncompressed Compression = 1
	// LZ4 is block compression: each chunk is compressed independently.
	LZ4 Compression = 2
	// LZMA is solid compression over the whole archive stream.
	LZMA Compression = 4
)

func (c Compression) String() string {
	switch c {
	case Uncompressed:
		return "uncompressed"
	case LZ4:
		return "lz4"
	case LZMA:
		return "lzma"
	default:
		return fmt.Sprintf("Compression(%d)", int(c))
	}
}

// ParseCompression parses a compression name. The empty string selects LZMA,
// the host's default.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "lzma", "solid":
		return LZMA, nil
	case "lz4", "block", "chunk":
		return LZ4, nil
	case "none", "uncompressed":
		return Uncompressed, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", s)
	}
}

// ContentMatrix records, per platform, which content kinds are both supported
// by the host product and selected for export. It is the single source of
// truth for what goes into each platform's bundle.
type ContentMatrix struct {
	cells [5][3]bool
}

// NewContentMatrix builds a matrix from the supported and selected content
// per platform. A cell is set only when the kind is supported and selected.
func NewContentMatrix(supported, selected map[Platform]Content) ContentMatrix {
	var m ContentMatrix
	for i, p := range AllPlatforms {
		for j, k := range AllContent {
			m.cells[i][j] = supported[p].Has(k) && selected[p].Has(k)
		}
	}
	return m
}

// Content returns the set of content kinds enabled for p.
func (m ContentMatrix) Content(p Platform) Content {
	i := p.index()
	if i < 0 {
		return 0
	}
	var c Content
	for j, k := range AllContent {
		if m.cells[i][j] {
			c |= k
		}
	}
	return c
}

// Set replaces the content kinds enabled for p.
func (m *ContentMatrix) Set(p Platform, c Content) {
	i := p.index()
	if i < 0 {
		return
	}
	for j, k := range AllContent {
		m.cells[i][j] = c.Has(k)
	}
}

// Clear removes the kinds in c from every platform.
func (m *ContentMatrix) Clear(c Content) {
	for i := range m.cells {
		for j, k := range AllContent {
			if c.Has(k) {
				m.cells[i][j] = false
			}
		}
	}
}
