package modtool

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	metaBundleName    = "assetBundleName"
	metaBundleVariant = "assetBundleVariant"
)

// Membership is an asset's content archive assignment as stored in its
// sidecar metadata file. The zero value means "not in any archive".
type Membership struct {
	Name    string `json:"name"`
	Variant string `json:"variant"`
}

// Archive returns the archive file name for the membership, or "" when the
// asset is not assigned.
func (m Membership) Archive() string {
	if m.Name == "" {
		return ""
	}
	name := strings.ToLower(m.Name)
	if m.Variant != "" {
		name += "." + strings.ToLower(m.Variant)
	}
	return name
}

// ReadMembership reads the archive assignment from a sidecar file. A
// missing sidecar yields the zero Membership.
func ReadMembership(metaPath string) (Membership, error) {
	doc, err := loadMeta(metaPath)
	if err != nil {
		return Membership{}, err
	}
	var m Membership
	if n := findKey(doc, metaBundleName); n != nil {
		m.Name = n.Value
	}
	if n := findKey(doc, metaBundleVariant); n != nil {
		m.Variant = n.Value
	}
	return m, nil
}

// WriteMembership updates the archive assignment in a sidecar file, keeping
// every other key.
func WriteMembership(metaPath string, m Membership) error {
	doc, err := loadMeta(metaPath)
	if err != nil {
		return err
	}

	setKey(doc, metaBundleName, m.Name)
	setKey(doc, metaBundleVariant, m.Variant)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding %s: %w", metaPath, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding %s: %w", metaPath, err)
	}
	if err := os.WriteFile(metaPath, buf.Bytes(), 0644); err != nil {
		return wrapIO("writing", metaPath, err)
	}
	return nil
}

// loadMeta parses a sidecar file into a document node. A missing or empty
// file yields an empty mapping document.
func loadMeta(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, wrapIO("reading", path, err)
	}

	var doc yaml.Node
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		doc = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}},
		}
	}
	if doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parsing %s: top level is not a mapping", path)
	}
	return &doc, nil
}

// findKey returns the value node for key, searching nested mappings
// depth-first. Importer settings sit one level below the root.
func findKey(n *yaml.Node, key string) *yaml.Node {
	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			if v := findKey(c, key); v != nil {
				return v
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == key {
				return n.Content[i+1]
			}
		}
		for i := 1; i < len(n.Content); i += 2 {
			if v := findKey(n.Content[i], key); v != nil {
				return v
			}
		}
	}
	return nil
}

// setKey sets key to value, adding it to the importer mapping (or the root
// mapping when there is none) if it does not exist yet.
func setKey(doc *yaml.Node, key, value string) {
	if n := findKey(doc, key); n != nil {
		n.Kind = yaml.ScalarNode
		n.Tag = "!!str"
		n.Style = 0
		n.Value = value
		n.Content = nil
		return
	}

	target := importerMapping(doc.Content[0])
	target.Content = append(target.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value},
	)
}

func importerMapping(root *yaml.Node) *yaml.Node {
	for i := 0; i+1 < len(root.Content); i += 2 {
		if strings.HasSuffix(root.Content[i].Value, "Importer") && root.Content[i+1].Kind == yaml.MappingNode {
			return root.Content[i+1]
		}
	}
	return root
}
