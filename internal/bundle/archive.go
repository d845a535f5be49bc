package bundle

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz/lzma"
	"gopkg.in/yaml.v3"

	"modtool-go/internal/modtool"
)

// archiveMagic starts every archive, followed by one compression byte.
var archiveMagic = []byte("MODBNDL\x01")

// FolderEntry is the name of the single entry in a folder manifest archive.
const FolderEntry = "AssetBundleManifest"

// ManifestExt is the suffix of the YAML manifest written next to each archive.
const ManifestExt = ".manifest"

// ArchiveManifest describes one archive. For the folder archive Bundles lists
// the content archives of the platform instead of Assets.
type ArchiveManifest struct {
	Platform    string   `yaml:"platform"`
	Compression string   `yaml:"compression"`
	CRC         uint32   `yaml:"crc"`
	Sealed      bool     `yaml:"sealed,omitempty"`
	Assets      []string `yaml:"assets,omitempty"`
	Bundles     []string `yaml:"bundles,omitempty"`
}

// Archiver is the default ArchiveBuilder. It packs every asset assigned to a
// bundle into a tar stream compressed with the platform's codec, and
// optionally seals the result.
type Archiver struct {
	projectRoot string
	sealer      modtool.Sealer
	logger      modtool.Logger
}

var _ modtool.ArchiveBuilder = (*Archiver)(nil)

// NewArchiver creates an Archiver. A nil sealer writes plain archives.
func NewArchiver(projectRoot string, sealer modtool.Sealer, logger modtool.Logger) *Archiver {
	return &Archiver{projectRoot: projectRoot, sealer: sealer, logger: logger}
}

type entry struct {
	name string
	path string
	data []byte
}

func (a *Archiver) BuildArchives(ctx context.Context, outDir string, compression modtool.Compression, platform modtool.Platform, assets []*modtool.Asset) ([]string, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, &modtool.IOError{Op: "creating", Path: outDir, Err: err}
	}

	groups := make(map[string][]entry)
	for _, asset := range assets {
		m, err := asset.Membership()
		if err != nil {
			return nil, err
		}
		name := m.Archive()
		if name == "" {
			continue
		}
		groups[name] = append(groups[name], entry{name: a.entryName(asset.CurrentPath), path: asset.CurrentPath})
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	var written []string
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		entries := groups[name]
		sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

		files, err := a.writeBundle(filepath.Join(outDir, name), compression, platform, entries, func(m *ArchiveManifest) {
			for _, e := range entries {
				m.Assets = append(m.Assets, e.name)
			}
		})
		written = append(written, files...)
		if err != nil {
			return written, err
		}
		a.logger.Debug("built archive", "platform", platform, "archive", name, "assets", len(entries))
	}

	folder := filepath.Base(outDir)
	index, err := yaml.Marshal(struct {
		Bundles []string `yaml:"bundles"`
	}{Bundles: names})
	if err != nil {
		return written, fmt.Errorf("encoding folder manifest: %w", err)
	}
	files, err := a.writeBundle(filepath.Join(outDir, folder), compression, platform,
		[]entry{{name: FolderEntry, data: index}},
		func(m *ArchiveManifest) { m.Bundles = names })
	written = append(written, files...)
	return written, err
}

// writeBundle writes an archive and its manifest, returning both paths.
func (a *Archiver) writeBundle(path string, compression modtool.Compression, platform modtool.Platform, entries []entry, fill func(*ArchiveManifest)) ([]string, error) {
	sum, err := a.writeArchive(path, compression, entries)
	if err != nil {
		return nil, err
	}
	m := ArchiveManifest{
		Platform:    platform.String(),
		Compression: compression.String(),
		CRC:         sum,
		Sealed:      a.sealer != nil,
	}
	fill(&m)
	data, err := yaml.Marshal(&m)
	if err != nil {
		return []string{path}, fmt.Errorf("encoding archive manifest: %w", err)
	}
	if err := os.WriteFile(path+ManifestExt, data, 0644); err != nil {
		return []string{path}, &modtool.IOError{Op: "writing", Path: path + ManifestExt, Err: err}
	}
	return []string{path, path + ManifestExt}, nil
}

// writeArchive streams entries into a temp file next to path and renames it
// into place. The returned CRC covers the bytes on disk.
func (a *Archiver) writeArchive(path string, compression modtool.Compression, entries []entry) (sum uint32, err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".archive-*")
	if err != nil {
		return 0, &modtool.IOError{Op: "creating", Path: path, Err: err}
	}
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	h := crc32.NewIEEE()
	out := io.MultiWriter(tmp, h)

	if a.sealer == nil {
		err = encodeArchive(out, compression, entries)
	} else {
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(encodeArchive(pw, compression, entries))
		}()
		err = a.sealer.Encrypt(pr, out)
		pr.CloseWithError(errors.New("archive sealing stopped"))
	}
	if err != nil {
		return 0, &modtool.IOError{Op: "writing", Path: path, Err: err}
	}

	if err := tmp.Close(); err != nil {
		return 0, &modtool.IOError{Op: "writing", Path: path, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, &modtool.IOError{Op: "renaming", Path: path, Err: err}
	}
	success = true
	return h.Sum32(), nil
}

func encodeArchive(w io.Writer, compression modtool.Compression, entries []entry) error {
	if _, err := w.Write(archiveMagic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(compression)}); err != nil {
		return err
	}

	cw, err := compressor(w, compression)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(cw)
	for _, e := range entries {
		if err := writeEntry(tw, e); err != nil {
			return fmt.Errorf("adding %s: %w", e.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return cw.Close()
}

func writeEntry(tw *tar.Writer, e entry) error {
	if e.path == "" {
		if err := tw.WriteHeader(&tar.Header{Name: e.name, Mode: 0644, Size: int64(len(e.data)), Format: tar.FormatPAX}); err != nil {
			return err
		}
		_, err := tw.Write(e.data)
		return err
	}

	f, err := os.Open(e.path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name:    e.name,
		Mode:    0644,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Format:  tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func compressor(w io.Writer, c modtool.Compression) (io.WriteCloser, error) {
	switch c {
	case modtool.Uncompressed:
		return nopWriteCloser{w}, nil
	case modtool.LZ4:
		zw := lz4.NewWriter(w)
		if err := zw.Apply(lz4.BlockSizeOption(lz4.Block256Kb), lz4.ChecksumOption(true)); err != nil {
			return nil, fmt.Errorf("configuring lz4: %w", err)
		}
		return zw, nil
	case modtool.LZMA:
		zw, err := lzma.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating lzma writer: %w", err)
		}
		return zw, nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", c)
	}
}

func decompressor(r io.Reader, c modtool.Compression) (io.Reader, error) {
	switch c {
	case modtool.Uncompressed:
		return r, nil
	case modtool.LZ4:
		return lz4.NewReader(r), nil
	case modtool.LZMA:
		zr, err := lzma.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating lzma reader: %w", err)
		}
		return zr, nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", c)
	}
}

// entryName is the lower-cased project-relative path of an asset, the name
// a runtime loader looks assets up by.
func (a *Archiver) entryName(path string) string {
	rel, err := filepath.Rel(a.projectRoot, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(path)
	}
	return strings.ToLower(filepath.ToSlash(rel))
}

// Archive is the decoded content of an archive file.
type Archive struct {
	Compression modtool.Compression
	Files       []ArchiveFile
}

// ArchiveFile is one entry of an Archive.
type ArchiveFile struct {
	Name string
	Data []byte
}

// File returns the entry with the given name.
func (a *Archive) File(name string) (ArchiveFile, bool) {
	for _, f := range a.Files {
		if f.Name == name {
			return f, true
		}
	}
	return ArchiveFile{}, false
}

// OpenArchive reads an archive written by Archiver. Sealed archives need the
// DecryptionContext of the key they were sealed to.
func OpenArchive(path string, dec modtool.DecryptionContext) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &modtool.IOError{Op: "reading", Path: path, Err: err}
	}
	if dec != nil {
		var plain bytes.Buffer
		if err := dec.Decrypt(bytes.NewReader(data), &plain); err != nil {
			return nil, fmt.Errorf("opening sealed archive %s: %w", path, err)
		}
		data = plain.Bytes()
	}

	if len(data) < len(archiveMagic)+1 || !bytes.Equal(data[:len(archiveMagic)], archiveMagic) {
		return nil, fmt.Errorf("%s is not a mod archive", path)
	}
	archive := &Archive{Compression: modtool.Compression(data[len(archiveMagic)])}

	zr, err := decompressor(bytes.NewReader(data[len(archiveMagic)+1:]), archive.Compression)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("reading %s in %s: %w", hdr.Name, path, err)
		}
		archive.Files = append(archive.Files, ArchiveFile{Name: hdr.Name, Data: content})
	}
	return archive, nil
}

// ReadArchiveManifest loads the manifest written next to an archive.
func ReadArchiveManifest(archivePath string) (ArchiveManifest, error) {
	var m ArchiveManifest
	data, err := os.ReadFile(archivePath + ManifestExt)
	if err != nil {
		return m, &modtool.IOError{Op: "reading", Path: archivePath + ManifestExt, Err: err}
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parsing %s: %w", archivePath+ManifestExt, err)
	}
	return m, nil
}
