// Package discovery watches a mod search location and reports mods that
// appear, disappear or change.
package discovery

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Snapshot maps every file and directory under a search location to its
// modification time.
type Snapshot map[string]time.Time

// Source lists the content of a search location.
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	// Root is the local directory the snapshot paths live under.
	Root() string
}

// NewSource returns an HTTPSource for http(s) locations, mirroring into
// cacheDir, and a LocalSource otherwise.
func NewSource(location, cacheDir string) (Source, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		if cacheDir == "" {
			return nil, fmt.Errorf("remote search location %s needs a cache directory", location)
		}
		return NewHTTPSource(location, cacheDir, nil), nil
	}
	return NewLocalSource(location)
}

// LocalSource snapshots a directory tree.
type LocalSource struct {
	dir string
}

var _ Source = (*LocalSource)(nil)

// NewLocalSource fails if dir does not exist.
func NewLocalSource(dir string) (*LocalSource, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("search directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("search directory %s is not a directory", abs)
	}
	return &LocalSource{dir: abs}, nil
}

func (s *LocalSource) Root() string { return s.dir }

func (s *LocalSource) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := make(Snapshot)
	err := filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == s.dir {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		snap[p] = info.ModTime()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", s.dir, err)
	}
	return snap, nil
}

// FileList is the index a remote location serves: one relative file path
// per line.
const FileList = "FileList"

// HTTPSource mirrors a remote location listed by its FileList into a local
// cache directory and snapshots the mirrored files.
type HTTPSource struct {
	base   string
	cache  string
	client *http.Client
}

var _ Source = (*HTTPSource)(nil)

// NewHTTPSource mirrors into a per-location subdirectory of cacheDir. A nil
// client uses a client with a one minute timeout.
func NewHTTPSource(baseURL, cacheDir string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: time.Minute}
	}
	sum := sha256.Sum256([]byte(baseURL))
	return &HTTPSource{
		base:   strings.TrimSuffix(baseURL, "/"),
		cache:  filepath.Join(cacheDir, hex.EncodeToString(sum[:8])),
		client: client,
	}
}

func (s *HTTPSource) Root() string { return s.cache }

// Snapshot downloads every listed file. A location that cannot be listed
// yields an empty snapshot, so its mods read as removed.
func (s *HTTPSource) Snapshot(ctx context.Context) (Snapshot, error) {
	names, err := s.list(ctx)
	if err != nil {
		return Snapshot{}, nil
	}

	snap := make(Snapshot, len(names))
	for _, name := range names {
		local, err := s.fetch(ctx, name)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(local)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", local, err)
		}
		snap[local] = info.ModTime()
	}
	return snap, nil
}

func (s *HTTPSource) list(ctx context.Context) ([]string, error) {
	body, _, err := s.get(ctx, s.base+"/"+FileList)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var names []string
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		clean := path.Clean("/" + strings.TrimPrefix(line, "./"))[1:]
		if clean == "" {
			continue
		}
		names = append(names, clean)
	}
	return names, sc.Err()
}

// fetch downloads name into the cache, keeping the server's modification
// time when it sends one.
func (s *HTTPSource) fetch(ctx context.Context, name string) (string, error) {
	local := filepath.Join(s.cache, filepath.FromSlash(name))
	body, modified, err := s.get(ctx, s.base+"/"+name)
	if err != nil {
		return "", err
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return "", fmt.Errorf("creating cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(local), ".fetch-*")
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", local, err)
	}
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if _, err := io.Copy(tmp, body); err != nil {
		return "", fmt.Errorf("downloading %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("writing %s: %w", local, err)
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		return "", fmt.Errorf("renaming %s: %w", local, err)
	}
	success = true

	if !modified.IsZero() {
		if err := os.Chtimes(local, modified, modified); err != nil {
			return "", fmt.Errorf("setting times on %s: %w", local, err)
		}
	}
	return local, nil
}

func (s *HTTPSource) get(ctx context.Context, url string) (io.ReadCloser, time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, time.Time{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("fetching %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, time.Time{}, fmt.Errorf("fetching %s: %s", url, resp.Status)
	}
	var modified time.Time
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			modified = t
		}
	}
	return resp.Body, modified, nil
}
