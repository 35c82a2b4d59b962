// Package store lists provider binaries from a directory or any fs.FS.
//
// Layout:
//
//	<root>/index.json        optional discovery manifest (sidecar metadata)
//	<root>/library/*.wasm    provider binaries
//
// Corrupt or unreadable entries are reported in Listing.Errors and skipped;
// only an unreachable root fails the whole listing.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/wippyai/extension-host/errors"
	"github.com/wippyai/extension-host/manifest"
	"github.com/wippyai/extension-host/wasm"
)

// Entry is one readable provider binary with its metadata.
type Entry struct {
	Path     string
	SHA256   string
	Binary   []byte
	Metadata manifest.Metadata
}

// Listing is the result of one scan.
type Listing struct {
	Entries []Entry
	Errors  []error
}

// Store yields the provider binaries available at this moment.
type Store interface {
	List(ctx context.Context) (Listing, error)
}

// FS is a store over a file system tree.
type FS struct {
	fsys        fs.FS
	name        string
	concurrency int
}

// Option configures an FS store.
type Option func(*FS)

// WithConcurrency bounds the number of binaries read in parallel.
func WithConcurrency(n int) Option {
	return func(s *FS) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewDir returns a store rooted at a directory on disk.
func NewDir(root string, opts ...Option) *FS {
	return newFS(os.DirFS(root), root, opts)
}

// NewFS returns a store over fsys, for example an embed.FS.
func NewFS(fsys fs.FS, opts ...Option) *FS {
	return newFS(fsys, "fs", opts)
}

func newFS(fsys fs.FS, name string, opts []Option) *FS {
	s := &FS{fsys: fsys, name: name, concurrency: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// String returns the store root for diagnostics.
func (s *FS) String() string {
	return s.name
}

type candidate struct {
	path  string
	entry *manifest.Entry
}

// List scans the store. Entries are sorted by path.
func (s *FS) List(ctx context.Context) (Listing, error) {
	info, err := fs.Stat(s.fsys, ".")
	if err != nil {
		return Listing{}, errors.Store(errors.KindIO, s.name, "store root unreachable", err)
	}
	if !info.IsDir() {
		return Listing{}, errors.Store(errors.KindIO, s.name, "store root is not a directory", nil)
	}

	index, err := s.readIndex()
	if err != nil {
		return Listing{}, err
	}

	var listing Listing
	candidates := make(map[string]*candidate)
	for i := range index {
		e := &index[i]
		p := path.Clean(e.Path)
		if !fs.ValidPath(p) {
			listing.Errors = append(listing.Errors,
				errors.Store(errors.KindCorrupt, e.Path, "index path escapes store root", nil))
			continue
		}
		if _, dup := candidates[p]; dup {
			listing.Errors = append(listing.Errors,
				errors.Store(errors.KindCorrupt, p, "path listed twice in "+manifest.IndexFile, nil))
			continue
		}
		candidates[p] = &candidate{path: p, entry: e}
	}

	files, err := fs.ReadDir(s.fsys, manifest.LibraryDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Listing{}, errors.Store(errors.KindIO, path.Join(s.name, manifest.LibraryDir), "read library", err)
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".wasm") {
			continue
		}
		p := path.Join(manifest.LibraryDir, f.Name())
		if _, ok := candidates[p]; !ok {
			candidates[p] = &candidate{path: p}
		}
	}

	ordered := make([]*candidate, 0, len(candidates))
	for _, c := range candidates {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].path < ordered[j].path })

	entries := make([]*Entry, len(ordered))
	errs := make([]error, len(ordered))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, c := range ordered {
		i, c := i, c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e, err := s.read(c)
			if err != nil {
				errs[i] = err
				return nil
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Listing{}, errors.Canceled(errors.PhaseStore, "list", err)
	}

	for i := range ordered {
		if errs[i] != nil {
			listing.Errors = append(listing.Errors, errs[i])
			continue
		}
		listing.Entries = append(listing.Entries, *entries[i])
	}
	return listing, nil
}

func (s *FS) readIndex() ([]manifest.Entry, error) {
	f, err := s.fsys.Open(manifest.IndexFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Store(errors.KindIO, manifest.IndexFile, "open discovery index", err)
	}
	defer f.Close()

	entries, err := manifest.ReadIndex(f)
	if err != nil {
		return nil, errors.Store(errors.KindIO, manifest.IndexFile, "unreadable discovery index", err)
	}
	return entries, nil
}

func (s *FS) read(c *candidate) (*Entry, error) {
	data, err := fs.ReadFile(s.fsys, c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && c.entry != nil {
			return nil, errors.Store(errors.KindIO, c.path, "listed in "+manifest.IndexFile+" but missing", err)
		}
		return nil, errors.Store(errors.KindIO, c.path, "read binary", err)
	}

	digest := Digest(data)
	if c.entry != nil && c.entry.SHA256 != "" && !strings.EqualFold(c.entry.SHA256, digest) {
		return nil, errors.New(errors.PhaseStore, errors.KindCorrupt).
			Source(c.path).
			Value(digest).
			Detail("sha256 mismatch: index pins %s", c.entry.SHA256).
			Build()
	}

	return Inspect(c.path, data, c.entry, digest)
}

// Inspect validates a binary and resolves its metadata. Sidecar metadata
// from sidecar, when non-nil, takes precedence over the embedded section.
func Inspect(p string, data []byte, sidecar *manifest.Entry, digest string) (*Entry, error) {
	scanned, err := wasm.Scan(data)
	if err != nil {
		return nil, errors.Store(errors.KindCorrupt, p, "invalid binary", err)
	}

	e := &Entry{Path: p, Binary: data, SHA256: digest}
	if sidecar != nil {
		e.Metadata = sidecar.Metadata
		return e, nil
	}

	meta, ok, err := manifest.Embedded(scanned)
	if err != nil {
		return nil, errors.Store(errors.KindCorrupt, p, "invalid embedded metadata", err)
	}
	if !ok {
		return nil, errors.Store(errors.KindCorrupt, p, "no metadata in index or "+manifest.SectionName+" section", nil)
	}
	e.Metadata = meta
	return e, nil
}

// Digest returns the hex sha256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Static is a fixed in-memory store.
type Static []Entry

// List returns a copy of the entries.
func (s Static) List(ctx context.Context) (Listing, error) {
	if err := ctx.Err(); err != nil {
		return Listing{}, errors.Canceled(errors.PhaseStore, "list", err)
	}
	return Listing{Entries: append([]Entry(nil), s...)}, nil
}
