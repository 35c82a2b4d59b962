// Package manifest defines provider metadata and the discovery index.
//
// Metadata reaches the host either from an index.json sidecar next to the
// library directory or from a custom section embedded in the binary.
package manifest

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/coreos/go-semver/semver"
	"github.com/goccy/go-json"

	"github.com/wippyai/extension-host/compat"
	"github.com/wippyai/extension-host/wasm"
)

const (
	// SectionName is the custom section holding embedded JSON metadata.
	SectionName = "tanoshi.provider"

	// IndexFile is the discovery manifest file name under the store root.
	IndexFile = "index.json"

	// LibraryDir holds provider binaries under the store root.
	LibraryDir = "library"
)

// Metadata describes a provider.
type Metadata struct {
	Name       string `json:"name" yaml:"name"`
	Version    string `json:"version" yaml:"version"`
	LibVersion string `json:"lib_version" yaml:"lib_version"`
	Icon       string `json:"icon" yaml:"icon"`
	ID         int64  `json:"id" yaml:"id"`
}

// Validate checks required fields and the provider version. LibVersion is
// left to the compatibility check so that a provider declaring an unusable
// interface is still listed, disabled.
func (m Metadata) Validate() error {
	if m.ID <= 0 {
		return fmt.Errorf("provider id must be positive, got %d", m.ID)
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("provider %d has no name", m.ID)
	}
	if _, err := m.SemVer(); err != nil {
		return fmt.Errorf("provider %d version: %w", m.ID, err)
	}
	return nil
}

// Interface parses LibVersion.
func (m Metadata) Interface() (compat.Version, error) {
	v, err := compat.ParseVersion(m.LibVersion)
	if err != nil {
		return compat.Version{}, fmt.Errorf("provider %d lib_version: %w", m.ID, err)
	}
	return v, nil
}

// SemVer parses the provider's own version. A bare major.minor is accepted.
func (m Metadata) SemVer() (*semver.Version, error) {
	v := strings.TrimPrefix(strings.TrimSpace(m.Version), "v")
	if strings.Count(v, ".") == 1 {
		v += ".0"
	}
	return semver.NewVersion(v)
}

// Entry is one element of index.json.
type Entry struct {
	Path string `json:"path"`
	Metadata
	SHA256 string `json:"sha256,omitempty"`
}

// LibraryPath returns the index path for a provider binary name.
func LibraryPath(name string) string {
	return path.Join(LibraryDir, name+".wasm")
}

// ReadIndex decodes an index.json document.
func ReadIndex(r io.Reader) ([]Entry, error) {
	var entries []Entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", IndexFile, err)
	}
	for i, e := range entries {
		if e.Path == "" {
			return nil, fmt.Errorf("%s entry %d has no path", IndexFile, i)
		}
	}
	return entries, nil
}

// WriteIndex encodes entries as an index.json document.
func WriteIndex(w io.Writer, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// ParseSection decodes an embedded metadata payload.
func ParseSection(payload []byte) (Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(payload, &m); err != nil {
		return Metadata{}, fmt.Errorf("decode %s section: %w", SectionName, err)
	}
	return m, nil
}

// EncodeSection encodes metadata as an embedded section payload.
func EncodeSection(m Metadata) ([]byte, error) {
	return json.Marshal(m)
}

// Embedded returns the metadata embedded in a scanned binary.
// ok is false when the binary carries no metadata section.
func Embedded(sum *wasm.Summary) (m Metadata, ok bool, err error) {
	payload, ok := sum.Custom(SectionName)
	if !ok {
		return Metadata{}, false, nil
	}
	m, err = ParseSection(payload)
	return m, true, err
}

// Embed returns a copy of binary with m stored in its metadata section.
func Embed(binary []byte, m Metadata) ([]byte, error) {
	payload, err := EncodeSection(m)
	if err != nil {
		return nil, err
	}
	return wasm.WithCustomSection(binary, SectionName, payload)
}
