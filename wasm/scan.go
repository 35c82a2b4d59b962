package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/extension-host/wasm/internal/binary"
)

var (
	// ErrNotWasm is returned when the magic number is missing.
	ErrNotWasm = errors.New("not a wasm module")

	// ErrTruncated is returned when the binary ends inside a header or section.
	ErrTruncated = errors.New("truncated wasm binary")

	// ErrUnsupportedVersion is returned for binaries that are not core modules
	// of version 1, including component model binaries.
	ErrUnsupportedVersion = errors.New("unsupported wasm binary version")
)

// Section locates one section inside a binary.
type Section struct {
	Name  string // custom sections only
	Start int    // offset of the section id byte
	End   int    // offset one past the section payload
	ID    byte
}

// Import is one entry of the import section.
type Import struct {
	Module string
	Name   string
	Kind   byte
}

// Export is one entry of the export section.
type Export struct {
	Name  string
	Index uint32
	Kind  byte
}

// CustomSection is a named custom section payload.
type CustomSection struct {
	Name string
	Data []byte
}

// Summary is the result of scanning a binary.
type Summary struct {
	Sections []Section
	Imports  []Import
	Exports  []Export
	Customs  []CustomSection
}

// Custom returns the payload of the last custom section with the given name.
func (s *Summary) Custom(name string) ([]byte, bool) {
	for i := len(s.Customs) - 1; i >= 0; i-- {
		if s.Customs[i].Name == name {
			return s.Customs[i].Data, true
		}
	}
	return nil, false
}

// HasExport reports whether the module exports name with the given kind.
func (s *Summary) HasExport(name string, kind byte) bool {
	for _, e := range s.Exports {
		if e.Name == name && e.Kind == kind {
			return true
		}
	}
	return false
}

// IsWasm reports whether data starts with the core module header.
func IsWasm(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	r := binary.NewReader(data)
	magic, _ := r.ReadU32LE()
	version, _ := r.ReadU32LE()
	return magic == Magic && version == Version
}

// Scan validates the header and section framing of a core module and collects
// its imports, exports and custom sections. Custom section payloads alias data.
func Scan(data []byte) (*Summary, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: %d byte header", ErrTruncated, len(data))
	}
	r := binary.NewReader(data)
	magic, _ := r.ReadU32LE()
	if magic != Magic {
		return nil, ErrNotWasm
	}
	version, _ := r.ReadU32LE()
	if version != Version {
		return nil, fmt.Errorf("%w: 0x%08x", ErrUnsupportedVersion, version)
	}

	sum := &Summary{}
	seen := make(map[byte]bool)
	for r.Len() > 0 {
		start := r.Position()
		id, _ := r.ReadByte()
		size, err := r.ReadU32()
		if err != nil {
			return nil, fmt.Errorf("%w: section header: %v", ErrTruncated, err)
		}
		if int(size) > r.Len() {
			return nil, fmt.Errorf("%w: section %d declares %d bytes, %d remain", ErrTruncated, id, size, r.Len())
		}
		payload, _ := r.ReadBytes(int(size))
		sec := Section{ID: id, Start: start, End: r.Position()}

		switch {
		case id == SectionCustom:
			pr := binary.NewReader(payload)
			name, err := pr.ReadName()
			if err != nil {
				return nil, fmt.Errorf("custom section name: %w", err)
			}
			sec.Name = name
			rest, _ := pr.ReadBytes(pr.Len())
			sum.Customs = append(sum.Customs, CustomSection{Name: name, Data: rest})
		case id > SectionTag:
			return nil, fmt.Errorf("unknown section id %d at offset %d", id, start)
		case seen[id]:
			return nil, fmt.Errorf("duplicate section id %d at offset %d", id, start)
		case id == SectionImport:
			imports, err := scanImports(payload)
			if err != nil {
				return nil, fmt.Errorf("import section: %w", err)
			}
			sum.Imports = imports
		case id == SectionExport:
			exports, err := scanExports(payload)
			if err != nil {
				return nil, fmt.Errorf("export section: %w", err)
			}
			sum.Exports = exports
		}
		if id != SectionCustom {
			seen[id] = true
		}
		sum.Sections = append(sum.Sections, sec)
	}
	return sum, nil
}

func scanImports(payload []byte) ([]Import, error) {
	r := binary.NewReader(payload)
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	imports := make([]Import, 0, count)
	for i := uint32(0); i < count; i++ {
		mod, err := r.ReadName()
		if err != nil {
			return nil, err
		}
		name, err := r.ReadName()
		if err != nil {
			return nil, err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if err := skipImportDesc(r, kind); err != nil {
			return nil, fmt.Errorf("import %s.%s: %w", mod, name, err)
		}
		imports = append(imports, Import{Module: mod, Name: name, Kind: kind})
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes", r.Len())
	}
	return imports, nil
}

func skipImportDesc(r *binary.Reader, kind byte) error {
	switch kind {
	case KindFunc:
		_, err := r.ReadU32()
		return err
	case KindTable:
		if _, err := r.ReadByte(); err != nil {
			return err
		}
		return skipLimits(r)
	case KindMemory:
		return skipLimits(r)
	case KindGlobal:
		if _, err := r.ReadByte(); err != nil {
			return err
		}
		_, err := r.ReadByte()
		return err
	case KindTag:
		if _, err := r.ReadByte(); err != nil {
			return err
		}
		_, err := r.ReadU32()
		return err
	default:
		return fmt.Errorf("unknown import kind %d", kind)
	}
}

func skipLimits(r *binary.Reader) error {
	flags, err := r.ReadByte()
	if err != nil {
		return err
	}
	if err := r.SkipLEB(); err != nil {
		return err
	}
	if flags&0x01 != 0 {
		return r.SkipLEB()
	}
	return nil
}

func scanExports(payload []byte) ([]Export, error) {
	r := binary.NewReader(payload)
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	exports := make([]Export, 0, count)
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return nil, err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		idx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		exports = append(exports, Export{Name: name, Kind: kind, Index: idx})
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes", r.Len())
	}
	return exports, nil
}

// WithCustomSection returns a copy of data with every custom section called
// name removed and a new one holding payload appended at the end.
func WithCustomSection(data []byte, name string, payload []byte) ([]byte, error) {
	sum, err := Scan(data)
	if err != nil {
		return nil, err
	}
	w := binary.NewWriter()
	w.WriteBytes(data[:8])
	for _, sec := range sum.Sections {
		if sec.ID == SectionCustom && sec.Name == name {
			continue
		}
		w.WriteBytes(data[sec.Start:sec.End])
	}
	writeCustom(w, name, payload)
	return w.Bytes(), nil
}

func writeCustom(w *binary.Writer, name string, payload []byte) {
	sec := binary.NewWriter()
	sec.WriteName(name)
	sec.WriteBytes(payload)
	writeSection(w, SectionCustom, sec.Bytes())
}

func writeSection(w *binary.Writer, id byte, payload []byte) {
	w.Byte(id)
	w.WriteVec(payload)
}
