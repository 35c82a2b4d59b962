package wasm

// WebAssembly binary format magic number and version.
const (
	// Magic is the WebAssembly binary magic number ("\0asm" in little-endian).
	Magic uint32 = 0x6D736100

	// Version is the supported WebAssembly binary format version.
	Version uint32 = 0x01
)

// Section IDs define the binary identifiers for each module section.
// Sections must appear in increasing order by ID (except custom sections).
const (
	SectionCustom    byte = 0  // Custom section (can appear anywhere)
	SectionType      byte = 1  // Type section (function signatures)
	SectionImport    byte = 2  // Import section
	SectionFunction  byte = 3  // Function section (type indices)
	SectionTable     byte = 4  // Table section
	SectionMemory    byte = 5  // Memory section
	SectionGlobal    byte = 6  // Global section
	SectionExport    byte = 7  // Export section
	SectionStart     byte = 8  // Start section
	SectionElement   byte = 9  // Element section
	SectionCode      byte = 10 // Code section (function bodies)
	SectionData      byte = 11 // Data section
	SectionDataCount byte = 12 // Data count section (bulk memory)
	SectionTag       byte = 13 // Tag section (exception handling)
)

// Import/Export descriptor kinds identify the type of imported or exported item.
const (
	KindFunc   byte = 0 // Function import/export
	KindTable  byte = 1 // Table import/export
	KindMemory byte = 2 // Memory import/export
	KindGlobal byte = 3 // Global import/export
	KindTag    byte = 4 // Tag import/export (exception handling)
)

// ValType represents a WebAssembly value type.
type ValType byte

// Value type encodings as defined in the WebAssembly binary format.
const (
	ValI32 ValType = 0x7F
	ValI64 ValType = 0x7E
	ValF32 ValType = 0x7D
	ValF64 ValType = 0x7C
)

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	default:
		return "unknown"
	}
}

// KindName returns the text format keyword for an import/export kind.
func KindName(kind byte) string {
	switch kind {
	case KindFunc:
		return "func"
	case KindTable:
		return "table"
	case KindMemory:
		return "memory"
	case KindGlobal:
		return "global"
	case KindTag:
		return "tag"
	default:
		return "unknown"
	}
}

// Function type and block type markers
const (
	FuncTypeByte  byte = 0x60
	BlockTypeVoid byte = 0x40
)

// Opcodes used by Asm
const (
	OpUnreachable   byte = 0x00
	OpNop           byte = 0x01
	OpBlock         byte = 0x02
	OpLoop          byte = 0x03
	OpBr            byte = 0x0C
	OpBrIf          byte = 0x0D
	OpReturn        byte = 0x0F
	OpEnd           byte = 0x0B
	OpCall          byte = 0x10
	OpDrop          byte = 0x1A
	OpLocalGet      byte = 0x20
	OpLocalSet      byte = 0x21
	OpLocalTee      byte = 0x22
	OpGlobalGet     byte = 0x23
	OpGlobalSet     byte = 0x24
	OpI32Load       byte = 0x28
	OpI32Store      byte = 0x36
	OpI32Const      byte = 0x41
	OpI64Const      byte = 0x42
	OpI32Add        byte = 0x6A
	OpI32Sub        byte = 0x6B
	OpI32And        byte = 0x71
	OpI64Or         byte = 0x84
	OpI64Shl        byte = 0x86
	OpI64ExtendI32U byte = 0xAD
)
