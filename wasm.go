package extensionhost

import "context"

// Operation exports every provider module implements.
const (
	ExportSearch  = "search"
	ExportLatest  = "latest"
	ExportDetail  = "detail"
	ExportChapter = "chapter"

	ExportMemory  = "memory"
	ExportAlloc   = "alloc"
	ExportDealloc = "dealloc"
)

// Operations lists the operation exports in call order of the bus.
var Operations = []string{ExportSearch, ExportLatest, ExportDetail, ExportChapter}

// HostModule is the import module name providers link against.
const HostModule = "tanoshi"

// Host imports available to guests.
const (
	ImportFetch = "fetch"
	ImportLog   = "log"
)

// Memory represents guest linear memory
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	Size() uint32
}

// Allocator allocates memory in guest linear memory
type Allocator interface {
	Alloc(ctx context.Context, size uint32) (uint32, error)
	Free(ctx context.Context, ptr, size uint32)
}

// HostCalls is the import table bound to one guest instance. Implementations
// must be safe for concurrent use by distinct instances.
type HostCalls interface {
	// Fetch performs a network request on behalf of the guest. The request
	// and response are encoded envelopes; transport failures are reported
	// inside the response, never as a host fault.
	Fetch(ctx context.Context, req []byte) []byte

	// Log records a guest diagnostic message.
	Log(ctx context.Context, level int32, msg string)
}

// Guest is one isolated provider instance. It is not safe for concurrent use;
// the pool hands it to one caller at a time.
type Guest interface {
	// Invoke calls an operation export with payload and returns a copy of
	// the response bytes.
	Invoke(ctx context.Context, export string, payload []byte) ([]byte, error)
	Close(ctx context.Context) error
}

// Module is a compiled provider binary that instances are created from.
type Module interface {
	Instantiate(ctx context.Context, host HostCalls) (Guest, error)
	Close(ctx context.Context) error
}
