package errors

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseStore    Phase = "store"    // module binary store scan
	PhaseCompat   Phase = "compat"   // interface version check
	PhaseLoad     Phase = "load"     // compile and register providers
	PhaseEncode   Phase = "encode"   // host to guest envelope
	PhaseDecode   Phase = "decode"   // guest to host envelope
	PhaseCall     Phase = "call"     // guest execution
	PhaseHost     Phase = "host"     // host imports called by the guest
	PhasePool     Phase = "pool"     // instance pool
	PhaseRegistry Phase = "registry" // registry mutation and lookup
	PhaseBus      Phase = "bus"      // public dispatch
	PhaseConfig   Phase = "config"   // configuration
)

// Kind categorizes the error
type Kind string

const (
	KindIO              Kind = "io"
	KindCorrupt         Kind = "corrupt"
	KindIncompatible    Kind = "incompatible"
	KindMalformed       Kind = "malformed"
	KindTrapped         Kind = "trapped"
	KindTimeout         Kind = "timeout"
	KindGuest           Kind = "guest"
	KindTransport       Kind = "transport"
	KindUnknownProvider Kind = "unknown_provider"
	KindProviderFailure Kind = "provider_failure"
	KindCanceled        Kind = "canceled"
	KindClosed          Kind = "closed"
	KindDuplicate       Kind = "duplicate"
	KindNotFound        Kind = "not_found"
	KindInvalidInput    Kind = "invalid_input"
	KindInstantiation   Kind = "instantiation"
	KindUnavailable     Kind = "unavailable"
)

// Sentinels for errors.Is. They match any phase.
var (
	ErrUnknownProvider = &Error{Kind: KindUnknownProvider}
	ErrProviderFailure = &Error{Kind: KindProviderFailure}
	ErrMalformed       = &Error{Kind: KindMalformed}
	ErrTrapped         = &Error{Kind: KindTrapped}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrCanceled        = &Error{Kind: KindCanceled}
	ErrClosed          = &Error{Kind: KindClosed}
	ErrIncompatible    = &Error{Kind: KindIncompatible}
)

// Error is the structured error type used throughout the host
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Source   string // artifact path or export name
	Op       string
	Detail   string
	Provider int64
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Provider != 0 {
		b.WriteString(" provider ")
		b.WriteString(strconv.FormatInt(e.Provider, 10))
	}
	if e.Op != "" {
		b.WriteString(" op ")
		b.WriteString(e.Op)
	}
	if e.Source != "" {
		b.WriteString(" at ")
		b.WriteString(e.Source)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Phase matches on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	return e.Kind == t.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Provider sets the provider id
func (b *Builder) Provider(id int64) *Builder {
	b.err.Provider = id
	return b
}

// Op sets the operation name
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

// Source sets the artifact path or export name
func (b *Builder) Source(src string) *Builder {
	b.err.Source = src
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Is calls the standard library errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As calls the standard library errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// KindOf returns the kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HasKind reports whether any *Error in err's chain has kind k.
func HasKind(err error, k Kind) bool {
	return errors.Is(err, &Error{Kind: k})
}

// Reason returns the kind of the innermost *Error in err's chain.
// For a provider failure this is the bridge-level cause (trapped, timeout, ...).
func Reason(err error) Kind {
	var kind Kind
	for err != nil {
		if e, ok := err.(*Error); ok {
			kind = e.Kind
		}
		err = errors.Unwrap(err)
	}
	return kind
}

// Convenience constructors for common error patterns

// Store creates a store error for one artifact
func Store(kind Kind, source, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseStore,
		Kind:   kind,
		Source: source,
		Detail: detail,
		Cause:  cause,
	}
}

// Incompatible creates an interface version rejection
func Incompatible(provider int64, reason string) *Error {
	return &Error{
		Phase:    PhaseCompat,
		Kind:     KindIncompatible,
		Provider: provider,
		Detail:   reason,
	}
}

// Malformed creates a malformed-buffer error
func Malformed(phase Phase, op, detail string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindMalformed,
		Op:     op,
		Detail: detail,
		Cause:  cause,
	}
}

// Trapped creates a guest trap error
func Trapped(op string, cause error) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindTrapped,
		Op:     op,
		Detail: "guest trapped",
		Cause:  cause,
	}
}

// Timeout creates a call timeout error
func Timeout(op string, cause error) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindTimeout,
		Op:     op,
		Detail: "call deadline exceeded",
		Cause:  cause,
	}
}

// Guest creates an error reported by the provider itself
func Guest(op, msg string) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindGuest,
		Op:     op,
		Detail: msg,
	}
}

// Transport creates a network capability failure
func Transport(url string, cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindTransport,
		Source: url,
		Detail: "fetch failed",
		Cause:  cause,
	}
}

// UnknownProvider creates an unknown or disabled provider error
func UnknownProvider(provider int64, detail string) *Error {
	return &Error{
		Phase:    PhaseBus,
		Kind:     KindUnknownProvider,
		Provider: provider,
		Detail:   detail,
	}
}

// ProviderFailure wraps a call-scoped failure for the caller
func ProviderFailure(provider int64, op string, cause error) *Error {
	return &Error{
		Phase:    PhaseBus,
		Kind:     KindProviderFailure,
		Provider: provider,
		Op:       op,
		Cause:    cause,
	}
}

// Canceled creates a caller cancellation error
func Canceled(phase Phase, op string, cause error) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindCanceled,
		Op:    op,
		Cause: cause,
	}
}

// Closed creates a use-after-close error
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s is closed", what),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Instantiation creates an instantiation error
func Instantiation(source string, cause error) *Error {
	return &Error{
		Phase:  PhasePool,
		Kind:   KindInstantiation,
		Source: source,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
