// Package errors provides structured error types for the extension host.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the provider id, operation, artifact source, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseStore, errors.KindCorrupt).
//		Source("library/mangasee.wasm").
//		Detail("section 10 overruns binary").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.UnknownProvider(3, "provider is disabled")
//	err := errors.ProviderFailure(1, "search", errors.Trapped("search", cause))
//
// All errors implement the standard error interface and support errors.Is/As.
// The exported sentinels match on Kind alone:
//
//	if errors.Is(err, errors.ErrUnknownProvider) { ... }
package errors
