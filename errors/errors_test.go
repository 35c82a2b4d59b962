package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:    PhaseBus,
				Kind:     KindProviderFailure,
				Provider: 7,
				Op:       "search",
				Source:   "library/a.wasm",
				Detail:   "boom",
			},
			contains: []string{"[bus]", "provider_failure", "provider 7", "op search", "library/a.wasm", "boom"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDecode,
				Kind:  KindMalformed,
			},
			contains: []string{"[decode]", "malformed"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseCall,
				Kind:   KindTrapped,
				Detail: "guest trapped",
				Cause:  errors.New("unreachable"),
			},
			contains: []string{"[call]", "trapped", "guest trapped", "caused by", "unreachable"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(PhaseLoad, KindIO, cause, "read")

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if err.Unwrap() != cause {
		t.Error("Unwrap should return the cause")
	}
}

func TestError_Is(t *testing.T) {
	err := UnknownProvider(3, "disabled")

	if !errors.Is(err, ErrUnknownProvider) {
		t.Error("sentinel without phase should match on kind")
	}
	if !errors.Is(err, &Error{Phase: PhaseBus, Kind: KindUnknownProvider}) {
		t.Error("phase and kind should match")
	}
	if errors.Is(err, &Error{Phase: PhaseStore, Kind: KindUnknownProvider}) {
		t.Error("different phase should not match")
	}
	if errors.Is(err, ErrProviderFailure) {
		t.Error("different kind should not match")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("eof")
	err := New(PhaseStore, KindCorrupt).
		Source("library/x.wasm").
		Provider(2).
		Op("scan").
		Value(12).
		Detail("section %d truncated", 3).
		Cause(cause).
		Build()

	if err.Phase != PhaseStore || err.Kind != KindCorrupt {
		t.Errorf("phase/kind = %s/%s", err.Phase, err.Kind)
	}
	if err.Detail != "section 3 truncated" {
		t.Errorf("detail = %q", err.Detail)
	}
	if err.Source != "library/x.wasm" || err.Provider != 2 || err.Op != "scan" || err.Value != 12 {
		t.Errorf("unexpected fields: %+v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not retained")
	}
}

func TestKindHelpers(t *testing.T) {
	inner := Trapped("search", errors.New("unreachable"))
	outer := ProviderFailure(1, "search", inner)
	wrapped := fmt.Errorf("handler: %w", outer)

	if got := KindOf(wrapped); got != KindProviderFailure {
		t.Errorf("KindOf = %s, want provider_failure", got)
	}
	if got := Reason(wrapped); got != KindTrapped {
		t.Errorf("Reason = %s, want trapped", got)
	}
	if !HasKind(wrapped, KindTrapped) {
		t.Error("HasKind should see the inner trapped error")
	}
	if HasKind(wrapped, KindTimeout) {
		t.Error("HasKind should not report timeout")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("plain error has no kind")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		err   *Error
		phase Phase
		kind  Kind
	}{
		{Store(KindIO, "a", "read", nil), PhaseStore, KindIO},
		{Incompatible(3, "major mismatch"), PhaseCompat, KindIncompatible},
		{Malformed(PhaseDecode, "latest", "bad", nil), PhaseDecode, KindMalformed},
		{Timeout("chapter", nil), PhaseCall, KindTimeout},
		{Guest("detail", "not found"), PhaseCall, KindGuest},
		{Transport("http://x", nil), PhaseHost, KindTransport},
		{Canceled(PhasePool, "acquire", nil), PhasePool, KindCanceled},
		{Closed(PhasePool, "pool"), PhasePool, KindClosed},
		{NotFound(PhaseRegistry, "provider", "1"), PhaseRegistry, KindNotFound},
		{InvalidInput(PhaseConfig, "x"), PhaseConfig, KindInvalidInput},
		{Instantiation("a.wasm", nil), PhasePool, KindInstantiation},
	}
	for _, tt := range tests {
		if tt.err.Phase != tt.phase || tt.err.Kind != tt.kind {
			t.Errorf("%v: got %s/%s, want %s/%s", tt.err, tt.err.Phase, tt.err.Kind, tt.phase, tt.kind)
		}
	}
}
