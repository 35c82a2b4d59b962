package bridge

import (
	"context"

	extensionhost "github.com/wippyai/extension-host"
	"github.com/wippyai/extension-host/errors"
)

// Search runs the search operation.
func Search(ctx context.Context, g extensionhost.Guest, params SearchParams) ([]CatalogEntry, error) {
	return call[[]CatalogEntry](ctx, g, extensionhost.ExportSearch, params)
}

// Latest runs the latest-updates operation.
func Latest(ctx context.Context, g extensionhost.Guest) ([]CatalogEntry, error) {
	return call[[]CatalogEntry](ctx, g, extensionhost.ExportLatest, struct{}{})
}

// Detail fetches full information for the manga at path.
func Detail(ctx context.Context, g extensionhost.Guest, path string) (CatalogEntry, error) {
	return call[CatalogEntry](ctx, g, extensionhost.ExportDetail, PathRequest{Path: path})
}

// ChapterPages fetches the page list of the chapter at path.
func ChapterPages(ctx context.Context, g extensionhost.Guest, path string) (Chapter, error) {
	return call[Chapter](ctx, g, extensionhost.ExportChapter, PathRequest{Path: path})
}

func call[T any](ctx context.Context, g extensionhost.Guest, op string, req any) (T, error) {
	var zero T

	payload, err := Marshal(req)
	if err != nil {
		return zero, errors.Malformed(errors.PhaseEncode, op, "encode request", err)
	}

	resp, err := g.Invoke(ctx, op, payload)
	if err != nil {
		return zero, classify(ctx, op, err)
	}

	var res Result
	if err := Unmarshal(resp, &res); err != nil {
		return zero, errors.Malformed(errors.PhaseDecode, op, "undecodable result envelope", err)
	}
	if res.Error != "" {
		return zero, errors.Guest(op, res.Error)
	}
	if len(res.OK) == 0 {
		return zero, errors.Malformed(errors.PhaseDecode, op, "result envelope has neither ok nor error", nil)
	}

	var out T
	if err := Unmarshal(res.OK, &out); err != nil {
		return zero, errors.Malformed(errors.PhaseDecode, op, "undecodable result payload", err)
	}
	return out, nil
}

// classify gives an unclassified guest failure a kind. Errors already
// carrying a kind pass through.
func classify(ctx context.Context, op string, err error) error {
	if errors.KindOf(err) != "" {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errors.Timeout(op, err)
	case errors.Is(err, context.Canceled):
		return errors.Canceled(errors.PhaseCall, op, err)
	}
	return errors.Trapped(op, err)
}

// Discard reports whether an instance that returned err must not be reused:
// after a trap, a timeout, or a malformed exchange its state is unknown.
func Discard(err error) bool {
	switch errors.KindOf(err) {
	case errors.KindTrapped, errors.KindTimeout, errors.KindMalformed, errors.KindCanceled:
		return true
	}
	return false
}
