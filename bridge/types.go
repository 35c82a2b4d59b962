package bridge

import (
	"github.com/fxamacker/cbor/v2"
)

// SearchParams is the search request. Fields are passed through to the
// catalog site as given; an empty field means the site default.
type SearchParams struct {
	Keyword   string `cbor:"keyword" json:"keyword"`
	Page      string `cbor:"page" json:"page"`
	SortBy    string `cbor:"sort_by" json:"sort_by"`
	SortOrder string `cbor:"sort_order" json:"sort_order"`
}

// CatalogEntry is one manga as reported by a provider. Latest and search
// results usually fill only a subset of the fields.
type CatalogEntry struct {
	Title        string   `cbor:"title" json:"title"`
	Author       string   `cbor:"author" json:"author"`
	Genres       []string `cbor:"genres" json:"genres"`
	Status       string   `cbor:"status" json:"status"`
	Description  string   `cbor:"description" json:"description"`
	SourceURL    string   `cbor:"source_url" json:"source_url"`
	ThumbnailURL string   `cbor:"thumbnail_url" json:"thumbnail_url"`
	ChapterRefs  []string `cbor:"chapter_refs" json:"chapter_refs"`
}

// Chapter is the ordered list of page image locations.
type Chapter struct {
	Pages []string `cbor:"pages" json:"pages"`
}

// PathRequest addresses a manga or chapter by its provider-relative path.
type PathRequest struct {
	Path string `cbor:"path"`
}

// FetchRequest is what a guest hands to the fetch import.
type FetchRequest struct {
	Headers map[string][]string `cbor:"headers,omitempty"`
	Method  string              `cbor:"method,omitempty"`
	URL     string              `cbor:"url"`
	Body    []byte              `cbor:"body,omitempty"`
}

// FetchResponse is what the fetch import hands back. Error is set, and the
// other fields are empty, when the request could not be performed.
type FetchResponse struct {
	Headers map[string][]string `cbor:"headers,omitempty"`
	Error   string              `cbor:"error,omitempty"`
	Body    []byte              `cbor:"body,omitempty"`
	Status  int                 `cbor:"status"`
}

// Result is the envelope every operation returns: either an ok payload or a
// provider-reported error message.
type Result struct {
	OK    cbor.RawMessage `cbor:"ok,omitempty"`
	Error string          `cbor:"error,omitempty"`
}
