// Package bridge carries typed requests and results across the host-guest
// boundary.
//
// Every operation sends one CBOR request and receives one CBOR Result
// envelope:
//
//	search   SearchParams          -> Result{ok: []CatalogEntry}
//	latest   {}                    -> Result{ok: []CatalogEntry}
//	detail   PathRequest{path}     -> Result{ok: CatalogEntry}
//	chapter  PathRequest{path}     -> Result{ok: Chapter}
//
// A Result with an error string becomes errors.KindGuest. Bytes that do not
// decode become errors.KindMalformed. Failures from the sandbox keep the kind
// the engine gave them (trapped, timeout).
//
// Host owns the guest's imports. Fetch requests are checked against the
// scheme allow-list, rate limited per provider, bounded in time and body
// size, and any failure is returned to the guest inside FetchResponse.Error.
package bridge
