// Package netevent defines the canonical record of an observed network call
// and the normalizer that builds it from raw lifecycle events.
//
// # Core Types
//
// NetworkEvent is the central type: one record per logical request, created
// pending when the request is dispatched and completed exactly once when a
// response arrives or the call fails.
//
// Lifecycle is the raw event emitted by an interceptor. Different calling
// conventions (HTTP round trips, gRPC unary calls) all emit Lifecycle values,
// and the Normalizer folds them into NetworkEvent records.
//
// Body is a tagged union of a decoded JSON value, raw text, or a binary
// marker carrying only size and content type. Body decoding never fails: a
// payload that is not valid JSON is kept as text.
//
// # Usage
//
//	n := netevent.NewNormalizer(logger)
//	ev, ok := n.Apply(lifecycle)
//	if ok {
//	    store.Append(ev)
//	}
//
// # Package Design
//
// This is a leaf package with no internal dependencies, allowing it to be
// imported by the interceptor, the store and the query engine alike.
package netevent
