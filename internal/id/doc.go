// Package id provides identifier generation for captured network events.
//
// Event identifiers combine a client-kind prefix with a monotonically
// increasing counter encoded in base36 (for example "http-1a", "grpc-1b").
// The counter is shared across prefixes, so identifiers stay unique for the
// lifetime of a Sequence without any coordination between callers.
package id
