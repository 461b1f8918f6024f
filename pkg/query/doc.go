// Package query derives filtered views and aggregate statistics from event
// store snapshots without mutating them.
//
// Apply evaluates a Filter over a snapshot, ComputeStats summarizes one, and
// View keeps both current as the store, the filter and the ignore patterns
// change.
package query
