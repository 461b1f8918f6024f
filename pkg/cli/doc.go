// Package cli implements the netlens command line: serve runs the monitor
// with its feed API and optional proxy, fetch performs one observed request,
// and version prints build information.
package cli
