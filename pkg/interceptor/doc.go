// Package interceptor observes outbound calls made through instrumented
// clients and emits lifecycle events for each of them.
//
// An Interceptor never changes the traffic it watches. HTTP calls are
// observed by an http.RoundTripper wrapper; gRPC unary calls by a client
// interceptor. Both forward every call unchanged to the underlying
// implementation and report a request event before dispatch and exactly one
// terminal (response or error) event after completion.
//
// # Lifecycle
//
// The Interceptor is an explicitly constructed object owned by the host's
// composition root. Start activates observation and swaps the transports of
// attached clients; Stop restores the exact transports saved by Start.
// Calling Start while active, or Stop while inactive, logs a warning and does
// nothing.
//
//	ic := interceptor.New(interceptor.Options{Logger: logger})
//	ic.Attach(http.DefaultClient)
//	unsubscribe := ic.AddListener(func(l netevent.Lifecycle) { ... })
//	ic.Start()
//	defer ic.Stop()
//
// # Filtering
//
// Requests whose host and path match a built-in infrastructure glob (bundler,
// symbolication, debug endpoints) are forwarded without being observed.
package interceptor
