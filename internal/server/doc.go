// Package server provides HTTP routing, middleware, and the status endpoints served in watch mode.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation registers method patterns on [http.ServeMux].
//
// # Status Handler
//
// [StatusHandler] answers read-only JSON requests about the sync history:
//
//	GET /healthz      liveness
//	GET /status       scheduler passes, last outcome and next start
//	GET /runs         recorded runs, newest first (?user=, ?status=, ?limit=)
//	GET /runs/latest  most recent run (?user=)
//
// [Serve] runs the server until its context is cancelled.
package server
