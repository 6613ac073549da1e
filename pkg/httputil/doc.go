// Package httputil provides the JSON response helpers, request parsing and middleware
// shared by the query API.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, rows)
//	httputil.WriteBadRequest(w, "invalid date")
//	httputil.WriteServiceUnavailable(w, "no rollup snapshot yet")
//
// Every error body has the shape {"error": "..."}.
//
// # Request Parsing
//
//	id, ok := httputil.ParsePathStringOrError(w, r, "id")
//	from, to, ok := httputil.ParseQueryDateRange(w, r) // ?from=2024-01-01&to=2024-01-31
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
package httputil
