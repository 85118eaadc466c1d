// Package middleware wraps job handler execution.
//
// A [Middleware] receives the leased job and the next step of the chain.
// [Chain] composes them; the first middleware is the outermost:
//
//	chain := middleware.Chain(
//	    middleware.Recover(logger),
//	    middleware.Logging(logger),
//	    middleware.Timeout(logger, registry.TimeoutOf),
//	)
//
// Built in:
//
//   - [Recover] turns panics into fatal handler errors
//   - [Timeout] applies the per-type budget to the handler context
//   - [Logging] logs each attempt and its outcome
//   - [Tracing] wraps each attempt in an OpenTelemetry span
//   - [Metrics] records attempt duration and outcome counters
package middleware
