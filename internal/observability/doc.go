// Package observability provides the zap logger builder and the Prometheus
// collectors for the provider manager.
//
// Metrics cover routed requests per backend and task type, fallbacks,
// exhausted routes, token and cost totals and backend health. All recording
// methods are safe on a nil *Metrics so callers can run with metrics disabled.
package observability
