// Package sinks implements progress consumers: structured logs, Prometheus
// collectors, a terminal progress bar and a Postgres run ledger. Each sink
// satisfies progress.Sink.
package sinks
