// Package api exposes a small HTTP surface while a harvest runs: health,
// Prometheus metrics and a JSON snapshot of run progress.
package api
