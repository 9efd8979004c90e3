// Package metrics builds the run registry and pushes it to a Prometheus
// Pushgateway once a batch run ends.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"
)

const pushTimeout = 10 * time.Second

// NewRegistry returns a registry carrying the process collectors. Harvest
// collectors are added by the progress sinks.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Pusher sends a gatherer to a Pushgateway under a fixed job name.
type Pusher struct {
	url      string
	job      string
	gatherer prometheus.Gatherer
	client   *http.Client
}

// NewPusher returns nil when url is empty; a nil Pusher's Push is a no-op.
func NewPusher(url, job string, gatherer prometheus.Gatherer) *Pusher {
	if url == "" {
		return nil
	}
	return &Pusher{
		url:      url,
		job:      job,
		gatherer: gatherer,
		client:   &http.Client{Timeout: pushTimeout},
	}
}

// Push replaces the job's metric group on the gateway. The instance label
// is the run ID so concurrent runs do not overwrite each other.
func (p *Pusher) Push(ctx context.Context, runID string) error {
	if p == nil {
		return nil
	}
	pusher := push.New(p.url, p.job).
		Gatherer(p.gatherer).
		Client(p.client)
	if runID != "" {
		pusher = pusher.Grouping("instance", runID)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", p.url, err)
	}
	return nil
}
