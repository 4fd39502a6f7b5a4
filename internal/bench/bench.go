// Package bench is the benchmark orchestrator: it fans latency probes and
// throughput measurements out across all nodes under two bounded worker
// pools, aggregates raw samples into robust statistics and merges
// partially-failing results into one ranked report.
package bench

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

// ControlClient is the slice of the proxy control API the prober needs.
// Implemented by mihomo.Client.
type ControlClient interface {
	// DelayTest measures one round-trip for the named node. Timeouts,
	// transport failures and error responses all surface as errors.
	DelayTest(ctx context.Context, nodeName, testURL string, timeout time.Duration) (float64, error)
}

// Worker routes outbound traffic through one selected node at a time.
// Each speed-pool slot owns exactly one Worker, so selections never race.
// Implemented by a mihomo instance plus its control client.
type Worker interface {
	// Select points the worker's tunnel at the named node.
	Select(ctx context.Context, nodeName string) error
	// HTTPClient returns a client whose requests egress through the
	// currently selected node.
	HTTPClient(timeout time.Duration) (*http.Client, error)
}

// Progress exposes live phase counters for the status server. All fields
// are updated atomically by the orchestrator.
type Progress struct {
	TotalNodes  atomic.Int64
	LatencyDone atomic.Int64
	SpeedTotal  atomic.Int64
	SpeedDone   atomic.Int64
	GeoDone     atomic.Int64
}

// ProgressSnapshot is a point-in-time copy of the counters.
type ProgressSnapshot struct {
	TotalNodes  int64 `json:"total_nodes"`
	LatencyDone int64 `json:"latency_done"`
	SpeedTotal  int64 `json:"speed_total"`
	SpeedDone   int64 `json:"speed_done"`
	GeoDone     int64 `json:"geo_done"`
}

// Snapshot copies the counters.
func (p *Progress) Snapshot() ProgressSnapshot {
	return ProgressSnapshot{
		TotalNodes:  p.TotalNodes.Load(),
		LatencyDone: p.LatencyDone.Load(),
		SpeedTotal:  p.SpeedTotal.Load(),
		SpeedDone:   p.SpeedDone.Load(),
		GeoDone:     p.GeoDone.Load(),
	}
}
