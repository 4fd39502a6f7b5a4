package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/airport-bench/internal/metrics"
	"github.com/airport-bench/internal/stats"
	"github.com/airport-bench/internal/types"
	log "github.com/sirupsen/logrus"
)

// Coordinator drives the per-node phase sequence
// probe -> (dead | speed -> geo -> done) and converts every failure into
// a result. One node's failure never aborts another node's processing.
type Coordinator struct {
	prober *Prober
	speed  *SpeedTester
	geo    *Geolocator

	enableSpeed bool
	enableGeo   bool

	latencySem chan struct{}
	workers    chan Worker
	progress   *Progress
	metrics    *metrics.Collector
}

// Run benchmarks one node and always returns a NodeResult. Unexpected
// panics in any phase degrade into a dead/partial result with a
// diagnostic note instead of unwinding into the dispatch loop.
func (c *Coordinator) Run(ctx context.Context, node types.NodeDescriptor) (result types.NodeResult) {
	result = types.NodeResult{
		Node:     node,
		Status:   types.StatusDead,
		Latency:  types.LatencyStats{LossRate: 1.0},
		TestedAt: time.Now(),
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("node %q benchmark panicked: %v", node.NodeName, r)
			if result.Alive() {
				result.Status = types.StatusPartial
			}
			result.Error = fmt.Sprintf("internal error: %v", r)
		}
	}()

	// Phase: probing. The wide pool bounds how many nodes probe at once;
	// rounds within the node stay sequential inside Probe.
	c.latencySem <- struct{}{}
	samples := c.prober.Probe(ctx, node.NodeName)
	<-c.latencySem

	result.Latency = stats.Summarize(samples)
	c.progress.LatencyDone.Add(1)
	c.metrics.RecordProbe(result.Latency.LossRate)

	if result.Latency.MedianMs == nil {
		// All rounds lost. Speed and geolocation are skipped.
		return result
	}
	result.Status = types.StatusAlive

	if !c.enableSpeed && !c.enableGeo {
		return result
	}

	// Phase: speed testing and geolocation, on the narrow pool. Each slot
	// owns one routing worker, so selecting the node here cannot disturb
	// another slot's measurement.
	if c.enableSpeed {
		c.progress.SpeedTotal.Add(1)
	}
	w := <-c.workers
	defer func() { c.workers <- w }()

	if err := w.Select(ctx, node.NodeName); err != nil {
		log.Warnf("node %q: routing selection failed: %v", node.NodeName, err)
		result.Status = types.StatusPartial
		result.Error = fmt.Sprintf("select: %v", err)
		if c.enableSpeed {
			c.progress.SpeedDone.Add(1)
		}
		return result
	}

	partial := false

	if c.enableSpeed {
		speed := c.speed.Test(ctx, w)
		if speed.InternationalMbps == nil || speed.DomesticMbps == nil {
			partial = true
		}
		if speed.InternationalMbps != nil || speed.DomesticMbps != nil {
			result.Speed = speed
		}
		c.progress.SpeedDone.Add(1)
	}

	if c.enableGeo {
		result.Geo = c.geo.Lookup(ctx, w, node)
		if result.Geo == nil {
			partial = true
		}
		c.progress.GeoDone.Add(1)
	}

	if partial {
		result.Status = types.StatusPartial
	}
	return result
}
