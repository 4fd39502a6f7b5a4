package bench

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/airport-bench/internal/config"
	"github.com/airport-bench/internal/geocache"
	"github.com/airport-bench/internal/metrics"
	"github.com/airport-bench/internal/source"
	"github.com/airport-bench/internal/stats"
	"github.com/airport-bench/internal/types"
	log "github.com/sirupsen/logrus"
)

// Orchestrator dispatches every node through the coordinator under two
// bounded pools and assembles the final ranked report.
type Orchestrator struct {
	opts     *config.Options
	coord    *Coordinator
	progress *Progress
	metrics  *metrics.Collector
}

// NewOrchestrator wires the pools. The latency pool admits opts.Concurrency
// concurrent probers; the speed pool is exactly the supplied workers, one
// slot per routing worker.
func NewOrchestrator(
	opts *config.Options,
	ctrl ControlClient,
	workers []Worker,
	cache geocache.Store,
	collector *metrics.Collector,
	progress *Progress,
) *Orchestrator {
	workerCh := make(chan Worker, len(workers))
	for _, w := range workers {
		workerCh <- w
	}

	coord := &Coordinator{
		prober:      NewProber(ctrl, opts.Probe),
		speed:       NewSpeedTester(opts.Speed, collector),
		geo:         NewGeolocator(opts.Geo, cache),
		enableSpeed: !opts.NoSpeed,
		enableGeo:   !opts.NoGeo,
		latencySem:  make(chan struct{}, opts.Concurrency),
		workers:     workerCh,
		progress:    progress,
		metrics:     collector,
	}

	return &Orchestrator{
		opts:     opts,
		coord:    coord,
		progress: progress,
		metrics:  collector,
	}
}

// Run benchmarks all nodes and returns the ranked report. Exactly one
// result is produced per dispatched descriptor; a failed node yields a
// dead result rather than disappearing. Context cancellation stops the
// dispatch loop; nodes already in flight drain into the report.
func (o *Orchestrator) Run(ctx context.Context, nodes []types.NodeDescriptor, sourceStats []source.Stats) (*types.BenchmarkReport, error) {
	if err := source.ValidateUnique(nodes); err != nil {
		return nil, err
	}

	start := time.Now()
	o.progress.TotalNodes.Store(int64(len(nodes)))
	log.Infof("Benchmarking %d nodes: concurrency=%d speed-workers=%d rounds=%d",
		len(nodes), o.opts.Concurrency, o.opts.SpeedWorkers, o.opts.Probe.Rounds)

	results := make([]types.NodeResult, 0, len(nodes))
	var mu sync.Mutex
	var wg sync.WaitGroup

	dispatched := 0
	for _, node := range nodes {
		if ctx.Err() != nil {
			log.Warnf("Run cancelled after dispatching %d/%d nodes, draining in-flight work", dispatched, len(nodes))
			break
		}
		dispatched++
		wg.Add(1)
		go func(n types.NodeDescriptor) {
			defer wg.Done()
			res := o.coord.Run(ctx, n)

			mu.Lock()
			results = append(results, res)
			mu.Unlock()

			o.metrics.RecordNodeResult(string(res.Status))
		}(node)
	}
	wg.Wait()

	alive := 0
	for _, r := range results {
		if r.Alive() {
			alive++
		}
	}
	log.Infof("Benchmark complete: %d/%d alive in %v", alive, len(results), time.Since(start))

	sorted := SortResults(results, o.opts.SortBy, o.opts.FilterDead)

	return &types.BenchmarkReport{
		Nodes:    sorted,
		Sources:  aggregateSources(results, sourceStats),
		Options:  o.runOptions(),
		TestedAt: start,
	}, nil
}

func (o *Orchestrator) runOptions() types.RunOptions {
	return types.RunOptions{
		Concurrency:  o.opts.Concurrency,
		SpeedWorkers: o.opts.SpeedWorkers,
		Rounds:       o.opts.Probe.Rounds,
		SpeedEnabled: !o.opts.NoSpeed,
		GeoEnabled:   !o.opts.NoGeo,
		SortBy:       o.opts.SortBy,
		FilterDead:   o.opts.FilterDead,
	}
}

// SortResults orders results by the requested key. Dead nodes sort last
// regardless of key, or are excluded when filterDead is set. Name sorting
// is case-sensitive byte-wise lexicographic. Speed sorts descending using
// the international value, falling back to domestic; nodes without speed
// data sort last among the alive.
func SortResults(results []types.NodeResult, sortBy string, filterDead bool) []types.NodeResult {
	out := make([]types.NodeResult, 0, len(results))
	for _, r := range results {
		if filterDead && !r.Alive() {
			continue
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := &out[i], &out[j]
		if a.Alive() != b.Alive() {
			return a.Alive()
		}
		if !a.Alive() {
			return false
		}
		switch sortBy {
		case "name":
			return a.Node.NodeName < b.Node.NodeName
		case "speed":
			av, aok := a.SortSpeed()
			bv, bok := b.SortSpeed()
			if aok != bok {
				return aok
			}
			return av > bv
		case "p95":
			return derefInf(a.Latency.P95Ms) < derefInf(b.Latency.P95Ms)
		default: // latency
			return derefInf(a.Latency.MedianMs) < derefInf(b.Latency.MedianMs)
		}
	})
	return out
}

func derefInf(v *float64) float64 {
	if v == nil {
		return 1e18
	}
	return *v
}

// aggregateSources computes per-airport statistics: alive rate, median of
// per-node medians, median of per-node P95s, mean jitter and mean speeds.
func aggregateSources(results []types.NodeResult, sourceStats []source.Stats) []types.SourceReport {
	bySource := make(map[string][]types.NodeResult)
	for _, r := range results {
		bySource[r.Node.SourceName] = append(bySource[r.Node.SourceName], r)
	}

	reports := make([]types.SourceReport, 0, len(sourceStats))
	for _, st := range sourceStats {
		rep := types.SourceReport{
			Name:         st.Name,
			TotalNodes:   st.RealNodes,
			FilteredInfo: st.FilteredInfo,
			LoadError:    st.Error,
		}

		var medians, p95s, jitters, intl, dom []float64
		for _, r := range bySource[st.Name] {
			if !r.Alive() {
				continue
			}
			rep.AliveNodes++
			if r.Latency.MedianMs != nil {
				medians = append(medians, *r.Latency.MedianMs)
			}
			if r.Latency.P95Ms != nil {
				p95s = append(p95s, *r.Latency.P95Ms)
			}
			if r.Latency.JitterMs != nil {
				jitters = append(jitters, *r.Latency.JitterMs)
			}
			if r.Speed != nil {
				if r.Speed.InternationalMbps != nil {
					intl = append(intl, *r.Speed.InternationalMbps)
				}
				if r.Speed.DomesticMbps != nil {
					dom = append(dom, *r.Speed.DomesticMbps)
				}
			}
		}

		if rep.TotalNodes > 0 {
			rep.AliveRate = float64(rep.AliveNodes) / float64(rep.TotalNodes)
		}
		rep.MedianMs = optMedian(medians)
		rep.P95Ms = optMedian(p95s)
		rep.AvgJitterMs = optMean(jitters)
		rep.AvgIntlMbps = optMean(intl)
		rep.AvgDomMbps = optMean(dom)
		reports = append(reports, rep)
	}
	return reports
}

func optMedian(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	v := stats.MedianOf(values)
	return &v
}

func optMean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	v := stats.Mean(values)
	return &v
}
