package bench

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/airport-bench/internal/source"
	"github.com/airport-bench/internal/types"
)

func sourceStats(name string, realNodes int) []source.Stats {
	return []source.Stats{{Name: name, RealNodes: realNodes}}
}

func TestOrchestrator_OneResultPerNode(t *testing.T) {
	t.Parallel()

	ctrl := newFakeControl(0)
	names := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("node-%02d", i)
		names = append(names, name)
		if i%3 == 0 {
			// every round lost
			ctrl.script[name] = []float64{-1, -1, -1, -1, -1, -1, -1, -1, -1, -1}
		}
	}
	nodes := descriptors("src", names...)

	opts := testOptions(4, 1)
	orch := NewOrchestrator(opts, ctrl, nil, nil, nil, &Progress{})

	rep, err := orch.Run(context.Background(), nodes, sourceStats("src", len(nodes)))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rep.Nodes) != len(nodes) {
		t.Fatalf("got %d results, want %d", len(rep.Nodes), len(nodes))
	}

	seen := make(map[string]bool)
	for _, r := range rep.Nodes {
		key := r.Node.Key()
		if seen[key] {
			t.Fatalf("duplicate result for %s", key)
		}
		seen[key] = true
	}
	for _, n := range nodes {
		if !seen[n.Key()] {
			t.Fatalf("missing result for %s", n.Key())
		}
	}

	dead := 0
	for _, r := range rep.Nodes {
		if r.Status == types.StatusDead {
			dead++
			if r.Latency.MedianMs != nil {
				t.Fatalf("dead node %s has a median", r.Node.NodeName)
			}
		}
	}
	if dead != 7 {
		t.Fatalf("dead=%d want 7", dead)
	}
}

func TestOrchestrator_LatencyConcurrencyBound(t *testing.T) {
	t.Parallel()

	ctrl := newFakeControl(2 * time.Millisecond)
	names := make([]string, 24)
	for i := range names {
		names[i] = fmt.Sprintf("n%02d", i)
	}
	nodes := descriptors("src", names...)

	opts := testOptions(3, 1)
	opts.Probe.Rounds = 3
	orch := NewOrchestrator(opts, ctrl, nil, nil, nil, &Progress{})

	if _, err := orch.Run(context.Background(), nodes, sourceStats("src", len(nodes))); err != nil {
		t.Fatalf("run: %v", err)
	}

	if ctrl.maxInflight > 3 {
		t.Fatalf("latency pool bound violated: %d in flight", ctrl.maxInflight)
	}
	if ctrl.overlapped {
		t.Fatal("rounds for one node overlapped")
	}
	for _, n := range names {
		if got := ctrl.calls[n]; got != 3 {
			t.Fatalf("node %s probed %d times, want 3", n, got)
		}
	}
}

func TestOrchestrator_SpeedPoolBound(t *testing.T) {
	t.Parallel()

	ctrl := newFakeControl(0)
	names := make([]string, 12)
	for i := range names {
		names[i] = fmt.Sprintf("n%02d", i)
	}
	nodes := descriptors("src", names...)

	var mu sync.Mutex
	inflight, maxInflight := 0, 0
	handle := func(node string, req *http.Request) (*http.Response, error) {
		mu.Lock()
		inflight++
		if inflight > maxInflight {
			maxInflight = inflight
		}
		mu.Unlock()

		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		inflight--
		mu.Unlock()
		return okResponse(64 * 1024), nil
	}

	workers := []Worker{
		&fakeWorker{handle: handle},
		&fakeWorker{handle: handle},
	}

	opts := testOptions(8, len(workers))
	opts.NoSpeed = false
	opts.Probe.Rounds = 2
	orch := NewOrchestrator(opts, ctrl, workers, nil, nil, &Progress{})

	if _, err := orch.Run(context.Background(), nodes, sourceStats("src", len(nodes))); err != nil {
		t.Fatalf("run: %v", err)
	}

	if maxInflight > len(workers) {
		t.Fatalf("speed pool bound violated: %d concurrent downloads", maxInflight)
	}
}

func TestOrchestrator_CancelledContextStopsDispatch(t *testing.T) {
	t.Parallel()

	ctrl := newFakeControl(0)
	nodes := descriptors("src", "a", "b", "c")
	opts := testOptions(2, 1)
	orch := NewOrchestrator(opts, ctrl, nil, nil, nil, &Progress{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := orch.Run(ctx, nodes, sourceStats("src", len(nodes)))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rep.Nodes) != 0 {
		t.Fatalf("%d nodes dispatched after cancellation", len(rep.Nodes))
	}
	if len(ctrl.calls) != 0 {
		t.Fatalf("probes ran after cancellation: %v", ctrl.calls)
	}
}

func TestOrchestrator_GeoOnlyLeavesSpeedCountersIdle(t *testing.T) {
	t.Parallel()

	ctrl := newFakeControl(0)
	nodes := descriptors("src", "a", "b")
	opts := testOptions(2, 1)
	opts.NoGeo = false

	workers := []Worker{&fakeWorker{handle: func(node string, req *http.Request) (*http.Response, error) {
		return jsonResponse(geoOKBody), nil
	}}}

	progress := &Progress{}
	rep, err := NewOrchestrator(opts, ctrl, workers, nil, nil, progress).
		Run(context.Background(), nodes, sourceStats("src", len(nodes)))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, r := range rep.Nodes {
		if r.Status != types.StatusAlive || r.Geo == nil {
			t.Fatalf("geo phase failed: %+v", r)
		}
	}

	snap := progress.Snapshot()
	if snap.SpeedTotal != 0 || snap.SpeedDone != 0 {
		t.Fatalf("speed counters moved on a speed-disabled run: %+v", snap)
	}
	if snap.GeoDone != 2 {
		t.Fatalf("geo done=%d want 2", snap.GeoDone)
	}
}

func TestOrchestrator_DuplicateNodesRejected(t *testing.T) {
	t.Parallel()

	nodes := descriptors("src", "same", "same")
	opts := testOptions(2, 1)
	orch := NewOrchestrator(opts, newFakeControl(0), nil, nil, nil, &Progress{})

	if _, err := orch.Run(context.Background(), nodes, sourceStats("src", 2)); err == nil {
		t.Fatal("expected error for duplicate (source, node) pair")
	}
}

func TestOrchestrator_SelectFailureIsPartial(t *testing.T) {
	t.Parallel()

	ctrl := newFakeControl(0)
	nodes := descriptors("src", "a")

	w := &fakeWorker{selectErr: fmt.Errorf("group missing")}
	opts := testOptions(2, 1)
	opts.NoSpeed = false
	orch := NewOrchestrator(opts, ctrl, []Worker{w}, nil, nil, &Progress{})

	rep, err := orch.Run(context.Background(), nodes, sourceStats("src", 1))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	r := rep.Nodes[0]
	if r.Status != types.StatusPartial {
		t.Fatalf("status=%s want partial", r.Status)
	}
	if r.Error == "" {
		t.Fatal("expected a diagnostic note")
	}
	if r.Speed != nil {
		t.Fatal("speed must be absent when selection failed")
	}
}

func TestOrchestrator_BothPhasesDisabledStaysAlive(t *testing.T) {
	t.Parallel()

	// --no-speed --no-geo with successful latency: alive, both optional
	// fields absent.
	ctrl := newFakeControl(0)
	nodes := descriptors("src", "a")
	opts := testOptions(1, 1)

	rep, err := NewOrchestrator(opts, ctrl, nil, nil, nil, &Progress{}).
		Run(context.Background(), nodes, sourceStats("src", 1))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	r := rep.Nodes[0]
	if r.Status != types.StatusAlive {
		t.Fatalf("status=%s want alive", r.Status)
	}
	if r.Speed != nil || r.Geo != nil {
		t.Fatalf("optional fields must be absent: speed=%v geo=%v", r.Speed, r.Geo)
	}
}

func TestOrchestrator_EndToEndScenario(t *testing.T) {
	t.Parallel()

	// Node A: 9 rounds at 100ms plus one loss. Node B: all rounds lost.
	// Node C: alive at 150ms median with the domestic speed endpoint
	// failing while the international one works.
	ctrl := newFakeControl(0)
	ctrl.script["A"] = []float64{100, 100, 100, 100, 100, 100, 100, 100, 100, -1}
	ctrl.script["B"] = []float64{-1, -1, -1, -1, -1, -1, -1, -1, -1, -1}
	ctrl.script["C"] = []float64{150, 160, 150, 140, -1, 150, 155, 145, 150, -1}

	opts := testOptions(3, 1)
	opts.NoSpeed = false
	opts.FilterDead = true

	handle := func(node string, req *http.Request) (*http.Response, error) {
		if req.URL.String() == opts.Speed.DomesticURL && node == "C" {
			return nil, fmt.Errorf("connection reset")
		}
		return okResponse(64 * 1024), nil
	}
	workers := []Worker{&fakeWorker{handle: handle}}

	nodes := descriptors("src", "A", "B", "C")
	rep, err := NewOrchestrator(opts, ctrl, workers, nil, nil, &Progress{}).
		Run(context.Background(), nodes, sourceStats("src", 3))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(rep.Nodes) != 2 {
		t.Fatalf("filter-dead report has %d nodes, want 2", len(rep.Nodes))
	}
	if rep.Nodes[0].Node.NodeName != "A" || rep.Nodes[1].Node.NodeName != "C" {
		t.Fatalf("order=%s,%s want A,C", rep.Nodes[0].Node.NodeName, rep.Nodes[1].Node.NodeName)
	}

	a := rep.Nodes[0]
	if a.Latency.LossRate != 0.1 {
		t.Fatalf("A loss_rate=%v want 0.1", a.Latency.LossRate)
	}
	if *a.Latency.MedianMs != 100 {
		t.Fatalf("A median=%v want 100", *a.Latency.MedianMs)
	}
	// A's speed succeeded on both endpoints.
	if a.Status != types.StatusAlive {
		t.Fatalf("A status=%s want alive", a.Status)
	}

	c := rep.Nodes[1]
	if c.Status != types.StatusPartial {
		t.Fatalf("C status=%s want partial", c.Status)
	}
	if c.Speed == nil || c.Speed.InternationalMbps == nil {
		t.Fatal("C must keep its international measurement")
	}
	if c.Speed.DomesticMbps != nil {
		t.Fatal("C domestic measurement must be absent")
	}

	// Source aggregates see 2 alive of 3.
	if len(rep.Sources) != 1 {
		t.Fatalf("sources=%d", len(rep.Sources))
	}
	src := rep.Sources[0]
	if src.AliveNodes != 2 || src.TotalNodes != 3 {
		t.Fatalf("alive=%d/%d want 2/3", src.AliveNodes, src.TotalNodes)
	}
}

func TestSortResults(t *testing.T) {
	t.Parallel()

	mk := func(name string, median float64, intl, dom *float64, status types.Status) types.NodeResult {
		r := types.NodeResult{
			Node:   types.NodeDescriptor{SourceName: "s", NodeName: name},
			Status: status,
		}
		if status != types.StatusDead {
			m := median
			p := median * 2
			r.Latency = types.LatencyStats{MedianMs: &m, P95Ms: &p}
		} else {
			r.Latency = types.LatencyStats{LossRate: 1}
		}
		if intl != nil || dom != nil {
			r.Speed = &types.SpeedResult{InternationalMbps: intl, DomesticMbps: dom}
		}
		return r
	}
	f := func(v float64) *float64 { return &v }

	results := []types.NodeResult{
		mk("delta", 200, nil, f(30), types.StatusAlive),
		mk("zulu", 0, nil, nil, types.StatusDead),
		mk("alpha", 100, f(50), nil, types.StatusAlive),
		mk("bravo", 50, nil, nil, types.StatusPartial),
	}

	t.Run("latency puts dead last", func(t *testing.T) {
		got := SortResults(results, "latency", false)
		want := []string{"bravo", "alpha", "delta", "zulu"}
		assertOrder(t, got, want)
	})

	t.Run("name is lexicographic", func(t *testing.T) {
		got := SortResults(results, "name", false)
		want := []string{"alpha", "bravo", "delta", "zulu"}
		assertOrder(t, got, want)
	})

	t.Run("speed falls back to domestic, no data last", func(t *testing.T) {
		got := SortResults(results, "speed", false)
		want := []string{"alpha", "delta", "bravo", "zulu"}
		assertOrder(t, got, want)
	})

	t.Run("filter-dead drops dead", func(t *testing.T) {
		got := SortResults(results, "latency", true)
		for _, r := range got {
			if r.Status == types.StatusDead {
				t.Fatalf("dead node %s in filtered report", r.Node.NodeName)
			}
		}
		if len(got) != 3 {
			t.Fatalf("len=%d want 3", len(got))
		}
	})

	t.Run("p95", func(t *testing.T) {
		got := SortResults(results, "p95", false)
		assertOrder(t, got, []string{"bravo", "alpha", "delta", "zulu"})
	})

	t.Run("input order preserved for equal keys", func(t *testing.T) {
		evens := []types.NodeResult{
			mk("x", 100, nil, nil, types.StatusAlive),
			mk("y", 100, nil, nil, types.StatusAlive),
		}
		got := SortResults(evens, "latency", false)
		assertOrder(t, got, []string{"x", "y"})
	})
}

func assertOrder(t *testing.T, got []types.NodeResult, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("len=%d want %d", len(got), len(want))
	}
	for i, name := range want {
		if got[i].Node.NodeName != name {
			names := make([]string, len(got))
			for j, r := range got {
				names[j] = r.Node.NodeName
			}
			t.Fatalf("order=%v want %v", names, want)
		}
	}
}
