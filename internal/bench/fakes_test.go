package bench

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/airport-bench/internal/config"
	"github.com/airport-bench/internal/types"
)

// fakeControl scripts per-node delay responses and tracks how many delay
// tests are in flight at once.
type fakeControl struct {
	mu          sync.Mutex
	script      map[string][]float64 // per-round responses; negative means loss
	calls       map[string]int
	inflight    int
	maxInflight int
	perNode     map[string]int // in-flight calls per node
	overlapped  bool           // two rounds for one node ran concurrently
	delay       time.Duration
}

func newFakeControl(delay time.Duration) *fakeControl {
	return &fakeControl{
		script:  make(map[string][]float64),
		calls:   make(map[string]int),
		perNode: make(map[string]int),
		delay:   delay,
	}
}

func (f *fakeControl) DelayTest(ctx context.Context, nodeName, testURL string, timeout time.Duration) (float64, error) {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	f.perNode[nodeName]++
	if f.perNode[nodeName] > 1 {
		f.overlapped = true
	}
	idx := f.calls[nodeName]
	f.calls[nodeName]++
	script := f.script[nodeName]
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inflight--
	f.perNode[nodeName]--
	f.mu.Unlock()

	var v float64 = 100
	if idx < len(script) {
		v = script[idx]
	}
	if v < 0 {
		return 0, fmt.Errorf("probe timeout")
	}
	return v, nil
}

// roundTripFunc adapts a function to http.RoundTripper.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func okResponse(size int) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(make([]byte, size))),
		Header:     make(http.Header),
	}
}

func jsonResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     make(http.Header),
	}
}

// fakeWorker satisfies Worker; its transport sees the currently selected
// node so tests can shape per-node behavior.
type fakeWorker struct {
	mu        sync.Mutex
	selected  string
	selectErr error
	handle    func(node string, req *http.Request) (*http.Response, error)
}

func (w *fakeWorker) Select(ctx context.Context, nodeName string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.selectErr != nil {
		return w.selectErr
	}
	w.selected = nodeName
	return nil
}

func (w *fakeWorker) current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.selected
}

func (w *fakeWorker) HTTPClient(timeout time.Duration) (*http.Client, error) {
	return &http.Client{
		Timeout: timeout,
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			return w.handle(w.current(), req)
		}),
	}, nil
}

func testOptions(concurrency, speedWorkers int) *config.Options {
	opts := &config.Options{
		Concurrency:  concurrency,
		SpeedWorkers: speedWorkers,
		NoSpeed:      true,
		NoGeo:        true,
	}
	opts.Geo.RatePerMin = 600000 // no rate limiting in tests
	opts.Normalize()
	opts.Probe.Timeout = 100 * time.Millisecond
	opts.Speed.PayloadBytes = 64 * 1024
	opts.Speed.Timeout = 2 * time.Second
	opts.Geo.Timeout = 2 * time.Second
	return opts
}

func descriptors(sourceName string, names ...string) []types.NodeDescriptor {
	out := make([]types.NodeDescriptor, 0, len(names))
	for _, n := range names {
		out = append(out, types.NodeDescriptor{
			SourceName: sourceName,
			NodeName:   n,
			Protocol:   "trojan",
			Server:     n + ".example.com",
			Port:       443,
		})
	}
	return out
}

const geoOKBody = `{"status":"success","country":"Japan","countryCode":"JP","regionName":"Tokyo","city":"Tokyo","isp":"Example ISP","query":"203.0.113.7"}`
