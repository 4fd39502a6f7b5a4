package bench

import (
	"context"
	"io"
	"time"

	"github.com/airport-bench/internal/config"
	"github.com/airport-bench/internal/metrics"
	"github.com/airport-bench/internal/types"
	log "github.com/sirupsen/logrus"
)

// SpeedTester measures download throughput through a worker's tunnel
// against one international and one domestic endpoint.
type SpeedTester struct {
	cfg     config.SpeedConfig
	metrics *metrics.Collector
}

func NewSpeedTester(cfg config.SpeedConfig, collector *metrics.Collector) *SpeedTester {
	return &SpeedTester{cfg: cfg, metrics: collector}
}

// Test runs both endpoints for the node the worker currently routes
// through. Endpoint failures are independent; a nil field means both
// attempts on that endpoint failed.
func (t *SpeedTester) Test(ctx context.Context, w Worker) *types.SpeedResult {
	result := &types.SpeedResult{
		InternationalMbps: t.testEndpoint(ctx, w, t.cfg.InternationalURL, "international"),
		DomesticMbps:      t.testEndpoint(ctx, w, t.cfg.DomesticURL, "domestic"),
	}
	return result
}

// testEndpoint downloads the payload twice and reports the minimum of
// the two throughputs. The conservative minimum partially defeats
// short-burst QoS allowances.
func (t *SpeedTester) testEndpoint(ctx context.Context, w Worker, url, label string) *float64 {
	var best *float64
	for attempt := 0; attempt < 2; attempt++ {
		mbps, err := t.downloadOnce(ctx, w, url)
		if err != nil {
			log.Debugf("speed attempt %d for %s endpoint failed: %v", attempt+1, label, err)
			continue
		}
		if best == nil || mbps < *best {
			best = &mbps
		}
	}
	if best != nil && t.metrics != nil {
		t.metrics.RecordSpeed(label, *best)
	}
	return best
}

func (t *SpeedTester) downloadOnce(ctx context.Context, w Worker, url string) (float64, error) {
	client, err := w.HTTPClient(t.cfg.Timeout)
	if err != nil {
		return 0, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	req, err := newGetRequest(reqCtx, url)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, httpStatusError(resp.StatusCode)
	}

	n, err := io.CopyN(io.Discard, resp.Body, t.cfg.PayloadBytes)
	// A short body still measures: throughput is computed over whatever
	// arrived. Zero bytes is a failure.
	if err != nil && err != io.EOF {
		return 0, err
	}
	elapsed := time.Since(start).Seconds()
	if n == 0 || elapsed <= 0 {
		return 0, errEmptyDownload
	}
	return float64(n) * 8 / elapsed / 1e6, nil
}
