package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/airport-bench/internal/bench"
)

func TestHealth(t *testing.T) {
	s := NewServer("127.0.0.1:0", &bench.Progress{}, nil)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("health: %d %q", rec.Code, rec.Body.String())
	}
}

func TestProgress(t *testing.T) {
	progress := &bench.Progress{}
	progress.TotalNodes.Store(50)
	progress.LatencyDone.Store(12)
	progress.SpeedTotal.Store(10)
	progress.SpeedDone.Store(3)

	s := NewServer("127.0.0.1:0", progress, nil)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/progress", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	var body struct {
		StartedAt   string                 `json:"started_at"`
		ElapsedSecs int                    `json:"elapsed_secs"`
		Progress    bench.ProgressSnapshot `json:"progress"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if body.StartedAt == "" {
		t.Fatal("started_at missing")
	}
	if body.Progress.TotalNodes != 50 || body.Progress.LatencyDone != 12 || body.Progress.SpeedDone != 3 {
		t.Fatalf("snapshot: %+v", body.Progress)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := NewServer("127.0.0.1:0", &bench.Progress{}, nil)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("empty metrics exposition")
	}
}
