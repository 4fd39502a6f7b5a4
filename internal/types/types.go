package types

import "time"

// Status classifies the outcome of benchmarking one node.
type Status string

const (
	// StatusAlive means the latency probe succeeded and every optional
	// phase that was attempted produced data.
	StatusAlive Status = "alive"
	// StatusDead means every latency round was lost.
	StatusDead Status = "dead"
	// StatusPartial means the node is alive but some attempted optional
	// phase (speed, geolocation) produced no data.
	StatusPartial Status = "partial"
)

// NodeDescriptor identifies one proxy node within a subscription source.
// Immutable once loaded. Unique by (SourceName, NodeName).
type NodeDescriptor struct {
	SourceName string                 `json:"source"`
	NodeName   string                 `json:"node_name"`
	Protocol   string                 `json:"protocol"` // e.g. trojan, ss, vmess
	Server     string                 `json:"server"`
	Port       int                    `json:"port"`
	Params     map[string]interface{} `json:"-"` // raw Clash proxy entry
}

// Key returns the uniqueness key for the node.
func (d NodeDescriptor) Key() string {
	return d.SourceName + "|" + d.NodeName
}

// LatencySample is one round's outcome. Lost is true on timeout,
// connection error or an explicit error response from the control API.
type LatencySample struct {
	DelayMs float64 `json:"delay_ms"`
	Lost    bool    `json:"lost"`
}

// LatencyStats is derived once from a completed sample sequence.
// The pointers are nil when every round was lost.
type LatencyStats struct {
	MedianMs *float64 `json:"median_ms"`
	P95Ms    *float64 `json:"p95_ms"`
	JitterMs *float64 `json:"jitter_ms"` // population stddev
	LossRate float64  `json:"loss_rate"` // losses / rounds
}

// SpeedResult holds per-endpoint throughput. A nil value means the
// endpoint was skipped or both attempts failed. Each value is the minimum
// of two independent download attempts.
type SpeedResult struct {
	InternationalMbps *float64 `json:"international_mbps"`
	DomesticMbps      *float64 `json:"domestic_mbps"`
}

// GeoInfo describes a node's egress as seen by the geolocation service.
type GeoInfo struct {
	IP      string `json:"ip"`
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
	ISP     string `json:"isp,omitempty"`
}

// NodeResult aggregates everything measured for one node. Created by the
// benchmark coordinator, immutable afterwards.
type NodeResult struct {
	Node     NodeDescriptor `json:"node"`
	Status   Status         `json:"status"`
	Latency  LatencyStats   `json:"latency"`
	Speed    *SpeedResult   `json:"speed,omitempty"`
	Geo      *GeoInfo       `json:"geo,omitempty"`
	Error    string         `json:"error,omitempty"` // diagnostic note, advisory only
	TestedAt time.Time      `json:"tested_at"`
}

// Alive reports whether at least one latency round succeeded.
func (r *NodeResult) Alive() bool {
	return r.Status != StatusDead
}

// SortSpeed returns the throughput used when ranking by speed:
// international first, domestic as fallback. ok is false when the node
// carries no speed data at all.
func (r *NodeResult) SortSpeed() (float64, bool) {
	if r.Speed == nil {
		return 0, false
	}
	if r.Speed.InternationalMbps != nil {
		return *r.Speed.InternationalMbps, true
	}
	if r.Speed.DomesticMbps != nil {
		return *r.Speed.DomesticMbps, true
	}
	return 0, false
}

// SourceReport aggregates per-airport statistics over its nodes.
type SourceReport struct {
	Name         string   `json:"name"`
	TotalNodes   int      `json:"total_nodes"`
	AliveNodes   int      `json:"alive_nodes"`
	FilteredInfo int      `json:"filtered_info_nodes"` // pseudo-nodes dropped at load time
	AliveRate    float64  `json:"alive_rate"`
	MedianMs     *float64 `json:"median_latency_ms"` // median of per-node medians
	P95Ms        *float64 `json:"p95_latency_ms"`    // median of per-node P95s
	AvgJitterMs  *float64 `json:"avg_jitter_ms"`
	AvgIntlMbps  *float64 `json:"avg_international_mbps"`
	AvgDomMbps   *float64 `json:"avg_domestic_mbps"`
	LoadError    string   `json:"load_error,omitempty"`
}

// RunOptions records the knobs a report was produced with.
type RunOptions struct {
	Concurrency  int    `json:"concurrency"`
	SpeedWorkers int    `json:"speed_workers"`
	Rounds       int    `json:"rounds"`
	SpeedEnabled bool   `json:"speed_enabled"`
	GeoEnabled   bool   `json:"geo_enabled"`
	SortBy       string `json:"sort_by"`
	FilterDead   bool   `json:"filter_dead"`
}

// BenchmarkReport is the terminal artifact of a run: every node result in
// ranked order plus per-source aggregates and run metadata.
type BenchmarkReport struct {
	Nodes    []NodeResult   `json:"nodes"`
	Sources  []SourceReport `json:"sources"`
	Options  RunOptions     `json:"options"`
	TestedAt time.Time      `json:"tested_at"`
}
