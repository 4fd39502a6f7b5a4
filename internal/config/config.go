package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Normalize.
const (
	DefaultConcurrency  = 30
	DefaultSpeedWorkers = 5
	DefaultRounds       = 10

	DefaultLatencyURL       = "http://www.gstatic.com/generate_204"
	DefaultInternationalURL = "https://speed.cloudflare.com/__down?bytes=10485760"
	DefaultDomesticURL      = "https://mirrors.aliyun.com/speedtest/10mb.bin"
	DefaultGeoURL           = "http://ip-api.com/json?fields=status,country,countryCode,regionName,city,isp,query"

	DefaultLatencyTimeout = 5 * time.Second
	DefaultSpeedTimeout   = 20 * time.Second
	DefaultGeoTimeout     = 15 * time.Second

	// ip-api free tier allows 45 requests per minute.
	DefaultGeoRatePerMin = 40

	DefaultPayloadBytes = 10 * 1024 * 1024
)

// Source is one subscription entry from sources.yaml.
type Source struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // "file" or "url"
	Path string `yaml:"path,omitempty"`
	URL  string `yaml:"url,omitempty"`
}

// Location returns the file path or URL the source loads from.
func (s Source) Location() string {
	if s.Type == "url" {
		return s.URL
	}
	return s.Path
}

// ProbeConfig tunes the latency prober.
type ProbeConfig struct {
	Rounds  int
	URL     string
	Timeout time.Duration
}

// SpeedConfig tunes the throughput tester.
type SpeedConfig struct {
	InternationalURL string
	DomesticURL      string
	Timeout          time.Duration
	PayloadBytes     int64
}

// GeoConfig tunes the geolocation lookup.
type GeoConfig struct {
	URL        string
	Timeout    time.Duration
	RatePerMin int
	CacheSpec  string // "", "file:path", "sqlite:path" or "redis:addr"
}

// Options is the full resolved configuration for one run. CLI flags feed
// it directly; sources.yaml only contributes the Sources list.
type Options struct {
	Sources []Source

	NoSpeed    bool
	NoGeo      bool
	Export     string // "", "json" or "csv"
	ExportFile string

	Concurrency  int
	SpeedWorkers int
	SortBy       string
	FilterDead   bool

	Lang       string // "", "en" or "zh"; empty means auto-detect
	MihomoPath string
	StatusAddr string
	LogLevel   string

	Probe ProbeConfig
	Speed SpeedConfig
	Geo   GeoConfig
}

// LoadSources reads a sources.yaml file.
func LoadSources(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var doc struct {
		Sources []Source `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse sources YAML: %w", err)
	}

	for i, s := range doc.Sources {
		if s.Type == "" {
			doc.Sources[i].Type = "file"
		}
	}
	return doc.Sources, nil
}

// Normalize fills in zero values with defaults.
func (o *Options) Normalize() {
	if o.Concurrency == 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.SpeedWorkers == 0 {
		o.SpeedWorkers = DefaultSpeedWorkers
	}
	if o.SortBy == "" {
		o.SortBy = "latency"
	}
	if o.LogLevel == "" {
		o.LogLevel = "info"
	}
	if o.Probe.Rounds == 0 {
		o.Probe.Rounds = DefaultRounds
	}
	if o.Probe.URL == "" {
		o.Probe.URL = DefaultLatencyURL
	}
	if o.Probe.Timeout == 0 {
		o.Probe.Timeout = DefaultLatencyTimeout
	}
	if o.Speed.InternationalURL == "" {
		o.Speed.InternationalURL = DefaultInternationalURL
	}
	if o.Speed.DomesticURL == "" {
		o.Speed.DomesticURL = DefaultDomesticURL
	}
	if o.Speed.Timeout == 0 {
		o.Speed.Timeout = DefaultSpeedTimeout
	}
	if o.Speed.PayloadBytes == 0 {
		o.Speed.PayloadBytes = DefaultPayloadBytes
	}
	if o.Geo.URL == "" {
		o.Geo.URL = DefaultGeoURL
	}
	if o.Geo.Timeout == 0 {
		o.Geo.Timeout = DefaultGeoTimeout
	}
	if o.Geo.RatePerMin == 0 {
		o.Geo.RatePerMin = DefaultGeoRatePerMin
	}
}

// Validate checks option ranges and enumerations.
func (o *Options) Validate() error {
	if o.Concurrency < 1 || o.Concurrency > 1024 {
		return fmt.Errorf("concurrency must be between 1 and 1024")
	}
	if o.SpeedWorkers < 1 || o.SpeedWorkers > 64 {
		return fmt.Errorf("speed-workers must be between 1 and 64")
	}
	if o.Probe.Rounds < 1 || o.Probe.Rounds > 100 {
		return fmt.Errorf("latency rounds must be between 1 and 100")
	}
	switch o.SortBy {
	case "latency", "p95", "speed", "name":
	default:
		return fmt.Errorf("sort-by must be one of latency, p95, speed, name")
	}
	switch o.Export {
	case "", "json", "csv":
	default:
		return fmt.Errorf("export must be json or csv")
	}
	switch o.Lang {
	case "", "en", "zh":
	default:
		return fmt.Errorf("lang must be en or zh")
	}
	for _, s := range o.Sources {
		if s.Type != "file" && s.Type != "url" {
			return fmt.Errorf("source %q: type must be file or url", s.Name)
		}
		if s.Location() == "" {
			return fmt.Errorf("source %q: missing path or url", s.Name)
		}
	}
	return nil
}
