// Package source loads Clash-format subscriptions from local files and
// URLs and normalizes them into node descriptors.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/airport-bench/internal/config"
	"github.com/airport-bench/internal/types"
	log "github.com/sirupsen/logrus"
)

// Subscription managers gate downloads on a recognized client UA.
const subscriptionUserAgent = "ClashForWindows/0.20.39"

// Stats describes the outcome of loading one source.
type Stats struct {
	Name         string
	Location     string
	TotalNodes   int
	RealNodes    int
	FilteredInfo int
	Error        string
}

// Loader fetches and parses subscription sources.
type Loader struct {
	client *http.Client
}

func NewLoader() *Loader {
	return &Loader{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// LoadAll loads every source concurrently. A failing source contributes a
// Stats entry with its error and no nodes; other sources are unaffected.
// Node names are deduplicated globally so the control service accepts the
// combined list. Returned source order matches the input order.
func (l *Loader) LoadAll(ctx context.Context, sources []config.Source) ([]types.NodeDescriptor, []Stats, error) {
	if len(sources) == 0 {
		return nil, nil, fmt.Errorf("no sources")
	}

	log.Infof("Loading %d sources", len(sources))

	perSource := make([][]types.NodeDescriptor, len(sources))
	statsList := make([]Stats, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(idx int, src config.Source) {
			defer wg.Done()

			startTime := time.Now()
			nodes, filtered, err := l.loadOne(ctx, src)
			duration := time.Since(startTime)

			stat := Stats{
				Name:         src.Name,
				Location:     src.Location(),
				TotalNodes:   len(nodes) + filtered,
				RealNodes:    len(nodes),
				FilteredInfo: filtered,
			}
			if err != nil {
				stat.Error = err.Error()
				log.Warnf("Source %s failed: %v (took %v)", src.Name, err, duration)
			} else {
				log.Infof("Source %s returned %d nodes, %d informational filtered (took %v)",
					src.Name, len(nodes), filtered, duration)
			}

			perSource[idx] = nodes
			statsList[idx] = stat
		}(i, src)
	}
	wg.Wait()

	all := make([]types.NodeDescriptor, 0)
	for _, nodes := range perSource {
		all = append(all, nodes...)
	}
	all = DeduplicateNames(all)

	return all, statsList, nil
}

func (l *Loader) loadOne(ctx context.Context, src config.Source) ([]types.NodeDescriptor, int, error) {
	var raw []byte
	var err error

	switch src.Type {
	case "url":
		raw, err = l.fetch(ctx, src.URL)
	default:
		raw, err = os.ReadFile(src.Path)
	}
	if err != nil {
		return nil, 0, err
	}

	entries, err := ParseClashSubscription(raw)
	if err != nil {
		return nil, 0, err
	}

	real, filtered := FilterRealNodes(entries)
	nodes := make([]types.NodeDescriptor, 0, len(real))
	for _, e := range real {
		nodes = append(nodes, descriptorFrom(src.Name, e))
	}
	return nodes, filtered, nil
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", subscriptionUserAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	// Limit body read to 10MB
	return io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
}

func descriptorFrom(sourceName string, entry map[string]interface{}) types.NodeDescriptor {
	d := types.NodeDescriptor{
		SourceName: sourceName,
		Protocol:   "unknown",
		Params:     entry,
	}
	if v, ok := entry["name"].(string); ok {
		d.NodeName = v
	}
	if v, ok := entry["type"].(string); ok {
		d.Protocol = v
	}
	if v, ok := entry["server"].(string); ok {
		d.Server = v
	}
	switch v := entry["port"].(type) {
	case int:
		d.Port = v
	case float64:
		d.Port = int(v)
	}
	return d
}

// ValidateUnique rejects duplicate (source, node) pairs. The orchestrator
// calls this before dispatching so every descriptor maps to exactly one
// result.
func ValidateUnique(nodes []types.NodeDescriptor) error {
	seen := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		key := n.Key()
		if _, exists := seen[key]; exists {
			return fmt.Errorf("duplicate node %q in source %q", n.NodeName, n.SourceName)
		}
		seen[key] = struct{}{}
	}
	return nil
}
