package bench

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/airport-bench/internal/config"
	"github.com/airport-bench/internal/geocache"
	"github.com/airport-bench/internal/types"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Geolocator resolves a node's egress IP and location with one lookup
// through the node's tunnel. Lookups are never retried: a geolocation
// failure is not a node failure.
type Geolocator struct {
	cfg     config.GeoConfig
	limiter *rate.Limiter
	cache   geocache.Store
}

// NewGeolocator builds a geolocator. cache may be nil. The shared rate
// limiter keeps all workers inside the lookup service's free-tier quota.
func NewGeolocator(cfg config.GeoConfig, cache geocache.Store) *Geolocator {
	return &Geolocator{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RatePerMin)/60.0), 1),
		cache:   cache,
	}
}

// Lookup returns geolocation for the node the worker currently routes
// through, or nil on any failure.
func (g *Geolocator) Lookup(ctx context.Context, w Worker, node types.NodeDescriptor) *types.GeoInfo {
	cacheKey := fmt.Sprintf("%s:%d", node.Server, node.Port)
	if g.cache != nil {
		if info, ok := g.cache.Get(ctx, cacheKey); ok {
			return info
		}
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil
	}

	info, err := g.fetch(ctx, w)
	if err != nil {
		log.Debugf("geo lookup for %q failed: %v", node.NodeName, err)
		return nil
	}

	if g.cache != nil {
		if err := g.cache.Put(ctx, cacheKey, info); err != nil {
			log.Debugf("geo cache put failed: %v", err)
		}
	}
	return info
}

func (g *Geolocator) fetch(ctx context.Context, w Worker) (*types.GeoInfo, error) {
	client, err := w.HTTPClient(g.cfg.Timeout)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req, err := newGetRequest(reqCtx, g.cfg.URL)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, httpStatusError(resp.StatusCode)
	}

	var body struct {
		Status     string `json:"status"`
		Country    string `json:"country"`
		CountryISO string `json:"countryCode"`
		Region     string `json:"regionName"`
		City       string `json:"city"`
		ISP        string `json:"isp"`
		Query      string `json:"query"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode geo response: %w", err)
	}
	if body.Status != "success" {
		return nil, fmt.Errorf("geo status %q", body.Status)
	}

	country := body.CountryISO
	if country == "" {
		country = body.Country
	}
	return &types.GeoInfo{
		IP:      body.Query,
		Country: country,
		Region:  body.Region,
		City:    body.City,
		ISP:     body.ISP,
	}, nil
}
