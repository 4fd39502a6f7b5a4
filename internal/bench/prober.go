package bench

import (
	"context"

	"github.com/airport-bench/internal/config"
	"github.com/airport-bench/internal/types"
	log "github.com/sirupsen/logrus"
)

// Prober measures a node's latency distribution over a fixed number of
// rounds through the control service.
type Prober struct {
	ctrl ControlClient
	cfg  config.ProbeConfig
}

func NewProber(ctrl ControlClient, cfg config.ProbeConfig) *Prober {
	return &Prober{ctrl: ctrl, cfg: cfg}
}

// Probe runs exactly cfg.Rounds measurement rounds and returns the raw
// sample sequence unconditionally. Individual round failures become loss
// samples, never errors.
//
// Rounds are strictly sequential: concurrent rounds for one node share
// the underlying tunnel and corrupt the latency signal.
func (p *Prober) Probe(ctx context.Context, nodeName string) []types.LatencySample {
	samples := make([]types.LatencySample, p.cfg.Rounds)
	for i := 0; i < p.cfg.Rounds; i++ {
		delay, err := p.ctrl.DelayTest(ctx, nodeName, p.cfg.URL, p.cfg.Timeout)
		if err != nil {
			log.Debugf("node %q round %d lost: %v", nodeName, i+1, err)
			samples[i] = types.LatencySample{Lost: true}
			continue
		}
		samples[i] = types.LatencySample{DelayMs: delay}
	}
	return samples
}
