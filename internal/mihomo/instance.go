// Package mihomo manages a local mihomo process and its REST control API.
// The process loads every node under test into one select group so the
// benchmark can switch routing and measure per-node delay through the
// control endpoint.
package mihomo

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/airport-bench/internal/types"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
	"gopkg.in/yaml.v3"
)

// GroupName is the select group every node is registered under.
const GroupName = "bench-group"

// Base ports sit above the default clash port (7890) so a running client
// never conflicts with benchmark instances.
const (
	baseSocksPort = 17890
	baseAPIPort   = 19090
)

var portCounter atomic.Int64

func nextPortPair() (socks, api int) {
	n := int(portCounter.Add(1)) - 1
	return baseSocksPort + n*2, baseAPIPort + n*2
}

// FindBinary locates the mihomo binary, honoring an explicit override.
func FindBinary(override string) (string, error) {
	if override != "" {
		info, err := os.Stat(override)
		if err != nil || info.IsDir() {
			return "", fmt.Errorf("mihomo path not found: %s", override)
		}
		return override, nil
	}
	path, err := exec.LookPath("mihomo")
	if err != nil {
		return "", fmt.Errorf("mihomo not found in PATH")
	}
	return path, nil
}

// Instance is one mihomo subprocess on a dedicated port pair.
type Instance struct {
	nodes     []types.NodeDescriptor
	binPath   string
	socksPort int
	apiPort   int
	workDir   string
	cmd       *exec.Cmd
}

// NewInstance prepares an instance for the given nodes. Start must be
// called before any client use.
func NewInstance(nodes []types.NodeDescriptor, binPath string) *Instance {
	socks, api := nextPortPair()
	return &Instance{
		nodes:     nodes,
		binPath:   binPath,
		socksPort: socks,
		apiPort:   api,
	}
}

// APIBase returns the control endpoint base URL.
func (m *Instance) APIBase() string {
	return fmt.Sprintf("http://127.0.0.1:%d", m.apiPort)
}

// SocksAddr returns the host:port of the instance's mixed SOCKS5 listener.
func (m *Instance) SocksAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", m.socksPort)
}

// Start writes the generated config, spawns mihomo and polls the control
// API until it answers or the deadline passes.
func (m *Instance) Start(ctx context.Context) error {
	workDir, err := os.MkdirTemp("", "airport-bench-")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	m.workDir = workDir

	configPath := filepath.Join(workDir, "config.yaml")
	data, err := buildConfig(m.nodes, m.socksPort, m.apiPort)
	if err != nil {
		return fmt.Errorf("build config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	m.cmd = exec.Command(m.binPath, "-f", configPath, "-d", workDir)
	if err := m.cmd.Start(); err != nil {
		return fmt.Errorf("start mihomo: %w", err)
	}

	if err := m.waitReady(ctx, 10*time.Second); err != nil {
		m.Stop()
		return err
	}

	log.Debugf("mihomo ready on socks=%d api=%d (%d nodes)", m.socksPort, m.apiPort, len(m.nodes))
	return nil
}

func (m *Instance) waitReady(ctx context.Context, timeout time.Duration) error {
	client := &http.Client{Timeout: 1 * time.Second}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		req, err := http.NewRequestWithContext(ctx, "GET", m.APIBase()+"/version", nil)
		if err == nil {
			resp, err := client.Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return nil
				}
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("mihomo did not become ready within %v (ports %d/%d)",
		timeout, m.socksPort, m.apiPort)
}

// Stop terminates the subprocess and removes its work directory.
func (m *Instance) Stop() {
	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Signal(os.Interrupt)

		done := make(chan struct{})
		go func() {
			_, _ = m.cmd.Process.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			_ = m.cmd.Process.Kill()
		}
		m.cmd = nil
	}
	if m.workDir != "" {
		_ = os.RemoveAll(m.workDir)
		m.workDir = ""
	}
}

// Client returns a control API client bound to this instance.
func (m *Instance) Client() *Client {
	return NewClient(m.APIBase())
}

// HTTPClient builds an HTTP client whose traffic is routed through the
// instance's SOCKS5 listener, i.e. through whichever node the select
// group currently points at.
func (m *Instance) HTTPClient(timeout time.Duration) (*http.Client, error) {
	dialer, err := proxy.SOCKS5("tcp", m.SocksAddr(), nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer: %w", err)
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		},
		DisableKeepAlives: true,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

func buildConfig(nodes []types.NodeDescriptor, socksPort, apiPort int) ([]byte, error) {
	proxies := make([]map[string]interface{}, 0, len(nodes))
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		entry := n.Params
		if entry == nil {
			entry = map[string]interface{}{
				"name":   n.NodeName,
				"type":   n.Protocol,
				"server": n.Server,
				"port":   n.Port,
			}
		}
		proxies = append(proxies, entry)
		names = append(names, n.NodeName)
	}

	cfg := map[string]interface{}{
		"mixed-port":          socksPort,
		"allow-lan":           false,
		"mode":                "rule",
		"log-level":           "error",
		"external-controller": fmt.Sprintf("127.0.0.1:%d", apiPort),
		"dns":                 map[string]interface{}{"enable": false},
		"proxies":             proxies,
		"proxy-groups": []map[string]interface{}{
			{
				"name":    GroupName,
				"type":    "select",
				"proxies": names,
			},
		},
		"rules": []string{"MATCH," + GroupName},
	}
	return yaml.Marshal(cfg)
}
