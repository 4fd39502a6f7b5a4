package mihomo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client is a thin HTTP client for the mihomo control API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given control base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
	}
}

// Ping checks that the control API answers. Unreachability here is a
// fatal startup condition for the caller.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/version", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("control service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("control service returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// DelayTest asks mihomo to measure one round-trip for the named node.
// Returns the delay in milliseconds; any timeout, transport failure or
// non-200 response comes back as an error the prober folds into loss.
func (c *Client) DelayTest(ctx context.Context, nodeName, testURL string, timeout time.Duration) (float64, error) {
	endpoint := fmt.Sprintf("%s/proxies/%s/delay?url=%s&timeout=%d",
		c.baseURL,
		url.PathEscape(nodeName),
		url.QueryEscape(testURL),
		timeout.Milliseconds(),
	)

	// The API holds the request open while it probes, so allow a little
	// slack beyond the probe timeout itself.
	reqCtx, cancel := context.WithTimeout(ctx, timeout+2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, "GET", endpoint, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("delay request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("delay HTTP %d", resp.StatusCode)
	}

	var body struct {
		Delay float64 `json:"delay"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode delay response: %w", err)
	}
	if body.Delay <= 0 {
		return 0, fmt.Errorf("zero delay reported")
	}
	return body.Delay, nil
}

// SelectNode switches the benchmark select group to the named node so
// that routed traffic egresses through it.
func (c *Client) SelectNode(ctx context.Context, nodeName string) error {
	payload, err := json.Marshal(map[string]string{"name": nodeName})
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	endpoint := c.baseURL + "/proxies/" + url.PathEscape(GroupName)
	req, err := http.NewRequestWithContext(reqCtx, "PUT", endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("select node: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("select node HTTP %d", resp.StatusCode)
	}
	return nil
}
