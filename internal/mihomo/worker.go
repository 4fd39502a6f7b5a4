package mihomo

import (
	"context"
	"net/http"
	"time"
)

// RoutingWorker pairs one running instance with its control client so the
// benchmark can point the tunnel at a node and push traffic through it.
type RoutingWorker struct {
	inst   *Instance
	client *Client
}

func NewRoutingWorker(inst *Instance) *RoutingWorker {
	return &RoutingWorker{inst: inst, client: inst.Client()}
}

// Select switches the instance's select group to the named node. The
// short settle pause lets in-flight connections drain before the next
// measurement starts.
func (w *RoutingWorker) Select(ctx context.Context, nodeName string) error {
	if err := w.client.SelectNode(ctx, nodeName); err != nil {
		return err
	}
	select {
	case <-time.After(300 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// HTTPClient returns a client routed through the currently selected node.
func (w *RoutingWorker) HTTPClient(timeout time.Duration) (*http.Client, error) {
	return w.inst.HTTPClient(timeout)
}
