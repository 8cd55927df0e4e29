package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dreamware/strata/internal/document"
)

// Commander is the node-dispatch primitive: send one command document to one
// node, get its response document back. A returned error means the command
// never produced a node-side response (connect failure, timeout, bad
// payload); command-level failures come back as an ok:false response with a
// nil error.
type Commander interface {
	RunCommand(ctx context.Context, target ShardTarget, db string, cmd document.Doc) (document.Doc, error)
}

// maxConnsPerTarget bounds concurrently leased connections per node address.
const maxConnsPerTarget = 16

// HTTPCommander runs commands over the cluster's HTTP/JSON node protocol
// (POST {addr}/command/{db}). Connections are leased per target and released
// on every exit path, so a wedged node cannot starve the router of client
// slots for other nodes.
type HTTPCommander struct {
	client *http.Client
	mu     sync.Mutex
	leases map[string]chan struct{}
}

// NewHTTPCommander creates a commander whose per-command timeout applies to
// each node call independently.
func NewHTTPCommander(timeout time.Duration) *HTTPCommander {
	return &HTTPCommander{
		client: &http.Client{Timeout: timeout},
		leases: make(map[string]chan struct{}),
	}
}

// acquire leases a connection slot for the target, blocking until one is
// free or the context ends. The returned release func must be called exactly
// once; callers defer it so release happens on success and failure alike.
func (c *HTTPCommander) acquire(ctx context.Context, target ShardTarget) (func(), error) {
	c.mu.Lock()
	sem, ok := c.leases[target.Addr]
	if !ok {
		sem = make(chan struct{}, maxConnsPerTarget)
		c.leases[target.Addr] = sem
	}
	c.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire connection to %s: %w", target, ctx.Err())
	}
}

// RunCommand implements Commander.
func (c *HTTPCommander) RunCommand(ctx context.Context, target ShardTarget, db string, cmd document.Doc) (document.Doc, error) {
	release, err := c.acquire(ctx, target)
	if err != nil {
		return nil, err
	}
	defer release()

	body, err := cmd.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode command for %s: %w", target, err)
	}

	url := commandURL(target.Addr, db)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("command to %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("command to %s: http %d", target, resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", target, err)
	}
	doc, err := document.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("response from %s: %w", target, err)
	}
	return doc, nil
}

func commandURL(addr, db string) string {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return strings.TrimRight(base, "/") + "/command/" + db
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// PostJSON posts a JSON body to url and decodes the JSON response into out
// (skipped when out is nil). Used for control-plane calls such as node
// registration.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := jsonMarshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	return jsonUnmarshal(payload, out)
}

// GetJSON fetches url and decodes the JSON response into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return jsonUnmarshal(payload, out)
}

func jsonMarshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// jsonUnmarshal decodes with UseNumber so 64-bit ids survive transport.
func jsonUnmarshal(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(out)
}
