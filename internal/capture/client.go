// Package capture implements the HTTP client for the external capture
// server: capture control, the persistent packet event stream, and
// capture-file forwarding for server-side replay.
package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/packetlens/packetlens/internal/packet"
)

// Client talks to one capture server instance.
type Client struct {
	baseURL string
	// control requests get a short timeout; the stream request must not,
	// it stays open for the life of the subscription.
	control *http.Client
	stream  *http.Client
}

// NewClient creates a client for the capture server at baseURL
// (e.g. "http://127.0.0.1:8765").
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		control: &http.Client{Timeout: timeout},
		stream:  &http.Client{},
	}
}

// Start begins capture on the server.
func (c *Client) Start(ctx context.Context) error {
	return c.get(ctx, "/api/start", nil)
}

// Stop ends capture on the server.
func (c *Client) Stop(ctx context.Context) error {
	return c.get(ctx, "/api/stop", nil)
}

// Status reports whether capture is currently running, used to resume
// monitoring automatically on startup.
func (c *Client) Status(ctx context.Context) (bool, error) {
	var body struct {
		Running bool `json:"running"`
	}
	if err := c.get(ctx, "/api/status", &body); err != nil {
		return false, err
	}
	return body.Running, nil
}

// OpenStream subscribes to the persistent packet event stream. The
// caller owns the returned body and must close it; cancelling ctx
// closes the underlying transport.
func (c *Client) OpenStream(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/stream", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", packet.ErrTransport, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", packet.ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: stream returned %s", packet.ErrTransport, resp.Status)
	}
	return resp.Body, nil
}

// Upload forwards a capture file for server-side replay. The server
// re-emits its packets through the event stream, so this is only
// meaningful while a stream subscription is active — the ingest layer
// enforces that precondition.
func (c *Client) Upload(ctx context.Context, filename string, data []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("capture upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("capture upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("capture upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", &buf)
	if err != nil {
		return fmt.Errorf("capture upload: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.control.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", packet.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("capture upload: server returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", packet.ErrTransport, err)
	}
	resp, err := c.control.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", packet.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: %s returned %s", packet.ErrTransport, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", packet.ErrTransport, path, err)
	}
	return nil
}
