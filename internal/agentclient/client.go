// Package agentclient is the agent's HTTP transport to the coordinator.
// Every call here returns either a *TransportError (coordinator
// unreachable, malformed reply) or a *LogicalError (the envelope itself
// says status == "err"), never a bare error, so callers can pick a retry
// strategy without re-parsing error strings.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/Dash83/cluster/internal/agentmetrics"
	"github.com/Dash83/cluster/internal/clusterid"
	"github.com/Dash83/cluster/internal/clustertype"
)

// TransportError means the coordinator could not be reached or its reply
// could not be parsed. Retryable with backoff.
type TransportError struct{ Err error }

func (e *TransportError) Error() string { return fmt.Sprintf("agentclient: transport: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// LogicalError means the coordinator replied with {"status":"err"}: it is
// reachable and has rejected the request, so retrying verbatim is useless.
type LogicalError struct{ Msg string }

func (e *LogicalError) Error() string { return fmt.Sprintf("agentclient: coordinator error: %s", e.Msg) }

// Client is a thin HTTP binding of the coordinator's API endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client against baseURL (e.g. "http://coordinator:8080").
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

type envelope struct {
	Status  string          `json:"status"`
	Payload json.RawMessage `json:"payload"`
	Msg     string          `json:"msg"`
}

func (c *Client) get(ctx context.Context, p string) (envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+p, nil)
	if err != nil {
		return envelope{}, &TransportError{Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return envelope{}, &TransportError{Err: err}
	}
	if env.Status == "err" {
		return envelope{}, &LogicalError{Msg: env.Msg}
	}
	return env, nil
}

// Register implements GET /api/host/register/{hostname}. The returned host
// record is the identity the agent must adopt — on a re-registration after
// a coordinator restart the id may differ from the one it held before.
func (c *Client) Register(ctx context.Context, hostname string) (clustertype.Host, error) {
	env, err := c.get(ctx, "/api/host/register/"+url.PathEscape(hostname))
	if err != nil {
		return clustertype.Host{}, err
	}
	var host clustertype.Host
	if err := json.Unmarshal(env.Payload, &host); err != nil {
		return clustertype.Host{}, &TransportError{Err: err}
	}
	return host, nil
}

// Current implements GET /api/current. A response of {"status":"ok",
// "payload":null} (nothing current) is reported as ok=false, not an error.
func (c *Client) Current(ctx context.Context) (id clusterid.InvocationID, ok bool, err error) {
	env, err := c.get(ctx, "/api/current")
	if err != nil {
		return clusterid.InvocationID{}, false, err
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return clusterid.InvocationID{}, false, nil
	}
	if err := json.Unmarshal(env.Payload, &id); err != nil {
		return clusterid.InvocationID{}, false, &TransportError{Err: err}
	}
	return id, true, nil
}

// Invocation implements GET /api/invocation/{id}.
func (c *Client) Invocation(ctx context.Context, id clusterid.InvocationID) (clustertype.Invocation, error) {
	env, err := c.get(ctx, "/api/invocation/"+id.String())
	if err != nil {
		return clustertype.Invocation{}, err
	}
	var inv clustertype.Invocation
	if err := json.Unmarshal(env.Payload, &inv); err != nil {
		return clustertype.Invocation{}, &TransportError{Err: err}
	}
	return inv, nil
}

// PushStatus implements GET /api/host/status/{id}/idle and
// GET /api/host/status/{id}/{tag}/{inv}, optionally carrying a
// resource-usage snapshot as query parameters — additive to the wire
// envelope, read by the coordinator for dashboard display only.
func (c *Client) PushStatus(ctx context.Context, hostID clusterid.HostID, state clustertype.HostState, metrics ...agentmetrics.Snapshot) error {
	p := path.Join("/api/host/status", hostID.String())
	if invID, has := state.CurrentInvocation(); has {
		p = path.Join(p, string(state.Desc), invID.String())
	} else {
		p = path.Join(p, "idle")
	}
	if len(metrics) > 0 {
		m := metrics[0]
		q := url.Values{}
		q.Set("cpu", fmt.Sprintf("%.2f", m.CPUPercent))
		q.Set("mem", fmt.Sprintf("%.2f", m.MemPercent))
		q.Set("disk", fmt.Sprintf("%.2f", m.DiskPercent))
		p += "?" + q.Encode()
	}
	_, err := c.get(ctx, p)
	return err
}

// Upload implements POST /api/upload/{inv}/{host}: a single multipart part
// named "log" carrying archivePath's contents.
func (c *Client) Upload(ctx context.Context, invID clusterid.InvocationID, hostID clusterid.HostID, archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("log", path.Base(archivePath))
	if err != nil {
		return &TransportError{Err: err}
	}
	if _, err := io.Copy(part, f); err != nil {
		return &TransportError{Err: err}
	}
	if err := mw.Close(); err != nil {
		return &TransportError{Err: err}
	}

	p := path.Join("/api/upload", invID.String(), hostID.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+p, &body)
	if err != nil {
		return &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &TransportError{Err: err}
	}
	if env.Status == "err" {
		return &LogicalError{Msg: env.Msg}
	}
	return nil
}
