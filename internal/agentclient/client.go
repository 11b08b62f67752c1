// ABOUTME: Signed HTTP client for controller-to-agent calls
// ABOUTME: Wraps retryablehttp with per-call-class timeouts and typed errors

package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/Baron-Systems/fb/internal/protocol"
	"github.com/Baron-Systems/fb/internal/store"
)

// Default timeouts per call class. Backups are long-running on the agent
// side, so transfers get far more headroom than control calls.
const (
	DefaultControlTimeout  = 30 * time.Second
	DefaultTransferTimeout = 120 * time.Second
)

// Config carries the tunable client timeouts. Zero values fall back to the
// defaults so an absent agents section in the config file still works.
type Config struct {
	ControlTimeout  time.Duration
	TransferTimeout time.Duration
}

// maxErrorBody caps how much of an agent error response is kept for
// diagnostics and audit detail.
const maxErrorBody = 2000

// ErrUnreachable wraps transport-level failures: connection refused, DNS,
// timeouts. The agent never saw the request, or never answered it.
var ErrUnreachable = errors.New("agent unreachable")

// StatusError is a non-2xx response from the agent. Body is snipped.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("agent returned HTTP %d: %s", e.Code, e.Body)
}

// Client talks to backup agents over their signed HTTP API. Control calls
// that are idempotent (listing, artifact pulls) are retried; backup triggers
// are never retried because a timed-out trigger may still be running.
type Client struct {
	control  *retryablehttp.Client
	transfer *retryablehttp.Client
	trigger  *http.Client
	logger   *slog.Logger

	now func() time.Time
}

// New creates an agent client using the configured timeouts.
func New(cfg Config) *Client {
	if cfg.ControlTimeout <= 0 {
		cfg.ControlTimeout = DefaultControlTimeout
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = DefaultTransferTimeout
	}

	control := retryablehttp.NewClient()
	control.RetryMax = 2
	control.RetryWaitMin = 250 * time.Millisecond
	control.RetryWaitMax = 2 * time.Second
	control.HTTPClient.Timeout = cfg.ControlTimeout
	control.Logger = nil

	transfer := retryablehttp.NewClient()
	transfer.RetryMax = 2
	transfer.RetryWaitMin = 250 * time.Millisecond
	transfer.RetryWaitMax = 2 * time.Second
	transfer.HTTPClient.Timeout = cfg.TransferTimeout
	transfer.Logger = nil

	return &Client{
		control:  control,
		transfer: transfer,
		trigger:  &http.Client{Timeout: cfg.TransferTimeout},
		logger:   slog.Default().With("component", "agentclient"),
		now:      time.Now,
	}
}

// SetClock overrides the signing clock. Test use only.
func (c *Client) SetClock(now func() time.Time) {
	c.now = now
}

// TriggerBackup asks the agent to back up one (stack, site) pair. The
// agent's JSON result is returned as-is so the orchestrator can embed it in
// the run manifest. Not retried.
func (c *Client) TriggerBackup(ctx context.Context, agent *store.Agent, stack, site string) (map[string]any, error) {
	body := map[string]any{"stack": stack, "site": site}
	payload, err := protocol.CanonicalJSON(body)
	if err != nil {
		return nil, fmt.Errorf("encoding backup request: %w", err)
	}

	path := "/api/backup_site"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, agent.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building backup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.sign(req, agent.SharedSecret, path, body); err != nil {
		return nil, err
	}

	resp, err := c.trigger.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	return decodeResult(resp)
}

// ListSites asks the agent which (stack, site) pairs it can back up.
func (c *Client) ListSites(ctx context.Context, agent *store.Agent) (map[string]any, error) {
	path := "/api/list_sites"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, agent.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building list request: %w", err)
	}
	if err := c.sign(req.Request, agent.SharedSecret, path, nil); err != nil {
		return nil, err
	}

	resp, err := c.control.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	return decodeResult(resp)
}

// PullArtifact streams one produced artifact from the agent to dst. The
// artifact path rides in the query string and is also the signed body, so a
// tampered query fails verification on the agent.
func (c *Client) PullArtifact(ctx context.Context, agent *store.Agent, artifactPath, dst string) error {
	path := "/api/pull_artifact"
	u := agent.BaseURL + path + "?path=" + url.QueryEscape(artifactPath)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building pull request: %w", err)
	}
	signedBody := map[string]any{"path": artifactPath}
	if err := c.sign(req.Request, agent.SharedSecret, path, signedBody); err != nil {
		return err
	}

	resp, err := c.transfer.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return snipStatusError(resp)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	return out.Close()
}

// sign stamps the request with the timestamp and HMAC headers the agent
// verifies. body must be the same value whose canonical form the agent
// recomputes on its side.
func (c *Client) sign(req *http.Request, secret, path string, body any) error {
	ts := c.now().Unix()
	sig, err := protocol.Sign(secret, ts, req.Method, path, body)
	if err != nil {
		return fmt.Errorf("signing request: %w", err)
	}
	req.Header.Set(protocol.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(protocol.HeaderSignature, sig)
	return nil
}

// decodeResult reads a JSON object response, converting non-2xx statuses
// into StatusError with a snipped body.
func decodeResult(resp *http.Response) (map[string]any, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, snipStatusError(resp)
	}

	var result map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding agent response: %w", err)
	}
	return result, nil
}

func snipStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody+1))
	body := string(raw)
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &StatusError{Code: resp.StatusCode, Body: body}
}
