package pool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/yumosx/gatewaypool/internal/gatewayconfig"
	"github.com/yumosx/gatewaypool/internal/jsoncodec"
	"github.com/yumosx/gatewaypool/internal/worker"
)

// dispatchClient is the dispatcher's outbound HTTP client, grounded on
// slimsag-http-server-stabilizer's ReverseProxy-shaped forwarding model
// (Director/ErrorHandler) but adapted: this dispatcher needs worker
// selection, retry, and circuit-breaker bookkeeping around each hop, so
// it issues its own requests instead of delegating to
// httputil.ReverseProxy directly.
type dispatchClient struct {
	cfg    gatewayconfig.DispatcherConfig
	client *http.Client
	codec  jsoncodec.Codec
}

func newDispatchClient(cfg gatewayconfig.DispatcherConfig) *dispatchClient {
	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 2 * time.Second}).DialContext,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}
	// ConfigureTransport enables HTTP/2 only for TLS connections (ALPN);
	// the children are reached over plain http:// loopback URLs, so these
	// requests stay on HTTP/1.1.
	_ = http2.ConfigureTransport(transport)

	codec, err := jsoncodec.New(jsoncodec.TypeJSON)
	if err != nil {
		codec = &jsoncodec.JSONCodec{}
	}

	return &dispatchClient{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
		codec:  codec,
	}
}

func workerBaseURL(w *worker.Worker) string {
	return fmt.Sprintf("http://127.0.0.1:%d", w.Port())
}

// do issues one HTTP request against the worker with the given timeout,
// returning the status code and response body bytes.
func (c *dispatchClient) do(ctx context.Context, w *worker.Worker, method, path string, body []byte, headers map[string]string, timeout time.Duration) (int, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, workerBaseURL(w)+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// fetchModels issues GET /v1/models against the given worker and decodes
// the OpenAI list-shape response into a plain ID slice.
func (c *dispatchClient) fetchModels(ctx context.Context, w *worker.Worker) ([]string, error) {
	status, body, err := c.do(ctx, w, http.MethodGet, "/v1/models", nil, nil, c.cfg.ModelsTimeout)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("worker %d: /v1/models returned status %d", w.ID, status)
	}

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.codec.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}

	ids := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// healthCheckLayered implements the Rust original's leveled health check
// (SPEC_FULL.md §11): level 0 is a bare TCP dial, level 1 adds a /health
// GET.
func (c *dispatchClient) healthCheckLayered(w *worker.Worker, level int) (bool, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", w.Port())
	conn, err := net.DialTimeout("tcp", addr, 1*time.Second)
	if err != nil {
		return false, nil
	}
	conn.Close()
	if level <= 0 {
		return true, nil
	}

	status, _, err := c.do(context.Background(), w, http.MethodGet, "/health", nil, nil, c.cfg.HealthTimeout)
	if err != nil {
		return false, nil
	}
	return status == http.StatusOK, nil
}
