package pool

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// ForwardResult is the (status, body) pair forward_request returns to its
// caller (spec §6: "forward_request(...) → (status, body_bytes)").
type ForwardResult struct {
	Status int
	Body   []byte
}

// ForwardRequest implements forward_request (spec §4.4). GET /v1/models
// bypasses the normal retry path entirely and is served from (or used to
// refresh) the model-list cache; everything else goes through up to
// MaxAttempts selection/forward/retry cycles, with an optional model-name
// rewrite against the cached canonical list.
func (p *Pool) ForwardRequest(ctx context.Context, method, path string, body []byte, headers map[string]string) (ForwardResult, error) {
	if method == http.MethodGet && path == "/v1/models" {
		return p.forwardModels(ctx)
	}

	rewritten := p.rewriteModel(body)

	maxAttempts := p.cfg.Dispatcher.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	retryDelay := p.cfg.Dispatcher.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}
	timeout := p.cfg.Dispatcher.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		w := p.SelectWorker(clientIDFromHeaders(headers))
		if w == nil {
			lastErr = ErrNoWorkerAvailable
			time.Sleep(1 * time.Second)
			continue
		}

		wasHalfOpen := w.IsHalfOpen()
		w.MarkBusyStreaming()
		start := time.Now()
		status, respBody, err := p.httpClient.do(ctx, w, method, path, rewritten, headers, timeout)
		elapsed := time.Since(start)

		isTimeout := err != nil && elapsed >= timeout
		success := err == nil && status < http.StatusInternalServerError
		w.CompleteRequest(success, isTimeout, elapsed, timeout)
		if wasHalfOpen {
			w.ReleaseHalfOpenProbe()
		}

		if err == nil {
			return ForwardResult{Status: status, Body: respBody}, nil
		}

		lastErr = err
		if attempt < maxAttempts-1 {
			time.Sleep(retryDelay)
		}
	}

	return ForwardResult{}, &ErrAllRetriesFailed{Attempts: maxAttempts, Last: lastErr}
}

// forwardModels implements the GET /v1/models branch of forward_request:
// serve the cache if fresh, otherwise attempt a gated refresh from any
// eligible worker.
func (p *Pool) forwardModels(ctx context.Context) (ForwardResult, error) {
	ids, _, err := p.modelCache.get(func() ([]string, error) {
		w := p.leastLoaded()
		if w == nil {
			return nil, ErrNoWorkerAvailable
		}
		return p.httpClient.fetchModels(ctx, w)
	})
	if err != nil {
		return ForwardResult{}, err
	}

	body, err := p.httpClient.codec.Marshal(modelsListEnvelope(ids))
	if err != nil {
		return ForwardResult{}, fmt.Errorf("encode model list: %w", err)
	}
	return ForwardResult{Status: http.StatusOK, Body: body}, nil
}

func modelsListEnvelope(ids []string) map[string]any {
	data := make([]map[string]any, 0, len(ids))
	now := time.Now().Unix()
	for _, id := range ids {
		data = append(data, map[string]any{
			"id":         id,
			"object":     "model",
			"created":    now,
			"owned_by":   "gatewaypool",
		})
	}
	return map[string]any{"object": "list", "data": data}
}

// rewriteModel rewrites the request body's "model" field to the cached
// canonical name when the caller's requested model isn't in the cached
// list (spec §4.4 "model rewrite"). Returns body unchanged if it isn't a
// JSON object, has no model field, or the requested model is already
// known.
func (p *Pool) rewriteModel(body []byte) []byte {
	if len(body) == 0 {
		return body
	}

	var parsed map[string]any
	if err := p.httpClient.codec.Unmarshal(body, &parsed); err != nil {
		return body
	}
	requested, ok := parsed["model"].(string)
	if !ok || requested == "" {
		return body
	}

	known := p.modelCache.snapshot()
	for _, id := range known {
		if id == requested {
			return body
		}
	}

	canonical := p.canonicalModelFor(known)
	if canonical == "" || canonical == requested {
		return body
	}

	parsed["model"] = canonical
	rewritten, err := p.httpClient.codec.Marshal(parsed)
	if err != nil {
		return body
	}
	return rewritten
}

// canonicalModelFor returns the operator-configured canonical model name
// if it's present in the cached list, else the first cached model, else
// empty.
func (p *Pool) canonicalModelFor(known []string) string {
	for _, want := range p.cfg.Dispatcher.CanonicalModels {
		for _, id := range known {
			if id == want {
				return want
			}
		}
	}
	if len(known) > 0 {
		return known[0]
	}
	return ""
}

func clientIDFromHeaders(headers map[string]string) string {
	if headers == nil {
		return ""
	}
	return headers["X-Client-Id"]
}
