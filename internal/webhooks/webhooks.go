// Package webhooks POSTs finished run reports to configured URLs.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout     = 2 * time.Second
	defaultConcurrency = 4
)

// Payload is the webhook body for a finished run.
type Payload struct {
	Kind      string          `json:"kind"`
	RunID     string          `json:"run_id"`
	SourceID  string          `json:"source_id"`
	TargetID  string          `json:"target_id,omitempty"`
	DryRun    bool            `json:"dry_run"`
	Phase     string          `json:"phase"`
	Status    string          `json:"status"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Error     string          `json:"error,omitempty"`
	Report    json.RawMessage `json:"report"`
}

// NewPayload encodes report into a payload
func NewPayload(kind, runID, sourceID, targetID string, dryRun bool, phase string, runErr error, errKind string, report any) (Payload, error) {
	raw, err := json.Marshal(report)
	if err != nil {
		return Payload{}, fmt.Errorf("encode webhook report: %w", err)
	}
	p := Payload{
		Kind:      kind,
		RunID:     runID,
		SourceID:  sourceID,
		TargetID:  targetID,
		DryRun:    dryRun,
		Phase:     phase,
		Status:    "succeeded",
		ErrorKind: errKind,
		Report:    raw,
	}
	if runErr != nil {
		p.Status = "failed"
		p.Error = runErr.Error()
	}
	return p, nil
}

// Dispatcher sends payloads to a fixed set of URLs. Delivery failures are
// logged and never fail the run.
type Dispatcher struct {
	urls        []string
	client      *http.Client
	concurrency int
	logger      *zap.Logger
}

// NewDispatcher creates a dispatcher; a nil logger is replaced with a no-op logger
func NewDispatcher(urls []string, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		urls:        urls,
		client:      &http.Client{Timeout: timeout},
		concurrency: defaultConcurrency,
		logger:      logger,
	}
}

// Enabled reports whether any URL is configured
func (d *Dispatcher) Enabled() bool {
	return d != nil && len(d.urls) > 0
}

// Targets templates, normalizes and de-dupes the configured URLs for payload.
func (d *Dispatcher) Targets(payload Payload) []string {
	return normalizeWebhookURLs(d.urls, payload, d.logger)
}

// Dispatch delivers payload to every target and waits for all of them.
// It returns the number of targets that answered with a 2xx status.
func (d *Dispatcher) Dispatch(ctx context.Context, payload Payload) int {
	if !d.Enabled() {
		return 0
	}
	urls := d.Targets(payload)
	if len(urls) == 0 {
		return 0
	}

	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Warn("webhooks: failed to encode payload", zap.Error(err))
		return 0
	}

	workers := d.concurrency
	if len(urls) < workers {
		workers = len(urls)
	}

	var (
		mu        sync.Mutex
		delivered int
	)
	jobs := make(chan string)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for endpoint := range jobs {
				if d.send(ctx, endpoint, body) {
					mu.Lock()
					delivered++
					mu.Unlock()
				}
			}
		}()
	}

	for _, endpoint := range urls {
		jobs <- endpoint
	}
	close(jobs)
	wg.Wait()
	return delivered
}

func (d *Dispatcher) send(ctx context.Context, endpoint string, body []byte) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		d.logger.Warn("webhooks: build request failed", zap.String("url", endpoint), zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("webhooks: request failed", zap.String("url", endpoint), zap.Error(err))
		return false
	}
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.logger.Warn("webhooks: unexpected status", zap.String("url", endpoint), zap.Int("status", resp.StatusCode))
		return false
	}
	return true
}

func normalizeWebhookURLs(urls []string, payload Payload, logger *zap.Logger) []string {
	if len(urls) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(urls))
	var normalized []string

	for _, raw := range urls {
		templated := strings.TrimSpace(applyTemplate(strings.TrimSpace(raw), payload))
		templated = strings.TrimRight(templated, "/")
		if templated == "" {
			continue
		}
		if !isValidWebhookURL(templated) {
			logger.Warn("webhooks: skipping invalid url", zap.String("url", templated))
			continue
		}
		if _, ok := seen[templated]; ok {
			continue
		}
		seen[templated] = struct{}{}
		normalized = append(normalized, templated)
	}

	return normalized
}

func applyTemplate(raw string, payload Payload) string {
	result := strings.ReplaceAll(raw, "{run_id}", url.PathEscape(payload.RunID))
	result = strings.ReplaceAll(result, "{kind}", url.PathEscape(payload.Kind))
	result = strings.ReplaceAll(result, "{source_id}", url.PathEscape(payload.SourceID))
	return result
}

func isValidWebhookURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	if parsed.Host == "" {
		return false
	}
	return true
}
