package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"

	"agencyhub/internal/config"
	"agencyhub/internal/domain"
	"agencyhub/internal/engine"
	"agencyhub/internal/logging"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
	webhookMaxAttempts     = 3
	webhookRetryDelay      = 500 * time.Millisecond
	webhookTripFailures    = 5
	webhookOpenTimeout     = 30 * time.Second
)

// errWebhookRejected marks 4xx responses, which are not retried.
var errWebhookRejected = errors.New("webhook rejected")

// WebhookDispatcher forwards audit events to the webhooks in agency.yml.
// Each webhook keeps its own cursor into the audit log.
type WebhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
	logger   *bolt.Logger
	retrier  retry.Retry[*http.Response]
	interval time.Duration

	mu       sync.Mutex
	cursors  map[int]int64
	breakers map[string]circuitbreaker.CircuitBreaker[*http.Response]
}

// NewWebhookDispatcher returns nil when no webhook is configured.
func NewWebhookDispatcher(e engine.Engine, logger *bolt.Logger) *WebhookDispatcher {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return nil
	}
	return &WebhookDispatcher{
		engine:   e,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		logger:   logging.Or(logger),
		retrier: retry.New[*http.Response](retry.Config{
			MaxAttempts:        webhookMaxAttempts,
			InitialDelay:       webhookRetryDelay,
			BackoffPolicy:      retry.BackoffExponential,
			Multiplier:         2.0,
			NonRetryableErrors: []error{errWebhookRejected},
		}),
		interval: defaultWebhookInterval,
		cursors:  make(map[int]int64),
		breakers: make(map[string]circuitbreaker.CircuitBreaker[*http.Response]),
	}
}

// Run polls until ctx is done.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers one batch to every enabled webhook.
func (d *WebhookDispatcher) DispatchOnce(ctx context.Context) {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx)
	events, err := d.engine.Repo.AuditEventsAfter(ctx, defaultWebhookBatch, cursor)
	if err != nil {
		logging.With(d.logger.Error(), logging.Component("webhooks"), logging.Err(err)).Msg("fetch audit events failed")
		return
	}
	if len(events) == 0 {
		return
	}
	filter := newEventFilter(hook.Events)
	batch := make([]webhookEvent, 0, len(events))
	for _, evt := range events {
		if filter.match(evt.Type) {
			batch = append(batch, newWebhookEvent(evt))
		}
	}
	last := events[len(events)-1].ID
	if len(batch) > 0 {
		start := time.Now()
		if err := d.post(ctx, hook, batch); err != nil {
			logging.With(d.logger.Warn(), logging.Component("webhooks"), logging.URL(hook.URL), logging.Count(len(batch)), logging.Err(err)).
				Msg("webhook delivery failed")
			// A rejected batch will never succeed; skip it instead of blocking the cursor.
			if errors.Is(err, errWebhookRejected) {
				d.setCursor(idx, last)
			}
			return
		}
		logging.With(d.logger.Debug(), logging.Component("webhooks"), logging.URL(hook.URL), logging.Count(len(batch)), logging.Duration(time.Since(start))).
			Msg("webhook delivered")
	}
	d.setCursor(idx, last)
}

// cursorFor starts new webhooks at the current end of the log.
func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.engine.Repo.LatestAuditEventID(ctx)
	if err != nil {
		logging.With(d.logger.Warn(), logging.Component("webhooks"), logging.Err(err)).Msg("init cursor failed")
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

func (d *WebhookDispatcher) breaker(url string) circuitbreaker.CircuitBreaker[*http.Response] {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.breakers[url]; ok {
		return b
	}
	b := circuitbreaker.New[*http.Response](circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    webhookOpenTimeout,
		Timeout:     webhookOpenTimeout,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return counts.ConsecutiveFailures >= webhookTripFailures
		},
		// A 4xx means the endpoint is up; only outages trip the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errWebhookRejected)
		},
	})
	d.breakers[url] = b
	return b
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func newWebhookEvent(evt domain.AuditEvent) webhookEvent {
	payload := json.RawMessage("{}")
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage(evt.Payload)
		} else {
			raw = evt.Payload
		}
	}
	return webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	}
}

// signPayload returns "sha256=<hex hmac>" of payload keyed by secret.
func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (d *WebhookDispatcher) post(ctx context.Context, hook config.WebhookConfig, batch []webhookEvent) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	_, err = d.breaker(hook.URL).Execute(ctx, func(ctx context.Context) (*http.Response, error) {
		return d.retrier.Do(ctx, func(ctx context.Context) (*http.Response, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", errWebhookRejected, err)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Agency-Delivery", strconv.FormatInt(batch[len(batch)-1].ID, 10))
			req.Header.Set("X-Agency-Event-Count", strconv.Itoa(len(batch)))
			if strings.TrimSpace(hook.Secret) != "" {
				req.Header.Set("X-Agency-Signature", signPayload(data, hook.Secret))
			}
			res, err := d.client.Do(req)
			if err != nil {
				return nil, err
			}
			defer res.Body.Close()
			if res.StatusCode >= 200 && res.StatusCode < 300 {
				return res, nil
			}
			body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
			if res.StatusCode >= 500 {
				return nil, fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
			}
			return nil, fmt.Errorf("%w: status %d: %s", errWebhookRejected, res.StatusCode, strings.TrimSpace(string(body)))
		})
	})
	return err
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
