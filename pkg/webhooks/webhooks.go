package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/coursehub/pkg/audit"
	"github.com/platinummonkey/coursehub/pkg/observability"
)

// Delivery headers
const (
	HeaderEvent     = "X-Coursehub-Event"
	HeaderDelivery  = "X-Coursehub-Delivery"
	HeaderSignature = "X-Coursehub-Signature"
)

// DefaultEvents are forwarded when Config.Events is empty
var DefaultEvents = []audit.EventType{
	audit.EventTypeAccessGrant,
	audit.EventTypeAccessRevoke,
	audit.EventTypeAccessSet,
	audit.EventTypeDataCourseCreate,
	audit.EventTypeDataCourseDelete,
}

// Config configures outbound delivery
type Config struct {
	URLs   []string
	Secret string
	Events []audit.EventType

	Timeout      time.Duration
	QueueSize    int
	Workers      int
	DrainTimeout time.Duration
	Retry        RetryConfig
}

// Payload is the JSON body posted to every receiver
type Payload struct {
	ID        string            `json:"id"`
	Type      audit.EventType   `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Event     *audit.AuditEvent `json:"event"`
}

type delivery struct {
	url       string
	id        string
	eventType audit.EventType
	body      []byte
}

// Dispatcher posts selected audit events to the configured receivers.
// Deliveries are queued and sent by a fixed pool of workers; a full queue
// drops the delivery rather than blocking the caller.
type Dispatcher struct {
	cfg     Config
	client  *http.Client
	events  map[audit.EventType]bool
	policy  *RetryPolicy
	metrics *observability.Metrics
	logger  *observability.Logger

	queue  chan delivery
	group  errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher validates the receiver URLs and starts the worker pool
func NewDispatcher(cfg Config, metrics *observability.Metrics, logger *observability.Logger) (*Dispatcher, error) {
	if len(cfg.URLs) == 0 {
		return nil, fmt.Errorf("at least one webhook URL is required")
	}
	for _, raw := range cfg.URLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid webhook URL %q", raw)
		}
	}
	if len(cfg.Events) == 0 {
		cfg.Events = DefaultEvents
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}

	events := make(map[audit.EventType]bool, len(cfg.Events))
	for _, e := range cfg.Events {
		events[e] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		events:  events,
		policy:  NewRetryPolicy(cfg.Retry),
		metrics: metrics,
		logger:  logger.WithField("component", "webhooks"),
		queue:   make(chan delivery, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		d.group.Go(d.work)
	}
	return d, nil
}

// Deliver queues the event for every receiver. Events that are not
// selected, or did not succeed, are ignored. It never blocks.
func (d *Dispatcher) Deliver(ctx context.Context, event *audit.AuditEvent) error {
	if !d.events[event.EventType] || event.Status != audit.EventStatusSuccess {
		return nil
	}

	payload := Payload{
		ID:        uuid.New().String(),
		Type:      event.EventType,
		Timestamp: event.Timestamp,
		Event:     event,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil
	}

	for _, target := range d.cfg.URLs {
		select {
		case d.queue <- delivery{url: target, id: payload.ID, eventType: event.EventType, body: body}:
		default:
			d.metrics.WebhookDeliveriesTotal.WithLabelValues("dropped").Inc()
			d.logger.WithFields(map[string]interface{}{
				"url":        target,
				"event_type": string(event.EventType),
			}).Warn("Webhook queue full, dropping delivery")
		}
	}
	return nil
}

// Close stops accepting events and waits for queued deliveries. Retries
// still pending after the drain timeout are abandoned.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- d.group.Wait() }()

	select {
	case err := <-done:
		d.cancel()
		return err
	case <-time.After(d.cfg.DrainTimeout):
		d.cancel()
		return <-done
	}
}

func (d *Dispatcher) work() error {
	for job := range d.queue {
		d.send(job)
	}
	return nil
}

// send delivers one job, retrying with backoff
func (d *Dispatcher) send(job delivery) {
	entry := d.logger.WithFields(map[string]interface{}{
		"url":         job.url,
		"delivery_id": job.id,
		"event_type":  string(job.eventType),
	})

	for attempt := 1; ; attempt++ {
		err := d.post(d.ctx, job)
		if err == nil {
			d.metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
			entry.WithField("attempts", attempt).Debug("Webhook delivered")
			return
		}

		if !d.policy.ShouldRetry(attempt, err) {
			d.metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
			entry.WithError(err).WithField("attempts", attempt).Warn("Webhook delivery failed")
			return
		}

		d.metrics.WebhookDeliveriesTotal.WithLabelValues("retry").Inc()
		if sleepContext(d.ctx, d.policy.NextRetryDelay(attempt)) != nil {
			d.metrics.WebhookDeliveriesTotal.WithLabelValues("abandoned").Inc()
			entry.WithError(err).Warn("Webhook delivery abandoned at shutdown")
			return
		}
	}
}

func (d *Dispatcher) post(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.url, bytes.NewReader(job.body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(job.eventType))
	req.Header.Set(HeaderDelivery, job.id)
	if d.cfg.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(job.body, d.cfg.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Sign returns the HMAC-SHA256 signature header value for payload
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by Sign
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
