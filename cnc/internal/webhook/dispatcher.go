// Package webhook delivers domain events to registered subscribers over
// HTTP. A subscription names a URL and a list of event types it cares about;
// every delivery attempt, success or failure, is persisted to the delivery
// log so operators can audit what was sent and retry by hand if needed.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/woly-io/woly/cnc/internal/db"
	"github.com/woly-io/woly/cnc/internal/repositories"
)

// Config holds the dispatcher's tunables.
type Config struct {
	DeliveryTimeout time.Duration
	RetryBaseDelay  time.Duration
	MaxAttempts     int
}

// Metrics receives delivery outcome counters. Implemented by the metrics
// package.
type Metrics interface {
	WebhookDelivery(status string)
}

// body is the JSON payload POSTed to every subscriber, regardless of event
// type — subscribers distinguish events via the Event field and the
// X-Woly-Event header.
type body struct {
	Event       string `json:"event"`
	Data        any    `json:"data"`
	DeliveredAt string `json:"deliveredAt"`
}

// Dispatcher fans an event out to every subscription registered for it.
type Dispatcher struct {
	subs       repositories.WebhookRepository
	deliveries repositories.WebhookDeliveryRepository
	cfg        Config
	metrics    Metrics
	client     *http.Client
	logger     *zap.Logger
}

// New creates a Dispatcher.
func New(subs repositories.WebhookRepository, deliveries repositories.WebhookDeliveryRepository, cfg Config, metrics Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		subs:       subs,
		deliveries: deliveries,
		cfg:        cfg,
		metrics:    metrics,
		client:     &http.Client{Timeout: cfg.DeliveryTimeout},
		logger:     logger.Named("webhook"),
	}
}

// Publish looks up every subscription registered for eventType and delivers
// to each asynchronously. It returns immediately; delivery outcomes land in
// the delivery log, not in this call's return value, since no caller should
// block on a third party's HTTP endpoint.
func (d *Dispatcher) Publish(eventType string, data any) {
	ctx := context.Background()

	subs, err := d.subs.ListSubscribedTo(ctx, eventType)
	if err != nil {
		d.logger.Error("failed to list webhook subscriptions", zap.String("event", eventType), zap.Error(err))
		return
	}
	if len(subs) == 0 {
		return
	}

	payload := body{
		Event:       eventType,
		Data:        data,
		DeliveredAt: time.Now().UTC().Format(time.RFC3339),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("failed to marshal webhook payload", zap.String("event", eventType), zap.Error(err))
		return
	}

	for i := range subs {
		sub := subs[i]
		go d.deliverWithRetry(&sub, eventType, encoded)
	}
}

// deliverWithRetry attempts delivery up to cfg.MaxAttempts times, with an
// exponential backoff between attempts, recording every attempt.
func (d *Dispatcher) deliverWithRetry(sub *db.WebhookSubscription, eventType string, encoded []byte) {
	ctx := context.Background()

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		status, err := d.deliver(ctx, sub, encoded)

		log := &db.WebhookDeliveryLog{
			WebhookID:      sub.ID,
			EventType:      eventType,
			Attempt:        attempt,
			ResponseStatus: status,
			Payload:        string(encoded),
		}
		if err != nil {
			log.Status = "failed"
			log.Error = err.Error()
		} else {
			log.Status = "success"
		}
		d.metrics.WebhookDelivery(log.Status)
		if createErr := d.deliveries.Create(ctx, log); createErr != nil {
			d.logger.Error("failed to persist webhook delivery log",
				zap.String("webhookId", sub.ID.String()), zap.Error(createErr))
		}

		if err == nil {
			return
		}

		if attempt < d.cfg.MaxAttempts {
			delay := d.cfg.RetryBaseDelay * time.Duration(1<<uint(attempt-1))
			time.Sleep(delay)
		}
	}

	d.metrics.WebhookDelivery("exhausted")
	d.logger.Warn("webhook delivery exhausted retries",
		zap.String("webhookId", sub.ID.String()), zap.String("event", eventType))
}

// deliver performs a single POST attempt, returning the response status code
// (0 if the request never completed) and a non-nil error on any failure.
func (d *Dispatcher) deliver(ctx context.Context, sub *db.WebhookSubscription, encoded []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(encoded))
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %s", ErrDeliveryFailed, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "woly-webhook/1.0")

	// This iteration's event type is embedded in the payload's "event" field;
	// the header is a convenience so subscribers can route without parsing
	// the body first.
	var payloadView struct {
		Event string `json:"event"`
	}
	_ = json.Unmarshal(encoded, &payloadView)
	req.Header.Set("X-Woly-Event", payloadView.Event)

	if sub.Secret != "" {
		sig := hmacSHA256(encoded, string(sub.Secret))
		req.Header.Set("X-Woly-Signature", "sha256="+sig)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("%w: non-2xx status %d", ErrDeliveryFailed, resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func hmacSHA256(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
