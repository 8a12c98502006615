// Package webhook posts ticket events to configured HTTP endpoints.
package webhook

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
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gotrs-io/gotrs-intake/internal/config"
	"github.com/gotrs-io/gotrs-intake/internal/intake"
	"github.com/gotrs-io/gotrs-intake/internal/models"
)

const (
	userAgent            = "GOTRS-Intake-Webhook/1.0"
	defaultTimeout       = 10 * time.Second
	defaultRetryInterval = time.Second
)

// Notifier delivers ticket.created to every configured endpoint. Delivery is synchronous
// and bounded by each endpoint's retry_count.
type Notifier struct {
	endpoints []config.WebhookConfig
	client    *http.Client
	next      intake.Notifier
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *zap.Logger
}

type Option func(*Notifier)

// WithNext chains another notifier that runs before the endpoints.
func WithNext(n intake.Notifier) Option {
	return func(w *Notifier) { w.next = n }
}

func WithHTTPClient(c *http.Client) Option {
	return func(w *Notifier) {
		if c != nil {
			w.client = c
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(w *Notifier) {
		if l != nil {
			w.logger = l
		}
	}
}

func withSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Notifier) { w.sleep = fn }
}

func NewNotifier(endpoints []config.WebhookConfig, opts ...Option) *Notifier {
	w := &Notifier{
		endpoints: endpoints,
		client:    &http.Client{},
		now:       time.Now,
		sleep:     sleepContext,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// TicketCreated implements intake.Notifier.
func (w *Notifier) TicketCreated(ctx context.Context, t *models.Ticket, req *intake.Request) error {
	var errs []error
	if w.next != nil {
		if err := w.next.TicketCreated(ctx, t, req); err != nil {
			errs = append(errs, err)
		}
	}
	payload := Payload{
		Event:     EventTicketCreated,
		Timestamp: w.now().UTC(),
		Ticket:    t,
	}
	if req != nil {
		payload.Format = req.Format
		payload.MessageID = req.MessageID
	}
	for _, ep := range w.endpoints {
		payload.Delivery = uuid.NewString()
		if err := w.deliver(ctx, ep, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *Notifier) deliver(ctx context.Context, ep config.WebhookConfig, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("webhook %s: marshal payload: %w", ep.Name, err)
	}
	attempts := ep.RetryCount
	if attempts < 1 {
		attempts = 1
	}
	interval := ep.RetryInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}

	var last *DeliveryError
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			// exponential backoff: interval * (attempt-1)^2
			n := time.Duration((attempt - 1) * (attempt - 1))
			if err := w.sleep(ctx, interval*n); err != nil {
				return &DeliveryError{Endpoint: ep.Name, Attempts: attempt - 1, Err: err}
			}
		}
		start := time.Now()
		status, err := w.post(ctx, ep, p, body)
		log := w.logger.With(
			zap.String("endpoint", ep.Name),
			zap.String("delivery", p.Delivery),
			zap.Int("attempt", attempt),
			zap.Duration("duration", time.Since(start)))
		if err == nil && status >= 200 && status < 300 {
			log.Debug("webhook delivered", zap.Int("status", status))
			return nil
		}
		last = &DeliveryError{Endpoint: ep.Name, Attempts: attempt, Status: status, Err: err}
		log.Warn("webhook delivery failed", zap.Int("status", status), zap.Error(err))
	}
	return last
}

func (w *Notifier) post(ctx context.Context, ep config.WebhookConfig, p Payload, body []byte) (int, error) {
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Webhook-Event", string(p.Event))
	req.Header.Set("X-Webhook-Delivery", p.Delivery)
	for key, value := range ep.Headers {
		req.Header.Set(key, value)
	}
	if ep.Secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(body, ep.Secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

// Sign returns the HMAC-SHA256 signature header value for payload.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func httpStatus(code int) string {
	return fmt.Sprintf("HTTP %d %s", code, http.StatusText(code))
}
