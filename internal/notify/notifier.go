package notify

import (
	"context"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// SeverityError marks alerts that need operator attention
const SeverityError = "ERROR"

// Notifier delivers operational alerts. Implementations must not block
// the caller and must not surface delivery failures to it; a lost alert
// never affects the operation that raised it.
type Notifier interface {
	Notify(ctx context.Context, event, message string)
}

// Webhook posts alerts as JSON to a configured HTTP endpoint
type Webhook struct {
	url     string
	client  *resty.Client
	logger  zerolog.Logger
	pending sync.WaitGroup
}

type alertPayload struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Event    string `json:"event"`
}

// NewWebhook creates a webhook notifier posting to the given URL
func NewWebhook(url string, logger zerolog.Logger) *Webhook {
	return &Webhook{
		url:    url,
		client: resty.New().SetTimeout(5 * time.Second),
		logger: logger.With().Str("component", "notifier").Logger(),
	}
}

// Notify delivers the alert in the background. Delivery runs on a
// detached context so a finished request cannot cancel it; failures are
// logged, never returned.
func (w *Webhook) Notify(ctx context.Context, event, message string) {
	if w.url == "" {
		// No URL configured, skip delivery
		return
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 6*time.Second)

	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		defer cancel()

		resp, err := w.client.R().
			SetContext(sendCtx).
			SetBody(alertPayload{Message: message, Severity: SeverityError, Event: event}).
			Post(w.url)
		if err != nil {
			w.logger.Warn().Err(err).Str("event", event).Msg("notification delivery failed")
			return
		}
		if resp.IsError() {
			w.logger.Warn().Int("status", resp.StatusCode()).Str("event", event).Msg("notification rejected")
		}
	}()
}

// Flush blocks until queued notifications finish delivering. Used on
// shutdown and in tests.
func (w *Webhook) Flush() {
	w.pending.Wait()
}

// Log writes alerts to the service log only, for deployments without a
// notification endpoint
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a log-only notifier
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "notifier").Logger()}
}

// Notify logs the alert
func (l *Log) Notify(_ context.Context, event, message string) {
	l.logger.Warn().Str("event", event).Msg(message)
}

// Nop discards alerts
type Nop struct{}

// Notify does nothing
func (Nop) Notify(context.Context, string, string) {}

// Multi fans an alert out to every wrapped notifier in order
type Multi []Notifier

// Notify delivers the alert to each notifier
func (m Multi) Notify(ctx context.Context, event, message string) {
	for _, n := range m {
		n.Notify(ctx, event, message)
	}
}
