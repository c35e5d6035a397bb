// Package notify delivers risk alerts to operator channels. A Notifier fans
// one alert out to every configured channel and filters by event type, so an
// operator can subscribe to liquidation_risk without the depeg noise.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// senderTimeout bounds one delivery attempt per channel.
const senderTimeout = 10 * time.Second

// Sender delivers one formatted alert to a single operator channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel in logs, e.g. "telegram".
	Name() string
}

// Notifier fans alerts out to the configured channels. When an event allow
// list is set, Notify drops alerts whose event is not on it; an empty list
// passes everything through.
type Notifier struct {
	senders []Sender
	allowed map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders, filtered to
// the listed event types (empty means all).
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the alert to every channel unless the event is filtered
// out. Per-channel failures are joined into one error; a failing channel
// never blocks delivery to the others.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.allowed) > 0 && !n.allowed[event] {
		n.logger.DebugContext(ctx, "alert filtered out",
			slog.String("event", event),
		)
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "alert delivery failed",
				slog.String("channel", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert delivered",
			slog.String("channel", s.Name()),
			slog.String("event", event),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d channel(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// postJSON sends a JSON payload to an HTTP endpoint and checks for a 2xx
// response. The error prefix names the channel.
func postJSON(ctx context.Context, client *http.Client, channel, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", channel, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: unexpected status %d: %s", channel, resp.StatusCode, string(respBody))
	}
	return nil
}
