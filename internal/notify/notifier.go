// Package notify delivers operator alerts for market lifecycle events.
// Resolutions and disputes fan out to every configured channel; which events
// alert at all is an operator setting, so a busy deployment can page on
// disputes only.
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

// alertTimeout caps one delivery attempt. Alerts are advisory; a slow chat
// API must not hold up the bridge draining the event channel.
const alertTimeout = 10 * time.Second

// Sender delivers one alert over a single channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel in logs and combined errors.
	Name() string
}

// Notifier fans alerts out to every configured sender, filtered by event
// type. An empty filter passes every event.
type Notifier struct {
	senders []Sender
	allowed map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only
// events named in the events list pass the filter; an empty list passes all.
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

// Notify delivers an alert if its event type passes the operator's filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.allowed) > 0 && !n.allowed[event] {
		n.logger.DebugContext(ctx, "alert filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll delivers an alert to every sender, bypassing the event filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch tries every sender even after a failure; one unreachable channel
// must not silence the others. Failures come back joined.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "alert delivery failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert delivered",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

// postJSON sends one JSON payload and treats any non-2xx status as an error,
// quoting the start of the response body for the log line.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}
