package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/outagewatch/internal/domain"
)

// Notifier delivers a human-facing message about an outage transition.
// Sends are best effort: the pipeline never waits on or fails with them.
type Notifier interface {
	Send(ctx context.Context, title, text string) error
}

// Multi fans a message out to every configured channel. Delivery is
// attempted on all of them; the first error is reported.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, title, text string) error {
	var firstErr error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, title, text); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// OutageOpened formats the open-event message.
func OutageOpened(ev *domain.OutageEvent) (title, text string) {
	title = "🔴 Outage confirmed"
	text = fmt.Sprintf(
		"Targets: %s\nProbes: %s\nConsensus: %.0f%%\nSince: %s",
		joinTargets(ev.AffectedTargets),
		joinProbes(ev.AffectedProbes),
		ev.ConsensusLevel,
		ev.StartTime.Format(time.RFC3339),
	)
	return title, text
}

// OutageClosed formats the close-event message.
func OutageClosed(eventID string, endTime time.Time, durationSeconds int64) (title, text string) {
	title = "🟢 Outage resolved"
	text = fmt.Sprintf(
		"Event: %s\nEnded: %s\nDuration: %ds",
		eventID, endTime.Format(time.RFC3339), durationSeconds,
	)
	return title, text
}

func joinTargets(ids []domain.TargetID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}

func joinProbes(ids []domain.ProbeID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}

// Log writes the notification to the structured log. Always configured, so
// outage transitions leave a trace even when no webhook is set.
type Log struct {
	Logger *zap.Logger
}

func (l *Log) Send(ctx context.Context, title, text string) error {
	l.Logger.Warn("notification",
		zap.String("title", title),
		zap.String("text", text),
	)
	return nil
}

// Slack posts to an incoming-webhook URL.
type Slack struct {
	Webhook string
	Client  *http.Client
}

func NewSlack(webhook string) *Slack {
	if webhook == "" {
		return nil
	}
	return &Slack{
		Webhook: webhook,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type slackPayload struct {
	Text string `json:"text"`
}

func (s *Slack) Send(ctx context.Context, title, text string) error {
	if s == nil || s.Webhook == "" {
		return errors.New("slack disabled")
	}
	body, _ := json.Marshal(slackPayload{Text: "*" + title + "*\n" + text})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.Webhook, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return errors.New("slack non-2xx")
	}
	return nil
}
