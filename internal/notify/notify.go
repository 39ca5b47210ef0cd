// Package notify implements NotificationSink (spec §4.8): delivering one
// tender/report pair to a subscriber's chat address over an opaque webhook
// transport (the chat-platform sender itself is out of scope per spec §1).
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dataparency-dev/tenderwatch/internal/model"
)

// Outcome is the result of one send attempt.
type Outcome int

const (
	Sent Outcome = iota
	Transient
	Permanent
)

// Sink is the NotificationSink contract.
type Sink interface {
	Send(ctx context.Context, sub model.Subscriber, tn model.Tender, report model.ScoreReport) Outcome
}

type payload struct {
	ChatID string            `json:"chat_id"`
	Tender model.Tender      `json:"tender"`
	Report model.ScoreReport `json:"report"`
}

// HTTPSink is the concrete Sink posting to a configurable webhook endpoint.
type HTTPSink struct {
	endpoint string
	client   *http.Client
	log      logrus.FieldLogger
}

// NewHTTPSink builds an HTTPSink posting to endpoint with the given timeout.
func NewHTTPSink(endpoint string, timeout time.Duration, log logrus.FieldLogger) *HTTPSink {
	return &HTTPSink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

// Send implements Sink. Status code maps to the three outcomes spec §4.8
// names: 2xx is Sent, 429/5xx/timeout is Transient, anything else (4xx
// recipient rejected, deleted, invalid) is Permanent.
func (s *HTTPSink) Send(ctx context.Context, sub model.Subscriber, tn model.Tender, report model.ScoreReport) Outcome {
	body, err := json.Marshal(payload{ChatID: sub.ChatID, Tender: tn, Report: report})
	if err != nil {
		s.log.WithError(err).Error("notification payload marshal failed")
		return Permanent
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		s.log.WithError(err).Error("notification request build failed")
		return Permanent
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.WithError(err).Warn("notification send failed (timeout or connection error), treating as transient")
		return Transient
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode/100 == 2:
		return Sent
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5:
		return Transient
	default:
		s.log.WithField("status", resp.StatusCode).Warn("notification recipient rejected delivery, treating as permanent")
		return Permanent
	}
}
