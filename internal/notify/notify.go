// Package notify delivers OTP codes and status alerts to the account's
// out-of-band channels. Delivery is fire-and-forget: failures are logged and
// counted, never surfaced to the request path.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sagebank/orchestrator/internal/confirm"
	"github.com/sagebank/orchestrator/internal/idgen"
	"github.com/sagebank/orchestrator/internal/realtime"
)

var (
	notifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "notify",
		Name:      "events_total",
		Help:      "Total notification attempts by event type.",
	}, []string{"event_type"})

	notifyErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "notify",
		Name:      "errors_total",
		Help:      "Total notification delivery failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(notifyTotal, notifyErrors)
}

// EventType classifies outbound notifications.
type EventType string

const (
	EventOTPIssued           EventType = "confirmation.otp_issued"
	EventConfirmationBlocked EventType = "confirmation.blocked"
	EventConfirmationExpired EventType = "confirmation.expired"
)

// Event is one outbound notification.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	AccountID string         `json:"accountId"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Deliverer sends one event to an external channel.
type Deliverer interface {
	Deliver(ctx context.Context, event *Event) error
}

// Sink fans events out to a webhook endpoint and the realtime hub. It
// satisfies the confirmation manager's Notifier dependency.
type Sink struct {
	webhook Deliverer
	hub     *realtime.Hub
	logger  *slog.Logger
}

// NewSink creates a notification sink. Both webhook and hub are optional.
func NewSink(webhook Deliverer, hub *realtime.Hub, logger *slog.Logger) *Sink {
	return &Sink{webhook: webhook, hub: hub, logger: logger}
}

// NotifyOTP delivers a freshly issued OTP code out-of-band. The code goes to
// the webhook channel only; the realtime chat stream gets an alert without
// the code.
func (s *Sink) NotifyOTP(ctx context.Context, accountID, confirmationID, code string) {
	s.emit(accountID, EventOTPIssued, map[string]any{
		"confirmationId": confirmationID,
		"otp":            code,
	})
	if s.hub != nil {
		s.hub.Broadcast(&realtime.Event{
			Type:      realtime.EventConfirmationRequired,
			AccountID: accountID,
			Data:      map[string]any{"confirmationId": confirmationID, "method": "otp"},
		})
	}
}

// NotifyStatus alerts the account that a confirmation reached a terminal
// state it did not ask for (expired, blocked).
func (s *Sink) NotifyStatus(ctx context.Context, accountID, confirmationID string, status confirm.Status) {
	var et EventType
	switch status {
	case confirm.StatusBlocked:
		et = EventConfirmationBlocked
	case confirm.StatusExpired:
		et = EventConfirmationExpired
	default:
		return
	}
	s.emit(accountID, et, map[string]any{
		"confirmationId": confirmationID,
		"status":         string(status),
	})
	if s.hub != nil {
		s.hub.Broadcast(&realtime.Event{
			Type:      realtime.EventConfirmationResolved,
			AccountID: accountID,
			Data:      map[string]any{"confirmationId": confirmationID, "status": string(status)},
		})
	}
}

func (s *Sink) emit(accountID string, et EventType, data map[string]any) {
	if s.webhook == nil {
		return
	}
	notifyTotal.WithLabelValues(string(et)).Inc()
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      et,
		AccountID: accountID,
		Timestamp: time.Now(),
		Data:      data,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.webhook.Deliver(ctx, event); err != nil {
			notifyErrors.WithLabelValues(string(et)).Inc()
			s.logger.Warn("notification delivery failed",
				"event", string(et), "accountId", accountID, "error", err)
		}
	}()
}
