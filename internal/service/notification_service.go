package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/lab-status-service/internal/config"
	"github.com/spec-kit/lab-status-service/internal/events"
)

// NotificationService handles emitting notifications for lifecycle events.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
	webhook    *resty.Client
}

// webhookMessage is the JSON body posted to the notification webhook.
type webhookMessage struct {
	Text  string       `json:"text"`
	Event events.Event `json:"event"`
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	n := &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
	if url := strings.TrimSpace(cfg.WebhookURL); url != "" {
		n.webhook = resty.New().
			SetTimeout(5*time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500*time.Millisecond).
			SetRetryMaxWaitTime(2*time.Second).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json")
	}
	return n
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventAssetDefectReported, n.handleDefectReported)
	n.dispatcher.Subscribe(events.EventAssetFixed, n.handleAssetFixed)
	n.dispatcher.Subscribe(events.EventFixAmended, n.handleFixAmended)
}

func (n *NotificationService) handleDefectReported(ctx context.Context, event events.Event) error {
	n.logger.Info("AssetDefectReported", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	n.sendEmailNotificationStub(ctx, event)
	return n.sendWebhook(ctx, event, fmt.Sprintf("%s-%s reported defective (%s)", event.RoomID, event.PCNumber, event.TicketID))
}

func (n *NotificationService) handleAssetFixed(ctx context.Context, event events.Event) error {
	n.logger.Info("AssetFixed", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return n.sendWebhook(ctx, event, fmt.Sprintf("%s-%s is working again (%s)", event.RoomID, event.PCNumber, event.TicketID))
}

func (n *NotificationService) handleFixAmended(ctx context.Context, event events.Event) error {
	n.logger.Info("FixAmended", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) sendEmailNotificationStub(_ context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	n.logger.Debug("sendEmailNotificationStub",
		zap.String("from", n.cfg.EmailFrom),
		zap.String("ticket_id", event.TicketID),
		zap.String("event_type", string(event.Type)))
}

func (n *NotificationService) sendWebhook(ctx context.Context, event events.Event, text string) error {
	if n.webhook == nil {
		return nil
	}
	resp, err := n.webhook.R().
		SetContext(ctx).
		SetBody(webhookMessage{Text: text, Event: event}).
		Post(n.cfg.WebhookURL)
	if err != nil {
		return fmt.Errorf("notification webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notification webhook: unexpected status %d", resp.StatusCode())
	}
	n.logger.Debug("notification webhook delivered",
		zap.String("ticket_id", event.TicketID),
		zap.String("event_type", string(event.Type)),
		zap.Int("status", resp.StatusCode()))
	return nil
}
