// Package worker attaches the post-commit consumers of lifecycle events to the dispatcher.
package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/lab-status-service/internal/events"
	"github.com/spec-kit/lab-status-service/internal/service"
)

// Subscribers lists the consumers to attach. Nil members are skipped.
type Subscribers struct {
	Dispatcher    events.Dispatcher
	Notifications *service.NotificationService
	Reports       *service.ReportService
	Broker        *events.AMQPPublisher
	Logger        *zap.Logger
}

// StartNotificationWorker registers every configured subscriber. Cache invalidation is
// attached first so a notification consumer that reads a report sees the new state.
func StartNotificationWorker(subs Subscribers) {
	if subs.Dispatcher == nil {
		return
	}
	logger := subs.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if subs.Reports != nil {
		events.SubscribeAll(subs.Dispatcher, invalidateReports(subs.Reports, logger))
	}
	if subs.Notifications != nil {
		subs.Notifications.RegisterHandlers()
	}
	if subs.Broker != nil {
		subs.Broker.Register(subs.Dispatcher)
	}
	logger.Info("event subscribers registered",
		zap.Bool("report_cache", subs.Reports != nil),
		zap.Bool("notifications", subs.Notifications != nil),
		zap.Bool("broker", subs.Broker != nil))
}

func invalidateReports(reports *service.ReportService, logger *zap.Logger) events.EventHandler {
	return func(ctx context.Context, event events.Event) error {
		if err := reports.InvalidateCache(ctx); err != nil {
			logger.Warn("report cache invalidation failed",
				zap.String("event_type", string(event.Type)),
				zap.String("ticket_id", event.TicketID),
				zap.Error(err))
			return err
		}
		return nil
	}
}
