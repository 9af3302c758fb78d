package worker

import (
	"context"

	"github.com/spec-kit/ticket-lifecycle/internal/scheduler"
	"github.com/spec-kit/ticket-lifecycle/internal/service"
)

// StartLifecycleWorkers registers the lifecycle observer, starts webhook
// delivery and arms the deadline scheduler.
func StartLifecycleWorkers(ctx context.Context, observer *service.LifecycleObserver, webhooks *WebhookWorker, deadlines *scheduler.DeadlineScheduler) error {
	if observer != nil {
		observer.RegisterHandlers()
	}
	if webhooks != nil {
		webhooks.Start(ctx)
	}
	if deadlines == nil {
		return nil
	}
	return deadlines.Start(ctx)
}
