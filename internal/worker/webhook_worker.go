package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/service"
)

const defaultWebhookQueue = 256

type delivery struct {
	url    string
	signal service.BillingSignal
}

// WebhookWorker posts billing signals to the billing collaborator off the
// request path. Deliveries are attempted once; failures are logged.
type WebhookWorker struct {
	queue   chan delivery
	client  *http.Client
	logger  *zap.Logger
	wg      sync.WaitGroup
	once    sync.Once
	stopped chan struct{}
}

// NewWebhookWorker creates an idle worker. Call Start to begin delivering.
func NewWebhookWorker(client *http.Client, logger *zap.Logger) *WebhookWorker {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookWorker{
		queue:   make(chan delivery, defaultWebhookQueue),
		client:  client,
		logger:  logger,
		stopped: make(chan struct{}),
	}
}

// Enqueue schedules a delivery and reports false when the queue is full
// or the worker has stopped.
func (w *WebhookWorker) Enqueue(url string, signal service.BillingSignal) bool {
	select {
	case <-w.stopped:
		return false
	default:
	}
	select {
	case w.queue <- delivery{url: url, signal: signal}:
		return true
	default:
		return false
	}
}

// Start delivers queued signals in the background until ctx is done or
// Stop is called.
func (w *WebhookWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

func (w *WebhookWorker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopped:
			return
		case d := <-w.queue:
			if err := w.post(ctx, d); err != nil {
				w.logger.Warn("billing webhook failed",
					zap.String("ticket_id", d.signal.TicketID),
					zap.String("url", d.url),
					zap.Error(err))
			}
		}
	}
}

// Stop ends delivery and waits for an in-flight delivery.
func (w *WebhookWorker) Stop() {
	w.once.Do(func() { close(w.stopped) })
	w.wg.Wait()
}

func (w *WebhookWorker) post(ctx context.Context, d delivery) error {
	body, err := json.Marshal(d.signal)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	w.logger.Debug("billing webhook delivered", zap.String("ticket_id", d.signal.TicketID))
	return nil
}
