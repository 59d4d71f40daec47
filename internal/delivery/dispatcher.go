package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tremor/internal/config"
	"tremor/internal/logger"
	apperrors "tremor/pkg/errors"
	"tremor/pkg/metrics"
	"tremor/pkg/models"
	"tremor/pkg/retry"
)

// ImageFetcher downloads a source-published attachment image.
type ImageFetcher interface {
	FetchImage(ctx context.Context, url string) ([]byte, error)
}

// Dispatcher consumes DeliveryTasks with at-least-once semantics. One worker
// and one bounded queue per group: deliveries to the same group never
// reorder, deliveries to different groups run concurrently. Enqueue blocks
// when a group's queue is full, applying backpressure to the fan-out workers
// but never to the ingestion loop.
type Dispatcher struct {
	api         PushAPI
	maps        MapRenderer  // nil disables local map rendering
	fetcher     ImageFetcher // nil disables remote attachment download
	policy      retry.Policy
	queueSize   int
	drawTimeout time.Duration
	logger      logger.Logger

	mu     sync.RWMutex
	closed bool
	queues map[string]chan models.DeliveryTask
	wg     sync.WaitGroup

	workCtx    context.Context
	workCancel context.CancelFunc
}

func NewDispatcher(api PushAPI, maps MapRenderer, fetcher ImageFetcher, cfg config.DeliveryConfig, drawTimeout time.Duration, log logger.Logger) *Dispatcher {
	// Deliveries outlive the run context on purpose: in-flight sends get the
	// shutdown grace period before being cut off.
	workCtx, workCancel := context.WithCancel(context.Background())

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}

	return &Dispatcher{
		api:     api,
		maps:    maps,
		fetcher: fetcher,
		policy: retry.Policy{
			MaxAttempts:     cfg.MaxAttempts,
			InitialInterval: cfg.InitialInterval,
			MaxInterval:     cfg.MaxInterval,
			Multiplier:      cfg.Multiplier,
		},
		queueSize:   queueSize,
		drawTimeout: drawTimeout,
		logger:      log,
		queues:      make(map[string]chan models.DeliveryTask),
		workCtx:     workCtx,
		workCancel:  workCancel,
	}
}

var errShutdown = fmt.Errorf("dispatcher is shut down")

// Enqueue hands a task to its group's send worker, creating the worker on
// first use. The send happens under the read lock: Shutdown closes queues
// under the write lock, so a send in flight can never hit a closed channel.
// Holding the lock across a full-queue wait is bounded, the group's worker
// keeps draining without touching the mutex.
func (d *Dispatcher) Enqueue(task models.DeliveryTask) error {
	d.mu.RLock()
	ch, ok := d.queues[task.GroupID]
	closed := d.closed
	d.mu.RUnlock()

	if closed {
		return errShutdown
	}
	if !ok {
		var err error
		ch, err = d.createQueue(task.GroupID)
		if err != nil {
			return err
		}
	}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return errShutdown
	}
	defer d.mu.RUnlock()

	select {
	case ch <- task:
		return nil
	case <-d.workCtx.Done():
		return errShutdown
	}
}

func (d *Dispatcher) createQueue(groupID string) (chan models.DeliveryTask, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errShutdown
	}
	if ch, ok := d.queues[groupID]; ok {
		return ch, nil
	}
	ch := make(chan models.DeliveryTask, d.queueSize)
	d.queues[groupID] = ch

	d.wg.Add(1)
	go d.worker(groupID, ch)
	return ch, nil
}

func (d *Dispatcher) worker(groupID string, ch chan models.DeliveryTask) {
	defer d.wg.Done()
	for task := range ch {
		d.deliver(task)
	}
	d.logger.Debugw("Send worker stopped", "group_id", groupID)
}

func (d *Dispatcher) deliver(task models.DeliveryTask) {
	start := time.Now()
	ctx := d.workCtx

	image := d.resolveAttachment(ctx, task)

	status := "delivered"

	if task.Message.Text != "" {
		err := retry.Do(ctx, d.policy, func() error {
			task.Attempts++
			return d.api.SendGroupText(ctx, task.GroupID, task.Message.Text)
		}, func(attempt int, err error, nextDelay time.Duration) {
			d.logger.Warnw("Send failed, will retry",
				"task_id", task.ID,
				"group_id", task.GroupID,
				"attempt", attempt,
				"next_delay", nextDelay,
				"error", err,
			)
		})
		if err != nil {
			status = d.failureStatus(task, err)
		}
	}

	if status == "delivered" && image != nil {
		if err := retry.Do(ctx, d.policy, func() error {
			task.Attempts++
			return d.api.SendGroupImage(ctx, task.GroupID, image)
		}, nil); err != nil {
			// The text already went out; a lost image degrades, not fails.
			d.logger.Warnw("Image send failed after text was delivered",
				"task_id", task.ID,
				"group_id", task.GroupID,
				"error", err,
			)
			metrics.MapRenderFailuresTotal.Inc()
		}
	}

	metrics.DeliveryAttempts.Observe(float64(task.Attempts))
	metrics.ObserveDelivery(time.Since(start), status)

	if status == "delivered" {
		d.logger.Infow("Delivered",
			"task_id", task.ID,
			"group_id", task.GroupID,
			"attempts", task.Attempts,
		)
	}
}

func (d *Dispatcher) failureStatus(task models.DeliveryTask, err error) string {
	if apperrors.IsRejected(err) {
		d.logger.Errorw("Delivery rejected by push API",
			"task_id", task.ID,
			"group_id", task.GroupID,
			"error", err,
		)
		return "rejected"
	}
	d.logger.Errorw("Delivery abandoned",
		"task_id", task.ID,
		"group_id", task.GroupID,
		"error", apperrors.Wrap(err, apperrors.ErrAbandoned),
	)
	return "abandoned"
}

// resolveAttachment turns a declarative attachment request into image bytes.
// Remote URL first, local map renderer second, text-only last. Every failure
// degrades rather than failing the task.
func (d *Dispatcher) resolveAttachment(ctx context.Context, task models.DeliveryTask) []byte {
	req := task.Message.Attachment
	if req == nil {
		return nil
	}

	renderCtx, cancel := context.WithTimeout(ctx, d.drawTimeout)
	defer cancel()

	if req.RemoteURL != "" && d.fetcher != nil {
		image, err := d.fetcher.FetchImage(renderCtx, req.RemoteURL)
		if err == nil {
			return image
		}
		d.logger.Warnw("Remote attachment download failed, falling back to map renderer",
			"task_id", task.ID,
			"url", req.RemoteURL,
			"error", err,
		)
	}

	if d.maps == nil {
		return nil
	}

	image, err := d.maps.RenderMap(renderCtx, req.Event)
	if err != nil {
		metrics.MapRenderFailuresTotal.Inc()
		d.logger.Warnw("Map rendering failed, sending text only",
			"task_id", task.ID,
			"source", req.Event.Source,
			"error", err,
		)
		return nil
	}
	return image
}

// Shutdown stops accepting tasks, lets in-flight and queued deliveries drain
// for the grace period, then cuts the rest off. Call only after the routing
// stage has stopped enqueuing.
func (d *Dispatcher) Shutdown(grace time.Duration) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, ch := range d.queues {
		close(ch)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Infow("All deliveries drained")
	case <-time.After(grace):
		d.workCancel()
		<-done
		d.logger.Warnw("Shutdown grace period expired, remaining deliveries dropped")
		metrics.DeliveriesTotal.WithLabelValues("dropped").Inc()
	}
	d.workCancel()
}
