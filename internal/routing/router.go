package routing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tremor/internal/config"
	"tremor/internal/constants"
	"tremor/internal/feed"
	"tremor/internal/logger"
	"tremor/internal/render"
	apperrors "tremor/pkg/errors"
	"tremor/pkg/metrics"
	"tremor/pkg/models"
)

// Enqueuer is the dispatcher surface the router needs.
type Enqueuer interface {
	Enqueue(task models.DeliveryTask) error
}

// Recorder caches the latest event per source, for the diagnostic command.
type Recorder interface {
	Record(source string, ev models.Event)
}

// Router is the routing stage: it consumes frames from the supervisor,
// normalizes and deduplicates them, and fans admitted events out across
// groups. No work here may block reading beyond the frame channel's buffer.
type Router struct {
	store      *config.Store
	normalizer *feed.Normalizer
	tracker    *feed.Tracker
	rules      *RuleEngine
	renderer   *render.Renderer
	dispatcher Enqueuer
	recorder   Recorder // optional
	workers    int
	logger     logger.Logger
}

func NewRouter(store *config.Store, normalizer *feed.Normalizer, tracker *feed.Tracker, rules *RuleEngine, renderer *render.Renderer, dispatcher Enqueuer, recorder Recorder, workers int, log logger.Logger) *Router {
	if workers < 1 {
		workers = 1
	}
	return &Router{
		store:      store,
		normalizer: normalizer,
		tracker:    tracker,
		rules:      rules,
		renderer:   renderer,
		dispatcher: dispatcher,
		recorder:   recorder,
		workers:    workers,
		logger:     log,
	}
}

// Run consumes frames until the channel closes or the context is cancelled.
func (r *Router) Run(ctx context.Context, frames <-chan feed.Frame) error {
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			r.handleFrame(ctx, frame)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Router) handleFrame(ctx context.Context, frame feed.Frame) {
	switch frame.Type {
	case constants.FrameTypeUpdate:
		r.handleUpdate(ctx, frame)
	case constants.FrameTypeInitialAll:
		r.handleInitial(frame)
	default:
		r.logger.Debugw("Ignoring frame", "type", frame.Type)
	}
}

func (r *Router) handleUpdate(ctx context.Context, frame feed.Frame) {
	ev, err := r.normalizer.Normalize(frame.Source, frame.Data)
	if err != nil {
		metrics.ParseFailuresTotal.WithLabelValues(frame.Source).Inc()
		r.logger.Warnw("Dropping unparseable event",
			"source", frame.Source,
			"error", err,
		)
		return
	}

	decision := r.tracker.Admit(ctx, ev)
	if !decision.Admitted() {
		r.logger.Debugw("Stale event dropped",
			"source", ev.Source,
			"event_id", ev.ExternalID,
			"revision", ev.Revision,
		)
		return
	}

	r.logger.Infow("Event admitted",
		"source", ev.Source,
		"event_id", ev.ExternalID,
		"revision", ev.Revision,
		"decision", decision.String(),
	)

	snap := r.store.Load()

	if r.recorder != nil {
		if _, ok := snap.DrawSources[ev.Source]; ok {
			r.recorder.Record(ev.Source, ev)
		}
	}

	if !r.rules.SourceEligible(ctx, snap, ev) {
		r.logger.Debugw("Event ineligible under source rules",
			"source", ev.Source,
			"event_id", ev.ExternalID,
		)
		return
	}

	r.fanOut(ctx, snap, ev, decision == feed.DecisionUpdated)
}

// fanOut evaluates every group against one admitted event. Evaluations are
// independent and side-effect-free, so they run concurrently, bounded by the
// worker pool. Enqueue order within one group is irrelevant here: one event
// produces at most one task per group.
func (r *Router) fanOut(ctx context.Context, snap *config.Snapshot, ev models.Event, updated bool) {
	msg := r.renderer.Render(snap, ev, updated)
	if msg.Text == "" && msg.Attachment == nil {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for groupID, policy := range snap.Groups {
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Errorw("Fan-out worker panicked",
						"group_id", groupID,
						"error", apperrors.RecoverPanic(rec),
					)
				}
			}()

			if gctx.Err() != nil {
				return nil
			}
			if !policy.Permits(ev.Source) {
				return nil
			}

			return r.dispatcher.Enqueue(models.DeliveryTask{
				ID:        uuid.NewString(),
				GroupID:   groupID,
				Message:   msg,
				CreatedAt: time.Now(),
			})
		})
	}

	if err := g.Wait(); err != nil {
		r.logger.Errorw("Fan-out incomplete",
			"source", ev.Source,
			"event_id", ev.ExternalID,
			"error", err,
		)
	}
}

// Replay renders and enqueues an event for one specific group, bypassing
// dedup, subscription, and source rules. Diagnostic path only.
func (r *Router) Replay(_ context.Context, ev models.Event, groupID string) error {
	snap := r.store.Load()
	msg := r.renderer.Render(snap, ev, false)
	if msg.Text == "" && msg.Attachment == nil {
		return nil
	}
	return r.dispatcher.Enqueue(models.DeliveryTask{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		Message:   msg,
		CreatedAt: time.Now(),
	})
}

// handleInitial caches the feed's initial snapshot so the diagnostic command
// has material to replay. Initial data is never routed or delivered.
func (r *Router) handleInitial(frame feed.Frame) {
	if r.recorder == nil {
		return
	}

	items, err := frame.InitialItems()
	if err != nil {
		r.logger.Warnw("Dropping malformed initial snapshot", "error", err)
		return
	}

	snap := r.store.Load()
	stored := 0
	for _, item := range items {
		if _, ok := snap.DrawSources[item.Source]; !ok {
			continue
		}
		ev, err := r.normalizer.NormalizeMap(item.Source, item.Data)
		if err != nil {
			continue
		}
		r.recorder.Record(item.Source, ev)
		stored++
	}
	r.logger.Infow("Initial snapshot cached",
		"received", len(items),
		"stored", stored,
	)
}
