// Package command handles inbound control commands from the chat host. The
// only command is a diagnostic trigger that replays recent events back to the
// requesting group, bypassing the event pipeline's dedup and filters.
package command

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"tremor/internal/config"
	"tremor/internal/logger"
	"tremor/pkg/models"
)

// Replayer delivers one event to one group with routing checks bypassed.
type Replayer interface {
	Replay(ctx context.Context, ev models.Event, groupID string) error
}

// Enqueuer sends plain diagnostic notices.
type Enqueuer interface {
	Enqueue(task models.DeliveryTask) error
}

type Router struct {
	store      *config.Store
	cache      *Cache
	replayer   Replayer
	dispatcher Enqueuer
	logger     logger.Logger
}

func NewRouter(store *config.Store, cache *Cache, replayer Replayer, dispatcher Enqueuer, log logger.Logger) *Router {
	return &Router{
		store:      store,
		cache:      cache,
		replayer:   replayer,
		dispatcher: dispatcher,
		logger:     log,
	}
}

// Handle inspects one inbound group message. Anything that is not the
// configured trigger, or comes from a group outside the restriction list,
// is silently ignored.
func (r *Router) Handle(ctx context.Context, groupID, text string) {
	policy := r.store.Load().Command

	if !policy.Enabled || strings.TrimSpace(text) != policy.Trigger {
		return
	}
	if !policy.AllowsGroup(groupID) {
		r.logger.Debugw("Command from unlisted group ignored", "group_id", groupID)
		return
	}

	r.logger.Infow("Diagnostic command received", "group_id", groupID)
	r.notify(groupID, "Diagnostic test starting...")

	events := r.cache.Latest(2)
	switch len(events) {
	case 0:
		events = sampleEvents()
	case 1:
		events = append(events, variant(events[0]))
	}

	for _, ev := range events {
		if err := r.replayer.Replay(ctx, ev, groupID); err != nil {
			r.logger.Errorw("Diagnostic replay failed",
				"group_id", groupID,
				"source", ev.Source,
				"error", err,
			)
		}
	}

	r.notify(groupID, "Diagnostic test complete. Check messages and images.")
}

func (r *Router) notify(groupID, text string) {
	err := r.dispatcher.Enqueue(models.DeliveryTask{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		Message:   models.RenderedMessage{Text: text},
		CreatedAt: time.Now(),
	})
	if err != nil {
		r.logger.Errorw("Diagnostic notice not sent", "group_id", groupID, "error", err)
	}
}

// variant derives a second test event from a single cached one, so the reply
// always demonstrates two deliveries.
func variant(ev models.Event) models.Event {
	raw := make(map[string]interface{}, len(ev.Raw)+1)
	for k, v := range ev.Raw {
		raw[k] = v
	}
	if place, ok := raw["placeName"].(string); ok {
		raw["placeName"] = place + " (test)"
	} else {
		raw["placeName"] = "(test)"
	}
	ev.Raw = raw
	return ev
}

func sampleEvents() []models.Event {
	mag1, depth1 := 5.5, 10.0
	mag2, depth2 := 6.2, 10.0
	return []models.Event{
		{
			Source:     "cenc",
			ExternalID: "test_cenc_001",
			Revision:   1,
			Magnitude:  &mag1,
			Latitude:   31.0,
			Longitude:  103.4,
			DepthKM:    &depth1,
			Raw: map[string]interface{}{
				"id":           "test_cenc_001",
				"shockTime":    "2026-02-02 03:00:00",
				"latitude":     31.0,
				"longitude":    103.4,
				"depth":        10.0,
				"magnitude":    5.5,
				"placeName":    "四川汶川县",
				"infoTypeName": "正式测定",
			},
		},
		{
			Source:     "usgs",
			ExternalID: "test_usgs_001",
			Revision:   1,
			Magnitude:  &mag2,
			Latitude:   -0.719,
			Longitude:  -80.236,
			DepthKM:    &depth2,
			Raw: map[string]interface{}{
				"id":        "test_usgs_001",
				"shockTime": "2026-02-02 04:59:59",
				"placeName": "Near coast of Ecuador",
				"magnitude": 6.2,
				"latitude":  -0.719,
				"longitude": -80.236,
				"depth":     10.0,
				"title":     "M 6.2 - Near coast of Ecuador",
			},
		},
	}
}
