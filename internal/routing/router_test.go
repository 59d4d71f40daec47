package routing

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tremor/internal/config"
	"tremor/internal/feed"
	"tremor/internal/logger"
	"tremor/internal/render"
	"tremor/pkg/cel"
	"tremor/pkg/models"
)

type captureDispatcher struct {
	mu    sync.Mutex
	tasks []models.DeliveryTask
}

func (d *captureDispatcher) Enqueue(task models.DeliveryTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, task)
	return nil
}

func (d *captureDispatcher) snapshot() []models.DeliveryTask {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.DeliveryTask, len(d.tasks))
	copy(out, d.tasks)
	return out
}

func (d *captureDispatcher) groups() []string {
	var ids []string
	for _, task := range d.snapshot() {
		ids = append(ids, task.GroupID)
	}
	sort.Strings(ids)
	return ids
}

func newTestRouter(t *testing.T, cfg *config.Config, dispatcher Enqueuer, recorder Recorder) *Router {
	t.Helper()
	eval, err := cel.NewEvaluator()
	require.NoError(t, err)
	snap, err := config.Build(cfg, eval)
	require.NoError(t, err)

	log := logger.NopLogger()
	return NewRouter(
		config.NewStore(snap),
		feed.NewNormalizer(log),
		feed.NewTracker(feed.NewMemoryRepository(), time.Hour, log),
		NewRuleEngine(eval, log),
		render.NewRenderer(),
		dispatcher,
		recorder,
		4,
		log,
	)
}

func routingConfig() *config.Config {
	return &config.Config{
		Sources: map[string]config.SourceConfig{
			"cenc": {Enabled: true},
			"usgs": {Enabled: true},
		},
		Groups: map[string]config.GroupConfig{
			"123": {Mode: "whitelist", Sources: []string{"cenc"}},
			"456": {Mode: "blacklist", Sources: []string{"cenc"}},
			"789": {Mode: "whitelist", Sources: []string{"cenc", "usgs"}},
		},
		Templates: map[string]string{
			"default": "{source_upper} M{magnitude} {placeName}",
		},
	}
}

func updateFrame(source, data string) feed.Frame {
	return feed.Frame{Type: "update", Source: source, Data: json.RawMessage(data)}
}

func runFrames(t *testing.T, r *Router, frames ...feed.Frame) {
	t.Helper()
	ch := make(chan feed.Frame, len(frames))
	for _, f := range frames {
		ch <- f
	}
	close(ch)
	require.NoError(t, r.Run(context.Background(), ch))
}

func TestRouterFanOutRespectsGroupPolicies(t *testing.T) {
	dispatcher := &captureDispatcher{}
	r := newTestRouter(t, routingConfig(), dispatcher, nil)

	runFrames(t, r, updateFrame("cenc", `{"id": "E1", "magnitude": 5.5, "placeName": "四川汶川县", "updates": 1}`))

	// Group 456 denies cenc, the whitelisted groups receive it.
	assert.Equal(t, []string{"123", "789"}, dispatcher.groups())

	for _, task := range dispatcher.snapshot() {
		assert.Equal(t, "CENC M5.5 四川汶川县", task.Message.Text)
		assert.NotEmpty(t, task.ID)
	}
}

func TestRouterDeduplicatesAcrossFrames(t *testing.T) {
	dispatcher := &captureDispatcher{}
	r := newTestRouter(t, routingConfig(), dispatcher, nil)

	runFrames(t, r,
		updateFrame("cenc", `{"id": "E1", "magnitude": 5.5, "placeName": "四川汶川县", "updates": 1}`),
		updateFrame("cenc", `{"id": "E1", "magnitude": 5.5, "placeName": "四川汶川县", "updates": 1}`),
		updateFrame("cenc", `{"id": "E1", "magnitude": 5.6, "placeName": "四川汶川县", "updates": 2}`),
		updateFrame("cenc", `{"id": "E1", "magnitude": 5.5, "placeName": "四川汶川县", "updates": 1}`),
	)

	tasks := dispatcher.snapshot()

	// Revision 1 delivers once, revision 2 delivers once more with the update
	// marker; the duplicate and the late replay are dropped.
	byGroup := map[string][]string{}
	for _, task := range tasks {
		byGroup[task.GroupID] = append(byGroup[task.GroupID], task.Message.Text)
	}

	require.Len(t, byGroup["123"], 2)
	assert.Equal(t, "CENC M5.5 四川汶川县", byGroup["123"][0])
	assert.Equal(t, render.UpdatePrefix+"CENC M5.6 四川汶川县", byGroup["123"][1])
}

func TestRouterDropsUnparseableFrame(t *testing.T) {
	dispatcher := &captureDispatcher{}
	r := newTestRouter(t, routingConfig(), dispatcher, nil)

	runFrames(t, r,
		updateFrame("cenc", `not json`),
		updateFrame("cenc", `{"magnitude": 9.0}`),
	)

	assert.Empty(t, dispatcher.snapshot())
}

func TestRouterIneligibleSourceProducesNothing(t *testing.T) {
	cfg := routingConfig()
	cfg.Sources["cenc"] = config.SourceConfig{Enabled: true, MinMagnitude: floatPtr(6.0)}

	dispatcher := &captureDispatcher{}
	r := newTestRouter(t, cfg, dispatcher, nil)

	runFrames(t, r, updateFrame("cenc", `{"id": "E1", "magnitude": 5.5, "updates": 1}`))

	assert.Empty(t, dispatcher.snapshot())
}

func TestRouterIgnoresHeartbeatFrames(t *testing.T) {
	dispatcher := &captureDispatcher{}
	r := newTestRouter(t, routingConfig(), dispatcher, nil)

	runFrames(t, r, feed.Frame{Type: "heartbeat"})

	assert.Empty(t, dispatcher.snapshot())
}

type captureRecorder struct {
	mu     sync.Mutex
	events map[string][]models.Event
}

func newCaptureRecorder() *captureRecorder {
	return &captureRecorder{events: make(map[string][]models.Event)}
}

func (r *captureRecorder) Record(source string, ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[source] = append(r.events[source], ev)
}

func TestRouterCachesInitialSnapshotForDrawSources(t *testing.T) {
	cfg := routingConfig()
	cfg.Drawing = config.DrawingConfig{Sources: []string{"cenc"}}

	recorder := newCaptureRecorder()
	r := newTestRouter(t, cfg, &captureDispatcher{}, recorder)

	runFrames(t, r, feed.Frame{
		Type: "initial_all",
		Data: json.RawMessage(`[
			{"source": "cenc", "Data": {"id": "A", "magnitude": 4.0}},
			{"source": "usgs", "Data": {"id": "B", "magnitude": 7.0}},
			{"source": "cenc", "Data": {"no_identity": true}}
		]`),
	})

	require.Len(t, recorder.events["cenc"], 1)
	assert.Equal(t, "A", recorder.events["cenc"][0].ExternalID)
	assert.Empty(t, recorder.events["usgs"])
}

func TestRouterReplayBypassesChecks(t *testing.T) {
	cfg := routingConfig()
	// Disable everything that would normally suppress the event.
	cfg.Sources["cenc"] = config.SourceConfig{Enabled: false}

	dispatcher := &captureDispatcher{}
	r := newTestRouter(t, cfg, dispatcher, nil)

	ev := models.Event{
		Source:     "cenc",
		ExternalID: "test-1",
		Raw:        map[string]interface{}{"magnitude": 5.5, "placeName": "somewhere"},
	}
	require.NoError(t, r.Replay(context.Background(), ev, "456"))

	tasks := dispatcher.snapshot()
	require.Len(t, tasks, 1)
	assert.Equal(t, "456", tasks[0].GroupID)
	assert.True(t, strings.HasPrefix(tasks[0].Message.Text, "CENC"))
}

func TestRouterRunStopsOnContextCancel(t *testing.T) {
	r := newTestRouter(t, routingConfig(), &captureDispatcher{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx, make(chan feed.Frame))
	assert.ErrorIs(t, err, context.Canceled)
}
