package command

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tremor/internal/config"
	"tremor/internal/logger"
	"tremor/pkg/cel"
	"tremor/pkg/models"
)

type fakeReplayer struct {
	mu      sync.Mutex
	replays []models.Event
	groups  []string
}

func (f *fakeReplayer) Replay(_ context.Context, ev models.Event, groupID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replays = append(f.replays, ev)
	f.groups = append(f.groups, groupID)
	return nil
}

type noticeCollector struct {
	mu    sync.Mutex
	texts []string
}

func (n *noticeCollector) Enqueue(task models.DeliveryTask) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, task.Message.Text)
	return nil
}

func commandStore(t *testing.T, cmd config.CommandConfig) *config.Store {
	t.Helper()
	eval, err := cel.NewEvaluator()
	require.NoError(t, err)
	snap, err := config.Build(&config.Config{Command: cmd}, eval)
	require.NoError(t, err)
	return config.NewStore(snap)
}

func newCommandRouter(t *testing.T, cmd config.CommandConfig, cache *Cache) (*Router, *fakeReplayer, *noticeCollector) {
	t.Helper()
	replayer := &fakeReplayer{}
	notices := &noticeCollector{}
	r := NewRouter(commandStore(t, cmd), cache, replayer, notices, logger.NopLogger())
	return r, replayer, notices
}

func enabledCommand() config.CommandConfig {
	return config.CommandConfig{Enabled: true, Trigger: "/eqbottest"}
}

func TestHandleTriggerReplaysSamples(t *testing.T) {
	r, replayer, notices := newCommandRouter(t, enabledCommand(), NewCache())

	r.Handle(context.Background(), "123", "/eqbottest")

	// Nothing cached yet, so the built-in samples are replayed.
	require.Len(t, replayer.replays, 2)
	assert.Equal(t, "cenc", replayer.replays[0].Source)
	assert.Equal(t, "test_cenc_001", replayer.replays[0].ExternalID)
	assert.Equal(t, "usgs", replayer.replays[1].Source)
	assert.Equal(t, []string{"123", "123"}, replayer.groups)

	require.Len(t, notices.texts, 2)
	assert.Contains(t, notices.texts[0], "starting")
	assert.Contains(t, notices.texts[1], "complete")
}

func TestHandleTriggerPrefersCachedEvents(t *testing.T) {
	cache := NewCache()
	mag := 4.8
	cache.Record("cenc", models.Event{
		Source:     "cenc",
		ExternalID: "real-1",
		Magnitude:  &mag,
		Raw:        map[string]interface{}{"placeName": "云南大理"},
	})

	r, replayer, _ := newCommandRouter(t, enabledCommand(), cache)
	r.Handle(context.Background(), "123", "/eqbottest")

	// A single cached event is doubled with a marked variant.
	require.Len(t, replayer.replays, 2)
	assert.Equal(t, "real-1", replayer.replays[0].ExternalID)
	assert.Equal(t, "云南大理", replayer.replays[0].Raw["placeName"])
	assert.Equal(t, "云南大理 (test)", replayer.replays[1].Raw["placeName"])
}

func TestHandleIgnoresNonTriggerText(t *testing.T) {
	r, replayer, notices := newCommandRouter(t, enabledCommand(), NewCache())

	r.Handle(context.Background(), "123", "hello everyone")
	r.Handle(context.Background(), "123", "/eqbottest extra words")

	assert.Empty(t, replayer.replays)
	assert.Empty(t, notices.texts)
}

func TestHandleTrimsTriggerWhitespace(t *testing.T) {
	r, replayer, _ := newCommandRouter(t, enabledCommand(), NewCache())

	r.Handle(context.Background(), "123", "  /eqbottest \n")

	assert.Len(t, replayer.replays, 2)
}

func TestHandleGroupRestriction(t *testing.T) {
	cmd := enabledCommand()
	cmd.RestrictGroups = true
	cmd.Groups = []string{"123"}

	r, replayer, notices := newCommandRouter(t, cmd, NewCache())

	r.Handle(context.Background(), "456", "/eqbottest")
	assert.Empty(t, replayer.replays)
	assert.Empty(t, notices.texts)

	r.Handle(context.Background(), "123", "/eqbottest")
	assert.Len(t, replayer.replays, 2)
}

func TestHandleDisabledCommand(t *testing.T) {
	cmd := enabledCommand()
	cmd.Enabled = false

	r, replayer, _ := newCommandRouter(t, cmd, NewCache())
	r.Handle(context.Background(), "123", "/eqbottest")

	assert.Empty(t, replayer.replays)
}

func TestCacheLatest(t *testing.T) {
	cache := NewCache()
	assert.Empty(t, cache.Latest(2))

	cache.Record("cenc", models.Event{Source: "cenc", ExternalID: "a"})
	cache.Record("usgs", models.Event{Source: "usgs", ExternalID: "b"})
	cache.Record("cenc", models.Event{Source: "cenc", ExternalID: "c"})

	latest := cache.Latest(2)
	require.Len(t, latest, 2)
	// One entry per source, first-seen source order, newest event wins.
	assert.Equal(t, "c", latest[0].ExternalID)
	assert.Equal(t, "b", latest[1].ExternalID)

	assert.Len(t, cache.Latest(1), 1)
}
