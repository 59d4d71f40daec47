package config

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tremor/internal/logger"
)

func storeFromFile(t *testing.T, path string) *Store {
	t.Helper()
	cfg, err := Load(path)
	require.NoError(t, err)
	snap, err := Build(cfg, newEvaluator(t))
	require.NoError(t, err)
	return NewStore(snap)
}

func TestReloadSwapsOnSuccess(t *testing.T) {
	path := writeConfig(t, validYAML)
	store := storeFromFile(t, path)
	before := store.Load()

	updated := strings.ReplaceAll(validYAML, `"654321"`, `"999999"`)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	Reload(path, store, newEvaluator(t), logger.NopLogger())

	after := store.Load()
	assert.NotSame(t, before, after)
	assert.Contains(t, after.Groups, "999999")
	assert.NotContains(t, after.Groups, "654321")
}

func TestReloadRejectsAndKeepsPreviousSnapshot(t *testing.T) {
	path := writeConfig(t, validYAML)
	store := storeFromFile(t, path)
	before := store.Load()

	// Fails loading: the feed URL is mandatory.
	require.NoError(t, os.WriteFile(path, []byte("push:\n  base_url: http://x\n"), 0o644))
	Reload(path, store, newEvaluator(t), logger.NopLogger())
	assert.Same(t, before, store.Load())

	// Loads fine but fails compilation of the filter expression.
	broken := strings.ReplaceAll(validYAML, "magnitude >= 6.0", "magnitude >=")
	require.NoError(t, os.WriteFile(path, []byte(broken), 0o644))
	Reload(path, store, newEvaluator(t), logger.NopLogger())
	assert.Same(t, before, store.Load())

	// The next good write still applies.
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o644))
	Reload(path, store, newEvaluator(t), logger.NopLogger())
	assert.NotSame(t, before, store.Load())
}
