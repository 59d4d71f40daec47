package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tremor/pkg/cel"
)

func newEvaluator(t *testing.T) *cel.Evaluator {
	t.Helper()
	eval, err := cel.NewEvaluator()
	require.NoError(t, err)
	return eval
}

func TestBuildCompilesRules(t *testing.T) {
	min := 4.5
	cfg := &Config{
		Sources: map[string]SourceConfig{
			"cenc": {Enabled: true, MinMagnitude: &min, Expression: `magnitude >= 4.5`},
			"usgs": {Enabled: false},
		},
		Groups: map[string]GroupConfig{
			"123": {Mode: "whitelist", Sources: []string{"cenc", "usgs"}},
		},
		Drawing: DrawingConfig{
			Sources: []string{"cenc"},
			Filters: map[string]map[string]string{
				"cenc": {"infoTypeName": `正式测定`},
			},
		},
		Command: CommandConfig{Enabled: true, Trigger: "/eqbottest", Groups: []string{"123"}},
	}

	snap, err := Build(cfg, newEvaluator(t))
	require.NoError(t, err)

	require.Contains(t, snap.Sources, "cenc")
	assert.True(t, snap.Sources["cenc"].Enabled)
	assert.NotNil(t, snap.Sources["cenc"].Program)
	assert.Nil(t, snap.Sources["usgs"].Program)

	assert.Contains(t, snap.DrawSources, "cenc")
	assert.True(t, snap.DrawFilters["cenc"]["infoTypeName"].MatchString("正式测定"))
	assert.False(t, snap.BuiltAt.IsZero())
}

func TestBuildRejectsBadExpression(t *testing.T) {
	cfg := &Config{
		Sources: map[string]SourceConfig{
			"cenc": {Enabled: true, Expression: `magnitude >=`},
		},
	}

	_, err := Build(cfg, newEvaluator(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sources.cenc.expression")
}

func TestBuildRejectsNonBoolExpression(t *testing.T) {
	cfg := &Config{
		Sources: map[string]SourceConfig{
			"cenc": {Enabled: true, Expression: `magnitude + 1.0`},
		},
	}

	_, err := Build(cfg, newEvaluator(t))
	assert.Error(t, err)
}

func TestBuildRejectsBadDrawFilter(t *testing.T) {
	cfg := &Config{
		Drawing: DrawingConfig{
			Filters: map[string]map[string]string{
				"cenc": {"placeName": `([`},
			},
		},
	}

	_, err := Build(cfg, newEvaluator(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drawing.filters.cenc.placeName")
}

func TestGroupPolicyPermits(t *testing.T) {
	allow := GroupPolicy{Mode: "whitelist", Sources: map[string]struct{}{"cenc": {}}}
	assert.True(t, allow.Permits("cenc"))
	assert.False(t, allow.Permits("usgs"))

	deny := GroupPolicy{Mode: "blacklist", Sources: map[string]struct{}{"cenc": {}}}
	assert.False(t, deny.Permits("cenc"))
	assert.True(t, deny.Permits("usgs"))

	// An empty whitelist admits nothing, an empty blacklist admits everything.
	assert.False(t, GroupPolicy{Mode: "whitelist", Sources: map[string]struct{}{}}.Permits("cenc"))
	assert.True(t, GroupPolicy{Mode: "blacklist", Sources: map[string]struct{}{}}.Permits("cenc"))
}

func TestCommandPolicyAllowsGroup(t *testing.T) {
	open := CommandPolicy{RestrictGroups: false}
	assert.True(t, open.AllowsGroup("anything"))

	restricted := CommandPolicy{RestrictGroups: true, Groups: map[string]struct{}{"123": {}}}
	assert.True(t, restricted.AllowsGroup("123"))
	assert.False(t, restricted.AllowsGroup("456"))
}

func TestStoreSwap(t *testing.T) {
	first, err := Build(&Config{}, newEvaluator(t))
	require.NoError(t, err)

	store := NewStore(first)
	assert.Same(t, first, store.Load())

	second, err := Build(&Config{
		Groups: map[string]GroupConfig{"123": {Mode: "whitelist"}},
	}, newEvaluator(t))
	require.NoError(t, err)

	store.Swap(second)
	assert.Same(t, second, store.Load())
	assert.Len(t, store.Load().Groups, 1)
}
