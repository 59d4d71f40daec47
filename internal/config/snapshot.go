package config

import (
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	celgo "github.com/google/cel-go/cel"

	"tremor/internal/constants"
	"tremor/pkg/cel"
	"tremor/pkg/metrics"
)

// Snapshot is the compiled, immutable view of one valid configuration.
// Routing reads exactly one snapshot per pass; reload builds a fresh snapshot
// and swaps the store pointer, so readers never see a partial update.
type Snapshot struct {
	Sources     map[string]SourceRule
	Groups      map[string]GroupPolicy
	Templates   map[string]string
	DrawSources map[string]struct{}
	DrawFilters map[string]map[string]*regexp.Regexp
	DrawTimeout time.Duration
	Command     CommandPolicy
	BuiltAt     time.Time
}

type SourceRule struct {
	Enabled      bool
	MinMagnitude *float64
	Program      celgo.Program // nil when the source has no expression
}

type GroupPolicy struct {
	Mode    string
	Sources map[string]struct{}
}

// Permits reports whether this group's allow/deny configuration admits the
// given source.
func (g GroupPolicy) Permits(source string) bool {
	_, listed := g.Sources[source]
	if g.Mode == constants.ModeAllowList {
		return listed
	}
	return !listed
}

type CommandPolicy struct {
	Enabled        bool
	Trigger        string
	RestrictGroups bool
	Groups         map[string]struct{}
}

func (c CommandPolicy) AllowsGroup(groupID string) bool {
	if !c.RestrictGroups {
		return true
	}
	_, ok := c.Groups[groupID]
	return ok
}

// Build compiles a validated Config into a Snapshot. CEL expressions and draw
// filter regexes are compiled here so a bad rule fails the whole (re)load
// instead of failing per event.
func Build(cfg *Config, eval *cel.Evaluator) (*Snapshot, error) {
	snap := &Snapshot{
		Sources:     make(map[string]SourceRule, len(cfg.Sources)),
		Groups:      make(map[string]GroupPolicy, len(cfg.Groups)),
		Templates:   cfg.Templates,
		DrawSources: make(map[string]struct{}, len(cfg.Drawing.Sources)),
		DrawFilters: make(map[string]map[string]*regexp.Regexp, len(cfg.Drawing.Filters)),
		DrawTimeout: cfg.Drawing.Timeout,
		BuiltAt:     time.Now(),
	}

	for id, src := range cfg.Sources {
		rule := SourceRule{Enabled: src.Enabled, MinMagnitude: src.MinMagnitude}
		if src.Expression != "" {
			program, err := eval.Compile(src.Expression)
			if err != nil {
				return nil, fmt.Errorf("sources.%s.expression: %w", id, err)
			}
			rule.Program = program
		}
		snap.Sources[id] = rule
	}

	for id, g := range cfg.Groups {
		policy := GroupPolicy{Mode: g.Mode, Sources: make(map[string]struct{}, len(g.Sources))}
		for _, s := range g.Sources {
			policy.Sources[s] = struct{}{}
		}
		snap.Groups[id] = policy
	}

	for _, s := range cfg.Drawing.Sources {
		snap.DrawSources[s] = struct{}{}
	}
	for source, fields := range cfg.Drawing.Filters {
		compiled := make(map[string]*regexp.Regexp, len(fields))
		for field, expr := range fields {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("drawing.filters.%s.%s: %w", source, field, err)
			}
			compiled[field] = re
		}
		snap.DrawFilters[source] = compiled
	}

	snap.Command = CommandPolicy{
		Enabled:        cfg.Command.Enabled,
		Trigger:        cfg.Command.Trigger,
		RestrictGroups: cfg.Command.RestrictGroups,
		Groups:         make(map[string]struct{}, len(cfg.Command.Groups)),
	}
	for _, g := range cfg.Command.Groups {
		snap.Command.Groups[g] = struct{}{}
	}

	return snap, nil
}

// Store holds the active snapshot behind an atomic pointer.
type Store struct {
	ptr atomic.Pointer[Snapshot]
}

func NewStore(snap *Snapshot) *Store {
	s := &Store{}
	s.Swap(snap)
	return s
}

func (s *Store) Load() *Snapshot {
	return s.ptr.Load()
}

func (s *Store) Swap(snap *Snapshot) {
	s.ptr.Store(snap)
	metrics.ActiveGroups.Set(float64(len(snap.Groups)))
}
