package routing

import (
	"context"

	"tremor/internal/config"
	"tremor/internal/logger"
	"tremor/pkg/cel"
	"tremor/pkg/models"
)

// RuleEngine evaluates per-source eligibility, independent of any group
// subscription. The full routing predicate is
// Permits(group, source) && SourceEligible(source, event); the first half
// lives on config.GroupPolicy, this is the second half.
type RuleEngine struct {
	eval   *cel.Evaluator
	logger logger.Logger
}

func NewRuleEngine(eval *cel.Evaluator, log logger.Logger) *RuleEngine {
	return &RuleEngine{eval: eval, logger: log}
}

// SourceEligible is a pure function of the snapshot and the event. A source
// absent from the configuration is disabled; a configured source with no
// rule fields is always eligible. The min_magnitude boundary is inclusive.
func (r *RuleEngine) SourceEligible(ctx context.Context, snap *config.Snapshot, ev models.Event) bool {
	rule, configured := snap.Sources[ev.Source]
	if !configured || !rule.Enabled {
		return false
	}

	if rule.MinMagnitude != nil {
		if ev.Magnitude == nil || *ev.Magnitude < *rule.MinMagnitude {
			return false
		}
	}

	if rule.Program != nil {
		pass, err := r.eval.EvaluateFilter(ctx, rule.Program, ev)
		if err != nil {
			// Fail closed: a rule that cannot be evaluated suppresses, it
			// does not broadcast.
			r.logger.Errorw("Rule evaluation failed, suppressing event",
				"source", ev.Source,
				"event_id", ev.ExternalID,
				"error", err,
			)
			return false
		}
		if !pass {
			return false
		}
	}

	return true
}
