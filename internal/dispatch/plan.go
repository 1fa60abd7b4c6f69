package dispatch

import (
	"errors"
	"fmt"

	"github.com/oshokin/safeglove/internal/config"
	"github.com/oshokin/safeglove/internal/domain/threat"
)

var errInvalidPlan = errors.New("invalid dispatch plan")

// Step is one configured action of a level.
type Step struct {
	Kind   threat.ActionKind
	Target string
}

// Plan lists the ordered steps per destination level.
type Plan map[threat.Level][]Step

// PlanFromConfig converts the dispatch map of the settings file.
func PlanFromConfig(specs map[string][]config.ActionSpec) (Plan, error) {
	plan := make(Plan, len(specs))

	for levelName, actions := range specs {
		level, ok := threat.ParseLevel(levelName)
		if !ok {
			return nil, fmt.Errorf("%w: unknown level %q", errInvalidPlan, levelName)
		}

		steps := make([]Step, 0, len(actions))

		for _, action := range actions {
			kind, ok := threat.ParseActionKind(action.Kind)
			if !ok {
				return nil, fmt.Errorf("%w: unknown action %q for %s", errInvalidPlan, action.Kind, level)
			}

			steps = append(steps, Step{Kind: kind, Target: action.Target})
		}

		plan[level] = steps
	}

	return plan, nil
}

// DefaultPlan returns the stock response plan.
func DefaultPlan() Plan {
	// The default map always converts.
	plan, _ := PlanFromConfig(config.DefaultDispatchMap()) //nolint:errcheck // See above.

	return plan
}

// Has reports whether the steps of level include kind.
func (p Plan) Has(level threat.Level, kind threat.ActionKind) bool {
	for _, step := range p[level] {
		if step.Kind == kind {
			return true
		}
	}

	return false
}
