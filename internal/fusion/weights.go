package fusion

import (
	"fmt"
	"math"
	"slices"

	"github.com/oshokin/safeglove/internal/domain/threat"
)

// weightTolerance absorbs float rounding of configured weights.
const weightTolerance = 1e-6

// ResolveWeights validates the configured weights and redistributes the share
// of disabled sources proportionally among the enabled ones.
// The result only contains enabled sources and sums to 1.
func ResolveWeights(
	weights map[threat.SourceKind]float64,
	disabled []threat.SourceKind,
) (map[threat.SourceKind]float64, error) {
	var total, enabled float64

	for kind, weight := range weights {
		if _, ok := threat.ParseSourceKind(string(kind)); !ok {
			return nil, fmt.Errorf("%w: unknown source %q", threat.ErrInvalidWeights, kind)
		}

		if math.IsNaN(weight) || weight < 0 || weight > 1 {
			return nil, fmt.Errorf("%w: %s weight %v outside [0,1]", threat.ErrInvalidWeights, kind, weight)
		}

		total += weight

		if !slices.Contains(disabled, kind) {
			enabled += weight
		}
	}

	if math.Abs(total-1) > weightTolerance {
		return nil, fmt.Errorf("%w: weights sum to %v, want 1", threat.ErrInvalidWeights, total)
	}

	if enabled <= 0 {
		return nil, fmt.Errorf("%w: no enabled source carries weight", threat.ErrInvalidWeights)
	}

	resolved := make(map[threat.SourceKind]float64, len(weights))

	var sum float64

	for kind, weight := range weights {
		if slices.Contains(disabled, kind) || weight == 0 {
			continue
		}

		resolved[kind] = weight / enabled
		sum += resolved[kind]
	}

	if math.Abs(sum-1) > weightTolerance {
		return nil, fmt.Errorf("%w: redistributed weights sum to %v", threat.ErrInvalidWeights, sum)
	}

	return resolved, nil
}
