package engine

import (
	"hash/fnv"

	"github.com/loopworks/cadence/pkg/models"
)

// PickSplitBranch assigns an enrollment to one of the split's weighted
// branches. Assignment hashes the enrollment id against the cumulative
// weights, so the same enrollment always lands on the same branch no matter
// how many times the split is re-evaluated after a resume or retry.
func PickSplitBranch(enrollmentID string, config *models.SplitConfig) models.SplitBranch {
	total := 0
	for _, branch := range config.Branches {
		total += branch.Weight
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(enrollmentID))

	bucket := int(h.Sum32() % uint32(total))

	for _, branch := range config.Branches {
		bucket -= branch.Weight
		if bucket < 0 {
			return branch
		}
	}

	return config.Branches[len(config.Branches)-1]
}
