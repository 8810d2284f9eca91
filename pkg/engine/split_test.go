package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loopworks/cadence/pkg/models"
)

func TestPickSplitBranchDistribution(t *testing.T) {
	config := &models.SplitConfig{
		Branches: []models.SplitBranch{
			{Name: "A", Weight: 70, Actions: []string{"a"}},
			{Name: "B", Weight: 30, Actions: []string{"b"}},
		},
	}

	const total = 10000

	counts := map[string]int{}

	for i := range total {
		branch := PickSplitBranch(fmt.Sprintf("enrollment-%d", i), config)
		counts[branch.Name]++
	}

	// Within a few percentage points of 70/30.
	assert.InDelta(t, 0.70, float64(counts["A"])/total, 0.03)
	assert.InDelta(t, 0.30, float64(counts["B"])/total, 0.03)
}

func TestPickSplitBranchIsDeterministic(t *testing.T) {
	config := &models.SplitConfig{
		Branches: []models.SplitBranch{
			{Name: "A", Weight: 50, Actions: []string{"a"}},
			{Name: "B", Weight: 50, Actions: []string{"b"}},
		},
	}

	for i := range 100 {
		id := fmt.Sprintf("enrollment-%d", i)
		first := PickSplitBranch(id, config)

		for range 20 {
			assert.Equal(t, first.Name, PickSplitBranch(id, config).Name)
		}
	}
}

func TestPickSplitBranchThreeWay(t *testing.T) {
	config := &models.SplitConfig{
		Branches: []models.SplitBranch{
			{Name: "A", Weight: 1, Actions: []string{"a"}},
			{Name: "B", Weight: 1, Actions: []string{"b"}},
			{Name: "C", Weight: 2, Actions: []string{"c"}},
		},
	}

	counts := map[string]int{}
	for i := range 8000 {
		counts[PickSplitBranch(fmt.Sprintf("e-%d", i), config).Name]++
	}

	assert.InDelta(t, 0.25, float64(counts["A"])/8000, 0.03)
	assert.InDelta(t, 0.25, float64(counts["B"])/8000, 0.03)
	assert.InDelta(t, 0.50, float64(counts["C"])/8000, 0.03)
}
