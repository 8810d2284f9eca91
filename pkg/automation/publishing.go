package automation

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/loopworks/cadence/pkg/models"
	"github.com/loopworks/cadence/pkg/registry"
)

var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateForPublishing checks that an automation definition is safe to
// activate: every action kind is known and carries its configuration
// variant, every graph edge lands on a real action, every action is
// reachable from the entry, split weights are positive, and a schedule
// trigger parses as a cron expression. Activation of an invalid definition
// is rejected, never degraded.
func ValidateForPublishing(automation *models.Automation, reg *registry.Registry) error {
	if automation.Trigger == nil {
		return errors.New("cannot publish automation with no trigger")
	}

	if !automation.Trigger.Kind.IsValid() {
		return fmt.Errorf("unknown trigger kind: %s", automation.Trigger.Kind)
	}

	if automation.Trigger.Kind == models.TriggerKindSchedule {
		expression := automation.Trigger.ConfigString("cron")
		if expression == "" {
			return errors.New("schedule trigger requires a cron expression")
		}

		if _, err := scheduleParser.Parse(expression); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", expression, err)
		}
	}

	if len(automation.Actions) == 0 {
		return errors.New("cannot publish automation with no actions")
	}

	index := automation.ActionIndex()
	if len(index) != len(automation.Actions) {
		return errors.New("duplicate action ids in graph")
	}

	for _, action := range automation.Actions {
		if err := validateAction(action, index, reg); err != nil {
			return err
		}
	}

	if unreachable := findUnreachable(automation, index); len(unreachable) > 0 {
		return fmt.Errorf("actions unreachable from entry: %v", unreachable)
	}

	return nil
}

func validateAction(action *models.Action, index map[string]*models.Action, reg *registry.Registry) error {
	if action.ID == "" {
		return errors.New("found action with empty id")
	}

	if !action.Kind.IsValid() {
		return fmt.Errorf("action %s has unknown kind: %s", action.ID, action.Kind)
	}

	for _, successor := range action.Successors() {
		if _, ok := index[successor]; !ok {
			return fmt.Errorf("action %s references non-existent action: %s", action.ID, successor)
		}
	}

	switch action.Kind {
	case models.ActionKindWait:
		if action.Wait == nil || action.Wait.Duration <= 0 {
			return fmt.Errorf("wait action %s requires a positive duration", action.ID)
		}
	case models.ActionKindCondition:
		if action.Condition == nil || action.Condition.Expression == nil {
			return fmt.Errorf("condition action %s requires an expression", action.ID)
		}
	case models.ActionKindSplit:
		if err := validateSplit(action); err != nil {
			return err
		}
	case models.ActionKindGoto:
		if action.Goto == nil || action.Goto.Target == "" {
			return fmt.Errorf("goto action %s requires a target", action.ID)
		}
	default:
		if err := reg.ValidateActionConfig(action); err != nil {
			return err
		}
	}

	return nil
}

func validateSplit(action *models.Action) error {
	if action.Split == nil || len(action.Split.Branches) < 2 {
		return fmt.Errorf("split action %s requires at least two branches", action.ID)
	}

	for _, branch := range action.Split.Branches {
		if branch.Name == "" {
			return fmt.Errorf("split action %s has a branch with no name", action.ID)
		}

		if branch.Weight <= 0 {
			return fmt.Errorf("split action %s branch %s requires a positive weight", action.ID, branch.Name)
		}
	}

	return nil
}

// findUnreachable walks the graph from the entry action and returns the ids
// of actions no path can ever visit.
func findUnreachable(automation *models.Automation, index map[string]*models.Action) []string {
	visited := make(map[string]bool, len(index))
	stack := []string{automation.EntryActionID()}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[id] {
			continue
		}

		visited[id] = true

		if action, ok := index[id]; ok {
			stack = append(stack, action.Successors()...)
		}
	}

	var unreachable []string

	for _, action := range automation.Actions {
		if !visited[action.ID] {
			unreachable = append(unreachable, action.ID)
		}
	}

	return unreachable
}
