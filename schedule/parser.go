package schedule

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"
)

const (
	triggerSeparator    = ";"
	targetSeparator     = ":"
	targetListSeparator = ","
)

// parser accepts the standard five cron fields: minute, hour, day, month, weekday.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// TriggerSpec represents a parsed trigger specification with the activities
// it starts and its cron schedule.
type TriggerSpec struct {
	Targets  []string
	CronSpec string
}

// ParseCron parses a five field cron expression.
// Returns ErrInvalidCronSpec if the expression cannot be parsed.
func ParseCron(spec string) (cron.Schedule, error) {
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidCronSpec, err)
	}
	return schedule, nil
}

// ParseTriggerSpecs parses a multi-trigger specification string into individual trigger specs.
// The format is: activity1,activity2:cron_expression;activity3:cron_expression2
//
// Example:
//
//	"heartbeat,report:*/5 * * * *;cleanup:0 3 * * *"
//
// Returns an error if:
//   - Any trigger is missing targets or cron expression
//   - Any target name is not in available
//   - Any cron expression is invalid
//   - Any trigger names the same target twice
func ParseTriggerSpecs(spec string, available map[string]bool) ([]TriggerSpec, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("cron spec cannot be empty")
	}

	triggerStrs := strings.Split(spec, triggerSeparator)
	specs := make([]TriggerSpec, 0, len(triggerStrs))

	for _, triggerStr := range triggerStrs {
		triggerStr = strings.TrimSpace(triggerStr)
		if triggerStr == "" {
			continue // trailing semicolon
		}

		triggerSpec, err := parseSingleTrigger(triggerStr, available)
		if err != nil {
			return nil, err
		}
		specs = append(specs, triggerSpec)
	}

	if len(specs) == 0 {
		return nil, errors.New("no valid triggers found in cron spec")
	}

	return specs, nil
}

func parseSingleTrigger(triggerStr string, available map[string]bool) (TriggerSpec, error) {
	parts := strings.Split(triggerStr, targetSeparator)
	if len(parts) != 2 {
		return TriggerSpec{}, fmt.Errorf("invalid trigger spec: expected format 'activities:cron', got '%s'", triggerStr)
	}

	targetsStr := strings.TrimSpace(parts[0])
	cronSpec := strings.TrimSpace(parts[1])

	if targetsStr == "" {
		return TriggerSpec{}, fmt.Errorf("invalid trigger spec: missing activities in '%s'", triggerStr)
	}
	if cronSpec == "" {
		return TriggerSpec{}, fmt.Errorf("invalid trigger spec: missing cron schedule in '%s'", triggerStr)
	}

	names := strings.Split(targetsStr, targetListSeparator)
	targets := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))

	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if seen[name] {
			return TriggerSpec{}, fmt.Errorf("invalid trigger spec: duplicate activity '%s' in '%s'", name, triggerStr)
		}
		seen[name] = true

		if !available[name] {
			return TriggerSpec{}, fmt.Errorf("invalid trigger spec: unknown activity '%s' in '%s' (available: %s)",
				name, triggerStr, formatAvailable(available))
		}
		targets = append(targets, name)
	}

	if len(targets) == 0 {
		return TriggerSpec{}, fmt.Errorf("invalid trigger spec: no valid activities in '%s'", triggerStr)
	}

	if _, err := ParseCron(cronSpec); err != nil {
		return TriggerSpec{}, fmt.Errorf("invalid trigger spec: invalid cron expression in '%s': %w", triggerStr, err)
	}

	return TriggerSpec{
		Targets:  targets,
		CronSpec: cronSpec,
	}, nil
}

func formatAvailable(available map[string]bool) string {
	return strings.Join(slices.Sorted(maps.Keys(available)), ", ")
}
