// Package planner groups a goal's tasks into dependency-ordered phases.
package planner

import "OpenMCP-Goals/internal/goal"

// CycleWarning marks the terminal phase holding tasks that could not be ordered.
const CycleWarning = "Circular dependencies detected"

// Phase is one round of tasks whose dependencies are satisfied by earlier phases.
type Phase struct {
	Number                    int          `json:"phase"`
	Tasks                     []*goal.Task `json:"tasks"`
	TaskCount                 int          `json:"task_count"`
	ParallelExecutionPossible bool         `json:"parallel_execution_possible"`
	Warning                   string       `json:"warning,omitempty"`
}

// Plan is the phased schedule for one goal.
type Plan struct {
	TotalTasks  int     `json:"total_tasks"`
	TotalPhases int     `json:"total_phases"`
	Phases      []Phase `json:"execution_phases"`
	Iterations  int     `json:"-"`
}

// Build computes the phases for tasks, which must all belong to one goal and
// be given in insertion order. Dependencies on ids outside the set count as
// satisfied. Tasks caught in a cycle end up together in a final phase that
// carries CycleWarning.
func Build(tasks []*goal.Task) Plan {
	plan := Plan{TotalTasks: len(tasks), Phases: []Phase{}}

	inSet := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		inSet[t.ID] = struct{}{}
	}
	placed := make(map[string]struct{}, len(tasks))
	remaining := append([]*goal.Task(nil), tasks...)

	maxIterations := len(tasks) + 1
	for len(remaining) > 0 && plan.Iterations < maxIterations {
		plan.Iterations++

		var ready, blocked []*goal.Task
		for _, t := range remaining {
			if satisfied(t, inSet, placed) {
				ready = append(ready, t)
			} else {
				blocked = append(blocked, t)
			}
		}

		if len(ready) == 0 {
			plan.Phases = append(plan.Phases, newPhase(len(plan.Phases)+1, blocked, CycleWarning))
			remaining = nil
			break
		}

		for _, t := range ready {
			placed[t.ID] = struct{}{}
		}
		plan.Phases = append(plan.Phases, newPhase(len(plan.Phases)+1, ready, ""))
		remaining = blocked
	}

	plan.TotalPhases = len(plan.Phases)
	return plan
}

func satisfied(t *goal.Task, inSet, placed map[string]struct{}) bool {
	for _, dep := range t.Dependencies {
		if _, local := inSet[dep]; !local {
			continue
		}
		if _, done := placed[dep]; !done {
			return false
		}
	}
	return true
}

func newPhase(number int, tasks []*goal.Task, warning string) Phase {
	return Phase{
		Number:                    number,
		Tasks:                     tasks,
		TaskCount:                 len(tasks),
		ParallelExecutionPossible: len(tasks) > 1 && warning == "",
		Warning:                   warning,
	}
}
