// Package sets rolls per-task results into per-set completion status. Task
// applicability respects gender-conditional guards and a configurable list
// of tasks excluded from a set's completion accounting.
package sets

import (
	"strings"

	"kidscreen/internal/model"
)

// Aggregate computes one set's status for one student. Paired task variants
// surface as a single logical entry in results, so each counts once.
func Aggregate(set model.Set, tasks []model.Task, results map[string]model.TaskResult, gender string) model.SetStatus {
	excluded := make(map[string]bool, len(set.ExcludeTasks))
	for _, id := range set.ExcludeTasks {
		excluded[id] = true
	}

	applicable, complete := 0, 0
	for _, task := range tasks {
		if task.SetID != set.ID || excluded[task.ID] {
			continue
		}
		res, ok := results[task.ID]
		if !ok {
			// Follower half of a pair; the leader entry accounts for it.
			continue
		}
		if !Applies(task, gender) {
			continue
		}
		applicable++
		if res.Complete {
			complete++
		}
	}

	return model.SetStatus{
		SetID:           set.ID,
		TasksComplete:   complete,
		TasksApplicable: applicable,
		Status:          status(complete, applicable),
	}
}

// Applies reports whether a task's demographic guard matches the student.
// Gender codes arrive in both single-letter and full-word encodings, so both
// sides are normalized before comparison.
func Applies(task model.Task, gender string) bool {
	if task.GenderOnly == "" {
		return true
	}
	want := NormalizeGender(task.GenderOnly)
	got := NormalizeGender(gender)
	if got == "" {
		// Unknown gender cannot satisfy a guard.
		return false
	}
	return want == got
}

// NormalizeGender reduces a gender code to its lowercase initial, so "M",
// "male" and "Male" compare equal.
func NormalizeGender(g string) string {
	g = strings.TrimSpace(strings.ToLower(g))
	if g == "" {
		return ""
	}
	return g[:1]
}

func status(complete, applicable int) model.CompletionStatus {
	switch {
	case applicable > 0 && complete == applicable:
		return model.StatusComplete
	case complete > 0:
		return model.StatusIncomplete
	default:
		return model.StatusNotStarted
	}
}
