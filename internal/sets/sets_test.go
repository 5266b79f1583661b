package sets

import (
	"testing"

	"kidscreen/internal/model"
)

func task(id, setID, genderOnly string) model.Task {
	return model.Task{ID: id, SetID: setID, GenderOnly: genderOnly}
}

func result(id string, complete bool) model.TaskResult {
	return model.TaskResult{TaskID: id, Total: 4, Answered: 4, Complete: complete}
}

func TestAggregateStatuses(t *testing.T) {
	set := model.Set{ID: "language"}
	tasks := []model.Task{
		task("t1", "language", ""),
		task("t2", "language", ""),
		task("t3", "other-set", ""),
	}

	tests := []struct {
		name       string
		results    map[string]model.TaskResult
		complete   int
		applicable int
		status     model.CompletionStatus
	}{
		{
			"all complete",
			map[string]model.TaskResult{"t1": result("t1", true), "t2": result("t2", true)},
			2, 2, model.StatusComplete,
		},
		{
			"partially complete",
			map[string]model.TaskResult{"t1": result("t1", true), "t2": result("t2", false)},
			1, 2, model.StatusIncomplete,
		},
		{
			"nothing complete",
			map[string]model.TaskResult{"t1": result("t1", false), "t2": result("t2", false)},
			0, 2, model.StatusNotStarted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := Aggregate(set, tasks, tt.results, "F")
			if st.TasksComplete != tt.complete || st.TasksApplicable != tt.applicable {
				t.Errorf("got %d/%d, want %d/%d", st.TasksComplete, st.TasksApplicable, tt.complete, tt.applicable)
			}
			if st.Status != tt.status {
				t.Errorf("status = %q, want %q", st.Status, tt.status)
			}
		})
	}
}

func TestAggregateGenderGuard(t *testing.T) {
	set := model.Set{ID: "motor"}
	tasks := []model.Task{
		task("both", "motor", ""),
		task("girls-only", "motor", "F"),
	}
	results := map[string]model.TaskResult{
		"both":       result("both", true),
		"girls-only": result("girls-only", true),
	}

	tests := []struct {
		name       string
		gender     string
		applicable int
	}{
		{"single letter match", "f", 2},
		{"full word match", "Female", 2},
		{"full word uppercase", "FEMALE", 2},
		{"non-matching", "male", 1},
		{"single letter non-matching", "M", 1},
		{"unknown gender fails the guard", "", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := Aggregate(set, tasks, results, tt.gender)
			if st.TasksApplicable != tt.applicable {
				t.Errorf("applicable = %d, want %d", st.TasksApplicable, tt.applicable)
			}
		})
	}
}

func TestAggregateExclusionList(t *testing.T) {
	// Fine-motor shape copying is displayed under the set but excluded from
	// its completion accounting by policy.
	set := model.Set{ID: "motor", ExcludeTasks: []string{"shape-copy"}}
	tasks := []model.Task{
		task("threading", "motor", ""),
		task("shape-copy", "motor", ""),
	}
	results := map[string]model.TaskResult{
		"threading":  result("threading", true),
		"shape-copy": result("shape-copy", false),
	}

	st := Aggregate(set, tasks, results, "M")
	if st.TasksApplicable != 1 || st.TasksComplete != 1 {
		t.Errorf("got %d/%d, want 1/1", st.TasksComplete, st.TasksApplicable)
	}
	if st.Status != model.StatusComplete {
		t.Errorf("status = %q, want complete despite excluded incomplete task", st.Status)
	}
}

func TestAggregateNoApplicableTasks(t *testing.T) {
	set := model.Set{ID: "empty"}
	st := Aggregate(set, nil, nil, "F")
	if st.Status != model.StatusNotStarted {
		t.Errorf("status = %q, want notstarted for zero applicable", st.Status)
	}
}
