// Package taskdef loads the external task, set and field-map configuration.
// Task definitions (question lists, termination rules, thresholds) are
// versioned data supplied by the assessment team; this package only parses
// and validates them.
package taskdef

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"kidscreen/internal/model"
)

// Definitions is the full static configuration bundle.
type Definitions struct {
	Tasks    []model.Task `yaml:"tasks"`
	Sets     []model.Set  `yaml:"sets"`
	FieldMap FieldMap     `yaml:"field_map"`

	byID map[string]model.Task
}

// Load reads and validates a definitions file. Any schema problem fails
// fast here rather than surfacing as a missing field deep in the pipeline.
func Load(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a definitions document.
func Parse(data []byte) (*Definitions, error) {
	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse definitions: %w", err)
	}
	if err := defs.validate(); err != nil {
		return nil, fmt.Errorf("validate definitions: %w", err)
	}
	defs.index()
	return &defs, nil
}

// New assembles a definitions bundle in code, with the same validation as
// Parse.
func New(tasks []model.Task, sets []model.Set, fm FieldMap) (*Definitions, error) {
	defs := Definitions{Tasks: tasks, Sets: sets, FieldMap: fm}
	if err := defs.validate(); err != nil {
		return nil, fmt.Errorf("validate definitions: %w", err)
	}
	defs.index()
	return &defs, nil
}

func (d *Definitions) index() {
	d.byID = make(map[string]model.Task, len(d.Tasks))
	for _, t := range d.Tasks {
		d.byID[t.ID] = t
	}
}

// Task returns a task definition by ID.
func (d *Definitions) Task(id string) (model.Task, bool) {
	t, ok := d.byID[id]
	return t, ok
}

// TasksForSet returns the tasks belonging to a set, in definition order.
func (d *Definitions) TasksForSet(setID string) []model.Task {
	var out []model.Task
	for _, t := range d.Tasks {
		if t.SetID == setID {
			out = append(out, t)
		}
	}
	return out
}

func (d *Definitions) validate() error {
	if len(d.Tasks) == 0 {
		return fmt.Errorf("no tasks defined")
	}
	setIDs := make(map[string]bool, len(d.Sets))
	for _, s := range d.Sets {
		if s.ID == "" {
			return fmt.Errorf("set with empty id")
		}
		if setIDs[s.ID] {
			return fmt.Errorf("duplicate set id %q", s.ID)
		}
		setIDs[s.ID] = true
	}
	taskIDs := make(map[string]bool, len(d.Tasks))
	for _, t := range d.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task with empty id")
		}
		if taskIDs[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		taskIDs[t.ID] = true
	}
	for _, t := range d.Tasks {
		if err := validateTask(t, setIDs, func(id string) bool { return taskIDs[id] }); err != nil {
			return fmt.Errorf("task %q: %w", t.ID, err)
		}
	}
	for _, s := range d.Sets {
		for _, ex := range s.ExcludeTasks {
			if !taskIDs[ex] {
				return fmt.Errorf("set %q excludes unknown task %q", s.ID, ex)
			}
		}
	}
	return d.FieldMap.validate()
}

func validateTask(t model.Task, setIDs map[string]bool, taskExists func(string) bool) error {
	if t.SetID != "" && !setIDs[t.SetID] {
		return fmt.Errorf("unknown set %q", t.SetID)
	}
	if t.PairWith != "" && !taskExists(t.PairWith) {
		return fmt.Errorf("pair_with references unknown task %q", t.PairWith)
	}
	if len(t.Questions) == 0 {
		return fmt.Errorf("no questions")
	}
	ordinals := make([]int, 0, len(t.Questions))
	seen := make(map[string]bool, len(t.Questions))
	for _, q := range t.Questions {
		if q.QuestionID == "" {
			return fmt.Errorf("question with empty id")
		}
		if seen[q.QuestionID] {
			return fmt.Errorf("duplicate question id %q", q.QuestionID)
		}
		seen[q.QuestionID] = true
		ordinals = append(ordinals, q.Ordinal)
	}
	if !sort.IntsAreSorted(ordinals) {
		return fmt.Errorf("question ordinals not ascending")
	}
	return validateRule(t)
}

func validateRule(t model.Task) error {
	graded := 0
	for _, q := range t.Questions {
		if !q.Practice {
			graded++
		}
	}
	r := t.Rule
	switch r.Kind {
	case model.TerminationNone, "":
		return nil
	case model.TerminationStageThreshold:
		if len(r.Stages) == 0 {
			return fmt.Errorf("stage-threshold rule has no stages")
		}
		prevEnd := -1
		for i, st := range r.Stages {
			if st.Start != prevEnd+1 {
				return fmt.Errorf("stage %d is not contiguous", i)
			}
			if st.End < st.Start || st.End >= graded {
				return fmt.Errorf("stage %d bounds [%d,%d] exceed %d graded questions", i, st.Start, st.End, graded)
			}
			if !st.ScoringOnly && st.Threshold <= 0 {
				return fmt.Errorf("stage %d has no threshold", i)
			}
			prevEnd = st.End
		}
	case model.TerminationConsecutiveRun:
		if r.RunLength <= 0 {
			return fmt.Errorf("consecutive-run rule has no run length")
		}
	case model.TerminationAbsolute:
		if len(r.FinalTier) == 0 {
			return fmt.Errorf("absolute-threshold rule has no final tier questions")
		}
		if r.DependentFrom <= 0 || r.DependentFrom > graded {
			return fmt.Errorf("absolute-threshold rule has invalid dependent_from %d", r.DependentFrom)
		}
	case model.TerminationTimeout:
		if r.TimeoutSeconds < 0 {
			return fmt.Errorf("timeout rule has negative duration")
		}
	default:
		return fmt.Errorf("unknown termination kind %q", r.Kind)
	}
	return nil
}
