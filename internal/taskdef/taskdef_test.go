package taskdef

import (
	"strings"
	"testing"

	"kidscreen/internal/model"
)

const validDefs = `
sets:
  - id: language
    name: Language
  - id: motor
    name: Fine Motor
    exclude_tasks: [shape-copy]
tasks:
  - id: letters
    name: Letter Naming
    set: language
    questions:
      - {id: letters_p1, ordinal: 0, practice: true}
      - {id: letters_q1, ordinal: 1, correct: "1"}
      - {id: letters_q2, ordinal: 2, correct: "1"}
      - {id: letters_q3, ordinal: 3, correct: "1"}
      - {id: letters_q4, ordinal: 4, correct: "1"}
    termination:
      kind: stageThreshold
      stages:
        - {start: 0, end: 1, threshold: 2}
        - {start: 2, end: 3, scoring_only: true}
  - id: shape-copy
    name: Shape Copying
    set: motor
    questions:
      - {id: shape_whole, ordinal: 0}
      - {id: shape_seg1, ordinal: 1}
    termination:
      kind: absoluteThreshold
      final_tier: [shape_whole]
      dependent_from: 1
field_map:
  required: [studentid, sessionkey]
  fields:
    studentid: {primary: q3_sid, secondary: QID3}
    sessionkey: {primary: q4_skey, secondary: QID4}
    letters_q1: {primary: q10_l1, secondary: QID10}
`

func TestParseValidDefinitions(t *testing.T) {
	defs, err := Parse([]byte(validDefs))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(defs.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(defs.Tasks))
	}
	task, ok := defs.Task("letters")
	if !ok {
		t.Fatal("expected task letters")
	}
	if task.Rule.Kind != model.TerminationStageThreshold {
		t.Errorf("expected stageThreshold, got %q", task.Rule.Kind)
	}
	motor := defs.TasksForSet("motor")
	if len(motor) != 1 || motor[0].ID != "shape-copy" {
		t.Errorf("TasksForSet(motor) = %v", motor)
	}
}

func TestParseRejectsBadDefinitions(t *testing.T) {
	tests := []struct {
		name    string
		mangle  func(string) string
		wantErr string
	}{
		{
			"missing required field map entry",
			func(s string) string { return strings.Replace(s, "    sessionkey: {primary: q4_skey, secondary: QID4}\n", "", 1) },
			"required field",
		},
		{
			"unknown set reference",
			func(s string) string { return strings.Replace(s, "set: language", "set: nonexistent", 1) },
			"unknown set",
		},
		{
			"stage without threshold",
			func(s string) string { return strings.Replace(s, "threshold: 2", "threshold: 0", 1) },
			"no threshold",
		},
		{
			"excluded task must exist",
			func(s string) string { return strings.Replace(s, "exclude_tasks: [shape-copy]", "exclude_tasks: [ghost]", 1) },
			"unknown task",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.mangle(validDefs)))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestFieldMapTranslate(t *testing.T) {
	defs, err := Parse([]byte(validDefs))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	fm := defs.FieldMap

	got := fm.Translate(model.SourcePrimary, map[string]string{
		"q3_sid":   "S001",
		"q10_l1":   "1",
		"unmapped": "kept",
	})
	want := map[string]string{
		"studentid":  "S001",
		"letters_q1": "1",
		"unmapped":   "kept",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Translate primary: %s = %q, want %q", k, got[k], v)
		}
	}

	got = fm.Translate(model.SourceSecondary, map[string]string{"QID3": "S001"})
	if got["studentid"] != "S001" {
		t.Errorf("Translate secondary: studentid = %q, want S001", got["studentid"])
	}
}
