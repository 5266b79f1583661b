package validate

import (
	"fmt"
	"testing"

	"kidscreen/internal/model"
	"kidscreen/internal/taskdef"
)

func questions(prefix string, n int, correct string) []model.TaskQuestion {
	qs := make([]model.TaskQuestion, n)
	for i := range qs {
		qs[i] = model.TaskQuestion{
			QuestionID:    fmt.Sprintf("%s_q%d", prefix, i),
			Ordinal:       i,
			CorrectAnswer: correct,
		}
	}
	return qs
}

func student(answers map[string]string) model.MergedStudentRecord {
	return model.MergedStudentRecord{StudentID: "S001", Grade: model.GradeK1, Answers: answers}
}

func TestValidateScopeMath(t *testing.T) {
	defs := &taskdef.Definitions{Tasks: []model.Task{{
		ID:        "letters",
		Questions: questions("letters", 6, "1"),
		Rule:      model.TerminationRule{Kind: model.TerminationConsecutiveRun, RunLength: 3},
	}}}
	v := New(defs)

	// Correct, correct, then three incorrect: terminates at position 4.
	res := v.ValidateAll(student(map[string]string{
		"letters_q0": "1", "letters_q1": "1",
		"letters_q2": "2", "letters_q3": "2", "letters_q4": "2",
		"letters_q5": "1", // post-termination answer
	}))["letters"]

	if !res.Termination.Terminated || res.Termination.Index != 4 {
		t.Fatalf("unexpected termination: %+v", res.Termination)
	}
	if res.Total != 5 {
		t.Errorf("total = %d, want 5 (scope restricted to index 4)", res.Total)
	}
	if res.Answered != 5 {
		t.Errorf("answered = %d, want 5", res.Answered)
	}
	if res.Correct != 2 {
		t.Errorf("correct = %d, want 2", res.Correct)
	}
	if !res.Complete {
		t.Error("task fully answered within scope should be complete")
	}
	if res.CompletionPct != 100 {
		t.Errorf("pct = %d, want 100", res.CompletionPct)
	}
	if !res.Termination.PostTerminationAnswers {
		t.Error("expected post-termination answer flag")
	}
	if res.Answered > res.Total || res.Total > 6 {
		t.Errorf("scope accounting violated: %+v", res)
	}
}

func TestValidateNotTerminatedUsesFullLength(t *testing.T) {
	defs := &taskdef.Definitions{Tasks: []model.Task{{
		ID:        "count",
		Questions: questions("count", 4, "1"),
		Rule:      model.TerminationRule{Kind: model.TerminationNone},
	}}}
	res := New(defs).ValidateAll(student(map[string]string{
		"count_q0": "1", "count_q1": "2",
	}))["count"]

	if res.Total != 4 || res.Answered != 2 || res.Correct != 1 {
		t.Errorf("got total=%d answered=%d correct=%d", res.Total, res.Answered, res.Correct)
	}
	if res.Complete {
		t.Error("half-answered task must not be complete")
	}
	if res.CompletionPct != 50 {
		t.Errorf("pct = %d, want 50", res.CompletionPct)
	}
}

func TestValidatePracticeExcludedFromScope(t *testing.T) {
	tasks := []model.Task{{
		ID: "mix",
		Questions: []model.TaskQuestion{
			{QuestionID: "mix_p0", Ordinal: 0, Practice: true},
			{QuestionID: "mix_q1", Ordinal: 1, CorrectAnswer: "1"},
			{QuestionID: "mix_q2", Ordinal: 2, CorrectAnswer: "1"},
		},
	}}
	res := New(&taskdef.Definitions{Tasks: tasks}).ValidateAll(student(map[string]string{
		"mix_p0": "1", "mix_q1": "1", "mix_q2": "1",
	}))["mix"]

	if res.Total != 2 {
		t.Errorf("total = %d, want 2 (practice excluded)", res.Total)
	}
	if res.Answered != 2 || res.Correct != 2 {
		t.Errorf("answered=%d correct=%d", res.Answered, res.Correct)
	}
}

func TestValidateMalformedTaskIsolated(t *testing.T) {
	defs := &taskdef.Definitions{Tasks: []model.Task{
		{ID: "broken", Questions: nil},
		{ID: "fine", Questions: questions("fine", 2, "1")},
	}}
	results := New(defs).ValidateAll(student(map[string]string{
		"fine_q0": "1", "fine_q1": "1",
	}))

	broken := results["broken"]
	if broken.Err == "" {
		t.Error("expected error on malformed task")
	}
	if broken.Total != 0 || broken.Complete {
		t.Errorf("malformed task must report zero scope: %+v", broken)
	}

	fine := results["fine"]
	if fine.Err != "" || !fine.Complete {
		t.Errorf("healthy task affected by malformed sibling: %+v", fine)
	}
}

func TestValidatePairedVariantsCombined(t *testing.T) {
	tasks := []model.Task{
		{
			ID:        "inhibit-neg",
			Questions: questions("neg", 4, "1"),
			Rule:      model.TerminationRule{Kind: model.TerminationTimeout},
		},
		{
			ID:        "inhibit-pos",
			PairWith:  "inhibit-neg",
			Questions: questions("pos", 4, "1"),
			Rule:      model.TerminationRule{Kind: model.TerminationTimeout},
		},
	}
	// Positive variant runs to the end; negative variant times out after
	// two answers. Terminations are evaluated independently, then counts
	// are summed.
	answers := map[string]string{
		"pos_q0": "1", "pos_q1": "1", "pos_q2": "1", "pos_q3": "1",
		"neg_q0": "1", "neg_q1": "1",
	}
	results := New(&taskdef.Definitions{Tasks: tasks}).ValidateAll(student(answers))

	if len(results) != 1 {
		t.Fatalf("expected one combined entry, got %d: %v", len(results), results)
	}
	res, ok := results["inhibit-pos"]
	if !ok {
		t.Fatalf("expected combined entry under inhibit-pos, got %v", results)
	}
	if res.PairedWith != "inhibit-neg" {
		t.Errorf("paired_with = %q", res.PairedWith)
	}
	// pos contributes 4/4, neg timed out at position 1 so contributes 2/2.
	if res.Total != 6 || res.Answered != 6 {
		t.Errorf("total=%d answered=%d, want 6/6", res.Total, res.Answered)
	}
	if !res.Complete {
		t.Error("combined pair should be complete")
	}
	if !res.Termination.TimedOut {
		t.Error("timeout on either variant must surface on the combined entry")
	}
}

func TestValidatePairCombinationOrderIndependent(t *testing.T) {
	mk := func(first, second string) map[string]model.TaskResult {
		a := model.Task{ID: "a-pos", PairWith: "b-neg", Questions: questions("a", 2, "1")}
		b := model.Task{ID: "b-neg", PairWith: "a-pos", Questions: questions("b", 2, "1")}
		tasks := []model.Task{a, b}
		if first == "b-neg" {
			tasks = []model.Task{b, a}
		}
		return New(&taskdef.Definitions{Tasks: tasks}).ValidateAll(student(map[string]string{
			"a_q0": "1", "b_q0": "1",
		}))
	}

	forward := mk("a-pos", "b-neg")
	reversed := mk("b-neg", "a-pos")
	if len(forward) != 1 || len(reversed) != 1 {
		t.Fatalf("expected single combined entries, got %v and %v", forward, reversed)
	}
	// Mutual references: the lexicographically smaller ID leads either way.
	if _, ok := forward["a-pos"]; !ok {
		t.Errorf("forward order keyed %v", forward)
	}
	if _, ok := reversed["a-pos"]; !ok {
		t.Errorf("reversed order keyed %v", reversed)
	}
	if forward["a-pos"].Total != reversed["a-pos"].Total {
		t.Error("pair combination depends on definition order")
	}
}

func TestValidateObservationalQuestionsNotScored(t *testing.T) {
	tasks := []model.Task{{
		ID: "observe",
		Questions: []model.TaskQuestion{
			{QuestionID: "obs_q0", Ordinal: 0},
			{QuestionID: "obs_q1", Ordinal: 1},
		},
	}}
	res := New(&taskdef.Definitions{Tasks: tasks}).ValidateAll(student(map[string]string{
		"obs_q0": "anything", "obs_q1": "noted",
	}))["observe"]

	if res.Answered != 2 || res.Correct != 0 {
		t.Errorf("answered=%d correct=%d, want 2/0", res.Answered, res.Correct)
	}
	if !res.Complete {
		t.Error("fully answered observational task is complete")
	}
}
