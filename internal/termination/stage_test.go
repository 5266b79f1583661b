package termination

import (
	"testing"

	"kidscreen/internal/model"
)

func stageRule(stages ...model.Stage) model.TerminationRule {
	return model.TerminationRule{Kind: model.TerminationStageThreshold, Stages: stages}
}

func TestStageDecidedFail(t *testing.T) {
	// Stage of 4 with threshold 3: one correct, three incorrect can never
	// reach the threshold.
	rule := stageRule(
		model.Stage{Start: 0, End: 3, Threshold: 3},
		model.Stage{Start: 4, End: 7, Threshold: 3},
	)
	out := Evaluate(rule, seq("CXXX...."))
	if !out.Terminated {
		t.Fatal("expected termination")
	}
	if out.Index != 3 {
		t.Errorf("expected index 3 (stage boundary), got %d", out.Index)
	}
	if out.Kind != model.TerminationStageThreshold {
		t.Errorf("expected stageThreshold, got %q", out.Kind)
	}
}

func TestStageDecidedPassContinues(t *testing.T) {
	rule := stageRule(
		model.Stage{Start: 0, End: 3, Threshold: 3},
		model.Stage{Start: 4, End: 7, Threshold: 3},
	)
	out := Evaluate(rule, seq("CCCXXXXX"))
	if !out.Terminated {
		t.Fatal("expected stage 2 to fail")
	}
	if out.Index != 7 {
		t.Errorf("expected index 7, got %d", out.Index)
	}
}

func TestStageUndecidedNeverTerminates(t *testing.T) {
	// Two correct, one incorrect, one unanswered against threshold 3: the
	// unanswered question could still be correct, so the stage is ambiguous.
	rule := stageRule(model.Stage{Start: 0, End: 3, Threshold: 3})
	out := Evaluate(rule, seq("CCX."))
	if out.Terminated {
		t.Errorf("ambiguous stage terminated: %+v", out)
	}
}

func TestStageUnreachedIsSkippedNotFailed(t *testing.T) {
	// Stage 1 decided-fail, stage 2 never reached. The verdict must come
	// from stage 1 alone; an unreached stage is not a second failure.
	rule := stageRule(
		model.Stage{Start: 0, End: 3, Threshold: 3},
		model.Stage{Start: 4, End: 7, Threshold: 3},
	)
	out := Evaluate(rule, seq("XXXX...."))
	if !out.Terminated || out.Index != 3 {
		t.Fatalf("expected termination at stage 1 boundary, got %+v", out)
	}

	// A task where only the unreached stage exists must stay untouched.
	rule = stageRule(model.Stage{Start: 0, End: 3, Threshold: 3})
	out = Evaluate(rule, seq("...."))
	if out.Terminated {
		t.Errorf("unreached stage treated as fail: %+v", out)
	}
}

func TestScoringOnlyStageNeverTerminates(t *testing.T) {
	rule := stageRule(
		model.Stage{Start: 0, End: 3, Threshold: 2},
		model.Stage{Start: 4, End: 7, ScoringOnly: true},
	)
	out := Evaluate(rule, seq("CCCCXXXX"))
	if out.Terminated {
		t.Errorf("scoring-only stage terminated: %+v", out)
	}
}

func TestStageMiddleGapsFlag(t *testing.T) {
	rule := stageRule(
		model.Stage{Start: 0, End: 2, Threshold: 3},
		model.Stage{Start: 3, End: 5, Threshold: 3},
	)
	// Gap at position 1, then stage 2 decided-fail.
	out := Evaluate(rule, seq("C.CXXX"))
	if !out.Terminated || out.Index != 5 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if !out.MiddleGaps {
		t.Error("expected middle-gaps flag")
	}
}
