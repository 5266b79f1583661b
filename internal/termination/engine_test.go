package termination

import (
	"fmt"
	"testing"

	"kidscreen/internal/model"
)

// seq builds an answer sequence from a compact pattern:
// 'C' correct, 'X' incorrect, '.' unanswered, 'O' answered but ungraded.
func seq(pattern string) []Answer {
	answers := make([]Answer, 0, len(pattern))
	for i, ch := range pattern {
		a := Answer{QuestionID: fmt.Sprintf("q%d", i)}
		switch ch {
		case 'C':
			a.Answered, a.Graded, a.Correct = true, true, true
			a.Value = "1"
		case 'X':
			a.Answered, a.Graded = true, true
			a.Value = "0"
		case 'O':
			a.Answered = true
			a.Value = "1"
		case '.':
		}
		answers = append(answers, a)
	}
	return answers
}

func TestEvaluateNoneKindNeverTerminates(t *testing.T) {
	out := Evaluate(model.TerminationRule{Kind: model.TerminationNone}, seq("XXXXXX"))
	if out.Terminated || out.Index != -1 {
		t.Errorf("none rule terminated: %+v", out)
	}
}

func TestPracticeItemsExcludedFromDomain(t *testing.T) {
	answers := seq("XXX")
	answers[0].Practice = true
	rule := model.TerminationRule{Kind: model.TerminationConsecutiveRun, RunLength: 2}
	out := Evaluate(rule, answers)
	if !out.Terminated {
		t.Fatal("expected termination")
	}
	// Positions index the non-practice sequence: the two incorrect graded
	// answers sit at positions 0 and 1.
	if out.Index != 1 {
		t.Errorf("expected index 1, got %d", out.Index)
	}
}

func TestPostTerminationAnswersFlag(t *testing.T) {
	rule := model.TerminationRule{Kind: model.TerminationConsecutiveRun, RunLength: 3}
	out := Evaluate(rule, seq("XXXC"))
	if !out.Terminated || out.Index != 2 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if !out.PostTerminationAnswers {
		t.Error("expected post-termination answers flag")
	}

	out = Evaluate(rule, seq("XXX."))
	if out.PostTerminationAnswers {
		t.Error("did not expect post-termination answers flag")
	}
}
