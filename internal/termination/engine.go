// Package termination decides, per task and student, the point at which
// testing legitimately stopped. Four state machines exist: stage-threshold,
// consecutive-run, absolute-threshold with cross-validation, and
// timeout-with-gap-detection. The engine dispatches on externally supplied
// rule configuration and never hardcodes task-specific field names.
//
// All positions in this package index the task's non-practice question
// sequence. An outcome with Index >= 0 restricts every downstream
// total/answered/correct computation to positions [0, Index].
package termination

import (
	"strconv"
	"strings"

	"kidscreen/internal/model"
)

// Answer is one question's state in evaluation order. Value carries the raw
// answer for score-based rules; Correct is only meaningful when Graded.
type Answer struct {
	QuestionID string
	Practice   bool
	Answered   bool
	Graded     bool
	Correct    bool
	Value      string
}

// Evaluate runs the rule's state machine over the ordered answers and
// returns the termination outcome. Ambiguity (an undecided stage, an
// incomplete final tier) is a valid outcome, not an error: the result is
// simply not-terminated.
func Evaluate(rule model.TerminationRule, answers []Answer) model.TerminationOutcome {
	graded := nonPractice(answers)
	out := model.TerminationOutcome{Index: -1, Kind: model.TerminationNone}

	switch rule.Kind {
	case model.TerminationStageThreshold:
		out = evalStages(rule.Stages, graded)
	case model.TerminationConsecutiveRun:
		out = evalRun(rule.RunLength, graded)
	case model.TerminationAbsolute:
		out = evalAbsolute(rule, graded)
	case model.TerminationTimeout:
		out = evalTimeout(graded)
	}

	finalize(&out, graded)
	return out
}

func nonPractice(answers []Answer) []Answer {
	out := make([]Answer, 0, len(answers))
	for _, a := range answers {
		if !a.Practice {
			out = append(out, a)
		}
	}
	return out
}

// finalize fills the flags that apply uniformly across termination kinds:
// middle gaps strictly before the index and answers strictly after it.
// Neither flag ever changes the termination decision itself.
func finalize(out *model.TerminationOutcome, graded []Answer) {
	if !out.Terminated || out.Index < 0 {
		return
	}
	for pos := 0; pos < out.Index && pos < len(graded); pos++ {
		if !graded[pos].Answered {
			out.MiddleGaps = true
			break
		}
	}
	for pos := out.Index + 1; pos < len(graded); pos++ {
		if graded[pos].Answered {
			out.PostTerminationAnswers = true
			break
		}
	}
}

// score parses an answer value as a numeric score. Accepts plain numbers,
// percentages and yes/no style values; anything else reads as zero.
func score(v string) float64 {
	s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "%"))
	switch strings.ToLower(s) {
	case "yes", "y", "true":
		return 1
	case "no", "n", "false", "":
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
