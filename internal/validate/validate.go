// Package validate computes per-task completion results from merged answers
// and task definitions. It is the single source of truth for total/answered/
// correct accounting; no other component re-implements these rules.
package validate

import (
	"fmt"
	"math"
	"sort"

	"kidscreen/internal/model"
	"kidscreen/internal/taskdef"
	"kidscreen/internal/termination"
)

// Validator evaluates every defined task against one student's answers.
type Validator struct {
	defs *taskdef.Definitions
}

// New creates a validator over a definition bundle.
func New(defs *taskdef.Definitions) *Validator {
	return &Validator{defs: defs}
}

// ValidateAll produces one TaskResult per logical task. Paired variants
// (a positive and an inverse form sharing one administered time limit) are
// combined into a single entry under the leading variant's ID: totals and
// answered counts are summed, while each variant's termination is evaluated
// independently beforehand. A malformed task definition yields an
// error-flagged result for that task alone.
func (v *Validator) ValidateAll(rec model.MergedStudentRecord) map[string]model.TaskResult {
	leaders, followers := pairRoles(v.defs)

	results := make(map[string]model.TaskResult, len(v.defs.Tasks))
	for _, task := range v.defs.Tasks {
		if followers[task.ID] {
			continue
		}
		res := v.validateTask(task, rec.Answers)
		if partnerID, ok := leaders[task.ID]; ok {
			res = combinePair(res, v.validateTask(taskByID(v.defs, partnerID), rec.Answers))
		}
		results[res.TaskID] = res
	}
	return results
}

func taskByID(defs *taskdef.Definitions, id string) model.Task {
	for _, t := range defs.Tasks {
		if t.ID == id {
			return t
		}
	}
	return model.Task{ID: id}
}

// pairRoles resolves each paired couple into a leader and a follower. The
// variant carrying the pair_with reference leads; when both variants
// reference each other, the lexicographically smaller ID leads, so the
// combined entry's key is deterministic regardless of definition order.
func pairRoles(defs *taskdef.Definitions) (leaders map[string]string, followers map[string]bool) {
	leaders = make(map[string]string)
	followers = make(map[string]bool)
	for _, t := range defs.Tasks {
		if t.PairWith == "" || followers[t.ID] {
			continue
		}
		if _, done := leaders[t.ID]; done {
			continue
		}
		p := taskByID(defs, t.PairWith)
		if len(p.Questions) == 0 || followers[p.ID] {
			continue
		}
		if _, done := leaders[p.ID]; done {
			continue
		}
		leader, follower := t, p
		if p.PairWith == t.ID && p.ID < t.ID {
			leader, follower = p, t
		}
		leaders[leader.ID] = follower.ID
		followers[follower.ID] = true
	}
	return leaders, followers
}

func (v *Validator) validateTask(task model.Task, answers map[string]string) model.TaskResult {
	if err := checkDefinition(task); err != nil {
		// One malformed definition must not abort the other tasks.
		return model.TaskResult{
			TaskID:      task.ID,
			Termination: model.TerminationOutcome{Index: -1, Kind: model.TerminationNone},
			Err:         err.Error(),
		}
	}

	ordered := orderedAnswers(task, answers)
	outcome := termination.Evaluate(task.Rule, ordered)

	graded := 0
	for _, a := range ordered {
		if !a.Practice {
			graded++
		}
	}

	total := graded
	if outcome.Terminated && outcome.Index >= 0 {
		total = outcome.Index + 1
	}
	answered, correct := 0, 0
	pos := 0
	for _, a := range ordered {
		if a.Practice {
			continue
		}
		if pos >= total {
			break
		}
		if a.Answered {
			answered++
			if a.Graded && a.Correct {
				correct++
			}
		}
		pos++
	}

	return model.TaskResult{
		TaskID:        task.ID,
		Total:         total,
		Answered:      answered,
		Correct:       correct,
		CompletionPct: pct(answered, total),
		Complete:      total > 0 && answered == total,
		Termination:   outcome,
	}
}

// orderedAnswers projects the student's flat answer map onto the task's
// question sequence in ordinal order.
func orderedAnswers(task model.Task, answers map[string]string) []termination.Answer {
	qs := make([]model.TaskQuestion, len(task.Questions))
	copy(qs, task.Questions)
	sort.SliceStable(qs, func(i, j int) bool { return qs[i].Ordinal < qs[j].Ordinal })

	out := make([]termination.Answer, 0, len(qs))
	for _, q := range qs {
		value := answers[q.QuestionID]
		a := termination.Answer{
			QuestionID: q.QuestionID,
			Practice:   q.Practice,
			Answered:   value != "",
			Graded:     q.Graded(),
			Value:      value,
		}
		if a.Answered && a.Graded {
			a.Correct = value == q.CorrectAnswer
		}
		out = append(out, a)
	}
	return out
}

func checkDefinition(task model.Task) error {
	if len(task.Questions) == 0 {
		return fmt.Errorf("task has no questions")
	}
	r := task.Rule
	switch r.Kind {
	case model.TerminationNone, "", model.TerminationTimeout:
	case model.TerminationStageThreshold:
		if len(r.Stages) == 0 {
			return fmt.Errorf("stage-threshold rule has no stages")
		}
	case model.TerminationConsecutiveRun:
		if r.RunLength <= 0 {
			return fmt.Errorf("consecutive-run rule has no run length")
		}
	case model.TerminationAbsolute:
		if len(r.FinalTier) == 0 || r.DependentFrom <= 0 {
			return fmt.Errorf("absolute-threshold rule is incomplete")
		}
	default:
		return fmt.Errorf("unknown termination kind %q", r.Kind)
	}
	return nil
}

// combinePair folds the partner variant into the leader's result. Counts are
// summed; the leader's termination index stands (scope restriction already
// happened per variant) while the boolean quality signals are combined.
func combinePair(leader, partner model.TaskResult) model.TaskResult {
	if partner.Err != "" && leader.Err == "" {
		leader.Err = partner.Err
	}
	leader.PairedWith = partner.TaskID
	leader.Total += partner.Total
	leader.Answered += partner.Answered
	leader.Correct += partner.Correct
	leader.CompletionPct = pct(leader.Answered, leader.Total)
	leader.Complete = leader.Total > 0 && leader.Answered == leader.Total
	leader.Termination.Terminated = leader.Termination.Terminated || partner.Termination.Terminated
	leader.Termination.TimedOut = leader.Termination.TimedOut || partner.Termination.TimedOut
	leader.Termination.MiddleGaps = leader.Termination.MiddleGaps || partner.Termination.MiddleGaps
	leader.Termination.PostTerminationAnswers = leader.Termination.PostTerminationAnswers ||
		partner.Termination.PostTerminationAnswers
	leader.Termination.QualityFlags = append(leader.Termination.QualityFlags,
		partner.Termination.QualityFlags...)
	return leader
}

func pct(answered, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(answered) / float64(total) * 100))
}
