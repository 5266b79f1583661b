package termination

import "kidscreen/internal/model"

// evalRun terminates after a configured number of consecutive incorrect
// answers. Any correct answer or any unanswered question resets the run:
// a skip does not count as incorrect.
func evalRun(runLength int, graded []Answer) model.TerminationOutcome {
	out := model.TerminationOutcome{Index: -1, Kind: model.TerminationNone}
	if runLength <= 0 {
		return out
	}

	run := 0
	for pos, a := range graded {
		if a.Answered && a.Graded && !a.Correct {
			run++
			if run >= runLength {
				out.Terminated = true
				out.Index = pos
				out.Kind = model.TerminationConsecutiveRun
				return out
			}
			continue
		}
		run = 0
	}
	return out
}
