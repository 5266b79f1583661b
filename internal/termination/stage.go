package termination

import "kidscreen/internal/model"

// evalStages walks the configured stages in order. A stage is mathematically
// decided-pass when correct >= threshold, decided-fail when no remaining
// combination of unanswered-as-correct can reach the threshold, and
// undecided otherwise. The first decided-fail stage terminates at that
// stage's last position. A stage with zero answered questions was never
// reached and is skipped outright, and a scoring-only stage never
// terminates.
func evalStages(stages []model.Stage, graded []Answer) model.TerminationOutcome {
	out := model.TerminationOutcome{Index: -1, Kind: model.TerminationNone}

	for _, st := range stages {
		if st.ScoringOnly {
			continue
		}
		correct, unanswered, answered := 0, 0, 0
		for pos := st.Start; pos <= st.End && pos < len(graded); pos++ {
			a := graded[pos]
			if !a.Answered {
				unanswered++
				continue
			}
			answered++
			if a.Graded && a.Correct {
				correct++
			}
		}
		if answered == 0 {
			// Never evaluate a stage that was never reached.
			continue
		}
		if correct >= st.Threshold {
			continue // decided pass
		}
		if correct+unanswered < st.Threshold {
			// Decided fail: later stages are out of scope.
			out.Terminated = true
			out.Index = st.End
			out.Kind = model.TerminationStageThreshold
			return out
		}
		// Undecided: ambiguous data never terminates.
	}
	return out
}
