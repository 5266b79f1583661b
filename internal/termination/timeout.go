package termination

import "kidscreen/internal/model"

// evalTimeout classifies tasks run under a wall-clock limit. The single
// governing test is a contiguous gap of unanswered questions reaching the
// last question: that gap means the timer expired at the last answered
// position. When the final question was answered the task ran to the end,
// so no timer expired; any interior gaps are then missing data only. Gaps
// before the timeout position are likewise informational and never cancel
// the timeout verdict.
func evalTimeout(graded []Answer) model.TerminationOutcome {
	out := model.TerminationOutcome{Index: -1, Kind: model.TerminationNone}
	if len(graded) == 0 {
		return out
	}

	last := -1
	for pos, a := range graded {
		if a.Answered {
			last = pos
		}
	}
	if last == -1 {
		return out // not started
	}
	unansweredBefore := false
	for pos := 0; pos < last; pos++ {
		if !graded[pos].Answered {
			unansweredBefore = true
			break
		}
	}

	if last == len(graded)-1 {
		// Answering the final question disproves a timer expiry; interior
		// gaps are missing data, not a timeout.
		out.MiddleGaps = unansweredBefore
		return out
	}

	// Every question after the last answer is unanswered by construction:
	// a contiguous gap reaching the end.
	out.Terminated = true
	out.TimedOut = true
	out.Index = last
	out.Kind = model.TerminationTimeout
	return out
}
