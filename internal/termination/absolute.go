package termination

import "kidscreen/internal/model"

// evalAbsolute handles multi-tier physical/motor assessments. Termination
// triggers when every final-tier question is answered and scores zero, which
// excludes the dependent group of later questions. Independent of the
// termination decision, two consistency checks run over the answers and
// attach data-quality flags: graduated cross-section checks (coarse success
// forces partial success on a finer subset measure) and hierarchical
// monotonicity within three-tier sub-scales.
func evalAbsolute(rule model.TerminationRule, graded []Answer) model.TerminationOutcome {
	out := model.TerminationOutcome{Index: -1, Kind: model.TerminationNone}

	byID := make(map[string]Answer, len(graded))
	for _, a := range graded {
		byID[a.QuestionID] = a
	}

	if allZero(rule.FinalTier, byID) && rule.DependentFrom > 0 {
		out.Terminated = true
		out.Index = rule.DependentFrom - 1
		out.Kind = model.TerminationAbsolute
	}

	out.QualityFlags = append(out.QualityFlags, crossSectionFlags(rule.CrossChecks, byID)...)
	out.QualityFlags = append(out.QualityFlags, tierPatternFlags(rule.TierScales, byID)...)
	return out
}

// allZero reports whether every listed question is answered with a zero
// score. An unanswered final-tier question leaves the decision ambiguous,
// which never terminates.
func allZero(ids []string, byID map[string]Answer) bool {
	if len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		a, ok := byID[id]
		if !ok || !a.Answered || score(a.Value) != 0 {
			return false
		}
	}
	return true
}

// crossSectionFlags checks each coarse/fine pair. When the coarse measure
// scores high enough that its lower bound mathematically forces the fine
// measure (a strict subset) to be non-zero, a zero fine score is a
// high-confidence violation; above the probable threshold it is flagged at
// medium confidence.
func crossSectionFlags(checks []model.CrossCheck, byID map[string]Answer) []model.QualityFlag {
	var flags []model.QualityFlag
	for _, c := range checks {
		coarse, ok := byID[c.Coarse]
		if !ok || !coarse.Answered {
			continue
		}
		fine, ok := byID[c.Fine]
		if !ok || !fine.Answered || score(fine.Value) != 0 {
			continue
		}
		s := score(coarse.Value)
		switch {
		case s >= c.ForceMin:
			flags = append(flags, model.QualityFlag{
				QuestionID: c.Fine,
				Code:       model.FlagCrossSection,
				Confidence: model.ConfidenceHigh,
			})
		case s >= c.ProbableMin:
			flags = append(flags, model.QualityFlag{
				QuestionID: c.Fine,
				Code:       model.FlagCrossSection,
				Confidence: model.ConfidenceMedium,
			})
		}
	}
	return flags
}

// tierPatternFlags validates each progressive sub-scale. With tier 3 a
// subset of tier 2 a subset of tier 1, the only honest success patterns are
// [0,0,0], [1,0,0], [1,1,0] and [1,1,1]; anything else flags every question
// in the sub-scale.
func tierPatternFlags(scales []model.TierScale, byID map[string]Answer) []model.QualityFlag {
	var flags []model.QualityFlag
	for _, sc := range scales {
		var bits [3]bool
		for i, id := range sc.Questions {
			if a, ok := byID[id]; ok && a.Answered && score(a.Value) > 0 {
				bits[i] = true
			}
		}
		if monotone(bits) {
			continue
		}
		for _, id := range sc.Questions {
			flags = append(flags, model.QualityFlag{
				QuestionID: id,
				Code:       model.FlagTierPattern,
				Confidence: model.ConfidenceHigh,
			})
		}
	}
	return flags
}

// monotone reports whether success bits only ever step from true to false.
func monotone(bits [3]bool) bool {
	for i := 1; i < len(bits); i++ {
		if bits[i] && !bits[i-1] {
			return false
		}
	}
	return true
}
