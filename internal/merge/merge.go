// Package merge reconciles raw submissions from the two pipelines into one
// record per student per grade band. The conflict-resolution law is
// earliest-non-empty-wins: applied first within each source across repeat
// submissions, then across sources by comparing representative timestamps.
package merge

import (
	"sort"
	"time"

	"kidscreen/internal/grade"
	"kidscreen/internal/model"
)

// Merger builds MergedStudentRecords from raw source records.
type Merger struct {
	Classifier grade.Classifier
}

// consolidated is the within-source reduction of one (student, grade) group.
type consolidated struct {
	studentID string
	grade     model.Grade
	at        time.Time
	fields    map[string]string
}

// Merge reconciles the two sources. Grade isolation is absolute: records of
// the same student classified into different bands never combine, and a
// record whose grade cannot be classified is still emitted (flagged unknown)
// so downstream consumers see it. Output order is deterministic.
func (m Merger) Merge(primary, secondary []model.Record) []model.MergedStudentRecord {
	prim := m.consolidate(primary)
	sec := m.consolidate(secondary)

	keys := make(map[string]bool, len(prim)+len(sec))
	for k := range prim {
		keys[k] = true
	}
	for k := range sec {
		keys[k] = true
	}
	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	out := make([]model.MergedStudentRecord, 0, len(ordered))
	for _, k := range ordered {
		p, hasPrim := prim[k]
		s, hasSec := sec[k]
		switch {
		case hasPrim && hasSec:
			out = append(out, crossMerge(p, s))
		case hasPrim:
			out = append(out, single(p, model.SourcePrimary))
		default:
			// Orphaned secondary records are emitted, never dropped.
			out = append(out, single(s, model.SourceSecondary))
		}
	}
	return out
}

// consolidate groups records by (student, grade) and resolves repeat
// submissions with earliest-non-empty-wins. Records are processed in
// ascending timestamp order with fetch order as a stable tie-break, so
// re-running on identical inputs is idempotent.
func (m Merger) consolidate(records []model.Record) map[string]consolidated {
	groups := make(map[string][]model.Record)
	for _, r := range records {
		g := m.classify(r)
		key := r.StudentID + "#" + string(g)
		groups[key] = append(groups[key], r)
	}

	out := make(map[string]consolidated, len(groups))
	for key, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			if !group[i].SubmittedAt.Equal(group[j].SubmittedAt) {
				return group[i].SubmittedAt.Before(group[j].SubmittedAt)
			}
			return group[i].FetchSeq < group[j].FetchSeq
		})
		fields := make(map[string]string)
		for _, r := range group {
			for name, value := range r.Fields {
				if value == "" {
					continue
				}
				if _, taken := fields[name]; !taken {
					fields[name] = value
				}
			}
		}
		out[key] = consolidated{
			studentID: group[0].StudentID,
			grade:     m.classify(group[0]),
			at:        group[0].SubmittedAt,
			fields:    fields,
		}
	}
	return out
}

func (m Merger) classify(r model.Record) model.Grade {
	if r.Source == model.SourceSecondary {
		// The web-survey recorded date is the primary signal; the session
		// key remains as fallback.
		return m.Classifier.Classify(grade.Reference{
			RecordedAt: r.SubmittedAt,
			SessionKey: r.SessionKey,
		})
	}
	// Form-pipeline submission timestamps reflect upload time, not testing
	// time, so only the session key date is trustworthy.
	return m.Classifier.Classify(grade.Reference{SessionKey: r.SessionKey})
}

// crossMerge resolves one student's consolidated primary and secondary views
// field by field. For fields non-empty in both sources with differing
// values, the chronologically earlier source wins and a conflict entry is
// recorded; the conflict list is diagnostic only.
func crossMerge(p, s consolidated) model.MergedStudentRecord {
	primaryEarlier := !p.at.After(s.at)

	names := make(map[string]bool, len(p.fields)+len(s.fields))
	for n := range p.fields {
		names[n] = true
	}
	for n := range s.fields {
		names[n] = true
	}
	ordered := make([]string, 0, len(names))
	for n := range names {
		ordered = append(ordered, n)
	}
	sort.Strings(ordered)

	answers := make(map[string]string, len(ordered))
	var conflicts []model.Conflict
	for _, name := range ordered {
		pv, sv := p.fields[name], s.fields[name]
		switch {
		case pv == "":
			answers[name] = sv
		case sv == "":
			answers[name] = pv
		case pv == sv:
			answers[name] = pv
		default:
			winner := model.SourcePrimary
			value := pv
			if !primaryEarlier {
				winner = model.SourceSecondary
				value = sv
			}
			answers[name] = value
			conflicts = append(conflicts, model.Conflict{
				Field:          name,
				PrimaryValue:   pv,
				SecondaryValue: sv,
				PrimaryAt:      p.at,
				SecondaryAt:    s.at,
				Winner:         winner,
			})
		}
	}

	return model.MergedStudentRecord{
		StudentID:    p.studentID,
		Grade:        p.grade,
		Demographics: demographics(answers),
		Answers:      answers,
		Sources:      []model.SourceKind{model.SourcePrimary, model.SourceSecondary},
		Conflicts:    conflicts,
		PrimaryAt:    p.at,
		SecondaryAt:  s.at,
	}
}

func single(c consolidated, kind model.SourceKind) model.MergedStudentRecord {
	answers := make(map[string]string, len(c.fields))
	for name, value := range c.fields {
		answers[name] = value
	}
	rec := model.MergedStudentRecord{
		StudentID:    c.studentID,
		Grade:        c.grade,
		Demographics: demographics(answers),
		Answers:      answers,
		Sources:      []model.SourceKind{kind},
	}
	if kind == model.SourcePrimary {
		rec.PrimaryAt = c.at
	} else {
		rec.SecondaryAt = c.at
	}
	return rec
}

func demographics(answers map[string]string) model.Demographics {
	return model.Demographics{
		Name:     answers[model.FieldName],
		School:   answers[model.FieldSchool],
		Class:    answers[model.FieldClass],
		Gender:   answers[model.FieldGender],
		Group:    answers[model.FieldGroup],
		District: answers[model.FieldDistrict],
	}
}
