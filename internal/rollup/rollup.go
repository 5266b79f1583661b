// Package rollup derives hierarchy summaries by folding cached per-student
// entries. It is purely additive: counting and percentages only, with no
// merge or termination logic of its own.
package rollup

import (
	"math"

	"kidscreen/internal/model"
)

// GroupKey selects the hierarchy level to fold by.
type GroupKey string

const (
	ByDistrict GroupKey = "district"
	ByGroup    GroupKey = "group"
	BySchool   GroupKey = "school"
	ByClass    GroupKey = "class"
	ByGrade    GroupKey = "grade"
)

// Unclassified is the bucket for entries missing the grouping key. Such
// students are reported explicitly, never dropped.
const Unclassified = "unclassified"

// RollUp folds cache entries into per-bucket completion counts.
func RollUp(entries []model.ValidationCacheEntry, key GroupKey) model.Summary {
	buckets := make(map[string]model.BucketSummary)
	pctSum := make(map[string]int)

	for _, e := range entries {
		name := bucketName(e, key)
		b := buckets[name]
		b.Students++
		switch e.OverallStatus() {
		case model.StatusComplete:
			b.Complete++
		case model.StatusIncomplete:
			b.Incomplete++
		default:
			b.NotStarted++
		}
		pctSum[name] += e.CompletionPct
		buckets[name] = b
	}

	for name, b := range buckets {
		if b.Students > 0 {
			b.CompletionPct = int(math.Round(float64(pctSum[name]) / float64(b.Students)))
			buckets[name] = b
		}
	}

	return model.Summary{GroupBy: string(key), Buckets: buckets}
}

func bucketName(e model.ValidationCacheEntry, key GroupKey) string {
	var name string
	switch key {
	case ByDistrict:
		name = e.Demographics.District
	case ByGroup:
		name = e.Demographics.Group
	case BySchool:
		name = e.Demographics.School
	case ByClass:
		name = e.Demographics.Class
	case ByGrade:
		if e.Grade != model.GradeUnknown {
			name = string(e.Grade)
		}
	}
	if name == "" {
		return Unclassified
	}
	return name
}
