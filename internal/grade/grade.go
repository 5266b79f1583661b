// Package grade maps submission timestamps to academic grade bands.
package grade

import (
	"strings"
	"time"

	"kidscreen/internal/model"
)

// Classifier assigns K1/K2/K3 bands relative to a program start year. The
// school year runs August through July, so a submission in January 2025
// belongs to school year 2024.
type Classifier struct {
	// StartYear is the school year in which the program's K1 cohort began.
	StartYear int
}

// Reference carries the two classification signals. The recorded-date
// timestamp (from the web-survey source) is preferred; the session key
// ({studentId}_{yyyymmdd}_{hh}_{mm}, from the form source) is the fallback.
type Reference struct {
	RecordedAt time.Time
	SessionKey string
}

// Classify returns the grade band for a reference, or GradeUnknown when
// neither signal parses. It never guesses: an unknown grade must stay
// unknown so grade-keyed aggregation can exclude the record.
func (c Classifier) Classify(ref Reference) model.Grade {
	if !ref.RecordedAt.IsZero() {
		return c.bandFor(schoolYear(ref.RecordedAt))
	}
	if t, ok := sessionKeyDate(ref.SessionKey); ok {
		return c.bandFor(schoolYear(t))
	}
	return model.GradeUnknown
}

func (c Classifier) bandFor(year int) model.Grade {
	switch year - c.StartYear {
	case 0:
		return model.GradeK1
	case 1:
		return model.GradeK2
	case 2:
		return model.GradeK3
	default:
		return model.GradeUnknown
	}
}

// schoolYear returns the year the school year containing t started in.
func schoolYear(t time.Time) int {
	if t.Month() >= time.August {
		return t.Year()
	}
	return t.Year() - 1
}

// sessionKeyDate extracts the yyyymmdd component from a session key.
func sessionKeyDate(key string) (time.Time, bool) {
	parts := strings.Split(key, "_")
	if len(parts) < 2 || len(parts[1]) != 8 {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102", parts[1])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
