package model

import (
	"time"
)

// SourceKind identifies which pipeline a record came from.
type SourceKind string

const (
	// SourcePrimary is the PDF-derived form pipeline.
	SourcePrimary SourceKind = "primary"
	// SourceSecondary is the web-survey pipeline.
	SourceSecondary SourceKind = "secondary"
)

// Grade is the academic grade band a record belongs to.
type Grade string

const (
	GradeK1 Grade = "K1"
	GradeK2 Grade = "K2"
	GradeK3 Grade = "K3"
	// GradeUnknown means neither the recorded date nor the session key could
	// be classified. Callers must exclude unknown-grade records from
	// grade-keyed aggregation, never default them to a band.
	GradeUnknown Grade = "unknown"
)

// Canonical demographic field names. Source-specific identifiers are
// translated to these by the field map before merging.
const (
	FieldStudentID  = "studentid"
	FieldSessionKey = "sessionkey"
	FieldName       = "childname"
	FieldSchool     = "school"
	FieldClass      = "class"
	FieldGender     = "gender"
	FieldGroup      = "group"
	FieldDistrict   = "district"
)

// Record is one raw submission fetched from a source. Immutable once
// fetched. The session key ({studentId}_{yyyymmdd}_{hh}_{mm}) is created at
// ingestion time and never edited afterwards.
type Record struct {
	StudentID   string            `json:"student_id"`
	SessionKey  string            `json:"session_key"`
	Source      SourceKind        `json:"source"`
	SubmittedAt time.Time         `json:"submitted_at"`
	FetchSeq    int               `json:"fetch_seq"`
	Fields      map[string]string `json:"fields"`
}

// Field returns the value for a canonical field name, or "" if unanswered.
func (r Record) Field(name string) string {
	return r.Fields[name]
}

// Demographics are the identity attributes carried on a merged record.
type Demographics struct {
	Name     string `json:"name"`
	School   string `json:"school"`
	Class    string `json:"class"`
	Gender   string `json:"gender"`
	Group    string `json:"group"`
	District string `json:"district"`
}

// Conflict records a field where both sources held differing non-empty
// values. Diagnostic only: the resolved value is always applied regardless.
type Conflict struct {
	Field          string     `json:"field"`
	PrimaryValue   string     `json:"primary_value"`
	SecondaryValue string     `json:"secondary_value"`
	PrimaryAt      time.Time  `json:"primary_at"`
	SecondaryAt    time.Time  `json:"secondary_at"`
	Winner         SourceKind `json:"winner"`
}

// MergedStudentRecord is the reconciled view of one student within one grade
// band. Rebuilt wholesale on every merge run, never patched incrementally.
type MergedStudentRecord struct {
	StudentID    string            `json:"student_id"`
	Grade        Grade             `json:"grade"`
	Demographics Demographics      `json:"demographics"`
	Answers      map[string]string `json:"answers"`
	Sources      []SourceKind      `json:"sources"`
	Conflicts    []Conflict        `json:"conflicts,omitempty"`
	// PrimaryAt / SecondaryAt are the representative (earliest) submission
	// timestamps per source; zero when that source is absent.
	PrimaryAt   time.Time `json:"primary_at,omitempty"`
	SecondaryAt time.Time `json:"secondary_at,omitempty"`
}

// Key identifies a merged record. Grade is part of the key: the same student
// ID recurring across school years must never collapse into one record.
func (m MergedStudentRecord) Key() string {
	return m.StudentID + "#" + string(m.Grade)
}

// HasSource reports whether the merged record drew on the given source.
func (m MergedStudentRecord) HasSource(k SourceKind) bool {
	for _, s := range m.Sources {
		if s == k {
			return true
		}
	}
	return false
}

// TaskQuestion is one question within a task definition. The question ID
// doubles as the canonical answer field name on merged records.
type TaskQuestion struct {
	QuestionID    string `yaml:"id" json:"id"`
	Ordinal       int    `yaml:"ordinal" json:"ordinal"`
	Practice      bool   `yaml:"practice,omitempty" json:"practice,omitempty"`
	CorrectAnswer string `yaml:"correct,omitempty" json:"correct,omitempty"`
}

// Graded reports whether the question has a correctness key. Observational
// questions count for completion but never for correctness.
func (q TaskQuestion) Graded() bool { return q.CorrectAnswer != "" }

// TerminationKind selects which state machine decides where testing stopped.
type TerminationKind string

const (
	TerminationNone           TerminationKind = "none"
	TerminationStageThreshold TerminationKind = "stageThreshold"
	TerminationConsecutiveRun TerminationKind = "consecutiveRun"
	TerminationAbsolute       TerminationKind = "absoluteThreshold"
	TerminationTimeout        TerminationKind = "timeout"
)

// Stage is one contiguous block of graded questions for stage-threshold
// evaluation. Start/End index the task's non-practice question sequence,
// inclusive.
type Stage struct {
	Start       int  `yaml:"start" json:"start"`
	End         int  `yaml:"end" json:"end"`
	Threshold   int  `yaml:"threshold" json:"threshold"`
	ScoringOnly bool `yaml:"scoring_only,omitempty" json:"scoring_only,omitempty"`
}

// CrossCheck is a graduated cross-section consistency rule: success on a
// coarse measure implies the fine measure (a geometric subset of it) cannot
// be zero. ForceMin is the coarse score at which the implication is
// mathematically certain; ProbableMin the score at which it is merely
// probable given sequential completion order.
type CrossCheck struct {
	Coarse      string  `yaml:"coarse" json:"coarse"`
	Fine        string  `yaml:"fine" json:"fine"`
	ForceMin    float64 `yaml:"force_min" json:"force_min"`
	ProbableMin float64 `yaml:"probable_min" json:"probable_min"`
}

// TierScale names three question IDs forming a progressive sub-scale
// (10-49%, 50-89%, 90-100%). Tier 3 is a subset of tier 2 is a subset of
// tier 1, so only monotone success patterns can be produced honestly.
type TierScale struct {
	Questions [3]string `yaml:"questions" json:"questions"`
}

// TerminationRule is the per-task termination configuration. Supplied as
// external data; the engine dispatches on Kind and never hardcodes
// task-specific field names.
type TerminationRule struct {
	Kind           TerminationKind `yaml:"kind" json:"kind"`
	Stages         []Stage         `yaml:"stages,omitempty" json:"stages,omitempty"`
	RunLength      int             `yaml:"run_length,omitempty" json:"run_length,omitempty"`
	FinalTier      []string        `yaml:"final_tier,omitempty" json:"final_tier,omitempty"`
	DependentFrom  int             `yaml:"dependent_from,omitempty" json:"dependent_from,omitempty"`
	CrossChecks    []CrossCheck    `yaml:"cross_checks,omitempty" json:"cross_checks,omitempty"`
	TierScales     []TierScale     `yaml:"tier_scales,omitempty" json:"tier_scales,omitempty"`
	TimeoutSeconds int             `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Task is one assessment task definition.
type Task struct {
	ID         string          `yaml:"id" json:"id"`
	Name       string          `yaml:"name" json:"name"`
	SetID      string          `yaml:"set" json:"set"`
	GenderOnly string          `yaml:"gender_only,omitempty" json:"gender_only,omitempty"`
	PairWith   string          `yaml:"pair_with,omitempty" json:"pair_with,omitempty"`
	Questions  []TaskQuestion  `yaml:"questions" json:"questions"`
	Rule       TerminationRule `yaml:"termination" json:"termination"`
}

// Set is a fixed grouping of tasks reported as one completion unit.
// ExcludeTasks lists tasks displayed under the set but excluded from its
// completion accounting; the list has changed across policy revisions, so it
// is configuration rather than code.
type Set struct {
	ID           string   `yaml:"id" json:"id"`
	Name         string   `yaml:"name" json:"name"`
	ExcludeTasks []string `yaml:"exclude_tasks,omitempty" json:"exclude_tasks,omitempty"`
}

// QualityConfidence grades a cross-section violation.
type QualityConfidence string

const (
	ConfidenceHigh   QualityConfidence = "high"
	ConfidenceMedium QualityConfidence = "medium"
)

// Quality flag codes.
const (
	FlagCrossSection = "cross_section_violation"
	FlagTierPattern  = "tier_pattern_invalid"
)

// QualityFlag marks a data-quality anomaly on a single question. Flags never
// change completion math; they drive pill rendering at the view boundary.
type QualityFlag struct {
	QuestionID string            `json:"question_id"`
	Code       string            `json:"code"`
	Confidence QualityConfidence `json:"confidence,omitempty"`
}

// TerminationOutcome is the engine's verdict for one (student, task).
// Index is a position within the task's non-practice question sequence;
// -1 means not terminated. Once set, every downstream total/answered/correct
// computation restricts its domain to positions [0, Index].
type TerminationOutcome struct {
	Terminated             bool            `json:"terminated"`
	Index                  int             `json:"index"`
	Kind                   TerminationKind `json:"kind"`
	TimedOut               bool            `json:"timed_out"`
	MiddleGaps             bool            `json:"middle_gaps"`
	PostTerminationAnswers bool            `json:"post_termination_answers"`
	QualityFlags           []QualityFlag   `json:"quality_flags,omitempty"`
}

// TaskResult is the single source of truth for one task's completion math.
type TaskResult struct {
	TaskID        string             `json:"task_id"`
	PairedWith    string             `json:"paired_with,omitempty"`
	Total         int                `json:"total"`
	Answered      int                `json:"answered"`
	Correct       int                `json:"correct"`
	CompletionPct int                `json:"completion_pct"`
	Complete      bool               `json:"complete"`
	Termination   TerminationOutcome `json:"termination"`
	// Err carries a malformed-definition failure for this task alone; other
	// tasks validate normally.
	Err string `json:"error,omitempty"`
}

// CompletionStatus is the three-state completion verdict for a set or a
// student overall.
type CompletionStatus string

const (
	StatusComplete   CompletionStatus = "complete"
	StatusIncomplete CompletionStatus = "incomplete"
	StatusNotStarted CompletionStatus = "notstarted"
)

// SetStatus is one set's completion standing for one student.
type SetStatus struct {
	SetID           string           `json:"set_id"`
	TasksComplete   int              `json:"tasks_complete"`
	TasksApplicable int              `json:"tasks_applicable"`
	Status          CompletionStatus `json:"status"`
}

// ValidationCacheEntry is the persisted per-student computation output.
// Written whole, never patched field-by-field.
type ValidationCacheEntry struct {
	StudentID              string                `json:"student_id"`
	Grade                  Grade                 `json:"grade"`
	Demographics           Demographics          `json:"demographics"`
	Sources                []SourceKind          `json:"sources"`
	ConflictCount          int                   `json:"conflict_count"`
	Tasks                  map[string]TaskResult `json:"tasks"`
	Sets                   map[string]SetStatus  `json:"sets"`
	CompletionPct          int                   `json:"completion_pct"`
	TerminationCount       int                   `json:"termination_count"`
	HasPostTerminationData bool                  `json:"has_post_termination_data"`
	LastValidated          time.Time             `json:"last_validated"`
	SchemaVersion          string                `json:"schema_version"`
}

// OverallStatus folds a student's set statuses into one verdict: complete if
// every set is complete, notstarted if every set is notstarted, otherwise
// incomplete.
func (e ValidationCacheEntry) OverallStatus() CompletionStatus {
	if len(e.Sets) == 0 {
		return StatusNotStarted
	}
	allComplete, allNotStarted := true, true
	for _, st := range e.Sets {
		if st.Status != StatusComplete {
			allComplete = false
		}
		if st.Status != StatusNotStarted {
			allNotStarted = false
		}
	}
	switch {
	case allComplete:
		return StatusComplete
	case allNotStarted:
		return StatusNotStarted
	default:
		return StatusIncomplete
	}
}

// BucketSummary is one hierarchy bucket's fold of cached entries.
type BucketSummary struct {
	Students      int `json:"students"`
	Complete      int `json:"complete"`
	Incomplete    int `json:"incomplete"`
	NotStarted    int `json:"notstarted"`
	CompletionPct int `json:"completion_pct"`
}

// Summary is a hierarchy-level rollup keyed by bucket name. Entries with a
// missing grouping key land in the "unclassified" bucket.
type Summary struct {
	GroupBy string                   `json:"group_by"`
	Buckets map[string]BucketSummary `json:"buckets"`
}
