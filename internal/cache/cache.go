// Package cache orchestrates the validation cache: fetching raw submissions,
// reconciling and validating them, and persisting the result as three stores
// (raw primary, raw secondary, computed validation). Reads go through
// integrity checks so callers never consume a stale or inconsistent cache
// unknowingly.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"kidscreen/internal/grade"
	"kidscreen/internal/merge"
	"kidscreen/internal/model"
	"kidscreen/internal/sets"
	"kidscreen/internal/source"
	"kidscreen/internal/store"
	"kidscreen/internal/taskdef"
	"kidscreen/internal/validate"
)

var (
	// ErrCacheMiss means the computed store has never been built.
	ErrCacheMiss = errors.New("validation cache not built")
	// ErrStale means the computed store predates a raw store.
	ErrStale = errors.New("validation cache is stale")
	// ErrSchemaMismatch means the computed store was built by an
	// incompatible version of the computation.
	ErrSchemaMismatch = errors.New("validation cache schema mismatch")
	// ErrCorrupt means the computed store failed an integrity check.
	ErrCorrupt = errors.New("validation cache integrity check failed")
	// ErrBuildInProgress means another build holds the rebuild lock.
	ErrBuildInProgress = errors.New("cache build already in progress")
)

// Service owns the cache lifecycle. At most one rebuild runs at a time; a
// concurrent attempt fails fast with ErrBuildInProgress rather than queueing.
type Service struct {
	store         *store.Store
	merger        merge.Merger
	validator     *validate.Validator
	defs          *taskdef.Definitions
	schemaVersion string

	mu  sync.Mutex
	now func() time.Time
}

// New wires a cache service over a store and definition bundle.
func New(st *store.Store, defs *taskdef.Definitions, classifier grade.Classifier, schemaVersion string) *Service {
	return &Service{
		store:         st,
		merger:        merge.Merger{Classifier: classifier},
		validator:     validate.New(defs),
		defs:          defs,
		schemaVersion: schemaVersion,
		now:           time.Now,
	}
}

// BuildReport summarizes one completed rebuild.
type BuildReport struct {
	BuildID          string    `json:"build_id"`
	BuiltAt          time.Time `json:"built_at"`
	PrimaryRecords   int       `json:"primary_records"`
	SecondaryRecords int       `json:"secondary_records"`
	Students         int       `json:"students"`
	Conflicts        int       `json:"conflicts"`
}

// Snapshot is a consistent read of the computed store.
type Snapshot struct {
	Entries map[string]model.ValidationCacheEntry
	BuiltAt time.Time
	BuildID string
	// Stale is set only by LoadStale when the computed store predates a raw
	// store.
	Stale bool
}

// BuildAll fetches both sources, recomputes every student's validation entry
// and swaps all three stores. A fetch failure on either source leaves the
// existing cache untouched: nothing is written until both fetches and the
// full computation have succeeded.
func (s *Service) BuildAll(ctx context.Context, primary, secondary source.SubmissionSource) (BuildReport, error) {
	if !s.mu.TryLock() {
		return BuildReport{}, ErrBuildInProgress
	}
	defer s.mu.Unlock()

	var primaryRecords, secondaryRecords []model.Record
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		primaryRecords, err = primary.FetchAll(gctx)
		if err != nil {
			return fmt.Errorf("fetch primary source: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		secondaryRecords, err = secondary.FetchAll(gctx)
		if err != nil {
			return fmt.Errorf("fetch secondary source: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return BuildReport{}, err
	}

	builtAt := s.now().UTC()
	entries := s.compute(primaryRecords, secondaryRecords, builtAt)

	if err := s.store.ReplaceRawRecords(model.SourcePrimary, builtAt, primaryRecords); err != nil {
		return BuildReport{}, fmt.Errorf("persist primary raw store: %w", err)
	}
	if err := s.store.ReplaceRawRecords(model.SourceSecondary, builtAt, secondaryRecords); err != nil {
		return BuildReport{}, fmt.Errorf("persist secondary raw store: %w", err)
	}
	return s.persistComputed(entries, builtAt, len(primaryRecords), len(secondaryRecords))
}

// RefreshSecondary refetches only the secondary source and recomputes against
// the already-stored primary raw records. Used when the web-survey data moves
// faster than the form pipeline.
func (s *Service) RefreshSecondary(ctx context.Context, secondary source.SubmissionSource) (BuildReport, error) {
	if !s.mu.TryLock() {
		return BuildReport{}, ErrBuildInProgress
	}
	defer s.mu.Unlock()

	primaryMeta, err := s.store.Meta(store.RawPrimary)
	if err != nil {
		return BuildReport{}, fmt.Errorf("read primary store meta: %w", err)
	}
	if !primaryMeta.Exists {
		return BuildReport{}, fmt.Errorf("refresh secondary: %w", ErrCacheMiss)
	}
	primaryRecords, err := s.store.RawRecords(model.SourcePrimary)
	if err != nil {
		return BuildReport{}, fmt.Errorf("read primary raw store: %w", err)
	}

	secondaryRecords, err := secondary.FetchAll(ctx)
	if err != nil {
		return BuildReport{}, fmt.Errorf("fetch secondary source: %w", err)
	}

	builtAt := s.now().UTC()
	entries := s.compute(primaryRecords, secondaryRecords, builtAt)

	if err := s.store.ReplaceRawRecords(model.SourceSecondary, builtAt, secondaryRecords); err != nil {
		return BuildReport{}, fmt.Errorf("persist secondary raw store: %w", err)
	}
	return s.persistComputed(entries, builtAt, len(primaryRecords), len(secondaryRecords))
}

func (s *Service) persistComputed(entries map[string]model.ValidationCacheEntry, builtAt time.Time, primaryCount, secondaryCount int) (BuildReport, error) {
	buildID := uuid.NewString()
	if err := s.store.ReplaceValidation(entries, builtAt, s.schemaVersion, buildID); err != nil {
		return BuildReport{}, fmt.Errorf("persist validation store: %w", err)
	}

	conflicts := 0
	for _, e := range entries {
		conflicts += e.ConflictCount
	}
	report := BuildReport{
		BuildID:          buildID,
		BuiltAt:          builtAt,
		PrimaryRecords:   primaryCount,
		SecondaryRecords: secondaryCount,
		Students:         len(entries),
		Conflicts:        conflicts,
	}
	slog.Info("validation cache rebuilt",
		"build_id", report.BuildID,
		"students", report.Students,
		"primary_records", report.PrimaryRecords,
		"secondary_records", report.SecondaryRecords,
		"conflicts", report.Conflicts)
	return report, nil
}

// compute runs the full merge-validate-aggregate pipeline in memory. Nothing
// here touches the store; persistence happens only after the whole
// computation succeeds.
func (s *Service) compute(primary, secondary []model.Record, builtAt time.Time) map[string]model.ValidationCacheEntry {
	merged := s.merger.Merge(primary, secondary)

	entries := make(map[string]model.ValidationCacheEntry, len(merged))
	for _, rec := range merged {
		results := s.validator.ValidateAll(rec)

		setStatuses := make(map[string]model.SetStatus, len(s.defs.Sets))
		for _, set := range s.defs.Sets {
			setStatuses[set.ID] = sets.Aggregate(set, s.defs.Tasks, results, rec.Demographics.Gender)
		}

		totalQuestions, answeredQuestions := 0, 0
		terminations := 0
		postTermination := false
		for _, res := range results {
			totalQuestions += res.Total
			answeredQuestions += res.Answered
			if res.Termination.Terminated {
				terminations++
			}
			if res.Termination.PostTerminationAnswers {
				postTermination = true
			}
		}

		entries[rec.Key()] = model.ValidationCacheEntry{
			StudentID:              rec.StudentID,
			Grade:                  rec.Grade,
			Demographics:           rec.Demographics,
			Sources:                rec.Sources,
			ConflictCount:          len(rec.Conflicts),
			Tasks:                  results,
			Sets:                   setStatuses,
			CompletionPct:          pct(answeredQuestions, totalQuestions),
			TerminationCount:       terminations,
			HasPostTerminationData: postTermination,
			LastValidated:          builtAt,
			SchemaVersion:          s.schemaVersion,
		}
	}
	return entries
}

// Load returns the computed store after full integrity checks: the cache must
// exist, match the current schema version, not predate either raw store, and
// pass the all-notstarted anomaly check.
func (s *Service) Load() (Snapshot, error) {
	snap, stale, err := s.load()
	if err != nil {
		return Snapshot{}, err
	}
	if stale {
		return Snapshot{}, ErrStale
	}
	return snap, nil
}

// LoadStale is the relaxed read used by serving paths that prefer stale data
// over no data. Staleness is reported on the snapshot instead of failing;
// schema mismatches and integrity failures still fail.
func (s *Service) LoadStale() (Snapshot, error) {
	snap, stale, err := s.load()
	if err != nil {
		return Snapshot{}, err
	}
	snap.Stale = stale
	return snap, nil
}

func (s *Service) load() (Snapshot, bool, error) {
	meta, err := s.store.Meta(store.ComputedValidation)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("read validation store meta: %w", err)
	}
	if !meta.Exists {
		return Snapshot{}, false, ErrCacheMiss
	}
	if meta.SchemaVersion != s.schemaVersion {
		return Snapshot{}, false, fmt.Errorf("%w: store has %q, current is %q",
			ErrSchemaMismatch, meta.SchemaVersion, s.schemaVersion)
	}

	stale := false
	for _, raw := range []string{store.RawPrimary, store.RawSecondary} {
		rawMeta, err := s.store.Meta(raw)
		if err != nil {
			return Snapshot{}, false, fmt.Errorf("read %s meta: %w", raw, err)
		}
		if rawMeta.Exists && meta.BuiltAt.Before(rawMeta.BuiltAt) {
			stale = true
		}
	}

	entries, err := s.store.ValidationEntries()
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("read validation entries: %w", err)
	}
	if err := checkIntegrity(entries); err != nil {
		return Snapshot{}, false, err
	}

	return Snapshot{Entries: entries, BuiltAt: meta.BuiltAt, BuildID: meta.BuildID}, stale, nil
}

// checkIntegrity applies the all-notstarted heuristic: a populated cache in
// which every single student is notstarted means the computation ran against
// empty or mistranslated answer data, and serving it would silently zero the
// entire dashboard.
func checkIntegrity(entries map[string]model.ValidationCacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if e.OverallStatus() != model.StatusNotStarted {
			return nil
		}
	}
	return fmt.Errorf("%w: all %d entries are notstarted", ErrCorrupt, len(entries))
}

// PurgeAll drops all three stores.
func (s *Service) PurgeAll() error {
	if !s.mu.TryLock() {
		return ErrBuildInProgress
	}
	defer s.mu.Unlock()
	if err := s.store.PurgeAll(); err != nil {
		return fmt.Errorf("purge stores: %w", err)
	}
	slog.Info("validation cache purged")
	return nil
}

func pct(answered, total int) int {
	if total == 0 {
		return 0
	}
	return int(float64(answered)/float64(total)*100 + 0.5)
}
