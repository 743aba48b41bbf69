package service

import (
	"sort"
	"time"

	"github.com/noah-isme/lms-api/internal/models"
)

// ModuleStatusOf derives the display status of a module from its record.
// A missing record is not-started.
func ModuleStatusOf(record *models.ProgressRecord) models.ModuleProgressStatus {
	switch {
	case record == nil:
		return models.StatusNotStarted
	case record.Passed:
		return models.StatusCompleted
	case record.Status == models.ProgressInProgress:
		return models.StatusInProgress
	default:
		return models.StatusNotStarted
	}
}

// AllCompleted reports whether every module in regular is completed. An empty
// list is vacuously complete.
func AllCompleted(regular []models.Module, records map[string]models.ProgressRecord) bool {
	for _, m := range regular {
		if ModuleStatusOf(lookup(records, m.ID)) != models.StatusCompleted {
			return false
		}
	}
	return true
}

// AggregateCourseProgress builds a student's view of a course from the
// ordered modules and the student's records keyed by module id. The final
// assessment is listed but does not count toward completion.
func AggregateCourseProgress(studentID, courseID string, modules []models.Module, records map[string]models.ProgressRecord) models.CourseProgress {
	out := models.CourseProgress{StudentID: studentID, CourseID: courseID, Modules: make([]models.ModuleProgress, 0, len(modules))}
	regular, _ := models.SplitModules(modules)

	for _, m := range modules {
		record := lookup(records, m.ID)
		line := models.ModuleProgress{
			ModuleID:          m.ID,
			Title:             m.Title,
			Position:          m.Position,
			IsFinalAssessment: m.IsFinalAssessment,
			Status:            ModuleStatusOf(record),
		}
		if record != nil {
			line.Attempts = record.Attempts
			line.Score = record.Score
			line.Passed = record.Passed
		}
		out.Modules = append(out.Modules, line)
		if !m.IsFinalAssessment && line.Status == models.StatusCompleted {
			out.CompletedCount++
		}
	}
	out.TotalCount = len(regular)
	out.AllCompleted = AllCompleted(regular, records)
	return out
}

// AccessInput is everything the final assessment state depends on.
type AccessInput struct {
	AllCompleted bool
	Allowed      bool
	Record       *models.ProgressRecord
	AttemptCap   int
}

// DeriveAccessState places a student in the final assessment workflow.
func DeriveAccessState(in AccessInput) models.AccessState {
	r := in.Record
	switch {
	case r != nil && r.Passed:
		return models.AccessPassed
	case !in.AllCompleted:
		return models.AccessLocked
	case in.Allowed && r != nil && r.IsAuthorized:
		if r.Attempts > 0 {
			return models.AccessAttempted
		}
		return models.AccessGranted
	case r != nil && r.QuizRequested:
		return models.AccessRequested
	case in.AttemptCap > 0 && r != nil && r.Attempts >= in.AttemptCap:
		return models.AccessExhausted
	default:
		return models.AccessUnlockable
	}
}

// ReconcileAttempts merges records that share a (student, module) key. The
// highest score wins and ties go to the most recently completed record.
// Attempts is the maximum observed, never a sum, so the same attempt read
// through two query paths is not double counted. Output keeps the order in
// which keys first appear.
func ReconcileAttempts(records []models.ProgressRecord) []models.ProgressRecord {
	index := make(map[models.ProgressKey]int, len(records))
	out := make([]models.ProgressRecord, 0, len(records))
	for _, r := range records {
		key := r.Key()
		if i, ok := index[key]; ok {
			out[i] = mergeRecords(out[i], r)
			continue
		}
		index[key] = len(out)
		out = append(out, r)
	}
	return out
}

// IndexByModule reconciles records and keys them by module id. Records are
// expected to belong to a single student.
func IndexByModule(records []models.ProgressRecord) map[string]models.ProgressRecord {
	reconciled := ReconcileAttempts(records)
	out := make(map[string]models.ProgressRecord, len(reconciled))
	for _, r := range reconciled {
		out[r.ModuleID] = r
	}
	return out
}

func mergeRecords(a, b models.ProgressRecord) models.ProgressRecord {
	best, other := a, b
	if b.Score > a.Score || (b.Score == a.Score && recordedAt(b).After(recordedAt(a))) {
		best, other = b, a
	}

	merged := best
	if other.Attempts > merged.Attempts {
		merged.Attempts = other.Attempts
	}
	if other.Passed {
		merged.Passed = true
		merged.Status = models.ProgressCompleted
	}
	// workflow flags follow whichever copy was written last
	latest := a
	if b.UpdatedAt.After(a.UpdatedAt) {
		latest = b
	}
	merged.QuizRequested = latest.QuizRequested
	merged.IsAuthorized = latest.IsAuthorized
	merged.RequestedAt = latest.RequestedAt
	merged.History = mergeHistory(a.History, b.History)
	return merged
}

func recordedAt(r models.ProgressRecord) time.Time {
	if r.CompletedAt != nil {
		return *r.CompletedAt
	}
	return r.UpdatedAt
}

func mergeHistory(a, b []models.AttemptRecord) []models.AttemptRecord {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	type histKey struct {
		number int
		at     time.Time
	}
	seen := make(map[histKey]struct{}, len(a)+len(b))
	var out []models.AttemptRecord
	for _, h := range append(append([]models.AttemptRecord{}, a...), b...) {
		k := histKey{h.AttemptNumber, h.CompletedAt.UTC()}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CompletedAt.Before(out[j].CompletedAt) })
	return out
}

func lookup(records map[string]models.ProgressRecord, moduleID string) *models.ProgressRecord {
	if r, ok := records[moduleID]; ok {
		return &r
	}
	return nil
}
