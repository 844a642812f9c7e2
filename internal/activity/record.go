// Package activity is the per-user progress log: one mutable record per
// (subject, user, record type), carrying a status and an open metadata map.
package activity

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

var ErrNotFound = errors.New("activity: record not found")

type RecordType string

const (
	TypeLessonStatus RecordType = "lesson_status"
	TypeCourseStatus RecordType = "course_status"
	TypeUserAnswer   RecordType = "user_answer"
)

type Status string

const (
	StatusInProgress Status = "in-progress"
	StatusComplete   Status = "complete"
	StatusUngraded   Status = "ungraded"
	StatusGraded     Status = "graded"
	StatusPassed     Status = "passed"
	StatusFailed     Status = "failed"
	StatusAnswered   Status = "answered" // user answers carry no progression state
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusInProgress, StatusComplete, StatusUngraded, StatusGraded,
		StatusPassed, StatusFailed, StatusAnswered:
		return true
	}
	return false
}

// Well-known metadata keys.
const (
	MetaStart          = "start"
	MetaGrade          = "grade"
	MetaPercent        = "percent"
	MetaComplete       = "complete"
	MetaQuestionsAsked = "questions_asked"
	MetaAnswer         = "answer"
	MetaUserGrade      = "user_grade"
	MetaAnswerNote     = "answer_note"
	MetaGradingHint    = "grading_hint"
	MetaUploadKey      = "upload_key"
	MetaQuizID         = "quiz_id"
)

type Record struct {
	ID        int64          `json:"id"`
	SubjectID int64          `json:"subject_id"`
	UserID    int64          `json:"user_id"`
	Type      RecordType     `json:"record_type"`
	Status    Status         `json:"status"`
	CreatedAt time.Time      `json:"created_at"` // only moved by a refreshing upsert
	UpdatedAt time.Time      `json:"updated_at"`
	Meta      map[string]any `json:"meta"`
}

// Has reports whether the metadata field is set.
func (r Record) Has(key string) bool {
	_, ok := r.Meta[key]
	return ok
}

// Int reads an integer metadata field. JSON-decoded numbers and numeric
// strings are accepted.
func (r Record) Int(key string) (int64, bool) {
	switch v := r.Meta[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case float64:
		return int64(math.Round(v)), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// String reads a string metadata field.
func (r Record) String(key string) (string, bool) {
	s, ok := r.Meta[key].(string)
	return s, ok
}

// IDs reads a comma-separated id list such as questions_asked. Malformed
// items are skipped.
func (r Record) IDs(key string) []int64 {
	s, _ := r.String(key)
	return SplitIDs(s)
}

func SplitIDs(s string) []int64 {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.ParseInt(part, 10, 64); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func JoinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// Upsert describes an idempotent create-or-update of the record for
// (SubjectID, UserID, Type). Patch keys mapped to nil are removed. An empty
// Status keeps the existing status on update.
type Upsert struct {
	SubjectID        int64
	UserID           int64
	Type             RecordType
	Status           Status
	Patch            map[string]any
	RefreshTimestamp bool
}

// Filter selects records of one type. Zero values mean "any".
type Filter struct {
	SubjectIDs []int64
	UserID     int64
	Type       RecordType
	StatusIn   []Status
}

// Store is the persistence boundary for activity records. Implementations
// must guarantee at most one record per (subject, user, type).
type Store interface {
	FindRecord(ctx context.Context, subjectID, userID int64, typ RecordType) (Record, error)
	UpsertRecord(ctx context.Context, u Upsert) (int64, error)
	QueryRecords(ctx context.Context, f Filter) ([]Record, error)
	DeleteRecord(ctx context.Context, subjectID, userID int64, typ RecordType) error
}

// applyPatch merges patch into meta in place and returns it.
func applyPatch(meta, patch map[string]any) map[string]any {
	if meta == nil {
		meta = map[string]any{}
	}
	for k, v := range patch {
		if v == nil {
			delete(meta, k)
			continue
		}
		meta[k] = v
	}
	return meta
}

func (f Filter) matches(r Record) bool {
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.UserID != 0 && r.UserID != f.UserID {
		return false
	}
	if len(f.SubjectIDs) > 0 && !containsID(f.SubjectIDs, r.SubjectID) {
		return false
	}
	if len(f.StatusIn) > 0 {
		ok := false
		for _, s := range f.StatusIn {
			if s == r.Status {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func containsID(ids []int64, id int64) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
