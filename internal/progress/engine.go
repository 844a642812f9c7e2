// Package progress owns the lesson and course status state machines.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mind-engage/mindengage-progress/internal/activity"
	"github.com/mind-engage/mindengage-progress/internal/content"
	"github.com/mind-engage/mindengage-progress/internal/events"
	"github.com/mind-engage/mindengage-progress/internal/storage"
)

type Engine struct {
	store   activity.Store
	content content.Repository
	sink    events.Sink
	blobs   storage.BlobStore
	log     *slog.Logger
	now     func() time.Time
}

type Option func(*Engine)

func WithSink(s events.Sink) Option            { return func(e *Engine) { e.sink = s } }
func WithLogger(l *slog.Logger) Option         { return func(e *Engine) { e.log = l } }
func WithClock(now func() time.Time) Option    { return func(e *Engine) { e.now = now } }
func WithBlobStore(b storage.BlobStore) Option { return func(e *Engine) { e.blobs = b } }

func New(store activity.Store, repo content.Repository, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		content: repo,
		sink:    events.Nop{},
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// StartCourse creates the course status record if the user has none.
func (e *Engine) StartCourse(ctx context.Context, userID, courseID int64) (activity.Record, error) {
	if _, err := e.content.Course(ctx, courseID); err != nil {
		return activity.Record{}, err
	}
	rec, err := e.store.FindRecord(ctx, courseID, userID, activity.TypeCourseStatus)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, activity.ErrNotFound) {
		return activity.Record{}, err
	}
	now := e.now()
	if _, err := e.store.UpsertRecord(ctx, activity.Upsert{
		SubjectID: courseID,
		UserID:    userID,
		Type:      activity.TypeCourseStatus,
		Status:    activity.StatusInProgress,
		Patch: map[string]any{
			activity.MetaStart:    now.Unix(),
			activity.MetaPercent:  0,
			activity.MetaComplete: 0,
		},
	}); err != nil {
		return activity.Record{}, fmt.Errorf("start course %d: %w", courseID, err)
	}
	e.emit(ctx, events.CourseStarted, userID, courseID, nil)
	return e.store.FindRecord(ctx, courseID, userID, activity.TypeCourseStatus)
}

// StartLesson returns the existing lesson status unchanged, or creates it.
// forceComplete marks the lesson complete, or passed with a full grade when
// the lesson has quiz questions.
func (e *Engine) StartLesson(ctx context.Context, userID, lessonID int64, forceComplete bool) (activity.Record, error) {
	lesson, err := e.content.Lesson(ctx, lessonID)
	if err != nil {
		return activity.Record{}, err
	}
	rec, err := e.store.FindRecord(ctx, lessonID, userID, activity.TypeLessonStatus)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, activity.ErrNotFound) {
		return activity.Record{}, err
	}
	if lesson.CourseID != 0 {
		if _, err := e.StartCourse(ctx, userID, lesson.CourseID); err != nil {
			return activity.Record{}, err
		}
	}

	now := e.now()
	u := activity.Upsert{
		SubjectID: lessonID,
		UserID:    userID,
		Type:      activity.TypeLessonStatus,
		Status:    activity.StatusInProgress,
		Patch:     map[string]any{activity.MetaStart: now.Unix()},
	}
	switch {
	case forceComplete && lesson.HasQuestions:
		u.Status = activity.StatusPassed
		u.Patch[activity.MetaGrade] = 100
	case forceComplete:
		u.Status = activity.StatusComplete
	}
	if _, err := e.store.UpsertRecord(ctx, u); err != nil {
		return activity.Record{}, fmt.Errorf("start lesson %d: %w", lessonID, err)
	}
	e.emit(ctx, events.LessonStarted, userID, lessonID, map[string]any{
		"course_id": lesson.CourseID,
		"status":    string(u.Status),
	})
	return e.store.FindRecord(ctx, lessonID, userID, activity.TypeLessonStatus)
}

// UpdateLessonStatus writes status and meta onto the lesson status record.
// An empty or unknown status is a no-op returning 0. Moving a graded lesson
// back to in-progress is refused; use ResetLesson.
func (e *Engine) UpdateLessonStatus(ctx context.Context, userID, lessonID int64, status activity.Status, meta map[string]any) (int64, error) {
	if status == "" || !status.Valid() || status == activity.StatusAnswered {
		e.log.Debug("lesson status update ignored", "user_id", userID, "lesson_id", lessonID, "status", string(status))
		return 0, nil
	}
	if _, err := e.content.Lesson(ctx, lessonID); err != nil {
		return 0, err
	}
	prev, err := e.store.FindRecord(ctx, lessonID, userID, activity.TypeLessonStatus)
	exists := err == nil
	if err != nil && !errors.Is(err, activity.ErrNotFound) {
		return 0, err
	}
	if exists && status == activity.StatusInProgress && prev.Has(activity.MetaGrade) {
		e.log.Debug("refusing in-progress on graded lesson", "user_id", userID, "lesson_id", lessonID)
		return prev.ID, nil
	}

	patch := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		patch[k] = v
	}
	refresh := status == activity.StatusInProgress
	if _, ok := patch[activity.MetaStart]; !ok && (refresh || !exists) {
		patch[activity.MetaStart] = e.now().Unix()
	}
	id, err := e.store.UpsertRecord(ctx, activity.Upsert{
		SubjectID:        lessonID,
		UserID:           userID,
		Type:             activity.TypeLessonStatus,
		Status:           status,
		Patch:            patch,
		RefreshTimestamp: refresh,
	})
	if err != nil {
		return 0, fmt.Errorf("update lesson %d: %w", lessonID, err)
	}
	data := map[string]any{"status": string(status)}
	if exists {
		data["previous"] = string(prev.Status)
	}
	e.emit(ctx, events.LessonStatusUpdated, userID, lessonID, data)
	return id, nil
}

// countsComplete classifies a lesson status under a completion policy.
func countsComplete(policy content.CompletionPolicy, s activity.Status) bool {
	switch policy {
	case content.AllLessonsPassed:
		return s == activity.StatusComplete || s == activity.StatusGraded || s == activity.StatusPassed
	default:
		return s != activity.StatusInProgress && s != activity.StatusUngraded
	}
}

// RecomputeCourseStatus derives the course status from the lesson statuses.
// It is safe to call repeatedly.
func (e *Engine) RecomputeCourseStatus(ctx context.Context, userID, courseID int64) (activity.Record, error) {
	course, err := e.content.Course(ctx, courseID)
	if err != nil {
		return activity.Record{}, err
	}
	lessons, err := e.content.LessonsOfCourse(ctx, courseID)
	if err != nil {
		return activity.Record{}, err
	}

	completed := 0
	if len(lessons) > 0 {
		recs, err := e.store.QueryRecords(ctx, activity.Filter{
			SubjectIDs: lessons,
			UserID:     userID,
			Type:       activity.TypeLessonStatus,
		})
		if err != nil {
			return activity.Record{}, err
		}
		for _, r := range recs {
			if countsComplete(course.CompletionPolicy, r.Status) {
				completed++
			}
		}
	}
	percent := percentOf(completed, len(lessons))
	status := activity.StatusInProgress
	if len(lessons) > 0 && completed == len(lessons) {
		status = activity.StatusComplete
	}

	prev, err := e.store.FindRecord(ctx, courseID, userID, activity.TypeCourseStatus)
	if err != nil && !errors.Is(err, activity.ErrNotFound) {
		return activity.Record{}, err
	}
	patch := map[string]any{
		activity.MetaComplete: completed,
		activity.MetaPercent:  percent,
	}
	if errors.Is(err, activity.ErrNotFound) {
		patch[activity.MetaStart] = e.now().Unix()
	}
	if _, err := e.store.UpsertRecord(ctx, activity.Upsert{
		SubjectID: courseID,
		UserID:    userID,
		Type:      activity.TypeCourseStatus,
		Status:    status,
		Patch:     patch,
	}); err != nil {
		return activity.Record{}, fmt.Errorf("recompute course %d: %w", courseID, err)
	}

	e.emit(ctx, events.CourseStatusUpdated, userID, courseID, map[string]any{
		"status": string(status), "complete": completed, "percent": percent,
	})
	if status == activity.StatusComplete && prev.Status != activity.StatusComplete {
		e.emit(ctx, events.CourseCompleted, userID, courseID, nil)
	}
	return e.store.FindRecord(ctx, courseID, userID, activity.TypeCourseStatus)
}

// LessonStatus returns the user's lesson status or activity.ErrNotFound.
func (e *Engine) LessonStatus(ctx context.Context, userID, lessonID int64) (activity.Record, error) {
	return e.store.FindRecord(ctx, lessonID, userID, activity.TypeLessonStatus)
}

func (e *Engine) CourseStatus(ctx context.Context, userID, courseID int64) (activity.Record, error) {
	return e.store.FindRecord(ctx, courseID, userID, activity.TypeCourseStatus)
}

func (e *Engine) emit(ctx context.Context, typ string, userID, subjectID int64, data map[string]any) {
	ev := events.New(typ, userID, subjectID, data, e.now())
	if err := e.sink.Emit(ctx, ev); err != nil {
		e.log.Error("emit event", "type", typ, "user_id", userID, "subject_id", subjectID, "error", err)
	}
}

// percentOf is round(100*part/whole), 0 when whole is 0.
func percentOf(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(part) / float64(whole)))
}

func mean(sum, n int) int {
	if n == 0 {
		return 0
	}
	return int(math.Round(float64(sum) / float64(n)))
}
