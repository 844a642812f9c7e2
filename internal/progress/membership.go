package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/mind-engage/mindengage-progress/internal/activity"
	"github.com/mind-engage/mindengage-progress/internal/events"
)

// answeredQuestions lists every question id that may carry an answer from
// this user for the lesson quiz: the pinned set plus the quiz's own entries.
func (e *Engine) answeredQuestions(ctx context.Context, userID, lessonID int64) ([]int64, error) {
	seen := map[int64]struct{}{}
	var ids []int64
	add := func(id int64) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	rec, err := e.store.FindRecord(ctx, lessonID, userID, activity.TypeLessonStatus)
	switch {
	case err == nil:
		for _, id := range rec.IDs(activity.MetaQuestionsAsked) {
			add(id)
		}
	case !errors.Is(err, activity.ErrNotFound):
		return nil, err
	}

	quizID, ok, err := e.content.QuizOfLesson(ctx, lessonID)
	if err != nil || !ok {
		return ids, err
	}
	entries, err := e.content.QuestionsOfQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	for _, en := range entries {
		if !en.IsPlaceholder() {
			add(en.ID)
		}
	}
	return ids, nil
}

// deleteAnswers drops the answer records and any uploaded file they point
// at. A blob that cannot be removed is logged; the record still goes.
func (e *Engine) deleteAnswers(ctx context.Context, userID int64, questionIDs []int64) error {
	for _, qid := range questionIDs {
		if e.blobs != nil {
			rec, err := e.store.FindRecord(ctx, qid, userID, activity.TypeUserAnswer)
			switch {
			case err == nil:
				if key, ok := rec.String(activity.MetaUploadKey); ok && key != "" {
					if err := e.blobs.Delete(ctx, key); err != nil {
						e.log.Warn("delete upload failed", "user", userID, "question", qid, "key", key, "err", err)
					}
				}
			case !errors.Is(err, activity.ErrNotFound):
				return fmt.Errorf("find answer %d: %w", qid, err)
			}
		}
		if err := e.store.DeleteRecord(ctx, qid, userID, activity.TypeUserAnswer); err != nil {
			return fmt.Errorf("delete answer %d: %w", qid, err)
		}
	}
	return nil
}

// ResetLesson deletes the user's quiz answers and puts the lesson back to
// in-progress with its grade and pinned questions cleared.
func (e *Engine) ResetLesson(ctx context.Context, userID, lessonID int64) (activity.Record, error) {
	lesson, err := e.content.Lesson(ctx, lessonID)
	if err != nil {
		return activity.Record{}, err
	}
	qids, err := e.answeredQuestions(ctx, userID, lessonID)
	if err != nil {
		return activity.Record{}, err
	}
	if err := e.deleteAnswers(ctx, userID, qids); err != nil {
		return activity.Record{}, err
	}
	if _, err := e.store.UpsertRecord(ctx, activity.Upsert{
		SubjectID: lessonID,
		UserID:    userID,
		Type:      activity.TypeLessonStatus,
		Status:    activity.StatusInProgress,
		Patch: map[string]any{
			activity.MetaStart:          e.now().Unix(),
			activity.MetaGrade:          nil,
			activity.MetaQuestionsAsked: nil,
		},
		RefreshTimestamp: true,
	}); err != nil {
		return activity.Record{}, fmt.Errorf("reset lesson %d: %w", lessonID, err)
	}
	e.emit(ctx, events.LessonReset, userID, lessonID, map[string]any{"answers_deleted": len(qids)})

	if lesson.CourseID != 0 {
		if _, err := e.RecomputeCourseStatus(ctx, userID, lesson.CourseID); err != nil {
			e.log.Warn("course recompute after reset", "user_id", userID, "course_id", lesson.CourseID, "error", err)
		}
	}
	return e.store.FindRecord(ctx, lessonID, userID, activity.TypeLessonStatus)
}

// RemoveUserFromLesson deletes the lesson status and quiz answers. Removing a
// user with no records is a no-op.
func (e *Engine) RemoveUserFromLesson(ctx context.Context, userID, lessonID int64) error {
	if _, err := e.content.Lesson(ctx, lessonID); err != nil {
		return err
	}
	if err := e.removeFromLesson(ctx, userID, lessonID); err != nil {
		return err
	}
	e.emit(ctx, events.UserRemovedLesson, userID, lessonID, nil)
	return nil
}

func (e *Engine) removeFromLesson(ctx context.Context, userID, lessonID int64) error {
	qids, err := e.answeredQuestions(ctx, userID, lessonID)
	if err != nil {
		return err
	}
	if err := e.deleteAnswers(ctx, userID, qids); err != nil {
		return err
	}
	return e.store.DeleteRecord(ctx, lessonID, userID, activity.TypeLessonStatus)
}

// RemoveUserFromCourse removes the user from every lesson of the course and
// deletes the course status. A failure part way leaves the remaining records
// in place; calling it again finishes the job.
func (e *Engine) RemoveUserFromCourse(ctx context.Context, userID, courseID int64) error {
	lessons, err := e.content.LessonsOfCourse(ctx, courseID)
	if err != nil {
		return err
	}
	for _, lessonID := range lessons {
		if err := e.removeFromLesson(ctx, userID, lessonID); err != nil {
			return fmt.Errorf("remove from lesson %d: %w", lessonID, err)
		}
	}
	if err := e.store.DeleteRecord(ctx, courseID, userID, activity.TypeCourseStatus); err != nil {
		return err
	}
	e.emit(ctx, events.UserRemovedCourse, userID, courseID, map[string]any{"lessons": len(lessons)})
	return nil
}
