package progress

import (
	"context"
	"errors"

	"github.com/mind-engage/mindengage-progress/internal/activity"
)

// CoursePassmark is the unweighted mean passmark of the course lessons whose
// quiz requires a pass, or 0 when there are none.
func (e *Engine) CoursePassmark(ctx context.Context, courseID int64) (int, error) {
	lessons, err := e.content.LessonsOfCourse(ctx, courseID)
	if err != nil {
		return 0, err
	}
	sum, n := 0, 0
	for _, lessonID := range lessons {
		quizID, ok, err := e.content.QuizOfLesson(ctx, lessonID)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		quiz, err := e.content.Quiz(ctx, quizID)
		if err != nil {
			return 0, err
		}
		if quiz.PassRequired {
			sum += quiz.Passmark
			n++
		}
	}
	return mean(sum, n), nil
}

// CourseUserGrade is the mean recorded quiz grade over lessons with quiz
// questions. Ungraded lessons count as 0.
func (e *Engine) CourseUserGrade(ctx context.Context, userID, courseID int64) (int, error) {
	lessons, err := e.content.LessonsOfCourse(ctx, courseID)
	if err != nil {
		return 0, err
	}
	sum, n := 0, 0
	for _, lessonID := range lessons {
		lesson, err := e.content.Lesson(ctx, lessonID)
		if err != nil {
			return 0, err
		}
		if !lesson.HasQuestions {
			continue
		}
		n++
		rec, err := e.store.FindRecord(ctx, lessonID, userID, activity.TypeLessonStatus)
		if errors.Is(err, activity.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if g, ok := rec.Int(activity.MetaGrade); ok {
			sum += int(g)
		}
	}
	return mean(sum, n), nil
}

func (e *Engine) UserPassedCourse(ctx context.Context, userID, courseID int64) (bool, error) {
	grade, err := e.CourseUserGrade(ctx, userID, courseID)
	if err != nil {
		return false, err
	}
	passmark, err := e.CoursePassmark(ctx, courseID)
	if err != nil {
		return false, err
	}
	return grade >= passmark, nil
}
