// Package content is read access to the course → lesson → quiz → question
// hierarchy.
package content

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("content: not found")

	// ErrEntryConflict is returned when a quiz entry id is already used by
	// an entry of the other kind.
	ErrEntryConflict = errors.New("content: entry id used by another kind")
)

type CompletionPolicy string

const (
	// AnyTime counts every lesson the learner has finished, passed or not.
	AnyTime CompletionPolicy = "any_time"
	// AllLessonsPassed only counts lessons that were completed or passed.
	AllLessonsPassed CompletionPolicy = "all_lessons_passed"
)

type GradeType string

const (
	GradeAuto   GradeType = "auto"
	GradeManual GradeType = "manual"
)

type QuestionType string

const (
	MultipleChoice QuestionType = "multiple-choice"
	Boolean        QuestionType = "boolean"
	GapFill        QuestionType = "gap-fill"
	SingleLine     QuestionType = "single-line"
	MultiLine      QuestionType = "multi-line"
	FileUpload     QuestionType = "file-upload"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case MultipleChoice, Boolean, GapFill, SingleLine, MultiLine, FileUpload:
		return true
	}
	return false
}

type Course struct {
	ID               int64            `json:"id"`
	Title            string           `json:"title,omitempty"`
	CompletionPolicy CompletionPolicy `json:"completion_policy"`
}

type Lesson struct {
	ID           int64  `json:"id"`
	CourseID     int64  `json:"course_id"` // 0 until assigned
	Title        string `json:"title,omitempty"`
	Position     int    `json:"position"`
	HasQuestions bool   `json:"has_questions"` // derived from the lesson quiz entries
}

type Quiz struct {
	ID                int64     `json:"id"`
	LessonID          int64     `json:"lesson_id"`
	PassRequired      bool      `json:"pass_required"`
	Passmark          int       `json:"passmark"`
	GradeType         GradeType `json:"grade_type"`
	RandomizeOrder    bool      `json:"randomize_question_order"`
	ShowQuestionCount *int      `json:"show_question_count,omitempty"`
}

type Question struct {
	ID          int64        `json:"id"`
	Type        QuestionType `json:"type"`
	Grade       int          `json:"grade"`
	RightAnswer []string     `json:"right_answer,omitempty"`
	CategoryID  int64        `json:"category_id,omitempty"`
	Title       string       `json:"title,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

type EntryKind string

const (
	EntryQuestion EntryKind = "question"
	EntryCategory EntryKind = "category"
)

// Entry is one item of a quiz: a single question, or a category placeholder
// that expands into Count questions drawn from CategoryID.
type Entry struct {
	ID         int64     `json:"id"` // question id, or placeholder id
	Kind       EntryKind `json:"kind"`
	CategoryID int64     `json:"category_id,omitempty"`
	Count      int       `json:"count,omitempty"`
}

func SingleEntry(questionID int64) Entry { return Entry{ID: questionID, Kind: EntryQuestion} }

func PlaceholderEntry(id, categoryID int64, count int) Entry {
	return Entry{ID: id, Kind: EntryCategory, CategoryID: categoryID, Count: count}
}

func (e Entry) IsPlaceholder() bool { return e.Kind == EntryCategory }

// Repository is the read side the engines depend on. The order list is the
// only thing written through it, and only once per quiz.
type Repository interface {
	Course(ctx context.Context, id int64) (Course, error)
	Lesson(ctx context.Context, id int64) (Lesson, error)
	Quiz(ctx context.Context, id int64) (Quiz, error)

	LessonsOfCourse(ctx context.Context, courseID int64) ([]int64, error)
	// QuizOfLesson reports ok=false when the lesson has no quiz.
	QuizOfLesson(ctx context.Context, lessonID int64) (quizID int64, ok bool, err error)
	// QuestionsOfQuiz returns entries in creation order.
	QuestionsOfQuiz(ctx context.Context, quizID int64) ([]Entry, error)
	QuestionMetadata(ctx context.Context, questionID int64) (Question, error)

	QuestionOrder(ctx context.Context, quizID int64) ([]int64, error)
	SetQuestionOrder(ctx context.Context, quizID int64, order []int64) error

	RandomQuestionsInCategory(ctx context.Context, categoryID int64, count int, exclude []int64) ([]int64, error)
	// QuestionsInCategory lists members in ascending id order.
	QuestionsInCategory(ctx context.Context, categoryID int64) ([]int64, error)
}

// Writer seeds a repository.
type Writer interface {
	PutCourse(ctx context.Context, c Course) error
	PutLesson(ctx context.Context, l Lesson) error
	PutQuiz(ctx context.Context, q Quiz) error
	PutQuestion(ctx context.Context, q Question) error
	AddEntry(ctx context.Context, quizID int64, e Entry) error
}
