// Package events carries progress notifications out of the engines.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	CourseStarted       = "course.started"
	LessonStarted       = "lesson.started"
	LessonStatusUpdated = "lesson.status_updated"
	CourseStatusUpdated = "course.status_updated"
	CourseCompleted     = "course.completed"
	AnswersSubmitted    = "answers.submitted"
	QuestionGraded      = "question.graded"
	QuestionGradeClear  = "question.grade_cleared"
	QuizGraded          = "quiz.graded"
	LessonReset         = "lesson.reset"
	UserRemovedLesson   = "user.removed_from_lesson"
	UserRemovedCourse   = "user.removed_from_course"
)

type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	UserID    int64          `json:"user_id"`
	SubjectID int64          `json:"subject_id"`
	Data      map[string]any `json:"data,omitempty"`
	At        time.Time      `json:"at"`
}

// New stamps an event with a fresh id and the given time.
func New(typ string, userID, subjectID int64, data map[string]any, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		UserID:    userID,
		SubjectID: subjectID,
		Data:      data,
		At:        at.UTC(),
	}
}

// Sink receives events. Emit must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }

// Multi fans out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory records events in order, mostly for tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Emit(_ context.Context, e Event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Types lists the event types seen so far.
func (m *Memory) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

func (m *Memory) Reset() {
	m.mu.Lock()
	m.events = nil
	m.mu.Unlock()
}
