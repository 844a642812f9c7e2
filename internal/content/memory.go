package content

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
)

// MemoryRepo is an in-process Repository and Writer.
type MemoryRepo struct {
	mu        sync.RWMutex
	courses   map[int64]Course
	lessons   map[int64]Lesson
	quizzes   map[int64]Quiz
	questions map[int64]Question
	entries   map[int64][]Entry // quiz id -> entries in creation order
	order     map[int64][]int64

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewMemoryRepo(rng *rand.Rand) *MemoryRepo {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &MemoryRepo{
		courses:   map[int64]Course{},
		lessons:   map[int64]Lesson{},
		quizzes:   map[int64]Quiz{},
		questions: map[int64]Question{},
		entries:   map[int64][]Entry{},
		order:     map[int64][]int64{},
		rng:       rng,
	}
}

func (m *MemoryRepo) PutCourse(_ context.Context, c Course) error {
	if c.CompletionPolicy == "" {
		c.CompletionPolicy = AnyTime
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.courses[c.ID] = c
	return nil
}

func (m *MemoryRepo) PutLesson(_ context.Context, l Lesson) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lessons[l.ID] = l
	return nil
}

func (m *MemoryRepo) PutQuiz(_ context.Context, q Quiz) error {
	if q.GradeType == "" {
		q.GradeType = GradeAuto
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quizzes[q.ID] = q
	return nil
}

func (m *MemoryRepo) PutQuestion(_ context.Context, q Question) error {
	if !q.Type.Valid() {
		return fmt.Errorf("content: question %d: unknown type %q", q.ID, q.Type)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questions[q.ID] = q
	return nil
}

func (m *MemoryRepo) AddEntry(_ context.Context, quizID int64, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.quizzes[quizID]; !ok {
		return fmt.Errorf("content: quiz %d: %w", quizID, ErrNotFound)
	}
	if e.Kind == "" {
		e.Kind = EntryQuestion
	}
	for _, x := range m.entries[quizID] {
		if x.ID != e.ID {
			continue
		}
		if x.Kind != e.Kind {
			return fmt.Errorf("quiz %d entry %d is a %s: %w", quizID, e.ID, x.Kind, ErrEntryConflict)
		}
		return nil
	}
	m.entries[quizID] = append(m.entries[quizID], e)
	return nil
}

func (m *MemoryRepo) Course(_ context.Context, id int64) (Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.courses[id]
	if !ok {
		return Course{}, fmt.Errorf("course %d: %w", id, ErrNotFound)
	}
	return c, nil
}

func (m *MemoryRepo) Lesson(_ context.Context, id int64) (Lesson, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lessons[id]
	if !ok {
		return Lesson{}, fmt.Errorf("lesson %d: %w", id, ErrNotFound)
	}
	l.HasQuestions = false
	for _, q := range m.quizzes {
		if q.LessonID == id && len(m.entries[q.ID]) > 0 {
			l.HasQuestions = true
			break
		}
	}
	return l, nil
}

func (m *MemoryRepo) Quiz(_ context.Context, id int64) (Quiz, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quizzes[id]
	if !ok {
		return Quiz{}, fmt.Errorf("quiz %d: %w", id, ErrNotFound)
	}
	return q, nil
}

func (m *MemoryRepo) LessonsOfCourse(_ context.Context, courseID int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.courses[courseID]; !ok {
		return nil, fmt.Errorf("course %d: %w", courseID, ErrNotFound)
	}
	var ls []Lesson
	for _, l := range m.lessons {
		if l.CourseID == courseID {
			ls = append(ls, l)
		}
	}
	sort.Slice(ls, func(i, j int) bool {
		if ls[i].Position != ls[j].Position {
			return ls[i].Position < ls[j].Position
		}
		return ls[i].ID < ls[j].ID
	})
	out := make([]int64, len(ls))
	for i, l := range ls {
		out[i] = l.ID
	}
	return out, nil
}

func (m *MemoryRepo) QuizOfLesson(_ context.Context, lessonID int64) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.lessons[lessonID]; !ok {
		return 0, false, fmt.Errorf("lesson %d: %w", lessonID, ErrNotFound)
	}
	for _, q := range m.quizzes {
		if q.LessonID == lessonID {
			return q.ID, true, nil
		}
	}
	return 0, false, nil
}

func (m *MemoryRepo) QuestionsOfQuiz(_ context.Context, quizID int64) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.quizzes[quizID]; !ok {
		return nil, fmt.Errorf("quiz %d: %w", quizID, ErrNotFound)
	}
	return append([]Entry(nil), m.entries[quizID]...), nil
}

func (m *MemoryRepo) QuestionMetadata(_ context.Context, questionID int64) (Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.questions[questionID]
	if !ok {
		return Question{}, fmt.Errorf("question %d: %w", questionID, ErrNotFound)
	}
	q.RightAnswer = append([]string(nil), q.RightAnswer...)
	return q, nil
}

func (m *MemoryRepo) QuestionOrder(_ context.Context, quizID int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int64(nil), m.order[quizID]...), nil
}

func (m *MemoryRepo) SetQuestionOrder(_ context.Context, quizID int64, order []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.quizzes[quizID]; !ok {
		return fmt.Errorf("quiz %d: %w", quizID, ErrNotFound)
	}
	m.order[quizID] = append([]int64(nil), order...)
	return nil
}

func (m *MemoryRepo) QuestionsInCategory(_ context.Context, categoryID int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []int64
	for id, q := range m.questions {
		if q.CategoryID == categoryID && categoryID != 0 {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *MemoryRepo) RandomQuestionsInCategory(ctx context.Context, categoryID int64, count int, exclude []int64) ([]int64, error) {
	if count <= 0 {
		return nil, nil
	}
	members, err := m.QuestionsInCategory(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	skip := make(map[int64]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	pool := members[:0]
	for _, id := range members {
		if _, ok := skip[id]; !ok {
			pool = append(pool, id)
		}
	}
	m.rngMu.Lock()
	m.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	m.rngMu.Unlock()
	if len(pool) > count {
		pool = pool[:count]
	}
	return pool, nil
}
