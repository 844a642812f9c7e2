package grading

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-progress/internal/activity"
	"github.com/mind-engage/mindengage-progress/internal/content"
	"github.com/mind-engage/mindengage-progress/internal/events"
	"github.com/mind-engage/mindengage-progress/internal/storage"
)

// Progress is the slice of the progress engine grading drives.
type Progress interface {
	StartLesson(ctx context.Context, userID, lessonID int64, forceComplete bool) (activity.Record, error)
	UpdateLessonStatus(ctx context.Context, userID, lessonID int64, status activity.Status, meta map[string]any) (int64, error)
	RecomputeCourseStatus(ctx context.Context, userID, courseID int64) (activity.Record, error)
	LessonStatus(ctx context.Context, userID, lessonID int64) (activity.Record, error)
}

// Resolver produces the question set for a quiz attempt.
type Resolver interface {
	Resolve(ctx context.Context, quizID, userID int64, authoring bool) ([]content.Question, error)
}

// Upload is a file-upload answer body. It is written to the blob store and
// the answer records the key.
type Upload struct {
	Name string
	Body io.Reader
}

type Engine struct {
	content  content.Repository
	store    activity.Store
	resolver Resolver
	progress Progress
	grader   Grader
	blobs    storage.BlobStore
	sink     events.Sink
	log      *slog.Logger
	now      func() time.Time
}

type EngineOption func(*Engine)

func WithGrader(g Grader) EngineOption               { return func(e *Engine) { e.grader = g } }
func WithBlobStore(b storage.BlobStore) EngineOption { return func(e *Engine) { e.blobs = b } }
func WithSink(s events.Sink) EngineOption            { return func(e *Engine) { e.sink = s } }
func WithLogger(l *slog.Logger) EngineOption         { return func(e *Engine) { e.log = l } }
func WithClock(now func() time.Time) EngineOption    { return func(e *Engine) { e.now = now } }

func NewEngine(repo content.Repository, store activity.Store, resolver Resolver, progress Progress, opts ...EngineOption) *Engine {
	e := &Engine{
		content:  repo,
		store:    store,
		resolver: resolver,
		progress: progress,
		grader:   NewDefaultGrader(),
		sink:     events.Nop{},
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// QuizGrade is the aggregate state of one user's quiz.
type QuizGrade struct {
	QuizID   int64           `json:"quiz_id"`
	LessonID int64           `json:"lesson_id"`
	Status   activity.Status `json:"status"`
	Percent  int             `json:"percent"`
	Earned   int             `json:"earned"`
	Possible int             `json:"possible"`
	Pending  []int64         `json:"pending,omitempty"` // questions still waiting for a grade
	Final    bool            `json:"final"`
}

type Submission struct {
	Questions  []int64   `json:"questions"`
	AutoGraded []int64   `json:"auto_graded"`
	Ignored    []int64   `json:"ignored,omitempty"` // answers for questions outside the pinned set
	Grade      QuizGrade `json:"grade"`
}

type pendingAnswer struct {
	q      content.Question
	value  any
	upload *Upload
}

// SubmitAnswers stores one answer per question of the user's pinned set,
// grades objective questions immediately unless the quiz is graded manually,
// and re-aggregates the quiz. Questions without an answer are stored blank.
func (e *Engine) SubmitAnswers(ctx context.Context, userID, quizID int64, answers map[int64]any) (Submission, error) {
	quiz, err := e.content.Quiz(ctx, quizID)
	if err != nil {
		return Submission{}, err
	}
	if _, err := e.progress.StartLesson(ctx, userID, quiz.LessonID, false); err != nil {
		return Submission{}, err
	}
	questions, err := e.resolver.Resolve(ctx, quizID, userID, false)
	if err != nil {
		return Submission{}, err
	}

	var sub Submission
	inSet := make(map[int64]struct{}, len(questions))
	pending := make([]pendingAnswer, 0, len(questions))
	for _, q := range questions {
		inSet[q.ID] = struct{}{}
		sub.Questions = append(sub.Questions, q.ID)
		p := pendingAnswer{q: q, value: ""}
		switch v := answers[q.ID].(type) {
		case nil:
		case Upload:
			p.upload = &v
		case *Upload:
			p.upload = v
		default:
			p.value = v
		}
		if p.upload != nil && q.Type != content.FileUpload {
			return Submission{}, fmt.Errorf("question %d: upload given for %s question", q.ID, q.Type)
		}
		if p.upload == nil {
			// Reject malformed responses before anything is written.
			if _, err := e.grader.Grade(ctx, q, p.value); err != nil {
				return Submission{}, fmt.Errorf("question %d: %w", q.ID, err)
			}
		}
		pending = append(pending, p)
	}
	for id := range answers {
		if _, ok := inSet[id]; !ok {
			sub.Ignored = append(sub.Ignored, id)
		}
	}
	sort.Slice(sub.Ignored, func(i, j int) bool { return sub.Ignored[i] < sub.Ignored[j] })
	if len(sub.Ignored) > 0 {
		e.log.Debug("ignoring answers outside the question set", "quiz_id", quizID, "user_id", userID, "questions", sub.Ignored)
	}

	for _, p := range pending {
		auto, err := e.storeAnswer(ctx, userID, quiz, p)
		if err != nil {
			return Submission{}, err
		}
		if auto {
			sub.AutoGraded = append(sub.AutoGraded, p.q.ID)
		}
	}
	e.emit(ctx, events.AnswersSubmitted, userID, quizID, map[string]any{
		"lesson_id": quiz.LessonID, "questions": len(sub.Questions), "auto_graded": len(sub.AutoGraded),
	})

	sub.Grade, err = e.GradeQuiz(ctx, userID, quizID)
	if err != nil {
		return Submission{}, err
	}
	return sub, nil
}

func (e *Engine) storeAnswer(ctx context.Context, userID int64, quiz content.Quiz, p pendingAnswer) (bool, error) {
	value := p.value
	var uploadKey any
	if p.upload != nil {
		if e.blobs == nil {
			return false, fmt.Errorf("question %d: no blob store for uploads", p.q.ID)
		}
		key, err := e.blobs.Put(ctx, storage.AnswerKey(userID, p.q.ID, p.upload.Name), p.upload.Body)
		if err != nil {
			return false, fmt.Errorf("question %d: store upload: %w", p.q.ID, err)
		}
		value, uploadKey = key, key
	}
	res, err := e.grader.Grade(ctx, p.q, value)
	if err != nil {
		return false, fmt.Errorf("question %d: %w", p.q.ID, err)
	}

	patch := map[string]any{
		activity.MetaAnswer:      value,
		activity.MetaQuizID:      quiz.ID,
		activity.MetaUserGrade:   nil,
		activity.MetaGradingHint: nil,
		activity.MetaUploadKey:   uploadKey,
	}
	auto := !res.NeedsManual && quiz.GradeType != content.GradeManual
	if auto {
		patch[activity.MetaUserGrade] = res.Points
	}
	if len(res.Feedback) > 0 {
		patch[activity.MetaGradingHint] = strings.Join(res.Feedback, "; ")
	}
	if _, err := e.store.UpsertRecord(ctx, activity.Upsert{
		SubjectID: p.q.ID,
		UserID:    userID,
		Type:      activity.TypeUserAnswer,
		Status:    activity.StatusAnswered,
		Patch:     patch,
	}); err != nil {
		return false, fmt.Errorf("question %d: store answer: %w", p.q.ID, err)
	}
	return auto, nil
}

// GradeQuestion records an instructor grade and note on the user's answer.
// Negative grades are stored as 0.
func (e *Engine) GradeQuestion(ctx context.Context, userID, questionID int64, grade int, note string) (int64, error) {
	if _, err := e.content.QuestionMetadata(ctx, questionID); err != nil {
		return 0, err
	}
	if grade < 0 {
		grade = 0
	}
	var n any
	if note != "" {
		n = note
	}
	id, err := e.store.UpsertRecord(ctx, activity.Upsert{
		SubjectID: questionID,
		UserID:    userID,
		Type:      activity.TypeUserAnswer,
		Status:    activity.StatusAnswered,
		Patch: map[string]any{
			activity.MetaUserGrade:  grade,
			activity.MetaAnswerNote: n,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("grade question %d: %w", questionID, err)
	}
	e.emit(ctx, events.QuestionGraded, userID, questionID, map[string]any{"grade": grade})
	return id, nil
}

// ClearQuestionGrade removes only the grade from the user's answer.
func (e *Engine) ClearQuestionGrade(ctx context.Context, userID, questionID int64) error {
	if _, err := e.store.FindRecord(ctx, questionID, userID, activity.TypeUserAnswer); err != nil {
		if errors.Is(err, activity.ErrNotFound) {
			return nil
		}
		return err
	}
	if _, err := e.store.UpsertRecord(ctx, activity.Upsert{
		SubjectID: questionID,
		UserID:    userID,
		Type:      activity.TypeUserAnswer,
		Patch:     map[string]any{activity.MetaUserGrade: nil},
	}); err != nil {
		return fmt.Errorf("clear grade %d: %w", questionID, err)
	}
	e.emit(ctx, events.QuestionGradeClear, userID, questionID, nil)
	return nil
}

// GradeQuiz aggregates the answers over the user's question set and moves
// the lesson status accordingly, then recomputes the course.
func (e *Engine) GradeQuiz(ctx context.Context, userID, quizID int64) (QuizGrade, error) {
	quiz, err := e.content.Quiz(ctx, quizID)
	if err != nil {
		return QuizGrade{}, err
	}
	lesson, err := e.content.Lesson(ctx, quiz.LessonID)
	if err != nil {
		return QuizGrade{}, err
	}
	if g, held, err := e.heldGrade(ctx, userID, quiz); err != nil || held {
		return g, err
	}
	if _, err := e.progress.StartLesson(ctx, userID, lesson.ID, false); err != nil {
		return QuizGrade{}, err
	}
	questions, err := e.resolver.Resolve(ctx, quizID, userID, false)
	if err != nil {
		return QuizGrade{}, err
	}

	g := QuizGrade{QuizID: quizID, LessonID: lesson.ID}
	for _, q := range questions {
		g.Possible += q.Grade
		rec, err := e.store.FindRecord(ctx, q.ID, userID, activity.TypeUserAnswer)
		if err != nil && !errors.Is(err, activity.ErrNotFound) {
			return QuizGrade{}, err
		}
		grade, ok := rec.Int(activity.MetaUserGrade)
		if err != nil || !ok {
			g.Pending = append(g.Pending, q.ID)
			continue
		}
		g.Earned += int(grade)
	}

	var meta map[string]any
	switch {
	case g.Possible == 0:
		g.Status, g.Final = activity.StatusComplete, true
	case len(g.Pending) == 0:
		g.Final = true
		g.Percent = clampPercent(g.Earned, g.Possible)
		switch {
		case !quiz.PassRequired:
			g.Status = activity.StatusGraded
		case g.Percent >= quiz.Passmark:
			g.Status = activity.StatusPassed
		default:
			g.Status = activity.StatusFailed
		}
		meta = map[string]any{activity.MetaGrade: g.Percent}
	default:
		g.Status = activity.StatusUngraded
		meta = map[string]any{activity.MetaGrade: nil}
	}
	if _, err := e.progress.UpdateLessonStatus(ctx, userID, lesson.ID, g.Status, meta); err != nil {
		return QuizGrade{}, err
	}
	e.emit(ctx, events.QuizGraded, userID, quizID, map[string]any{
		"lesson_id": lesson.ID, "status": string(g.Status), "percent": g.Percent, "final": g.Final,
	})

	if lesson.CourseID != 0 {
		if _, err := e.progress.RecomputeCourseStatus(ctx, userID, lesson.CourseID); err != nil {
			return g, fmt.Errorf("recompute course %d: %w", lesson.CourseID, err)
		}
	}
	return g, nil
}

// heldGrade reports the lesson's recorded grade when it is final and no
// answer exists to aggregate, as after an instructor forced completion. The
// lesson keeps that grade until it is reset.
func (e *Engine) heldGrade(ctx context.Context, userID int64, quiz content.Quiz) (QuizGrade, bool, error) {
	rec, err := e.progress.LessonStatus(ctx, userID, quiz.LessonID)
	if errors.Is(err, activity.ErrNotFound) {
		return QuizGrade{}, false, nil
	}
	if err != nil {
		return QuizGrade{}, false, err
	}
	grade, ok := rec.Int(activity.MetaGrade)
	if !ok {
		return QuizGrade{}, false, nil
	}
	switch rec.Status {
	case activity.StatusGraded, activity.StatusPassed, activity.StatusFailed:
	default:
		return QuizGrade{}, false, nil
	}

	ids := rec.IDs(activity.MetaQuestionsAsked)
	if len(ids) == 0 {
		entries, err := e.content.QuestionsOfQuiz(ctx, quiz.ID)
		if err != nil {
			return QuizGrade{}, false, err
		}
		for _, en := range entries {
			if !en.IsPlaceholder() {
				ids = append(ids, en.ID)
			}
		}
	}
	for _, id := range ids {
		_, err := e.store.FindRecord(ctx, id, userID, activity.TypeUserAnswer)
		if err == nil {
			return QuizGrade{}, false, nil
		}
		if !errors.Is(err, activity.ErrNotFound) {
			return QuizGrade{}, false, err
		}
	}
	return QuizGrade{
		QuizID:   quiz.ID,
		LessonID: quiz.LessonID,
		Status:   rec.Status,
		Percent:  int(grade),
		Final:    true,
	}, true, nil
}

// clampPercent is round(100*earned/possible) bounded to [0,100].
func clampPercent(earned, possible int) int {
	if possible <= 0 {
		return 0
	}
	p := int(math.Round(100 * float64(earned) / float64(possible)))
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

func (e *Engine) emit(ctx context.Context, typ string, userID, subjectID int64, data map[string]any) {
	if err := e.sink.Emit(ctx, events.New(typ, userID, subjectID, data, e.now())); err != nil {
		e.log.Error("emit event", "type", typ, "user_id", userID, "subject_id", subjectID, "error", err)
	}
}
