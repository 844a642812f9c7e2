package progress_test

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mind-engage/mindengage-progress/internal/activity"
	"github.com/mind-engage/mindengage-progress/internal/content"
	"github.com/mind-engage/mindengage-progress/internal/events"
	"github.com/mind-engage/mindengage-progress/internal/logging"
	"github.com/mind-engage/mindengage-progress/internal/progress"
	"github.com/mind-engage/mindengage-progress/internal/storage"
)

const (
	user      = 7
	courseID  = 1
	emptyID   = 2
	lessonA   = 10 // quiz with questions, pass required at 50
	lessonB   = 11 // no quiz
	lessonC   = 12 // quiz with questions, pass required at 80
	orphan    = 20 // not in a course
	quizA     = 100
	quizC     = 101
	question1 = 1000
	question2 = 1001
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	repo  *content.MemoryRepo
	store *activity.MemoryStore
	sink  *events.Memory
	clock *clock
	eng   *progress.Engine
}

func newHarness(t *testing.T, policy content.CompletionPolicy) *harness {
	t.Helper()
	ctx := context.Background()
	c := &clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	h := &harness{
		repo:  content.NewMemoryRepo(rand.New(rand.NewSource(1))),
		store: activity.NewMemoryStore(c.Now),
		sink:  &events.Memory{},
		clock: c,
	}
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(h.repo.PutCourse(ctx, content.Course{ID: courseID, CompletionPolicy: policy}))
	must(h.repo.PutCourse(ctx, content.Course{ID: emptyID}))
	must(h.repo.PutLesson(ctx, content.Lesson{ID: lessonA, CourseID: courseID, Position: 0}))
	must(h.repo.PutLesson(ctx, content.Lesson{ID: lessonB, CourseID: courseID, Position: 1}))
	must(h.repo.PutLesson(ctx, content.Lesson{ID: lessonC, CourseID: courseID, Position: 2}))
	must(h.repo.PutLesson(ctx, content.Lesson{ID: orphan}))
	must(h.repo.PutQuestion(ctx, content.Question{ID: question1, Type: content.Boolean, Grade: 1, RightAnswer: []string{"true"}}))
	must(h.repo.PutQuestion(ctx, content.Question{ID: question2, Type: content.SingleLine, Grade: 1}))
	must(h.repo.PutQuiz(ctx, content.Quiz{ID: quizA, LessonID: lessonA, PassRequired: true, Passmark: 50}))
	must(h.repo.AddEntry(ctx, quizA, content.SingleEntry(question1)))
	must(h.repo.PutQuiz(ctx, content.Quiz{ID: quizC, LessonID: lessonC, PassRequired: true, Passmark: 80}))
	must(h.repo.AddEntry(ctx, quizC, content.SingleEntry(question2)))

	h.eng = progress.New(h.store, h.repo,
		progress.WithSink(h.sink), progress.WithClock(c.Now), progress.WithLogger(logging.Discard()))
	return h
}

func (h *harness) set(t *testing.T, lessonID int64, s activity.Status, meta map[string]any) {
	t.Helper()
	if _, err := h.eng.UpdateLessonStatus(context.Background(), user, lessonID, s, meta); err != nil {
		t.Fatalf("UpdateLessonStatus(%d, %s): %v", lessonID, s, err)
	}
}

func TestStartLesson_Idempotent(t *testing.T) {
	h := newHarness(t, content.AnyTime)
	ctx := context.Background()

	first, err := h.eng.StartLesson(ctx, user, lessonA, false)
	if err != nil {
		t.Fatalf("StartLesson: %v", err)
	}
	if first.Status != activity.StatusInProgress {
		t.Fatalf("status = %q", first.Status)
	}
	start, _ := first.Int(activity.MetaStart)

	h.clock.Advance(time.Hour)
	second, err := h.eng.StartLesson(ctx, user, lessonA, true)
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID || second.Status != activity.StatusInProgress {
		t.Fatalf("second start changed the record: %+v", second)
	}
	if s2, _ := second.Int(activity.MetaStart); s2 != start {
		t.Fatalf("start moved from %d to %d", start, s2)
	}

	cs, err := h.eng.CourseStatus(ctx, user, courseID)
	if err != nil || cs.Status != activity.StatusInProgress {
		t.Fatalf("course not started: %+v %v", cs, err)
	}
	got := h.sink.Types()
	if len(got) != 2 || got[0] != events.CourseStarted || got[1] != events.LessonStarted {
		t.Fatalf("events = %v", got)
	}
}

func TestStartLesson_ForceComplete(t *testing.T) {
	h := newHarness(t, content.AnyTime)
	ctx := context.Background()

	rec, err := h.eng.StartLesson(ctx, user, lessonB, true)
	if err != nil || rec.Status != activity.StatusComplete {
		t.Fatalf("no questions: %+v %v", rec, err)
	}
	rec, err = h.eng.StartLesson(ctx, user, lessonA, true)
	if err != nil || rec.Status != activity.StatusPassed {
		t.Fatalf("with questions: %+v %v", rec, err)
	}
	if g, _ := rec.Int(activity.MetaGrade); g != 100 {
		t.Fatalf("grade = %d", g)
	}
}

func TestStartLesson_NotFound(t *testing.T) {
	h := newHarness(t, content.AnyTime)
	if _, err := h.eng.StartLesson(context.Background(), user, 404, false); !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if len(h.sink.Events()) != 0 {
		t.Fatalf("events emitted for a missing lesson")
	}
	// A lesson outside any course does not start one.
	if _, err := h.eng.StartLesson(context.Background(), user, orphan, false); err != nil {
		t.Fatal(err)
	}
	if got := h.sink.Types(); len(got) != 1 || got[0] != events.LessonStarted {
		t.Fatalf("events = %v", got)
	}
}

func TestUpdateLessonStatus(t *testing.T) {
	h := newHarness(t, content.AnyTime)
	ctx := context.Background()

	for _, s := range []activity.Status{"", "bogus", activity.StatusAnswered} {
		id, err := h.eng.UpdateLessonStatus(ctx, user, lessonA, s, nil)
		if id != 0 || err != nil {
			t.Fatalf("status %q: id=%d err=%v", s, id, err)
		}
	}
	if _, err := h.eng.LessonStatus(ctx, user, lessonA); !errors.Is(err, activity.ErrNotFound) {
		t.Fatalf("no-op update wrote a record: %v", err)
	}
	if _, err := h.eng.UpdateLessonStatus(ctx, user, 404, activity.StatusComplete, nil); !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("missing lesson: %v", err)
	}

	started, _ := h.eng.StartLesson(ctx, user, lessonA, false)
	h.clock.Advance(time.Minute)
	id, err := h.eng.UpdateLessonStatus(ctx, user, lessonA, activity.StatusUngraded, map[string]any{"note": "x"})
	if err != nil || id != started.ID {
		t.Fatalf("update id = %d (%v), want %d", id, err, started.ID)
	}
	rec, _ := h.eng.LessonStatus(ctx, user, lessonA)
	if !rec.CreatedAt.Equal(started.CreatedAt) {
		t.Fatalf("non in-progress update moved the timestamp")
	}

	h.clock.Advance(time.Minute)
	h.set(t, lessonA, activity.StatusInProgress, nil)
	rec, _ = h.eng.LessonStatus(ctx, user, lessonA)
	if !rec.CreatedAt.Equal(h.clock.Now()) || rec.Status != activity.StatusInProgress {
		t.Fatalf("in-progress update did not refresh: %+v", rec)
	}

	h.set(t, lessonA, activity.StatusPassed, map[string]any{activity.MetaGrade: 90})
	h.set(t, lessonA, activity.StatusInProgress, nil)
	if rec, _ = h.eng.LessonStatus(ctx, user, lessonA); rec.Status != activity.StatusPassed {
		t.Fatalf("graded lesson went back to %q", rec.Status)
	}
}

func TestRecomputeCourseStatus_Policies(t *testing.T) {
	tests := []struct {
		name     string
		policy   content.CompletionPolicy
		statuses map[int64]activity.Status
		percent  int
		complete bool
	}{
		{"any time counts failed", content.AnyTime,
			map[int64]activity.Status{lessonA: activity.StatusFailed, lessonB: activity.StatusComplete, lessonC: activity.StatusGraded}, 100, true},
		{"any time skips ungraded", content.AnyTime,
			map[int64]activity.Status{lessonA: activity.StatusUngraded, lessonB: activity.StatusComplete, lessonC: activity.StatusInProgress}, 33, false},
		{"passed only", content.AllLessonsPassed,
			map[int64]activity.Status{lessonA: activity.StatusFailed, lessonB: activity.StatusComplete, lessonC: activity.StatusPassed}, 67, false},
		{"all passed", content.AllLessonsPassed,
			map[int64]activity.Status{lessonA: activity.StatusPassed, lessonB: activity.StatusComplete, lessonC: activity.StatusGraded}, 100, true},
		{"missing lesson never counts", content.AnyTime,
			map[int64]activity.Status{lessonA: activity.StatusPassed, lessonB: activity.StatusComplete}, 67, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.policy)
			for id, s := range tt.statuses {
				h.set(t, id, s, nil)
			}
			rec, err := h.eng.RecomputeCourseStatus(context.Background(), user, courseID)
			if err != nil {
				t.Fatal(err)
			}
			p, _ := rec.Int(activity.MetaPercent)
			if p != int64(tt.percent) || (rec.Status == activity.StatusComplete) != tt.complete {
				t.Fatalf("course = %s %d%%, want %d%% complete=%v", rec.Status, p, tt.percent, tt.complete)
			}
		})
	}
}

func TestRecomputeCourseStatus_FlipsBack(t *testing.T) {
	h := newHarness(t, content.AllLessonsPassed)
	ctx := context.Background()
	h.set(t, lessonA, activity.StatusPassed, nil)
	h.set(t, lessonB, activity.StatusComplete, nil)
	h.set(t, lessonC, activity.StatusGraded, nil)

	rec, _ := h.eng.RecomputeCourseStatus(ctx, user, courseID)
	if rec.Status != activity.StatusComplete {
		t.Fatalf("status = %q", rec.Status)
	}
	again, _ := h.eng.RecomputeCourseStatus(ctx, user, courseID)
	if again.ID != rec.ID || again.Status != activity.StatusComplete {
		t.Fatalf("recompute is not idempotent: %+v", again)
	}
	completed := 0
	for _, typ := range h.sink.Types() {
		if typ == events.CourseCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Fatalf("course.completed emitted %d times", completed)
	}

	h.set(t, lessonC, activity.StatusFailed, nil)
	rec, _ = h.eng.RecomputeCourseStatus(ctx, user, courseID)
	if n, _ := rec.Int(activity.MetaComplete); rec.Status != activity.StatusInProgress || n != 2 {
		t.Fatalf("after failure = %s complete=%d", rec.Status, n)
	}
}

func TestRecomputeCourseStatus_EmptyCourse(t *testing.T) {
	h := newHarness(t, content.AnyTime)
	h.set(t, orphan, activity.StatusComplete, nil)
	rec, err := h.eng.RecomputeCourseStatus(context.Background(), user, emptyID)
	if err != nil {
		t.Fatal(err)
	}
	if p, _ := rec.Int(activity.MetaPercent); rec.Status != activity.StatusInProgress || p != 0 {
		t.Fatalf("empty course = %s %d", rec.Status, p)
	}
	if _, err := h.eng.RecomputeCourseStatus(context.Background(), user, 404); !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("missing course: %v", err)
	}
}

func TestCourseGrades(t *testing.T) {
	h := newHarness(t, content.AnyTime)
	ctx := context.Background()

	pm, err := h.eng.CoursePassmark(ctx, courseID)
	if err != nil || pm != 65 {
		t.Fatalf("passmark = %d %v, want 65", pm, err)
	}
	if pm, _ := h.eng.CoursePassmark(ctx, emptyID); pm != 0 {
		t.Fatalf("empty passmark = %d", pm)
	}

	h.set(t, lessonA, activity.StatusPassed, map[string]any{activity.MetaGrade: 90})
	g, err := h.eng.CourseUserGrade(ctx, user, courseID)
	if err != nil || g != 45 {
		t.Fatalf("grade = %d %v, want 45 (C ungraded counts 0)", g, err)
	}
	if ok, _ := h.eng.UserPassedCourse(ctx, user, courseID); ok {
		t.Fatalf("45 should not pass 65")
	}

	h.set(t, lessonC, activity.StatusPassed, map[string]any{activity.MetaGrade: 81})
	if g, _ = h.eng.CourseUserGrade(ctx, user, courseID); g != 86 {
		t.Fatalf("grade = %d, want 86", g)
	}
	if ok, _ := h.eng.UserPassedCourse(ctx, user, courseID); !ok {
		t.Fatalf("86 should pass 65")
	}
	if g, _ := h.eng.CourseUserGrade(ctx, user, emptyID); g != 0 {
		t.Fatalf("empty course grade = %d", g)
	}
}

func answer(t *testing.T, h *harness, questionID int64) {
	t.Helper()
	if _, err := h.store.UpsertRecord(context.Background(), activity.Upsert{
		SubjectID: questionID, UserID: user, Type: activity.TypeUserAnswer,
		Status: activity.StatusAnswered, Patch: map[string]any{activity.MetaUserGrade: 1},
	}); err != nil {
		t.Fatal(err)
	}
}

func TestResetLesson(t *testing.T) {
	h := newHarness(t, content.AnyTime)
	ctx := context.Background()
	h.set(t, lessonA, activity.StatusPassed, map[string]any{
		activity.MetaGrade:          100,
		activity.MetaQuestionsAsked: activity.JoinIDs([]int64{question1}),
	})
	answer(t, h, question1)

	h.clock.Advance(time.Hour)
	rec, err := h.eng.ResetLesson(ctx, user, lessonA)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != activity.StatusInProgress || rec.Has(activity.MetaGrade) || rec.Has(activity.MetaQuestionsAsked) {
		t.Fatalf("reset = %+v", rec)
	}
	if !rec.CreatedAt.Equal(h.clock.Now()) {
		t.Fatalf("reset did not refresh the timestamp")
	}
	if _, err := h.store.FindRecord(ctx, question1, user, activity.TypeUserAnswer); !errors.Is(err, activity.ErrNotFound) {
		t.Fatalf("answer survived reset: %v", err)
	}
}

func TestRemoveUser(t *testing.T) {
	h := newHarness(t, content.AnyTime)
	ctx := context.Background()
	if _, err := h.eng.StartLesson(ctx, user, lessonA, false); err != nil {
		t.Fatal(err)
	}
	h.set(t, lessonC, activity.StatusUngraded, nil)
	answer(t, h, question1)
	answer(t, h, question2)
	// Another user's records are untouched.
	if _, err := h.store.UpsertRecord(ctx, activity.Upsert{
		SubjectID: lessonA, UserID: user + 1, Type: activity.TypeLessonStatus, Status: activity.StatusComplete,
	}); err != nil {
		t.Fatal(err)
	}

	if err := h.eng.RemoveUserFromLesson(ctx, user, lessonC); err != nil {
		t.Fatal(err)
	}
	if _, err := h.eng.LessonStatus(ctx, user, lessonC); !errors.Is(err, activity.ErrNotFound) {
		t.Fatalf("lesson C status survived: %v", err)
	}
	if _, err := h.store.FindRecord(ctx, question2, user, activity.TypeUserAnswer); !errors.Is(err, activity.ErrNotFound) {
		t.Fatalf("question 2 answer survived")
	}
	if _, err := h.store.FindRecord(ctx, question1, user, activity.TypeUserAnswer); err != nil {
		t.Fatalf("question 1 answer removed with lesson C: %v", err)
	}
	if err := h.eng.RemoveUserFromLesson(ctx, user, lessonC); err != nil {
		t.Fatalf("second removal: %v", err)
	}

	if err := h.eng.RemoveUserFromCourse(ctx, user, courseID); err != nil {
		t.Fatal(err)
	}
	recs, _ := h.store.QueryRecords(ctx, activity.Filter{UserID: user})
	if len(recs) != 0 {
		t.Fatalf("records left after course removal: %+v", recs)
	}
	if _, err := h.store.FindRecord(ctx, lessonA, user+1, activity.TypeLessonStatus); err != nil {
		t.Fatalf("other user affected: %v", err)
	}
	if err := h.eng.RemoveUserFromCourse(ctx, user, courseID); err != nil {
		t.Fatalf("second course removal: %v", err)
	}
}

func TestResetLesson_DeletesUploads(t *testing.T) {
	h := newHarness(t, content.AnyTime)
	ctx := context.Background()
	blobs := storage.NewMemoryStore()
	eng := progress.New(h.store, h.repo, progress.WithBlobStore(blobs), progress.WithLogger(logging.Discard()))

	key, err := blobs.Put(ctx, storage.AnswerKey(user, question1, "essay.txt"), strings.NewReader("draft"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.store.UpsertRecord(ctx, activity.Upsert{
		SubjectID: question1, UserID: user, Type: activity.TypeUserAnswer, Status: activity.StatusAnswered,
		Patch: map[string]any{activity.MetaAnswer: key, activity.MetaUploadKey: key},
	}); err != nil {
		t.Fatal(err)
	}
	h.set(t, lessonA, activity.StatusUngraded, nil)

	if _, err := eng.ResetLesson(ctx, user, lessonA); err != nil {
		t.Fatal(err)
	}
	if _, err := blobs.Get(ctx, key); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("upload survived reset: %v", err)
	}
}
