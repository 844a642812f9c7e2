package quiz

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/mind-engage/mindengage-progress/internal/activity"
	"github.com/mind-engage/mindengage-progress/internal/content"
	"github.com/mind-engage/mindengage-progress/internal/logging"
)

const (
	lessonID = 10
	quizID   = 50
	userID   = 7
)

type fixture struct {
	repo     *content.MemoryRepo
	store    *activity.MemoryStore
	resolver *Resolver
}

func newFixture(t *testing.T, seed int64, quiz content.Quiz, entries ...content.Entry) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := content.NewMemoryRepo(rand.New(rand.NewSource(seed)))
	now := func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	store := activity.NewMemoryStore(now)

	if err := repo.PutLesson(ctx, content.Lesson{ID: lessonID}); err != nil {
		t.Fatal(err)
	}
	for id := int64(1); id <= 9; id++ {
		q := content.Question{ID: id, Type: content.Boolean, Grade: 1}
		if id >= 3 && id <= 7 {
			q.CategoryID = 100 // five members: 3,4,5,6,7
		}
		if err := repo.PutQuestion(ctx, q); err != nil {
			t.Fatal(err)
		}
	}
	quiz.ID, quiz.LessonID = quizID, lessonID
	if err := repo.PutQuiz(ctx, quiz); err != nil {
		t.Fatal(err)
	}
	for _, en := range entries {
		if err := repo.AddEntry(ctx, quizID, en); err != nil {
			t.Fatal(err)
		}
	}
	r := NewResolver(repo, store, WithRand(rand.New(rand.NewSource(seed))), WithLogger(logging.Discard()))
	return &fixture{repo: repo, store: store, resolver: r}
}

func (f *fixture) startLesson(t *testing.T, meta map[string]any) {
	t.Helper()
	if _, err := f.store.UpsertRecord(context.Background(), activity.Upsert{
		SubjectID: lessonID, UserID: userID, Type: activity.TypeLessonStatus,
		Status: activity.StatusInProgress, Patch: meta,
	}); err != nil {
		t.Fatal(err)
	}
}

func ids(qs []content.Question) []int64 {
	out := make([]int64, len(qs))
	for i, q := range qs {
		out[i] = q.ID
	}
	return out
}

func equal(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestResolve_DefaultOrderIsMaterializedOnce(t *testing.T) {
	f := newFixture(t, 1, content.Quiz{}, content.SingleEntry(2), content.SingleEntry(1), content.SingleEntry(8))
	ctx := context.Background()

	got, err := f.resolver.Resolve(ctx, quizID, userID, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := []int64{2, 1, 8}; !equal(ids(got), want) {
		t.Fatalf("resolved = %v, want %v", ids(got), want)
	}
	order, _ := f.repo.QuestionOrder(ctx, quizID)
	if !equal(order, []int64{2, 1, 8}) {
		t.Fatalf("stored order = %v", order)
	}

	// An explicit reorder wins; entries added later go to the end.
	if err := f.repo.SetQuestionOrder(ctx, quizID, []int64{8, 2, 1}); err != nil {
		t.Fatal(err)
	}
	if err := f.repo.AddEntry(ctx, quizID, content.SingleEntry(9)); err != nil {
		t.Fatal(err)
	}
	got, _ = f.resolver.Resolve(ctx, quizID, userID, false)
	if want := []int64{8, 2, 1, 9}; !equal(ids(got), want) {
		t.Fatalf("resolved = %v, want %v", ids(got), want)
	}
	order, _ = f.repo.QuestionOrder(ctx, quizID)
	if !equal(order, []int64{8, 2, 1}) {
		t.Fatalf("order was recomputed: %v", order)
	}
}

func TestResolve_ReplaysQuestionsAsked(t *testing.T) {
	f := newFixture(t, 2, content.Quiz{RandomizeOrder: true},
		content.SingleEntry(1), content.SingleEntry(3), content.SingleEntry(5))
	f.startLesson(t, map[string]any{activity.MetaQuestionsAsked: "3,1,5"})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		got, err := f.resolver.Resolve(ctx, quizID, userID, false)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if !equal(ids(got), []int64{3, 1, 5}) {
			t.Fatalf("attempt %d = %v, want [3 1 5]", i, ids(got))
		}
	}

	// Pool churn does not matter once pinned.
	show := 1
	_ = f.repo.PutQuiz(ctx, content.Quiz{ID: quizID, LessonID: lessonID, ShowQuestionCount: &show})
	_ = f.repo.AddEntry(ctx, quizID, content.PlaceholderEntry(900, 100, 3))
	got, _ := f.resolver.Resolve(ctx, quizID, userID, false)
	if !equal(ids(got), []int64{3, 1, 5}) {
		t.Fatalf("after churn = %v", ids(got))
	}
}

func TestResolve_ReplaySkipsDeletedQuestions(t *testing.T) {
	f := newFixture(t, 3, content.Quiz{}, content.SingleEntry(1))
	f.startLesson(t, map[string]any{activity.MetaQuestionsAsked: "404,1"})
	got, err := f.resolver.Resolve(context.Background(), quizID, userID, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !equal(ids(got), []int64{1}) {
		t.Fatalf("resolved = %v", ids(got))
	}
}

func TestResolve_CategoryExpansionHasNoDuplicates(t *testing.T) {
	for seed := int64(0); seed < 50; seed++ {
		f := newFixture(t, seed, content.Quiz{},
			content.SingleEntry(3), content.PlaceholderEntry(900, 100, 3), content.SingleEntry(4))
		got, err := f.resolver.Resolve(context.Background(), quizID, userID, false)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		seen := map[int64]bool{}
		for _, id := range ids(got) {
			if seen[id] {
				t.Fatalf("seed %d: duplicate %d in %v", seed, id, ids(got))
			}
			seen[id] = true
		}
		if len(got) != 5 || got[0].ID != 3 || got[4].ID != 4 {
			t.Fatalf("seed %d: resolved = %v", seed, ids(got))
		}
	}
}

func TestResolve_TwoPlaceholdersDrawDisjointly(t *testing.T) {
	f := newFixture(t, 4, content.Quiz{},
		content.PlaceholderEntry(900, 100, 3), content.PlaceholderEntry(901, 100, 3))
	got, err := f.resolver.Resolve(context.Background(), quizID, userID, true)
	if err != nil {
		t.Fatal(err)
	}
	// Five members in the category: the second placeholder only gets two.
	if want := []int64{3, 4, 5, 6, 7}; !equal(ids(got), want) {
		t.Fatalf("authoring expansion = %v, want %v", ids(got), want)
	}

	got, _ = f.resolver.Resolve(context.Background(), quizID, userID, false)
	if len(got) != 5 {
		t.Fatalf("random expansion = %v", ids(got))
	}
}

func TestResolve_ShowCountKeepsRelativeOrder(t *testing.T) {
	show := 3
	f := newFixture(t, 5, content.Quiz{ShowQuestionCount: &show},
		content.SingleEntry(1), content.SingleEntry(2), content.SingleEntry(8), content.SingleEntry(9), content.SingleEntry(3))
	full := []int64{1, 2, 8, 9, 3}
	for i := 0; i < 20; i++ {
		got, err := f.resolver.Resolve(context.Background(), quizID, userID, false)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != show {
			t.Fatalf("len = %d, want %d", len(got), show)
		}
		j := 0
		for _, id := range ids(got) {
			for j < len(full) && full[j] != id {
				j++
			}
			if j == len(full) {
				t.Fatalf("%v is not a subsequence of %v", ids(got), full)
			}
		}
	}
}

func TestResolve_PinsOnFirstResolution(t *testing.T) {
	show := 2
	f := newFixture(t, 6, content.Quiz{RandomizeOrder: true, ShowQuestionCount: &show},
		content.SingleEntry(1), content.SingleEntry(2), content.PlaceholderEntry(900, 100, 2))
	f.startLesson(t, nil)
	ctx := context.Background()

	first, err := f.resolver.Resolve(ctx, quizID, userID, false)
	if err != nil {
		t.Fatal(err)
	}
	rec, _ := f.store.FindRecord(ctx, lessonID, userID, activity.TypeLessonStatus)
	if pinned := rec.IDs(activity.MetaQuestionsAsked); !equal(pinned, ids(first)) {
		t.Fatalf("pinned = %v, resolved = %v", pinned, ids(first))
	}
	if rec.Status != activity.StatusInProgress {
		t.Fatalf("pinning changed status to %q", rec.Status)
	}
	for i := 0; i < 10; i++ {
		again, _ := f.resolver.Resolve(ctx, quizID, userID, false)
		if !equal(ids(again), ids(first)) {
			t.Fatalf("resolution %d = %v, want %v", i, ids(again), ids(first))
		}
	}
}

func TestResolve_NoStatusMeansNoPin(t *testing.T) {
	f := newFixture(t, 7, content.Quiz{}, content.SingleEntry(1))
	if _, err := f.resolver.Resolve(context.Background(), quizID, userID, false); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.FindRecord(context.Background(), lessonID, userID, activity.TypeLessonStatus); !errors.Is(err, activity.ErrNotFound) {
		t.Fatalf("resolve created a lesson status: %v", err)
	}
}

func TestResolve_AuthoringIsDeterministic(t *testing.T) {
	show := 1
	f := newFixture(t, 8, content.Quiz{RandomizeOrder: true, ShowQuestionCount: &show},
		content.SingleEntry(9), content.SingleEntry(4), content.PlaceholderEntry(900, 100, 2), content.SingleEntry(1))
	f.startLesson(t, map[string]any{activity.MetaQuestionsAsked: "1"})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		got, err := f.resolver.Resolve(ctx, quizID, userID, true)
		if err != nil {
			t.Fatal(err)
		}
		if want := []int64{9, 4, 3, 5, 1}; !equal(ids(got), want) {
			t.Fatalf("authoring = %v, want %v", ids(got), want)
		}
	}
	rec, _ := f.store.FindRecord(ctx, lessonID, userID, activity.TypeLessonStatus)
	if s, _ := rec.String(activity.MetaQuestionsAsked); s != "1" {
		t.Fatalf("authoring overwrote questions_asked: %q", s)
	}
}

func TestResolve_UnknownQuiz(t *testing.T) {
	f := newFixture(t, 9, content.Quiz{})
	if _, err := f.resolver.Resolve(context.Background(), 404, userID, false); !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}
