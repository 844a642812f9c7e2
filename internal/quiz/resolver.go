// Package quiz resolves the concrete question list a user sees for a quiz.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/mind-engage/mindengage-progress/internal/activity"
	"github.com/mind-engage/mindengage-progress/internal/content"
)

// Resolver is safe for concurrent use.
type Resolver struct {
	content content.Repository
	store   activity.Store
	log     *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

type Option func(*Resolver)

func WithRand(r *rand.Rand) Option     { return func(x *Resolver) { x.rng = r } }
func WithLogger(l *slog.Logger) Option { return func(x *Resolver) { x.log = l } }

func NewResolver(repo content.Repository, store activity.Store, opts ...Option) *Resolver {
	r := &Resolver{content: repo, store: store, log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return r
}

// Resolve returns the ordered questions for userID on quizID.
//
// Outside an authoring context a user who was already asked questions gets
// exactly that list again. Otherwise placeholders are expanded without
// duplicates and the optional show count is applied; the result is pinned
// on the lesson status when the user has one. Authoring never randomizes,
// truncates or pins.
func (r *Resolver) Resolve(ctx context.Context, quizID, userID int64, authoring bool) ([]content.Question, error) {
	q, err := r.content.Quiz(ctx, quizID)
	if err != nil {
		return nil, err
	}

	var (
		status    activity.Record
		hasStatus bool
	)
	if !authoring {
		status, err = r.store.FindRecord(ctx, q.LessonID, userID, activity.TypeLessonStatus)
		switch {
		case err == nil:
			hasStatus = true
		case !errors.Is(err, activity.ErrNotFound):
			return nil, err
		}
		if asked := status.IDs(activity.MetaQuestionsAsked); hasStatus && len(asked) > 0 {
			return r.load(ctx, quizID, asked)
		}
	}

	entries, err := r.orderedEntries(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if q.RandomizeOrder && !authoring {
		r.shuffle(len(entries), func(i, j int) { entries[i], entries[j] = entries[j], entries[i] })
	}

	ids, err := r.expand(ctx, entries, authoring)
	if err != nil {
		return nil, err
	}
	if q.ShowQuestionCount != nil && !authoring {
		ids = r.subset(ids, *q.ShowQuestionCount)
	}

	questions, err := r.load(ctx, quizID, ids)
	if err != nil {
		return nil, err
	}
	if hasStatus {
		pinned := make([]int64, len(questions))
		for i, qq := range questions {
			pinned[i] = qq.ID
		}
		if _, err := r.store.UpsertRecord(ctx, activity.Upsert{
			SubjectID: q.LessonID,
			UserID:    userID,
			Type:      activity.TypeLessonStatus,
			Patch:     map[string]any{activity.MetaQuestionsAsked: activity.JoinIDs(pinned)},
		}); err != nil {
			return nil, fmt.Errorf("pin questions for quiz %d: %w", quizID, err)
		}
	}
	return questions, nil
}

// orderedEntries sorts the quiz entries by the stored order list, creating
// the default list on first use. Entries missing from the list keep
// creation order at the end.
func (r *Resolver) orderedEntries(ctx context.Context, quizID int64) ([]content.Entry, error) {
	entries, err := r.content.QuestionsOfQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	order, err := r.content.QuestionOrder(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if len(order) == 0 && len(entries) > 0 {
		order = make([]int64, len(entries))
		for i, en := range entries {
			order[i] = en.ID
		}
		if err := r.content.SetQuestionOrder(ctx, quizID, order); err != nil {
			return nil, fmt.Errorf("default order for quiz %d: %w", quizID, err)
		}
	}

	pos := make(map[int64]int, len(order))
	for i, id := range order {
		if _, dup := pos[id]; !dup {
			pos[id] = i
		}
	}
	rank := func(en content.Entry) int {
		if p, ok := pos[en.ID]; ok {
			return p
		}
		return len(order)
	}
	sort.SliceStable(entries, func(i, j int) bool { return rank(entries[i]) < rank(entries[j]) })
	return entries, nil
}

// expand replaces placeholders in place with category members, never
// repeating an id already in the set.
func (r *Resolver) expand(ctx context.Context, entries []content.Entry, authoring bool) ([]int64, error) {
	present := make(map[int64]struct{}, len(entries))
	for _, en := range entries {
		if !en.IsPlaceholder() {
			present[en.ID] = struct{}{}
		}
	}

	var ids []int64
	for _, en := range entries {
		if !en.IsPlaceholder() {
			ids = append(ids, en.ID)
			continue
		}
		exclude := make([]int64, 0, len(present))
		for id := range present {
			exclude = append(exclude, id)
		}
		sort.Slice(exclude, func(i, j int) bool { return exclude[i] < exclude[j] })

		var drawn []int64
		if authoring {
			members, err := r.content.QuestionsInCategory(ctx, en.CategoryID)
			if err != nil {
				return nil, err
			}
			for _, id := range members {
				if len(drawn) == en.Count {
					break
				}
				if _, ok := present[id]; !ok {
					drawn = append(drawn, id)
				}
			}
		} else {
			var err error
			drawn, err = r.content.RandomQuestionsInCategory(ctx, en.CategoryID, en.Count, exclude)
			if err != nil {
				return nil, err
			}
		}
		if len(drawn) < en.Count {
			r.log.Debug("category short of questions", "category_id", en.CategoryID, "want", en.Count, "got", len(drawn))
		}
		for _, id := range drawn {
			if _, ok := present[id]; ok {
				continue
			}
			present[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// subset keeps n ids chosen uniformly, in their existing relative order.
func (r *Resolver) subset(ids []int64, n int) []int64 {
	if n <= 0 || n >= len(ids) {
		return ids
	}
	r.mu.Lock()
	picks := r.rng.Perm(len(ids))[:n]
	r.mu.Unlock()
	sort.Ints(picks)
	out := make([]int64, n)
	for i, p := range picks {
		out[i] = ids[p]
	}
	return out
}

func (r *Resolver) shuffle(n int, swap func(i, j int)) {
	r.mu.Lock()
	r.rng.Shuffle(n, swap)
	r.mu.Unlock()
}

// load fetches question metadata in order, skipping questions that no
// longer exist.
func (r *Resolver) load(ctx context.Context, quizID int64, ids []int64) ([]content.Question, error) {
	out := make([]content.Question, 0, len(ids))
	for _, id := range ids {
		q, err := r.content.QuestionMetadata(ctx, id)
		if errors.Is(err, content.ErrNotFound) {
			r.log.Warn("skipping missing question", "quiz_id", quizID, "question_id", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}
