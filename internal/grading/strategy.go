package grading

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mind-engage/mindengage-progress/internal/content"
)

// Result is the outcome of grading a single answer.
type Result struct {
	Points      int      // points awarded automatically
	MaxPoints   int      // the question's configured grade
	NeedsManual bool     // an instructor must assign the grade
	Feedback    []string // hints for the instructor
}

// Strategy grades one question type.
type Strategy interface {
	Grade(ctx context.Context, q content.Question, response any) (Result, error)
}

// Grader routes by question type to the correct Strategy.
type Grader interface {
	Grade(ctx context.Context, q content.Question, response any) (Result, error)
}

type defaultGrader struct {
	strategies map[content.QuestionType]Strategy
}

func (g *defaultGrader) Grade(ctx context.Context, q content.Question, response any) (Result, error) {
	s, ok := g.strategies[q.Type]
	if !ok {
		return Result{MaxPoints: q.Grade, NeedsManual: true, Feedback: []string{"no strategy available"}}, nil
	}
	return s.Grade(ctx, q, response)
}

type Option func(*config)

type config struct {
	MaxEditDistance int // for text answer hints
}

func WithMaxEditDistance(n int) Option { return func(c *config) { c.MaxEditDistance = n } }

// NewDefaultGrader installs built-in strategies: multiple-choice and boolean
// are graded automatically, everything else waits for an instructor.
func NewDefaultGrader(opts ...Option) Grader {
	cfg := &config{MaxEditDistance: 1}
	for _, o := range opts {
		o(cfg)
	}
	hint := textHintStrategy{maxEdit: cfg.MaxEditDistance}
	return &defaultGrader{
		strategies: map[content.QuestionType]Strategy{
			content.MultipleChoice: choiceStrategy{},
			content.Boolean:        booleanStrategy{},
			content.GapFill:        hint,
			content.SingleLine:     hint,
			content.MultiLine:      manualStrategy{},
			content.FileUpload:     manualStrategy{},
		},
	}
}

// --- Strategies ---

// choiceStrategy awards full points when the normalized set of chosen
// options equals the normalized right answer set.
type choiceStrategy struct{}

func (choiceStrategy) Grade(_ context.Context, q content.Question, response any) (Result, error) {
	res := Result{MaxPoints: q.Grade}
	if len(q.RightAnswer) == 0 {
		res.NeedsManual = true
		res.Feedback = append(res.Feedback, "no right answer configured")
		return res, nil
	}
	resp, ok := toStringSlice(response)
	if !ok {
		return res, errors.New("response must be a string or list of strings")
	}
	if setEqual(toSet(q.RightAnswer), toSet(resp)) {
		res.Points = q.Grade
	}
	return res, nil
}

type booleanStrategy struct{}

func (booleanStrategy) Grade(_ context.Context, q content.Question, response any) (Result, error) {
	res := Result{MaxPoints: q.Grade}
	if len(q.RightAnswer) == 0 {
		res.NeedsManual = true
		res.Feedback = append(res.Feedback, "no right answer configured")
		return res, nil
	}
	var resp string
	switch v := response.(type) {
	case bool:
		resp = fmt.Sprint(v)
	case string:
		resp = v
	default:
		return res, errors.New("response must be a bool or string")
	}
	if normalize(resp) == normalize(q.RightAnswer[0]) {
		res.Points = q.Grade
	}
	return res, nil
}

// textHintStrategy leaves grading to an instructor but notes when the text
// matches or nearly matches a stored right answer.
type textHintStrategy struct{ maxEdit int }

func (s textHintStrategy) Grade(_ context.Context, q content.Question, response any) (Result, error) {
	res := Result{MaxPoints: q.Grade, NeedsManual: true}
	resp, ok := toStringSlice(response)
	if !ok {
		return res, errors.New("response must be a string or list of strings")
	}
	joined := normalize(strings.Join(resp, " "))
	for _, k := range q.RightAnswer {
		nk := normalize(k)
		if nk == joined {
			res.Feedback = append(res.Feedback, "matches expected answer")
			return res, nil
		}
		if s.maxEdit > 0 && withinEdits(nk, joined, s.maxEdit) {
			res.Feedback = append(res.Feedback, "close to expected answer")
			return res, nil
		}
	}
	return res, nil
}

type manualStrategy struct{}

func (manualStrategy) Grade(_ context.Context, q content.Question, _ any) (Result, error) {
	return Result{MaxPoints: q.Grade, NeedsManual: true, Feedback: []string{"manual grading required"}}, nil
}

// helpers

func toStringSlice(v any) ([]string, bool) {
	switch t := v.(type) {
	case string:
		return []string{t}, true
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// toSet normalizes and de-duplicates; blank items are dropped.
func toSet(arr []string) map[string]struct{} {
	m := make(map[string]struct{}, len(arr))
	for _, s := range arr {
		if n := normalize(s); n != "" {
			m[n] = struct{}{}
		}
	}
	return m
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
