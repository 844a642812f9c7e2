package content

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Catalog is a YAML description of courses, lessons, quizzes and questions
// used to seed a repository.
type Catalog struct {
	Courses   []CatalogCourse   `yaml:"courses"`
	Questions []CatalogQuestion `yaml:"questions"`
}

type CatalogCourse struct {
	ID               int64           `yaml:"id"`
	Title            string          `yaml:"title"`
	CompletionPolicy string          `yaml:"completion_policy"`
	Lessons          []CatalogLesson `yaml:"lessons"`
}

type CatalogLesson struct {
	ID    int64        `yaml:"id"`
	Title string       `yaml:"title"`
	Quiz  *CatalogQuiz `yaml:"quiz"`
}

type CatalogQuiz struct {
	ID                int64          `yaml:"id"`
	PassRequired      bool           `yaml:"pass_required"`
	Passmark          int            `yaml:"passmark"`
	GradeType         string         `yaml:"grade_type"`
	RandomizeOrder    bool           `yaml:"randomize_question_order"`
	ShowQuestionCount *int           `yaml:"show_question_count"`
	Entries           []CatalogEntry `yaml:"entries"`
}

// CatalogEntry is either {question: id} or {id, category, count}.
type CatalogEntry struct {
	Question int64 `yaml:"question"`
	ID       int64 `yaml:"id"`
	Category int64 `yaml:"category"`
	Count    int   `yaml:"count"`
}

type CatalogQuestion struct {
	ID          int64    `yaml:"id"`
	Type        string   `yaml:"type"`
	Grade       int      `yaml:"grade"`
	RightAnswer []string `yaml:"right_answer"`
	Category    int64    `yaml:"category"`
	Title       string   `yaml:"title"`
}

const catalogSchema = `{
  "type": "object",
  "properties": {
    "courses": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {"type": "integer", "minimum": 1},
          "completion_policy": {"enum": ["any_time", "all_lessons_passed"]},
          "lessons": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["id"],
              "properties": {
                "id": {"type": "integer", "minimum": 1},
                "quiz": {
                  "type": "object",
                  "required": ["id"],
                  "properties": {
                    "id": {"type": "integer", "minimum": 1},
                    "passmark": {"type": "integer", "minimum": 0, "maximum": 100},
                    "grade_type": {"enum": ["auto", "manual"]},
                    "show_question_count": {"type": "integer", "minimum": 1},
                    "entries": {
                      "type": "array",
                      "items": {
                        "oneOf": [
                          {"type": "object", "required": ["question"]},
                          {"type": "object", "required": ["id", "category", "count"],
                           "properties": {"count": {"type": "integer", "minimum": 1}}}
                        ]
                      }
                    }
                  }
                }
              }
            }
          }
        }
      }
    },
    "questions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "integer", "minimum": 1},
          "type": {"enum": ["multiple-choice", "boolean", "gap-fill", "single-line", "multi-line", "file-upload"]},
          "grade": {"type": "integer", "minimum": 1},
          "right_answer": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

// LoadCatalog reads and validates a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(raw)
}

// ParseCatalog validates raw YAML against the catalog schema and decodes it.
func ParseCatalog(raw []byte) (*Catalog, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	res, err := gojsonschema.Validate(gojsonschema.NewStringLoader(catalogSchema), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("invalid catalog: %s", strings.Join(msgs, "; "))
	}

	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return &c, nil
}

// Apply writes the catalog into w. Questions go first so quiz entries can
// reference them.
func (c *Catalog) Apply(ctx context.Context, w Writer) error {
	for _, q := range c.Questions {
		grade := q.Grade
		if grade == 0 {
			grade = 1
		}
		if err := w.PutQuestion(ctx, Question{
			ID: q.ID, Type: QuestionType(q.Type), Grade: grade,
			RightAnswer: q.RightAnswer, CategoryID: q.Category, Title: q.Title,
		}); err != nil {
			return fmt.Errorf("question %d: %w", q.ID, err)
		}
	}
	for _, course := range c.Courses {
		if err := w.PutCourse(ctx, Course{
			ID: course.ID, Title: course.Title, CompletionPolicy: CompletionPolicy(course.CompletionPolicy),
		}); err != nil {
			return fmt.Errorf("course %d: %w", course.ID, err)
		}
		for pos, l := range course.Lessons {
			if err := w.PutLesson(ctx, Lesson{ID: l.ID, CourseID: course.ID, Title: l.Title, Position: pos}); err != nil {
				return fmt.Errorf("lesson %d: %w", l.ID, err)
			}
			if l.Quiz == nil {
				continue
			}
			if err := applyQuiz(ctx, w, l.ID, *l.Quiz); err != nil {
				return fmt.Errorf("lesson %d: %w", l.ID, err)
			}
		}
	}
	return nil
}

func applyQuiz(ctx context.Context, w Writer, lessonID int64, q CatalogQuiz) error {
	if err := w.PutQuiz(ctx, Quiz{
		ID: q.ID, LessonID: lessonID, PassRequired: q.PassRequired, Passmark: q.Passmark,
		GradeType: GradeType(q.GradeType), RandomizeOrder: q.RandomizeOrder,
		ShowQuestionCount: q.ShowQuestionCount,
	}); err != nil {
		return fmt.Errorf("quiz %d: %w", q.ID, err)
	}
	for _, e := range q.Entries {
		entry := SingleEntry(e.Question)
		if e.Question == 0 {
			entry = PlaceholderEntry(e.ID, e.Category, e.Count)
		}
		if err := w.AddEntry(ctx, q.ID, entry); err != nil {
			return fmt.Errorf("quiz %d entry %d: %w", q.ID, entry.ID, err)
		}
	}
	return nil
}
