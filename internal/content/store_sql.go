package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mind-engage/mindengage-progress/internal/db"
)

// SQLRepo reads and seeds content tables on sqlite or postgres.
type SQLRepo struct {
	db *sql.DB
}

func NewSQLRepo(h *sql.DB) *SQLRepo { return &SQLRepo{db: h} }

func (s *SQLRepo) PutCourse(ctx context.Context, c Course) error {
	if c.CompletionPolicy == "" {
		c.CompletionPolicy = AnyTime
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO courses (id,title,completion_policy) VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, completion_policy=EXCLUDED.completion_policy`,
		c.ID, c.Title, string(c.CompletionPolicy))
	return err
}

func (s *SQLRepo) PutLesson(ctx context.Context, l Lesson) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO lessons (id,course_id,title,position) VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET course_id=EXCLUDED.course_id, title=EXCLUDED.title, position=EXCLUDED.position`,
		l.ID, l.CourseID, l.Title, l.Position)
	return err
}

func (s *SQLRepo) PutQuiz(ctx context.Context, q Quiz) error {
	if q.GradeType == "" {
		q.GradeType = GradeAuto
	}
	var show sql.NullInt64
	if q.ShowQuestionCount != nil {
		show = sql.NullInt64{Int64: int64(*q.ShowQuestionCount), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO quizzes (id,lesson_id,pass_required,passmark,grade_type,randomize_order,show_question_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET lesson_id=EXCLUDED.lesson_id, pass_required=EXCLUDED.pass_required,
		  passmark=EXCLUDED.passmark, grade_type=EXCLUDED.grade_type, randomize_order=EXCLUDED.randomize_order,
		  show_question_count=EXCLUDED.show_question_count`,
		q.ID, q.LessonID, q.PassRequired, q.Passmark, string(q.GradeType), q.RandomizeOrder, show)
	return err
}

func (s *SQLRepo) PutQuestion(ctx context.Context, q Question) error {
	if !q.Type.Valid() {
		return fmt.Errorf("content: question %d: unknown type %q", q.ID, q.Type)
	}
	if q.RightAnswer == nil {
		q.RightAnswer = []string{}
	}
	ra, err := json.Marshal(q.RightAnswer)
	if err != nil {
		return err
	}
	created := q.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO questions (id,question_type,grade,right_answer_json,category_id,title,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET question_type=EXCLUDED.question_type, grade=EXCLUDED.grade,
		  right_answer_json=EXCLUDED.right_answer_json, category_id=EXCLUDED.category_id, title=EXCLUDED.title`,
		q.ID, string(q.Type), q.Grade, string(ra), q.CategoryID, q.Title, created.Unix())
	return err
}

func (s *SQLRepo) AddEntry(ctx context.Context, quizID int64, e Entry) error {
	if e.Kind == "" {
		e.Kind = EntryQuestion
	}
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM quizzes WHERE id=$1`, quizID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("content: quiz %d: %w", quizID, ErrNotFound)
			}
			return err
		}
		var kind string
		err := tx.QueryRowContext(ctx, `SELECT kind FROM quiz_entries WHERE quiz_id=$1 AND entry_id=$2`,
			quizID, e.ID).Scan(&kind)
		switch {
		case err == nil && EntryKind(kind) != e.Kind:
			return fmt.Errorf("quiz %d entry %d is a %s: %w", quizID, e.ID, kind, ErrEntryConflict)
		case err == nil:
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
		var seq int
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM quiz_entries WHERE quiz_id=$1`, quizID).Scan(&seq); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO quiz_entries (quiz_id,entry_id,kind,category_id,draw_count,seq)
			VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (quiz_id,entry_id) DO NOTHING`,
			quizID, e.ID, string(e.Kind), e.CategoryID, e.Count, seq)
		return err
	})
}

func (s *SQLRepo) Course(ctx context.Context, id int64) (Course, error) {
	var (
		c      Course
		policy string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id,title,completion_policy FROM courses WHERE id=$1`, id).
		Scan(&c.ID, &c.Title, &policy)
	if errors.Is(err, sql.ErrNoRows) {
		return Course{}, fmt.Errorf("course %d: %w", id, ErrNotFound)
	}
	c.CompletionPolicy = CompletionPolicy(policy)
	return c, err
}

func (s *SQLRepo) Lesson(ctx context.Context, id int64) (Lesson, error) {
	var l Lesson
	err := s.db.QueryRowContext(ctx, `SELECT l.id, l.course_id, l.title, l.position,
		  EXISTS (SELECT 1 FROM quiz_entries e JOIN quizzes q ON q.id=e.quiz_id WHERE q.lesson_id=l.id)
		FROM lessons l WHERE l.id=$1`, id).
		Scan(&l.ID, &l.CourseID, &l.Title, &l.Position, &l.HasQuestions)
	if errors.Is(err, sql.ErrNoRows) {
		return Lesson{}, fmt.Errorf("lesson %d: %w", id, ErrNotFound)
	}
	return l, err
}

func (s *SQLRepo) Quiz(ctx context.Context, id int64) (Quiz, error) {
	var (
		q     Quiz
		grade string
		show  sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id,lesson_id,pass_required,passmark,grade_type,randomize_order,show_question_count
		FROM quizzes WHERE id=$1`, id).
		Scan(&q.ID, &q.LessonID, &q.PassRequired, &q.Passmark, &grade, &q.RandomizeOrder, &show)
	if errors.Is(err, sql.ErrNoRows) {
		return Quiz{}, fmt.Errorf("quiz %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Quiz{}, err
	}
	q.GradeType = GradeType(grade)
	if show.Valid {
		n := int(show.Int64)
		q.ShowQuestionCount = &n
	}
	return q, nil
}

func (s *SQLRepo) LessonsOfCourse(ctx context.Context, courseID int64) ([]int64, error) {
	if _, err := s.Course(ctx, courseID); err != nil {
		return nil, err
	}
	return s.ids(ctx, `SELECT id FROM lessons WHERE course_id=$1 ORDER BY position, id`, courseID)
}

func (s *SQLRepo) QuizOfLesson(ctx context.Context, lessonID int64) (int64, bool, error) {
	if _, err := s.Lesson(ctx, lessonID); err != nil {
		return 0, false, err
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM quizzes WHERE lesson_id=$1`, lessonID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *SQLRepo) QuestionsOfQuiz(ctx context.Context, quizID int64) ([]Entry, error) {
	if _, err := s.Quiz(ctx, quizID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT entry_id,kind,category_id,draw_count FROM quiz_entries
		WHERE quiz_id=$1 ORDER BY seq`, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			kind string
		)
		if err := rows.Scan(&e.ID, &kind, &e.CategoryID, &e.Count); err != nil {
			return nil, err
		}
		e.Kind = EntryKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLRepo) QuestionMetadata(ctx context.Context, questionID int64) (Question, error) {
	var (
		q            Question
		typ, ra      string
		createdAtSec int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id,question_type,grade,right_answer_json,category_id,title,created_at
		FROM questions WHERE id=$1`, questionID).
		Scan(&q.ID, &typ, &q.Grade, &ra, &q.CategoryID, &q.Title, &createdAtSec)
	if errors.Is(err, sql.ErrNoRows) {
		return Question{}, fmt.Errorf("question %d: %w", questionID, ErrNotFound)
	}
	if err != nil {
		return Question{}, err
	}
	q.Type = QuestionType(typ)
	q.CreatedAt = time.Unix(createdAtSec, 0).UTC()
	if err := json.Unmarshal([]byte(ra), &q.RightAnswer); err != nil {
		return Question{}, fmt.Errorf("question %d: decode right answer: %w", questionID, err)
	}
	return q, nil
}

func (s *SQLRepo) QuestionOrder(ctx context.Context, quizID int64) ([]int64, error) {
	return s.ids(ctx, `SELECT entry_id FROM quiz_question_order WHERE quiz_id=$1 ORDER BY position`, quizID)
}

func (s *SQLRepo) SetQuestionOrder(ctx context.Context, quizID int64, order []int64) error {
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM quiz_question_order WHERE quiz_id=$1`, quizID); err != nil {
			return err
		}
		for i, id := range order {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO quiz_question_order (quiz_id,position,entry_id) VALUES ($1,$2,$3)`,
				quizID, i, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLRepo) QuestionsInCategory(ctx context.Context, categoryID int64) ([]int64, error) {
	if categoryID == 0 {
		return nil, nil
	}
	return s.ids(ctx, `SELECT id FROM questions WHERE category_id=$1 ORDER BY id`, categoryID)
}

func (s *SQLRepo) RandomQuestionsInCategory(ctx context.Context, categoryID int64, count int, exclude []int64) ([]int64, error) {
	if count <= 0 || categoryID == 0 {
		return nil, nil
	}
	args := []any{categoryID}
	q := `SELECT id FROM questions WHERE category_id=$1`
	if len(exclude) > 0 {
		q += ` AND id NOT IN (` + db.Placeholders(2, len(exclude)) + `)`
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	args = append(args, count)
	q += fmt.Sprintf(` ORDER BY RANDOM() LIMIT $%d`, len(args))
	return s.ids(ctx, q, args...)
}

func (s *SQLRepo) ids(ctx context.Context, q string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
