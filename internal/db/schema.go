package db

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS courses (
  id INTEGER PRIMARY KEY,
  title TEXT NOT NULL DEFAULT '',
  completion_policy TEXT NOT NULL DEFAULT 'any_time'
);

CREATE TABLE IF NOT EXISTS lessons (
  id INTEGER PRIMARY KEY,
  course_id INTEGER NOT NULL DEFAULT 0, -- 0 = not assigned to a course
  title TEXT NOT NULL DEFAULT '',
  position INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS lessons_course_idx ON lessons (course_id, position);

CREATE TABLE IF NOT EXISTS quizzes (
  id INTEGER PRIMARY KEY,
  lesson_id INTEGER NOT NULL UNIQUE,
  pass_required INTEGER NOT NULL DEFAULT 0,
  passmark INTEGER NOT NULL DEFAULT 0,
  grade_type TEXT NOT NULL DEFAULT 'auto',
  randomize_order INTEGER NOT NULL DEFAULT 0,
  show_question_count INTEGER
);

CREATE TABLE IF NOT EXISTS questions (
  id INTEGER PRIMARY KEY,
  question_type TEXT NOT NULL,
  grade INTEGER NOT NULL DEFAULT 1,
  right_answer_json TEXT NOT NULL DEFAULT '[]',
  category_id INTEGER NOT NULL DEFAULT 0,
  title TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS questions_category_idx ON questions (category_id, id);

-- entry_id is a question id for single entries and a placeholder id for
-- category entries
CREATE TABLE IF NOT EXISTS quiz_entries (
  quiz_id INTEGER NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
  entry_id INTEGER NOT NULL,
  kind TEXT NOT NULL CHECK (kind IN ('question','category')),
  category_id INTEGER NOT NULL DEFAULT 0,
  draw_count INTEGER NOT NULL DEFAULT 0,
  seq INTEGER NOT NULL,
  PRIMARY KEY (quiz_id, entry_id)
);

CREATE TABLE IF NOT EXISTS quiz_question_order (
  quiz_id INTEGER NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
  position INTEGER NOT NULL,
  entry_id INTEGER NOT NULL,
  PRIMARY KEY (quiz_id, position)
);

CREATE TABLE IF NOT EXISTS activity_records (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  subject_id INTEGER NOT NULL,
  user_id INTEGER NOT NULL,
  record_type TEXT NOT NULL,
  status TEXT NOT NULL,
  meta_json TEXT NOT NULL DEFAULT '{}',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  UNIQUE (subject_id, user_id, record_type)
);

CREATE INDEX IF NOT EXISTS activity_user_type_idx ON activity_records (user_id, record_type);

CREATE TABLE IF NOT EXISTS event_log (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  event_id TEXT NOT NULL,
  typ TEXT NOT NULL,
  user_id INTEGER NOT NULL DEFAULT 0,
  subject_id INTEGER NOT NULL DEFAULT 0,
  data TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS courses (
  id BIGINT PRIMARY KEY,
  title TEXT NOT NULL DEFAULT '',
  completion_policy TEXT NOT NULL DEFAULT 'any_time'
);

CREATE TABLE IF NOT EXISTS lessons (
  id BIGINT PRIMARY KEY,
  course_id BIGINT NOT NULL DEFAULT 0,
  title TEXT NOT NULL DEFAULT '',
  position INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS lessons_course_idx ON lessons (course_id, position);

CREATE TABLE IF NOT EXISTS quizzes (
  id BIGINT PRIMARY KEY,
  lesson_id BIGINT NOT NULL UNIQUE,
  pass_required BOOLEAN NOT NULL DEFAULT FALSE,
  passmark INTEGER NOT NULL DEFAULT 0,
  grade_type TEXT NOT NULL DEFAULT 'auto',
  randomize_order BOOLEAN NOT NULL DEFAULT FALSE,
  show_question_count INTEGER
);

CREATE TABLE IF NOT EXISTS questions (
  id BIGINT PRIMARY KEY,
  question_type TEXT NOT NULL,
  grade INTEGER NOT NULL DEFAULT 1,
  right_answer_json TEXT NOT NULL DEFAULT '[]',
  category_id BIGINT NOT NULL DEFAULT 0,
  title TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS questions_category_idx ON questions (category_id, id);

CREATE TABLE IF NOT EXISTS quiz_entries (
  quiz_id BIGINT NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
  entry_id BIGINT NOT NULL,
  kind TEXT NOT NULL CHECK (kind IN ('question','category')),
  category_id BIGINT NOT NULL DEFAULT 0,
  draw_count INTEGER NOT NULL DEFAULT 0,
  seq INTEGER NOT NULL,
  PRIMARY KEY (quiz_id, entry_id)
);

CREATE TABLE IF NOT EXISTS quiz_question_order (
  quiz_id BIGINT NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
  position INTEGER NOT NULL,
  entry_id BIGINT NOT NULL,
  PRIMARY KEY (quiz_id, position)
);

CREATE TABLE IF NOT EXISTS activity_records (
  id BIGSERIAL PRIMARY KEY,
  subject_id BIGINT NOT NULL,
  user_id BIGINT NOT NULL,
  record_type TEXT NOT NULL,
  status TEXT NOT NULL,
  meta_json TEXT NOT NULL DEFAULT '{}',
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL,
  UNIQUE (subject_id, user_id, record_type)
);

CREATE INDEX IF NOT EXISTS activity_user_type_idx ON activity_records (user_id, record_type);

CREATE TABLE IF NOT EXISTS event_log (
  seq BIGSERIAL PRIMARY KEY,
  event_id TEXT NOT NULL,
  typ TEXT NOT NULL,
  user_id BIGINT NOT NULL DEFAULT 0,
  subject_id BIGINT NOT NULL DEFAULT 0,
  data TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
`
