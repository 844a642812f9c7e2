package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// SQLSink appends events to the event_log table.
type SQLSink struct{ db *sql.DB }

func NewSQLSink(db *sql.DB) *SQLSink { return &SQLSink{db: db} }

func (s *SQLSink) Emit(ctx context.Context, e Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO event_log (event_id, typ, user_id, subject_id, data, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ID, e.Type, e.UserID, e.SubjectID, string(data), e.At.Unix())
	return err
}

// Logged is a persisted event with its log sequence number.
type Logged struct {
	Seq int64 `json:"seq"`
	Event
}

// Since returns up to limit events with seq > after, oldest first.
func (s *SQLSink) Since(ctx context.Context, after int64, limit int) ([]Logged, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, event_id, typ, user_id, subject_id, data, created_at
		   FROM event_log WHERE seq > $1 ORDER BY seq LIMIT $2`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Logged
	for rows.Next() {
		var (
			l    Logged
			data string
			at   int64
		)
		if err := rows.Scan(&l.Seq, &l.ID, &l.Type, &l.UserID, &l.SubjectID, &data, &at); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &l.Data); err != nil {
			return nil, err
		}
		l.At = time.Unix(at, 0).UTC()
		out = append(out, l)
	}
	return out, rows.Err()
}
