package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mind-engage/mindengage-progress/internal/db"
)

// SQLStore keeps records in activity_records. The table's unique key on
// (subject_id, user_id, record_type) plus ON CONFLICT writes rules out
// duplicates across processes; the per-key lock keeps metadata merges from
// interleaving inside one process.
type SQLStore struct {
	db    *sql.DB
	now   func() time.Time
	locks keyedMutex
}

func NewSQLStore(h *sql.DB, now func() time.Time) *SQLStore {
	if now == nil {
		now = time.Now
	}
	return &SQLStore{db: h, now: now}
}

const recordColumns = `id,subject_id,user_id,record_type,status,meta_json,created_at,updated_at`

func (s *SQLStore) FindRecord(ctx context.Context, subjectID, userID int64, typ RecordType) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM activity_records
		 WHERE subject_id=$1 AND user_id=$2 AND record_type=$3`,
		subjectID, userID, string(typ))
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

func (s *SQLStore) UpsertRecord(ctx context.Context, u Upsert) (int64, error) {
	if u.Type == "" {
		return 0, errors.New("activity: record type required")
	}
	k := recordKey{u.SubjectID, u.UserID, u.Type}
	s.locks.Lock(k)
	defer s.locks.Unlock(k)

	var id int64
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		now := s.now().UTC().Unix()
		status := u.Status
		createdAt := now
		meta := map[string]any{}

		row := tx.QueryRowContext(ctx,
			`SELECT `+recordColumns+` FROM activity_records
			 WHERE subject_id=$1 AND user_id=$2 AND record_type=$3`,
			u.SubjectID, u.UserID, string(u.Type))
		existing, err := scanRecord(row)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if status == "" {
				return errors.New("activity: status required on create")
			}
		case err != nil:
			return err
		default:
			meta = existing.Meta
			if status == "" {
				status = existing.Status
			}
			if !u.RefreshTimestamp {
				createdAt = existing.CreatedAt.Unix()
			}
		}

		buf, err := json.Marshal(applyPatch(meta, u.Patch))
		if err != nil {
			return fmt.Errorf("activity: encode meta: %w", err)
		}
		return tx.QueryRowContext(ctx,
			`INSERT INTO activity_records (subject_id,user_id,record_type,status,meta_json,created_at,updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)
			 ON CONFLICT (subject_id,user_id,record_type) DO UPDATE SET
			   status=EXCLUDED.status, meta_json=EXCLUDED.meta_json,
			   created_at=EXCLUDED.created_at, updated_at=EXCLUDED.updated_at
			 RETURNING id`,
			u.SubjectID, u.UserID, string(u.Type), string(status), string(buf), createdAt, now,
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("activity: upsert %s %d/%d: %w", u.Type, u.SubjectID, u.UserID, err)
	}
	return id, nil
}

func (s *SQLStore) QueryRecords(ctx context.Context, f Filter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("record_type=$%d", len(args)))
	}
	if f.UserID != 0 {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id=$%d", len(args)))
	}
	if len(f.SubjectIDs) > 0 {
		where = append(where, "subject_id IN ("+db.Placeholders(len(args)+1, len(f.SubjectIDs))+")")
		for _, id := range f.SubjectIDs {
			args = append(args, id)
		}
	}
	if len(f.StatusIn) > 0 {
		where = append(where, "status IN ("+db.Placeholders(len(args)+1, len(f.StatusIn))+")")
		for _, st := range f.StatusIn {
			args = append(args, string(st))
		}
	}
	q := `SELECT ` + recordColumns + ` FROM activity_records`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("activity: query: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteRecord(ctx context.Context, subjectID, userID int64, typ RecordType) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM activity_records WHERE subject_id=$1 AND user_id=$2 AND record_type=$3`,
		subjectID, userID, string(typ))
	if err != nil {
		return fmt.Errorf("activity: delete: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		r                  Record
		typ, status, mjson string
		created, updated   int64
	)
	if err := sc.Scan(&r.ID, &r.SubjectID, &r.UserID, &typ, &status, &mjson, &created, &updated); err != nil {
		return Record{}, err
	}
	r.Type = RecordType(typ)
	r.Status = Status(status)
	r.CreatedAt = time.Unix(created, 0).UTC()
	r.UpdatedAt = time.Unix(updated, 0).UTC()
	if err := json.Unmarshal([]byte(mjson), &r.Meta); err != nil || r.Meta == nil {
		r.Meta = map[string]any{}
	}
	return r, nil
}

// keyedMutex hands out one mutex per record key and drops it once no
// goroutine holds or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[recordKey]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key recordKey) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[recordKey]*refMutex{}
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()
	m.Lock()
}

func (k *keyedMutex) Unlock(key recordKey) {
	k.mu.Lock()
	m := k.locks[key]
	m.refs--
	if m.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
	m.Unlock()
}
