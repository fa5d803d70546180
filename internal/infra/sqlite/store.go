// Package sqlite is the device-local fast-access store: cached quiz records,
// the pending submission queue, attempt history and the student profile.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite" // driver: sqlite

	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS cached_quizzes (
	quiz_id        TEXT PRIMARY KEY,
	public_code    TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	raw_definition TEXT NOT NULL,
	starts_at      INTEGER NOT NULL DEFAULT 0,
	ends_at        INTEGER NOT NULL DEFAULT 0,
	anchor_ticks   INTEGER NOT NULL DEFAULT 0,
	invalidated    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cached_quizzes_code ON cached_quizzes(public_code);

CREATE TABLE IF NOT EXISTS pending_submissions (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	attempt_id        TEXT NOT NULL,
	quiz_id           TEXT NOT NULL,
	student_id        TEXT NOT NULL,
	student_info_json TEXT NOT NULL DEFAULT '{}',
	answers_json      TEXT NOT NULL DEFAULT '[]',
	flagged           INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT 'pending',
	last_error        TEXT NOT NULL DEFAULT '',
	created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_attempt ON pending_submissions(attempt_id);

CREATE TABLE IF NOT EXISTS local_history (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	quiz_id      TEXT NOT NULL,
	quiz_title   TEXT NOT NULL DEFAULT '',
	student_id   TEXT NOT NULL,
	score        REAL,
	submitted_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_history_once ON local_history(quiz_id, student_id);

CREATE TABLE IF NOT EXISTS student_profile (
	student_id TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	section    TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
`

// Store wraps the local sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the local database and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = "file:cheatcrusher.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already opened database; the caller owns its lifecycle.
func NewWithDB(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// --- cached quizzes ---

// UpsertCachedQuiz replaces the record for the quiz id wholesale.
func (s *Store) UpsertCachedQuiz(ctx context.Context, rec domain.CachedQuizRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO cached_quizzes
		(quiz_id, public_code, title, raw_definition, starts_at, ends_at, anchor_ticks, invalidated)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(quiz_id) DO UPDATE SET
			public_code=excluded.public_code,
			title=excluded.title,
			raw_definition=excluded.raw_definition,
			starts_at=excluded.starts_at,
			ends_at=excluded.ends_at,
			anchor_ticks=excluded.anchor_ticks,
			invalidated=excluded.invalidated`,
		rec.QuizID, rec.PublicCode, rec.Title, rec.RawDefinition,
		rec.StartsAt.Unix(), rec.EndsAt.Unix(), int64(rec.AnchorTicks), boolToInt(rec.Invalidated))
	return err
}

func (s *Store) GetCachedQuiz(ctx context.Context, quizID string) (domain.CachedQuizRecord, error) {
	return s.scanCachedQuiz(s.db.QueryRowContext(ctx,
		`SELECT quiz_id, public_code, title, raw_definition, starts_at, ends_at, anchor_ticks, invalidated
		 FROM cached_quizzes WHERE quiz_id = ?`, quizID))
}

func (s *Store) GetCachedQuizByCode(ctx context.Context, code string) (domain.CachedQuizRecord, error) {
	return s.scanCachedQuiz(s.db.QueryRowContext(ctx,
		`SELECT quiz_id, public_code, title, raw_definition, starts_at, ends_at, anchor_ticks, invalidated
		 FROM cached_quizzes WHERE public_code = ? LIMIT 1`, code))
}

// ListCachedQuizzes returns non-invalidated records ordered by start time.
func (s *Store) ListCachedQuizzes(ctx context.Context) ([]domain.CachedQuizRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT quiz_id, public_code, title, raw_definition, starts_at, ends_at, anchor_ticks, invalidated
		 FROM cached_quizzes WHERE invalidated = 0 ORDER BY starts_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CachedQuizRecord
	for rows.Next() {
		rec, err := s.scanCachedQuiz(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// InvalidateCachedQuiz flags a record untrusted without deleting its data, so
// later retry logic can tell "downloaded but untrusted" from "never downloaded".
func (s *Store) InvalidateCachedQuiz(ctx context.Context, quizID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE cached_quizzes SET invalidated = 1 WHERE quiz_id = ?`, quizID)
	return err
}

func (s *Store) DeleteCachedQuiz(ctx context.Context, quizID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cached_quizzes WHERE quiz_id = ?`, quizID)
	return err
}

// PurgeInvalidated removes every invalidated record and reports which quiz
// ids were dropped, so the caller can clean up the matching blobs.
func (s *Store) PurgeInvalidated(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT quiz_id FROM cached_quizzes WHERE invalidated = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cached_quizzes WHERE invalidated = 1`); err != nil {
		return nil, err
	}
	return ids, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func (s *Store) scanCachedQuiz(row rowScanner) (domain.CachedQuizRecord, error) {
	var rec domain.CachedQuizRecord
	var starts, ends, ticks int64
	var invalidated int
	err := row.Scan(&rec.QuizID, &rec.PublicCode, &rec.Title, &rec.RawDefinition,
		&starts, &ends, &ticks, &invalidated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CachedQuizRecord{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.CachedQuizRecord{}, err
	}
	rec.StartsAt = time.Unix(starts, 0).UTC()
	rec.EndsAt = time.Unix(ends, 0).UTC()
	rec.AnchorTicks = time.Duration(ticks)
	rec.Invalidated = invalidated != 0
	return rec, nil
}

// --- pending submissions ---

// EnqueueSubmission inserts a pending submission. When a row for the same
// attempt id is already pending or uploading, that row is returned unchanged
// (guards against double-tap submits).
func (s *Store) EnqueueSubmission(ctx context.Context, p domain.PendingSubmission) (domain.PendingSubmission, error) {
	existing, err := s.GetPendingByAttempt(ctx, p.AttemptID)
	if err == nil && (existing.Status == domain.UploadPending || existing.Status == domain.UploadUploading) {
		return existing, nil
	}
	if err != nil && !errors.Is(err, domain.ErrPendingNotFound) {
		return domain.PendingSubmission{}, err
	}

	if p.Status == "" {
		p.Status = domain.UploadPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO pending_submissions
		(attempt_id, quiz_id, student_id, student_info_json, answers_json, flagged, status, last_error, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		p.AttemptID, p.QuizID, p.StudentID, p.StudentInfoJSON, p.AnswersJSON,
		boolToInt(p.Flagged), p.Status, p.LastError, p.CreatedAt.Unix())
	if err != nil {
		return domain.PendingSubmission{}, err
	}
	p.ID, err = res.LastInsertId()
	return p, err
}

func (s *Store) GetPending(ctx context.Context, id int64) (domain.PendingSubmission, error) {
	return s.scanPending(s.db.QueryRowContext(ctx,
		`SELECT id, attempt_id, quiz_id, student_id, student_info_json, answers_json, flagged, status, last_error, created_at
		 FROM pending_submissions WHERE id = ?`, id))
}

func (s *Store) GetPendingByAttempt(ctx context.Context, attemptID string) (domain.PendingSubmission, error) {
	return s.scanPending(s.db.QueryRowContext(ctx,
		`SELECT id, attempt_id, quiz_id, student_id, student_info_json, answers_json, flagged, status, last_error, created_at
		 FROM pending_submissions WHERE attempt_id = ? ORDER BY id DESC LIMIT 1`, attemptID))
}

// ListPending returns queue items with any of the given statuses, oldest first.
func (s *Store) ListPending(ctx context.Context, statuses ...string) ([]domain.PendingSubmission, error) {
	if len(statuses) == 0 {
		statuses = []string{domain.UploadPending}
	}
	query := `SELECT id, attempt_id, quiz_id, student_id, student_info_json, answers_json, flagged, status, last_error, created_at
		FROM pending_submissions WHERE status IN (?` // expanded below
	args := []any{statuses[0]}
	for _, st := range statuses[1:] {
		query += ",?"
		args = append(args, st)
	}
	query += ") ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PendingSubmission
	for rows.Next() {
		p, err := s.scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) MarkPendingStatus(ctx context.Context, id int64, status, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pending_submissions SET status = ?, last_error = ? WHERE id = ?`, status, lastError, id)
	return err
}

func (s *Store) UpdatePendingStudentInfo(ctx context.Context, id int64, studentInfoJSON string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pending_submissions SET student_info_json = ? WHERE id = ?`, studentInfoJSON, id)
	return err
}

func (s *Store) DeletePending(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_submissions WHERE id = ?`, id)
	return err
}

func (s *Store) scanPending(row rowScanner) (domain.PendingSubmission, error) {
	var p domain.PendingSubmission
	var flagged int
	var created int64
	err := row.Scan(&p.ID, &p.AttemptID, &p.QuizID, &p.StudentID, &p.StudentInfoJSON,
		&p.AnswersJSON, &flagged, &p.Status, &p.LastError, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PendingSubmission{}, domain.ErrPendingNotFound
	}
	if err != nil {
		return domain.PendingSubmission{}, err
	}
	p.Flagged = flagged != 0
	p.CreatedAt = time.Unix(created, 0).UTC()
	return p, nil
}

// --- attempt history ---

// SaveHistory writes the terminal history record. The unique index makes the
// write idempotent: a second upload for the same (quiz, student) is a no-op.
func (s *Store) SaveHistory(ctx context.Context, rec domain.HistoryRecord) error {
	var score any
	if rec.Score != nil {
		score = *rec.Score
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO local_history
		(quiz_id, quiz_title, student_id, score, submitted_at) VALUES (?,?,?,?,?)`,
		rec.QuizID, rec.QuizTitle, rec.StudentID, score, rec.SubmittedAt.Unix())
	return err
}

func (s *Store) GetHistory(ctx context.Context, quizID, studentID string) (domain.HistoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT quiz_id, quiz_title, student_id, score, submitted_at
		 FROM local_history WHERE quiz_id = ? AND student_id = ? LIMIT 1`, quizID, studentID)
	return scanHistory(row)
}

func (s *Store) ListHistory(ctx context.Context) ([]domain.HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT quiz_id, quiz_title, student_id, score, submitted_at
		 FROM local_history ORDER BY submitted_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.HistoryRecord
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanHistory(row rowScanner) (domain.HistoryRecord, error) {
	var rec domain.HistoryRecord
	var score sql.NullFloat64
	var submitted int64
	err := row.Scan(&rec.QuizID, &rec.QuizTitle, &rec.StudentID, &score, &submitted)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.HistoryRecord{}, domain.ErrResponseNotFound
	}
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	if score.Valid {
		v := score.Float64
		rec.Score = &v
	}
	rec.SubmittedAt = time.Unix(submitted, 0).UTC()
	return rec, nil
}

// --- student profile ---

func (s *Store) SaveProfile(ctx context.Context, p domain.StudentProfile) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO student_profile
		(student_id, name, email, section, created_at) VALUES (?,?,?,?,?)
		ON CONFLICT(student_id) DO UPDATE SET
			name=excluded.name, email=excluded.email, section=excluded.section`,
		p.StudentID, p.Name, p.Email, p.Section, time.Now().Unix())
	return err
}

func (s *Store) GetProfile(ctx context.Context) (domain.StudentProfile, error) {
	var p domain.StudentProfile
	err := s.db.QueryRowContext(ctx,
		`SELECT student_id, name, email, section FROM student_profile LIMIT 1`).
		Scan(&p.StudentID, &p.Name, &p.Email, &p.Section)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StudentProfile{}, domain.ErrResponseNotFound
	}
	return p, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
