// Package postgres is the authoritative document store: quiz definitions
// published by the authoring side, and response documents written by
// devices. Definitions live as JSONB and are handed out raw.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/domain"
)

// DocumentStore implements the remote store against Postgres.
type DocumentStore struct {
	pool *pgxpool.Pool
}

func NewDocumentStore(pool *pgxpool.Pool) *DocumentStore {
	return &DocumentStore{pool: pool}
}

func (s *DocumentStore) QuizByID(ctx context.Context, quizID string) ([]byte, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM quizzes WHERE id=$1`, quizID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrQuizNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load quiz: %w", err)
	}
	return raw, nil
}

// QuizByCode resolves a public download code. Current definitions carry the
// code in its own column; very old ones only have a "code" field inside the
// document, so that is checked as a fallback.
func (s *DocumentStore) QuizByCode(ctx context.Context, code string) ([]byte, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM quizzes WHERE public_code=$1 OR data->>'code'=$1 LIMIT 1`, code).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrQuizNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load quiz by code: %w", err)
	}
	return raw, nil
}

// CreateResponse writes a response document. An initial join document (no
// answers yet) is only accepted while the quiz window is open; a finished
// submission arriving later from an upload worker is always accepted.
func (s *DocumentStore) CreateResponse(ctx context.Context, resp domain.Response) (string, error) {
	resp.ID = uuid.NewString()
	data, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("marshal response: %w", err)
	}

	if len(resp.Answers) == 0 && resp.ClientSubmittedAt == nil {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO responses (id, quiz_id, roll_number, device_id, data)
			 SELECT $1, q.id, $3, $4, $5 FROM quizzes q
			 WHERE q.id=$2 AND now() >= q.starts_at AND now() <= q.ends_at`,
			resp.ID, resp.QuizID, resp.StudentID, resp.DeviceID, data)
		if err != nil {
			return "", fmt.Errorf("create response: %w", err)
		}
		if tag.RowsAffected() == 0 {
			if _, qerr := s.QuizByID(ctx, resp.QuizID); qerr != nil {
				return "", qerr
			}
			return "", domain.ErrWindowInactive
		}
		return resp.ID, nil
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO responses (id, quiz_id, roll_number, device_id, data)
		 VALUES ($1, $2, $3, $4, $5)`,
		resp.ID, resp.QuizID, resp.StudentID, resp.DeviceID, data); err != nil {
		return "", fmt.Errorf("create response: %w", err)
	}
	return resp.ID, nil
}

// UpdateResponse merges the given fields into the document.
func (s *DocumentStore) UpdateResponse(ctx context.Context, responseID string, fields map[string]any) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal patch: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE responses SET data = data || $2::jsonb WHERE id=$1`, responseID, patch)
	if err != nil {
		return fmt.Errorf("update response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrResponseNotFound
	}
	return nil
}

// AppendSwitchEvent appends one event to the document's event list.
func (s *DocumentStore) AppendSwitchEvent(ctx context.Context, responseID string, ev domain.SwitchEvent) error {
	event, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE responses SET data = jsonb_set(data, '{appSwitchEvents}',
			COALESCE(data->'appSwitchEvents', '[]'::jsonb) || $2::jsonb)
		 WHERE id=$1`, responseID, event)
	if err != nil {
		return fmt.Errorf("append switch event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrResponseNotFound
	}
	return nil
}

func (s *DocumentStore) ResponseByQuizAndStudent(ctx context.Context, quizID, studentID string) (domain.Response, error) {
	return s.findResponse(ctx,
		`SELECT id, data FROM responses WHERE quiz_id=$1 AND roll_number=$2 LIMIT 1`, quizID, studentID)
}

func (s *DocumentStore) ResponseByQuizAndDevice(ctx context.Context, quizID, deviceID string) (domain.Response, error) {
	return s.findResponse(ctx,
		`SELECT id, data FROM responses WHERE quiz_id=$1 AND device_id=$2 LIMIT 1`, quizID, deviceID)
}

func (s *DocumentStore) findResponse(ctx context.Context, query string, args ...any) (domain.Response, error) {
	var (
		id  string
		raw []byte
	)
	err := s.pool.QueryRow(ctx, query, args...).Scan(&id, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Response{}, domain.ErrResponseNotFound
	}
	if err != nil {
		return domain.Response{}, fmt.Errorf("find response: %w", err)
	}
	var resp domain.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.Response{}, fmt.Errorf("unmarshal response: %w", err)
	}
	resp.ID = id
	return resp, nil
}

// PublishQuiz upserts a definition document, used by the authoring side and
// by integration tests to seed quizzes.
func (s *DocumentStore) PublishQuiz(ctx context.Context, raw []byte) (domain.Quiz, error) {
	quiz, err := domain.ParseDefinition(raw)
	if err != nil {
		return domain.Quiz{}, err
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO quizzes (id, public_code, starts_at, ends_at, data)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
			public_code=excluded.public_code,
			starts_at=excluded.starts_at,
			ends_at=excluded.ends_at,
			data=excluded.data`,
		quiz.ID, quiz.PublicCode, quiz.StartsAt, quiz.EndsAt, raw); err != nil {
		return domain.Quiz{}, fmt.Errorf("publish quiz: %w", err)
	}
	return quiz, nil
}
