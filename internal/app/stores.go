// Package app contains the device-side use cases: downloading and activating
// quizzes, running an attempt, and uploading finished submissions.
package app

import (
	"context"
	"errors"

	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/domain"
)

// LocalStore is the durable fast-access store on the device (cache records,
// pending submissions, history, saved profile).
type LocalStore interface {
	UpsertCachedQuiz(ctx context.Context, rec domain.CachedQuizRecord) error
	GetCachedQuiz(ctx context.Context, quizID string) (domain.CachedQuizRecord, error)
	GetCachedQuizByCode(ctx context.Context, code string) (domain.CachedQuizRecord, error)
	ListCachedQuizzes(ctx context.Context) ([]domain.CachedQuizRecord, error)
	InvalidateCachedQuiz(ctx context.Context, quizID string) error
	DeleteCachedQuiz(ctx context.Context, quizID string) error
	PurgeInvalidated(ctx context.Context) ([]string, error)

	EnqueueSubmission(ctx context.Context, p domain.PendingSubmission) (domain.PendingSubmission, error)
	GetPending(ctx context.Context, id int64) (domain.PendingSubmission, error)
	GetPendingByAttempt(ctx context.Context, attemptID string) (domain.PendingSubmission, error)
	ListPending(ctx context.Context, statuses ...string) ([]domain.PendingSubmission, error)
	MarkPendingStatus(ctx context.Context, id int64, status, lastError string) error
	DeletePending(ctx context.Context, id int64) error

	SaveHistory(ctx context.Context, rec domain.HistoryRecord) error
	GetHistory(ctx context.Context, quizID, studentID string) (domain.HistoryRecord, error)
	ListHistory(ctx context.Context) ([]domain.HistoryRecord, error)

	SaveProfile(ctx context.Context, p domain.StudentProfile) error
	GetProfile(ctx context.Context) (domain.StudentProfile, error)
}

// RemoteStore is the authoritative shared document store. Quiz definitions
// come back as raw bytes so every consumer goes through the same strict
// parser.
type RemoteStore interface {
	QuizByID(ctx context.Context, quizID string) ([]byte, error)
	QuizByCode(ctx context.Context, code string) ([]byte, error)

	CreateResponse(ctx context.Context, resp domain.Response) (string, error)
	UpdateResponse(ctx context.Context, responseID string, fields map[string]any) error
	AppendSwitchEvent(ctx context.Context, responseID string, ev domain.SwitchEvent) error
	ResponseByQuizAndStudent(ctx context.Context, quizID, studentID string) (domain.Response, error)
	ResponseByQuizAndDevice(ctx context.Context, quizID, deviceID string) (domain.Response, error)
}

// BlobStore keeps the downloaded raw definitions durable across restarts.
type BlobStore interface {
	Put(meta domain.BlobMeta, raw []byte) error
	Get(quizID string) ([]byte, error)
	List() ([]domain.BlobMeta, error)
	Delete(quizID string) error
}

// UploadScheduler accepts work requests for the background uploader. A
// request is a hint, not a guarantee: the scheduler may coalesce duplicates
// and defers everything until connectivity is available.
type UploadScheduler interface {
	EnqueueUpload(id int64)
	EnqueueDrain()
}

var (
	// ErrAttemptInProgress rejects starting a second attempt while one is live.
	ErrAttemptInProgress = errors.New("an attempt is already in progress")
	// ErrNoActiveAttempt is returned when an operation targets a live attempt
	// and none exists.
	ErrNoActiveAttempt = errors.New("no active attempt")
)
