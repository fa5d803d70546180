package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/domain"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/scoring"
)

// UploadWorker drains the durable submission queue. Every upload re-fetches
// the definition and recomputes the score at upload time, so a stale queued
// item can never carry a stale grade. Concurrent triggers for the same item
// collapse into one execution.
type UploadWorker struct {
	local  LocalStore
	remote RemoteStore
	log    *zap.Logger

	group   singleflight.Group
	wallNow func() time.Time
}

func NewUploadWorker(local LocalStore, remote RemoteStore, log *zap.Logger) *UploadWorker {
	return &UploadWorker{local: local, remote: remote, log: log, wallNow: time.Now}
}

// ProcessOne uploads a single queued submission. A missing item is a benign
// no-op: someone else already finished it.
func (w *UploadWorker) ProcessOne(ctx context.Context, id int64) error {
	_, err, _ := w.group.Do(fmt.Sprintf("submission:%d", id), func() (any, error) {
		return nil, w.process(ctx, id)
	})
	return err
}

// DrainAll processes every queued item, including those stuck in uploading
// after a crash. Items fail independently: one bad submission never blocks
// the rest of the batch.
func (w *UploadWorker) DrainAll(ctx context.Context) error {
	_, err, _ := w.group.Do("drain", func() (any, error) {
		items, err := w.local.ListPending(ctx, domain.UploadPending, domain.UploadUploading, domain.UploadFailed)
		if err != nil {
			return nil, err
		}
		var failed int
		for _, item := range items {
			if err := w.process(ctx, item.ID); err != nil {
				failed++
				w.log.Warn("upload failed", zap.Int64("id", item.ID), zap.Error(err))
			}
		}
		if failed > 0 {
			return nil, fmt.Errorf("%d of %d uploads failed", failed, len(items))
		}
		return nil, nil
	})
	return err
}

func (w *UploadWorker) process(ctx context.Context, id int64) error {
	item, err := w.local.GetPending(ctx, id)
	if errors.Is(err, domain.ErrPendingNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := w.local.MarkPendingStatus(ctx, id, domain.UploadUploading, ""); err != nil {
		return err
	}

	quiz, err := w.fetchQuiz(ctx, item.QuizID)
	if err != nil {
		return w.fail(ctx, id, err)
	}

	var answers []domain.Answer
	if err := json.Unmarshal([]byte(item.AnswersJSON), &answers); err != nil {
		return w.fail(ctx, id, fmt.Errorf("decode answers: %w", err))
	}
	var info map[string]string
	if item.StudentInfoJSON != "" {
		if err := json.Unmarshal([]byte(item.StudentInfoJSON), &info); err != nil {
			return w.fail(ctx, id, fmt.Errorf("decode student info: %w", err))
		}
	}
	if !quiz.RequiredFieldsPresent(info) {
		return w.fail(ctx, id, domain.ErrRequiredDetailsMissing)
	}

	score := scoring.Score(quiz, answers)
	submittedAt := item.CreatedAt
	uploadedAt := w.wallNow()
	status := domain.GradeAuto
	if hasTextQuestion(quiz) {
		status = domain.GradePending
	}

	if _, err := w.remote.CreateResponse(ctx, domain.Response{
		QuizID:            quiz.ID,
		StudentID:         item.StudentID,
		StudentInfo:       info,
		Answers:           answers,
		ClientSubmittedAt: &submittedAt,
		ServerUploadedAt:  &uploadedAt,
		Score:             &score,
		GradeStatus:       status,
		Flagged:           item.Flagged,
	}); err != nil {
		return w.fail(ctx, id, err)
	}

	// History is write-once: only the first successful upload for this quiz
	// and student records one.
	if _, err := w.local.GetHistory(ctx, quiz.ID, item.StudentID); err != nil {
		rec := domain.HistoryRecord{
			QuizID:      quiz.ID,
			QuizTitle:   quiz.Title,
			StudentID:   item.StudentID,
			Score:       &score,
			SubmittedAt: submittedAt,
		}
		if herr := w.local.SaveHistory(ctx, rec); herr != nil {
			w.log.Warn("history not recorded", zap.Int64("id", id), zap.Error(herr))
		}
	}

	if err := w.local.DeletePending(ctx, id); err != nil {
		return err
	}
	w.log.Info("submission uploaded", zap.Int64("id", id), zap.String("quiz_id", quiz.ID), zap.Float64("score", score))
	return nil
}

// fetchQuiz prefers the authoritative definition and falls back to the local
// cache when offline mid-drain.
func (w *UploadWorker) fetchQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if raw, err := w.remote.QuizByID(ctx, quizID); err == nil {
		return domain.ParseDefinition(raw)
	}
	rec, err := w.local.GetCachedQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	return domain.ParseDefinition([]byte(rec.RawDefinition))
}

func (w *UploadWorker) fail(ctx context.Context, id int64, cause error) error {
	if err := w.local.MarkPendingStatus(ctx, id, domain.UploadFailed, cause.Error()); err != nil {
		w.log.Warn("mark failed did not stick", zap.Int64("id", id), zap.Error(err))
	}
	return cause
}
