package app

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/domain"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/joincode"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/timeguard"
)

// CacheService owns the offline quiz cache: downloading definitions by
// public code, unlocking them later with a join code against the guarded
// clock, and keeping the cache tidy.
type CacheService struct {
	remote RemoteStore
	local  LocalStore
	blobs  BlobStore
	guard  *timeguard.Guard
	log    *zap.Logger

	wallNow func() time.Time
}

func NewCacheService(remote RemoteStore, local LocalStore, blobs BlobStore, guard *timeguard.Guard, log *zap.Logger) *CacheService {
	return &CacheService{remote: remote, local: local, blobs: blobs, guard: guard, log: log, wallNow: time.Now}
}

// Download fetches a definition by its public code, parses it strictly, and
// stores it twice: a fast-access record anchored to the monotonic clock, and
// a durable blob for rehydration after restart. Re-downloading replaces the
// cached copy wholesale.
func (s *CacheService) Download(ctx context.Context, code string) (domain.Quiz, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}

	raw, err := s.remote.QuizByCode(ctx, code)
	if err != nil {
		return domain.Quiz{}, err
	}
	quiz, err := domain.ParseDefinition(raw)
	if err != nil {
		return domain.Quiz{}, err
	}

	// The snapshot anchors the trusted wall time of this download to the
	// monotonic counter. Auto network time being on is what makes the wall
	// clock trustworthy at this one instant.
	snap, err := s.guard.CreateSnapshot(ctx, s.wallNow(), quiz.EndsAt)
	if err != nil {
		// Without trusted time the cached copy cannot be anchored; a stale
		// record must not pretend otherwise.
		if ierr := s.local.InvalidateCachedQuiz(ctx, quiz.ID); ierr != nil {
			s.log.Debug("invalidate on failed anchor", zap.Error(ierr))
		}
		return domain.Quiz{}, err
	}

	rec := domain.CachedQuizRecord{
		QuizID:        quiz.ID,
		PublicCode:    quiz.PublicCode,
		Title:         quiz.Title,
		RawDefinition: string(raw),
		StartsAt:      snap.StartsAt,
		EndsAt:        snap.EndsAt,
		AnchorTicks:   snap.AnchorTicks,
	}
	if err := s.local.UpsertCachedQuiz(ctx, rec); err != nil {
		return domain.Quiz{}, err
	}
	if err := s.blobs.Put(domain.BlobMeta{QuizID: quiz.ID, Code: quiz.PublicCode, Title: quiz.Title}, raw); err != nil {
		s.log.Warn("definition blob not written", zap.String("quiz_id", quiz.ID), zap.Error(err))
	}

	s.log.Info("quiz downloaded", zap.String("quiz_id", quiz.ID), zap.String("code", quiz.PublicCode))
	return quiz, nil
}

// Activate unlocks a cached quiz with a join code. The code is checked
// against the guarded clock estimate, never the wall clock, so rewinding the
// device clock does not reopen a closed window.
func (s *CacheService) Activate(ctx context.Context, quizID, code string) (domain.Quiz, error) {
	ok, err := s.guard.AutoTimeEnabled(ctx)
	if err != nil {
		return domain.Quiz{}, err
	}
	if !ok {
		if ierr := s.local.InvalidateCachedQuiz(ctx, quizID); ierr != nil {
			s.log.Debug("invalidate on disabled auto time", zap.Error(ierr))
		}
		return domain.Quiz{}, domain.ErrAutoTimeDisabled
	}

	rec, err := s.local.GetCachedQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if rec.Invalidated {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	quiz, err := domain.ParseDefinition([]byte(rec.RawDefinition))
	if err != nil {
		if ierr := s.local.InvalidateCachedQuiz(ctx, quizID); ierr != nil {
			s.log.Debug("invalidate corrupt record", zap.Error(ierr))
		}
		return domain.Quiz{}, domain.ErrDefinitionInvalid
	}

	snap := timeguard.Snapshot{StartsAt: rec.StartsAt, EndsAt: rec.EndsAt, AnchorTicks: rec.AnchorTicks}
	now := s.guard.EstimateNow(snap)
	if _, err := joincode.Verify(code, quiz.UnlockSecret, quiz.LatencyMinutes, now); err != nil {
		return domain.Quiz{}, err
	}
	return quiz, nil
}

// List returns the cached quizzes that are still valid, ordered by start time.
func (s *CacheService) List(ctx context.Context) ([]domain.CachedQuizRecord, error) {
	return s.local.ListCachedQuizzes(ctx)
}

// Invalidate marks a cached quiz as unusable without deleting its data.
func (s *CacheService) Invalidate(ctx context.Context, quizID string) error {
	return s.local.InvalidateCachedQuiz(ctx, quizID)
}

// Delete removes a cached quiz and its durable blob.
func (s *CacheService) Delete(ctx context.Context, quizID string) error {
	if err := s.local.DeleteCachedQuiz(ctx, quizID); err != nil {
		return err
	}
	return s.blobs.Delete(quizID)
}

// Rehydrate rebuilds the fast-access records from the durable blobs after a
// restart. Anchors are process-monotonic, so a persisted anchor means nothing
// to a new process: every record is re-anchored to the current tick counter,
// and a record whose blob is gone cannot be re-anchored and is invalidated
// rather than trusted with the previous process's ticks. Corrupt blobs are
// deleted rather than resurrected.
func (s *CacheService) Rehydrate(ctx context.Context) error {
	metas, err := s.blobs.List()
	if err != nil {
		return err
	}
	reanchored := make(map[string]struct{}, len(metas))
	for _, meta := range metas {
		// Invalidated stays invalidated; a restart is not a re-download.
		if existing, err := s.local.GetCachedQuiz(ctx, meta.QuizID); err == nil && existing.Invalidated {
			continue
		}
		raw, err := s.blobs.Get(meta.QuizID)
		if err != nil {
			continue
		}
		quiz, err := domain.ParseDefinition(raw)
		if err != nil {
			s.log.Warn("dropping corrupt definition blob", zap.String("quiz_id", meta.QuizID), zap.Error(err))
			if derr := s.blobs.Delete(meta.QuizID); derr != nil {
				s.log.Debug("corrupt blob not deleted", zap.Error(derr))
			}
			continue
		}
		snap, err := s.guard.CreateSnapshot(ctx, s.wallNow(), quiz.EndsAt)
		if err != nil {
			// Without trusted time the old anchor cannot be replaced, and it
			// must not linger either.
			if ierr := s.local.InvalidateCachedQuiz(ctx, quiz.ID); ierr != nil {
				s.log.Debug("invalidate on failed re-anchor", zap.Error(ierr))
			}
			return err
		}
		rec := domain.CachedQuizRecord{
			QuizID:        quiz.ID,
			PublicCode:    quiz.PublicCode,
			Title:         quiz.Title,
			RawDefinition: string(raw),
			StartsAt:      snap.StartsAt,
			EndsAt:        snap.EndsAt,
			AnchorTicks:   snap.AnchorTicks,
		}
		if err := s.local.UpsertCachedQuiz(ctx, rec); err != nil {
			return err
		}
		reanchored[quiz.ID] = struct{}{}
		s.log.Info("cache record re-anchored", zap.String("quiz_id", quiz.ID))
	}

	// Any surviving row not covered by a blob still carries a stale anchor.
	recs, err := s.local.ListCachedQuizzes(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if _, ok := reanchored[rec.QuizID]; ok {
			continue
		}
		if err := s.local.InvalidateCachedQuiz(ctx, rec.QuizID); err != nil {
			return err
		}
		s.log.Warn("cached quiz unusable, anchor lost with no blob to rebuild from",
			zap.String("quiz_id", rec.QuizID))
	}
	return nil
}

// PurgeExpired deletes cached quizzes past their retention period and drops
// invalidated records. Retention counts from the window end.
func (s *CacheService) PurgeExpired(ctx context.Context) error {
	recs, err := s.local.ListCachedQuizzes(ctx)
	if err != nil {
		return err
	}
	now := s.wallNow()
	for _, rec := range recs {
		retention := 7
		if quiz, err := domain.ParseDefinition([]byte(rec.RawDefinition)); err == nil && quiz.RetentionDays > 0 {
			retention = quiz.RetentionDays
		}
		cutoff := rec.EndsAt.AddDate(0, 0, retention)
		if now.Before(cutoff) {
			continue
		}
		if err := s.Delete(ctx, rec.QuizID); err != nil {
			return err
		}
		s.log.Info("expired quiz purged", zap.String("quiz_id", rec.QuizID))
	}

	purged, err := s.local.PurgeInvalidated(ctx)
	if err != nil {
		return err
	}
	// Dropping the blob too keeps a later rehydrate from resurrecting a
	// deliberately invalidated quiz.
	for _, id := range purged {
		if err := s.blobs.Delete(id); err != nil {
			s.log.Debug("blob for invalidated quiz not deleted", zap.String("quiz_id", id), zap.Error(err))
		}
	}
	return nil
}
