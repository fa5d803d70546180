package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/domain"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/scoring"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/timeguard"
)

// StartOptions identifies who is taking which quiz on this device.
type StartOptions struct {
	QuizID      string
	StudentID   string
	DeviceID    string
	StudentInfo map[string]string
}

// AttemptService runs the single live attempt on a device: starts it against
// a remote or cached definition, applies anti-cheat events, drives the 1 Hz
// countdown, and hands the finished submission to the remote store or the
// durable upload queue.
type AttemptService struct {
	remote RemoteStore
	local  LocalStore
	guard  *timeguard.Guard
	sched  UploadScheduler
	log    *zap.Logger

	wallNow   func() time.Time
	tickEvery time.Duration

	muActive sync.Mutex
	active   *Attempt
	stop     chan struct{}
}

// NewAttemptService wires an attempt service with the production clock.
func NewAttemptService(remote RemoteStore, local LocalStore, guard *timeguard.Guard, sched UploadScheduler, log *zap.Logger) *AttemptService {
	return &AttemptService{
		remote:    remote,
		local:     local,
		guard:     guard,
		sched:     sched,
		log:       log,
		wallNow:   time.Now,
		tickEvery: time.Second,
	}
}

// NewAttemptServiceWithClock is test-only: it injects the wall clock and the
// countdown interval.
func NewAttemptServiceWithClock(remote RemoteStore, local LocalStore, guard *timeguard.Guard, sched UploadScheduler, log *zap.Logger, wallNow func() time.Time, tickEvery time.Duration) *AttemptService {
	s := NewAttemptService(remote, local, guard, sched, log)
	s.wallNow = wallNow
	s.tickEvery = tickEvery
	return s
}

// Start begins an attempt. The definition comes from the remote store when
// reachable and from the local cache otherwise; the guarded clock enforces
// the absolute window and retakes are blocked by history, remote responses,
// and the device ID.
func (s *AttemptService) Start(ctx context.Context, opts StartOptions) (*Attempt, error) {
	s.muActive.Lock()
	defer s.muActive.Unlock()

	if s.active != nil && !s.active.done() {
		return nil, ErrAttemptInProgress
	}

	ok, err := s.guard.AutoTimeEnabled(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrAutoTimeDisabled
	}

	quiz, nowFn, err := s.resolveQuiz(ctx, opts.QuizID)
	if err != nil {
		return nil, err
	}
	if !quiz.RequiredFieldsPresent(opts.StudentInfo) {
		return nil, domain.ErrRequiredDetailsMissing
	}

	now := nowFn()
	if now.Before(quiz.StartsAt) {
		return nil, domain.ErrTooEarly
	}
	if now.After(quiz.EndsAt) {
		return nil, domain.ErrWindowExpired
	}

	if err := s.checkRetake(ctx, quiz.ID, opts.StudentID, opts.DeviceID); err != nil {
		return nil, err
	}

	responseID, err := s.openResponse(ctx, quiz, opts)
	if err != nil {
		return nil, err
	}

	questions := scoring.ShuffleQuestions(quiz, opts.StudentID)
	attempt := newAttempt(uuid.NewString(), quiz, questions, opts.StudentID, opts.DeviceID, opts.StudentInfo, responseID, nowFn)

	s.active = attempt
	s.stop = make(chan struct{})
	go s.runCountdown(attempt, s.stop)

	s.log.Info("attempt started",
		zap.String("quiz_id", quiz.ID),
		zap.String("attempt_id", attempt.id),
		zap.Bool("online", responseID != ""))
	return attempt, nil
}

// resolveQuiz prefers the authoritative definition and falls back to the
// local cache. A cached definition that fails the strict parse is marked
// invalid on the spot. The returned clock is the guarded estimate when the
// attempt runs from cache, and the wall clock otherwise.
func (s *AttemptService) resolveQuiz(ctx context.Context, quizID string) (domain.Quiz, func() time.Time, error) {
	if raw, err := s.remote.QuizByID(ctx, quizID); err == nil {
		quiz, perr := domain.ParseDefinition(raw)
		if perr != nil {
			return domain.Quiz{}, nil, perr
		}
		return quiz, s.wallNow, nil
	} else if errors.Is(err, domain.ErrQuizNotFound) {
		// Authoritative answer: the quiz does not exist anymore.
		return domain.Quiz{}, nil, err
	}

	rec, err := s.local.GetCachedQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, nil, err
	}
	if rec.Invalidated {
		return domain.Quiz{}, nil, domain.ErrQuizNotFound
	}
	quiz, err := domain.ParseDefinition([]byte(rec.RawDefinition))
	if err != nil {
		if ierr := s.local.InvalidateCachedQuiz(ctx, quizID); ierr != nil {
			s.log.Warn("invalidate corrupt cache record", zap.String("quiz_id", quizID), zap.Error(ierr))
		}
		return domain.Quiz{}, nil, domain.ErrDefinitionInvalid
	}
	snap := timeguard.Snapshot{StartsAt: rec.StartsAt, EndsAt: rec.EndsAt, AnchorTicks: rec.AnchorTicks}
	return quiz, func() time.Time { return s.guard.EstimateNow(snap) }, nil
}

// checkRetake blocks a second attempt by the same student or the same device.
// Local history always answers; the remote checks are best effort so an
// offline device can still start.
func (s *AttemptService) checkRetake(ctx context.Context, quizID, studentID, deviceID string) error {
	if _, err := s.local.GetHistory(ctx, quizID, studentID); err == nil {
		return domain.ErrAlreadyAttempted
	}
	pending, err := s.local.ListPending(ctx, domain.UploadPending, domain.UploadUploading, domain.UploadFailed)
	if err != nil {
		return err
	}
	for _, p := range pending {
		if p.QuizID == quizID && p.StudentID == studentID {
			return domain.ErrAlreadyAttempted
		}
	}

	if _, err := s.remote.ResponseByQuizAndStudent(ctx, quizID, studentID); err == nil {
		return domain.ErrAlreadyAttempted
	} else if !errors.Is(err, domain.ErrResponseNotFound) {
		s.log.Debug("remote retake check skipped", zap.String("quiz_id", quizID), zap.Error(err))
	}
	if deviceID != "" {
		if _, err := s.remote.ResponseByQuizAndDevice(ctx, quizID, deviceID); err == nil {
			return domain.ErrAlreadyAttempted
		}
	}
	return nil
}

// openResponse creates the remote response document at attempt start. The
// remote store refusing it outside the active window is authoritative; any
// other failure just means the attempt runs offline and uploads later.
func (s *AttemptService) openResponse(ctx context.Context, quiz domain.Quiz, opts StartOptions) (string, error) {
	id, err := s.remote.CreateResponse(ctx, domain.Response{
		QuizID:      quiz.ID,
		StudentID:   opts.StudentID,
		DeviceID:    opts.DeviceID,
		StudentInfo: opts.StudentInfo,
	})
	if errors.Is(err, domain.ErrWindowInactive) {
		return "", err
	}
	if err != nil {
		s.log.Info("starting offline", zap.String("quiz_id", quiz.ID), zap.Error(err))
		return "", nil
	}
	return id, nil
}

// Active returns the live attempt, if any.
func (s *AttemptService) Active() (*Attempt, error) {
	s.muActive.Lock()
	defer s.muActive.Unlock()
	if s.active == nil {
		return nil, ErrNoActiveAttempt
	}
	return s.active, nil
}

// Answer records or clears the student's answer to one question.
func (s *AttemptService) Answer(_ context.Context, ans domain.Answer) (AttemptSnapshot, error) {
	attempt, err := s.Active()
	if err != nil {
		return AttemptSnapshot{}, err
	}
	if err := attempt.setAnswer(ans); err != nil {
		return AttemptSnapshot{}, err
	}
	return attempt.Snapshot(), nil
}

// Navigate moves the current question index by delta, clamped to the quiz.
func (s *AttemptService) Navigate(_ context.Context, delta int) (AttemptSnapshot, error) {
	attempt, err := s.Active()
	if err != nil {
		return AttemptSnapshot{}, err
	}
	attempt.navigate(delta)
	return attempt.Snapshot(), nil
}

// ReportSwitch applies the quiz's anti-cheat policy to one environment
// switch and mirrors the consequence to the remote response when possible.
func (s *AttemptService) ReportSwitch(ctx context.Context, kind string) (SwitchOutcome, error) {
	attempt, err := s.Active()
	if err != nil {
		return SwitchOutcome{}, err
	}

	ev := domain.SwitchEvent{At: attempt.now(), Kind: kind}
	out := attempt.applySwitch(ev)
	if !out.Recorded {
		return out, nil
	}

	s.log.Warn("environment switch",
		zap.String("attempt_id", attempt.id),
		zap.String("kind", kind),
		zap.String("state", string(out.State)))

	if rid := attempt.responseID; rid != "" {
		if err := s.remote.AppendSwitchEvent(ctx, rid, ev); err != nil {
			s.log.Debug("switch event not mirrored", zap.Error(err))
		}
		fields := map[string]any{"flagged": true}
		if out.State == AttemptDisqualified {
			fields["disqualified"] = true
		}
		if err := s.remote.UpdateResponse(ctx, rid, fields); err != nil {
			s.log.Debug("switch consequence not mirrored", zap.Error(err))
		}
	}
	return out, nil
}

// Submit finishes the live attempt. On a reachable remote the submission is
// accepted immediately and recorded in history; otherwise it is queued
// durably and the scheduler is nudged.
func (s *AttemptService) Submit(ctx context.Context) (AttemptSnapshot, error) {
	attempt, err := s.Active()
	if err != nil {
		return AttemptSnapshot{}, err
	}
	return s.submitAttempt(ctx, attempt)
}

func (s *AttemptService) submitAttempt(ctx context.Context, attempt *Attempt) (AttemptSnapshot, error) {
	attempt.mu.Lock()
	if attempt.state == AttemptDisqualified {
		attempt.mu.Unlock()
		return attempt.Snapshot(), domain.ErrDisqualified
	}
	if attempt.submitted || attempt.submitting {
		attempt.mu.Unlock()
		return attempt.Snapshot(), domain.ErrAlreadySubmitted
	}
	attempt.submitting = true
	attempt.mu.Unlock()

	answers := attempt.answerList()
	quiz := attempt.quiz
	score := scoring.Score(quiz, answers)
	submittedAt := attempt.now()

	if err := s.pushSubmission(ctx, attempt, answers, score, submittedAt); err != nil {
		if qerr := s.queueSubmission(ctx, attempt, answers); qerr != nil {
			attempt.mu.Lock()
			attempt.submitting = false
			attempt.mu.Unlock()
			return attempt.Snapshot(), qerr
		}
		attempt.markSubmitted(true)
		s.log.Info("submission queued", zap.String("attempt_id", attempt.id), zap.Error(err))
		return attempt.Snapshot(), nil
	}

	s.recordHistory(ctx, quiz, attempt.studentID, score, submittedAt)
	attempt.markSubmitted(false)
	s.log.Info("submission uploaded", zap.String("attempt_id", attempt.id), zap.Float64("score", score))
	return attempt.Snapshot(), nil
}

func (s *AttemptService) pushSubmission(ctx context.Context, attempt *Attempt, answers []domain.Answer, score float64, submittedAt time.Time) error {
	status := domain.GradeAuto
	if hasTextQuestion(attempt.quiz) {
		status = domain.GradePending
	}

	if rid := attempt.responseID; rid != "" {
		return s.remote.UpdateResponse(ctx, rid, map[string]any{
			"answers":           answers,
			"score":             score,
			"gradeStatus":       status,
			"clientSubmittedAt": submittedAt,
			"flagged":           attempt.flagged(),
		})
	}

	_, err := s.remote.CreateResponse(ctx, domain.Response{
		QuizID:            attempt.quiz.ID,
		StudentID:         attempt.studentID,
		DeviceID:          attempt.deviceID,
		StudentInfo:       attempt.studentInfo,
		Answers:           answers,
		ClientSubmittedAt: &submittedAt,
		Score:             &score,
		GradeStatus:       status,
		SwitchEvents:      attempt.switchEvents(),
		Flagged:           attempt.flagged(),
	})
	return err
}

func (s *AttemptService) queueSubmission(ctx context.Context, attempt *Attempt, answers []domain.Answer) error {
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return err
	}
	infoJSON, err := json.Marshal(attempt.studentInfo)
	if err != nil {
		return err
	}
	item, err := s.local.EnqueueSubmission(ctx, domain.PendingSubmission{
		AttemptID:       attempt.id,
		QuizID:          attempt.quiz.ID,
		StudentID:       attempt.studentID,
		StudentInfoJSON: string(infoJSON),
		AnswersJSON:     string(answersJSON),
		Flagged:         attempt.flagged(),
		Status:          domain.UploadPending,
		CreatedAt:       s.wallNow(),
	})
	if err != nil {
		return err
	}
	if s.sched != nil {
		s.sched.EnqueueUpload(item.ID)
	}
	return nil
}

func (s *AttemptService) recordHistory(ctx context.Context, quiz domain.Quiz, studentID string, score float64, submittedAt time.Time) {
	rec := domain.HistoryRecord{
		QuizID:      quiz.ID,
		QuizTitle:   quiz.Title,
		StudentID:   studentID,
		Score:       &score,
		SubmittedAt: submittedAt,
	}
	if _, err := s.local.GetHistory(ctx, quiz.ID, studentID); err == nil {
		return
	}
	if err := s.local.SaveHistory(ctx, rec); err != nil {
		s.log.Warn("history not recorded", zap.String("quiz_id", quiz.ID), zap.Error(err))
	}
}

// Close stops the countdown of the live attempt, if any.
func (s *AttemptService) Close() {
	s.muActive.Lock()
	defer s.muActive.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

func (s *AttemptService) runCountdown(attempt *Attempt, stop chan struct{}) {
	ticker := time.NewTicker(s.tickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			expired, running := attempt.tick()
			if expired {
				if _, err := s.submitAttempt(context.Background(), attempt); err != nil {
					s.log.Error("auto submit failed", zap.String("attempt_id", attempt.id), zap.Error(err))
				}
				return
			}
			if !running {
				return
			}
		}
	}
}

func hasTextQuestion(quiz domain.Quiz) bool {
	for _, q := range quiz.Questions {
		if q.Type == domain.QuestionText {
			return true
		}
	}
	return false
}
