package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/domain"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/infra/memory"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/infra/sqlite"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/timeguard"
)

// testClock is a controllable wall clock shared by the service and the guard
// tick source, so tests can move time without sleeping.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// ticks derives a monotonic reading from the test clock.
func (c *testClock) ticks() time.Duration {
	return c.Now().Sub(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC))
}

type fakeScheduler struct {
	mu      sync.Mutex
	uploads []int64
	drains  int
}

func (f *fakeScheduler) EnqueueUpload(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, id)
}

func (f *fakeScheduler) EnqueueDrain() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drains++
}

type testEnv struct {
	remote *memory.RemoteStore
	local  *sqlite.Store
	guard  *timeguard.Guard
	sched  *fakeScheduler
	clock  *testClock
	svc    *AttemptService
	cache  *CacheService
}

// The test quiz runs 10:00-11:00 UTC on 2025-01-01 with a 30 minute timer.
var testWindowStart = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

func quizDefinition(policy string) []byte {
	return []byte(fmt.Sprintf(`{
		"schemaVersion": 2,
		"quizId": "quiz-1",
		"title": "Midterm",
		"downloadCode": "MID25",
		"latencyMinutes": 15,
		"timerMinutes": 30,
		"onAppSwitch": %q,
		"unlockPassword": "ABCDEF",
		"startsAt": "2025-01-01T10:00:00Z",
		"endsAt": "2025-01-01T11:00:00Z",
		"questions": [
			{"id": "q1", "type": "single", "text": "2+2?",
			 "options": [{"id": "a", "text": "4"}, {"id": "b", "text": "5"}],
			 "correct": ["a"]},
			{"id": "q2", "type": "multi", "text": "even numbers",
			 "options": [{"id": "a", "text": "2"}, {"id": "b", "text": "3"}, {"id": "c", "text": "4"}],
			 "correct": ["a", "c"], "weight": 3}
		]
	}`, policy))
}

func newTestEnv(t *testing.T, policy string) *testEnv {
	t.Helper()

	clock := newTestClock(testWindowStart.Add(5 * time.Minute))
	guard := timeguard.NewWithTicks(timeguard.StaticSettings(true), clock.ticks)

	local, err := sqlite.Open(context.Background(), "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { local.Close() })

	remote := memory.NewRemoteStore()
	remote.PutQuiz("quiz-1", "MID25", quizDefinition(policy))

	sched := &fakeScheduler{}
	svc := NewAttemptServiceWithClock(remote, local, guard, sched, zap.NewNop(), clock.Now, time.Hour)
	t.Cleanup(svc.Close)

	blobs, err := newTestBlobs(t)
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	cache := NewCacheService(remote, local, blobs, guard, zap.NewNop())
	cache.wallNow = clock.Now

	return &testEnv{remote: remote, local: local, guard: guard, sched: sched, clock: clock, svc: svc, cache: cache}
}

func startOpts() StartOptions {
	return StartOptions{QuizID: "quiz-1", StudentID: "roll-42", DeviceID: "dev-1"}
}

func TestStartAnswerSubmitOnline(t *testing.T) {
	env := newTestEnv(t, "flag")
	ctx := context.Background()

	attempt, err := env.svc.Start(ctx, startOpts())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if attempt.ResponseID() == "" {
		t.Fatal("expected a remote response document at start")
	}

	if _, err := env.svc.Answer(ctx, domain.Answer{QuestionID: "q1", OptionIDs: []string{"a"}}); err != nil {
		t.Fatalf("answer q1: %v", err)
	}
	if _, err := env.svc.Answer(ctx, domain.Answer{QuestionID: "q2", OptionIDs: []string{"a", "c"}}); err != nil {
		t.Fatalf("answer q2: %v", err)
	}

	snap, err := env.svc.Submit(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !snap.Submitted || snap.PendingUpload {
		t.Fatalf("expected a direct upload, got %+v", snap)
	}

	responses := env.remote.Responses()
	if len(responses) != 1 {
		t.Fatalf("expected 1 remote response, got %d", len(responses))
	}
	if responses[0].Score == nil || *responses[0].Score != 100 {
		t.Fatalf("expected score 100, got %v", responses[0].Score)
	}

	if _, err := env.local.GetHistory(ctx, "quiz-1", "roll-42"); err != nil {
		t.Fatalf("history missing after upload: %v", err)
	}
	if pending, _ := env.local.ListPending(ctx); len(pending) != 0 {
		t.Fatalf("nothing should be queued, got %d", len(pending))
	}
}

func TestStartRejectsConcurrentAttempt(t *testing.T) {
	env := newTestEnv(t, "flag")
	ctx := context.Background()

	if _, err := env.svc.Start(ctx, startOpts()); err != nil {
		t.Fatalf("start: %v", err)
	}
	opts := startOpts()
	opts.StudentID = "roll-43"
	if _, err := env.svc.Start(ctx, opts); !errors.Is(err, ErrAttemptInProgress) {
		t.Fatalf("expected ErrAttemptInProgress, got %v", err)
	}
}

func TestStartBlocksRetakes(t *testing.T) {
	env := newTestEnv(t, "flag")
	ctx := context.Background()

	score := 80.0
	if err := env.local.SaveHistory(ctx, domain.HistoryRecord{
		QuizID: "quiz-1", QuizTitle: "Midterm", StudentID: "roll-42",
		Score: &score, SubmittedAt: env.clock.Now(),
	}); err != nil {
		t.Fatalf("seed history: %v", err)
	}
	if _, err := env.svc.Start(ctx, startOpts()); !errors.Is(err, domain.ErrAlreadyAttempted) {
		t.Fatalf("expected ErrAlreadyAttempted from history, got %v", err)
	}

	// A remote response by the same device blocks even a different student.
	if _, err := env.remote.CreateResponse(ctx, domain.Response{QuizID: "quiz-1", StudentID: "roll-9", DeviceID: "dev-1"}); err != nil {
		t.Fatalf("seed response: %v", err)
	}
	opts := startOpts()
	opts.StudentID = "roll-50"
	if _, err := env.svc.Start(ctx, opts); !errors.Is(err, domain.ErrAlreadyAttempted) {
		t.Fatalf("expected ErrAlreadyAttempted from device check, got %v", err)
	}
}

func TestStartEnforcesWindow(t *testing.T) {
	env := newTestEnv(t, "flag")
	ctx := context.Background()

	env.clock.mu.Lock()
	env.clock.t = testWindowStart.Add(-10 * time.Minute)
	env.clock.mu.Unlock()
	if _, err := env.svc.Start(ctx, startOpts()); !errors.Is(err, domain.ErrTooEarly) {
		t.Fatalf("expected ErrTooEarly, got %v", err)
	}

	env.clock.Advance(2 * time.Hour)
	if _, err := env.svc.Start(ctx, startOpts()); !errors.Is(err, domain.ErrWindowExpired) {
		t.Fatalf("expected ErrWindowExpired, got %v", err)
	}
}

func TestStartRequiresAutoTime(t *testing.T) {
	env := newTestEnv(t, "flag")
	env.svc.guard = timeguard.NewWithTicks(timeguard.StaticSettings(false), env.clock.ticks)

	if _, err := env.svc.Start(context.Background(), startOpts()); !errors.Is(err, domain.ErrAutoTimeDisabled) {
		t.Fatalf("expected ErrAutoTimeDisabled, got %v", err)
	}
}

func TestOfflineSubmitQueues(t *testing.T) {
	env := newTestEnv(t, "flag")
	ctx := context.Background()

	// Cache the quiz while online, then lose connectivity.
	if _, err := env.cache.Download(ctx, "MID25"); err != nil {
		t.Fatalf("download: %v", err)
	}
	env.remote.SetOffline(true)

	attempt, err := env.svc.Start(ctx, startOpts())
	if err != nil {
		t.Fatalf("offline start: %v", err)
	}
	if attempt.ResponseID() != "" {
		t.Fatal("offline start must not have a remote response")
	}

	if _, err := env.svc.Answer(ctx, domain.Answer{QuestionID: "q1", OptionIDs: []string{"a"}}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	snap, err := env.svc.Submit(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !snap.Submitted || !snap.PendingUpload {
		t.Fatalf("expected a queued submission, got %+v", snap)
	}

	pending, err := env.local.ListPending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected 1 queued item, got %d err=%v", len(pending), err)
	}
	if pending[0].QuizID != "quiz-1" || pending[0].StudentID != "roll-42" {
		t.Fatalf("queued item mismatch: %+v", pending[0])
	}

	env.sched.mu.Lock()
	notified := len(env.sched.uploads)
	env.sched.mu.Unlock()
	if notified != 1 {
		t.Fatalf("scheduler should have been nudged once, got %d", notified)
	}
}

func TestSwitchPolicyFlag(t *testing.T) {
	env := newTestEnv(t, "flag")
	ctx := context.Background()

	if _, err := env.svc.Start(ctx, startOpts()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.svc.Answer(ctx, domain.Answer{QuestionID: "q1", OptionIDs: []string{"a"}}); err != nil {
		t.Fatalf("answer: %v", err)
	}

	out, err := env.svc.ReportSwitch(ctx, "background")
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if out.State != AttemptFlagged || out.Reset || !out.Recorded {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	attempt, _ := env.svc.Active()
	snap := attempt.Snapshot()
	if len(snap.Answers) != 1 {
		t.Fatalf("flag policy must keep answers, got %d", len(snap.Answers))
	}

	// The consequence is mirrored to the remote response.
	responses := env.remote.Responses()
	if len(responses) != 1 || !responses[0].Flagged || len(responses[0].SwitchEvents) != 1 {
		t.Fatalf("remote response not updated: %+v", responses)
	}
}

func TestSwitchPolicyReset(t *testing.T) {
	env := newTestEnv(t, "reset")
	ctx := context.Background()

	if _, err := env.svc.Start(ctx, startOpts()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.svc.Answer(ctx, domain.Answer{QuestionID: "q1", OptionIDs: []string{"a"}}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if _, err := env.svc.Navigate(ctx, 1); err != nil {
		t.Fatalf("navigate: %v", err)
	}

	out, err := env.svc.ReportSwitch(ctx, "background")
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if out.State != AttemptFlagged || !out.Reset {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	attempt, _ := env.svc.Active()
	snap := attempt.Snapshot()
	if len(snap.Answers) != 0 {
		t.Fatalf("reset policy must clear answers, got %d", len(snap.Answers))
	}
	if snap.QuestionIndex != 0 {
		t.Fatalf("reset policy must restart at question 0, got %d", snap.QuestionIndex)
	}

	// The restarted countdown runs to the window end, not a fresh timer.
	wantRemaining := int(testWindowStart.Add(time.Hour).Sub(env.clock.Now()) / time.Second)
	if snap.RemainingSeconds != wantRemaining {
		t.Fatalf("remaining = %d, want %d", snap.RemainingSeconds, wantRemaining)
	}
}

func TestSwitchPolicyDisqualify(t *testing.T) {
	env := newTestEnv(t, "disqualify")
	ctx := context.Background()

	if _, err := env.svc.Start(ctx, startOpts()); err != nil {
		t.Fatalf("start: %v", err)
	}

	out, err := env.svc.ReportSwitch(ctx, "background")
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if out.State != AttemptDisqualified {
		t.Fatalf("expected disqualification, got %+v", out)
	}

	// Disqualification is terminal: no answers, no submission, and further
	// switch events are ignored outright.
	if _, err := env.svc.Answer(ctx, domain.Answer{QuestionID: "q1", OptionIDs: []string{"a"}}); !errors.Is(err, domain.ErrDisqualified) {
		t.Fatalf("expected ErrDisqualified on answer, got %v", err)
	}
	if _, err := env.svc.Submit(ctx); !errors.Is(err, domain.ErrDisqualified) {
		t.Fatalf("expected ErrDisqualified on submit, got %v", err)
	}
	again, err := env.svc.ReportSwitch(ctx, "background")
	if err != nil {
		t.Fatalf("second switch: %v", err)
	}
	if again.Recorded {
		t.Fatalf("disqualified attempt must ignore further events: %+v", again)
	}

	attempt, _ := env.svc.Active()
	if got := len(attempt.switchEvents()); got != 1 {
		t.Fatalf("event log should hold the single event, got %d", got)
	}
}

func TestCountdownAutoSubmits(t *testing.T) {
	env := newTestEnv(t, "flag")
	env.svc.tickEvery = 5 * time.Millisecond
	ctx := context.Background()

	if _, err := env.svc.Start(ctx, startOpts()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.svc.Answer(ctx, domain.Answer{QuestionID: "q1", OptionIDs: []string{"a"}}); err != nil {
		t.Fatalf("answer: %v", err)
	}

	env.clock.Advance(31 * time.Minute) // past the 30 minute timer

	deadline := time.Now().Add(2 * time.Second)
	for {
		attempt, _ := env.svc.Active()
		if attempt.Snapshot().Submitted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("countdown did not auto-submit")
		}
		time.Sleep(5 * time.Millisecond)
	}

	responses := env.remote.Responses()
	if len(responses) != 1 || responses[0].Score == nil {
		t.Fatalf("auto-submit did not upload: %+v", responses)
	}
}

func TestAnswerValidation(t *testing.T) {
	env := newTestEnv(t, "flag")
	ctx := context.Background()

	if _, err := env.svc.Start(ctx, startOpts()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := env.svc.Answer(ctx, domain.Answer{QuestionID: "missing", OptionIDs: []string{"a"}}); !errors.Is(err, domain.ErrQuestionUnknown) {
		t.Fatalf("expected ErrQuestionUnknown, got %v", err)
	}
	if _, err := env.svc.Answer(ctx, domain.Answer{QuestionID: "q1", OptionIDs: []string{"a", "b"}}); !errors.Is(err, domain.ErrAnswerInvalid) {
		t.Fatalf("expected ErrAnswerInvalid for multi-select on single, got %v", err)
	}
	if _, err := env.svc.Answer(ctx, domain.Answer{QuestionID: "q1", OptionIDs: []string{"zz"}}); !errors.Is(err, domain.ErrAnswerInvalid) {
		t.Fatalf("expected ErrAnswerInvalid for unknown option, got %v", err)
	}

	// An empty answer clears a previous one.
	if _, err := env.svc.Answer(ctx, domain.Answer{QuestionID: "q1", OptionIDs: []string{"a"}}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	snap, err := env.svc.Answer(ctx, domain.Answer{QuestionID: "q1"})
	if err != nil {
		t.Fatalf("clear answer: %v", err)
	}
	if len(snap.Answers) != 0 {
		t.Fatalf("answer should have been cleared, got %+v", snap.Answers)
	}
}
