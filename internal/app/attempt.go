package app

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/domain"
)

// AttemptState is the anti-cheat lifecycle of one attempt.
type AttemptState string

const (
	AttemptNormal       AttemptState = "normal"
	AttemptFlagged      AttemptState = "flagged"
	AttemptDisqualified AttemptState = "disqualified"
)

// SwitchOutcome describes what a reported environment switch did to the attempt.
type SwitchOutcome struct {
	State    AttemptState `json:"state"`
	Reset    bool         `json:"reset"`
	Recorded bool         `json:"recorded"`
}

// AttemptSnapshot is an immutable view of a live attempt, safe to hand to
// transports and subscribers.
type AttemptSnapshot struct {
	AttemptID        string           `json:"attemptId"`
	QuizID           string           `json:"quizId"`
	QuizTitle        string           `json:"quizTitle"`
	State            AttemptState     `json:"state"`
	QuestionIndex    int              `json:"questionIndex"`
	QuestionCount    int              `json:"questionCount"`
	RemainingSeconds int              `json:"remainingSeconds"`
	Submitted        bool             `json:"submitted"`
	PendingUpload    bool             `json:"pendingUpload"`
	SwitchCount      int              `json:"switchCount"`
	Answers          []domain.Answer  `json:"answers,omitempty"`
	Question         *domain.Question `json:"question,omitempty"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Attempt is the single live quiz attempt on this device. All mutation goes
// through the mutex, so discrete events (answers, switches, ticks, submit)
// are applied strictly one at a time.
type Attempt struct {
	id          string
	quiz        domain.Quiz
	studentID   string
	deviceID    string
	studentInfo map[string]string
	responseID  string
	questions   []domain.Question
	now         func() time.Time

	mu          sync.Mutex
	state       AttemptState
	index       int
	answers     domain.AnswerSet
	events      []domain.SwitchEvent
	deadline    time.Time
	submitted   bool
	submitting  bool
	pending     bool
	subscribers map[chan AttemptSnapshot]struct{}
}

func newAttempt(id string, quiz domain.Quiz, questions []domain.Question, studentID, deviceID string, info map[string]string, responseID string, now func() time.Time) *Attempt {
	a := &Attempt{
		id:          id,
		quiz:        quiz,
		studentID:   studentID,
		deviceID:    deviceID,
		studentInfo: info,
		responseID:  responseID,
		questions:   questions,
		now:         now,
		state:       AttemptNormal,
		answers:     make(domain.AnswerSet),
		subscribers: make(map[chan AttemptSnapshot]struct{}),
	}
	a.deadline = a.initialDeadline()
	return a
}

// initialDeadline is the per-attempt timer capped by the absolute window end.
func (a *Attempt) initialDeadline() time.Time {
	end := a.quiz.EndsAt
	if a.quiz.TimerMinutes > 0 {
		timed := a.now().Add(time.Duration(a.quiz.TimerMinutes) * time.Minute)
		if timed.Before(end) {
			return timed
		}
	}
	return end
}

// ID returns the attempt identifier.
func (a *Attempt) ID() string { return a.id }

// Quiz returns the definition this attempt runs against.
func (a *Attempt) Quiz() domain.Quiz { return a.quiz }

// ResponseID is the remote document created at start, empty when the device
// was offline.
func (a *Attempt) ResponseID() string { return a.responseID }

func (a *Attempt) setAnswer(ans domain.Answer) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == AttemptDisqualified {
		return domain.ErrDisqualified
	}
	if a.submitted {
		return domain.ErrAlreadySubmitted
	}

	q, ok := a.quiz.QuestionByID(ans.QuestionID)
	if !ok {
		return domain.ErrQuestionUnknown
	}
	switch q.Type {
	case domain.QuestionSingle:
		if len(ans.OptionIDs) > 1 {
			return domain.ErrAnswerInvalid
		}
	case domain.QuestionText:
		if len(ans.OptionIDs) > 0 {
			return domain.ErrAnswerInvalid
		}
	}
	for _, id := range ans.OptionIDs {
		if !optionExists(q, id) {
			return domain.ErrAnswerInvalid
		}
	}

	if len(ans.OptionIDs) == 0 && strings.TrimSpace(ans.Text) == "" {
		delete(a.answers, ans.QuestionID)
	} else {
		a.answers[ans.QuestionID] = ans
	}
	a.broadcastLocked()
	return nil
}

func optionExists(q domain.Question, optionID string) bool {
	for _, o := range q.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

func (a *Attempt) navigate(delta int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == AttemptDisqualified || a.submitted {
		return a.index
	}
	next := a.index + delta
	if next < 0 {
		next = 0
	}
	if max := len(a.questions) - 1; next > max {
		next = max
	}
	if next != a.index {
		a.index = next
		a.broadcastLocked()
	}
	return a.index
}

// applySwitch runs the quiz's anti-cheat policy for one environment switch.
// A disqualified attempt ignores further events entirely.
func (a *Attempt) applySwitch(ev domain.SwitchEvent) SwitchOutcome {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == AttemptDisqualified || a.submitted {
		return SwitchOutcome{State: a.state}
	}

	a.events = append(a.events, ev)
	out := SwitchOutcome{Recorded: true}
	switch a.quiz.OnSwitch {
	case domain.PolicyDisqualify:
		a.state = AttemptDisqualified
	case domain.PolicyReset:
		a.state = AttemptFlagged
		a.answers = make(domain.AnswerSet)
		a.index = 0
		// The restarted countdown runs to the absolute window end, not to
		// another full timer.
		a.deadline = a.quiz.EndsAt
		out.Reset = true
	default:
		a.state = AttemptFlagged
	}
	out.State = a.state
	a.broadcastLocked()
	return out
}

// tick recomputes the remaining time. It reports whether the deadline passed
// on this tick and whether the attempt still needs ticking at all.
func (a *Attempt) tick() (expired, running bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.submitted || a.state == AttemptDisqualified {
		return false, false
	}
	if !a.now().Before(a.deadline) {
		return true, false
	}
	a.broadcastLocked()
	return false, true
}

func (a *Attempt) markSubmitted(pendingUpload bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.submitted = true
	a.pending = pendingUpload
	a.broadcastLocked()
}

func (a *Attempt) done() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.submitted || a.state == AttemptDisqualified
}

func (a *Attempt) answerList() []domain.Answer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.answerListLocked()
}

func (a *Attempt) answerListLocked() []domain.Answer {
	out := make([]domain.Answer, 0, len(a.answers))
	for _, ans := range a.answers {
		out = append(out, ans)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out
}

func (a *Attempt) switchEvents() []domain.SwitchEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.SwitchEvent, len(a.events))
	copy(out, a.events)
	return out
}

func (a *Attempt) flagged() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state != AttemptNormal
}

// Snapshot returns the current externally visible attempt state.
func (a *Attempt) Snapshot() AttemptSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Attempt) snapshotLocked() AttemptSnapshot {
	snap := AttemptSnapshot{
		AttemptID:        a.id,
		QuizID:           a.quiz.ID,
		QuizTitle:        a.quiz.Title,
		State:            a.state,
		QuestionIndex:    a.index,
		QuestionCount:    len(a.questions),
		RemainingSeconds: a.remainingLocked(),
		Submitted:        a.submitted,
		PendingUpload:    a.pending,
		SwitchCount:      len(a.events),
		Answers:          a.answerListLocked(),
		UpdatedAt:        a.now(),
	}
	if a.index >= 0 && a.index < len(a.questions) {
		q := a.questions[a.index]
		q.Correct = nil // never leak the answer key to clients
		snap.Question = &q
	}
	return snap
}

func (a *Attempt) remainingLocked() int {
	left := a.deadline.Sub(a.now())
	if left < 0 {
		return 0
	}
	return int(left / time.Second)
}

// Subscribe returns a channel fed with attempt snapshots. The caller must
// invoke cancel to release the subscription.
func (a *Attempt) Subscribe() (<-chan AttemptSnapshot, func()) {
	ch := make(chan AttemptSnapshot, 8)

	a.mu.Lock()
	a.subscribers[ch] = struct{}{}
	initial := a.snapshotLocked()
	a.mu.Unlock()

	ch <- initial

	cancel := func() {
		a.mu.Lock()
		if _, ok := a.subscribers[ch]; ok {
			delete(a.subscribers, ch)
			close(ch)
		}
		a.mu.Unlock()
	}
	return ch, cancel
}

func (a *Attempt) broadcastLocked() {
	snap := a.snapshotLocked()
	for ch := range a.subscribers {
		select {
		case ch <- snap:
		default:
			// Drop the stale snapshot so a slow reader never blocks the attempt.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}
