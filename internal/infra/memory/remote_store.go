// Package memory holds in-process implementations of the app's store
// interfaces, used by tests and by the demo mode of the agent.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/domain"
)

// RemoteStore is an in-memory stand-in for the shared document store. It can
// be toggled offline and can enforce the active window, mirroring the
// behaviors devices see in the field.
type RemoteStore struct {
	mu        sync.RWMutex
	quizzes   map[string][]byte          // quiz ID -> raw definition
	codes     map[string]string          // public code -> quiz ID
	responses map[string]domain.Response // response ID -> document
	nextID    int

	offline      bool
	windowActive func(quizID string) bool
}

func NewRemoteStore() *RemoteStore {
	return &RemoteStore{
		quizzes:   make(map[string][]byte),
		codes:     make(map[string]string),
		responses: make(map[string]domain.Response),
	}
}

// PutQuiz registers a raw definition under its ID and public code.
func (r *RemoteStore) PutQuiz(quizID, publicCode string, raw []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quizzes[quizID] = raw
	if publicCode != "" {
		r.codes[strings.ToUpper(publicCode)] = quizID
	}
}

// SetOffline makes every call fail with a transport-style error.
func (r *RemoteStore) SetOffline(offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = offline
}

// SetWindowCheck installs the predicate deciding whether responses may be
// created for a quiz right now.
func (r *RemoteStore) SetWindowCheck(fn func(quizID string) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windowActive = fn
}

// Responses returns a copy of every stored response document.
func (r *RemoteStore) Responses() []domain.Response {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Response, 0, len(r.responses))
	for _, resp := range r.responses {
		out = append(out, resp)
	}
	return out
}

func (r *RemoteStore) QuizByID(_ context.Context, quizID string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.offline {
		return nil, errOffline
	}
	raw, ok := r.quizzes[quizID]
	if !ok {
		return nil, domain.ErrQuizNotFound
	}
	return raw, nil
}

func (r *RemoteStore) QuizByCode(_ context.Context, code string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.offline {
		return nil, errOffline
	}
	quizID, ok := r.codes[strings.ToUpper(code)]
	if !ok {
		return nil, domain.ErrQuizNotFound
	}
	return r.quizzes[quizID], nil
}

func (r *RemoteStore) CreateResponse(_ context.Context, resp domain.Response) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return "", errOffline
	}
	if r.windowActive != nil && !r.windowActive(resp.QuizID) {
		return "", domain.ErrWindowInactive
	}
	r.nextID++
	resp.ID = fmt.Sprintf("resp-%d", r.nextID)
	r.responses[resp.ID] = resp
	return resp.ID, nil
}

func (r *RemoteStore) UpdateResponse(_ context.Context, responseID string, fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return errOffline
	}
	resp, ok := r.responses[responseID]
	if !ok {
		return domain.ErrResponseNotFound
	}
	for key, value := range fields {
		switch key {
		case "answers":
			if answers, ok := value.([]domain.Answer); ok {
				resp.Answers = answers
			}
		case "score":
			if score, ok := value.(float64); ok {
				resp.Score = &score
			}
		case "gradeStatus":
			if status, ok := value.(domain.GradeStatus); ok {
				resp.GradeStatus = status
			}
		case "flagged":
			if flagged, ok := value.(bool); ok {
				resp.Flagged = flagged
			}
		case "disqualified":
			if dq, ok := value.(bool); ok {
				resp.Disqualified = dq
			}
		}
	}
	r.responses[responseID] = resp
	return nil
}

func (r *RemoteStore) AppendSwitchEvent(_ context.Context, responseID string, ev domain.SwitchEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return errOffline
	}
	resp, ok := r.responses[responseID]
	if !ok {
		return domain.ErrResponseNotFound
	}
	resp.SwitchEvents = append(resp.SwitchEvents, ev)
	r.responses[responseID] = resp
	return nil
}

func (r *RemoteStore) ResponseByQuizAndStudent(_ context.Context, quizID, studentID string) (domain.Response, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.offline {
		return domain.Response{}, errOffline
	}
	for _, resp := range r.responses {
		if resp.QuizID == quizID && resp.StudentID == studentID {
			return resp, nil
		}
	}
	return domain.Response{}, domain.ErrResponseNotFound
}

func (r *RemoteStore) ResponseByQuizAndDevice(_ context.Context, quizID, deviceID string) (domain.Response, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.offline {
		return domain.Response{}, errOffline
	}
	for _, resp := range r.responses {
		if resp.QuizID == quizID && resp.DeviceID == deviceID {
			return resp, nil
		}
	}
	return domain.Response{}, domain.ErrResponseNotFound
}

var errOffline = fmt.Errorf("remote store unreachable")
