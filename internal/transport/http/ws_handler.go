package http

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/app"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/domain"
)

// WSHandler runs one attempt session per websocket connection: the client
// sends discrete events (answers, navigation, switch reports, submit) and
// receives attempt snapshots, including the 1 Hz countdown.
type WSHandler struct {
	attempts *app.AttemptService
	cache    *app.CacheService
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(attempts *app.AttemptService, cache *app.CacheService, log *zap.Logger) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		cache:    cache,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string   `json:"questionId"`
	OptionIDs  []string `json:"optionIds,omitempty"`
	Text       string   `json:"answerText,omitempty"`
}

type navigatePayload struct {
	Delta int `json:"delta"`
}

type switchPayload struct {
	Kind string `json:"kind"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// reserved query parameters; everything else becomes a pre-attempt detail.
var reservedParams = map[string]struct{}{
	"quizId": {}, "roll": {}, "device": {}, "joinCode": {},
}

// ServeWS upgrades the request and runs the attempt until the socket closes
// or the attempt finishes.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	quizID := query.Get("quizId")
	roll := query.Get("roll")
	if quizID == "" || roll == "" {
		http.Error(w, "missing quizId or roll", http.StatusBadRequest)
		return
	}

	info := make(map[string]string)
	for key, values := range query {
		if _, reserved := reservedParams[key]; reserved || len(values) == 0 {
			continue
		}
		info[key] = values[0]
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// A join code means the quiz was downloaded ahead of time and must be
	// unlocked against the guarded clock before anything else.
	if code := query.Get("joinCode"); code != "" {
		if _, err := h.cache.Activate(r.Context(), quizID, code); err != nil {
			_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
			return
		}
	}

	attempt, err := h.attempts.Start(r.Context(), app.StartOptions{
		QuizID:      quizID,
		StudentID:   roll,
		DeviceID:    query.Get("device"),
		StudentInfo: info,
	})
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	updates, cancel := attempt.Subscribe()
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "snapshot", Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
				continue
			}
			if _, err := h.attempts.Answer(r.Context(), domain.Answer{
				QuestionID: payload.QuestionID,
				OptionIDs:  payload.OptionIDs,
				Text:       payload.Text,
			}); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
			}
		case "navigate":
			var payload navigatePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid navigate payload"}}
				continue
			}
			if _, err := h.attempts.Navigate(r.Context(), payload.Delta); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
			}
		case "switch":
			var payload switchPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid switch payload"}}
				continue
			}
			out, err := h.attempts.ReportSwitch(r.Context(), payload.Kind)
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[any]{Type: "switchOutcome", Payload: out}
		case "submit":
			snap, err := h.attempts.Submit(r.Context())
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[any]{Type: "submitted", Payload: snap}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}
