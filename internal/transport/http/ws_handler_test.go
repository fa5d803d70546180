package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/app"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/infra/blob"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/infra/memory"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/infra/sqlite"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/timeguard"
)

var liveDefinition = []byte(`{
	"schemaVersion": 2,
	"quizId": "quiz-ws",
	"title": "Live",
	"downloadCode": "WS01",
	"timerMinutes": 30,
	"onAppSwitch": "flag",
	"startsAt": "2000-01-01T00:00:00Z",
	"endsAt": "2100-01-01T00:00:00Z",
	"questions": [
		{"id": "q1", "type": "single", "text": "pick",
		 "options": [{"id": "a", "text": "x"}, {"id": "b", "text": "y"}],
		 "correct": ["a"]}
	]
}`)

func newTestServer(t *testing.T) (*httptest.Server, *memory.RemoteStore) {
	t.Helper()

	local, err := sqlite.Open(context.Background(), "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { local.Close() })

	blobs, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}

	remote := memory.NewRemoteStore()
	remote.PutQuiz("quiz-ws", "WS01", liveDefinition)

	guard := timeguard.New(timeguard.StaticSettings(true))
	attempts := app.NewAttemptService(remote, local, guard, nil, zap.NewNop())
	t.Cleanup(attempts.Close)
	cache := app.NewCacheService(remote, local, blobs, guard, zap.NewNop())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(attempts, cache, zap.NewNop()).ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, remote
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readNext(t *testing.T, conn *websocket.Conn) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg.Type, msg.Payload
}

// readUntil drains snapshots until a message of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()
	for i := 0; i < 10; i++ {
		typ, payload := readNext(t, conn)
		if typ == want {
			return payload
		}
		if typ == "error" {
			t.Fatalf("unexpected error: %v", payload)
		}
	}
	t.Fatalf("never received %q", want)
	return nil
}

func TestAttemptSessionFlow(t *testing.T) {
	server, remote := newTestServer(t)
	conn := dial(t, server, "quizId=quiz-ws&roll=r1&device=d1")

	// The initial snapshot arrives on subscribe.
	snap := readUntil(t, conn, "snapshot")
	if snap["state"] != "normal" {
		t.Fatalf("expected a normal attempt, got %v", snap["state"])
	}

	if err := conn.WriteJSON(map[string]any{
		"type":    "answer",
		"payload": map[string]any{"questionId": "q1", "optionIds": []string{"a"}},
	}); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	readUntil(t, conn, "snapshot")

	if err := conn.WriteJSON(map[string]any{
		"type":    "switch",
		"payload": map[string]any{"kind": "background"},
	}); err != nil {
		t.Fatalf("write switch: %v", err)
	}
	out := readUntil(t, conn, "switchOutcome")
	if out["state"] != "flagged" {
		t.Fatalf("expected flagged outcome, got %v", out)
	}

	if err := conn.WriteJSON(map[string]any{"type": "submit"}); err != nil {
		t.Fatalf("write submit: %v", err)
	}
	submitted := readUntil(t, conn, "submitted")
	if submitted["submitted"] != true {
		t.Fatalf("expected a submitted snapshot, got %v", submitted)
	}

	responses := remote.Responses()
	if len(responses) != 1 || !responses[0].Flagged {
		t.Fatalf("remote response missing or unflagged: %+v", responses)
	}
}

func TestRejectsMissingParams(t *testing.T) {
	server, _ := newTestServer(t)
	resp, err := http.Get(server.URL + "/ws?quizId=quiz-ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
