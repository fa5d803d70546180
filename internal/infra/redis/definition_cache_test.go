package redis

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/app"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/infra/memory"
)

var sampleDefinition = []byte(`{
	"schemaVersion": 2,
	"quizId": "quiz-1",
	"title": "Cached",
	"downloadCode": "CC01",
	"questions": [
		{"id": "q1", "type": "single", "text": "pick",
		 "options": [{"id": "a", "text": "x"}], "correct": ["a"]}
	]
}`)

type countingRemote struct {
	app.RemoteStore
	byID   atomic.Int32
	byCode atomic.Int32
}

func (c *countingRemote) QuizByID(ctx context.Context, quizID string) ([]byte, error) {
	c.byID.Add(1)
	return c.RemoteStore.QuizByID(ctx, quizID)
}

func (c *countingRemote) QuizByCode(ctx context.Context, code string) ([]byte, error) {
	c.byCode.Add(1)
	return c.RemoteStore.QuizByCode(ctx, code)
}

func newCacheEnv(t *testing.T) (*DefinitionCache, *countingRemote) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	backing := memory.NewRemoteStore()
	backing.PutQuiz("quiz-1", "CC01", sampleDefinition)
	remote := &countingRemote{RemoteStore: backing}

	return NewDefinitionCache(remote, client, time.Minute), remote
}

func TestQuizByIDServedFromCache(t *testing.T) {
	cache, remote := newCacheEnv(t)
	ctx := context.Background()

	raw, err := cache.QuizByID(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	if !bytes.Equal(raw, sampleDefinition) {
		t.Fatal("cache must return the raw bytes unchanged")
	}
	if remote.byID.Load() != 1 {
		t.Fatalf("expected one backing read, got %d", remote.byID.Load())
	}

	if _, err := cache.QuizByID(ctx, "quiz-1"); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if remote.byID.Load() != 1 {
		t.Fatalf("expected cache hit, backing reads=%d", remote.byID.Load())
	}
}

func TestQuizByCodePrimesDefinition(t *testing.T) {
	cache, remote := newCacheEnv(t)
	ctx := context.Background()

	if _, err := cache.QuizByCode(ctx, "CC01"); err != nil {
		t.Fatalf("by code: %v", err)
	}
	// The code lookup primed the per-id entry.
	if _, err := cache.QuizByID(ctx, "quiz-1"); err != nil {
		t.Fatalf("by id: %v", err)
	}
	if remote.byID.Load() != 0 {
		t.Fatalf("id read should be served from the primed cache, got %d backing reads", remote.byID.Load())
	}

	if _, err := cache.QuizByCode(ctx, "CC01"); err != nil {
		t.Fatalf("second by code: %v", err)
	}
	if remote.byCode.Load() != 1 {
		t.Fatalf("expected one backing code read, got %d", remote.byCode.Load())
	}
}

func TestInvalidateForcesReload(t *testing.T) {
	cache, remote := newCacheEnv(t)
	ctx := context.Background()

	if _, err := cache.QuizByID(ctx, "quiz-1"); err != nil {
		t.Fatalf("first read: %v", err)
	}
	if err := cache.Invalidate(ctx, "quiz-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := cache.QuizByID(ctx, "quiz-1"); err != nil {
		t.Fatalf("read after invalidate: %v", err)
	}
	if remote.byID.Load() != 2 {
		t.Fatalf("expected reload after invalidate, backing reads=%d", remote.byID.Load())
	}
}

func TestMissPassesThroughError(t *testing.T) {
	cache, _ := newCacheEnv(t)
	if _, err := cache.QuizByID(context.Background(), "nope"); err == nil {
		t.Fatal("expected an error for an unknown quiz")
	}
}
