// Package redis caches quiz definitions in front of the remote store, so a
// fleet of devices hammering the same quiz (exam start, worker drains) hits
// the backing store once per TTL instead of once per device.
package redis

import (
	"context"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/app"
	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/domain"
)

// DefinitionCache decorates a RemoteStore: definition reads are served from
// Redis when possible, everything else passes through untouched. Raw bytes
// are cached, never parsed forms, so the strict parser stays the single
// gatekeeper.
type DefinitionCache struct {
	next   app.RemoteStore
	client *redis.Client
	ttl    time.Duration
	sf     singleflight.Group
}

func NewDefinitionCache(next app.RemoteStore, client *redis.Client, ttl time.Duration) *DefinitionCache {
	return &DefinitionCache{next: next, client: client, ttl: ttl}
}

func (c *DefinitionCache) QuizByID(ctx context.Context, quizID string) ([]byte, error) {
	key := c.defKey(quizID)
	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil && len(raw) > 0 {
		return raw, nil
	}

	result, err, _ := c.sf.Do("id:"+quizID, func() (interface{}, error) {
		// Re-check in case another goroutine filled it.
		if raw, err := c.client.Get(ctx, key).Bytes(); err == nil && len(raw) > 0 {
			return raw, nil
		}
		raw, err := c.next.QuizByID(ctx, quizID)
		if err != nil {
			return nil, err
		}
		// Cache trouble never fails the read.
		_ = c.client.Set(ctx, key, raw, c.ttlWithJitter()).Err()
		return raw, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (c *DefinitionCache) QuizByCode(ctx context.Context, code string) ([]byte, error) {
	codeKey := c.codeKey(code)
	if quizID, err := c.client.Get(ctx, codeKey).Result(); err == nil && quizID != "" {
		if raw, err := c.QuizByID(ctx, quizID); err == nil {
			return raw, nil
		}
	}

	result, err, _ := c.sf.Do("code:"+code, func() (interface{}, error) {
		raw, err := c.next.QuizByCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if quiz, perr := domain.ParseDefinition(raw); perr == nil {
			ttl := c.ttlWithJitter()
			pipe := c.client.Pipeline()
			pipe.Set(ctx, codeKey, quiz.ID, ttl)
			pipe.Set(ctx, c.defKey(quiz.ID), raw, ttl)
			_, _ = pipe.Exec(ctx)
		}
		return raw, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// Invalidate drops the cached definition, forcing the next read through.
func (c *DefinitionCache) Invalidate(ctx context.Context, quizID string) error {
	return c.client.Del(ctx, c.defKey(quizID)).Err()
}

func (c *DefinitionCache) CreateResponse(ctx context.Context, resp domain.Response) (string, error) {
	return c.next.CreateResponse(ctx, resp)
}

func (c *DefinitionCache) UpdateResponse(ctx context.Context, responseID string, fields map[string]any) error {
	return c.next.UpdateResponse(ctx, responseID, fields)
}

func (c *DefinitionCache) AppendSwitchEvent(ctx context.Context, responseID string, ev domain.SwitchEvent) error {
	return c.next.AppendSwitchEvent(ctx, responseID, ev)
}

func (c *DefinitionCache) ResponseByQuizAndStudent(ctx context.Context, quizID, studentID string) (domain.Response, error) {
	return c.next.ResponseByQuizAndStudent(ctx, quizID, studentID)
}

func (c *DefinitionCache) ResponseByQuizAndDevice(ctx context.Context, quizID, deviceID string) (domain.Response, error) {
	return c.next.ResponseByQuizAndDevice(ctx, quizID, deviceID)
}

func (c *DefinitionCache) defKey(quizID string) string { return "quizdef:" + quizID }
func (c *DefinitionCache) codeKey(code string) string  { return "quizcode:" + code }

func (c *DefinitionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
