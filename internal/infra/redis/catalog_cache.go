package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"checkpoint-service/internal/app"
	"checkpoint-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// CatalogCache caches checkpoint definitions and question content in Redis and falls back to a loader on miss.
// Definitions are stored as: SET checkpoint:{checkpointID}:definition {json}
// Contents are stored as:    SET question:{questionID}:content {json}
type CatalogCache struct {
	client *redis.Client
	loader app.Catalog
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex
}

func NewCatalogCache(client *redis.Client, loader app.Catalog, ttl time.Duration) *CatalogCache {
	return &CatalogCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *CatalogCache) GetDefinition(ctx context.Context, checkpointID string) (domain.CheckpointDefinition, error) {
	key := definitionKey(checkpointID)
	if def, ok := c.cachedDefinition(ctx, key); ok {
		return def, nil
	}

	result, err, _ := c.sf.Do(checkpointID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if def, ok := c.cachedDefinition(ctx, key); ok {
			return def, nil
		}
		def, err := c.loader.GetDefinition(ctx, checkpointID)
		if err != nil {
			return domain.CheckpointDefinition{}, err
		}
		if raw, err := json.Marshal(def); err == nil {
			_ = c.client.Set(ctx, key, raw, c.ttlWithJitter()).Err()
		}
		return def, nil
	})
	if err != nil {
		return domain.CheckpointDefinition{}, err
	}
	return result.(domain.CheckpointDefinition), nil
}

func (c *CatalogCache) cachedDefinition(ctx context.Context, key string) (domain.CheckpointDefinition, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return domain.CheckpointDefinition{}, false
	}
	var def domain.CheckpointDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return domain.CheckpointDefinition{}, false
	}
	return def, true
}

// GetQuestionContents reads every key with one MGET and loads all misses in one loader call.
func (c *CatalogCache) GetQuestionContents(ctx context.Context, questionIDs []string) (map[string]domain.QuestionContent, error) {
	out := make(map[string]domain.QuestionContent, len(questionIDs))
	if len(questionIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(questionIDs))
	for i, id := range questionIDs {
		keys[i] = contentKey(id)
	}

	// A Redis failure leaves every id a miss and the loader serves them.
	misses := questionIDs
	if values, err := c.client.MGet(ctx, keys...).Result(); err == nil {
		misses = nil
		for i, v := range values {
			s, ok := v.(string)
			if !ok {
				misses = append(misses, questionIDs[i])
				continue
			}
			var snap contentSnapshot
			if err := json.Unmarshal([]byte(s), &snap); err != nil {
				misses = append(misses, questionIDs[i])
				continue
			}
			out[questionIDs[i]] = snap.domain()
		}
	}
	if len(misses) == 0 {
		return out, nil
	}

	loaded, err := c.loader.GetQuestionContents(ctx, misses)
	if err != nil {
		return nil, err
	}
	pipe := c.client.Pipeline()
	for id, content := range loaded {
		out[id] = content
		raw, err := json.Marshal(newContentSnapshot(content))
		if err != nil {
			continue
		}
		pipe.Set(ctx, contentKey(id), raw, c.ttlWithJitter())
	}
	_, _ = pipe.Exec(ctx)
	return out, nil
}

// InvalidateDefinition drops the cached definition after the catalog changes it.
func (c *CatalogCache) InvalidateDefinition(ctx context.Context, checkpointID string) error {
	return c.client.Del(ctx, definitionKey(checkpointID)).Err()
}

func definitionKey(checkpointID string) string {
	return "checkpoint:" + checkpointID + ":definition"
}

func contentKey(questionID string) string {
	return "question:" + questionID + ":content"
}

func (c *CatalogCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// contentSnapshot is the cached form of question content. Unlike the domain type it keeps the answer key.
type contentSnapshot struct {
	ID           string           `json:"id"`
	QuestionType string           `json:"question_type"`
	Prompt       string           `json:"prompt"`
	Points       float64          `json:"points"`
	Options      []optionSnapshot `json:"options"`
}

type optionSnapshot struct {
	ID              string `json:"id"`
	Text            string `json:"text"`
	DisplayOrder    int    `json:"display_order"`
	IsCorrect       bool   `json:"is_correct"`
	CorrectPosition *int   `json:"correct_position,omitempty"`
}

func newContentSnapshot(c domain.QuestionContent) contentSnapshot {
	snap := contentSnapshot{
		ID:           c.ID,
		QuestionType: string(c.QuestionType),
		Prompt:       c.Prompt,
		Points:       c.Points,
		Options:      make([]optionSnapshot, len(c.Options)),
	}
	for i, o := range c.Options {
		snap.Options[i] = optionSnapshot{
			ID:              o.ID,
			Text:            o.Text,
			DisplayOrder:    o.DisplayOrder,
			IsCorrect:       o.IsCorrect,
			CorrectPosition: o.CorrectPosition,
		}
	}
	return snap
}

func (s contentSnapshot) domain() domain.QuestionContent {
	c := domain.QuestionContent{
		ID:           s.ID,
		QuestionType: domain.QuestionType(s.QuestionType),
		Prompt:       s.Prompt,
		Points:       s.Points,
		Options:      make([]domain.QuestionOption, len(s.Options)),
	}
	for i, o := range s.Options {
		c.Options[i] = domain.QuestionOption{
			ID:              o.ID,
			Text:            o.Text,
			DisplayOrder:    o.DisplayOrder,
			IsCorrect:       o.IsCorrect,
			CorrectPosition: o.CorrectPosition,
		}
	}
	return c
}
