package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"checkpoint-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// CatalogLoader fetches checkpoint definitions and question content from the authoring store.
type CatalogLoader interface {
	GetDefinition(ctx context.Context, checkpointID string) (domain.CheckpointDefinition, error)
	GetQuestionContents(ctx context.Context, questionIDs []string) (map[string]domain.QuestionContent, error)
}

// CatalogCache caches definitions and question content with TTL to avoid repeated DB hits.
type CatalogCache struct {
	loader CatalogLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu          sync.RWMutex
	definitions map[string]cachedDefinition
	contents    map[string]cachedContent
}

type cachedDefinition struct {
	def       domain.CheckpointDefinition
	expiresAt time.Time
}

type cachedContent struct {
	content   domain.QuestionContent
	expiresAt time.Time
}

func NewCatalogCache(loader CatalogLoader, ttl time.Duration) *CatalogCache {
	return &CatalogCache{
		loader:      loader,
		ttl:         ttl,
		clock:       time.Now,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
		definitions: make(map[string]cachedDefinition),
		contents:    make(map[string]cachedContent),
	}
}

func (c *CatalogCache) GetDefinition(ctx context.Context, checkpointID string) (domain.CheckpointDefinition, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.definitions[checkpointID]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.def, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(checkpointID, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.definitions[checkpointID]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.def, nil
		}
		c.mu.RUnlock()

		def, err := c.loader.GetDefinition(ctx, checkpointID)
		if err != nil {
			return domain.CheckpointDefinition{}, err
		}

		c.mu.Lock()
		c.definitions[checkpointID] = cachedDefinition{def: def, expiresAt: now.Add(c.ttlWithJitter())}
		c.mu.Unlock()
		return def, nil
	})
	if err != nil {
		return domain.CheckpointDefinition{}, err
	}
	return result.(domain.CheckpointDefinition), nil
}

// GetQuestionContents serves hits from the cache and loads all misses in one loader call.
func (c *CatalogCache) GetQuestionContents(ctx context.Context, questionIDs []string) (map[string]domain.QuestionContent, error) {
	now := c.clock()
	out := make(map[string]domain.QuestionContent, len(questionIDs))
	var misses []string

	c.mu.RLock()
	for _, id := range questionIDs {
		if entry, ok := c.contents[id]; ok && entry.expiresAt.After(now) {
			out[id] = entry.content
			continue
		}
		misses = append(misses, id)
	}
	c.mu.RUnlock()
	if len(misses) == 0 {
		return out, nil
	}

	loaded, err := c.loader.GetQuestionContents(ctx, misses)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	for id, content := range loaded {
		c.contents[id] = cachedContent{content: content, expiresAt: now.Add(c.ttlWithJitter())}
		out[id] = content
	}
	c.mu.Unlock()
	return out, nil
}

func (c *CatalogCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticCatalog is a simple catalog backed by in-memory maps (useful for tests/demos).
type StaticCatalog struct {
	definitions map[string]domain.CheckpointDefinition
	contents    map[string]domain.QuestionContent
}

func NewStaticCatalog(definitions []domain.CheckpointDefinition, contents []domain.QuestionContent) *StaticCatalog {
	c := &StaticCatalog{
		definitions: make(map[string]domain.CheckpointDefinition, len(definitions)),
		contents:    make(map[string]domain.QuestionContent, len(contents)),
	}
	for _, d := range definitions {
		c.definitions[d.Checkpoint.ID] = d
	}
	for _, q := range contents {
		c.contents[q.ID] = q
	}
	return c
}

func (c *StaticCatalog) GetDefinition(_ context.Context, checkpointID string) (domain.CheckpointDefinition, error) {
	if def, ok := c.definitions[checkpointID]; ok {
		return def, nil
	}
	return domain.CheckpointDefinition{}, domain.NotFound("Checkpoint")
}

func (c *StaticCatalog) GetQuestionContents(_ context.Context, questionIDs []string) (map[string]domain.QuestionContent, error) {
	out := make(map[string]domain.QuestionContent, len(questionIDs))
	for _, id := range questionIDs {
		if q, ok := c.contents[id]; ok {
			out[id] = q
		}
	}
	return out, nil
}

// StaticAccommodations serves accommodation records from memory.
type StaticAccommodations struct {
	records map[string]domain.Accommodation
}

func NewStaticAccommodations(records ...domain.Accommodation) *StaticAccommodations {
	a := &StaticAccommodations{records: make(map[string]domain.Accommodation, len(records))}
	for _, r := range records {
		a.records[r.UserID+"/"+r.CommunityID] = r
	}
	return a
}

func (a *StaticAccommodations) GetAccommodation(_ context.Context, userID, communityID string) (domain.Accommodation, bool, error) {
	r, ok := a.records[userID+"/"+communityID]
	return r, ok, nil
}
