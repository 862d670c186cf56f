package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Agent kinds describe the category of output a capability provider produces.
const (
	KindText       = "text"
	KindStructured = "structured"
	KindMedia      = "media"
)

// Field targets name the request bucket a configurable field feeds into.
const (
	TargetPrimary = "primary"
	TargetBody    = "body"
	TargetExtra   = "extra"
)

// ConfigField describes one configurable parameter of an agent.
type ConfigField struct {
	Name        string   `json:"name"`
	Type        string   `json:"type,omitempty"`
	Description string   `json:"description,omitempty"`
	Target      string   `json:"target"`
	Options     []string `json:"options,omitempty"`
}

// AgentDescriptor is a read-only catalog entry for a capability provider.
type AgentDescriptor struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name"`
	Description         string        `json:"description"`
	Kind                string        `json:"kind"`
	Endpoint            string        `json:"endpoint"`
	ConfigFields        []ConfigField `json:"config_fields,omitempty"`
	ComplexityThreshold *float64      `json:"complexity_threshold,omitempty"`
}

// Catalog exposes the live set of capability providers.
type Catalog interface {
	// Agents returns every descriptor currently known.
	Agents(ctx context.Context) []AgentDescriptor

	// Agent looks up a descriptor by identifier.
	Agent(ctx context.Context, id string) (AgentDescriptor, bool)
}

// Source fetches the raw descriptor set from wherever the catalog lives.
type Source interface {
	Fetch(ctx context.Context) ([]AgentDescriptor, error)
}

// CachedCatalog is a read-through cache over a Source with a fixed TTL.
// Fetch failures and malformed payloads yield an empty catalog, never an
// error, so callers degrade to "no providers available".
type CachedCatalog struct {
	source Source
	ttl    time.Duration
	logger *log.Logger
	now    func() time.Time

	mu        sync.Mutex
	agents    []AgentDescriptor
	fetchedAt time.Time
}

// NewCachedCatalog wraps source with a TTL cache.
func NewCachedCatalog(source Source, ttl time.Duration) *CachedCatalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedCatalog{
		source: source,
		ttl:    ttl,
		logger: log.New(log.Writer(), "[CATALOG] ", log.LstdFlags),
		now:    time.Now,
	}
}

// Agents returns the cached descriptor set, refreshing when the TTL lapsed.
func (c *CachedCatalog) Agents(ctx context.Context) []AgentDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.agents
	}

	agents, err := c.source.Fetch(ctx)
	if err != nil {
		c.logger.Printf("catalog fetch failed: %v", err)
		agents = nil
	}
	c.agents = agents
	c.fetchedAt = c.now()
	return c.agents
}

// Agent looks up one descriptor by id.
func (c *CachedCatalog) Agent(ctx context.Context, id string) (AgentDescriptor, bool) {
	for _, a := range c.Agents(ctx) {
		if a.ID == id {
			return a, true
		}
	}
	return AgentDescriptor{}, false
}

// RedisSource reads a JSON-encoded descriptor array from a redis key.
type RedisSource struct {
	client *redis.Client
	key    string
}

// NewRedisSource builds a Source backed by the given redis key.
func NewRedisSource(client *redis.Client, key string) *RedisSource {
	return &RedisSource{client: client, key: key}
}

// Fetch reads and decodes the descriptor set.
func (s *RedisSource) Fetch(ctx context.Context) ([]AgentDescriptor, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog read: %w", err)
	}
	var agents []AgentDescriptor
	if err := json.Unmarshal([]byte(val), &agents); err != nil {
		return nil, fmt.Errorf("catalog decode: %w", err)
	}
	return agents, nil
}

// StaticSource serves a fixed descriptor set, used for dev setups and tests.
type StaticSource struct {
	agents []AgentDescriptor
}

// NewStaticSource builds a Source from an in-memory descriptor list.
func NewStaticSource(agents []AgentDescriptor) *StaticSource {
	return &StaticSource{agents: agents}
}

func (s *StaticSource) Fetch(ctx context.Context) ([]AgentDescriptor, error) {
	return s.agents, nil
}
