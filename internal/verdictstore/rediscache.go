package verdictstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFacts is the ephemeral domain-facts cache of spec §4.7, backed by
// Redis (the teacher's queue/cache dependency). Verdicts are never stored
// here; only MX, catch-all, and provider classification.
type RedisFacts struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisFacts wraps an existing redis.Client with the facts TTL.
func NewRedisFacts(client *redis.Client, ttl time.Duration) *RedisFacts {
	return &RedisFacts{client: client, ttl: ttl}
}

func factsKey(domain string) string { return "verihost:domain:" + domain }

func (r *RedisFacts) Get(ctx context.Context, domain string) (DomainFacts, bool) {
	val, err := r.client.Get(ctx, factsKey(domain)).Result()
	if err != nil {
		return DomainFacts{}, false
	}
	var facts DomainFacts
	if err := json.Unmarshal([]byte(val), &facts); err != nil {
		return DomainFacts{}, false
	}
	return facts, true
}

func (r *RedisFacts) Put(ctx context.Context, facts DomainFacts) error {
	payload, err := json.Marshal(facts)
	if err != nil {
		return fmt.Errorf("verdictstore: marshal domain facts: %w", err)
	}
	if err := r.client.Set(ctx, factsKey(facts.Domain), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("verdictstore: redis set: %w", err)
	}
	return nil
}

func (r *RedisFacts) Ready(ctx context.Context) bool {
	return r.client.Ping(ctx).Err() == nil
}
