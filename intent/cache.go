package intent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/dmaraujo/recepcionista/kv"
)

// CachedClassifier memoizes classifications by (stage, normalized text)
// so repeated phrasings skip the model. Cache failures fall through to
// the inner classifier.
type CachedClassifier struct {
	inner Classifier
	cache kv.Cache
	ttl   time.Duration
}

// NewCachedClassifier wraps inner with a cache.
func NewCachedClassifier(inner Classifier, cache kv.Cache) *CachedClassifier {
	return &CachedClassifier{inner: inner, cache: cache, ttl: time.Hour}
}

func cacheKey(text, stage string) string {
	sum := sha256.Sum256([]byte(stage + "\x00" + text))
	return "intent:" + hex.EncodeToString(sum[:16])
}

// Classify implements Classifier.
func (c *CachedClassifier) Classify(ctx context.Context, text string, stage string) (Classification, error) {
	key := cacheKey(text, stage)
	if raw, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		var cached Classification
		if json.Unmarshal([]byte(raw), &cached) == nil && cached.Label != "" {
			if cached.Features == nil {
				cached.Features = map[string]string{}
			}
			cached.Features["cache"] = "hit"
			return cached, nil
		}
	}

	fresh, err := c.inner.Classify(ctx, text, stage)
	if err != nil {
		return Classification{}, err
	}
	if encoded, err := json.Marshal(fresh); err == nil {
		_ = c.cache.Set(ctx, key, string(encoded), c.ttl)
	}
	return fresh, nil
}
