package memory

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

// SourceChunk is one retrievable slice of a note source. Vector is nil when
// no embedding provider is configured.
type SourceChunk struct {
	SourceID int64
	Index    int
	Text     string
	Vector   []float32
}

// ContextRepository caches note bodies and embedded source chunks used to
// build the system prompt, so follow-up turns on the same selection skip the
// REST and embedding round trips.
type ContextRepository struct {
	cache *cache.Cache
}

func NewContextRepository(ttl time.Duration) *ContextRepository {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ContextRepository{
		cache: cache.New(ttl, 2*ttl),
	}
}

func noteKey(id int64) string   { return fmt.Sprintf("note:%d", id) }
func sourceKey(id int64) string { return fmt.Sprintf("source:%d", id) }

func (r *ContextRepository) SaveNote(id int64, content string) {
	r.cache.Set(noteKey(id), content, cache.DefaultExpiration)
}

func (r *ContextRepository) GetNote(id int64) (string, bool) {
	if x, found := r.cache.Get(noteKey(id)); found {
		return x.(string), true
	}
	return "", false
}

func (r *ContextRepository) SaveSourceChunks(id int64, chunks []SourceChunk) {
	r.cache.Set(sourceKey(id), chunks, cache.DefaultExpiration)
}

func (r *ContextRepository) GetSourceChunks(id int64) ([]SourceChunk, bool) {
	if x, found := r.cache.Get(sourceKey(id)); found {
		return x.([]SourceChunk), true
	}
	return nil, false
}
