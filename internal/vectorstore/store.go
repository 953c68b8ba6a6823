package vectorstore

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/xxh3"

	"skb/internal/config"
	"skb/internal/logging"
	"skb/internal/storage"
)

// Store is the three-tier fragment store facade. Writes go through to
// SQLite first; the memory tiers follow only after the durable write
// succeeds, so a crash can lose cache warmth but never data.
type Store struct {
	persist *persister
	index   *memIndex

	fragmentCache *lru.Cache[string, Fragment]
	queryCache    *lru.Cache[string, []Hit]

	defaultTopK int
	logger      *logging.Logger
}

// New creates a store backed by the given database
func New(db *storage.DB, cfg config.StoreConfig, projectKey string, logger *logging.Logger) (*Store, error) {
	persist, err := newPersister(db, projectKey)
	if err != nil {
		return nil, err
	}

	fragmentCache, err := lru.New[string, Fragment](cfg.FragmentCacheSize)
	if err != nil {
		return nil, err
	}
	queryCache, err := lru.New[string, []Hit](cfg.QueryCacheSize)
	if err != nil {
		return nil, err
	}

	return &Store{
		persist:       persist,
		index:         newMemIndex(),
		fragmentCache: fragmentCache,
		queryCache:    queryCache,
		defaultTopK:   cfg.DefaultTopK,
		logger:        logger.With("vectorstore"),
	}, nil
}

// Rebuild reloads the memory tiers from the durable tier. Called at
// startup and by recover, it makes the memory state exactly match disk.
func (s *Store) Rebuild() error {
	fragments, err := s.persist.loadAll()
	if err != nil {
		return err
	}
	s.index.replace(fragments)
	s.fragmentCache.Purge()
	s.queryCache.Purge()
	s.logger.Info("memory tiers rebuilt", map[string]interface{}{
		"fragments": len(fragments),
	})
	return nil
}

// UpsertFile replaces every fragment of a file with the given set.
// Stale fragments of the file disappear atomically with the insert.
func (s *Store) UpsertFile(filePath string, fragments []Fragment) error {
	if err := s.persist.upsertFile(filePath, fragments); err != nil {
		return err
	}

	for _, id := range s.index.idsForFile(filePath) {
		s.index.delete(id)
		s.fragmentCache.Remove(id)
	}
	for _, f := range fragments {
		s.index.put(f)
	}
	s.queryCache.Purge()
	return nil
}

// Add stores or replaces a single fragment in every tier
func (s *Store) Add(f Fragment) error {
	if err := s.persist.upsert(f); err != nil {
		return err
	}
	s.index.put(f)
	s.fragmentCache.Remove(f.ID)
	s.queryCache.Purge()
	return nil
}

// Delete removes a single fragment from every tier
func (s *Store) Delete(id string) error {
	if err := s.persist.deleteByID(id); err != nil {
		return err
	}
	s.index.delete(id)
	s.fragmentCache.Remove(id)
	s.queryCache.Purge()
	return nil
}

// DeleteFile removes all fragments of a file from every tier
func (s *Store) DeleteFile(filePath string) error {
	if err := s.persist.deleteFile(filePath); err != nil {
		return err
	}
	for _, id := range s.index.idsForFile(filePath) {
		s.index.delete(id)
		s.fragmentCache.Remove(id)
	}
	s.queryCache.Purge()
	return nil
}

// Get returns a fragment by id, consulting the hot cache first
func (s *Store) Get(id string) (Fragment, bool) {
	if f, ok := s.fragmentCache.Get(id); ok {
		return f, true
	}
	f, ok := s.index.get(id)
	if ok {
		s.fragmentCache.Add(id, f)
	}
	return f, ok
}

// Search returns the topK most similar fragments for a query vector.
// Identical repeated queries are answered from the query cache until
// the next write.
func (s *Store) Search(query []float32, topK int) []Hit {
	if topK <= 0 {
		topK = s.defaultTopK
	}
	if len(query) == 0 {
		return nil
	}

	key := queryKey(query, topK)
	if hits, ok := s.queryCache.Get(key); ok {
		return hits
	}

	hits := s.index.search(query, topK)
	s.queryCache.Add(key, hits)
	return hits
}

// Size returns the number of fragments in the memory index
func (s *Store) Size() int {
	return s.index.size()
}

// DurableCount returns the number of fragments on disk
func (s *Store) DurableCount() (int, error) {
	return s.persist.count()
}

func queryKey(query []float32, topK int) string {
	return fmt.Sprintf("%016x:%d", xxh3.Hash(encodeVector(query)), topK)
}
