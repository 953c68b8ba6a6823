package vectorstore

import (
	"sort"
	"sync"
)

// memIndex is the middle tier: every fragment's vector held in memory
// for brute-force similarity scans. Project indexes stay small enough
// (thousands of fragments) that a linear scan beats the bookkeeping of
// an approximate index.
type memIndex struct {
	mu        sync.RWMutex
	fragments map[string]Fragment
}

func newMemIndex() *memIndex {
	return &memIndex{fragments: make(map[string]Fragment)}
}

func (m *memIndex) put(f Fragment) {
	m.mu.Lock()
	m.fragments[f.ID] = f
	m.mu.Unlock()
}

func (m *memIndex) delete(id string) {
	m.mu.Lock()
	delete(m.fragments, id)
	m.mu.Unlock()
}

func (m *memIndex) get(id string) (Fragment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.fragments[id]
	return f, ok
}

// idsForFile returns the ids of all fragments belonging to a file
func (m *memIndex) idsForFile(filePath string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, f := range m.fragments {
		if f.FilePath == filePath {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *memIndex) size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.fragments)
}

// search scans every fragment and returns the topK best hits in
// descending score order
func (m *memIndex) search(query []float32, topK int) []Hit {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]Hit, 0, len(m.fragments))
	for _, f := range m.fragments {
		score := Cosine(query, f.Vector)
		if score <= 0 {
			continue
		}
		hits = append(hits, Hit{Fragment: f, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Fragment.ID < hits[j].Fragment.ID
	})

	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// replace swaps in a full fragment set, used on rebuild
func (m *memIndex) replace(fragments []Fragment) {
	next := make(map[string]Fragment, len(fragments))
	for _, f := range fragments {
		next[f.ID] = f
	}
	m.mu.Lock()
	m.fragments = next
	m.mu.Unlock()
}
