package recall

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"skb/internal/embedding"
	"skb/internal/logging"
	"skb/internal/vectorstore"
)

// keywordScore is the fixed score assigned to keyword-path hits. It
// sits below any decent vector match so semantic hits outrank
// substring coincidences.
const keywordScore = 0.5

// pathTimeout bounds each recall path independently. One slow path
// must not starve the others, and a timed-out path just contributes
// nothing.
const pathTimeout = 3 * time.Second

// ItemKind tells a result's origin apart
type ItemKind string

const (
	// ItemRecord is a hit on a learned question/answer record
	ItemRecord ItemKind = "record"
	// ItemFragment is a hit on an indexed code fragment
	ItemFragment ItemKind = "fragment"
)

// Item is one recall result
type Item struct {
	ID          string
	Kind        ItemKind
	Title       string
	Snippet     string
	Domain      string
	Score       float64
	SourceFiles []string
}

// DomainSummary condenses a domain's matching records
type DomainSummary struct {
	Domain      string
	Answers     []string
	SourceFiles []string
}

// Result is the merged outcome of one recall
type Result struct {
	Items     []Item
	Summaries []DomainSummary
}

// Embedder embeds a single text, returning nil on failure
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

// Reranker reorders candidates by cross-encoder relevance
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string) ([]embedding.RankedDocument, error)
}

// Recaller fans a query out over three paths and merges the results
type Recaller struct {
	repo     *Repository
	store    *vectorstore.Store
	embedder Embedder
	reranker Reranker // nil when the rerank stage is disabled
	logger   *logging.Logger
}

// New creates a recaller. Pass a nil reranker to skip the rerank stage.
func New(repo *Repository, store *vectorstore.Store, embedder Embedder, reranker Reranker, logger *logging.Logger) *Recaller {
	return &Recaller{
		repo:     repo,
		store:    store,
		embedder: embedder,
		reranker: reranker,
		logger:   logger.With("recall"),
	}
}

// Recall runs the three paths concurrently, each under its own
// timeout, and merges their results. A failed or timed-out path
// contributes an empty slice; recall degrades, it does not fail.
func (r *Recaller) Recall(ctx context.Context, projectKey, intent string, topK int) (*Result, error) {
	// One embedding of the intent serves both vector paths. An empty
	// result degrades them to nothing and the keyword path carries on.
	embedCtx, cancel := context.WithTimeout(ctx, pathTimeout)
	query := r.embedder.Embed(embedCtx, intent)
	cancel()

	var (
		wg       sync.WaitGroup
		vecHits  []Item
		keyHits  []Item
		fragHits []Item
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		vecHits = r.runPath(ctx, "record-vector", func(ctx context.Context) []Item {
			return r.recordVectorPath(ctx, projectKey, query, topK)
		})
	}()
	go func() {
		defer wg.Done()
		keyHits = r.runPath(ctx, "record-keyword", func(ctx context.Context) []Item {
			return r.recordKeywordPath(ctx, projectKey, intent, topK)
		})
	}()
	go func() {
		defer wg.Done()
		fragHits = r.runPath(ctx, "fragment-vector", func(ctx context.Context) []Item {
			return r.fragmentPath(ctx, query, topK)
		})
	}()
	wg.Wait()

	merged := merge(vecHits, keyHits, fragHits)
	merged = r.rerank(ctx, intent, merged, topK)
	if len(merged) > topK {
		merged = merged[:topK]
	}

	return &Result{
		Items:     merged,
		Summaries: summarize(merged),
	}, nil
}

// runPath executes one path with its own deadline, converting panics
// and overruns into an empty contribution
func (r *Recaller) runPath(ctx context.Context, name string, fn func(context.Context) []Item) []Item {
	ctx, cancel := context.WithTimeout(ctx, pathTimeout)
	defer cancel()

	done := make(chan []Item, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("recall path panicked", map[string]interface{}{
					"path":  name,
					"panic": p,
				})
				done <- nil
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case items := <-done:
		return items
	case <-ctx.Done():
		r.logger.Warn("recall path timed out", map[string]interface{}{"path": name})
		return nil
	}
}

func (r *Recaller) recordVectorPath(ctx context.Context, projectKey string, query []float32, topK int) []Item {
	_ = ctx
	if len(query) == 0 {
		return nil
	}
	records, err := r.repo.ListByProject(projectKey)
	if err != nil {
		r.logger.Warn("record vector path failed", map[string]interface{}{"error": err.Error()})
		return nil
	}

	var items []Item
	for _, rec := range records {
		score := vectorstore.Cosine(query, rec.Vector)
		if score <= 0 {
			continue
		}
		items = append(items, recordItem(rec, score))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	if len(items) > topK {
		items = items[:topK]
	}
	return items
}

func (r *Recaller) recordKeywordPath(ctx context.Context, projectKey, intent string, topK int) []Item {
	_ = ctx
	records, err := r.repo.SearchKeyword(projectKey, intent, topK)
	if err != nil {
		r.logger.Warn("record keyword path failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	items := make([]Item, 0, len(records))
	for _, rec := range records {
		items = append(items, recordItem(rec, keywordScore))
	}
	return items
}

func (r *Recaller) fragmentPath(ctx context.Context, query []float32, topK int) []Item {
	_ = ctx
	if len(query) == 0 {
		return nil
	}
	hits := r.store.Search(query, topK)
	items := make([]Item, 0, len(hits))
	for _, h := range hits {
		items = append(items, Item{
			ID:          h.Fragment.ID,
			Kind:        ItemFragment,
			Title:       h.Fragment.Title,
			Snippet:     snippet(h.Fragment.Content),
			Score:       h.Score,
			SourceFiles: []string{h.Fragment.FilePath},
		})
	}
	return items
}

func recordItem(rec LearningRecord, score float64) Item {
	return Item{
		ID:          rec.ID,
		Kind:        ItemRecord,
		Title:       rec.Question,
		Snippet:     snippet(rec.Answer),
		Domain:      rec.Domain,
		Score:       score,
		SourceFiles: rec.SourceFiles,
	}
}

// merge combines the paths by id. Vector hits win over keyword hits
// for the same record because their scores are real similarities, not
// the fixed keyword default.
func merge(vectorHits, keywordHits, fragmentHits []Item) []Item {
	seen := make(map[string]bool)
	var merged []Item

	for _, group := range [][]Item{vectorHits, keywordHits, fragmentHits} {
		for _, item := range group {
			if seen[item.ID] {
				continue
			}
			seen[item.ID] = true
			merged = append(merged, item)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	return merged
}

// rerank reorders candidates through the cross-encoder when one is
// configured and there are more candidates than requested. Any rerank
// failure keeps the original order.
func (r *Recaller) rerank(ctx context.Context, intent string, items []Item, topK int) []Item {
	if r.reranker == nil || len(items) <= topK {
		return items
	}

	docs := make([]string, len(items))
	for i, item := range items {
		docs[i] = item.Title + "\n" + item.Snippet
	}

	ranked, err := r.reranker.Rerank(ctx, intent, docs)
	if err != nil {
		r.logger.Warn("rerank failed, keeping similarity order", map[string]interface{}{
			"error": err.Error(),
		})
		return items
	}

	// Order by the scores themselves; the service's response order is
	// not trusted.
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	reordered := make([]Item, 0, len(ranked))
	taken := make(map[int]bool)
	for _, rd := range ranked {
		if rd.Index < 0 || rd.Index >= len(items) || taken[rd.Index] {
			continue
		}
		item := items[rd.Index]
		item.Score = rd.Score
		reordered = append(reordered, item)
		taken[rd.Index] = true
	}
	// Candidates the service did not score keep their original order
	// at the tail.
	for i, item := range items {
		if !taken[i] {
			reordered = append(reordered, item)
		}
	}
	return reordered
}

// summarize groups record hits per domain: first few distinct answers
// plus the union of source files
func summarize(items []Item) []DomainSummary {
	const maxAnswers = 3

	byDomain := make(map[string]*DomainSummary)
	var order []string

	for _, item := range items {
		if item.Kind != ItemRecord || item.Domain == "" {
			continue
		}
		s, ok := byDomain[item.Domain]
		if !ok {
			s = &DomainSummary{Domain: item.Domain}
			byDomain[item.Domain] = s
			order = append(order, item.Domain)
		}
		if len(s.Answers) < maxAnswers && !contains(s.Answers, item.Snippet) {
			s.Answers = append(s.Answers, item.Snippet)
		}
		for _, f := range item.SourceFiles {
			if !contains(s.SourceFiles, f) {
				s.SourceFiles = append(s.SourceFiles, f)
			}
		}
	}

	summaries := make([]DomainSummary, 0, len(order))
	for _, d := range order {
		summaries = append(summaries, *byDomain[d])
	}
	return summaries
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func snippet(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= 300 {
		return text
	}
	// Back up to a rune boundary so multi-byte text is never split
	// mid-sequence.
	cut := 300
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
