package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"skb/internal/config"
	"skb/internal/logging"
	"skb/internal/skberr"
	"skb/internal/storage"
	"skb/internal/tracker"
	"skb/internal/vectorstore"
)

// Describer produces a markdown description of a source file
type Describer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Embedder embeds a batch of texts, returning nil on failure
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) [][]float32
}

// Pipeline drives the file-to-fragments flow. Files are processed
// sequentially so one run never holds more than one LLM call in
// flight.
type Pipeline struct {
	cfg      *config.Config
	tracker  *tracker.Tracker
	describe Describer
	embed    Embedder
	store    *vectorstore.Store
	db       *storage.DB
	logger   *logging.Logger
}

// New creates a pipeline
func New(cfg *config.Config, tr *tracker.Tracker, describe Describer, embed Embedder,
	store *vectorstore.Store, db *storage.DB, logger *logging.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		tracker:  tr,
		describe: describe,
		embed:    embed,
		store:    store,
		db:       db,
		logger:   logger.With("pipeline"),
	}
}

// errUnsupported marks files the classifier cannot place; they count
// as skipped, not failed
var errUnsupported = skberr.New(skberr.FragmentParse, "unsupported source structure")

// FileError records a per-file failure without aborting the run
type FileError struct {
	Path  string
	Error string
}

// VectorizationResult aggregates one pipeline run
type VectorizationResult struct {
	Total        int
	Processed    int
	Skipped      int
	TotalVectors int
	Errors       []FileError
	ElapsedMs    int64
}

// VectorizeProject scans eligible source files and processes every one
// that changed since its snapshot (or all of them when force is set).
// A single bad file is recorded and the run continues.
func (p *Pipeline) VectorizeProject(ctx context.Context, force bool) (*VectorizationResult, error) {
	start := time.Now()

	files, err := p.eligibleFiles()
	if err != nil {
		return nil, err
	}

	result := &VectorizationResult{Total: len(files)}
	for _, rel := range files {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if !force {
			changed, err := p.tracker.HasChanged(rel)
			if err != nil {
				result.Errors = append(result.Errors, FileError{Path: rel, Error: err.Error()})
				continue
			}
			if !changed {
				result.Skipped++
				continue
			}
		}

		vectors, err := p.processFile(ctx, rel)
		if err != nil {
			if errors.Is(err, errUnsupported) {
				result.Skipped++
				continue
			}
			p.logger.Warn("file processing failed", map[string]interface{}{
				"file":  rel,
				"error": err.Error(),
			})
			result.Errors = append(result.Errors, FileError{Path: rel, Error: err.Error()})
			continue
		}
		result.Processed++
		result.TotalVectors += vectors
	}

	if err := p.tracker.Flush(); err != nil {
		p.logger.Error("failed to flush snapshot cache", map[string]interface{}{
			"error": err.Error(),
		})
	}
	p.writeIndexMeta()

	result.ElapsedMs = time.Since(start).Milliseconds()
	p.logger.Info("vectorization run finished", map[string]interface{}{
		"total":     result.Total,
		"processed": result.Processed,
		"skipped":   result.Skipped,
		"vectors":   result.TotalVectors,
		"errors":    len(result.Errors),
		"elapsedMs": result.ElapsedMs,
	})
	return result, nil
}

// processFile runs the per-file flow and returns the number of vectors
// stored. The tracker snapshot is updated right after the markdown
// artifact is persisted and before embedding: a crash from then on
// costs only a cheap re-embedding via recovery, never a repeated LLM
// call.
func (p *Pipeline) processFile(ctx context.Context, rel string) (int, error) {
	abs := filepath.Join(p.cfg.RepoRoot, filepath.FromSlash(rel))
	source, err := os.ReadFile(abs)
	if err != nil {
		return 0, skberr.Wrap(skberr.FileNotFound, "failed to read source file", err)
	}

	class := Classify(string(source))
	if class == UnsupportedSource {
		return 0, errUnsupported
	}

	body, err := p.describe.Complete(ctx, describeSystemPrompt,
		describePrompt(class, languageOf(rel), string(source)))
	if err != nil {
		return 0, err
	}

	artifact := Artifact{
		Meta: artifactMeta{
			File:      rel,
			Kind:      string(class),
			Title:     titleOf(rel),
			Generated: time.Now().UTC(),
		},
		Body: body,
	}
	if err := writeArtifact(p.docsDir(), rel, artifact); err != nil {
		return 0, err
	}

	if _, err := p.tracker.TrackFile(rel); err != nil {
		return 0, err
	}
	// The snapshot must be on disk before embedding starts: a crash
	// from here on costs a re-embedding, never a repeated LLM call.
	if err := p.tracker.Flush(); err != nil {
		return 0, err
	}

	return p.embedAndStore(ctx, artifact, rel)
}

// embedAndStore parses an artifact, embeds its fragments and replaces
// the file's entry in the store. Fragments whose embedding comes back
// empty are stored without a vector; they stay invisible to search
// until a later run embeds them.
func (p *Pipeline) embedAndStore(ctx context.Context, artifact Artifact, rel string) (int, error) {
	fragments := ParseFragments(artifact, p.cfg.ProjectKey)
	if len(fragments) == 0 {
		return 0, skberr.Newf(skberr.FragmentParse, "artifact for %s yields no fragments", rel)
	}

	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Content
	}

	vectors := p.embed.EmbedBatch(ctx, texts)
	stored := 0
	if len(vectors) == len(fragments) {
		for i := range fragments {
			if len(vectors[i]) > 0 {
				fragments[i].Vector = vectors[i]
				stored++
			}
		}
	} else if vectors != nil {
		p.logger.Warn("embedding count mismatch, storing fragments unvectorized", map[string]interface{}{
			"file":      rel,
			"fragments": len(fragments),
			"vectors":   len(vectors),
		})
	}

	if err := p.store.UpsertFile(rel, fragments); err != nil {
		return 0, err
	}
	return stored, nil
}

// RecoverFromArtifacts rebuilds the vector index from persisted
// markdown, bypassing the LLM entirely. Used after data loss or an
// embedding-model change.
func (p *Pipeline) RecoverFromArtifacts(ctx context.Context) (*VectorizationResult, error) {
	start := time.Now()
	result := &VectorizationResult{}

	docsDir := p.docsDir()
	err := filepath.WalkDir(docsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == docsDir {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result.Total++
		artifact, err := readArtifact(path)
		if err != nil {
			result.Errors = append(result.Errors, FileError{Path: path, Error: err.Error()})
			return nil
		}

		vectors, err := p.embedAndStore(ctx, artifact, artifact.Meta.File)
		if err != nil {
			result.Errors = append(result.Errors, FileError{Path: artifact.Meta.File, Error: err.Error()})
			return nil
		}
		result.Processed++
		result.TotalVectors += vectors
		return nil
	})
	if err != nil {
		return nil, skberr.Wrap(skberr.StoreIO, "artifact walk failed", err)
	}

	p.writeIndexMeta()
	result.ElapsedMs = time.Since(start).Milliseconds()
	p.logger.Info("recovery run finished", map[string]interface{}{
		"artifacts": result.Total,
		"processed": result.Processed,
		"vectors":   result.TotalVectors,
		"errors":    len(result.Errors),
	})
	return result, nil
}

func (p *Pipeline) docsDir() string {
	return filepath.Join(p.cfg.RepoRoot, config.Dir, "docs")
}

// eligibleFiles walks the repository and returns project-relative
// paths of files the pipeline should consider
func (p *Pipeline) eligibleFiles() ([]string, error) {
	var files []string
	root := p.cfg.RepoRoot

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path == root {
				return nil
			}
			if strings.HasPrefix(name, ".") || p.isExcluded(name) {
				return filepath.SkipDir
			}
			if !p.cfg.Sources.IncludeTests && (name == "test" || name == "tests") {
				return filepath.SkipDir
			}
			return nil
		}
		if !p.hasEligibleExtension(name) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, skberr.Wrap(skberr.StoreIO, "source walk failed", err)
	}
	return files, nil
}

func (p *Pipeline) isExcluded(dirName string) bool {
	for _, ex := range p.cfg.Sources.Excludes {
		if ok, _ := filepath.Match(ex, dirName); ok {
			return true
		}
	}
	return false
}

func (p *Pipeline) hasEligibleExtension(name string) bool {
	for _, ext := range p.cfg.Sources.Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// writeIndexMeta records what produced the current index
func (p *Pipeline) writeIndexMeta() {
	if p.db == nil {
		return
	}
	meta := map[string]string{
		"embedding_model":     p.cfg.Embedding.Model,
		"embedding_dimension": strconv.Itoa(p.cfg.Embedding.Dimension),
		"last_build":          time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range meta {
		if err := p.db.SetMeta(k, v); err != nil {
			p.logger.Warn("failed to write index metadata", map[string]interface{}{
				"key":   k,
				"error": err.Error(),
			})
			return
		}
	}
}

func titleOf(rel string) string {
	base := filepath.Base(rel)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func languageOf(rel string) string {
	switch filepath.Ext(rel) {
	case ".java":
		return "Java"
	case ".kt":
		return "Kotlin"
	case ".go":
		return "Go"
	default:
		return "source"
	}
}
