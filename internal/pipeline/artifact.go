package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"skb/internal/skberr"
	"skb/internal/vectorstore"
)

// artifactMeta is the YAML front matter of a persisted markdown artifact
type artifactMeta struct {
	File      string    `yaml:"file"`
	Kind      string    `yaml:"kind"`
	Title     string    `yaml:"title"`
	Generated time.Time `yaml:"generated"`
}

// Artifact is one persisted description document: front matter plus
// the markdown body produced by the model
type Artifact struct {
	Meta artifactMeta
	Body string
}

// artifactPath maps a source file to its markdown artifact under
// .skb/docs, mirroring the source tree
func artifactPath(docsDir, relPath string) string {
	return filepath.Join(docsDir, filepath.FromSlash(relPath)+".md")
}

// writeArtifact persists an artifact atomically
func writeArtifact(docsDir, relPath string, a Artifact) error {
	path := artifactPath(docsDir, relPath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return skberr.Wrap(skberr.StoreIO, "failed to create docs directory", err)
	}

	fm, err := yaml.Marshal(a.Meta)
	if err != nil {
		return skberr.Wrap(skberr.Internal, "failed to marshal artifact front matter", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(fm)
	b.WriteString("---\n\n")
	b.WriteString(strings.TrimSpace(a.Body))
	b.WriteString("\n")

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0644); err != nil {
		return skberr.Wrap(skberr.StoreIO, fmt.Sprintf("failed to write artifact for %s", relPath), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return skberr.Wrap(skberr.StoreIO, fmt.Sprintf("failed to replace artifact for %s", relPath), err)
	}
	return nil
}

// readArtifact loads and splits a persisted artifact
func readArtifact(path string) (Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, skberr.Wrap(skberr.StoreIO, fmt.Sprintf("failed to read artifact %s", path), err)
	}
	return parseArtifact(string(data))
}

func parseArtifact(text string) (Artifact, error) {
	rest, ok := strings.CutPrefix(text, "---\n")
	if !ok {
		return Artifact{}, skberr.New(skberr.FragmentParse, "artifact is missing front matter")
	}
	fm, body, ok := strings.Cut(rest, "\n---\n")
	if !ok {
		return Artifact{}, skberr.New(skberr.FragmentParse, "artifact front matter is unterminated")
	}

	var meta artifactMeta
	if err := yaml.Unmarshal([]byte(fm), &meta); err != nil {
		return Artifact{}, skberr.Wrap(skberr.FragmentParse, "artifact front matter is invalid", err)
	}
	if meta.File == "" || meta.Kind == "" {
		return Artifact{}, skberr.New(skberr.FragmentParse, "artifact front matter lacks file or kind")
	}
	return Artifact{Meta: meta, Body: strings.TrimSpace(body)}, nil
}

// fragmentID derives the stable fragment id from file, symbol and kind.
// Reprocessing a file therefore produces the same ids, which is what
// makes delete-then-insert upserts safe.
func fragmentID(filePath, symbol string, kind vectorstore.Kind) string {
	return fmt.Sprintf("%s#%s@%s", filePath, symbol, kind)
}

// ParseFragments turns an artifact into fragments: one header fragment
// for the class or enum, plus one per documented method for classes.
// Malformed method subsections are skipped; they never abort the parse.
func ParseFragments(a Artifact, projectKey string) []vectorstore.Fragment {
	title := a.Meta.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(a.Meta.File), filepath.Ext(a.Meta.File))
	}

	headerKind := vectorstore.KindClass
	if a.Meta.Kind == string(EnumSource) {
		headerKind = vectorstore.KindEnum
	}

	summary, methods := splitBody(a.Body)
	now := time.Now()

	fragments := []vectorstore.Fragment{{
		ID:         fragmentID(a.Meta.File, title, headerKind),
		Title:      title,
		Content:    title + "\n" + summary,
		Raw:        a.Body,
		Tags:       []string{a.Meta.Kind},
		Kind:       headerKind,
		ProjectKey: projectKey,
		FilePath:   a.Meta.File,
		UpdatedAt:  now,
	}}

	// Enum artifacts carry their entries in the summary; any stray
	// subsections are not methods.
	if headerKind == vectorstore.KindEnum {
		return fragments
	}

	for _, m := range methods {
		if m.name == "" || m.description == "" {
			continue
		}
		fragments = append(fragments, vectorstore.Fragment{
			ID:         fragmentID(a.Meta.File, m.name, vectorstore.KindMethod),
			Title:      title + "." + m.name,
			Content:    title + "." + m.name + "\n" + m.description,
			Raw:        m.source,
			Tags:       []string{"method"},
			Kind:       vectorstore.KindMethod,
			ProjectKey: projectKey,
			FilePath:   a.Meta.File,
			UpdatedAt:  now,
		})
	}
	return fragments
}

type methodSection struct {
	name        string
	description string
	source      string
}

// splitBody separates the header summary from the "### method"
// subsections
func splitBody(body string) (string, []methodSection) {
	lines := strings.Split(body, "\n")

	var summary []string
	var methods []methodSection
	var current *methodSection
	inFence := false
	var fence []string

	flush := func() {
		if current == nil {
			return
		}
		current.description = strings.TrimSpace(current.description)
		methods = append(methods, *current)
		current = nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			if inFence {
				if current != nil && current.source == "" {
					current.source = strings.Join(fence, "\n")
				}
				fence = nil
				inFence = false
			} else {
				inFence = true
			}
			continue
		}
		if inFence {
			fence = append(fence, line)
			continue
		}

		if name, ok := strings.CutPrefix(trimmed, "### "); ok {
			flush()
			current = &methodSection{name: sanitizeMethodName(name)}
			continue
		}

		switch {
		case current != nil:
			current.description += line + "\n"
		case strings.HasPrefix(trimmed, "# ") || strings.HasPrefix(trimmed, "## "):
			// Title and section headings are structure, not summary.
		default:
			summary = append(summary, line)
		}
	}
	flush()

	return strings.TrimSpace(strings.Join(summary, "\n")), methods
}

// sanitizeMethodName strips decoration models add around method names:
// backticks, trailing parentheses, argument lists
func sanitizeMethodName(raw string) string {
	name := strings.TrimSpace(raw)
	name = strings.Trim(name, "`")
	if idx := strings.IndexByte(name, '('); idx >= 0 {
		name = name[:idx]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	// A heading that is prose rather than an identifier is malformed.
	for _, r := range name {
		if !isIdentRune(r) {
			return ""
		}
	}
	return name
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '$' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
