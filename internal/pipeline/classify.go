// Package pipeline turns source files into embedded knowledge
// fragments: classify, describe via LLM, persist a markdown artifact,
// parse it into fragments, embed and store.
package pipeline

import (
	"regexp"
	"strings"
)

// Classification is the coarse source-file category. It only steers
// the description prompt and the artifact parser, so a closed set of
// three values is enough.
type Classification string

const (
	// ClassSource is a class, interface or record definition
	ClassSource Classification = "class"
	// EnumSource is an enum definition
	EnumSource Classification = "enum"
	// UnsupportedSource is anything the pipeline does not describe
	UnsupportedSource Classification = "unsupported"
)

var (
	enumRe  = regexp.MustCompile(`(?m)^\s*(?:public\s+|private\s+|protected\s+)?enum\s+\w+`)
	classRe = regexp.MustCompile(`(?m)^\s*(?:public\s+|private\s+|protected\s+)?(?:final\s+|abstract\s+|static\s+)*(?:class|interface|record)\s+\w+`)
)

// Classify categorizes source text by declaration markers. It is a
// pure function over the text; no parsing, no I/O. Enum wins over
// class when both appear because a file's primary enum declaration
// precedes any nested helper classes in practice.
func Classify(source string) Classification {
	stripped := stripComments(source)
	switch {
	case enumRe.MatchString(stripped):
		return EnumSource
	case classRe.MatchString(stripped):
		return ClassSource
	default:
		return UnsupportedSource
	}
}

// stripComments removes line and block comments so commented-out
// declarations cannot influence classification
func stripComments(source string) string {
	var b strings.Builder
	b.Grow(len(source))

	inBlock := false
	for _, line := range strings.Split(source, "\n") {
		if inBlock {
			if idx := strings.Index(line, "*/"); idx >= 0 {
				line = line[idx+2:]
				inBlock = false
			} else {
				continue
			}
		}
		for {
			start := strings.Index(line, "/*")
			if start < 0 {
				break
			}
			end := strings.Index(line[start+2:], "*/")
			if end < 0 {
				line = line[:start]
				inBlock = true
				break
			}
			line = line[:start] + line[start+2+end+2:]
		}
		if idx := strings.Index(line, "//"); idx >= 0 {
			line = line[:idx]
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
