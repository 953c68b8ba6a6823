// Package vectorstore implements the three-tier fragment store: an LRU
// hot cache, an in-memory similarity index and a durable SQLite layer.
// The memory tiers are rebuildable from SQLite at any time, so only the
// durable tier is ever the source of truth.
package vectorstore

import (
	"encoding/binary"
	"math"
	"time"
)

// Kind classifies what a fragment describes
type Kind string

const (
	// KindClass is the fragment summarizing a whole class
	KindClass Kind = "class"
	// KindMethod is a fragment describing one method
	KindMethod Kind = "method"
	// KindEnum is the fragment summarizing an enum
	KindEnum Kind = "enum"
	// KindAnalysis is a free-form analysis artifact
	KindAnalysis Kind = "analysis"
)

// Fragment is one unit of indexed knowledge about the codebase.
// Content is the natural-language description that gets embedded; Raw
// is the source excerpt it was derived from.
type Fragment struct {
	ID         string
	Title      string
	Content    string
	Raw        string
	Tags       []string
	Kind       Kind
	ProjectKey string
	FilePath   string // project-relative, forward slashes
	Vector     []float32
	UpdatedAt  time.Time
}

// Hit is a search result with its similarity score
type Hit struct {
	Fragment Fragment
	Score    float64
}

// encodeVector packs a vector as little-endian float32s
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks a little-endian float32 vector blob
func decodeVector(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
