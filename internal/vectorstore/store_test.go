package vectorstore

import (
	"math"
	"testing"
	"time"

	"skb/internal/config"
	"skb/internal/logging"
	"skb/internal/storage"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(t.TempDir(), logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s, err := New(db, config.StoreConfig{
		FragmentCacheSize: 16,
		QueryCacheSize:    8,
		DefaultTopK:       10,
	}, "test-project", logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func frag(id, file string, kind Kind, vector []float32) Fragment {
	return Fragment{
		ID:        id,
		FilePath:  file,
		Kind:      kind,
		Title:     id,
		Content:   "description of " + id,
		Raw:       "source of " + id,
		Tags:      []string{"test"},
		Vector:    vector,
		UpdatedAt: time.Now(),
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite clamped to zero", []float32{1, 0}, []float32{-1, 0}, 0},
		{"empty a", nil, []float32{1, 0}, 0},
		{"empty both", nil, nil, 0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero magnitude", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Cosine(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("Cosine() = %v, want %v", got, tc.want)
			}
			if got < 0 || got > 1 {
				t.Errorf("Cosine() = %v, outside [0,1]", got)
			}
		})
	}
}

func TestUpsertAndSearch(t *testing.T) {
	s := testStore(t)

	err := s.UpsertFile("src/A.java", []Fragment{
		frag("a-file", "src/A.java", KindClass, []float32{1, 0, 0}),
		frag("a-m1", "src/A.java", KindMethod, []float32{0.9, 0.1, 0}),
	})
	if err != nil {
		t.Fatal(err)
	}
	err = s.UpsertFile("src/B.java", []Fragment{
		frag("b-file", "src/B.java", KindClass, []float32{0, 1, 0}),
	})
	if err != nil {
		t.Fatal(err)
	}

	hits := s.Search([]float32{1, 0, 0}, 2)
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Fragment.ID != "a-file" {
		t.Errorf("top hit = %s, want a-file", hits[0].Fragment.ID)
	}
	if hits[0].Score < hits[1].Score {
		t.Error("hits not in descending score order")
	}
}

func TestUpsertReplacesOldFragments(t *testing.T) {
	s := testStore(t)

	if err := s.UpsertFile("src/A.java", []Fragment{
		frag("old", "src/A.java", KindClass, []float32{1, 0}),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertFile("src/A.java", []Fragment{
		frag("new", "src/A.java", KindClass, []float32{1, 0}),
	}); err != nil {
		t.Fatal(err)
	}

	hits := s.Search([]float32{1, 0}, 10)
	for _, h := range hits {
		if h.Fragment.ID == "old" {
			t.Error("stale fragment still searchable after upsert")
		}
	}
	if _, ok := s.Get("old"); ok {
		t.Error("stale fragment still readable after upsert")
	}
	if _, ok := s.Get("new"); !ok {
		t.Error("new fragment missing")
	}
}

func TestAddAndDeleteByID(t *testing.T) {
	s := testStore(t)

	if err := s.Add(frag("solo", "src/A.java", KindAnalysis, []float32{1, 0})); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get("solo"); !ok {
		t.Fatal("added fragment not readable")
	}

	// Add with the same id replaces, never duplicates.
	if err := s.Add(frag("solo", "src/A.java", KindAnalysis, []float32{0, 1})); err != nil {
		t.Fatal(err)
	}
	if n, err := s.DurableCount(); err != nil || n != 1 {
		t.Fatalf("DurableCount() = %d, %v; want 1", n, err)
	}

	if err := s.Delete("solo"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get("solo"); ok {
		t.Error("deleted fragment still readable")
	}
	if hits := s.Search([]float32{0, 1}, 10); len(hits) != 0 {
		t.Errorf("deleted fragment still searchable: %+v", hits)
	}
}

func TestDeleteFile(t *testing.T) {
	s := testStore(t)

	if err := s.UpsertFile("src/A.java", []Fragment{
		frag("a", "src/A.java", KindClass, []float32{1, 0}),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteFile("src/A.java"); err != nil {
		t.Fatal(err)
	}

	if hits := s.Search([]float32{1, 0}, 10); len(hits) != 0 {
		t.Errorf("deleted fragments still searchable: %d hits", len(hits))
	}
	if n, err := s.DurableCount(); err != nil || n != 0 {
		t.Errorf("DurableCount() = %d, %v; want 0", n, err)
	}
}

func TestRebuildRestoresMemoryTiers(t *testing.T) {
	db, err := storage.Open(t.TempDir(), logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	cfg := config.StoreConfig{FragmentCacheSize: 16, QueryCacheSize: 8, DefaultTopK: 10}

	s1, err := New(db, cfg, "p", logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.UpsertFile("src/A.java", []Fragment{
		frag("a", "src/A.java", KindClass, []float32{1, 0, 0}),
		frag("m", "src/A.java", KindMethod, []float32{0, 1, 0}),
	}); err != nil {
		t.Fatal(err)
	}

	// Fresh store over the same database: empty until rebuilt.
	s2, err := New(db, cfg, "p", logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if s2.Size() != 0 {
		t.Fatalf("fresh store Size() = %d, want 0", s2.Size())
	}
	if err := s2.Rebuild(); err != nil {
		t.Fatal(err)
	}
	if s2.Size() != 2 {
		t.Fatalf("rebuilt store Size() = %d, want 2", s2.Size())
	}

	got, ok := s2.Get("a")
	if !ok {
		t.Fatal("fragment a missing after rebuild")
	}
	if got.Content != "description of a" {
		t.Errorf("content round-trip = %q", got.Content)
	}
	if len(got.Vector) != 3 || got.Vector[0] != 1 {
		t.Errorf("vector round-trip = %v", got.Vector)
	}

	hits := s2.Search([]float32{1, 0, 0}, 1)
	if len(hits) != 1 || hits[0].Fragment.ID != "a" {
		t.Errorf("search after rebuild = %+v", hits)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	s := testStore(t)
	if hits := s.Search(nil, 5); hits != nil {
		t.Errorf("empty query should return nil, got %d hits", len(hits))
	}
}

func TestFragmentWithoutVectorNeverMatches(t *testing.T) {
	s := testStore(t)
	if err := s.UpsertFile("src/A.java", []Fragment{
		frag("no-vec", "src/A.java", KindClass, nil),
	}); err != nil {
		t.Fatal(err)
	}
	if hits := s.Search([]float32{1, 0}, 10); len(hits) != 0 {
		t.Errorf("vectorless fragment matched: %+v", hits)
	}
}

func TestVectorCodecRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3.1415927, 0}
	out := decodeVector(encodeVector(in))
	if len(out) != len(in) {
		t.Fatalf("length = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("index %d: %v != %v", i, in[i], out[i])
		}
	}
	if decodeVector(nil) != nil {
		t.Error("decoding nil should yield nil")
	}
}
