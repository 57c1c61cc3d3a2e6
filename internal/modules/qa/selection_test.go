package qa

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"gorm.io/datatypes"

	"github.com/consilience-ai/consilience-backend/internal/data/repos/chunks"
	types "github.com/consilience-ai/consilience-backend/internal/domain"
)

func docHit(tb testing.TB, id int64, text, source string, sim float64) chunks.Hit {
	tb.Helper()
	meta, err := json.Marshal(map[string]string{"source": source})
	if err != nil {
		tb.Fatalf("marshal source_meta: %v", err)
	}
	return chunks.Hit{
		Chunk:      &types.DocumentChunk{ID: id, Text: text, SourceMeta: datatypes.JSON(meta)},
		Similarity: sim,
	}
}

func TestOrderSelectedSimilarityThenID(t *testing.T) {
	hits := []chunks.Hit{
		docHit(t, 9, "c", "s", 0.5),
		docHit(t, 3, "a", "s", 0.9),
		docHit(t, 7, "b", "s", 0.9),
	}
	orderSelected(hits)

	got := []int64{hits[0].Chunk.ID, hits[1].Chunk.ID, hits[2].Chunk.ID}
	want := []int64{3, 7, 9}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestBuildContextNumbersDocuments(t *testing.T) {
	hits := []chunks.Hit{
		docHit(t, 1, "alpha", "a.pdf", 0.9),
		docHit(t, 2, "beta", "b.pdf", 0.8),
	}
	got := buildContext(hits)
	want := "Document 1: alpha\n\nDocument 2: beta"
	if got != want {
		t.Fatalf("context = %q, want %q", got, want)
	}
}

func TestBuildDigestTruncatesEachChunk(t *testing.T) {
	long := strings.Repeat("x", 300)
	hits := []chunks.Hit{
		docHit(t, 1, long, "a.pdf", 0.9),
		docHit(t, 2, "short", "b.pdf", 0.8),
	}
	got := buildDigest(hits, 200)

	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("digest has %d lines, want 2:\n%s", len(lines), got)
	}
	if want := "Document 1: " + long[:200]; lines[0] != want {
		t.Fatalf("line 1 = %q, want %q", lines[0], want)
	}
	if want := "Document 2: short"; lines[1] != want {
		t.Fatalf("line 2 = %q, want %q", lines[1], want)
	}
}

func TestExtractCitationsDedupesInFirstAppearanceOrder(t *testing.T) {
	answer := "First [2], then [1]. Repeated [2] and out of range [9], plus [0]."
	got := extractCitations(answer, 3)
	want := []int{2, 1}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("citations = %v, want %v", got, want)
	}
}

func TestExtractCitationsNoMarkers(t *testing.T) {
	got := extractCitations("no markers here", 5)
	if got == nil || len(got) != 0 {
		t.Fatalf("citations = %v, want empty non-nil", got)
	}
}

func TestReferencesForResolvesMarkersToSources(t *testing.T) {
	hits := []chunks.Hit{
		docHit(t, 1, "alpha", "first.pdf", 0.9),
		docHit(t, 2, "beta", "second.pdf", 0.8),
		docHit(t, 3, "gamma", "third.pdf", 0.7),
	}
	got := referencesFor(hits, []int{3, 1})
	want := []string{"third.pdf", "first.pdf"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("references = %v, want %v", got, want)
	}
}

func TestReferencesForKeepsDuplicateSourcesDistinctPerMarker(t *testing.T) {
	// Two different chunks from the same file still yield one reference per
	// cited marker.
	hits := []chunks.Hit{
		docHit(t, 1, "alpha", "same.pdf", 0.9),
		docHit(t, 2, "beta", "same.pdf", 0.8),
	}
	got := referencesFor(hits, []int{1, 2})
	want := []string{"same.pdf", "same.pdf"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("references = %v, want %v", got, want)
	}
}

func TestChunkIDsOfPreservesOrder(t *testing.T) {
	hits := []chunks.Hit{
		docHit(t, 5, "a", "s", 0.9),
		docHit(t, 2, "b", "s", 0.8),
	}
	got := chunkIDsOf(hits)
	if !reflect.DeepEqual(got, []int64{5, 2}) {
		t.Fatalf("ids = %v, want [5 2]", got)
	}
}
