package qa

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/consilience-ai/consilience-backend/internal/data/repos/chunks"
)

// orderSelected sorts hits by descending similarity, ties by ascending chunk
// id. Citation numbering, context numbering, and the response chunk list all
// follow this order.
func orderSelected(hits []chunks.Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
}

// buildContext renders the selected chunks as the numbered document block the
// synthesis and verification prompts consume. Document numbers are 1-based
// and match citation markers.
func buildContext(hits []chunks.Hit) string {
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Document %d: %s", i+1, h.Chunk.Text)
	}
	return b.String()
}

// buildDigest renders a short preview of the selected context for the
// subquestion planner: the first limit characters of each chunk.
func buildDigest(hits []chunks.Hit, limit int) string {
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n")
		}
		text := h.Chunk.Text
		if len(text) > limit {
			text = text[:limit]
		}
		fmt.Fprintf(&b, "Document %d: %s", i+1, text)
	}
	return b.String()
}

func chunkIDsOf(hits []chunks.Hit) []int64 {
	out := make([]int64, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Chunk.ID)
	}
	return out
}

func toRetrievedChunks(hits []chunks.Hit) []RetrievedChunk {
	out := make([]RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		out = append(out, RetrievedChunk{
			ID:         h.Chunk.ID,
			Text:       h.Chunk.Text,
			Source:     h.Chunk.Source(),
			Similarity: h.Similarity,
		})
	}
	return out
}

var citationMarkerRe = regexp.MustCompile(`\[(\d+)\]`)

// extractCitations returns the distinct citation indices appearing in the
// answer, in first-appearance order, dropping markers outside [1, n].
func extractCitations(answer string, n int) []int {
	seen := make(map[int]bool)
	out := []int{}
	for _, m := range citationMarkerRe.FindAllStringSubmatch(answer, -1) {
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 1 || idx > n || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	return out
}

// referencesFor resolves citation indices to source descriptors, one entry
// per distinct marker in citation order.
func referencesFor(hits []chunks.Hit, citations []int) []string {
	out := make([]string, 0, len(citations))
	for _, idx := range citations {
		if idx < 1 || idx > len(hits) {
			continue
		}
		out = append(out, hits[idx-1].Chunk.Source())
	}
	return out
}
