package corpus

import (
	"testing"

	"gorm.io/datatypes"
)

func TestSourceReadsMetadata(t *testing.T) {
	cases := []struct {
		name string
		meta string
		want string
	}{
		{"named source", `{"source":"raft.pdf","page":3}`, "raft.pdf"},
		{"padded source", `{"source":"  raft.pdf "}`, "raft.pdf"},
		{"blank source", `{"source":"  "}`, UnknownSource},
		{"missing key", `{"page":3}`, UnknownSource},
		{"non-string source", `{"source":42}`, UnknownSource},
		{"invalid json", `{nope`, UnknownSource},
		{"empty meta", ``, UnknownSource},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &DocumentChunk{SourceMeta: datatypes.JSON([]byte(tc.meta))}
			if got := c.Source(); got != tc.want {
				t.Fatalf("Source() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSourceNilChunk(t *testing.T) {
	var c *DocumentChunk
	if got := c.Source(); got != UnknownSource {
		t.Fatalf("Source() = %q, want %q", got, UnknownSource)
	}
}
