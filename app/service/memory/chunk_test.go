package memory

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/dinindunz/strands-agent-cli/app/util/tokenizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitChunks(t *testing.T) {
	enc := newWordEncoder()

	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []string
	}{
		{
			name: "empty",
			text: "  ",
			size: 4,
			want: nil,
		},
		{
			name: "fits in one window",
			text: " one two three ",
			size: 4,
			want: []string{"one two three"},
		},
		{
			name:    "overlapping windows",
			text:    "a b c d e f g",
			size:    4,
			overlap: 2,
			want:    []string{"a b c d", "c d e f", "e f g"},
		},
		{
			name: "no overlap",
			text: "a b c d e f",
			size: 3,
			want: []string{"a b c", "d e f"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitChunks(enc, tt.text, tt.size, tt.overlap))
		})
	}
}

func TestSplitChunksKeepsRunesWhole(t *testing.T) {
	tokenizer.UseOfflineBPE()
	enc, err := tokenizer.NewResolver(nil).EncoderFor(tokenizer.FallbackEncoding)
	require.NoError(t, err)

	text := strings.Repeat("Контракт с компанией Акме 東京都の病院 ", 20)

	for _, overlap := range []int{0, 4} {
		chunks := splitChunks(enc, text, 16, overlap)
		require.NotEmpty(t, chunks)

		for _, chunk := range chunks {
			assert.True(t, utf8.ValidString(chunk), "invalid utf-8 in %q", chunk)
			assert.Contains(t, text, chunk)
		}
	}
}

func TestRenderPromptDoesNotExpandValues(t *testing.T) {
	template := "Q: {query}\nC: {context}"

	for range 20 {
		got := renderPrompt(template, map[string]any{
			"query":   "what is {context}?",
			"context": "retrieved",
		})
		assert.Equal(t, "Q: what is {context}?\nC: retrieved", got)
	}
}

func TestFuseRanks(t *testing.T) {
	text := []indexHit{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	vector := []indexHit{{ID: "c"}, {ID: "d"}}

	fused := fuseRanks(3, text, vector)

	ids := make([]string, 0, len(fused))
	for _, h := range fused {
		ids = append(ids, h.ID)
	}

	// c is in both lists and wins
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestNormalizeExtraction(t *testing.T) {
	e := extraction{
		Entities: []extractedEntity{
			{Name: " Acme Corp ", Type: "Organization", Observations: []string{"Healthcare"}},
		},
		Relations: []extractedRelation{
			{Source: "acme corp", Target: "Bob", Type: "employs"},
			{Source: "", Target: "Bob", Type: "ignored"},
		},
	}

	entities, relations := e.normalize()

	assert.Equal(t, []*Entity{
		{Name: "Acme Corp", Type: "organization", Observations: []string{"Healthcare"}},
		{Name: "Bob", Type: unknownType},
	}, entities)
	assert.Equal(t, []*Relation{{From: "Acme Corp", To: "Bob", Type: "employs"}}, relations)
}
