package memory

import (
	"strings"
	"unicode/utf8"

	"github.com/dinindunz/strands-agent-cli/app/util/tokenizer"
)

// splitChunks cuts text into windows of size tokens, each sharing overlap
// tokens with the previous one.
func splitChunks(enc tokenizer.Encoder, text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= size {
		return []string{text}
	}

	step := size - overlap
	if step <= 0 {
		step = size
	}

	var chunks []string
	for start := 0; start < len(tokens); start += step {
		end := min(start+size, len(tokens))

		if chunk := strings.TrimSpace(decodeWindow(enc, tokens, start, end)); chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end == len(tokens) {
			break
		}
	}

	return chunks
}

// decodeWindow decodes tokens[start:end] on rune boundaries. Byte-level BPE
// tokens may split a multi-byte rune: the partial rune at the head belongs to
// the previous window, and a partial rune at the tail is completed from the
// following tokens.
func decodeWindow(enc tokenizer.Encoder, tokens []int, start, end int) string {
	chunk := dropPartialHead(enc.Decode(tokens[start:end]))

	limit := min(end+utf8.UTFMax, len(tokens))
	for !utf8.ValidString(chunk) && end < limit {
		end++
		chunk = dropPartialHead(enc.Decode(tokens[start:end]))
	}

	return strings.ToValidUTF8(chunk, "")
}

func dropPartialHead(s string) string {
	for len(s) > 0 && !utf8.RuneStart(s[0]) {
		s = s[1:]
	}
	return s
}
