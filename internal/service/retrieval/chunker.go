package retrieval

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/asetia/portfolio-assistant/internal/model/rag"
)

// maxChunkRunes bounds a single chunk so one long section cannot swallow the
// whole context window at query time.
const maxChunkRunes = 1200

// SplitMarkdown cuts a document into retrieval chunks at heading boundaries,
// further splitting oversized sections at paragraph breaks. category applies
// to every chunk of the document.
func SplitMarkdown(source, category, content string) []rag.Chunk {
	var chunks []rag.Chunk

	section := ""
	var body strings.Builder
	flush := func() {
		text := strings.TrimSpace(body.String())
		body.Reset()
		if text == "" {
			return
		}
		for _, part := range splitLong(text) {
			chunks = append(chunks, rag.Chunk{
				ID:       chunkID(source, section, part),
				Content:  part,
				Source:   source,
				Section:  section,
				Category: category,
			})
		}
	}

	for _, line := range strings.Split(content, "\n") {
		if heading, ok := parseHeading(line); ok {
			flush()
			section = heading
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()

	return chunks
}

func parseHeading(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return "", false
	}
	heading := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
	if heading == "" {
		return "", false
	}
	return heading, true
}

// splitLong breaks text exceeding the chunk bound at paragraph boundaries,
// hard-splitting only when a single paragraph is itself too long.
func splitLong(text string) []string {
	if len([]rune(text)) <= maxChunkRunes {
		return []string{text}
	}

	var parts []string
	var current strings.Builder
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len() > 0 && len([]rune(current.String()))+len([]rune(para)) > maxChunkRunes {
			parts = append(parts, strings.TrimSpace(current.String()))
			current.Reset()
		}
		for len([]rune(para)) > maxChunkRunes {
			runes := []rune(para)
			parts = append(parts, string(runes[:maxChunkRunes]))
			para = string(runes[maxChunkRunes:])
		}
		current.WriteString(para)
		current.WriteString("\n\n")
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		parts = append(parts, s)
	}
	return parts
}

func chunkID(source, section, content string) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%s", source, section, content)))
	return hex.EncodeToString(sum[:12])
}
