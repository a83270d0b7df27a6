package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asetia/portfolio-assistant/internal/model/rag"
)

func TestSplitMarkdownByHeadings(t *testing.T) {
	content := `# Experience

Led the backend team at Acme.

# Education

Studied computer science.
`

	chunks := SplitMarkdown("resume.md", rag.CategoryCareer, content)

	require.Len(t, chunks, 2)
	assert.Equal(t, "Experience", chunks[0].Section)
	assert.Equal(t, "Led the backend team at Acme.", chunks[0].Content)
	assert.Equal(t, "Education", chunks[1].Section)
	assert.Equal(t, rag.CategoryCareer, chunks[0].Category)
	assert.Equal(t, "resume.md", chunks[0].Source)
}

func TestSplitMarkdownPreambleBeforeFirstHeading(t *testing.T) {
	content := "Intro paragraph.\n\n# Details\n\nBody."

	chunks := SplitMarkdown("about.md", "", content)

	require.Len(t, chunks, 2)
	assert.Equal(t, "", chunks[0].Section)
	assert.Equal(t, "Intro paragraph.", chunks[0].Content)
}

func TestSplitMarkdownSplitsOversizedSections(t *testing.T) {
	para := strings.Repeat("word ", 200)
	content := "# Big\n\n" + para + "\n\n" + para + "\n\n" + para

	chunks := SplitMarkdown("projects.md", rag.CategoryProjects, content)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c.Content)), maxChunkRunes)
		assert.Equal(t, "Big", c.Section)
	}
}

func TestSplitMarkdownStableIDs(t *testing.T) {
	content := "# A\n\nSame text."

	first := SplitMarkdown("doc.md", "", content)
	second := SplitMarkdown("doc.md", "", content)

	require.Len(t, first, 1)
	assert.Equal(t, first[0].ID, second[0].ID)

	other := SplitMarkdown("other.md", "", content)
	assert.NotEqual(t, first[0].ID, other[0].ID)
}

func TestSplitMarkdownEmptyDocument(t *testing.T) {
	assert.Empty(t, SplitMarkdown("empty.md", "", "  \n\n"))
}
