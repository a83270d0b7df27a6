package rag

// Category tags assigned to chunks at ingestion time.
const (
	CategoryCareer   = "career"
	CategoryProjects = "projects"
)

// Chunk is one ingested portfolio-document section. Chunks are cut at header
// boundaries offline so each one is a semantically complete section; the
// backend never mutates them.
type Chunk struct {
	ID       string `db:"id"`
	Content  string `db:"content"`
	Source   string `db:"source"`
	Section  string `db:"section"`
	Category string `db:"category"`
}

// Match pairs a chunk with its similarity score, normalized to [0, 1].
type Match struct {
	Chunk Chunk
	Score float64 `db:"score"`
}

// Result is an ordered retrieval result, descending by score.
type Result []Match
