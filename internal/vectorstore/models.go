package vectorstore

import "time"

// Record is one stored chunk: its text, embedding, opaque metadata, and
// the (source, chunk index) key it is addressed by.
type Record struct {
	Content    string
	Embedding  []float32
	Metadata   map[string]string
	Source     string
	ChunkIndex int
	CreatedAt  time.Time
}

// SearchResult is a Record returned from similarity search together with
// its cosine similarity to the query vector.
type SearchResult struct {
	Content    string
	Metadata   map[string]string
	Source     string
	ChunkIndex int
	Similarity float64
}

// Stats summarizes the store contents.
type Stats struct {
	TotalEmbeddings uint64
	UniqueSources   int
	// AvgSimilarity is a diagnostic self-check only: each vector compared
	// against itself, which is always near the cosine maximum. It carries
	// no corpus-quality information.
	AvgSimilarity float64
}
