package models

// Record is a chunk as persisted in a vector store collection.
type Record struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]string
}

// Match is one similarity search hit.
type Match struct {
	ID       string
	Score    float64
	Text     string
	Metadata map[string]string
}
