package models

import "time"

// Frontmatter is the optional YAML header of a markdown document.
type Frontmatter struct {
	Domain   string   `yaml:"domain" json:"domain,omitempty"`
	Category string   `yaml:"category" json:"category,omitempty"`
	Tags     []string `yaml:"tags" json:"tags,omitempty"`
	Version  string   `yaml:"version" json:"version,omitempty"`
	Date     string   `yaml:"date" json:"date,omitempty"`
}

// Document is one loaded source file.
type Document struct {
	ID          string
	Path        string
	Text        string
	ModifiedAt  time.Time
	Frontmatter *Frontmatter
}

// Chunk is a contiguous slice of a document plus the overlap carried from the
// previous chunk. Text[Overlap:] is document.Text[Start:End].
type Chunk struct {
	ID           string   `json:"id"`
	ContentHash  string   `json:"content_hash"`
	DocumentID   string   `json:"document_id"`
	Index        int      `json:"index"`
	Text         string   `json:"text"`
	Start        int      `json:"start"`
	End          int      `json:"end"`
	Overlap      int      `json:"overlap"`
	Size         int      `json:"size"`
	Category     Category `json:"category"`
	HasCode      bool     `json:"has_code"`
	MentionsTech bool     `json:"mentions_tech"`
	Technologies []string `json:"technologies,omitempty"`
	Oversized    bool     `json:"oversized,omitempty"`
}

// ScoredChunk is a retrieved chunk with its similarity score.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Query is a single retrieval request.
type Query struct {
	Question string
	Category string
	TopK     int
}

// Response is what a query returns to the caller.
type Response struct {
	Question      string        `json:"question"`
	AnswerContext []ScoredChunk `json:"answer_context"`
	Sources       []string      `json:"sources"`
	Context       string        `json:"-"`
	Answer        string        `json:"answer,omitempty"`
}
