package domain

import (
	"fmt"
	"time"
)

// Document is a stored source file, keyed by filename.
type Document struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Page is the extracted text of one page. Number is 1-based.
type Page struct {
	Source string
	Number int
	Text   string
}

// Chunk is an indexed piece of a page.
type Chunk struct {
	ID        string
	Source    string
	Page      int
	Index     int
	Text      string
	Embedding []float32
}

// ScoredChunk is a search hit.
type ScoredChunk struct {
	Chunk
	Score float64
}

// Citation tags a retrieved chunk with where it came from.
type Citation struct {
	Filename string `json:"filename"`
	Page     int    `json:"page"`
}

func (c Citation) String() string {
	return fmt.Sprintf("📄 **%s** (Page %d)", c.Filename, c.Page)
}

// GroundedAnswer is the retrieval path's answer with the chunks it drew on.
type GroundedAnswer struct {
	Text      string
	Citations []Citation
}
