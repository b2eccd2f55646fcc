// Package rag indexes document pages into the vector store and answers
// questions grounded in the indexed chunks.
package rag

import (
	"errors"
	"strings"
)

// Splitter cuts text into overlapping chunks of at most Size runes, breaking
// on word boundaries where possible.
type Splitter struct {
	Size    int
	Overlap int
}

func NewSplitter(size, overlap int) (Splitter, error) {
	if size <= 0 {
		return Splitter{}, errors.New("rag: chunk size must be positive")
	}
	if overlap < 0 || overlap >= size {
		return Splitter{}, errors.New("rag: chunk overlap must be in [0, size)")
	}
	return Splitter{Size: size, Overlap: overlap}, nil
}

// Split collapses whitespace and returns the chunks in order.
func (s Splitter) Split(text string) []string {
	content := []rune(strings.Join(strings.Fields(text), " "))
	if len(content) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < len(content) {
		end := start + s.Size
		if end > len(content) {
			end = len(content)
		}
		if end < len(content) {
			if space := lastSpace(content[start:end]); space > 0 {
				end = start + space
			}
		}

		if chunk := strings.TrimSpace(string(content[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= len(content) {
			break
		}

		next := end - s.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

func lastSpace(r []rune) int {
	for i := len(r) - 1; i >= 0; i-- {
		if r[i] == ' ' {
			return i
		}
	}
	return -1
}
