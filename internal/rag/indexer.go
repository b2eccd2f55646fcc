package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"academic-assistant/internal/domain"
)

const embedBatchSize = 32

// ErrNoText is returned when a document has no extractable text.
var ErrNoText = errors.New("rag: document has no extractable text")

type PageReader interface {
	Pages(ctx context.Context, path string) ([]domain.Page, error)
}

// Locator resolves a document name to a readable path.
type Locator interface {
	Path(name string) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is the vector store as seen by the indexer and the retriever.
type Index interface {
	ReplaceSource(ctx context.Context, source string, chunks []domain.Chunk) error
	Search(ctx context.Context, query []float32, k int) ([]domain.ScoredChunk, error)
	Count(ctx context.Context, source string) (int, error)
	DeleteSource(ctx context.Context, source string) error
	Reset(ctx context.Context) error
}

type Indexer struct {
	docs     Locator
	reader   PageReader
	embedder Embedder
	index    Index
	splitter Splitter
	logger   *slog.Logger
}

func NewIndexer(docs Locator, reader PageReader, embedder Embedder, index Index, splitter Splitter, logger *slog.Logger) (*Indexer, error) {
	if docs == nil {
		return nil, errors.New("rag: document locator must not be nil")
	}
	if reader == nil {
		return nil, errors.New("rag: page reader must not be nil")
	}
	if embedder == nil {
		return nil, errors.New("rag: embedder must not be nil")
	}
	if index == nil {
		return nil, errors.New("rag: index must not be nil")
	}
	if splitter.Size <= 0 {
		return nil, errors.New("rag: splitter must be configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{docs: docs, reader: reader, embedder: embedder, index: index, splitter: splitter, logger: logger}, nil
}

// Pages returns the document's page texts tagged with source and page number.
func (ix *Indexer) Pages(ctx context.Context, name string) ([]domain.Page, error) {
	path, err := ix.docs.Path(name)
	if err != nil {
		return nil, err
	}
	pages, err := ix.reader.Pages(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("rag: read pages: %w", err)
	}
	for i := range pages {
		pages[i].Source = name
	}
	return pages, nil
}

// Chunks splits pages into untagged chunks carrying source and page.
func (ix *Indexer) Chunks(pages []domain.Page) []domain.Chunk {
	var chunks []domain.Chunk
	for _, p := range pages {
		for i, text := range ix.splitter.Split(p.Text) {
			chunks = append(chunks, domain.Chunk{
				ID:     chunkID(p.Source, p.Number, i),
				Source: p.Source,
				Page:   p.Number,
				Index:  i,
				Text:   text,
			})
		}
	}
	return chunks
}

// Index replaces the document's chunks and returns how many were stored.
// Reindexing an unchanged document yields the same chunk ids, and a failed
// reindex leaves the previous chunks searchable.
func (ix *Indexer) Index(ctx context.Context, name string) (int, error) {
	pages, err := ix.Pages(ctx, name)
	if err != nil {
		return 0, err
	}
	chunks := ix.Chunks(pages)
	if len(chunks) == 0 {
		return 0, ErrNoText
	}

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		vectors, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("rag: embed chunks: %w", err)
		}
		if len(vectors) != len(texts) {
			return 0, fmt.Errorf("rag: embed chunks: got %d vectors for %d texts", len(vectors), len(texts))
		}
		for i, v := range vectors {
			chunks[start+i].Embedding = v
		}
	}

	if err := ix.index.ReplaceSource(ctx, name, chunks); err != nil {
		return 0, fmt.Errorf("rag: store chunks: %w", err)
	}

	ix.logger.Info("document indexed", "document", name, "pages", len(pages), "chunks", len(chunks))
	return len(chunks), nil
}

// Count returns how many chunks of the document are in the index.
func (ix *Indexer) Count(ctx context.Context, name string) (int, error) {
	n, err := ix.index.Count(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("rag: count chunks: %w", err)
	}
	return n, nil
}

func (ix *Indexer) Purge(ctx context.Context, name string) error {
	if err := ix.index.DeleteSource(ctx, name); err != nil {
		return fmt.Errorf("rag: purge %s: %w", name, err)
	}
	return nil
}

// Reset wipes the whole index.
func (ix *Indexer) Reset(ctx context.Context) error {
	if err := ix.index.Reset(ctx); err != nil {
		return fmt.Errorf("rag: reset index: %w", err)
	}
	ix.logger.Info("index reset")
	return nil
}

func chunkID(source string, page, index int) string {
	sum := sha256.Sum256([]byte(source + "\x00" + strconv.Itoa(page) + "\x00" + strconv.Itoa(index)))
	return hex.EncodeToString(sum[:12])
}
