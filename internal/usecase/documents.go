package usecase

import (
	"context"
	"errors"
	"io"

	"academic-assistant/internal/documents"
	"academic-assistant/internal/domain"
	"academic-assistant/internal/rag"
	"academic-assistant/internal/session"
)

type SelectInput struct {
	SessionID string
	Name      string
	// Reindex rebuilds the chunks even when the document is already indexed.
	Reindex bool
}

type SelectOutput struct {
	Session session.State
	Chunks  int
}

// SelectDocument makes name the session's document, indexing it on first use.
func (a *Assistant) SelectDocument(ctx context.Context, in SelectInput) (SelectOutput, error) {
	sessionID, err := requireSession(in.SessionID)
	if err != nil {
		return SelectOutput{}, err
	}
	doc, err := a.docs.Stat(in.Name)
	if err != nil {
		return SelectOutput{}, documentLookupError(err)
	}

	chunks := 0
	if !in.Reindex {
		if chunks, err = a.index.Count(ctx, doc.Name); err != nil {
			return SelectOutput{}, newNotice("index_read_error", "The document index could not be read.", err)
		}
	}
	if chunks == 0 {
		if chunks, err = a.indexDocument(ctx, doc.Name); err != nil {
			return SelectOutput{}, err
		}
	}

	state := a.sessions.SetDocument(sessionID, doc.Name)
	a.logger.Info("document selected", "session_id", sessionID, "document", doc.Name, "chunks", chunks)
	return SelectOutput{Session: state, Chunks: chunks}, nil
}

// ClearDocument drops the session's document selection.
func (a *Assistant) ClearDocument(_ context.Context, sessionID string) (session.State, error) {
	sessionID, err := requireSession(sessionID)
	if err != nil {
		return session.State{}, err
	}
	return a.sessions.SetDocument(sessionID, ""), nil
}

func (a *Assistant) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	docs, err := a.docs.List(ctx)
	if err != nil {
		return nil, newNotice("document_list_error", "Documents could not be listed.", err)
	}
	return docs, nil
}

type UploadInput struct {
	Name string
	Body io.Reader
}

type UploadOutput struct {
	Document domain.Document
	Chunks   int
}

// UploadDocument stores and indexes the file. When indexing fails the file
// stays stored and a DOCUMENT_ERROR notice is returned.
func (a *Assistant) UploadDocument(ctx context.Context, in UploadInput) (UploadOutput, error) {
	if in.Body == nil {
		return UploadOutput{}, newError(ErrorInvalidInput, "empty_body", nil)
	}
	doc, err := a.docs.Add(ctx, in.Name, in.Body)
	a.metrics.ObserveDocumentOp("upload", err)
	if err != nil {
		if errors.Is(err, documents.ErrInvalidName) {
			return UploadOutput{}, newError(ErrorInvalidInput, "invalid_document_name", err)
		}
		return UploadOutput{}, newNotice("document_write_error", "The document could not be saved.", err)
	}

	chunks, err := a.indexDocument(ctx, doc.Name)
	if err != nil {
		var uerr *Error
		if errors.As(err, &uerr) && uerr.Code != ErrorDocument {
			return UploadOutput{Document: doc}, newNotice(uerr.Reason, "The document was saved but could not be indexed.", err)
		}
		return UploadOutput{Document: doc}, err
	}
	return UploadOutput{Document: doc, Chunks: chunks}, nil
}

// Reindex rebuilds one document's chunks. Used when the file changes on disk.
func (a *Assistant) Reindex(ctx context.Context, name string) (int, error) {
	doc, err := a.docs.Stat(name)
	if err != nil {
		return 0, documentLookupError(err)
	}
	return a.indexDocument(ctx, doc.Name)
}

// DeleteDocument removes the file, clears every session selection pointing at
// it and purges its chunks. A purge failure is reported as a notice after
// the file is gone.
func (a *Assistant) DeleteDocument(ctx context.Context, name string) error {
	err := a.docs.Delete(ctx, name)
	a.metrics.ObserveDocumentOp("delete", err)
	if err != nil {
		return documentLookupError(err)
	}
	return a.Forget(ctx, name)
}

// Forget drops a document that no longer exists on disk.
func (a *Assistant) Forget(ctx context.Context, name string) error {
	a.sessions.ForgetDocument(name)
	err := a.index.Purge(ctx, name)
	a.metrics.ObserveDocumentOp("purge", err)
	if err != nil {
		a.logger.Warn("purge failed", "document", name, "err", err)
		return newNotice("index_purge_error", "The document was deleted but its index entries could not be removed.", err)
	}
	a.logger.Info("document removed", "document", name)
	return nil
}

// ResetIndex wipes the whole index. Stored files are kept.
func (a *Assistant) ResetIndex(ctx context.Context) error {
	err := a.index.Reset(ctx)
	a.metrics.ObserveDocumentOp("reset", err)
	if err != nil {
		return newNotice("index_reset_error", "The index could not be reset.", err)
	}
	return nil
}

func (a *Assistant) indexDocument(ctx context.Context, name string) (int, error) {
	chunks, err := a.index.Index(ctx, name)
	a.metrics.ObserveDocumentOp("index", err)
	if err != nil {
		switch {
		case errors.Is(err, rag.ErrNoText):
			return 0, newNotice("no_text", "The document has no extractable text.", err)
		case errors.Is(err, documents.ErrNotFound):
			return 0, newError(ErrorNotFound, "document_not_found", err)
		}
		if _, ok := upstreamStatusCode(err); ok {
			return 0, upstreamError("embedding", err)
		}
		return 0, newNotice("index_error", "The document could not be indexed.", err)
	}
	a.metrics.ObserveIndexed(chunks)
	return chunks, nil
}

func documentLookupError(err error) *Error {
	switch {
	case errors.Is(err, documents.ErrInvalidName):
		return newError(ErrorInvalidInput, "invalid_document_name", err)
	case errors.Is(err, documents.ErrNotFound):
		return newError(ErrorNotFound, "document_not_found", err)
	default:
		return newNotice("document_error", "The document store is unavailable.", err)
	}
}
