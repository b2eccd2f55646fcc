// Package documents keeps the uploaded PDF files, keyed by filename, and
// watches their folder for changes made outside the assistant.
package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"academic-assistant/internal/domain"
)

const extension = ".pdf"

var (
	ErrNotFound    = errors.New("documents: not found")
	ErrInvalidName = errors.New("documents: invalid document name")
)

// Store is a flat directory of PDF files.
type Store struct {
	dir string
	mu  sync.RWMutex
}

func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("documents: directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("documents: create directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// ValidateName accepts a bare filename ending in .pdf.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "", ErrInvalidName
	}
	if strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", ErrInvalidName
	}
	if strings.HasPrefix(name, ".") {
		return "", ErrInvalidName
	}
	if !strings.EqualFold(filepath.Ext(name), extension) {
		return "", ErrInvalidName
	}
	return name, nil
}

// Add writes the document atomically, replacing any file with the same name.
func (s *Store) Add(ctx context.Context, name string, r io.Reader) (domain.Document, error) {
	name, err := ValidateName(name)
	if err != nil {
		return domain.Document{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Document{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return domain.Document{}, fmt.Errorf("documents: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return domain.Document{}, fmt.Errorf("documents: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return domain.Document{}, fmt.Errorf("documents: write %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return domain.Document{}, fmt.Errorf("documents: store %s: %w", name, err)
	}
	return s.stat(name)
}

// List returns the stored documents sorted by name.
func (s *Store) List(ctx context.Context) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("documents: list: %w", err)
	}
	docs := make([]domain.Document, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if _, err := ValidateName(e.Name()); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		docs = append(docs, domain.Document{Name: e.Name(), Size: info.Size(), ModifiedAt: info.ModTime().UTC()})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	name, err := ValidateName(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("documents: delete %s: %w", name, err)
	}
	return nil
}

// Path returns the on-disk path of an existing document.
func (s *Store) Path(name string) (string, error) {
	name, err := ValidateName(name)
	if err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.stat(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name), nil
}

func (s *Store) Stat(name string) (domain.Document, error) {
	name, err := ValidateName(name)
	if err != nil {
		return domain.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stat(name)
}

func (s *Store) stat(name string) (domain.Document, error) {
	info, err := os.Stat(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Document{}, ErrNotFound
		}
		return domain.Document{}, fmt.Errorf("documents: stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return domain.Document{}, ErrNotFound
	}
	return domain.Document{Name: name, Size: info.Size(), ModifiedAt: info.ModTime().UTC()}, nil
}
