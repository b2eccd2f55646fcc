package documents

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

type Op int

const (
	// OpChanged covers created, rewritten and renamed-in files.
	OpChanged Op = iota + 1
	OpRemoved
)

func (o Op) String() string {
	switch o {
	case OpChanged:
		return "changed"
	case OpRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event names a document by its base filename.
type Event struct {
	Name string
	Op   Op
}

const defaultDebounce = 500 * time.Millisecond

// Watcher reports PDF changes in one directory. Bursts of events for the same
// file within the debounce window collapse into one Event carrying the last op.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
}

func NewWatcher(debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{watcher: w, debounce: debounce, logger: logger}, nil
}

// Watch starts monitoring dir. The returned channel closes when ctx is done
// or the watcher is closed.
func (w *Watcher) Watch(ctx context.Context, dir string) (<-chan Event, error) {
	if err := w.watcher.Add(dir); err != nil {
		return nil, err
	}

	events := make(chan Event, 16)
	go w.loop(ctx, events)
	return events, nil
}

func (w *Watcher) loop(ctx context.Context, events chan<- Event) {
	defer close(events)

	pending := make(map[string]Op)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if _, err := ValidateName(name); err != nil {
				continue
			}
			switch {
			case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
				pending[name] = OpRemoved
			case event.Op.Has(fsnotify.Create), event.Op.Has(fsnotify.Write):
				pending[name] = OpChanged
			default:
				continue
			}
			timer.Reset(w.debounce)
		case <-timer.C:
			for _, e := range drain(pending) {
				select {
				case events <- e:
				case <-ctx.Done():
					return
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("document watcher error", "err", err)
		}
	}
}

func drain(pending map[string]Op) []Event {
	out := make([]Event, 0, len(pending))
	for name, op := range pending {
		out = append(out, Event{Name: name, Op: op})
		delete(pending, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (w *Watcher) Close() error {
	if err := w.watcher.Close(); err != nil && !errors.Is(err, fsnotify.ErrClosed) {
		return err
	}
	return nil
}
