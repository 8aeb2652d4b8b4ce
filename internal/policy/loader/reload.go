package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"kinguard/internal/policy"
)

// DefaultDebounce is how long the reloader waits after the last write.
const DefaultDebounce = 500 * time.Millisecond

// Reseeder applies a reloaded seed file to the live rule set.
type Reseeder interface {
	Reseed(ctx context.Context, rules []policy.Rule) (policy.ReseedResult, error)
}

// Reloader watches a seed rule file and reseeds the repository whenever it
// changes. The file owns the seed rules: a seed rule removed from the file is
// removed from the repository, while rules written through the rule API are
// kept unless the file defines the same id. A file that fails to parse leaves
// the current rules in place.
type Reloader struct {
	watcher  *fsnotify.Watcher
	repo     Reseeder
	path     string
	logger   *slog.Logger
	debounce time.Duration

	mu       sync.Mutex
	lastHash string
}

type ReloaderOption func(*Reloader)

func WithReloadLogger(logger *slog.Logger) ReloaderOption {
	return func(r *Reloader) {
		r.logger = logger
	}
}

func WithDebounce(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		if d > 0 {
			r.debounce = d
		}
	}
}

// NewReloader watches the directory holding path so that editors which
// replace files by rename are still picked up.
func NewReloader(path string, repo Reseeder, opts ...ReloaderOption) (*Reloader, error) {
	if path == "" {
		return nil, fmt.Errorf("rule file path is required")
	}
	if repo == nil {
		return nil, fmt.Errorf("rule repository is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(abs), err)
	}

	r := &Reloader{
		watcher:  watcher,
		repo:     repo,
		path:     abs,
		logger:   slog.Default(),
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Reload loads the file and replaces the rule set when its content changed.
func (r *Reloader) Reload(ctx context.Context) error {
	if _, err := os.Stat(r.path); err != nil {
		return fmt.Errorf("rule file unavailable: %w", err)
	}
	rules, hash, err := Load(r.path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if hash == r.lastHash {
		return nil
	}
	res, err := r.repo.Reseed(ctx, rules)
	if err != nil {
		return err
	}
	r.lastHash = hash
	r.logger.InfoContext(ctx, "rules reloaded",
		"path", r.path,
		"hash", hash,
		"rules", res.Seeded,
		"kept_api_rules", res.Kept,
		"dropped_seed_rules", res.Dropped,
		"generation", res.Generation,
	)
	return nil
}

// Run watches for file changes until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(r.debounce, func() {
				if err := r.Reload(ctx); err != nil {
					r.logger.ErrorContext(ctx, "rule hot-reload failed", "path", r.path, "error", err)
				}
			})

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.WarnContext(ctx, "rule file watcher error", "error", err)
		}
	}
}
