package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zonecraft/zonecraft/pkg/telemetry"
)

// Loader reads policy definitions from .rego and .json files and can
// watch their directories for changes.
type Loader struct {
	log     *telemetry.Logger
	cache   map[string]*Policy
	mu      sync.RWMutex
	watcher *fsnotify.Watcher
}

// NewLoader creates a policy loader.
func NewLoader(log *telemetry.Logger) *Loader {
	if log == nil {
		log = telemetry.Nop()
	}
	return &Loader{
		log:   log.Component("policy-loader"),
		cache: make(map[string]*Policy),
	}
}

// LoadFromPaths loads policies from a list of file or directory paths.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy

	for _, path := range paths {
		policies, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("loading policies from %s: %w", path, err)
		}
		all = append(all, policies...)
	}

	l.log.Z().Debug().
		Int("total", len(all)).
		Int("sources", len(paths)).
		Msg("policies loaded")

	return all, nil
}

func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if info.IsDir() {
		return l.loadFromDirectory(ctx, path)
	}

	p, err := l.loadFromFile(path)
	if err != nil {
		return nil, err
	}
	return []Policy{*p}, nil
}

// loadFromDirectory walks a directory and loads every .rego and .json
// file in it. Unparseable files are skipped with a warning so one bad
// policy does not block the rest.
func (l *Loader) loadFromDirectory(ctx context.Context, dir string) ([]Policy, error) {
	var policies []Policy

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".rego") && !strings.HasSuffix(path, ".json") {
			return nil
		}

		p, err := l.loadFromFile(path)
		if err != nil {
			l.log.Z().Warn().Err(err).Str("path", path).Msg("skipping policy file")
			return nil
		}

		policies = append(policies, *p)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return policies, nil
}

func (l *Loader) loadFromFile(path string) (*Policy, error) {
	l.mu.RLock()
	if cached, ok := l.cache[path]; ok {
		l.mu.RUnlock()
		return cached, nil
	}
	l.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p *Policy
	switch {
	case strings.HasSuffix(path, ".rego"):
		p = l.parseRegoFile(path, data)
	case strings.HasSuffix(path, ".json"):
		p, err = parseJSONPolicy(data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported policy file type: %s", path)
	}

	l.mu.Lock()
	l.cache[path] = p
	l.mu.Unlock()

	return p, nil
}

// parseRegoFile wraps raw Rego source in a Policy. The name comes from
// the file name and the description from leading comments.
func (l *Loader) parseRegoFile(path string, data []byte) *Policy {
	name := strings.TrimSuffix(filepath.Base(path), ".rego")

	return &Policy{
		Name:        name,
		Description: extractDescription(string(data)),
		Rego:        string(data),
		Severity:    SeverityError,
		Enabled:     true,
		Metadata: map[string]interface{}{
			"source": path,
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func parseJSONPolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing JSON policy: %w", err)
	}

	if p.Severity == "" {
		p.Severity = SeverityError
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}

	return &p, nil
}

// extractDescription collects the leading comment block of a Rego file.
func extractDescription(src string) string {
	var b strings.Builder
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			if comment != "" && !strings.HasPrefix(comment, "package") {
				if b.Len() > 0 {
					b.WriteString(" ")
				}
				b.WriteString(comment)
			}
		} else if trimmed != "" && b.Len() > 0 {
			break
		}
	}
	return b.String()
}

// Watch watches the given paths for policy changes and calls reloadFn
// with the freshly loaded set after each change. Reloads are debounced
// so an editor save touching multiple files triggers one reload. Watch
// returns immediately, the watcher runs until ctx is cancelled.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	l.watcher = watcher

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.log.Z().Warn().Err(err).Str("path", path).Msg("cannot watch path")
			continue
		}
		if info.IsDir() {
			if err := l.watchDirectory(path); err != nil {
				l.log.Z().Warn().Err(err).Str("path", path).Msg("cannot watch directory")
			}
		} else if err := watcher.Add(path); err != nil {
			l.log.Z().Warn().Err(err).Str("path", path).Msg("cannot watch file")
		}
	}

	go l.processEvents(ctx, paths, reloadFn)

	l.log.Infof("watching %d policy paths", len(paths))
	return nil
}

func (l *Loader) watchDirectory(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return l.watcher.Add(path)
		}
		return nil
	})
}

func (l *Loader) processEvents(ctx context.Context, paths []string, reloadFn func([]Policy) error) {
	var reloadTimer *time.Timer
	const reloadDelay = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if l.watcher != nil {
				_ = l.watcher.Close()
			}
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".rego") && !strings.HasSuffix(event.Name, ".json") {
				continue
			}

			l.log.Z().Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("policy file changed")

			l.mu.Lock()
			delete(l.cache, event.Name)
			l.mu.Unlock()

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				policies, err := l.LoadFromPaths(ctx, paths)
				if err != nil {
					l.log.Z().Error().Err(err).Msg("policy reload failed")
					return
				}
				if err := reloadFn(policies); err != nil {
					l.log.Z().Error().Err(err).Msg("applying reloaded policies failed")
					return
				}
				l.log.Infof("reloaded %d policies", len(policies))
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.log.Z().Error().Err(err).Msg("watcher error")
		}
	}
}
