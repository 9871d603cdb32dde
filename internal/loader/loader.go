// Package loader walks a directory tree and yields the documents found in it.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"

	"knowledge-rag/internal/models"
	"knowledge-rag/internal/parser"
)

// DefaultInclude matches the markdown and text files of a knowledge base.
var DefaultInclude = []string{"**/*.{md,markdown,txt}"}

// Loader reads source documents below a root directory.
type Loader struct {
	root    string
	include []string
	exclude []string
}

// Stats counts what a Load call saw.
type Stats struct {
	Loaded  int
	Skipped int
}

type Option func(*Loader)

func WithInclude(patterns ...string) Option {
	return func(l *Loader) {
		if len(patterns) > 0 {
			l.include = patterns
		}
	}
}

func WithExclude(patterns ...string) Option {
	return func(l *Loader) {
		l.exclude = append(l.exclude, patterns...)
	}
}

func New(root string, opts ...Option) (*Loader, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve root %s: %v", models.ErrIO, root, err)
	}
	l := &Loader{root: abs, include: DefaultInclude}
	for _, opt := range opts {
		opt(l)
	}
	for _, p := range append(append([]string{}, l.include...), l.exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	return l, nil
}

func (l *Loader) Root() string { return l.root }

// Load walks the tree and calls fn for every readable document. Each call re-reads
// the tree from disk. Unreadable files are logged and skipped; an unreadable root
// fails with models.ErrIO. An error returned by fn stops the walk and is returned.
func (l *Loader) Load(ctx context.Context, fn func(models.Document) error) (Stats, error) {
	var stats Stats
	info, err := os.Stat(l.root)
	if err != nil {
		return stats, fmt.Errorf("%w: %v", models.ErrIO, err)
	}
	if !info.IsDir() {
		return stats, fmt.Errorf("%w: %s is not a directory", models.ErrIO, l.root)
	}
	if _, err := os.ReadDir(l.root); err != nil {
		return stats, fmt.Errorf("%w: %v", models.ErrIO, err)
	}

	err = filepath.WalkDir(l.root, func(path string, d fs.DirEntry, walkErr error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if walkErr != nil {
			if path == l.root {
				return walkErr
			}
			log.Warn().Err(walkErr).Str("path", path).Msg("Skipping unreadable path")
			stats.Skipped++
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != l.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !l.Matches(path) {
			return nil
		}
		doc, err := l.LoadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Skipping unreadable document")
			stats.Skipped++
			return nil
		}
		stats.Loaded++
		return fn(doc)
	})
	if err != nil {
		return stats, err
	}
	return stats, nil
}

// Matches reports whether path (absolute or relative to the root) passes the
// include and exclude patterns.
func (l *Loader) Matches(path string) bool {
	rel, ok := l.rel(path)
	if !ok || !parser.Supported(rel) {
		return false
	}
	for _, p := range l.exclude {
		if doublestar.MatchUnvalidated(p, rel) {
			return false
		}
	}
	for _, p := range l.include {
		if doublestar.MatchUnvalidated(p, rel) {
			return true
		}
	}
	return false
}

// DocumentID maps a file path to the id used in the index.
func (l *Loader) DocumentID(path string) (string, bool) {
	return l.rel(path)
}

// LoadFile reads a single document below the root.
func (l *Loader) LoadFile(path string) (models.Document, error) {
	id, ok := l.rel(path)
	if !ok {
		return models.Document{}, fmt.Errorf("%w: %s is outside %s", models.ErrIO, path, l.root)
	}
	abs := filepath.Join(l.root, filepath.FromSlash(id))
	info, err := os.Stat(abs)
	if err != nil {
		return models.Document{}, fmt.Errorf("%w: %v", models.ErrIO, err)
	}
	text, err := parser.ExtractText(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return models.Document{}, fmt.Errorf("%w: %v", models.ErrIO, err)
		}
		return models.Document{}, err
	}

	fm, body, err := parser.SplitFrontmatter(text)
	if err != nil {
		log.Warn().Err(err).Str("document", id).Msg("Ignoring frontmatter")
	}
	return models.Document{
		ID:          id,
		Path:        abs,
		Text:        body,
		ModifiedAt:  info.ModTime(),
		Frontmatter: fm,
	}, nil
}

func (l *Loader) rel(path string) (string, bool) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.root, path)
	}
	rel, err := filepath.Rel(l.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
