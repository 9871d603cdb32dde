package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-rag/internal/models"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func collect(t *testing.T, l *Loader) ([]models.Document, Stats) {
	t.Helper()
	var docs []models.Document
	stats, err := l.Load(context.Background(), func(doc models.Document) error {
		docs = append(docs, doc)
		return nil
	})
	require.NoError(t, err)
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, stats
}

func TestLoader(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "aiken/validators.md", "---\ndomain: aiken\ntags: [core]\n---\n# Validators\n")
	writeFile(t, root, "midnight/compact.markdown", "# Compact\n")
	writeFile(t, root, "notes.txt", "plain notes")
	writeFile(t, root, "empty.md", "")
	writeFile(t, root, ".git/HEAD.md", "hidden")
	writeFile(t, root, "drafts/wip.md", "draft")
	writeFile(t, root, "logo.png", "png")

	t.Run("Should load matching documents with relative ids", func(t *testing.T) {
		l, err := New(root)
		require.NoError(t, err)
		docs, stats := collect(t, l)
		ids := make([]string, 0, len(docs))
		for _, d := range docs {
			ids = append(ids, d.ID)
		}
		assert.Equal(t, []string{"aiken/validators.md", "drafts/wip.md", "empty.md", "midnight/compact.markdown", "notes.txt"}, ids)
		assert.Equal(t, 5, stats.Loaded)
		assert.Equal(t, 0, stats.Skipped)
	})

	t.Run("Should strip frontmatter into metadata", func(t *testing.T) {
		l, err := New(root)
		require.NoError(t, err)
		doc, err := l.LoadFile(filepath.Join(root, "aiken", "validators.md"))
		require.NoError(t, err)
		require.NotNil(t, doc.Frontmatter)
		assert.Equal(t, "aiken", doc.Frontmatter.Domain)
		assert.Equal(t, "# Validators\n", doc.Text)
		assert.False(t, doc.ModifiedAt.IsZero())
	})

	t.Run("Should apply exclude patterns", func(t *testing.T) {
		l, err := New(root, WithExclude("drafts/**"), WithInclude("**/*.md"))
		require.NoError(t, err)
		docs, _ := collect(t, l)
		require.Len(t, docs, 2)
		assert.Equal(t, "aiken/validators.md", docs[0].ID)
		assert.Equal(t, "empty.md", docs[1].ID)
	})

	t.Run("Should be restartable", func(t *testing.T) {
		l, err := New(root)
		require.NoError(t, err)
		first, _ := collect(t, l)
		second, _ := collect(t, l)
		assert.Equal(t, len(first), len(second))
	})

	t.Run("Should fail with an IO error on missing root", func(t *testing.T) {
		l, err := New(filepath.Join(root, "missing"))
		require.NoError(t, err)
		_, err = l.Load(context.Background(), func(models.Document) error { return nil })
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrIO))
	})

	t.Run("Should stop when callback fails", func(t *testing.T) {
		l, err := New(root)
		require.NoError(t, err)
		stop := errors.New("stop")
		_, err = l.Load(context.Background(), func(models.Document) error { return stop })
		assert.ErrorIs(t, err, stop)
	})

	t.Run("Should reject paths outside root", func(t *testing.T) {
		l, err := New(root)
		require.NoError(t, err)
		_, err = l.LoadFile(filepath.Join(root, "..", "elsewhere.md"))
		assert.ErrorIs(t, err, models.ErrIO)
		assert.False(t, l.Matches(filepath.Join(root, "logo.png")))
	})

	t.Run("Should reject invalid patterns", func(t *testing.T) {
		_, err := New(root, WithInclude("[unclosed"))
		require.Error(t, err)
	})
}
