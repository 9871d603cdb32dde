package parser

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"knowledge-rag/internal/models"
)

var errUnterminatedFrontmatter = errors.New("frontmatter is not terminated")

// SplitFrontmatter separates a leading YAML block fenced by "---" lines from the
// markdown body. Text without frontmatter is returned unchanged with a nil header.
// On a malformed header the original text is returned together with the error.
func SplitFrontmatter(text string) (*models.Frontmatter, string, error) {
	src := strings.TrimPrefix(text, "\uFEFF")
	first, rest, ok := cutLine(src)
	if !ok || strings.TrimRight(first, "\r") != "---" {
		return nil, text, nil
	}

	offset := len(src) - len(rest)
	var header strings.Builder
	for rest != "" {
		line, next, _ := cutLine(rest)
		offset += len(rest) - len(next)
		trimmed := strings.TrimRight(line, "\r")
		if trimmed == "---" || trimmed == "..." {
			var fm models.Frontmatter
			if err := yaml.Unmarshal([]byte(header.String()), &fm); err != nil {
				return nil, text, fmt.Errorf("failed to parse frontmatter: %w", err)
			}
			return &fm, src[offset:], nil
		}
		header.WriteString(trimmed)
		header.WriteString("\n")
		rest = next
	}
	return nil, text, errUnterminatedFrontmatter
}

func cutLine(s string) (line, rest string, found bool) {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i], s[i+1:], true
	}
	return s, "", false
}
