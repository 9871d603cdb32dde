package chunker

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

type span struct {
	start, end int
}

// structure holds the markdown landmarks the splitter cares about, as byte offsets.
type structure struct {
	headings map[int]bool
	blocks   []span
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

func analyze(src string) structure {
	st := structure{headings: make(map[int]bool)}
	source := []byte(src)
	root := markdown.Parser().Parse(text.NewReader(source))
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if node.Lines().Len() > 0 {
				st.headings[lineStart(src, node.Lines().At(0).Start)] = true
			}
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock:
			if sp, ok := fencedSpan(src, node); ok {
				st.blocks = append(st.blocks, sp)
			}
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			lines := node.Lines()
			if lines.Len() > 0 {
				st.blocks = append(st.blocks, span{
					start: lineStart(src, lines.At(0).Start),
					end:   lineEnd(src, lines.At(lines.Len()-1).Stop),
				})
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return st
}

// fencedSpan covers the opening fence line through the closing fence line.
func fencedSpan(src string, node *ast.FencedCodeBlock) (span, bool) {
	lines := node.Lines()
	var start, stop int
	switch {
	case lines.Len() > 0:
		contentStart := lineStart(src, lines.At(0).Start)
		if contentStart == 0 {
			return span{}, false
		}
		start = lineStart(src, contentStart-1)
		stop = lineEnd(src, lines.At(lines.Len()-1).Stop)
	case node.Info != nil:
		start = lineStart(src, node.Info.Segment.Start)
		stop = lineEnd(src, node.Info.Segment.Stop)
	default:
		return span{}, false
	}
	// closing fence line, if any
	if stop < len(src) {
		stop = lineEnd(src, stop+1)
	}
	return span{start: start, end: stop}, true
}

func lineStart(src string, i int) int {
	if i > len(src) {
		i = len(src)
	}
	return strings.LastIndexByte(src[:i], '\n') + 1
}

// lineEnd returns the offset just past the newline ending the line that contains
// byte i-1, so a stop that already sits after a newline is returned unchanged.
func lineEnd(src string, i int) int {
	if i <= 0 {
		return 0
	}
	if i > len(src) {
		return len(src)
	}
	if src[i-1] == '\n' {
		return i
	}
	if j := strings.IndexByte(src[i:], '\n'); j >= 0 {
		return i + j + 1
	}
	return len(src)
}

// inside reports whether b falls strictly within a protected block.
func (s structure) inside(b int) bool {
	for _, blk := range s.blocks {
		if blk.start < b && b < blk.end {
			return true
		}
	}
	return false
}

func (s structure) blockAt(b int) (span, bool) {
	for _, blk := range s.blocks {
		if blk.start < b && b < blk.end {
			return blk, true
		}
	}
	return span{}, false
}

func (s structure) touchesBlock(start, end int) bool {
	for _, blk := range s.blocks {
		if blk.start < end && start < blk.end {
			return true
		}
	}
	return false
}
