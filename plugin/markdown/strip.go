// Package markdown turns message markdown into plain preview text.
package markdown

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// Ellipsis is appended to truncated previews.
const Ellipsis = "..."

var md = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

// maxPasses bounds the re-parsing in Strip.
const maxPasses = 8

// Strip removes markdown syntax and returns the visible text on one line.
// Headers, emphasis markers, inline code, link syntax, list markers, block
// quotes and fences are dropped; link labels, image alt text and code
// contents are kept. Raw HTML is dropped.
//
// Text recovered from escapes or code can itself be markdown, so the pass is
// repeated until the output no longer changes. Strip(Strip(s)) == Strip(s).
func Strip(s string) string {
	out := stripOnce(s)
	for i := 1; i < maxPasses; i++ {
		next := stripOnce(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

func stripOnce(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	src := []byte(s)
	doc := md.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				b.Write(node.Label(src))
			}
		case *ast.RawHTML, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(src))
					b.WriteByte(' ')
				}
			}
			return ast.WalkSkipChildren, nil
		default:
			if !entering && n.Type() == ast.TypeBlock {
				b.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})

	return strings.Join(strings.Fields(unescape(b.String())), " ")
}

// unescape drops backslashes that escape ASCII punctuation.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && isASCIIPunct(s[i+1]) {
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isASCIIPunct(c byte) bool {
	return strings.IndexByte("!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~", c) >= 0
}

// Truncate shortens s to at most limit runes, appending Ellipsis when cut.
// A non-positive limit disables truncation.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimRight(string(runes[:limit]), " ") + Ellipsis
}

// Preview strips s and truncates the result to limit runes.
func Preview(s string, limit int) string {
	return Truncate(Strip(s), limit)
}
