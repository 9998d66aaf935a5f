// Package sanitize turns untrusted HTML into either plain text for scoring or
// a Markdown rendition for the caller, with all active content removed.
package sanitize

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/waffleophagus/claw-rubber/internal/normalize"
)

// Mode selects the extraction output shape.
type Mode string

const (
	ModeText     Mode = "text"
	ModeMarkdown Mode = "markdown"
)

// Result carries extracted content and whether the length cap cut it short.
type Result struct {
	Content   string
	Truncated bool
}

// dangerousTags are removed inclusive of their contents before any text is
// taken from the document.
var dangerousTags = []string{
	"script", "style", "noscript", "iframe", "object", "embed", "svg",
	"math", "form", "button", "input", "textarea", "select",
}

var dangerousTagSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(dangerousTags))
	for _, t := range dangerousTags {
		set[t] = struct{}{}
	}
	return set
}()

// Extract runs the requested mode. Markdown extraction falls back to text
// when the HTML cannot be converted.
func Extract(body []byte, mode Mode, maxChars int) (Result, error) {
	switch mode {
	case ModeMarkdown:
		res, err := ToMarkdown(body, maxChars)
		if err == nil {
			return res, nil
		}
		return ToText(body, maxChars), nil
	case ModeText, "":
		return ToText(body, maxChars), nil
	default:
		return Result{}, fmt.Errorf("unknown extract mode: %q", mode)
	}
}

// ToText parses the document and walks the DOM, dropping comments and the
// dangerous elements with their entire subtrees. Parsing rather than pattern
// matching means an unclosed <script> or an unterminated comment still
// swallows its contents instead of leaking them as text. Entities are decoded
// by the parser; control characters and whitespace are normalized afterwards.
func ToText(body []byte, maxChars int) Result {
	clean := stripControl(string(body))
	node, err := html.Parse(strings.NewReader(clean))
	if err != nil || node == nil {
		return Result{}
	}
	var b strings.Builder
	collectText(&b, node)
	text := normalize.NormalizeWhitespace(b.String())
	return capLength(text, maxChars)
}

// collectText gathers text nodes, skipping dangerous subtrees and comments
// and separating block elements with newlines.
func collectText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.CommentNode:
		return
	case html.ElementNode:
		name := strings.ToLower(n.Data)
		if _, dangerous := dangerousTagSet[name]; dangerous {
			return
		}
		if isBlockTag(name) {
			b.WriteString("\n")
		}
	case html.TextNode:
		b.WriteString(foldNBSP(n.Data))
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(b, c)
	}

	if n.Type == html.ElementNode && isBlockTag(strings.ToLower(n.Data)) {
		b.WriteString("\n")
	}
}

func isBlockTag(name string) bool {
	switch name {
	case "p", "div", "section", "article", "aside", "header", "footer",
		"nav", "main", "blockquote", "pre", "table", "tr", "ul", "ol", "li",
		"h1", "h2", "h3", "h4", "h5", "h6", "br", "hr", "dt", "dd":
		return true
	}
	return false
}

// foldNBSP maps non-breaking spaces to plain spaces so the whitespace pass
// can collapse them.
func foldNBSP(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\u00a0' {
			return ' '
		}
		return r
	}, s)
}

// stripControl removes C0 control characters except TAB, LF, and CR, plus
// DEL, before the text reaches the parser. CR is dropped later by the
// whitespace pass.
func stripControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\t' || r == '\n' || r == '\r' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 || r == 0x7F {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func capLength(s string, maxChars int) Result {
	if maxChars <= 0 {
		return Result{Content: s}
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return Result{Content: s}
	}
	return Result{Content: string(runes[:maxChars]), Truncated: true}
}

// Summary returns the first wordLimit whitespace-separated words capped at
// charLimit characters, for compact response previews.
func Summary(content string, wordLimit, charLimit int) string {
	words := strings.Fields(content)
	if len(words) > wordLimit {
		words = words[:wordLimit]
	}
	s := strings.Join(words, " ")
	runes := []rune(s)
	if len(runes) > charLimit {
		s = string(runes[:charLimit])
	}
	return s
}
