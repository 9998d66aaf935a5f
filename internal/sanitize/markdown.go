package sanitize

import (
	"bytes"
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"

	"github.com/waffleophagus/claw-rubber/internal/normalize"
)

var dangerousSelector = strings.Join(dangerousTags, ",")

// ToMarkdown removes dangerous markup at the DOM level, converts the rest of
// the body to Markdown (ATX headings, fenced code, dash bullets), and
// normalizes whitespace.
func ToMarkdown(body []byte, maxChars int) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("parse html: %w", err)
	}
	doc.Find(dangerousSelector).Remove()

	inner, err := doc.Find("body").Html()
	if err != nil {
		return Result{}, fmt.Errorf("serialize body: %w", err)
	}
	if strings.TrimSpace(inner) == "" {
		return Result{}, nil
	}

	md, err := htmltomarkdown.ConvertString(inner)
	if err != nil {
		return Result{}, fmt.Errorf("convert markdown: %w", err)
	}
	md = normalize.NormalizeWhitespace(md)
	return capLength(md, maxChars), nil
}
