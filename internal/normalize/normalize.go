// Package normalize reduces obfuscated text to a canonical lowercase form the
// injection rules can match against, while reporting which transformations
// fired so the scorer can weight them as signals.
package normalize

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Transformation identifiers recorded when a step changes the text.
const (
	TransformNFKC             = "unicode_nfkc"
	TransformStripInvisible   = "strip_invisible_or_bidi"
	TransformEntityDecode     = "html_entity_decode"
	TransformConfusableFold   = "confusable_fold"
	TransformSeparatorCollapse = "separator_collapse"
	TransformLowercase        = "lowercase"
	TransformRepeatCollapse   = "repeated_char_collapse"
	TransformWhitespace       = "whitespace_normalize"
)

// Signal flags raised by normalization.
const (
	SignalInvisibleOrBidi      = "unicode_invisible_or_bidi"
	SignalConfusableMixedScript = "confusable_mixed_script"
)

// Result is the outcome of one normalization pass.
type Result struct {
	Text            string
	Transformations []string
	SignalFlags     []string
	// SuspiciousTokens are mixed-script tokens combining Latin letters with
	// confusable Cyrillic/Greek codepoints. The scorer decides whether they
	// count against the text or fall under the language-list exception.
	SuspiciousTokens []string
	// ConfusableApplied is true when at least one confusable codepoint was
	// folded to its Latin target, suspicious or not.
	ConfusableApplied bool
}

// HasSignal reports whether the pass raised the given signal flag.
func (r Result) HasSignal(flag string) bool {
	for _, f := range r.SignalFlags {
		if f == flag {
			return true
		}
	}
	return false
}

var separatorRuns = regexp.MustCompile(`[._\-:/\\|]{2,}`)

// Normalize applies the obfuscation-normalization steps in order. Each
// transformation is recorded only when it changed the text.
func Normalize(input string) Result {
	res := Result{Text: input}

	// 1. Unicode NFKC.
	if t := norm.NFKC.String(res.Text); t != res.Text {
		res.Text = t
		res.Transformations = append(res.Transformations, TransformNFKC)
	}

	// 2. Invisible and bidi control characters.
	if t := stripInvisible(res.Text); t != res.Text {
		res.Text = t
		res.Transformations = append(res.Transformations, TransformStripInvisible)
		res.SignalFlags = append(res.SignalFlags, SignalInvisibleOrBidi)
	}

	// 3. HTML entities.
	if t := html.UnescapeString(res.Text); t != res.Text {
		res.Text = t
		res.Transformations = append(res.Transformations, TransformEntityDecode)
	}

	// 4. Confusable analysis and folding.
	res.SuspiciousTokens = suspiciousMixedTokens(res.Text)
	if t := foldConfusables(res.Text); t != res.Text {
		res.Text = t
		res.ConfusableApplied = true
		res.Transformations = append(res.Transformations, TransformConfusableFold)
	}
	if len(res.SuspiciousTokens) > 0 {
		res.SignalFlags = append(res.SignalFlags, SignalConfusableMixedScript)
	}

	// 5. Separator runs.
	if t := separatorRuns.ReplaceAllString(res.Text, " "); t != res.Text {
		res.Text = t
		res.Transformations = append(res.Transformations, TransformSeparatorCollapse)
	}

	// 6. Lowercase.
	if t := strings.ToLower(res.Text); t != res.Text {
		res.Text = t
		res.Transformations = append(res.Transformations, TransformLowercase)
	}

	// 7. Stretched letters, e.g. "igggggnore".
	if t := collapseRepeatedLetters(res.Text); t != res.Text {
		res.Text = t
		res.Transformations = append(res.Transformations, TransformRepeatCollapse)
	}

	// 8. Whitespace.
	if t := NormalizeWhitespace(res.Text); t != res.Text {
		res.Text = t
		res.Transformations = append(res.Transformations, TransformWhitespace)
	}

	return res
}

// IsInvisibleOrBidi reports whether r belongs to the stripped control set:
// C0 controls (except TAB, LF and CR), DEL, zero-width and bidi controls.
func IsInvisibleOrBidi(r rune) bool {
	switch {
	case r >= 0x0000 && r <= 0x0008:
		return true
	case r == 0x000B || r == 0x000C:
		return true
	case r >= 0x000E && r <= 0x001F:
		return true
	case r == 0x007F:
		return true
	case r >= 0x200B && r <= 0x200F:
		return true
	case r >= 0x202A && r <= 0x202E:
		return true
	case r == 0x2060:
		return true
	case r >= 0x2066 && r <= 0x2069:
		return true
	case r == 0xFEFF:
		return true
	}
	return false
}

func stripInvisible(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if IsInvisibleOrBidi(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isTokenRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsNumber(r) || r == '_' || r == '-'
}

// suspiciousMixedTokens returns tokens mixing Latin letters with confusable
// Cyrillic/Greek codepoints. Pure-Cyrillic or pure-Greek words are not
// suspicious; disguises are.
func suspiciousMixedTokens(s string) []string {
	var out []string
	var token []rune
	flush := func() {
		if len(token) == 0 {
			return
		}
		hasLatin := false
		hasConfusable := false
		for _, r := range token {
			if unicode.Is(unicode.Latin, r) {
				hasLatin = true
			}
			if IsConfusable(r) && (unicode.Is(unicode.Cyrillic, r) || unicode.Is(unicode.Greek, r)) {
				hasConfusable = true
			}
		}
		if hasLatin && hasConfusable {
			out = append(out, string(token))
		}
		token = token[:0]
	}
	for _, r := range s {
		if isTokenRune(r) {
			token = append(token, r)
			continue
		}
		flush()
	}
	flush()
	return out
}

func foldConfusables(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		b.WriteRune(FoldConfusable(r))
	}
	return b.String()
}

// collapseRepeatedLetters shrinks any Latin letter repeated four or more
// times to a double letter. Go's regexp has no backreferences, so this is a
// manual scan.
func collapseRepeatedLetters(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(runes); {
		r := runes[i]
		j := i + 1
		for j < len(runes) && runes[j] == r {
			j++
		}
		run := j - i
		if run >= 4 && r >= 'a' && r <= 'z' {
			b.WriteRune(r)
			b.WriteRune(r)
		} else {
			for k := 0; k < run; k++ {
				b.WriteRune(r)
			}
		}
		i = j
	}
	return b.String()
}

// NormalizeWhitespace collapses runs of spaces and tabs to one space, strips
// carriage returns, allows at most one blank line between content, and trims
// the result.
func NormalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(collapseSpaces(line))
		if trimmed == "" {
			if len(out) > 0 && out[len(out)-1] == "" {
				continue
			}
			out = append(out, "")
			continue
		}
		out = append(out, trimmed)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	for len(out) > 0 && out[0] == "" {
		out = out[1:]
	}
	return strings.Join(out, "\n")
}

func collapseSpaces(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return b.String()
}
