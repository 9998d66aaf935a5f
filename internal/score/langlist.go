package score

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// languageNames are autonyms commonly seen in site language selectors.
// Entries are stored NFKC-lowercased; multi-token names match as phrases.
var languageNames = []string{
	"english", "deutsch", "français", "español", "italiano", "português",
	"nederlands", "polski", "dansk", "svenska", "norsk", "suomi",
	"íslenska", "magyar", "čeština", "slovenčina", "slovenščina",
	"hrvatski", "srpski", "română", "shqip", "català", "galego",
	"euskara", "asturianu", "occitan", "esperanto", "afrikaans",
	"kiswahili", "cymraeg", "gaeilge", "frysk", "føroyskt", "latviešu",
	"lietuvių", "eesti", "türkçe", "azərbaycanca", "tiếng việt",
	"bahasa indonesia", "bahasa melayu", "filipino", "tagalog",
	"русский", "українська", "беларуская", "български", "српски",
	"македонски", "ελληνικά", "қазақша", "татарча", "кыргызча",
	"հայերեն", "ქართული", "עברית", "العربية", "فارسی", "اردو",
	"हिन्दी", "বাংলা", "தமிழ்", "తెలుగు", "मराठी", "ગુજરાતી",
	"ಕನ್ನಡ", "മലയാളം", "ਪੰਜਾਬੀ", "සිංහල", "ไทย", "ລາວ", "ភាសាខ្មែរ",
	"မြန်မာဘာသာ", "中文", "简体中文", "繁體中文", "日本語", "한국어",
	"malti", "lëtzebuergesch", "bosanski", "crnogorski",
}

// languageCues are phrases whose presence marks a language-selector context.
var languageCues = []string{
	"language", "languages", "sprache", "sprachen", "idioma", "idiomas",
	"langue", "langues", "lingua", "язык", "языки", "select language",
}

// LanguageListStats captures what the detector saw in one text.
type LanguageListStats struct {
	DistinctMatchCount int
	MatchedTokens      int
	TotalTokens        int
	MatchedTokenRatio  float64
	ListSeparatorCount int
	HasLanguageCue     bool
}

// LanguageListLike applies the classification rule: a dense cluster of
// distinct language names, or a very long tail of them.
func (s LanguageListStats) LanguageListLike() bool {
	if s.DistinctMatchCount >= 4 && s.MatchedTokens >= 5 && s.MatchedTokenRatio >= 0.45 &&
		(s.ListSeparatorCount >= 2 || s.MatchedTokenRatio >= 0.7 || s.HasLanguageCue) {
		return true
	}
	return s.DistinctMatchCount >= 8 && s.MatchedTokens >= 8 && s.MatchedTokenRatio >= 0.35
}

// LanguageListDetector matches texts against the built-in autonym dictionary
// merged with operator-configured extra names.
type LanguageListDetector struct {
	dict      map[string]struct{}
	maxPhrase int
}

// NewLanguageListDetector merges extras into the built-in dictionary.
// Extras are NFKC-lowercased and must be 2..80 characters.
func NewLanguageListDetector(extras []string) *LanguageListDetector {
	d := &LanguageListDetector{dict: make(map[string]struct{}, len(languageNames)+len(extras))}
	add := func(name string) {
		name = strings.TrimSpace(norm.NFKC.String(strings.ToLower(name)))
		if n := len([]rune(name)); n < 2 || n > 80 {
			return
		}
		d.dict[name] = struct{}{}
		if parts := len(strings.Fields(name)); parts > d.maxPhrase {
			d.maxPhrase = parts
		}
	}
	for _, n := range languageNames {
		add(n)
	}
	for _, n := range extras {
		add(n)
	}
	if d.maxPhrase > 3 {
		d.maxPhrase = 3
	}
	return d
}

// Analyze tokenizes the raw text into Letter/Mark runs and greedily matches
// one-to-three-token phrases against the dictionary.
func (d *LanguageListDetector) Analyze(raw string) LanguageListStats {
	tokens := letterTokens(raw)
	stats := LanguageListStats{TotalTokens: len(tokens)}
	distinct := make(map[string]struct{})

	for i := 0; i < len(tokens); {
		matched := 0
		var matchedName string
		maxLen := d.maxPhrase
		if maxLen > len(tokens)-i {
			maxLen = len(tokens) - i
		}
		for n := maxLen; n >= 1; n-- {
			phrase := strings.Join(tokens[i:i+n], " ")
			if _, ok := d.dict[phrase]; ok {
				matched = n
				matchedName = phrase
				break
			}
		}
		if matched > 0 {
			stats.MatchedTokens += matched
			distinct[matchedName] = struct{}{}
			i += matched
			continue
		}
		i++
	}
	stats.DistinctMatchCount = len(distinct)
	if stats.TotalTokens > 0 {
		stats.MatchedTokenRatio = float64(stats.MatchedTokens) / float64(stats.TotalTokens)
	}
	stats.ListSeparatorCount = countListSeparators(raw)
	stats.HasLanguageCue = hasLanguageCue(raw)
	return stats
}

func letterTokens(raw string) []string {
	lowered := norm.NFKC.String(strings.ToLower(raw))
	var tokens []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range lowered {
		if unicode.IsLetter(r) || unicode.IsMark(r) {
			cur = append(cur, r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}

func countListSeparators(raw string) int {
	n := 0
	for _, r := range raw {
		switch r {
		case '|', '•', '·', ',', ';', '\n':
			n++
		}
	}
	return n
}

func hasLanguageCue(raw string) bool {
	lowered := strings.ToLower(raw)
	for _, cue := range languageCues {
		if strings.Contains(lowered, cue) {
			return true
		}
	}
	return false
}
