// Package score implements the deterministic prompt-injection scorer: a pure
// function from sanitized text to a risk score, flags, and evidence.
package score

import (
	"fmt"
	"sort"
	"strings"

	"github.com/waffleophagus/claw-rubber/internal/normalize"
)

// Detector identifiers recorded on evidence entries.
const (
	DetectorRule          = "rule"
	DetectorEncoding      = "encoding"
	DetectorTypoglycemia  = "typoglycemia"
	DetectorNormalization = "normalization"
)

const (
	BasisRaw        = "raw"
	BasisNormalized = "normalized"
)

// AllowSignalLanguageException marks a confusable-rich text recognized as a
// language-selector list rather than a disguise.
const AllowSignalLanguageException = "language_exception"

const (
	maxEvidence          = 20
	maxMatchesPerPattern = 5
	excerptRadius        = 30
)

// Evidence records why one flag fired.
type Evidence struct {
	Flag        string `json:"flag"`
	Detector    string `json:"detector"`
	Basis       string `json:"basis"`
	Start       *int   `json:"start"`
	End         *int   `json:"end"`
	MatchedText string `json:"matchedText"`
	Excerpt     string `json:"excerpt"`
	Weight      int    `json:"weight"`
	Notes       string `json:"notes,omitempty"`
}

// Result is the scorer's verdict over one text.
type Result struct {
	Score                int
	Flags                []string
	AllowSignals         []string
	Evidence             []Evidence
	NormalizationApplied []string
	ObfuscationSignals   []string
	LanguageListLike     bool
}

// Scorer evaluates texts. It is safe for concurrent use; all state is
// read-only after construction.
type Scorer struct {
	langs *LanguageListDetector
}

// NewScorer builds a scorer whose language-list detector includes the given
// extra language names.
func NewScorer(extraLanguageNames []string) *Scorer {
	return &Scorer{langs: NewLanguageListDetector(extraLanguageNames)}
}

// Score evaluates raw sanitized text. It performs no I/O and is a pure
// function of the text and the configured extras.
func (s *Scorer) Score(text string) Result {
	n := normalize.Normalize(text)

	res := Result{
		NormalizationApplied: n.Transformations,
		ObfuscationSignals:   n.SignalFlags,
	}
	flags := newFlagSet()

	// Rules table.
	for _, rule := range ruleTable {
		target, basis := n.Text, BasisNormalized
		if rule.Target == TargetRaw {
			target, basis = text, BasisRaw
		}
		locs := rule.re.FindAllStringIndex(target, maxMatchesPerPattern)
		if len(locs) == 0 {
			continue
		}
		res.Score += rule.Weight
		flags.add(rule.ID)
		for _, loc := range locs {
			res.Evidence = append(res.Evidence, spanEvidence(rule.ID, DetectorRule, basis, target, loc, rule.Weight, ""))
		}
	}

	// Normalization signals.
	if n.HasSignal(normalize.SignalInvisibleOrBidi) {
		res.Score += 2
		flags.add(FlagUnicodeInvisibleOrBidi)
		if loc := firstInvisibleSpan(text); loc != nil {
			res.Evidence = append(res.Evidence, spanEvidence(FlagUnicodeInvisibleOrBidi, DetectorNormalization, BasisRaw, text, loc, 2, "stripped during normalization"))
		} else {
			res.Evidence = append(res.Evidence, Evidence{
				Flag: FlagUnicodeInvisibleOrBidi, Detector: DetectorNormalization,
				Basis: BasisRaw, Weight: 2, Notes: "stripped during normalization",
			})
		}
	}

	// Typoglycemia over normalized tokens.
	typos := DetectTypoglycemia(n.Text)
	if len(typos) > 0 {
		w := TypoglycemiaWeight(len(typos))
		res.Score += w
		flags.add(FlagTypoglycemiaHighRisk)
		res.Evidence = append(res.Evidence, Evidence{
			Flag:     FlagTypoglycemiaHighRisk,
			Detector: DetectorTypoglycemia,
			Basis:    BasisNormalized,
			Weight:   w,
			Notes:    fmt.Sprintf("%d keyword-shaped tokens", len(typos)),
		})
		for _, m := range typos {
			flags.add(FlagTypoglycemiaKeyword + m.Keyword)
			loc := []int{m.Start, m.End}
			res.Evidence = append(res.Evidence, spanEvidence(FlagTypoglycemiaKeyword+m.Keyword, DetectorTypoglycemia, BasisNormalized, n.Text, loc, 0, "resolves to "+m.Keyword))
		}
	}

	// Encoded payloads over raw text.
	enc := DetectEncoding(text)
	if enc.PayloadCount() > 0 {
		res.Score++
		flags.add(FlagEncodedPayload)
		for i, span := range enc.Spans {
			if i >= maxMatchesPerPattern {
				break
			}
			res.Evidence = append(res.Evidence, spanEvidence(FlagEncodedPayload, DetectorEncoding, BasisRaw, text, []int{span.Start, span.End}, 1, span.Kind))
		}
		if enc.EscapeCount() > 0 {
			flags.add(FlagEscapeObfuscation)
		}
		if enc.DecodeContext {
			res.Score += 2
			flags.add(FlagDecodeInstructionCtx)
			if loc := reDecodeCtx.FindStringIndex(text); loc != nil {
				res.Evidence = append(res.Evidence, spanEvidence(FlagDecodeInstructionCtx, DetectorEncoding, BasisRaw, text, loc, 2, ""))
			}
		}
		if enc.EscapeCount() >= 2 {
			res.Score++
		}
		if enc.Base64Count+enc.HexCount >= 2 {
			res.Score++
		}
	}

	// Confusable coupling with the language-list exception.
	if n.ConfusableApplied {
		stats := s.langs.Analyze(text)
		res.LanguageListLike = stats.LanguageListLike()
		switch {
		case res.LanguageListLike:
			res.AllowSignals = append(res.AllowSignals, AllowSignalLanguageException)
		case len(n.SuspiciousTokens) > 0 && flags.anyHighRiskIntent():
			res.Score += 3
			flags.add(FlagConfusableMixedScript)
			for i, tok := range n.SuspiciousTokens {
				if i >= 3 {
					break
				}
				res.Evidence = append(res.Evidence, Evidence{
					Flag:        FlagConfusableMixedScript,
					Detector:    DetectorNormalization,
					Basis:       BasisRaw,
					MatchedText: tok,
					Excerpt:     tok,
					Weight:      3,
					Notes:       "mixed-script token",
				})
			}
		}
	}

	res.Flags = flags.ordered
	res.Evidence = finalizeEvidence(res.Evidence)
	return res
}

func spanEvidence(flag, detector, basis, text string, loc []int, weight int, notes string) Evidence {
	start, end := loc[0], loc[1]
	return Evidence{
		Flag:        flag,
		Detector:    detector,
		Basis:       basis,
		Start:       &start,
		End:         &end,
		MatchedText: text[start:end],
		Excerpt:     excerpt(text, start, end),
		Weight:      weight,
		Notes:       notes,
	}
}

func excerpt(text string, start, end int) string {
	lo := start - excerptRadius
	if lo < 0 {
		lo = 0
	}
	hi := end + excerptRadius
	if hi > len(text) {
		hi = len(text)
	}
	// Clamp to rune boundaries.
	for lo > 0 && lo < len(text) && !isRuneStart(text[lo]) {
		lo--
	}
	for hi < len(text) && !isRuneStart(text[hi]) {
		hi++
	}
	return strings.Join(strings.Fields(text[lo:hi]), " ")
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func firstInvisibleSpan(text string) []int {
	for i, r := range text {
		if normalize.IsInvisibleOrBidi(r) {
			return []int{i, i + len(string(r))}
		}
	}
	return nil
}

// finalizeEvidence deduplicates, imposes a total order (weight descending,
// then flag, basis, and offset), and caps the list.
func finalizeEvidence(ev []Evidence) []Evidence {
	type key struct {
		flag, detector, basis, matched string
		start, end                     int
	}
	seen := make(map[key]struct{}, len(ev))
	out := ev[:0]
	for _, e := range ev {
		k := key{flag: e.Flag, detector: e.Detector, basis: e.Basis, matched: e.MatchedText, start: deref(e.Start), end: deref(e.End)}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		if out[i].Flag != out[j].Flag {
			return out[i].Flag < out[j].Flag
		}
		if out[i].Basis != out[j].Basis {
			return out[i].Basis < out[j].Basis
		}
		return deref(out[i].Start) < deref(out[j].Start)
	})
	if len(out) > maxEvidence {
		out = out[:maxEvidence]
	}
	return out
}

func deref(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}

type flagSet struct {
	ordered []string
	seen    map[string]struct{}
}

func newFlagSet() *flagSet {
	return &flagSet{seen: make(map[string]struct{})}
}

func (f *flagSet) add(flag string) {
	if _, ok := f.seen[flag]; ok {
		return
	}
	f.seen[flag] = struct{}{}
	f.ordered = append(f.ordered, flag)
}

func (f *flagSet) anyHighRiskIntent() bool {
	for flag := range highRiskIntentFlags {
		if _, ok := f.seen[flag]; ok {
			return true
		}
	}
	return false
}
