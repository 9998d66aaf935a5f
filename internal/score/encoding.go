package score

import "regexp"

// Encoded-payload patterns evaluated over the raw text. Runs are long enough
// that ordinary prose and short identifiers do not trip them.
var (
	reBase64      = regexp.MustCompile(`[A-Za-z0-9+/]{32,}={0,2}`)
	reHexRun      = regexp.MustCompile(`(?:[0-9a-f]{2}){12,}`)
	rePercentRun  = regexp.MustCompile(`(?:%[0-9a-f]{2}){6,}`)
	reUnicodeEsc  = regexp.MustCompile(`(?:\\u[0-9a-f]{4}){4,}`)
	reByteEsc     = regexp.MustCompile(`(?:\\x[0-9a-f]{2}){4,}`)
	reDecodeCtx   = regexp.MustCompile(`(?i)\b(decode|deobfuscate|unpack|execute|run|ignore|bypass|instruction|prompt|shell|command)\b`)
)

// EncodingSpan locates one encoded run in the raw text.
type EncodingSpan struct {
	Kind  string
	Start int
	End   int
}

// EncodingSignals summarizes encoded-payload evidence found in raw text.
type EncodingSignals struct {
	Base64Count     int
	HexCount        int
	PercentCount    int
	UnicodeEscCount int
	ByteEscCount    int
	DecodeContext   bool
	Spans           []EncodingSpan
}

// PayloadCount is the total number of encoded runs of any family.
func (e EncodingSignals) PayloadCount() int {
	return e.Base64Count + e.HexCount + e.PercentCount + e.UnicodeEscCount + e.ByteEscCount
}

// EscapeCount sums the escape-family runs (percent, \u, \x).
func (e EncodingSignals) EscapeCount() int {
	return e.PercentCount + e.UnicodeEscCount + e.ByteEscCount
}

// DetectEncoding scans the raw text for non-overlapping encoded runs and a
// decode-context phrase.
func DetectEncoding(raw string) EncodingSignals {
	var sig EncodingSignals
	collect := func(re *regexp.Regexp, kind string, count *int) {
		for _, loc := range re.FindAllStringIndex(raw, -1) {
			*count++
			sig.Spans = append(sig.Spans, EncodingSpan{Kind: kind, Start: loc[0], End: loc[1]})
		}
	}
	collect(reBase64, "base64", &sig.Base64Count)
	collect(reHexRun, "hex", &sig.HexCount)
	collect(rePercentRun, "percent", &sig.PercentCount)
	collect(reUnicodeEsc, "unicode-escape", &sig.UnicodeEscCount)
	collect(reByteEsc, "byte-escape", &sig.ByteEscCount)
	sig.DecodeContext = reDecodeCtx.MatchString(raw)
	return sig
}
