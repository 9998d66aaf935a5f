package policy

import (
	"fmt"
	"strings"
)

// Flags raised by the engine itself.
const (
	FlagDomainBlocklist      = "domain_blocklist"
	FlagDomainAllowlistBypass = "domain_allowlist_bypass"
)

// BlockedBy / AllowedBy provenance values recorded on fetch events.
const (
	BlockedByDomainPolicy  = "domain-policy"
	BlockedByRuleThreshold = "rule-threshold"
	BlockedByFailClosed    = "fail-closed"
	BlockedByLLMJudge      = "llm-judge"
	BlockedByPolicy        = "policy"

	AllowedByDomainBypass      = "domain-allowlist-bypass"
	AllowedByLanguageException = "language-exception"
)

// AllowSignalLanguageException is emitted by the scorer when a confusable-rich
// text turns out to be a language-selector list.
const AllowSignalLanguageException = "language_exception"

// Thresholds are the active profile's medium and block cutoffs.
type Thresholds struct {
	Medium int
	Block  int
}

// JudgeResult is the adjudication model's verdict over a medium-band text.
type JudgeResult struct {
	Label      string
	Confidence float64
	Reasons    []string
}

const (
	JudgeLabelBenign     = "benign"
	JudgeLabelSuspicious = "suspicious"
	JudgeLabelMalicious  = "malicious"
)

// EngineInput gathers everything the policy engine combines into a decision.
type EngineInput struct {
	Score        int
	Flags        []string
	AllowSignals []string
	DomainAction Action
	DomainReason string
	Judge        *JudgeResult
	FailClosed   bool
	Thresholds   Thresholds
}

// Decision is the single allow/block outcome with provenance.
type Decision struct {
	Allow     bool
	Score     int
	Flags     []string
	Reason    string
	Bypassed  bool
	BlockedBy string
	AllowedBy string
}

// Decide combines the rule score, domain action, and optional judge verdict
// under the active thresholds. Domain outcomes short-circuit everything else.
func Decide(in EngineInput) Decision {
	switch in.DomainAction {
	case ActionBlock:
		d := Decision{
			Allow:  false,
			Score:  in.Score,
			Flags:  appendFlag(in.Flags, FlagDomainBlocklist),
			Reason: in.DomainReason,
		}
		d.BlockedBy = ClassifyBlock(in.DomainAction, d.Flags, d.Reason)
		return d
	case ActionAllowBypass:
		d := Decision{
			Allow:    true,
			Score:    0,
			Flags:    []string{FlagDomainAllowlistBypass},
			Bypassed: true,
		}
		d.AllowedBy = ClassifyAllow(true, in.AllowSignals)
		return d
	}

	flags := append([]string(nil), in.Flags...)
	if in.Judge != nil {
		flags = appendFlag(flags, "llm_judge:"+in.Judge.Label)
		switch {
		case in.Judge.Label == JudgeLabelMalicious:
			d := Decision{
				Allow:  false,
				Score:  in.Score,
				Flags:  flags,
				Reason: "LLM judge classified content as malicious",
			}
			d.BlockedBy = ClassifyBlock(in.DomainAction, d.Flags, d.Reason)
			return d
		case in.Judge.Label == JudgeLabelSuspicious && in.Judge.Confidence >= 0.75:
			d := Decision{
				Allow:  false,
				Score:  in.Score,
				Flags:  flags,
				Reason: fmt.Sprintf("LLM judge classified content as suspicious (confidence %.2f)", in.Judge.Confidence),
			}
			d.BlockedBy = ClassifyBlock(in.DomainAction, d.Flags, d.Reason)
			return d
		}
	}

	if in.Score >= in.Thresholds.Block {
		d := Decision{
			Allow:  false,
			Score:  in.Score,
			Flags:  flags,
			Reason: fmt.Sprintf("Rule score %d ≥ block threshold %d", in.Score, in.Thresholds.Block),
		}
		d.BlockedBy = ClassifyBlock(in.DomainAction, d.Flags, d.Reason)
		return d
	}
	if in.FailClosed && in.Score >= in.Thresholds.Medium {
		d := Decision{
			Allow:  false,
			Score:  in.Score,
			Flags:  flags,
			Reason: fmt.Sprintf("Fail-closed: rule score %d ≥ medium threshold %d", in.Score, in.Thresholds.Medium),
		}
		d.BlockedBy = ClassifyBlock(in.DomainAction, d.Flags, d.Reason)
		return d
	}

	d := Decision{Allow: true, Score: in.Score, Flags: flags}
	d.AllowedBy = ClassifyAllow(false, in.AllowSignals)
	return d
}

// ClassifyBlock maps a block decision to its provenance category.
func ClassifyBlock(domainAction Action, flags []string, reason string) string {
	if domainAction == ActionBlock || hasFlag(flags, FlagDomainBlocklist) {
		return BlockedByDomainPolicy
	}
	if strings.HasPrefix(reason, "Fail-closed:") {
		return BlockedByFailClosed
	}
	if strings.HasPrefix(reason, "Rule score") {
		return BlockedByRuleThreshold
	}
	for _, f := range flags {
		if strings.HasPrefix(f, "llm_judge:") {
			return BlockedByLLMJudge
		}
	}
	if strings.Contains(reason, "LLM judge") {
		return BlockedByLLMJudge
	}
	return BlockedByPolicy
}

// ClassifyAllow maps an allow decision to its provenance category, or "" for
// an ordinary allow.
func ClassifyAllow(bypassed bool, allowSignals []string) string {
	if bypassed {
		return AllowedByDomainBypass
	}
	if hasFlag(allowSignals, AllowSignalLanguageException) {
		return AllowedByLanguageException
	}
	return ""
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}

func appendFlag(flags []string, flag string) []string {
	if hasFlag(flags, flag) {
		return flags
	}
	return append(flags, flag)
}
