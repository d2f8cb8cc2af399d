package classify

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/drafterhq/drafter-core/internal/core/domain"
)

// patternRule matches block text against one regex and carries the
// confidence and justification attached to a hit.
type patternRule struct {
	pattern       *regexp.Regexp
	confidence    float64
	justification string
}

// staticPatterns mark boilerplate that is preserved verbatim. First match
// wins, so the tables are ordered most-specific first.
var staticPatterns = []patternRule{
	{
		pattern:       regexp.MustCompile(`(?i)\b(disclaimer|confidential|privileged|copyright|all rights reserved)\b`),
		confidence:    0.95,
		justification: "Legal disclaimer or confidentiality notice",
	},
	{
		pattern:       regexp.MustCompile(`(?i)\b(this document|prepared by|professional advice|should not be construed)\b`),
		confidence:    0.92,
		justification: "Standard boilerplate text",
	},
	{
		pattern:       regexp.MustCompile(`(?i)^(page \d+|proprietary|internal use only)`),
		confidence:    0.95,
		justification: "Fixed header or footer content",
	},
	{
		pattern:       regexp.MustCompile(`(?i)\b(tel:|email:|address:|phone:|fax:)`),
		confidence:    0.90,
		justification: "Fixed contact information",
	},
}

// dynamicPatterns mark content that must be produced per document.
var dynamicPatterns = []patternRule{
	{
		pattern:       regexp.MustCompile(`\{[^}]+\}|\[[^\]]+\]|<[^>]+>|\$\{[^}]+\}`),
		confidence:    0.95,
		justification: "Contains placeholder syntax",
	},
	{
		pattern:       regexp.MustCompile(`(?i)\b(to be completed|insert|customize|client-specific|personalized)\b`),
		confidence:    0.92,
		justification: "Explicit customization marker",
	},
	{
		pattern:       regexp.MustCompile(`(?i)\b(client name|company name|project name|date|amount|percentage)\b`),
		confidence:    0.88,
		justification: "Contains variable references",
	},
	{
		pattern:       regexp.MustCompile(`(?i)\b(our analysis|we recommend|specific to|tailored|customized approach)\b`),
		confidence:    0.85,
		justification: "Client-specific narrative content",
	},
}

// ruleLabel classifies a block by pattern, structure, and text-shape
// heuristics, in that order. The second return is false when no rule
// applies at all; callers decide whether the confidence of a hit is good
// enough to accept.
func ruleLabel(block *domain.Block) (domain.SectionLabel, bool) {
	text := block.Text()

	for _, r := range staticPatterns {
		if r.pattern.MatchString(text) {
			return newRuleLabel(block, domain.SectionStatic, r.confidence, "Rule-based: "+r.justification), true
		}
	}
	for _, r := range dynamicPatterns {
		if r.pattern.MatchString(text) {
			return newRuleLabel(block, domain.SectionDynamic, r.confidence, "Rule-based: "+r.justification), true
		}
	}

	switch block.Type {
	case domain.BlockHeader, domain.BlockFooter:
		return newRuleLabel(block, domain.SectionStatic, 0.95, "Header or footer block type"), true
	case domain.BlockHeading:
		if block.Level == 1 {
			return newRuleLabel(block, domain.SectionStatic, 0.70, "Top-level heading typically structural"), true
		}
	}

	if utf8.RuneCountInString(strings.TrimSpace(text)) < 10 {
		return newRuleLabel(block, domain.SectionStatic, 0.75, "Very short content, likely structural label"), true
	}
	if isUpper(text) && utf8.RuneCountInString(text) < 50 {
		return newRuleLabel(block, domain.SectionStatic, 0.80, "ALL CAPS short text, likely static header"), true
	}
	if block.Type == domain.BlockParagraph &&
		utf8.RuneCountInString(text) > 200 && len(strings.Fields(text)) > 50 {
		return newRuleLabel(block, domain.SectionDynamic, 0.72, "Long narrative paragraph, likely client-specific content"), true
	}

	return domain.SectionLabel{}, false
}

// fallbackLabel is the conservative answer when neither rules nor the
// language model produce a confident label. STATIC is the safe default:
// preserving content that should have been generated is recoverable,
// generating over content that should have been preserved is not.
func fallbackLabel(block *domain.Block) domain.SectionLabel {
	return domain.SectionLabel{
		Path:          block.Path,
		Type:          domain.SectionStatic,
		Confidence:    0.5,
		Method:        domain.ClassifiedByFallback,
		Justification: "Conservative fallback: defaulting to STATIC when classification inconclusive",
	}
}

func newRuleLabel(block *domain.Block, t domain.SectionType, confidence float64, justification string) domain.SectionLabel {
	return domain.SectionLabel{
		Path:          block.Path,
		Type:          t,
		Confidence:    confidence,
		Method:        domain.ClassifiedByRule,
		Justification: justification,
	}
}

// isUpper reports whether s contains at least one letter and no lowercase
// letters.
func isUpper(s string) bool {
	hasUpper := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			hasUpper = true
		}
	}
	return hasUpper
}
