package transcript

import (
	"regexp"
	"strings"
)

// Normalizer substitutes the agent's brand name for a fixed set of
// prohibited or confusable tokens. Matching is whole-word and case-insensitive.
type Normalizer struct {
	brand    string
	patterns []*regexp.Regexp
}

// NewNormalizer builds a normalizer replacing each token with brand.
func NewNormalizer(brand string, tokens []string) *Normalizer {
	n := &Normalizer{brand: brand}
	if brand == "" {
		return n
	}
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" || strings.EqualFold(tok, brand) {
			continue
		}
		n.patterns = append(n.patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(tok)+`\b`))
	}
	return n
}

// Apply returns text with every prohibited token replaced.
func (n *Normalizer) Apply(text string) string {
	if n == nil {
		return text
	}
	for _, re := range n.patterns {
		text = re.ReplaceAllLiteralString(text, n.brand)
	}
	return text
}
