package findings

import (
	"strings"
	"unicode"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
)

// substringMinLen is the shortest term that may match inside a larger word.
// Shorter terms ("ssn", "dob", "role") only match whole tokens.
const substringMinLen = 5

// Lexicon is the configurable sensitive-name vocabulary, graded by tier.
type Lexicon struct {
	Credential []string `mapstructure:"credential" yaml:"credential"`
	High       []string `mapstructure:"high" yaml:"high"`
	Medium     []string `mapstructure:"medium" yaml:"medium"`
}

// DefaultLexicon returns the built-in vocabulary.
func DefaultLexicon() Lexicon {
	return Lexicon{
		Credential: []string{"password", "passwd", "secret", "token", "ssn", "api_key", "private_key"},
		High:       []string{"role", "permission", "is_admin", "credit_card", "card_number", "iban", "dob"},
		Medium:     []string{"email", "phone", "address", "birth"},
	}
}

// IsEmpty reports whether the lexicon has no terms at all.
func (l Lexicon) IsEmpty() bool {
	return len(l.Credential) == 0 && len(l.High) == 0 && len(l.Medium) == 0
}

// Match checks a property name against the lexicon, highest tier first. It returns
// the matching term and its tier.
func (l Lexicon) Match(field string) (string, schemas.SensitivityTier, bool) {
	tokens := Tokenize(field)
	if len(tokens) == 0 {
		return "", "", false
	}
	joined := strings.Join(tokens, "_")
	compact := strings.Join(tokens, "")

	tiers := []struct {
		tier  schemas.SensitivityTier
		terms []string
	}{
		{schemas.TierCredential, l.Credential},
		{schemas.TierHigh, l.High},
		{schemas.TierMedium, l.Medium},
	}
	for _, t := range tiers {
		for _, term := range t.terms {
			if matchTerm(strings.ToLower(term), tokens, joined, compact) {
				return term, t.tier, true
			}
		}
	}
	return "", "", false
}

func matchTerm(term string, tokens []string, joined, compact string) bool {
	if term == "" {
		return false
	}
	termTokens := Tokenize(term)
	if len(termTokens) > 1 {
		// Multi-word terms match as a contiguous token run.
		if strings.Contains("_"+joined+"_", "_"+strings.Join(termTokens, "_")+"_") {
			return true
		}
	} else {
		for _, tok := range tokens {
			if tok == term || tok == term+"s" {
				return true
			}
		}
	}
	flat := strings.ReplaceAll(term, "_", "")
	return len(flat) >= substringMinLen && strings.Contains(compact, flat)
}

// Tokenize lowercases a property name and splits it on camelCase boundaries,
// underscores, hyphens, dots, spaces and digit runs.
func Tokenize(name string) []string {
	var tokens []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(name)
	for i, r := range runes {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r):
			// Split "userName" before N and "APIKey" before K.
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsUpper(runes[i-1]) && unicode.IsLower(runes[i+1]))) {
				flush()
			}
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return tokens
}
