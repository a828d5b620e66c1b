package moderation

import (
	"log/slog"
	"slices"
	"unicode"

	"github.com/abadojack/whatlanggo"
	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/samber/lo"
)

// Moderator censors forbidden words in chat content.
// It is safe for concurrent use once built.
type Moderator struct {
	matcher      *goahocorasick.Machine
	censoredChar rune
	log          *slog.Logger
}

type TextMapping struct {
	Normalized []rune
	OrigIdx    []int
}

// NewModerator initializes the Aho-Corasick automaton with a normalized version of the provided censored words list.
// Words that normalize to nothing (pure punctuation, blanks) are ignored.
func NewModerator(censoredWords []string, censoredChar rune, log *slog.Logger) (*Moderator, error) {
	normalized := lo.FilterMap(censoredWords, func(word string, _ int) (string, bool) {
		n := string(normalizeRunes([]rune(word)))
		return n, n != ""
	})
	normalized = lo.Uniq(normalized)
	slices.Sort(normalized)

	mod := &Moderator{censoredChar: censoredChar, log: log}
	if len(normalized) == 0 {
		log.Warn("No usable censored word, moderation disabled")
		return mod, nil
	}

	patterns := lo.Map(normalized, func(word string, _ int) []rune { return []rune(word) })
	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	mod.matcher = m
	return mod, nil
}

// Censor identifies forbidden patterns and replaces the original characters while preserving spacing.
// It returns the sanitized content and the censored words in order of appearance.
func (m *Moderator) Censor(original string) (string, []string) {
	if m.matcher == nil {
		return original, nil
	}
	mapping := m.normalize(original)
	if len(mapping.Normalized) == 0 {
		return original, nil
	}

	spans := m.matcher.MultiPatternSearch(mapping.Normalized, false)
	if len(spans) == 0 {
		return original, nil
	}

	origRunes := []rune(original)
	var words []string
	for _, span := range spans {
		normStart := span.Pos
		normEnd := normStart + len(span.Word)

		if normStart < 0 || normEnd > len(mapping.OrigIdx) {
			continue
		}

		origStart := mapping.OrigIdx[normStart]
		origEnd := mapping.OrigIdx[normEnd-1] + 1

		for i := origStart; i < origEnd; i++ {
			origRunes[i] = m.censoredChar
		}
		words = append(words, string(span.Word))
	}

	return string(origRunes), words
}

// Language returns the ISO 639-1 code of the detected language, empty when unreliable.
func (m *Moderator) Language(content string) string {
	info := whatlanggo.Detect(content)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}

// normalize transforms the input string into a searchable format and tracks original rune positions.
func (m *Moderator) normalize(input string) TextMapping {
	origRunes := []rune(input)
	norm := make([]rune, 0, len(origRunes))
	origIdx := make([]int, 0, len(origRunes))

	for i, r := range origRunes {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		norm = append(norm, unicode.ToLower(clean))
		origIdx = append(origIdx, i)
	}
	return TextMapping{Normalized: norm, OrigIdx: origIdx}
}

// normalizeRunes applies simplification and noise removal to a slice of runes.
func normalizeRunes(input []rune) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		out = append(out, unicode.ToLower(clean))
	}
	return out
}

// simplifyRune maps common Leet speak characters back to their standard alphabet counterparts.
func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

// isNoise identifies characters that should be ignored during the pattern matching phase.
func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
