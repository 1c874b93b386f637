// Package names validates and canonicalises person names scraped from
// catalog pages. Every function is pure.
package names

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// placeholders are exact values (compared case-insensitively after
// normalisation) that sources use when the real name is missing.
var placeholders = map[string]struct{}{
	"unknown":    {},
	"n/a":        {},
	"na":         {},
	"none":       {},
	"null":       {},
	"nil":        {},
	"undefined":  {},
	"anonymous":  {},
	"various":    {},
	"others":     {},
	"other":      {},
	"test":       {},
	"performer":  {},
	"performers": {},
	"actress":    {},
	"actor":      {},
	"cast":       {},
	"model":      {},
	"amateur":    {},
	"tba":        {},
	"tbd":        {},
	"不明":         {},
	"なし":         {},
	"無し":         {},
	"未定":         {},
	"匿名":         {},
	"名無し":        {},
	"素人":         {},
	"その他":        {},
	"出演者":        {},
	"女優":         {},
	"男優":         {},
	"モデル":        {},
	"ナシ":         {},
	"---":        {},
}

var (
	reDigitsOnly   = regexp.MustCompile(`^[\p{Nd}\s]+$`)
	reShortCode    = regexp.MustCompile(`^[A-Z0-9]{2,4}$`)
	reMixedCode    = regexp.MustCompile(`^(?:[A-Za-z]+[0-9]+|[0-9]+[A-Za-z]+)[A-Za-z0-9]*$`)
	reProductCode  = regexp.MustCompile(`(?i)^[a-z]{1,6}[-_ ]?\d{2,8}[a-z]?$`)
	reSingleGlyph  = regexp.MustCompile(`^[\p{Hiragana}\p{Katakana}\p{Han}ー][\p{P}\p{S}\s]*$`)
	reArrow        = regexp.MustCompile(`[\x{2190}-\x{21FF}]`)
	reSymbolOnly   = regexp.MustCompile(`^[\p{P}\p{S}\s]+$`)
	reHTMLTag      = regexp.MustCompile(`<\s*/?\s*[A-Za-z!][^>]*>?`)
	reURL          = regexp.MustCompile(`(?i)(?:https?://|www\.)\S+`)
	reEmail        = regexp.MustCompile(`[^\s@]+@[^\s@]+\.[^\s@]+`)
	reRepeatedPunc = regexp.MustCompile(`-{3,}|\.{3,}|\*{3,}|_{3,}|={3,}|~{3,}|…|・{3,}|ー{3,}|？{2,}|\?{2,}`)

	reParen      = regexp.MustCompile(`[(（\[【［〔][^()（）\[\]【】［］〔〕]*[)）\]】］〕]`)
	reWrapped    = regexp.MustCompile(`^[\[【［〔][^\[\]【】［］〔〕]*[\]】］〕]$`)
	reConnector  = regexp.MustCompile(`(?i)(?:^|[\s,、/])(?:(?:a\.?k\.?a\.?|also known as|formerly|f\.?k\.?a\.?)(?:\s*:\s*|\s+|$)|(?:旧名|別名|旧芸名|改名前)\s*:?\s*)`)
	reEdgeJunk   = regexp.MustCompile(`^[\s\p{Z}\p{P}\p{S}]+|[\s\p{Z}\p{P}\p{S}]+$`)
	reSpaces     = regexp.MustCompile(`[\s\p{Z}]+`)
	reKanaOnly   = regexp.MustCompile(`^[\p{Hiragana}\p{Katakana}ー・\s\p{Z}]+$`)
	reAliasSplit = regexp.MustCompile(`\s*[,、/]\s*`)
)

// IsValid reports whether name looks like a real person's name.
func IsValid(name string) bool {
	s := strings.TrimSpace(name)
	if s == "" {
		return false
	}
	if utf8.RuneCountInString(s) < 2 {
		return false
	}
	if !utf8.ValidString(s) || strings.ContainsRune(s, utf8.RuneError) {
		return false
	}
	if _, ok := placeholders[strings.ToLower(s)]; ok {
		return false
	}

	switch {
	case reDigitsOnly.MatchString(s),
		reShortCode.MatchString(s),
		reMixedCode.MatchString(s),
		reProductCode.MatchString(s),
		reSingleGlyph.MatchString(s),
		reArrow.MatchString(s),
		reSymbolOnly.MatchString(s),
		reHTMLTag.MatchString(s),
		reURL.MatchString(s),
		reEmail.MatchString(s),
		reRepeatedPunc.MatchString(s):
		return false
	}
	return true
}

// IsValidForProduct is IsValid plus a guard against the product title having
// been captured as a performer.
func IsValidForProduct(name, title string) bool {
	if !IsValid(name) {
		return false
	}
	return Key(name) != Key(title)
}

// Parsed is a normalised name with anything that was split off it.
type Parsed struct {
	Name    string
	Reading string
	Aliases []string
}

// Parse canonicalises a raw name. Parenthesised kana become the reading,
// parenthesised or trailing "AKA"/"formerly" fragments become aliases.
// ok is false when nothing valid remains.
func Parse(raw string) (Parsed, bool) {
	s := strings.TrimSpace(fold(raw))
	if reWrapped.MatchString(s) {
		s = trimBrackets(s)
	}

	var p Parsed
	var aliasParts []string
	s = reParen.ReplaceAllStringFunc(s, func(group string) string {
		inner := strings.TrimSpace(trimBrackets(group))
		if loc := reConnector.FindStringIndex(inner); loc != nil && loc[0] == 0 {
			aliasParts = append(aliasParts, inner[loc[1]:])
		} else if p.Reading == "" && reKanaOnly.MatchString(inner) {
			p.Reading = collapse(inner)
		}
		return " "
	})

	if loc := reConnector.FindStringIndex(s); loc != nil {
		before := strings.TrimSpace(s[:loc[0]])
		after := s[loc[1]:]
		if before == "" {
			s = after
		} else {
			s = before
			aliasParts = append(aliasParts, after)
		}
	}

	name, ok := clean(s)
	if !ok {
		return Parsed{}, false
	}
	p.Name = name

	seen := map[string]bool{Key(name): true}
	for _, part := range aliasParts {
		for _, a := range reAliasSplit.Split(part, -1) {
			alias, ok := clean(a)
			if !ok || seen[Key(alias)] {
				continue
			}
			seen[Key(alias)] = true
			p.Aliases = append(p.Aliases, alias)
		}
	}
	return p, true
}

// Normalize returns the canonical display form of name, or false when the
// result fails validation.
func Normalize(name string) (string, bool) {
	p, ok := Parse(name)
	if !ok {
		return "", false
	}
	return p.Name, true
}

// Key is the case and width insensitive identity of a name.
func Key(name string) string {
	return strings.ToLower(collapse(fold(name)))
}

func clean(s string) (string, bool) {
	s = reEdgeJunk.ReplaceAllString(s, "")
	s = collapse(s)
	if !IsValid(s) {
		return "", false
	}
	return s, true
}

func fold(s string) string {
	return width.Fold.String(norm.NFC.String(s))
}

func collapse(s string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}

func trimBrackets(group string) string {
	_, size := utf8.DecodeRuneInString(group)
	_, lastSize := utf8.DecodeLastRuneInString(group)
	if size+lastSize > len(group) {
		return ""
	}
	return group[size : len(group)-lastSize]
}
