package names

import (
	"regexp"
	"strings"
)

// DefaultDelimiters separates names in freeform cast fields.
var DefaultDelimiters = regexp.MustCompile(`[,、，/／・|｜;；\n]+`)

// ParseList splits a delimited field into normalised names, dropping invalid
// tokens and duplicates while keeping first-seen order. Delimiters inside
// brackets are ignored so reading annotations stay attached to their name.
// A nil delimiter uses DefaultDelimiters.
func ParseList(raw string, delimiter *regexp.Regexp) []string {
	parsed := ParseListDetailed(raw, delimiter)
	out := make([]string, 0, len(parsed))
	for _, p := range parsed {
		out = append(out, p.Name)
	}
	return out
}

// ParseListDetailed is ParseList keeping readings and aliases.
func ParseListDetailed(raw string, delimiter *regexp.Regexp) []Parsed {
	if delimiter == nil {
		delimiter = DefaultDelimiters
	}

	var out []Parsed
	seen := make(map[string]bool)
	for _, token := range splitOutsideBrackets(raw, delimiter) {
		p, ok := Parse(token)
		if !ok {
			continue
		}
		key := Key(p.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

// Dedupe normalises already split names with the same rules as ParseList.
func Dedupe(list []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, raw := range list {
		name, ok := Normalize(raw)
		if !ok || seen[Key(name)] {
			continue
		}
		seen[Key(name)] = true
		out = append(out, name)
	}
	return out
}

func splitOutsideBrackets(raw string, delimiter *regexp.Regexp) []string {
	depth := make([]int, len(raw)+1)
	d := 0
	for i, r := range raw {
		switch r {
		case '(', '（', '[', '［', '【', '〔':
			d++
		case ')', '）', ']', '］', '】', '〕':
			if d > 0 {
				d--
			}
		}
		depth[i] = d
	}

	var tokens []string
	start := 0
	for _, loc := range delimiter.FindAllStringIndex(raw, -1) {
		if depth[loc[0]] > 0 {
			continue
		}
		tokens = append(tokens, raw[start:loc[0]])
		start = loc[1]
	}
	tokens = append(tokens, raw[start:])

	out := tokens[:0]
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
