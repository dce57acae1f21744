package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxTagRunes = 32

// Words models echo back instead of real tags.
var tagDenylist = map[string]struct{}{
	"tags": {},
	"tag":  {},
	"json": {},
	"none": {},
	"n/a":  {},
	"null": {},
}

// ParseTags turns a model reply into at most maxTags clean tags. A JSON array
// (optionally inside a code fence, or under a "tags" key) is preferred;
// anything else is split on commas, semicolons and newlines. Every candidate
// is lowercased and stripped of quotes, hashes and list bullets, then
// denylisted words, tags outside 1..32 runes and duplicates are dropped.
// The result is never nil.
func ParseTags(raw string, maxTags int) []string {
	if maxTags <= 0 {
		maxTags = DefaultMaxTags
	}

	text := stripCodeFence(raw)
	candidates, ok := structuredTags(text)
	if !ok {
		candidates = splitTags(text)
	}

	out := make([]string, 0, maxTags)
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		tag := normalizeTag(c)
		if !keepTag(tag) {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
		if len(out) == maxTags {
			break
		}
	}
	return out
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop the info string ("json") on the opening line.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func structuredTags(s string) ([]string, bool) {
	var items []any
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		var wrapped struct {
			Tags []any `json:"tags"`
		}
		if err := json.Unmarshal([]byte(s), &wrapped); err != nil || wrapped.Tags == nil {
			return nil, false
		}
		items = wrapped.Tags
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case float64, bool:
			out = append(out, fmt.Sprint(v))
		}
	}
	return out, true
}

func splitTags(s string) []string {
	s = strings.NewReplacer("[", " ", "]", " ", "`", " ", `"`, " ", "\r", "\n").Replace(s)
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	})
}

func normalizeTag(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimLeft(s, "-*•· \t")
	s = trimOrdinal(s)
	s = strings.Trim(s, `"'`+"`"+" \t")
	s = strings.TrimLeft(s, "#")
	return strings.Join(strings.Fields(s), " ")
}

// trimOrdinal removes a numbered-list marker such as "1. " or "2) ".
func trimOrdinal(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i+1 >= len(s) || (s[i] != '.' && s[i] != ')') || s[i+1] != ' ' {
		return s
	}
	return strings.TrimSpace(s[i+1:])
}

func keepTag(tag string) bool {
	n := utf8.RuneCountInString(tag)
	if n < 1 || n > maxTagRunes {
		return false
	}
	_, denied := tagDenylist[tag]
	return !denied
}
