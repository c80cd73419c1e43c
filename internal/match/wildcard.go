package match

import "strings"

// WildcardPattern is a compiled '*' wildcard matcher.
// Params: internal split parts and anchor flags.
// Returns: reusable matcher for many Match calls.
type WildcardPattern struct {
	parts         []string
	anchoredStart bool
	anchoredEnd   bool
	matchAll      bool
}

// CompileWildcard compiles pattern into reusable wildcard matcher.
// Params: pattern may contain '*' wildcards.
// Returns: compiled matcher and false when pattern is empty.
func CompileWildcard(pattern string) (WildcardPattern, bool) {
	p := strings.TrimSpace(pattern)
	if p == "" {
		return WildcardPattern{}, false
	}
	if strings.Trim(p, "*") == "" {
		return WildcardPattern{matchAll: true}, true
	}

	return WildcardPattern{
		parts:         strings.Split(p, "*"),
		anchoredStart: !strings.HasPrefix(p, "*"),
		anchoredEnd:   !strings.HasSuffix(p, "*"),
	}, true
}

// Match evaluates compiled wildcard pattern against value.
// Params: value is compared text.
// Returns: true on pattern match.
func (p WildcardPattern) Match(value string) bool {
	if p.matchAll {
		return true
	}
	if len(p.parts) == 0 {
		return false
	}

	lastIndex := len(p.parts) - 1
	if len(p.parts) == 1 {
		return value == p.parts[0]
	}

	cursor := 0
	partIndex := 0
	if p.anchoredStart {
		if !strings.HasPrefix(value, p.parts[0]) {
			return false
		}
		cursor = len(p.parts[0])
		partIndex = 1
	}

	// The anchored tail must not overlap text already consumed.
	limit := len(value)
	if p.anchoredEnd {
		endPart := p.parts[lastIndex]
		if !strings.HasSuffix(value, endPart) {
			return false
		}
		limit = len(value) - len(endPart)
		if limit < cursor {
			return false
		}
		lastIndex--
	}

	for ; partIndex <= lastIndex; partIndex++ {
		segment := p.parts[partIndex]
		if segment == "" {
			continue
		}
		offset := strings.Index(value[cursor:limit], segment)
		if offset < 0 {
			return false
		}
		cursor += offset + len(segment)
	}
	return true
}

// WildcardMatch evaluates '*' wildcard pattern against value.
// Params: pattern may contain '*' wildcards; value is compared text.
// Returns: true on pattern match.
func WildcardMatch(pattern, value string) bool {
	compiled, ok := CompileWildcard(pattern)
	if !ok {
		return false
	}
	return compiled.Match(value)
}

// Masks is a keep/drop pair of compiled wildcard lists.
type Masks struct {
	keep []WildcardPattern
	drop []WildcardPattern
}

// NewMasks compiles keep and drop wildcard lists; blank entries are skipped.
// Params: keep names to retain (empty keeps everything); drop names to discard.
// Returns: compiled masks.
func NewMasks(keep, drop []string) Masks {
	return Masks{
		keep: compileAll(keep),
		drop: compileAll(drop),
	}
}

// Allowed reports whether name passes the keep list and misses the drop list.
// Drop wins over keep.
func (m Masks) Allowed(name string) bool {
	if len(m.keep) > 0 && !matchAny(m.keep, name) {
		return false
	}
	return !matchAny(m.drop, name)
}

func compileAll(patterns []string) []WildcardPattern {
	if len(patterns) == 0 {
		return nil
	}

	compiled := make([]WildcardPattern, 0, len(patterns))
	for _, pattern := range patterns {
		parsed, ok := CompileWildcard(pattern)
		if !ok {
			continue
		}
		compiled = append(compiled, parsed)
	}
	return compiled
}

func matchAny(patterns []WildcardPattern, value string) bool {
	for _, pattern := range patterns {
		if pattern.Match(value) {
			return true
		}
	}
	return false
}
