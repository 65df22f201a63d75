package conflict

import (
	"sort"
	"strings"
)

// unionTags combines two tag-like values into one sorted, deduplicated
// slice. It reports false when neither side holds a usable array.
func unionTags(a, b interface{}) ([]string, bool) {
	la, aok := asStrings(a)
	lb, bok := asStrings(b)
	if !aok && !bok {
		return nil, false
	}
	seen := make(map[string]struct{}, len(la)+len(lb))
	out := make([]string, 0, len(la)+len(lb))
	for _, list := range [][]string{la, lb} {
		for _, tag := range list {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			key := strings.ToLower(tag)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return out, true
}

func asStrings(v interface{}) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// longerText keeps whichever free-text value carries more content. It
// reports false when neither side holds a non-empty string.
func longerText(a, b interface{}) (string, bool) {
	sa, _ := a.(string)
	sb, _ := b.(string)
	if sa == "" && sb == "" {
		return "", false
	}
	if len(sb) > len(sa) {
		return sb, true
	}
	return sa, true
}
