package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenPattern = regexp.MustCompile(`{(\$[^{}]*)}`)

// ResolveInputParams replaces {$.path} tokens in params with values looked up in data.
// A string made of a single token keeps the looked up value's type.
func ResolveInputParams(data map[string]any, params map[string]any) map[string]any {
	output := make(map[string]any, len(params))
	for k, v := range params {
		output[k] = resolveValue(data, v)
	}
	return output
}

func resolveValue(data map[string]any, v any) any {
	switch val := v.(type) {
	case map[string]any:
		return ResolveInputParams(data, val)
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			out = append(out, resolveValue(data, item))
		}
		return out
	case string:
		return resolveString(data, val)
	default:
		return v
	}
}

func resolveString(data map[string]any, s string) any {
	matches := tokenPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return s
	}
	if len(matches) == 1 && matches[0][0] == s {
		value, err := jsonpath.JsonPathLookup(data, matches[0][1])
		if err != nil {
			return nil
		}
		return value
	}
	out := s
	for _, m := range matches {
		value, err := jsonpath.JsonPathLookup(data, m[1])
		if err != nil {
			value = ""
		}
		out = strings.ReplaceAll(out, m[0], fmt.Sprintf("%v", value))
	}
	return out
}
