package orchestration

import (
	"strings"

	"github.com/GoCodeAlone/orchestrator/module"
)

// ResolveParameters walks params recursively and substitutes template
// strings against the execution context. A string of the exact form
// ${a.b.c} is replaced by the value at that dotted path in ctx; a missing
// path resolves to nil. Any other string, and every non-container value,
// passes through unchanged. Maps and slices are resolved element-wise.
// Resolution is total: it never fails.
func ResolveParameters(params any, ctx map[string]any) any {
	switch v := params.(type) {
	case string:
		return resolveString(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[key] = ResolveParameters(val, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = ResolveParameters(val, ctx)
		}
		return out
	default:
		return params
	}
}

// resolveString substitutes a whole-string ${path} template. Strings that
// merely contain a template mid-text are literals and pass through.
func resolveString(s string, ctx map[string]any) any {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") || len(s) <= 3 {
		return s
	}
	path := s[2 : len(s)-1]
	val, ok := module.LookupPath(ctx, path)
	if !ok {
		return nil
	}
	return val
}
