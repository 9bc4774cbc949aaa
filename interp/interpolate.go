package interp

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// refPattern matches $env.NAME or $vars.NAME references. NAME itself
// follows spec.md §4.1's identifier grammar; everything after the first
// identifier segment (dots/brackets) is treated as a gjson path into the
// resolved value, extending rather than replacing the flat-name grammar
// (see the gjson row of SPEC_FULL.md §11).
var refPattern = regexp.MustCompile(`\$(env|vars)\.([A-Za-z_][A-Za-z0-9_]*(?:(?:\.[A-Za-z_][A-Za-z0-9_]*)|(?:\[\d+\]))*)`)

// Scopes bundles the two lookup tables interpolation reads from. Neither
// is ever mutated by Interpolate or InterpolateValue.
type Scopes struct {
	Env  map[string]string
	Vars map[string]interface{}
}

// UndefinedRef is returned by Interpolate (via the undefined slice) whenever a
// $env/$vars reference could not be resolved, so strict mode can surface
// it instead of silently expanding to "".
type UndefinedRef struct {
	Scope string
	Name  string
}

// Interpolate expands every $env.NAME / $vars.NAME reference in s. It never
// mutates env or vars. Undefined references expand to "" and are appended
// to *undefined, for strict-mode callers (SPEC_FULL.md §12) to inspect.
func Interpolate(s string, scopes Scopes, undefined *[]UndefinedRef) string {
	return refPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := refPattern.FindStringSubmatch(match)
		scope, path := groups[1], groups[2]
		val, ok := resolve(scope, path, scopes)
		if !ok {
			if undefined != nil {
				*undefined = append(*undefined, UndefinedRef{Scope: scope, Name: path})
			}
			return ""
		}
		return stringify(val)
	})
}

func resolve(scope, path string, scopes Scopes) (interface{}, bool) {
	name, rest := splitFirstSegment(path)
	var root interface{}
	switch scope {
	case "env":
		v, ok := scopes.Env[name]
		if !ok {
			return nil, false
		}
		root = v
	case "vars":
		v, ok := scopes.Vars[name]
		if !ok {
			return nil, false
		}
		root = v
	default:
		return nil, false
	}
	if rest == "" {
		return root, true
	}
	raw, err := json.Marshal(root)
	if err != nil {
		return nil, false
	}
	res := gjson.GetBytes(raw, rest)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// splitFirstSegment splits "name.sub[0].x" into ("name", "sub.0.x") in
// gjson's own path syntax.
func splitFirstSegment(path string) (name, rest string) {
	i := strings.IndexAny(path, ".[")
	if i == -1 {
		return path, ""
	}
	name = path[:i]
	rest = strings.TrimPrefix(path[i:], ".")
	rest = strings.ReplaceAll(rest, "[", ".")
	rest = strings.ReplaceAll(rest, "]", "")
	return name, rest
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case fmt.Stringer:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		var s string
		if err := json.Unmarshal(b, &s); err == nil {
			return s
		}
		return string(b)
	}
}

// InterpolateValue walks an arbitrary JSON-shaped value (as produced by
// unmarshaling a step's Raw payload into interface{}), interpolating every
// string leaf and leaving every other leaf untouched. This is the
// structural-walk half of spec.md §4.1: Interpolate does text
// substitution, InterpolateValue applies it to an entire step tree.
func InterpolateValue(v interface{}, scopes Scopes, undefined *[]UndefinedRef) interface{} {
	switch t := v.(type) {
	case string:
		return Interpolate(t, scopes, undefined)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, vv := range t {
			out[k] = InterpolateValue(vv, scopes, undefined)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, vv := range t {
			out[i] = InterpolateValue(vv, scopes, undefined)
		}
		return out
	default:
		return t
	}
}
