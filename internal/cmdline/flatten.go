package cmdline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Flatten converts an ArgList into a CLI flag string:
//
//   - bool true emits a bare --name
//   - bool false, nil, or an empty string emits nothing
//   - anything else emits --name value, quoting the value if needed
//
// Emission order is list order, so the output is deterministic for a given
// document.
func Flatten(args ArgList) string {
	var parts []string
	for _, arg := range args {
		switch v := arg.Value.(type) {
		case nil:
			// Explicit null: omitted.
		case bool:
			if v {
				parts = append(parts, "--"+arg.Name)
			}
		default:
			s := valueString(v)
			if s == "" {
				continue
			}
			parts = append(parts, "--"+arg.Name, Quote(s))
		}
	}
	return strings.Join(parts, " ")
}

// valueString renders a scalar argument value.
func valueString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Quote wraps s in double quotes, escaping internal double quotes, when it
// contains whitespace or quote characters. Plain values pass through unquoted
// so typical command lines stay readable. The output is a single token to
// SplitCommand.
func Quote(s string) string {
	if !strings.ContainsAny(s, " \t\n\"'") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
