// Package cmdline expands command templates and flattens argument maps into
// the command lines the pipeline stages execute.
package cmdline

import "strings"

// Expand replaces every {name} placeholder in template whose name is present
// in ctx. Substitution is literal and single-pass: values are never re-scanned
// for further placeholders, so a value containing braces cannot trigger a
// second expansion. Placeholders missing from ctx (and stray braces) are left
// byte-for-byte intact, which lets partially specialized templates pass
// through unexpanded tokens.
func Expand(template string, ctx map[string]string) string {
	var b strings.Builder
	b.Grow(len(template))

	for i := 0; i < len(template); {
		if template[i] == '{' {
			if j := strings.IndexByte(template[i+1:], '}'); j >= 0 {
				name := template[i+1 : i+1+j]
				if value, ok := ctx[name]; ok {
					b.WriteString(value)
					i += j + 2
					continue
				}
			}
		}
		b.WriteByte(template[i])
		i++
	}

	return b.String()
}

// ExpandArgs returns a copy of args with placeholders in string values
// expanded against ctx. The input list is never mutated; stage dispatch
// works on copies so one stage cannot contaminate another's argument map.
func ExpandArgs(args ArgList, ctx map[string]string) ArgList {
	if len(args) == 0 {
		return nil
	}
	out := make(ArgList, len(args))
	for i, arg := range args {
		out[i] = arg
		if s, ok := arg.Value.(string); ok {
			out[i].Value = Expand(s, ctx)
		}
	}
	return out
}
