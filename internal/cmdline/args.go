package cmdline

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Arg is one named command-line argument. Value is a bool (bare flag), a
// scalar (string or number), or nil (omitted).
type Arg struct {
	Name  string
	Value any
}

// ArgList is an argument map that preserves the insertion order of its
// source document. Order matters: flattening must produce the same command
// line for the same document every time, so logs stay diffable and tests can
// assert exact command strings.
type ArgList []Arg

// UnmarshalJSON decodes a JSON object into an ArgList, preserving the order
// keys appear in the document. A plain map would lose it.
func (a *ArgList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("argument map must be a JSON object")
	}

	var out ArgList
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("argument map key must be a string, got %v", keyTok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("argument %q: %w", key, err)
		}
		out = append(out, Arg{Name: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*a = out
	return nil
}

// UnmarshalYAML decodes a YAML mapping into an ArgList, preserving key order.
func (a *ArgList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("argument map must be a mapping, got %v", node.Tag)
	}

	var out ArgList
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		var value any
		if err := valNode.Decode(&value); err != nil {
			return fmt.Errorf("argument %q: %w", keyNode.Value, err)
		}
		out = append(out, Arg{Name: keyNode.Value, Value: value})
	}

	*a = out
	return nil
}

// Get returns the value for name and whether it is present.
func (a ArgList) Get(name string) (any, bool) {
	for _, arg := range a {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return nil, false
}

// Clone returns a copy of the list.
func (a ArgList) Clone() ArgList {
	if a == nil {
		return nil
	}
	out := make(ArgList, len(a))
	copy(out, a)
	return out
}

// Merge returns a copy of a with overrides applied: keys present in both
// take the override's value in the original position, new keys are appended
// in override order. Neither input is mutated.
func (a ArgList) Merge(overrides ArgList) ArgList {
	out := a.Clone()
	for _, over := range overrides {
		replaced := false
		for i := range out {
			if out[i].Name == over.Name {
				out[i].Value = over.Value
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, over)
		}
	}
	return out
}
