package cmdline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// LoadArgsFile reads an external argument file and returns its contents as
// an ordered ArgList. JSON files may carry // and /* */ comments plus
// trailing commas; .yaml/.yml files are parsed as YAML mappings. A missing
// file is an error: a stage that names an argument file expects it to exist.
func LoadArgsFile(path string) (ArgList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read argument file %s: %w", path, err)
	}

	var args ArgList
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &args); err != nil {
			return nil, fmt.Errorf("parse argument file %s: %w", path, err)
		}
	default:
		std, err := hujson.Standardize(data)
		if err != nil {
			return nil, fmt.Errorf("parse argument file %s: %w", path, err)
		}
		if err := json.Unmarshal(std, &args); err != nil {
			return nil, fmt.Errorf("parse argument file %s: %w", path, err)
		}
	}

	return args, nil
}
