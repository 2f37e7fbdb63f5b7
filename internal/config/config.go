// Package config loads and validates the pipeline configuration document.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/me/gosplat/internal/cmdline"
)

// ConfigError reports a malformed or missing configuration value. Key is the
// dotted path of the offending field when one can be named.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
	}
	return "config: " + e.Reason
}

// Backend identifies a training/export tool family. The set is closed; the
// pipeline controller switches exhaustively over it.
type Backend string

const (
	BackendGaussianSplatting Backend = "gaussian_splatting"
	BackendNerfstudio        Backend = "nerfstudio"
	BackendOpenSplat         Backend = "opensplat"
)

// Backends lists every recognized backend.
var Backends = []Backend{BackendGaussianSplatting, BackendNerfstudio, BackendOpenSplat}

// ParseBackend validates a backend name from the configuration.
func ParseBackend(s string) (Backend, error) {
	for _, b := range Backends {
		if Backend(s) == b {
			return b, nil
		}
	}
	return "", &ConfigError{Key: "backend", Reason: fmt.Sprintf("unrecognized backend %q (one of: %s)", s, backendNames())}
}

func backendNames() string {
	names := make([]string, len(Backends))
	for i, b := range Backends {
		names[i] = string(b)
	}
	return strings.Join(names, ", ")
}

// Config is the full pipeline configuration. It is loaded once per run and
// never mutated afterwards.
type Config struct {
	Project     Project                   `json:"project" yaml:"project"`
	Tools       Tools                     `json:"tools" yaml:"tools"`
	Backend     Backend                   `json:"backend" yaml:"backend"`
	Extract     Extract                   `json:"extract" yaml:"extract"`
	Reconstruct Reconstruct               `json:"reconstruct" yaml:"reconstruct"`
	Backends    map[Backend]BackendStages `json:"backends" yaml:"backends"`
}

// Project holds project identity and input/output roots.
type Project struct {
	Name    string `json:"name" yaml:"name"`
	Workdir string `json:"workdir" yaml:"workdir"`
	Video   string `json:"video" yaml:"video"`
	Seed    int64  `json:"seed" yaml:"seed"`
}

// Tools locates the external executables. Entries may be absolute paths or
// PATH-relative names. Backend tools and the CUDA root are optional: a tool
// is only required to resolve when the stage that invokes it runs.
type Tools struct {
	FFmpeg            string `json:"ffmpeg" yaml:"ffmpeg"`
	Colmap            string `json:"colmap" yaml:"colmap"`
	GaussianSplatting string `json:"gaussian_splatting" yaml:"gaussian_splatting"`
	Nerfstudio        string `json:"nerfstudio" yaml:"nerfstudio"`
	OpenSplat         string `json:"opensplat" yaml:"opensplat"`
	CudaRoot          string `json:"cuda_root" yaml:"cuda_root"`
}

// ForBackend returns the configured tool location for a backend.
func (t Tools) ForBackend(b Backend) string {
	switch b {
	case BackendGaussianSplatting:
		return t.GaussianSplatting
	case BackendNerfstudio:
		return t.Nerfstudio
	case BackendOpenSplat:
		return t.OpenSplat
	}
	return ""
}

// Extract configures the frame-extraction stage.
type Extract struct {
	FPS          float64 `json:"fps" yaml:"fps"`
	MaxSize      int     `json:"max_size" yaml:"max_size"` // long-edge bound, 0 = no resize
	Format       string  `json:"format" yaml:"format"`
	SkipIfExists bool    `json:"skip_if_exists" yaml:"skip_if_exists"`
	Rotate       string  `json:"rotate" yaml:"rotate"` // "", "cw", "ccw", "180"
}

// Reconstruct configures the sparse reconstruction stage.
type Reconstruct struct {
	Mode         string            `json:"mode" yaml:"mode"` // "auto" or "manual"
	Database     string            `json:"database" yaml:"database"`
	SingleCamera bool              `json:"single_camera" yaml:"single_camera"`
	Threads      int               `json:"threads" yaml:"threads"` // -1 = tool default
	Dense        bool              `json:"dense" yaml:"dense"`
	Commands     map[string]string `json:"commands" yaml:"commands"` // per sub-step template overrides
}

// BackendStages holds the stage definitions for one backend. Prepare is
// optional; backends that train directly on the reconstruction output omit
// it.
type BackendStages struct {
	Prepare *StageSpec `json:"prepare" yaml:"prepare"`
	Train   StageSpec  `json:"train" yaml:"train"`
	Export  StageSpec  `json:"export" yaml:"export"`
}

// StageSpec is a command template plus its argument map. ArgsFile names an
// external argument file merged over Args at dispatch time (file values win
// on key collision).
type StageSpec struct {
	Template string          `json:"template" yaml:"template"`
	Args     cmdline.ArgList `json:"args" yaml:"args"`
	ArgsFile string          `json:"args_file" yaml:"args_file"`
}

// Load reads, parses, defaults, and validates a configuration document.
// JSON documents may carry // and /* */ comments; .yaml/.yml documents are
// parsed as YAML. Load is pure apart from reading the file: directory
// creation belongs to the workspace planner.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	var sections map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("parse %s: %v", path, err)}
		}
		if err := yaml.Unmarshal(data, &sections); err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("parse %s: %v", path, err)}
		}
	default:
		std, err := hujson.Standardize(data)
		if err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("parse %s: %v", path, err)}
		}
		if err := json.Unmarshal(std, cfg); err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("parse %s: %v", path, err)}
		}
		if err := json.Unmarshal(std, &sections); err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("parse %s: %v", path, err)}
		}
	}

	// Every top-level section must be written out. Defaults fill optional
	// keys inside a present section, never a section the author forgot.
	for _, key := range []string{"project", "tools", "backend", "extract", "reconstruct", "backends"} {
		if _, ok := sections[key]; !ok {
			return nil, &ConfigError{Key: key, Reason: "required"}
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Extract.Format == "" {
		c.Extract.Format = "png"
	}
	if c.Reconstruct.Mode == "" {
		c.Reconstruct.Mode = "auto"
	}
	if c.Reconstruct.Database == "" {
		c.Reconstruct.Database = "database.db"
	}
	if c.Tools.FFmpeg == "" {
		c.Tools.FFmpeg = "ffmpeg"
	}
	if c.Tools.Colmap == "" {
		c.Tools.Colmap = "colmap"
	}
}

// Validate checks required fields and enumerations. It runs before any
// directory is created or subprocess spawned; every failure names the
// offending key or value.
func (c *Config) Validate() error {
	if c.Project.Name == "" {
		return &ConfigError{Key: "project.name", Reason: "required"}
	}
	if c.Project.Workdir == "" {
		return &ConfigError{Key: "project.workdir", Reason: "required"}
	}
	if c.Project.Video == "" {
		return &ConfigError{Key: "project.video", Reason: "required"}
	}
	if _, err := os.Stat(c.Project.Video); err != nil {
		return &ConfigError{Key: "project.video", Reason: fmt.Sprintf("video %q does not exist", c.Project.Video)}
	}

	if _, err := ParseBackend(string(c.Backend)); err != nil {
		return err
	}

	if c.Extract.FPS <= 0 {
		return &ConfigError{Key: "extract.fps", Reason: "must be > 0"}
	}
	switch c.Extract.Rotate {
	case "", "cw", "ccw", "180":
	default:
		return &ConfigError{Key: "extract.rotate", Reason: fmt.Sprintf("unrecognized rotation %q (one of: cw, ccw, 180)", c.Extract.Rotate)}
	}

	switch c.Reconstruct.Mode {
	case "auto", "manual":
	default:
		return &ConfigError{Key: "reconstruct.mode", Reason: fmt.Sprintf("unrecognized mode %q (auto or manual)", c.Reconstruct.Mode)}
	}
	for step := range c.Reconstruct.Commands {
		switch step {
		case "auto", "features", "match", "map", "undistort":
		default:
			return &ConfigError{Key: "reconstruct.commands." + step, Reason: "unknown reconstruction sub-step"}
		}
	}

	stages, ok := c.Backends[c.Backend]
	if !ok {
		return &ConfigError{Key: "backends." + string(c.Backend), Reason: "no stage definitions for selected backend"}
	}
	if stages.Train.Template == "" {
		return &ConfigError{Key: "backends." + string(c.Backend) + ".train.template", Reason: "required"}
	}
	if stages.Export.Template == "" {
		return &ConfigError{Key: "backends." + string(c.Backend) + ".export.template", Reason: "required"}
	}

	return nil
}

// Stages returns the stage definitions for the selected backend. Valid after
// Validate has passed.
func (c *Config) Stages() BackendStages {
	return c.Backends[c.Backend]
}
