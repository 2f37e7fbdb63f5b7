package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManifestFile is the fixed manifest filename inside the output directory.
const ManifestFile = "manifest.json"

// Manifest records the resolved paths and pipeline choice of the most recent
// successful run. Written exactly once, after export succeeds, overwriting
// any prior manifest.
type Manifest struct {
	Project     string    `json:"project"`
	Backend     string    `json:"backend"`
	RunID       string    `json:"run_id"`
	Video       string    `json:"video"`
	Workdir     string    `json:"workdir"`
	Frames      string    `json:"frames"`
	Sparse      string    `json:"sparse"`
	Undistorted string    `json:"undistorted"`
	Model       string    `json:"model"`
	Output      string    `json:"output"`
	LogFile     string    `json:"log_file"`
	FinishedAt  time.Time `json:"finished_at"`
}

func (c *Controller) newManifest() *Manifest {
	video := c.cfg.Project.Video
	if abs, err := filepath.Abs(video); err == nil {
		video = abs
	}
	return &Manifest{
		Project:     c.cfg.Project.Name,
		Backend:     string(c.cfg.Backend),
		RunID:       c.runID,
		Video:       video,
		Workdir:     c.layout.Root,
		Frames:      c.layout.Frames,
		Sparse:      c.layout.Sparse,
		Undistorted: c.layout.Undistorted,
		Model:       c.layout.Model,
		Output:      c.layout.OutputFile(c.cfg.Project.Name),
		LogFile:     c.log.Path(),
		FinishedAt:  time.Now(),
	}
}

// WriteManifest serializes m to dir/manifest.json via a temp file and
// rename, so a crash mid-write never leaves a torn manifest behind.
func WriteManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	path := filepath.Join(dir, ManifestFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// LoadManifest reads the manifest from dir, if present.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}
