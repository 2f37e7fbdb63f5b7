package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/me/gosplat/internal/config"
)

// extractTemplate invokes ffmpeg once per run. The filter chain carries the
// sample rate, optional resize, and optional rotation.
const extractTemplate = "{ffmpeg} -y -i {video_path} -vf {filter} -qscale:v 2 {frames_dir}/frame_%05d.{format}"

func (c *Controller) extractFrames(ctx context.Context, base map[string]string) error {
	const stage = "extract"

	if c.cfg.Extract.SkipIfExists && !c.force {
		if n := countFrames(c.layout.Frames, c.cfg.Extract.Format); n > 0 {
			reason := fmt.Sprintf("%d frames already present", n)
			c.status.Skip(stage, reason)
			c.log.Notef("stage extract skipped: %s in %s", reason, c.layout.Frames)
			return nil
		}
	}

	c.status.Begin(stage)
	ffmpeg, err := c.lookupTool("ffmpeg", c.cfg.Tools.FFmpeg)
	if err != nil {
		c.status.Fail(stage, err)
		return err
	}

	sctx := stageContext(base, map[string]string{
		"ffmpeg": ffmpeg,
		"filter": extractFilter(c.cfg.Extract),
		"format": c.cfg.Extract.Format,
	})
	if err := c.run(ctx, stage, extractTemplate, sctx); err != nil {
		c.status.Fail(stage, err)
		return err
	}

	c.status.Done(stage)
	return nil
}

// extractFilter builds the ffmpeg -vf chain: rate limit, then the long-edge
// bounded resize (aspect preserved), then rotation.
func extractFilter(e config.Extract) string {
	parts := []string{"fps=" + strconv.FormatFloat(e.FPS, 'f', -1, 64)}

	if e.MaxSize > 0 {
		parts = append(parts, fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", e.MaxSize, e.MaxSize))
	}

	switch e.Rotate {
	case "cw":
		parts = append(parts, "transpose=1")
	case "ccw":
		parts = append(parts, "transpose=2")
	case "180":
		parts = append(parts, "transpose=1,transpose=1")
	}

	return strings.Join(parts, ",")
}

// countFrames reports how many extraction outputs are already on disk. The
// check is presence-only: frames produced with different settings are not
// distinguished.
func countFrames(dir, format string) int {
	matches, err := filepath.Glob(filepath.Join(dir, "frame_*."+format))
	if err != nil {
		return 0
	}
	return len(matches)
}
