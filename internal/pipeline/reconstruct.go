package pipeline

import (
	"context"
	"strconv"

	"github.com/me/gosplat/internal/cmdline"
	"github.com/me/gosplat/internal/config"
)

// reconstructTemplates are the default COLMAP commands per sub-step. A
// config may override any of them via reconstruct.commands.
var reconstructTemplates = map[string]string{
	"auto":      "{colmap} automatic_reconstructor --workspace_path {colmap_dir} --image_path {frames_dir}",
	"features":  "{colmap} feature_extractor --database_path {database_path} --image_path {frames_dir}",
	"match":     "{colmap} exhaustive_matcher --database_path {database_path}",
	"map":       "{colmap} mapper --database_path {database_path} --image_path {frames_dir} --output_path {sparse_dir}",
	"undistort": "{colmap} image_undistorter --image_path {frames_dir} --input_path {sparse_dir}/0 --output_path {undistorted_dir}",
}

// reconstruct runs the sparse reconstruction. Automatic mode is one combined
// command plus undistortion; manual mode runs feature extraction, matching,
// and mapping separately before undistortion. Both converge on the
// undistorted-image and sparse directories the training stage consumes.
func (c *Controller) reconstruct(ctx context.Context, base map[string]string) error {
	const stage = "reconstruct"
	c.status.Begin(stage)

	colmap, err := c.lookupTool("colmap", c.cfg.Tools.Colmap)
	if err != nil {
		c.status.Fail(stage, err)
		return err
	}
	sctx := stageContext(base, map[string]string{"colmap": colmap})

	var steps []string
	if c.cfg.Reconstruct.Mode == "manual" {
		steps = []string{"features", "match", "map", "undistort"}
	} else {
		steps = []string{"auto", "undistort"}
	}

	for _, step := range steps {
		if err := c.runReconstructStep(ctx, step, sctx); err != nil {
			c.status.Fail(stage, err)
			return err
		}
	}

	c.status.Done(stage)
	return nil
}

func (c *Controller) runReconstructStep(ctx context.Context, step string, sctx map[string]string) error {
	template := reconstructTemplates[step]
	if override := c.cfg.Reconstruct.Commands[step]; override != "" {
		template = override
	}

	if flags := cmdline.Flatten(reconstructArgs(step, c.cfg.Reconstruct)); flags != "" {
		template += " " + flags
	}

	return c.run(ctx, "reconstruct."+step, template, sctx)
}

// reconstructArgs translates the reconstruction settings into COLMAP flags
// for one sub-step. COLMAP booleans take 0/1 values, not bare flags.
func reconstructArgs(step string, r config.Reconstruct) cmdline.ArgList {
	var args cmdline.ArgList
	add := func(name, value string) {
		args = append(args, cmdline.Arg{Name: name, Value: value})
	}

	threads := ""
	if r.Threads >= 0 {
		threads = strconv.Itoa(r.Threads)
	}

	switch step {
	case "auto":
		if r.SingleCamera {
			add("single_camera", "1")
		}
		if r.Dense {
			add("dense", "1")
		}
		if threads != "" {
			add("num_threads", threads)
		}
	case "features":
		if r.SingleCamera {
			add("ImageReader.single_camera", "1")
		}
		if threads != "" {
			add("SiftExtraction.num_threads", threads)
		}
	case "match":
		if threads != "" {
			add("SiftMatching.num_threads", threads)
		}
	case "map":
		if threads != "" {
			add("Mapper.num_threads", threads)
		}
	}

	return args
}
