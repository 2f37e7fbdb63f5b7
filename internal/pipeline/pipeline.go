// Package pipeline drives the four-stage run: extract frames, reconstruct,
// train, export. Stages execute strictly in order; each consumes the
// filesystem artifacts of its predecessor.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/me/gosplat/internal/cmdline"
	"github.com/me/gosplat/internal/config"
	"github.com/me/gosplat/internal/executor"
	"github.com/me/gosplat/internal/logging"
	"github.com/me/gosplat/internal/workspace"
)

// Options configures one controller run.
type Options struct {
	RunID   string
	DryRun  bool
	Force   bool      // ignore skip-if-exists policies
	Console io.Writer // status line target, defaults to os.Stdout
}

// Controller owns one pipeline run over one working directory.
type Controller struct {
	cfg    *config.Config
	layout *workspace.Layout
	runner executor.Runner
	logger *slog.Logger
	log    *logging.RunLog
	status *Status
	runID  string
	dryRun bool
	force  bool
	env    []string
}

// New builds a controller. runner is the stage executor; tests pass a
// recorder.
func New(cfg *config.Config, layout *workspace.Layout, runner executor.Runner, logger *slog.Logger, log *logging.RunLog, opts Options) *Controller {
	return &Controller{
		cfg:    cfg,
		layout: layout,
		runner: runner,
		logger: logger,
		log:    log,
		status: NewStatus(opts.Console),
		runID:  opts.RunID,
		dryRun: opts.DryRun,
		force:  opts.Force,
		env:    executor.EnvOverlay(cfg.Tools.CudaRoot),
	}
}

// Run executes the pipeline. On full success it writes and returns the
// manifest; any stage failure aborts the run, leaving the partial workspace
// and log in place for diagnosis. Dry runs return the manifest without
// persisting it.
func (c *Controller) Run(ctx context.Context) (*Manifest, error) {
	base := c.buildContext()

	if err := c.extractFrames(ctx, base); err != nil {
		return nil, err
	}
	if err := c.reconstruct(ctx, base); err != nil {
		return nil, err
	}
	if err := c.train(ctx, base); err != nil {
		return nil, err
	}
	if err := c.export(ctx, base); err != nil {
		return nil, err
	}

	m := c.newManifest()
	if c.dryRun {
		return m, nil
	}
	if err := WriteManifest(c.layout.Output, m); err != nil {
		return nil, err
	}
	return m, nil
}

// buildContext assembles the placeholder map shared by every stage. Built
// once per run; stages extend copies with their local placeholders.
func (c *Controller) buildContext() map[string]string {
	video := c.cfg.Project.Video
	if abs, err := filepath.Abs(video); err == nil {
		video = abs
	}

	l := c.layout
	return map[string]string{
		"project_name":       c.cfg.Project.Name,
		"workdir":            l.Root,
		"video_path":         video,
		"frames_dir":         l.Frames,
		"colmap_dir":         l.Colmap,
		"sparse_dir":         l.Sparse,
		"undistorted_dir":    l.Undistorted,
		"undistorted_images": l.UndistortedImages,
		"undistorted_sparse": l.UndistortedSparse,
		"database_path":      l.Database,
		"train_dir":          l.Train,
		"model_dir":          l.Model,
		"output_dir":         l.Output,
		"output_file":        l.OutputFile(c.cfg.Project.Name),
		"seed":               strconv.FormatInt(c.cfg.Project.Seed, 10),
	}
}

// stageContext copies base and adds stage-local placeholders. The shared map
// is never mutated.
func stageContext(base map[string]string, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// quoteValues quotes placeholder values containing whitespace so they survive
// the argv split as single tokens. The pre-flattened args string is excluded:
// Flatten already quoted its values individually.
func quoteValues(sctx map[string]string) map[string]string {
	out := make(map[string]string, len(sctx))
	for k, v := range sctx {
		if k == "args" {
			out[k] = v
			continue
		}
		out[k] = cmdline.Quote(v)
	}
	return out
}

// lookupTool resolves a tool lazily at stage start. In dry-run mode a tool
// that cannot be resolved falls back to its configured location so the
// printed command is still complete.
func (c *Controller) lookupTool(display, path string) (string, error) {
	resolved, err := executor.LookupTool(display, path)
	if err != nil {
		if c.dryRun {
			if path != "" {
				return path, nil
			}
			return display, nil
		}
		return "", err
	}
	return resolved, nil
}

// run expands a template against the stage context, splits it into argv, and
// hands it to the runner. Context values are quoted at expansion time so a
// path with whitespace stays one argv entry.
func (c *Controller) run(ctx context.Context, stage, template string, sctx map[string]string) error {
	command := cmdline.Expand(template, quoteValues(sctx))
	argv := cmdline.SplitCommand(command)
	c.logger.Debug("dispatching stage", "stage", stage, "command", command)
	return c.runner.Run(ctx, executor.Invocation{
		Stage: stage,
		Argv:  argv,
		Dir:   c.layout.Root,
		Env:   c.env,
	})
}

// runStageSpec runs a configured stage definition: merge the external
// argument file over the inline map (file wins on collision), expand
// placeholders inside argument values, flatten, and substitute into the
// template. Templates without an {args} token get the flags appended.
func (c *Controller) runStageSpec(ctx context.Context, stage string, spec config.StageSpec, sctx map[string]string) error {
	args := spec.Args.Clone()
	if spec.ArgsFile != "" {
		fileArgs, err := cmdline.LoadArgsFile(spec.ArgsFile)
		if err != nil {
			return fmt.Errorf("stage %s: %w", stage, err)
		}
		args = args.Merge(fileArgs)
	}
	args = cmdline.ExpandArgs(args, sctx)

	flat := cmdline.Flatten(args)
	local := stageContext(sctx, map[string]string{"args": flat})

	template := spec.Template
	if flat != "" && !strings.Contains(template, "{args}") {
		template += " {args}"
	}
	return c.run(ctx, stage, template, local)
}
