package pipeline

import "context"

// train dispatches on the selected backend. The seed placeholder in any
// backend's argument map resolves from the project seed here, at dispatch
// time, so one template serves runs with different seeds. Backends with a
// prepare step run it before the training command.
func (c *Controller) train(ctx context.Context, base map[string]string) error {
	const stage = "train"
	c.status.Begin(stage)

	sctx, err := c.backendContext(base)
	if err != nil {
		c.status.Fail(stage, err)
		return err
	}

	stages := c.cfg.Stages()
	if stages.Prepare != nil {
		if err := c.runStageSpec(ctx, "train.prepare", *stages.Prepare, sctx); err != nil {
			c.status.Fail(stage, err)
			return err
		}
	}
	if err := c.runStageSpec(ctx, "train", stages.Train, sctx); err != nil {
		c.status.Fail(stage, err)
		return err
	}

	c.status.Done(stage)
	return nil
}

// export runs the backend's export command, producing the final splat file
// at the deterministic output path. This is the terminal success state: the
// manifest is written only after it completes.
func (c *Controller) export(ctx context.Context, base map[string]string) error {
	const stage = "export"
	c.status.Begin(stage)

	sctx, err := c.backendContext(base)
	if err != nil {
		c.status.Fail(stage, err)
		return err
	}

	if err := c.runStageSpec(ctx, "export", c.cfg.Stages().Export, sctx); err != nil {
		c.status.Fail(stage, err)
		return err
	}

	c.status.Done(stage)
	return nil
}

// backendContext resolves the selected backend's tool (lazily, per stage:
// an unrelated backend's missing tool never blocks a run) and exposes it
// under both the generic {trainer} placeholder and the backend's own name.
func (c *Controller) backendContext(base map[string]string) (map[string]string, error) {
	backend := c.cfg.Backend
	tool, err := c.lookupTool(string(backend), c.cfg.Tools.ForBackend(backend))
	if err != nil {
		return nil, err
	}
	return stageContext(base, map[string]string{
		"trainer":       tool,
		string(backend): tool,
	}), nil
}
