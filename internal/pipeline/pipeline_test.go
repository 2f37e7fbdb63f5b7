package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/me/gosplat/internal/cmdline"
	"github.com/me/gosplat/internal/config"
	"github.com/me/gosplat/internal/executor"
	"github.com/me/gosplat/internal/logging"
	"github.com/me/gosplat/internal/workspace"
)

// recorder is a Runner that records invocations instead of spawning.
type recorder struct {
	invocations []executor.Invocation
	failAt      string
	failWith    error
}

func (r *recorder) Run(ctx context.Context, inv executor.Invocation) error {
	r.invocations = append(r.invocations, inv)
	if r.failAt != "" && inv.Stage == r.failAt {
		return r.failWith
	}
	return nil
}

func (r *recorder) stages() []string {
	out := make([]string, len(r.invocations))
	for i, inv := range r.invocations {
		out[i] = inv.Stage
	}
	return out
}

func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	video := filepath.Join(dir, "input.mp4")
	if err := os.WriteFile(video, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &config.Config{
		Project: config.Project{
			Name:    "garden",
			Workdir: filepath.Join(dir, "work"),
			Video:   video,
			Seed:    1234,
		},
		// /bin/sh stands in for every tool so lazy lookup succeeds.
		Tools:   config.Tools{FFmpeg: "/bin/sh", Colmap: "/bin/sh", OpenSplat: "/bin/sh", Nerfstudio: "/bin/sh"},
		Backend: config.BackendOpenSplat,
		Extract: config.Extract{FPS: 2, Format: "png", SkipIfExists: true},
		Reconstruct: config.Reconstruct{
			Mode:         "auto",
			Database:     "database.db",
			SingleCamera: true,
			Threads:      -1,
		},
		Backends: map[config.Backend]config.BackendStages{
			config.BackendOpenSplat: {
				Train: config.StageSpec{
					Template: "{trainer} {undistorted_dir} -o {model_dir} {args}",
					Args: cmdline.ArgList{
						{Name: "n", Value: "30000"},
						{Name: "seed", Value: "{seed}"},
					},
				},
				Export: config.StageSpec{
					Template: "{trainer} {undistorted_dir} -o {model_dir} -n 0 {args}",
					Args:     cmdline.ArgList{{Name: "output", Value: "{output_file}"}},
				},
			},
			config.BackendNerfstudio: {
				Prepare: &config.StageSpec{
					Template: "{trainer} process-data images {args}",
					Args:     cmdline.ArgList{{Name: "data", Value: "{frames_dir}"}},
				},
				Train: config.StageSpec{
					Template: "{trainer} train splatfacto {args}",
					Args:     cmdline.ArgList{{Name: "data", Value: "{train_dir}"}},
				},
				Export: config.StageSpec{
					Template: "{trainer} export gaussian-splat {args}",
					Args:     cmdline.ArgList{{Name: "output", Value: "{output_file}"}},
				},
			},
		},
	}
}

func newController(t *testing.T, cfg *config.Config, runner executor.Runner, opts Options) (*Controller, *workspace.Layout, string) {
	t.Helper()
	layout, err := workspace.Plan(cfg.Project.Workdir, cfg.Reconstruct.Database)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	logPath := layout.LogFile("testrun1", time.Now())
	runLog, err := logging.OpenRunLog(logPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { runLog.Close() })

	logger := logging.NewLoggerWithWriter(logging.ParseLevel("error"), "text", io.Discard)
	if opts.RunID == "" {
		opts.RunID = "testrun1"
	}
	if opts.Console == nil {
		opts.Console = io.Discard
	}
	return New(cfg, layout, runner, logger, runLog, opts), layout, logPath
}

// Scenario A: automatic reconstruction yields exactly three invocations
// before training, then train, then export, then a manifest whose output
// path carries the project name.
func TestRun_AutomaticMode(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	rec := &recorder{}
	ctrl, layout, _ := newController(t, cfg, rec, Options{})

	m, err := ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"extract", "reconstruct.auto", "reconstruct.undistort", "train", "export"}
	if !reflect.DeepEqual(rec.stages(), want) {
		t.Errorf("stages = %v, want %v", rec.stages(), want)
	}

	if !strings.HasSuffix(m.Output, "garden_gaussians.ply") {
		t.Errorf("manifest output = %s", m.Output)
	}

	loaded, err := LoadManifest(layout.Output)
	if err != nil {
		t.Fatalf("manifest not written: %v", err)
	}
	if loaded.Backend != "opensplat" || loaded.Project != "garden" {
		t.Errorf("manifest = %+v", loaded)
	}
}

// Scenario B: manual mode runs the four reconstruction sub-steps in order
// before training begins.
func TestRun_ManualMode(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Reconstruct.Mode = "manual"
	rec := &recorder{}
	ctrl, _, _ := newController(t, cfg, rec, Options{})

	if _, err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{
		"extract",
		"reconstruct.features",
		"reconstruct.match",
		"reconstruct.map",
		"reconstruct.undistort",
		"train",
		"export",
	}
	if !reflect.DeepEqual(rec.stages(), want) {
		t.Errorf("stages = %v, want %v", rec.stages(), want)
	}
}

// Scenario C: a config without the video path fails with a ConfigError
// before any directory is created or subprocess spawned.
func TestRun_MissingVideoFailsBeforeAnySideEffect(t *testing.T) {
	dir := t.TempDir()
	workdir := filepath.Join(dir, "work")
	doc := `{
  "project": { "name": "garden", "workdir": "` + workdir + `" },
  "tools": { "ffmpeg": "/bin/sh", "colmap": "/bin/sh" },
  "backend": "opensplat",
  "extract": { "fps": 2 },
  "reconstruct": {},
  "backends": { "opensplat": { "train": { "template": "t" }, "export": { "template": "e" } } }
}`
	path := filepath.Join(dir, "scene.jsonc")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := config.Load(path)
	var cerr *config.ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("want ConfigError, got %v", err)
	}
	if _, err := os.Stat(workdir); !os.IsNotExist(err) {
		t.Error("working directory was created despite config error")
	}
}

// Scenario D: pre-populated extraction output with skip-if-exists enabled
// bypasses extraction, logs the skip, and proceeds to reconstruction.
func TestRun_SkipIfExists(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	rec := &recorder{}
	ctrl, layout, logPath := newController(t, cfg, rec, Options{})

	if err := os.WriteFile(filepath.Join(layout.Frames, "frame_00001.png"), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, stage := range rec.stages() {
		if stage == "extract" {
			t.Error("extraction ran despite existing frames")
		}
	}
	if rec.stages()[0] != "reconstruct.auto" {
		t.Errorf("first stage = %s, want reconstruct.auto", rec.stages()[0])
	}

	logData, _ := os.ReadFile(logPath)
	if !strings.Contains(string(logData), "skipped") {
		t.Errorf("skip not logged: %s", logData)
	}
}

func TestRun_ForceOverridesSkip(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	rec := &recorder{}
	ctrl, layout, _ := newController(t, cfg, rec, Options{Force: true})

	if err := os.WriteFile(filepath.Join(layout.Frames, "frame_00001.png"), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.stages()[0] != "extract" {
		t.Errorf("force must re-run extraction, got first stage %s", rec.stages()[0])
	}
}

// Scenario E: a stage exiting 7 terminates the run with a ProcessError
// carrying the code; no manifest is written; the log holds the command and
// its output.
func TestRun_StageFailureAbortsRun(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	// A fake ffmpeg that prints and exits 7.
	fake := filepath.Join(dir, "fake-ffmpeg")
	script := "#!/bin/sh\necho doomed-output\nexit 7\n"
	if err := os.WriteFile(fake, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg.Tools.FFmpeg = fake

	logger := logging.NewLoggerWithWriter(logging.ParseLevel("error"), "text", io.Discard)
	layout, err := workspace.Plan(cfg.Project.Workdir, cfg.Reconstruct.Database)
	if err != nil {
		t.Fatal(err)
	}
	logPath := layout.LogFile("failrun1", time.Now())
	runLog, err := logging.OpenRunLog(logPath)
	if err != nil {
		t.Fatal(err)
	}
	defer runLog.Close()

	real := &executor.Executor{Logger: logger, Log: runLog}
	ctrl := New(cfg, layout, real, logger, runLog, Options{RunID: "failrun1", Console: io.Discard})

	_, err = ctrl.Run(context.Background())
	var perr *executor.ProcessError
	if !errors.As(err, &perr) {
		t.Fatalf("want ProcessError, got %v", err)
	}
	if perr.ExitCode != 7 {
		t.Errorf("exit code = %d, want 7", perr.ExitCode)
	}

	if _, err := LoadManifest(layout.Output); err == nil {
		t.Error("manifest written despite stage failure")
	}

	logData, _ := os.ReadFile(logPath)
	if !strings.Contains(string(logData), fake) {
		t.Errorf("failing command missing from log: %s", logData)
	}
	if !strings.Contains(string(logData), "doomed-output") {
		t.Errorf("failing stage output missing from log: %s", logData)
	}
}

// Dry-run property: no subprocess spawns for any stage, yet the log carries
// the full command sequence, and no manifest lands on disk.
func TestRun_DryRun(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	// Tools that do not exist anywhere: a dry run must not care.
	cfg.Tools = config.Tools{FFmpeg: "/no/such/ffmpeg", Colmap: "/no/such/colmap", OpenSplat: "/no/such/opensplat"}

	logger := logging.NewLoggerWithWriter(logging.ParseLevel("error"), "text", io.Discard)
	layout, err := workspace.Plan(cfg.Project.Workdir, cfg.Reconstruct.Database)
	if err != nil {
		t.Fatal(err)
	}
	logPath := layout.LogFile("dryrun01", time.Now())
	runLog, err := logging.OpenRunLog(logPath)
	if err != nil {
		t.Fatal(err)
	}
	defer runLog.Close()

	real := &executor.Executor{Logger: logger, Log: runLog, DryRun: true}
	ctrl := New(cfg, layout, real, logger, runLog, Options{RunID: "dryrun01", DryRun: true, Force: true, Console: io.Discard})

	if _, err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("dry run failed: %v", err)
	}

	logData, _ := os.ReadFile(logPath)
	if got := strings.Count(string(logData), "\n$ "); got != 5 {
		t.Errorf("logged command count = %d, want 5 (extract, 2 reconstruction, train, export)\n%s", got, logData)
	}
	if _, err := LoadManifest(layout.Output); err == nil {
		t.Error("dry run wrote a manifest")
	}
}

func TestRun_DebugLogsStageDispatch(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	layout, err := workspace.Plan(cfg.Project.Workdir, cfg.Reconstruct.Database)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	runLog, err := logging.OpenRunLog(layout.LogFile("dbgrun01", time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	defer runLog.Close()

	var buf bytes.Buffer
	logger := logging.NewLoggerWithWriter(logging.ParseLevel("debug"), "text", &buf)
	ctrl := New(cfg, layout, &recorder{}, logger, runLog, Options{RunID: "dbgrun01", Console: io.Discard})
	if _, err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "dispatching stage") {
		t.Errorf("no dispatch lines in debug output:\n%s", out)
	}
	for _, stage := range []string{"extract", "reconstruct.auto", "train", "export"} {
		if !strings.Contains(out, "stage="+stage) {
			t.Errorf("debug output missing stage %s:\n%s", stage, out)
		}
	}
}

// A path containing whitespace must reach the subprocess as a single argv
// entry, with the protective quoting stripped by the split.
func TestRun_PathsWithSpacesStaySingleArguments(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	video := filepath.Join(dir, "my input.mp4")
	if err := os.WriteFile(video, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Project.Video = video
	cfg.Project.Workdir = filepath.Join(dir, "work dir")

	rec := &recorder{}
	ctrl, layout, _ := newController(t, cfg, rec, Options{})
	if _, err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	extract := rec.invocations[0]
	found := false
	for _, a := range extract.Argv {
		if a == video {
			found = true
		}
		if strings.Contains(a, `"`) {
			t.Errorf("argv entry kept its quotes: %q", a)
		}
	}
	if !found {
		t.Errorf("video path not a single argv entry: %v", extract.Argv)
	}
	if want := filepath.Join(layout.Frames, "frame_%05d.png"); extract.Argv[len(extract.Argv)-1] != want {
		t.Errorf("frame output = %q, want %q", extract.Argv[len(extract.Argv)-1], want)
	}

	// Flattened argument values go through the same quoting path.
	train := rec.invocations[len(rec.invocations)-2]
	if !contains(train.Argv, layout.Undistorted) {
		t.Errorf("train argv = %v, want %q as one entry", train.Argv, layout.Undistorted)
	}
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func TestRun_SeedResolvedAtDispatch(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	rec := &recorder{}
	ctrl, _, _ := newController(t, cfg, rec, Options{})

	if _, err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var train *executor.Invocation
	for i := range rec.invocations {
		if rec.invocations[i].Stage == "train" {
			train = &rec.invocations[i]
		}
	}
	if train == nil {
		t.Fatal("no train invocation")
	}
	joined := strings.Join(train.Argv, " ")
	if !strings.Contains(joined, "--seed 1234") {
		t.Errorf("seed not resolved at dispatch: %s", joined)
	}
}

func TestRun_PrepareStageRunsForNerfstudio(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Backend = config.BackendNerfstudio
	rec := &recorder{}
	ctrl, _, _ := newController(t, cfg, rec, Options{})

	if _, err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	stages := rec.stages()
	prepIdx, trainIdx := -1, -1
	for i, s := range stages {
		switch s {
		case "train.prepare":
			prepIdx = i
		case "train":
			trainIdx = i
		}
	}
	if prepIdx == -1 || trainIdx == -1 || prepIdx > trainIdx {
		t.Errorf("prepare must run before train: %v", stages)
	}
}

func TestExtractFilter(t *testing.T) {
	tests := []struct {
		name string
		e    config.Extract
		want string
	}{
		{"rate only", config.Extract{FPS: 2}, "fps=2"},
		{"fractional rate", config.Extract{FPS: 0.5}, "fps=0.5"},
		{
			"resize",
			config.Extract{FPS: 2, MaxSize: 1600},
			"fps=2,scale=1600:1600:force_original_aspect_ratio=decrease",
		},
		{"rotate cw", config.Extract{FPS: 1, Rotate: "cw"}, "fps=1,transpose=1"},
		{"rotate 180", config.Extract{FPS: 1, Rotate: "180"}, "fps=1,transpose=1,transpose=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractFilter(tt.e); got != tt.want {
				t.Errorf("extractFilter = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRun_ArgsFileOverridesInline(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	extra := filepath.Join(dir, "extra.json")
	if err := os.WriteFile(extra, []byte(`{"n": "99999"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	stages := cfg.Backends[config.BackendOpenSplat]
	stages.Train.ArgsFile = extra
	cfg.Backends[config.BackendOpenSplat] = stages

	rec := &recorder{}
	ctrl, _, _ := newController(t, cfg, rec, Options{})
	if _, err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, inv := range rec.invocations {
		if inv.Stage == "train" {
			joined := strings.Join(inv.Argv, " ")
			if !strings.Contains(joined, "--n 99999") {
				t.Errorf("file value should override inline: %s", joined)
			}
			if strings.Contains(joined, "30000") {
				t.Errorf("inline value leaked through: %s", joined)
			}
		}
	}
}

func TestStatusOutput(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	rec := &recorder{}
	var console bytes.Buffer
	ctrl, layout, _ := newController(t, cfg, rec, Options{Console: &console})

	if err := os.WriteFile(filepath.Join(layout.Frames, "frame_00001.png"), []byte("p"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out := console.String()
	for _, want := range []string{"extract", "reconstruct", "train", "export", "skipped"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}
