package config

import (
	"fmt"
	"os"
)

// configTemplate is the annotated starter configuration written by
// `gosplat init`. It is JSONC: comments survive loading.
const configTemplate = `{
  // gosplat pipeline configuration.
  // Paths may be absolute or relative to the directory gosplat runs in.
  "project": {
    "name": "my_scene",
    "workdir": "./my_scene_work",
    "video": "./my_scene.mp4",
    "seed": 42
  },

  // Tool locations: absolute paths or PATH-relative names. Backend tools
  // are only resolved when the selected backend runs, so unused entries may
  // stay null.
  "tools": {
    "ffmpeg": "ffmpeg",
    "colmap": "colmap",
    "gaussian_splatting": null,
    "nerfstudio": null,
    "opensplat": "opensplat",
    "cuda_root": null // e.g. "/usr/local/cuda"
  },

  // One of: gaussian_splatting, nerfstudio, opensplat.
  "backend": "opensplat",

  "extract": {
    "fps": 2,          // frames per second sampled from the video
    "max_size": 1600,  // long-edge bound in pixels, 0 disables resizing
    "format": "png",
    // Reuse frames already present in frames/ on a re-run. Presence only:
    // frames produced with different fps/max_size are not detected.
    "skip_if_exists": true,
    "rotate": null     // "cw", "ccw", or "180"
  },

  "reconstruct": {
    "mode": "auto",    // "auto" or "manual" (feature/match/map sub-steps)
    "database": "database.db",
    "single_camera": true,
    "threads": -1,     // -1 keeps the tool default
    "dense": false
    // Optional per sub-step template overrides:
    // "commands": { "features": "{colmap} feature_extractor ..." }
  },

  // Per-backend stage definitions. {args} is replaced by the flattened
  // argument map; unknown placeholders pass through untouched.
  "backends": {
    "opensplat": {
      "train": {
        "template": "{trainer} {undistorted_dir} -o {model_dir} {args}",
        "args": { "n": 30000 }
      },
      "export": {
        "template": "{trainer} {undistorted_dir} -o {model_dir} -n 0 {args}",
        "args": { "output": "{output_file}" }
      }
    },
    "gaussian_splatting": {
      "train": {
        "template": "{trainer} train {args}",
        "args": {
          "source_path": "{undistorted_dir}",
          "model_path": "{model_dir}",
          "iterations": 30000,
          "seed": "{seed}",
          "quiet": true
        }
        // "args_file": "./gs_train_extra.json"
      },
      "export": {
        "template": "{trainer} export {args}",
        "args": {
          "model_path": "{model_dir}",
          "output": "{output_file}"
        }
      }
    },
    "nerfstudio": {
      "prepare": {
        "template": "{trainer} process-data images {args}",
        "args": { "data": "{frames_dir}", "output-dir": "{train_dir}" }
      },
      "train": {
        "template": "{trainer} train splatfacto {args}",
        "args": {
          "data": "{train_dir}",
          "output-dir": "{model_dir}",
          "machine.seed": "{seed}"
        }
      },
      "export": {
        "template": "{trainer} export gaussian-splat {args}",
        "args": { "load-dir": "{model_dir}", "output": "{output_file}" }
      }
    }
  }
}
`

// WriteTemplate writes the starter configuration to path. It refuses to
// overwrite: an existing file at path is an error.
func WriteTemplate(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("refusing to overwrite existing file %s", path)
		}
		return fmt.Errorf("write config template: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(configTemplate); err != nil {
		return fmt.Errorf("write config template: %w", err)
	}
	return nil
}
