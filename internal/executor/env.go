package executor

import (
	"os"
	"path/filepath"
)

// EnvOverlay builds the environment variables appended to every stage
// subprocess. Text-encoding variables are always pinned so subprocess I/O is
// interpreted the same way across locales. When a CUDA toolkit root is
// configured, CUDA_HOME plus PATH/LD_LIBRARY_PATH prefixes are derived from
// it, and a pre-existing device selection is passed through.
func EnvOverlay(cudaRoot string) []string {
	env := []string{
		"PYTHONIOENCODING=utf-8",
		"PYTHONUTF8=1",
		"LC_ALL=C.UTF-8",
	}

	if cudaRoot != "" {
		env = append(env, "CUDA_HOME="+cudaRoot)
		env = append(env, "PATH="+prefixPathList(filepath.Join(cudaRoot, "bin"), os.Getenv("PATH")))
		env = append(env, "LD_LIBRARY_PATH="+prefixPathList(filepath.Join(cudaRoot, "lib64"), os.Getenv("LD_LIBRARY_PATH")))
	}

	if devices, ok := os.LookupEnv("CUDA_VISIBLE_DEVICES"); ok {
		env = append(env, "CUDA_VISIBLE_DEVICES="+devices)
	}

	return env
}

func prefixPathList(dir, existing string) string {
	if existing == "" {
		return dir
	}
	return dir + string(os.PathListSeparator) + existing
}
