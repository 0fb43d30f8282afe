// Package fsmove implements the single-writer scratch -> results artifact
// move. Each execution's directories are derived deterministically from its
// output fragment and never collide, so the scratch side is safe to delete
// after a successful copy.
package fsmove

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Move copies every regular file under scratchDir into resultsDir,
// preserving relative paths, then removes scratchDir. It returns the list of
// result-relative paths written, for the caller to record as execution
// artifacts.
func Move(scratchDir, resultsDir string) ([]string, error) {
	if _, err := os.Stat(scratchDir); os.IsNotExist(err) {
		return nil, nil
	}

	var written []string

	err := filepath.Walk(scratchDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(scratchDir, path)
		if err != nil {
			return fmt.Errorf("fsmove: resolving relative path for %s: %w", path, err)
		}

		dst := filepath.Join(resultsDir, rel)
		if err := copyFile(path, dst); err != nil {
			return fmt.Errorf("fsmove: copying %s: %w", rel, err)
		}

		written = append(written, rel)

		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := os.RemoveAll(scratchDir); err != nil {
		return nil, fmt.Errorf("fsmove: removing scratch directory %s: %w", scratchDir, err)
	}

	return written, nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src) //nolint:gosec // src is walked from a caller-controlled scratch directory
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst) //nolint:gosec // dst is derived from the same walk
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}

	return out.Close()
}
