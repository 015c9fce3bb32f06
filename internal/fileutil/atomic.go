package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWrite replaces path with data via a synced temp file in the same
// directory and a rename, so readers never observe a partial file. dirPerm
// is used when the parent directory has to be created; zero skips creation.
func AtomicWrite(path string, data []byte, perm, dirPerm os.FileMode) error {
	dir := filepath.Dir(path)
	if dirPerm != 0 {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".warden-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		// Windows refuses to rename over a file that is open elsewhere
		if werr := os.WriteFile(path, data, perm); werr != nil {
			return fmt.Errorf("replace %s: %w", path, err)
		}
	}

	committed = true
	return nil
}
