package jailhouse

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"poudctl/pkg/jailspec"
)

// ensureFile converges a single file. Content is written only when it
// differs from what is on disk.
func ensureFile(op Operation) (bool, error) {
	if op.Ensure == jailspec.StateAbsent {
		return removePath(op.Path, false)
	}

	want := op.Content
	if op.Source != "" {
		data, err := os.ReadFile(op.Source)
		if err != nil {
			return false, fmt.Errorf("read source: %w", err)
		}
		want = data
	}
	return writeIfChanged(op.Path, want, op.Mode)
}

// ensureDirectory mirrors op.Source into op.Path. Files in the target
// that the source does not have are removed when Purge is set.
func ensureDirectory(op Operation) (bool, error) {
	if op.Ensure == jailspec.StateAbsent {
		return removePath(op.Path, true)
	}

	changed := false
	if _, err := os.Stat(op.Path); errors.Is(err, fs.ErrNotExist) {
		changed = true
	}
	if err := os.MkdirAll(op.Path, dirMode(op.Mode)); err != nil {
		return false, fmt.Errorf("create directory: %w", err)
	}

	wanted := map[string]bool{}
	err := filepath.WalkDir(op.Source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(op.Source, path)
		if err != nil || rel == "." {
			return err
		}
		if !op.Recurse && d.IsDir() {
			return filepath.SkipDir
		}
		// symlinks are not mirrored
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		wanted[rel] = true
		target := filepath.Join(op.Path, rel)

		if d.IsDir() {
			if info, err := os.Stat(target); err == nil && info.IsDir() {
				return nil
			}
			// a file standing where a directory belongs is replaced
			if err := os.RemoveAll(target); err != nil {
				return err
			}
			changed = true
			return os.MkdirAll(target, dirMode(op.Mode))
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if st, err := os.Stat(target); err == nil && st.IsDir() {
			if err := os.RemoveAll(target); err != nil {
				return err
			}
		}
		wrote, err := writeIfChanged(target, data, info.Mode().Perm())
		changed = changed || wrote
		return err
	})
	if err != nil {
		return changed, fmt.Errorf("mirror %s: %w", op.Source, err)
	}

	if op.Purge {
		purged, err := purgeExtraneous(op.Path, wanted)
		changed = changed || purged
		if err != nil {
			return changed, fmt.Errorf("purge %s: %w", op.Path, err)
		}
	}
	return changed, nil
}

func purgeExtraneous(root string, wanted map[string]bool) (bool, error) {
	var extra []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return err
		}
		if !wanted[rel] {
			extra = append(extra, path)
			if d.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	for _, path := range extra {
		if err := os.RemoveAll(path); err != nil {
			return true, err
		}
	}
	return len(extra) > 0, nil
}

// writeIfChanged writes data atomically when the file is missing or
// differs, and fixes the mode of an otherwise identical file.
func writeIfChanged(path string, data []byte, mode os.FileMode) (bool, error) {
	if mode == 0 {
		mode = 0o644
	}
	current, err := os.ReadFile(path)
	if err == nil && bytes.Equal(current, data) {
		info, err := os.Stat(path)
		if err != nil {
			return false, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.Mode().Perm() == mode.Perm() {
			return false, nil
		}
		if err := os.Chmod(path, mode); err != nil {
			return false, fmt.Errorf("chmod %s: %w", path, err)
		}
		return true, nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("read %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create parent of %s: %w", path, err)
	}
	if err := writeAtomic(path, data, mode); err != nil {
		return false, err
	}
	return true, nil
}

// writeAtomic writes to a temp file next to path, then renames it.
func writeAtomic(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func removePath(path string, recursive bool) (bool, error) {
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	var err error
	if recursive {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", path, err)
	}
	return true, nil
}

func dirMode(mode os.FileMode) os.FileMode {
	if mode == 0 {
		return 0o755
	}
	return mode
}
