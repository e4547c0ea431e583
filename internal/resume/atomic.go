package resume

import (
	"os"
	"path/filepath"
)

// writeFileAtomic writes data to a file atomically via a temp file plus
// rename, preventing corruption from crashes mid-write (spec §5: "the
// state file is rewritten atomically-by-overwrite before the next step
// begins").
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
