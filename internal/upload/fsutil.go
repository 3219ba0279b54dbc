package upload

import (
	"os"
	"path/filepath"
)

func parentDir(path string) string {
	return filepath.Dir(path)
}

// checkReadable opens and immediately closes path, a best-effort check
// that it's currently readable before committing it to a zip stream. This
// is inherently racy (the file could become unreadable moments later) but
// catches the common case of an attachment deleted or permission-denied
// before the upload ever starts.
func checkReadable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}
