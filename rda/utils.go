package rda

import (
	"os"
	"path/filepath"
	"strings"
)

// ConvertToAbsolute returns path made absolute relative to dir.  A leading "~" is
// expanded to the user's home directory.
func ConvertToAbsolute(path, dir string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[2:])
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	return filepath.Abs(filepath.Join(dir, path))
}

// TempFile creates an empty temporary file and returns its name along with a
// cleanup function that removes it.  The cleanup function is safe to call more
// than once.
func TempFile(dir, pattern string) (*os.File, func(), error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, func() {}, err
	}
	name := f.Name()
	cleanup := func() {
		f.Close()
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			Warningf("Unable to remove temp file %s: %v\n", name, err)
		}
	}
	return f, cleanup, nil
}
