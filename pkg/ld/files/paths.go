package files

import (
	"os"
	"path/filepath"

	"github.com/rapld/rapld/pkg/ld"
)

// CheckFile reports whether path exists and is a regular file.
func CheckFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// FindFile resolves name across the search paths in order; the first hit
// wins. A name that is already a path to an existing file resolves to
// itself.
func FindFile(name string, searchPaths []string) (string, error) {
	if CheckFile(name) {
		return name, nil
	}
	for _, dir := range searchPaths {
		candidate := filepath.Join(dir, name)
		if CheckFile(candidate) {
			return candidate, nil
		}
	}
	return "", ld.MakeError(ld.ErrFileNotFound, "files", "%s", name)
}

// FindLibraries resolves short library names ("foo" becomes "libfoo.a")
// across the search paths in order.
func FindLibraries(libraries []string, searchPaths []string) ([]string, error) {
	found := make([]string, 0, len(libraries))
	for _, lib := range libraries {
		path, err := FindFile("lib"+lib+".a", searchPaths)
		if err != nil {
			return nil, ld.MakeError(ld.ErrFileNotFound, "files", "library -l%s", lib)
		}
		found = append(found, path)
	}
	return found, nil
}
