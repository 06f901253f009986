package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

func GetPathInfo(relPath string) (fullPath string, parentDir string, err error) {
	// Convert to absolute path (resolves ../../ and cleans the path)
	fullPath, err = filepath.Abs(relPath)
	if err != nil {
		return "", "", err
	}

	// Get the directory containing the file
	parentDir = filepath.Dir(fullPath)

	return fullPath, parentDir, nil
}

// SourceFiles resolves path to the source files it names. A file is returned
// as is; a directory yields its direct children with extension ext in any
// letter case, sorted by name.
func SourceFiles(path, ext string) (files []string, isDir bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false, err
	}
	if !info.IsDir() {
		return []string{path}, false, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, true, err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	if len(files) == 0 {
		return nil, true, fmt.Errorf("no %s files in %s", ext, path)
	}
	sort.Strings(files)
	return files, true, nil
}

// UnitName is the file name without directory and extension.
func UnitName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// OutputPath derives the output file for input. A file keeps its name with
// the extension replaced; a directory produces dir/<dirname><ext>.
func OutputPath(input string, isDir bool, ext string) string {
	if isDir {
		clean := filepath.Clean(input)
		if abs, err := filepath.Abs(clean); err == nil {
			clean = abs
		}
		return filepath.Join(clean, filepath.Base(clean)+ext)
	}
	old := filepath.Ext(input)
	if old == "" {
		return input + ext
	}
	return strings.TrimSuffix(input, old) + ext
}

// WriteFileAtomic writes data to a temporary file in the target directory
// and renames it over path, so readers never see a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), perm); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
