// Package index persists the feature matrix and path array that make up an image index.
package index

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrEmptyResult is returned when there is nothing to write.
var ErrEmptyResult = errors.New("no features were extracted")

// Summary describes a written index.
type Summary struct {
	Rows         int
	Dims         int
	FeaturesPath string
	PathsPath    string
	// Bytes is the combined size of both files on disk.
	Bytes int64
}

// Writer writes the two index arrays. Row i of the feature matrix belongs to path i.
type Writer struct {
	FeaturesPath string
	PathsPath    string
}

// NewWriter returns a writer for the given output files.
func NewWriter(featuresPath, pathsPath string) *Writer {
	return &Writer{FeaturesPath: featuresPath, PathsPath: pathsPath}
}

// Write validates the arrays and replaces both output files. Nothing is written unless
// both arrays were encoded successfully, and a failed replace leaves the previous index.
func (w *Writer) Write(features [][]float32, paths []string) (*Summary, error) {
	if len(features) == 0 {
		return nil, ErrEmptyResult
	}
	if len(features) != len(paths) {
		return nil, fmt.Errorf("features and paths length mismatch: %d != %d", len(features), len(paths))
	}
	dims := len(features[0])
	if dims == 0 {
		return nil, fmt.Errorf("feature vectors are empty")
	}
	for i, row := range features {
		if len(row) != dims {
			return nil, fmt.Errorf("row %d (%s) has %d dimensions, expected %d", i, paths[i], len(row), dims)
		}
	}

	featTmp, err := writeTemp(w.FeaturesPath, func(f io.Writer) error {
		return encodeFeatures(f, features, dims)
	})
	if err != nil {
		return nil, fmt.Errorf("write features: %w", err)
	}
	pathTmp, err := writeTemp(w.PathsPath, func(f io.Writer) error {
		return encodePaths(f, paths)
	})
	if err != nil {
		os.Remove(featTmp)
		return nil, fmt.Errorf("write paths: %w", err)
	}
	if err := w.replace(featTmp, pathTmp); err != nil {
		return nil, err
	}
	sum := &Summary{Rows: len(features), Dims: dims, FeaturesPath: w.FeaturesPath, PathsPath: w.PathsPath}
	if n, err := Size(w.FeaturesPath, w.PathsPath); err == nil {
		sum.Bytes = n
	}
	return sum, nil
}

// replace moves both temp files into place. A previous index is moved aside first and put back
// if either rename fails, so the two outputs are always from the same Write.
func (w *Writer) replace(featTmp, pathTmp string) error {
	featBak, err := backup(w.FeaturesPath)
	if err != nil {
		os.Remove(featTmp)
		os.Remove(pathTmp)
		return fmt.Errorf("back up features file: %w", err)
	}
	if err := os.Rename(featTmp, w.FeaturesPath); err != nil {
		os.Remove(featTmp)
		os.Remove(pathTmp)
		if featBak != "" {
			os.Rename(featBak, w.FeaturesPath)
		}
		return fmt.Errorf("replace features file: %w", err)
	}
	pathBak, err := backup(w.PathsPath)
	if err != nil {
		os.Remove(pathTmp)
		restore(w.FeaturesPath, featBak)
		return fmt.Errorf("back up paths file: %w", err)
	}
	if err := os.Rename(pathTmp, w.PathsPath); err != nil {
		os.Remove(pathTmp)
		if pathBak != "" {
			os.Rename(pathBak, w.PathsPath)
		}
		restore(w.FeaturesPath, featBak)
		return fmt.Errorf("replace paths file: %w", err)
	}
	for _, bak := range []string{featBak, pathBak} {
		if bak != "" {
			os.Remove(bak)
		}
	}
	return nil
}

// backup renames an existing regular file at dest out of the way and returns its new name.
// It returns "" when there is no regular file to keep.
func backup(dest string) (string, error) {
	info, err := os.Lstat(dest)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", nil
	}
	bak := filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+".bak")
	if err := os.Rename(dest, bak); err != nil {
		return "", err
	}
	return bak, nil
}

// restore undoes a completed rename onto dest.
func restore(dest, bak string) {
	if bak == "" {
		os.Remove(dest)
		return
	}
	os.Rename(bak, dest)
}

// Size returns the combined size of the index files. Missing files count as zero.
func Size(featuresPath, pathsPath string) (int64, error) {
	var total int64
	for _, p := range []string{featuresPath, pathsPath} {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

// writeTemp encodes into a temporary file next to dest and returns its name.
func writeTemp(dest string, encode func(io.Writer) error) (string, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	if err := encode(f); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// ReadFeatures loads a feature matrix written by Write.
func ReadFeatures(path string) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open features: %w", err)
	}
	defer f.Close()
	return decodeFeatures(f)
}

// ReadPaths loads a path array written by Write.
func ReadPaths(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open paths: %w", err)
	}
	defer f.Close()
	return decodePaths(f)
}
