// Package discovery selects the source image folder and enumerates the images in it.
package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoSourceFound is returned when none of the candidate folders exists.
var ErrNoSourceFound = errors.New("no source folder found")

// Mode describes which dataset a build runs against.
type Mode string

const (
	// ModeFull means the first (full dataset) candidate was selected.
	ModeFull Mode = "full"
	// ModeDemo means a fallback candidate was selected.
	ModeDemo Mode = "demo"
)

// Selection is the chosen source folder and the mode it implies.
type Selection struct {
	Folder string
	Mode   Mode
}

// SelectSourceFolder returns the first candidate that exists and is a directory.
// Candidates are in priority order, so the full dataset wins whenever it is present.
func SelectSourceFolder(candidates []string) (*Selection, error) {
	for i, c := range candidates {
		if c == "" {
			continue
		}
		info, err := os.Stat(c)
		if err != nil || !info.IsDir() {
			continue
		}
		mode := ModeDemo
		if i == 0 {
			mode = ModeFull
		}
		return &Selection{Folder: c, Mode: mode}, nil
	}
	return nil, fmt.Errorf("%w (looked for %s)", ErrNoSourceFound, strings.Join(candidates, ", "))
}

// EnumerateImages lists the regular files directly inside folder whose names end with one of
// extensions (exact, case-sensitive), joined with folder and sorted. Hidden files are ignored,
// matching shell glob semantics. An empty result is not an
// error; the caller decides how to report it.
func EnumerateImages(folder string, extensions []string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("read source folder: %w", err)
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !hasExtension(e.Name(), extensions) {
			continue
		}
		paths = append(paths, filepath.Join(folder, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func hasExtension(name string, extensions []string) bool {
	for _, ext := range extensions {
		if ext != "" && strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
