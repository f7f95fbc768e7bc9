// Package fileid derives stable image IDs used to key per-image run outcomes.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const (
	prefix  = "img:"
	hexSize = 16
)

// ImageID returns a short stable ID for an image path. Relative paths are resolved against
// the working directory first, so a/b.jpg and ./a/b.jpg get the same ID.
func ImageID(path string) string {
	return prefix + hashPath(canonical(path))
}

func canonical(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func hashPath(p string) string {
	sum := sha256.Sum256([]byte(filepath.ToSlash(p)))
	return hex.EncodeToString(sum[:])[:hexSize]
}
