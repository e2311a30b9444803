// Package validation checks user-supplied document locations and file
// contents before they reach the filesystem or the DOCX reader.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// Limits applied to user input (CWE-400).
const (
	// MaxPathLength is the maximum allowed location length.
	MaxPathLength = 4096
	// MaxFilenameLength is the maximum allowed filename length.
	MaxFilenameLength = 255
)

// Common validation errors.
var (
	ErrPathTraversal    = errors.New("path traversal detected")
	ErrInvalidFilename  = errors.New("invalid filename")
	ErrPathTooLong      = errors.New("path too long")
	ErrFilenameTooLong  = errors.New("filename too long")
	ErrInvalidCharacter = errors.New("invalid character in path")
	ErrEmptyPath        = errors.New("path cannot be empty")
	ErrAbsolutePath     = errors.New("absolute path not allowed")
)

// zipMagic starts every OOXML package.
var zipMagic = []byte{0x50, 0x4b, 0x03, 0x04}

// ValidatePath checks length and characters of a location without touching
// the filesystem.
func ValidatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if len(path) > MaxPathLength {
		return ErrPathTooLong
	}
	if strings.Contains(path, "\x00") {
		return fmt.Errorf("%w: null byte not allowed", ErrInvalidCharacter)
	}
	for _, r := range path {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidCharacter)
		}
	}
	return nil
}

// SanitizePath validates userPath and returns it cleaned and relative to
// baseDir. Any path that would leave baseDir after cleaning is rejected with
// ErrPathTraversal.
func SanitizePath(baseDir, userPath string) (string, error) {
	if err := ValidatePath(userPath); err != nil {
		return "", err
	}

	if filepath.IsAbs(userPath) || filepath.VolumeName(userPath) != "" {
		return "", ErrAbsolutePath
	}

	cleanPath := filepath.Clean(userPath)
	if cleanPath == "." {
		return "", ErrEmptyPath
	}
	if hasParentComponent(cleanPath) {
		return "", ErrPathTraversal
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(absBase, cleanPath))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if !Within(absBase, absPath) {
		return "", ErrPathTraversal
	}
	return cleanPath, nil
}

// ContainedAfterSymlinks reports whether target, once symlinks are resolved,
// still lies within baseDir. A target that does not exist yet is judged by
// its nearest existing parent.
func ContainedAfterSymlinks(baseDir, target string) (bool, error) {
	realBase, err := filepath.EvalSymlinks(baseDir)
	if err != nil {
		return false, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	cur := target
	for {
		real, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return Within(realBase, real), nil
		}
		if !os.IsNotExist(err) {
			return false, err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return false, nil
		}
		cur = parent
	}
}

// Within reports whether path equals base or lies below it. Both must be
// absolute and clean.
func Within(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || !hasParentComponent(rel)
}

func hasParentComponent(p string) bool {
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

// ValidateFilename checks a single name, such as a download filename.
func ValidateFilename(filename string) error {
	if filename == "" {
		return ErrInvalidFilename
	}
	if len(filename) > MaxFilenameLength {
		return ErrFilenameTooLong
	}
	if filename == "." || filename == ".." {
		return fmt.Errorf("%w: reserved name", ErrInvalidFilename)
	}
	if strings.ContainsAny(filename, "/\\") {
		return fmt.Errorf("%w: path separator not allowed", ErrInvalidFilename)
	}
	for _, r := range filename {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidFilename)
		}
	}
	if strings.HasPrefix(filename, "-") {
		return fmt.Errorf("%w: filename cannot start with hyphen", ErrInvalidFilename)
	}
	return nil
}

// IsWordLockFile reports whether name is an owner file Word leaves next to an
// open document.
func IsWordLockFile(name string) bool {
	return strings.HasPrefix(name, "~$")
}

// IsDocxName reports whether name has a .docx extension (any case).
func IsDocxName(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".docx")
}

// LooksLikeZip reports whether r starts with a ZIP local file header.
func LooksLikeZip(r io.Reader) (bool, error) {
	buf := make([]byte, len(zipMagic))
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false, fmt.Errorf("failed to read file header: %w", err)
	}
	return n == len(zipMagic) && bytes.Equal(buf, zipMagic), nil
}
