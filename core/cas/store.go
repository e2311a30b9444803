// Package cas provides a content-addressed blob cache.
// Blobs are addressed by the BLAKE3 hash of the content they were derived
// from and stored xz-compressed, so a rendered preview can be found again from
// the bytes of its source document.
package cas

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"
)

// osRename is a variable to allow testing of rename errors.
var osRename = os.Rename

// tempFileWrite is a function variable for writing to temp files (for testing).
var tempFileWrite = func(f *os.File, data []byte) (int, error) {
	return f.Write(data)
}

// tempFileClose is a function variable for closing temp files (for testing).
var tempFileClose = func(f io.Closer) error {
	return f.Close()
}

// xzNewWriter and xzNewReader can be swapped in tests.
var (
	xzNewWriter = xz.NewWriter
	xzNewReader = xz.NewReader
)

// ErrBlobNotFound is returned when no blob is stored under a key.
var ErrBlobNotFound = errors.New("blob not found")

// ErrInvalidHash is returned when a key is not a BLAKE3 hex string.
var ErrInvalidHash = errors.New("invalid hash format")

// hashPattern matches a lowercase 256-bit hex digest.
var hashPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// Store is a directory of compressed blobs keyed by hash.
type Store struct {
	root string
}

// NewStore creates a store at the given root directory.
// The directory structure will be created if it doesn't exist.
func NewStore(root string) (*Store, error) {
	blobDir := filepath.Join(root, "blobs", "blake3")
	if err := os.MkdirAll(blobDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Put stores data under key, replacing any previous blob atomically.
func (s *Store) Put(key string, data []byte) error {
	if !isValidHash(key) {
		return ErrInvalidHash
	}

	var buf bytes.Buffer
	zw, err := xzNewWriter(&buf)
	if err != nil {
		return fmt.Errorf("failed to create compressor: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		return fmt.Errorf("failed to compress blob: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to compress blob: %w", err)
	}

	blobPath := s.pathForHash(key)
	prefixDir := filepath.Dir(blobPath)
	if err := os.MkdirAll(prefixDir, 0755); err != nil {
		return fmt.Errorf("failed to create prefix directory: %w", err)
	}

	tempFile, err := os.CreateTemp(prefixDir, ".blob-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	if _, err := tempFileWrite(tempFile, buf.Bytes()); err != nil {
		tempFileClose(tempFile)
		os.Remove(tempPath)
		return fmt.Errorf("failed to write blob: %w", err)
	}

	if err := tempFileClose(tempFile); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// Rename to final path (atomic on POSIX)
	if err := osRename(tempPath, blobPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename blob: %w", err)
	}
	return nil
}

// Get returns the blob stored under key.
// Returns ErrBlobNotFound if the blob does not exist.
// Returns ErrInvalidHash if the key format is invalid.
func (s *Store) Get(key string) ([]byte, error) {
	if !isValidHash(key) {
		return nil, ErrInvalidHash
	}

	f, err := os.Open(s.pathForHash(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	defer f.Close()

	zr, err := xzNewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", key, err)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress blob %s: %w", key, err)
	}
	return data, nil
}

// Has reports whether a blob is stored under key.
func (s *Store) Has(key string) bool {
	if !isValidHash(key) {
		return false
	}
	_, err := os.Stat(s.pathForHash(key))
	return err == nil
}

// Delete removes the blob stored under key. Deleting a missing blob is not an
// error.
func (s *Store) Delete(key string) error {
	if !isValidHash(key) {
		return ErrInvalidHash
	}
	if err := os.Remove(s.pathForHash(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// pathForHash returns the file path for a blob with the given hash.
// Blobs are stored at: <root>/blobs/blake3/<first2>/<hash>.xz
func (s *Store) pathForHash(hash string) string {
	return filepath.Join(s.root, "blobs", "blake3", hash[:2], hash+".xz")
}

func isValidHash(hash string) bool {
	return hashPattern.MatchString(hash)
}

// Hash computes the BLAKE3 hash of data.
func Hash(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashParts hashes several values as one key, each part length-prefixed so
// ("ab","c") and ("a","bc") differ.
func HashParts(parts ...[]byte) string {
	h := blake3.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%d:", len(p))
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
