// Package repository resolves document locations against a fixed root
// directory and lists the DOCX files available under it.
package repository

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/FocuswithJustin/docmerge/core/errors"
	"github.com/FocuswithJustin/docmerge/internal/cache"
	"github.com/FocuswithJustin/docmerge/internal/logging"
	"github.com/FocuswithJustin/docmerge/internal/validation"
)

// DefaultListingTTL is how long a directory listing is reused.
const DefaultListingTTL = 30 * time.Second

// Listing maps a directory's base name to the DOCX files directly inside it.
type Listing map[string][]string

// Repository is a read-only view of the document root.
type Repository struct {
	root    string
	locale  language.Tag
	listing *cache.Snapshot[Listing]

	collMu   sync.Mutex
	collator *collate.Collator
}

// Option configures a Repository.
type Option func(*Repository)

// WithListingTTL sets how long List results are cached. Zero disables the
// cache.
func WithListingTTL(ttl time.Duration) Option {
	return func(r *Repository) {
		r.listing = cache.NewSnapshot[Listing](ttl)
	}
}

// WithLocale sets the collation used to sort listed file names.
func WithLocale(tag language.Tag) Option {
	return func(r *Repository) { r.locale = tag }
}

// New returns a repository rooted at root, which must be an existing
// directory.
func New(root string, opts ...Option) (*Repository, error) {
	if root == "" {
		return nil, errors.NewValidation("repository", "root directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.NewIO("resolve", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "repository", ID: root, Err: err}
		}
		return nil, errors.NewIO("stat", abs, err)
	}
	if !info.IsDir() {
		return nil, errors.NewValidation("repository", abs+" is not a directory")
	}

	r := &Repository{
		root:    abs,
		locale:  language.English,
		listing: cache.NewSnapshot[Listing](DefaultListingTTL),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.collator = collate.New(r.locale, collate.Loose, collate.Numeric)
	return r, nil
}

// Root returns the absolute root directory.
func (r *Repository) Root() string { return r.root }

// Resolve maps a client-supplied location to an absolute path inside the
// root. A leading "/" is ignored, so "/a/b.docx" and "a/b.docx" name the same
// file. Locations that are empty, malformed, or escape the root (also via
// symlinks) are rejected with a *errors.ValidationError.
func (r *Repository) Resolve(location string) (string, error) {
	rel := strings.TrimLeft(location, "/")

	clean, err := validation.SanitizePath(r.root, rel)
	if err != nil {
		return "", r.reject(location, err)
	}

	full := filepath.Join(r.root, clean)
	ok, err := validation.ContainedAfterSymlinks(r.root, full)
	if err != nil {
		return "", errors.NewIO("resolve", full, err)
	}
	if !ok {
		return "", r.reject(location, validation.ErrPathTraversal)
	}
	return full, nil
}

func (r *Repository) reject(location string, cause error) error {
	verr := &errors.ValidationError{
		Field:   "location",
		Value:   location,
		Message: cause.Error(),
		Err:     cause,
	}
	switch cause {
	case validation.ErrPathTraversal, validation.ErrAbsolutePath:
		verr.Message = "location escapes the document repository"
		verr.Err = errors.ErrPathTraversal
		logging.SecurityEvent("path_traversal", "repository", "location", location)
	}
	return verr
}

// Exists reports whether path names a regular file (symlinks followed).
func (r *Repository) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// List returns the documents under the root grouped by directory base name.
// Only directories that hold at least one file appear; Word lock files are
// skipped. Directories sharing a base name are combined.
func (r *Repository) List() (Listing, error) {
	listing, err := r.listing.Get(r.walk)
	if err != nil {
		return nil, err
	}
	return listing.clone(), nil
}

// Refresh drops the cached listing.
func (r *Repository) Refresh() {
	r.listing.Invalidate()
}

func (r *Repository) walk() (Listing, error) {
	listing := Listing{}
	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == r.root {
				return err
			}
			logging.Warn("skipping unreadable directory", "path", path, "error", err)
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			logging.Warn("skipping unreadable directory", "path", path, "error", err)
			return fs.SkipDir
		}
		hasFiles := false
		var docs []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			hasFiles = true
			name := e.Name()
			if validation.IsDocxName(name) && !validation.IsWordLockFile(name) {
				docs = append(docs, name)
			}
		}
		if !hasFiles {
			return nil
		}
		category := filepath.Base(path)
		if docs == nil && listing[category] == nil {
			docs = []string{}
		}
		listing[category] = append(listing[category], docs...)
		return nil
	})
	if err != nil {
		return nil, errors.NewIO("list", r.root, err)
	}

	r.collMu.Lock()
	for _, docs := range listing {
		r.collator.SortStrings(docs)
	}
	r.collMu.Unlock()
	return listing, nil
}

func (l Listing) clone() Listing {
	out := make(Listing, len(l))
	for k, v := range l {
		out[k] = append([]string{}, v...)
	}
	return out
}
