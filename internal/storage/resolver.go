package storage

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/cjeanneret/pixkeep/internal/failure"
)

const stepResolve = "resolve"

// FilePrefix is the path segment under which persisted files are served.
const FilePrefix = "/_pixkeep_file_"

// ErrNotServable is returned by Locate for paths outside the data directory.
var ErrNotServable = errors.New("path is not a servable file")

// DisplayReference is a URI a display surface can load.
type DisplayReference struct {
	PublicURI string `json:"public_uri"`
}

// Resolver maps locators inside root to URIs under publicBase.
type Resolver struct {
	base string
	root string
}

// NewResolver creates a resolver. root is the data directory whose files
// may be exposed; publicBase is the origin of the web surface.
func NewResolver(publicBase, root string) *Resolver {
	return &Resolver{
		base: strings.TrimRight(publicBase, "/"),
		root: filepath.Clean(root),
	}
}

// Resolve converts a file:// locator into a public URI. It only inspects
// the locator string.
func (r *Resolver) Resolve(locator string) (DisplayReference, error) {
	if strings.TrimSpace(locator) == "" {
		return DisplayReference{}, failure.Newf(failure.InvalidLocator, stepResolve, "empty locator")
	}
	u, err := url.Parse(locator)
	if err != nil {
		return DisplayReference{}, failure.New(failure.InvalidLocator, stepResolve, err)
	}
	if u.Scheme != "file" {
		return DisplayReference{}, failure.Newf(failure.InvalidLocator, stepResolve, "unsupported scheme %q", u.Scheme)
	}
	if u.Host != "" && u.Host != "localhost" {
		return DisplayReference{}, failure.Newf(failure.InvalidLocator, stepResolve, "unexpected host %q", u.Host)
	}
	if !path.IsAbs(u.Path) || path.Clean(u.Path) != u.Path {
		return DisplayReference{}, failure.Newf(failure.InvalidLocator, stepResolve, "path %q is not absolute and clean", u.Path)
	}
	if !r.inside(filepath.FromSlash(u.Path)) {
		return DisplayReference{}, failure.Newf(failure.InvalidLocator, stepResolve, "%s is outside %s", u.Path, r.root)
	}

	public := r.base + (&url.URL{Path: FilePrefix + u.Path}).EscapedPath()
	return DisplayReference{PublicURI: public}, nil
}

// Locate maps a request path under FilePrefix back to a file in root.
// Hidden files (in-flight temp files) are never servable.
func (r *Resolver) Locate(requestPath string) (string, error) {
	rest, ok := strings.CutPrefix(requestPath, FilePrefix)
	if !ok || rest == "" {
		return "", fmt.Errorf("%w: %s", ErrNotServable, requestPath)
	}
	clean := filepath.FromSlash(path.Clean(rest))
	if !r.inside(clean) || strings.HasPrefix(filepath.Base(clean), ".") {
		return "", fmt.Errorf("%w: %s", ErrNotServable, requestPath)
	}
	return clean, nil
}

// inside reports whether p is a strict descendant of root.
func (r *Resolver) inside(p string) bool {
	rel, err := filepath.Rel(r.root, p)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
