// Package storage persists encoded images under the application-private data
// directory and resolves the written files into public URIs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/pixkeep/internal/debug"
	"github.com/cjeanneret/pixkeep/internal/failure"
	"github.com/cjeanneret/pixkeep/internal/normalize"
)

const stepStore = "store"

// maxNameAttempts bounds how many successive timestamps Write tries when the
// target name already exists.
const maxNameAttempts = 1000

// Scope identifies the directory a record was written to.
type Scope int

const (
	// ScopeAppPrivateData is the durable, application-private directory.
	ScopeAppPrivateData Scope = iota
)

func (s Scope) String() string {
	if s == ScopeAppPrivateData {
		return "DATA"
	}
	return "UNKNOWN"
}

// MarshalText renders the scope by name in JSON.
func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Record describes a file that was completely written.
type Record struct {
	FileName string `json:"file_name"`
	Scope    Scope  `json:"scope"`
	Locator  string `json:"locator"` // file:// URL of the written file
	Size     int64  `json:"size"`
}

// Store writes payloads into a single directory.
type Store struct {
	dir string
	ext string
	now func() time.Time

	mu   sync.Mutex
	last int64 // last millisecond handed out by nextName
}

// NewStore creates the data directory if needed. ext is the fixed extension
// of every written file, e.g. "jpeg".
func NewStore(dir, ext string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{
		dir: abs,
		ext: strings.TrimPrefix(ext, "."),
		now: time.Now,
	}, nil
}

// Dir returns the absolute data directory.
func (s *Store) Dir() string {
	return s.dir
}

// Write decodes encoded (a data URL or bare base64) and stores the bytes as
// <unix-millis>.<ext>. The bytes go to a hidden temp file first and are
// linked into place only after a successful sync; no record is returned and
// no file is left behind unless every step succeeded.
func (s *Store) Write(ctx context.Context, encoded string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, failure.New(failure.WriteFailure, stepStore, err)
	}

	data, err := normalize.DecodePayload(encoded)
	if err != nil {
		return Record{}, failure.New(failure.WriteFailure, stepStore, err)
	}
	if len(data) == 0 {
		return Record{}, failure.Newf(failure.WriteFailure, stepStore, "refusing to write an empty payload")
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return Record{}, failure.New(failure.WriteFailure, stepStore, err)
	}

	tmp, err := s.writeTemp(data)
	if err != nil {
		return Record{}, failure.New(failure.WriteFailure, stepStore, err)
	}
	defer os.Remove(tmp)

	name, err := s.place(tmp)
	if err != nil {
		return Record{}, failure.New(failure.WriteFailure, stepStore, err)
	}
	if err := syncDir(s.dir); err != nil {
		debug.Warn("Store: %s written but not synced: %v", name, err)
	}

	final := filepath.Join(s.dir, name)
	rec := Record{
		FileName: name,
		Scope:    ScopeAppPrivateData,
		Locator:  FileLocator(final),
		Size:     int64(len(data)),
	}
	debug.Verbose("The uri is %s (%d bytes)", rec.Locator, rec.Size)
	return rec, nil
}

func (s *Store) writeTemp(data []byte) (string, error) {
	tmp := filepath.Join(s.dir, "."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tmp, nil
}

// place moves tmp to a fresh timestamp name without overwriting anything.
func (s *Store) place(tmp string) (string, error) {
	for range maxNameAttempts {
		name := s.nextName()
		final := filepath.Join(s.dir, name)

		err := os.Link(tmp, final)
		if err == nil {
			return name, nil
		}
		if errors.Is(err, fs.ErrExist) {
			debug.Verbose("Name %s already taken, trying the next millisecond", name)
			continue
		}

		// Filesystems without hard links: rename, but only onto a free name.
		if _, statErr := os.Lstat(final); statErr == nil {
			continue
		} else if !errors.Is(statErr, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", final, statErr)
		}
		if err := os.Rename(tmp, final); err != nil {
			return "", fmt.Errorf("move into place: %w", err)
		}
		return name, nil
	}
	return "", fmt.Errorf("no free file name after %d attempts", maxNameAttempts)
}

// nextName returns "<millis>.<ext>", strictly increasing for this store.
func (s *Store) nextName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.now().UnixMilli()
	if ms <= s.last {
		ms = s.last + 1
	}
	s.last = ms
	return fmt.Sprintf("%d.%s", ms, s.ext)
}

// FileLocator returns the file:// locator of an absolute path.
func FileLocator(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// syncDir flushes the directory entry of a freshly linked file.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// Open opens a previously written file by name.
func (s *Store) Open(name string) (*os.File, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("%w: %q", ErrNotServable, name)
	}
	return os.Open(filepath.Join(s.dir, name))
}

// Read returns the bytes of a previously written file.
func (s *Store) Read(name string) ([]byte, error) {
	f, err := s.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
