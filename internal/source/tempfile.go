package source

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/cjeanneret/pixkeep/internal/debug"
	"github.com/cjeanneret/pixkeep/internal/failure"
)

const stepRead = "read"

// TempReader reads a temporary capture back into memory.
type TempReader struct{}

// ReadFile returns the base64 encoding of the file at path. A missing file,
// a directory, an I/O error or an empty file is a ReadFailure.
func (TempReader) ReadFile(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", failure.New(failure.ReadFailure, stepRead, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", failure.New(failure.ReadFailure, stepRead, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", failure.New(failure.ReadFailure, stepRead, err)
	}
	if fi.IsDir() {
		return "", failure.Newf(failure.ReadFailure, stepRead, "%s is a directory", path)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return "", failure.New(failure.ReadFailure, stepRead, fmt.Errorf("read %s: %w", path, err))
	}
	if len(data) == 0 {
		return "", failure.Newf(failure.ReadFailure, stepRead, "%s is empty", path)
	}

	debug.Verbose("Read %d bytes from %s", len(data), path)
	return base64.StdEncoding.EncodeToString(data), nil
}
