package camera

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cjeanneret/pixkeep/internal/debug"
	"github.com/google/uuid"
)

// Command captures by running an external program such as libcamera-still or
// fswebcam. Every "{path}" in the argument list is replaced by the output file.
type Command struct {
	argv    []string
	tempDir string
	ext     string
}

// NewCommand creates a command camera. ext is the extension of the files the
// program writes ("jpg" when empty).
func NewCommand(argv []string, tempDir, ext string) *Command {
	if ext == "" {
		ext = "jpg"
	}
	return &Command{argv: argv, tempDir: tempDir, ext: strings.TrimPrefix(ext, ".")}
}

// Capture runs the program once. A program that exits cleanly without
// writing the file yields a Photo with an empty Path.
func (c *Command) Capture(ctx context.Context) (Photo, error) {
	if len(c.argv) == 0 {
		return Photo{}, fmt.Errorf("camera command is empty")
	}
	if err := os.MkdirAll(c.tempDir, 0o755); err != nil {
		return Photo{}, wrapPermission(fmt.Errorf("create temp dir: %w", err))
	}

	out := filepath.Join(c.tempDir, fmt.Sprintf("capture-%s.%s", uuid.NewString(), c.ext))
	args := make([]string, len(c.argv))
	for i, a := range c.argv {
		args[i] = strings.ReplaceAll(a, "{path}", out)
	}

	debug.Verbose("Camera: running %q", strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(out)
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return Photo{}, wrapPermission(fmt.Errorf("capture command %s: %w: %s", args[0], err, msg))
		}
		return Photo{}, wrapPermission(fmt.Errorf("capture command %s: %w", args[0], err))
	}

	if fi, err := os.Stat(out); err != nil || fi.IsDir() {
		debug.Warn("Camera: %s exited cleanly but wrote no file", args[0])
		return Photo{}, nil
	}
	return newPhoto(out), nil
}
