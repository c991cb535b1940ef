package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cjeanneret/pixkeep/internal/config"
	"github.com/cjeanneret/pixkeep/internal/hw/camera"
	"github.com/cjeanneret/pixkeep/internal/pipeline"
	"github.com/cjeanneret/pixkeep/internal/source"
	"github.com/cjeanneret/pixkeep/internal/storage"
)

// writeTestConfig creates <tmp>/configs/test.yaml pointing every directory
// into the test's temp dirs and returns its path and the data directory.
func writeTestConfig(t *testing.T, cameraType string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	dataDir := filepath.Join(dir, "data")
	yaml := "camera:\n" +
		"  type: " + cameraType + "\n" +
		"  temp_dir: " + filepath.Join(dir, "tmp") + "\n" +
		"  width: 16\n" +
		"  height: 16\n" +
		"storage:\n" +
		"  data_dir: " + dataDir + "\n" +
		"web:\n" +
		"  public_base: http://pk\n" +
		"defaults:\n" +
		"  debug_level: 0\n"
	path := filepath.Join(cfgDir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, dataDir
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// ---------- commands ----------

func TestCaptureCommand_PrintsPublicURI(t *testing.T) {
	cfgPath, dataDir := writeTestConfig(t, "mock")

	stdout, _, err := execute(t, "capture", "--config", cfgPath)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	uri := strings.TrimSpace(stdout)
	if !strings.HasPrefix(uri, "http://pk"+storage.FilePrefix+dataDir+"/") || !strings.HasSuffix(uri, ".jpeg") {
		t.Errorf("uri = %q", uri)
	}
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("data dir has %d entries, want 1", len(entries))
	}
}

func TestFetchCommand_PersistsBody(t *testing.T) {
	payload := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0xFF, 0xD9}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(payload)
	}))
	defer srv.Close()
	cfgPath, dataDir := writeTestConfig(t, "mock")

	stdout, _, err := execute(t, "fetch", srv.URL+"/car.jpg", "--config", cfgPath)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	name := filepath.Base(strings.TrimSpace(stdout))
	data, err := os.ReadFile(filepath.Join(dataDir, name))
	if err != nil {
		t.Fatalf("read persisted file: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("persisted %x, want %x", data, payload)
	}
}

func TestFetchCommand_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	cfgPath, dataDir := writeTestConfig(t, "mock")

	stdout, stderr, err := execute(t, "fetch", srv.URL, "--config", cfgPath)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if err.Error() != "There was an error in fetch-and-persist" {
		t.Errorf("error = %q", err)
	}
	if !strings.Contains(stderr, "There was an error in fetch-and-persist") {
		t.Errorf("stderr = %q", stderr)
	}
	if stdout != "" {
		t.Errorf("stdout = %q, want empty", stdout)
	}
	entries, _ := os.ReadDir(dataDir)
	if len(entries) != 0 {
		t.Errorf("data dir has %d entries after a failed fetch", len(entries))
	}
}

func TestFetchCommand_TooManyArgs(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, "mock")
	if _, _, err := execute(t, "fetch", "a", "b", "--config", cfgPath); err == nil {
		t.Error("expected error for two URLs")
	}
}

func TestCommand_BadConfigPath(t *testing.T) {
	if _, _, err := execute(t, "capture", "--config", "/tmp/elsewhere.yaml"); err == nil {
		t.Error("expected error for config outside configs/")
	}
}

// ---------- newCameraFromConfig ----------

func TestNewCameraFromConfig(t *testing.T) {
	spool := t.TempDir()
	cases := []struct {
		name string
		cam  config.CameraConfig
	}{
		{"mock", config.CameraConfig{Type: config.CameraMock, TempDir: t.TempDir(), Width: 8, Height: 8}},
		{"command", config.CameraConfig{Type: config.CameraCommand, TempDir: t.TempDir(), Command: []string{"true", "{path}"}}},
		{"nikon_mock_gpio", config.CameraConfig{Type: config.CameraNikonD90GPIO, SpoolDir: spool, FocusPin: 24, ShutterPin: 25, MockGPIO: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cam, closeCam, err := newCameraFromConfig(&config.Config{Camera: tc.cam})
			if err != nil {
				t.Fatalf("newCameraFromConfig: %v", err)
			}
			if cam == nil {
				t.Fatal("camera is nil")
			}
			if err := closeCam(); err != nil {
				t.Errorf("close: %v", err)
			}
		})
	}
}

func TestNewCameraFromConfig_Unsupported(t *testing.T) {
	if _, _, err := newCameraFromConfig(&config.Config{Camera: config.CameraConfig{Type: "polaroid"}}); err == nil {
		t.Error("expected error for unsupported camera type")
	}
}

func TestUnavailableCamera_SurfacesPermission(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, "mock")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	a, err := newApp(cfg, true, pipeline.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer a.close()
	a.pipeline, _ = pipeline.New(pipeline.Deps{
		Camera:   sourceFor(unavailableCamera{err: camera.ErrPermission}),
		Fetcher:  nopFetcher{},
		Store:    a.store,
		Resolver: a.resolver,
	}, pipeline.Options{})

	out := a.pipeline.CaptureAndPersist(context.Background())
	if out.Resolved() {
		t.Fatal("capture should fail")
	}
	if got := out.Kind.String(); got != "PermissionDenied" {
		t.Errorf("kind = %s, want PermissionDenied", got)
	}
}

// ---------- printOutcome ----------

func TestPrintOutcome(t *testing.T) {
	var buf bytes.Buffer
	err := printOutcome(&buf, pipeline.Outcome{
		State:   pipeline.StateResolved,
		Display: storage.DisplayReference{PublicURI: "http://pk/_pixkeep_file_/d/1.jpeg"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if buf.String() != "http://pk/_pixkeep_file_/d/1.jpeg\n" {
		t.Errorf("output = %q", buf.String())
	}

	buf.Reset()
	err = printOutcome(&buf, pipeline.Outcome{State: pipeline.StateFailed, Message: "There was an error in capture-and-persist"})
	if err == nil || err.Error() != "There was an error in capture-and-persist" {
		t.Errorf("err = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("failed outcome printed %q", buf.String())
	}
}

type nopFetcher struct{}

func (nopFetcher) Fetch(context.Context, string) (*source.Blob, error) { return nil, nil }

func sourceFor(c camera.Camera) pipeline.PhotoTaker {
	return source.NewCameraSource(c)
}
