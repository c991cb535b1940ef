package source

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/pixkeep/internal/failure"
	"github.com/cjeanneret/pixkeep/internal/hw/camera"
)

// fakeCamera returns a fixed photo or error.
type fakeCamera struct {
	photo camera.Photo
	err   error
}

func (c fakeCamera) Capture(context.Context) (camera.Photo, error) {
	return c.photo, c.err
}

// ---------- CameraSource ----------

func TestCameraSource_TakePhoto(t *testing.T) {
	src := NewCameraSource(fakeCamera{photo: camera.Photo{Path: "/tmp/abc.jpg", Format: "jpeg"}})

	photo, err := src.TakePhoto(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/tmp/abc.jpg", photo.Path)
}

func TestCameraSource_Failures(t *testing.T) {
	cases := []struct {
		name string
		cam  fakeCamera
		want failure.Kind
	}{
		{"empty_path", fakeCamera{photo: camera.Photo{}}, failure.NoImagePath},
		{"blank_path", fakeCamera{photo: camera.Photo{Path: "  "}}, failure.NoImagePath},
		{"capture_error", fakeCamera{err: errors.New("user cancelled")}, failure.NoImagePath},
		{"permission", fakeCamera{err: fmt.Errorf("%w: /dev/video0", camera.ErrPermission)}, failure.PermissionDenied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCameraSource(tc.cam).TakePhoto(context.Background())
			require.Error(t, err)
			assert.Equal(t, tc.want, failure.KindOf(err))
			assert.Equal(t, "camera", failure.StepOf(err))
		})
	}
}

// ---------- TempReader ----------

func TestTempReader_ReadFile(t *testing.T) {
	data := make([]byte, 500)
	data[0], data[1], data[2] = 0xFF, 0xD8, 0xFF
	path := filepath.Join(t.TempDir(), "abc.jpg")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	encoded, err := TempReader{}.ReadFile(context.Background(), path)
	require.NoError(t, err)

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestTempReader_Failures(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.jpg")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	for name, path := range map[string]string{
		"missing":   filepath.Join(dir, "missing.jpg"),
		"directory": dir,
		"empty":     empty,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := TempReader{}.ReadFile(context.Background(), path)
			require.Error(t, err)
			assert.Equal(t, failure.ReadFailure, failure.KindOf(err))
		})
	}
}

// ---------- Fetcher ----------

func TestFetcher_Success(t *testing.T) {
	body := []byte("\xff\xd8\xff\xe0 fake jpeg body")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg; charset=binary")
		w.Write(body)
	}))
	defer srv.Close()

	blob, err := NewFetcher(time.Second, 0).Fetch(context.Background(), srv.URL+"/car.jpg")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", blob.Type)
	assert.Equal(t, body, blob.Bytes())
	assert.Equal(t, len(body), blob.Size())
}

func TestFetcher_SniffsMissingContentType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(png)
	}))
	defer srv.Close()

	blob, err := NewFetcher(time.Second, 0).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "image/png", blob.Type)
}

func TestFetcher_NotFoundIsNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewFetcher(time.Second, 0).Fetch(context.Background(), srv.URL+"/missing.jpg")
	require.Error(t, err)
	assert.Equal(t, failure.NetworkFailure, failure.KindOf(err))

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
}

func TestFetcher_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := NewFetcher(time.Second, 0).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, failure.EmptyResponse, failure.KindOf(err))
}

func TestFetcher_TooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	_, err := NewFetcher(time.Second, 16).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, failure.NetworkFailure, failure.KindOf(err))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestFetcher_TransportAndURLErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close() // nothing listens any more

	for name, url := range map[string]string{
		"closed_server": addr,
		"bad_url":       "://not a url",
		"no_scheme":     "example.invalid/car.jpg",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewFetcher(time.Second, 0).Fetch(context.Background(), url)
			require.Error(t, err)
			assert.Equal(t, failure.NetworkFailure, failure.KindOf(err))
		})
	}
}

func TestOrigin_String(t *testing.T) {
	assert.Equal(t, "camera", OriginCamera.String())
	assert.Equal(t, "remote", OriginRemote.String())
}

func TestBlob_NilSafe(t *testing.T) {
	var b *Blob
	assert.Equal(t, 0, b.Size())
	assert.Nil(t, b.Bytes())
}
