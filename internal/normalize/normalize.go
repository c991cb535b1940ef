// Package normalize converts fetched binary data into the base64 data URL
// form expected by the store, and back.
package normalize

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cjeanneret/pixkeep/internal/failure"
	"github.com/cjeanneret/pixkeep/internal/source"
)

const step = "normalize"

// DefaultMediaType is used for blobs without a type.
const DefaultMediaType = "application/octet-stream"

// Scheme is the prefix of every data URL.
const Scheme = "data:"

const base64Marker = ";base64,"

// ErrMalformed is returned by Decode for payloads it cannot interpret.
var ErrMalformed = errors.New("malformed data url")

// DataURL encodes blob as "data:<type>;base64,<payload>".
// A nil or empty blob, or one whose declared type is not an image, is
// InvalidBlob and nothing is read. An undeclared type is accepted as
// DefaultMediaType. A read error while encoding, or a result that is not a
// data URL, is EncodingFailure.
func DataURL(ctx context.Context, blob *source.Blob) (string, error) {
	if blob == nil || blob.Size() == 0 {
		return "", failure.Newf(failure.InvalidBlob, step, "not a blob")
	}
	if !acceptedType(blob.Type) {
		return "", failure.Newf(failure.InvalidBlob, step, "%s is not an image", blob.Type)
	}
	return encode(ctx, blob.Type, blob.Reader())
}

func acceptedType(mediaType string) bool {
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	return mediaType == "" || mediaType == DefaultMediaType || strings.HasPrefix(mediaType, "image/")
}

func encode(ctx context.Context, mediaType string, r io.Reader) (string, error) {
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == "" {
		mediaType = DefaultMediaType
	}

	var sb strings.Builder
	sb.WriteString(Scheme)
	sb.WriteString(mediaType)
	sb.WriteString(base64Marker)

	enc := base64.NewEncoder(base64.StdEncoding, &sb)
	if _, err := io.Copy(enc, &ctxReader{ctx: ctx, r: r}); err != nil {
		return "", failure.New(failure.EncodingFailure, step, err)
	}
	if err := enc.Close(); err != nil {
		return "", failure.New(failure.EncodingFailure, step, err)
	}

	out := sb.String()
	if !strings.HasPrefix(out, Scheme) || !strings.Contains(out, base64Marker) {
		return "", failure.Newf(failure.EncodingFailure, step, "result is not a data url")
	}
	return out, nil
}

// Decode returns the media type and bytes of a data URL. Only base64 data
// URLs are accepted.
func Decode(dataURL string) (string, []byte, error) {
	if !strings.HasPrefix(dataURL, Scheme) {
		return "", nil, fmt.Errorf("%w: missing %q prefix", ErrMalformed, Scheme)
	}
	header, payload, ok := strings.Cut(strings.TrimPrefix(dataURL, Scheme), ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing comma", ErrMalformed)
	}
	mediaType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("%w: not base64 encoded", ErrMalformed)
	}
	if mediaType == "" {
		mediaType = DefaultMediaType
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return mediaType, data, nil
}

// DecodePayload accepts either a data URL or a bare base64 string.
func DecodePayload(payload string) ([]byte, error) {
	if strings.HasPrefix(payload, Scheme) {
		_, data, err := Decode(payload)
		return data, err
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return data, nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
