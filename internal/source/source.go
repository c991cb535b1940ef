// Package source holds the acquisition side of the pipeline: the camera
// adapter that turns a device capture into a temporary path, the reader that
// loads that path back, and the remote adapter that fetches a URL into a Blob.
package source

import (
	"bytes"
	"io"
)

// Origin tells where an AcquiredImage came from.
type Origin int

const (
	OriginCamera Origin = iota
	OriginRemote
)

func (o Origin) String() string {
	switch o {
	case OriginCamera:
		return "camera"
	case OriginRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Blob is an in-memory binary large object, as returned by a fetch.
type Blob struct {
	Type string // media type, e.g. "image/jpeg"
	data []byte
}

// NewBlob wraps data. The slice is not copied.
func NewBlob(mediaType string, data []byte) *Blob {
	return &Blob{Type: mediaType, data: data}
}

// Size returns the number of bytes held by b.
func (b *Blob) Size() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Bytes returns the underlying bytes.
func (b *Blob) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

// Reader returns a fresh reader over the blob contents.
func (b *Blob) Reader() io.Reader {
	return bytes.NewReader(b.Bytes())
}

// AcquiredImage is the transient value handed from a source adapter to the
// rest of the pipeline. Exactly one of Raw and Encoded is set.
type AcquiredImage struct {
	Origin   Origin
	Raw      *Blob  // fetched bytes, still to be normalized
	Encoded  string // base64 payload, ready for the store
	MimeHint string
}
