package store

import (
	"bytes"
	"encoding/base64"
	"io"

	"github.com/klauspost/compress/gzip"
)

// compressEvidence gzip+base64-encodes a heavy evidence payload (DOM
// snapshot HTML or a screenshot's already-base64 PNG bytes) before it is
// written into a result's JSON record, mirroring the teacher's use of
// klauspost/compress for its own output writers. Empty input is left
// empty so absent evidence does not round-trip into an empty gzip stream.
func compressEvidence(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(s)); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// decompressEvidence reverses compressEvidence.
func decompressEvidence(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	r, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
