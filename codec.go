package dash

import (
	"bytes"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zlib"
)

// Codec serializes payload bodies to JSON and compresses them with zlib deflate.
type Codec struct {
	// Level is the zlib compression level; zero means zlib.DefaultCompression.
	Level int
}

// Marshal serializes v with sorted map keys so equal data yields equal bytes.
func (c Codec) Marshal(v any) ([]byte, error) {
	return sonic.ConfigStd.Marshal(v)
}

// Compress deflates b into a zlib stream.
func (c Codec) Compress(b []byte) ([]byte, error) {
	level := c.Level
	if level == 0 {
		level = zlib.DefaultCompression
	}
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("creating zlib writer: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return nil, fmt.Errorf("compressing: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compressing: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress inflates a zlib stream produced by Compress.
func (c Codec) Decompress(b []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("reading zlib header: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Encode serializes and compresses the payload's body.
func (c Codec) Encode(p Payload) ([]byte, error) {
	raw, err := c.Marshal(p.Data())
	if err != nil {
		return nil, fmt.Errorf("serializing %s payload: %w", p.Kind(), err)
	}
	return c.Compress(raw)
}
