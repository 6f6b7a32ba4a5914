// Package codec compresses large result payloads before they are persisted.
// Encoded form is gzip wrapped in standard base64 so it can live in a text
// column and cross JSON boundaries unharmed.
package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Compress gzips text and returns it base64-encoded.
func Compress(text string) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(text)); err != nil {
		return "", fmt.Errorf("codec: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("codec: compress: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decompress reverses Compress. It is lossless for arbitrary UTF-8 input,
// including the empty string.
func Decompress(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("codec: decode base64: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("codec: open gzip stream: %w", err)
	}
	defer zr.Close()

	text, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("codec: decompress: %w", err)
	}
	return string(text), nil
}

// ShouldCompress reports whether text is strictly larger than thresholdBytes.
// Payloads exactly at the threshold are stored uncompressed.
func ShouldCompress(text string, thresholdBytes int) bool {
	return ByteSize(text) > thresholdBytes
}

// ByteSize returns the UTF-8 byte length of text.
func ByteSize(text string) int {
	return len(text)
}
