package codec

import (
	"strings"
	"testing"
)

// Test: compress/decompress round-trips arbitrary text losslessly.
func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"ascii", "SELECT * FROM users WHERE id = 1;"},
		{"multibyte", "データベース 承認 ✔ — résultat"},
		{"newlines", "row1\nrow2\r\nrow3\n"},
		{"large_repetitive", strings.Repeat("abcdefghij", 10000)},
		{"binary_ish", string([]byte{0, 1, 2, 255, 254, 'a', 0})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := Compress(tc.text)
			if err != nil {
				t.Fatalf("compress: %v", err)
			}
			decoded, err := Decompress(encoded)
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			if decoded != tc.text {
				t.Errorf("round trip mismatch: got %d bytes, want %d bytes", len(decoded), len(tc.text))
			}
		})
	}
}

// Test: encoded form contains only base64 characters (transport safe).
func TestCompress_TextSafe(t *testing.T) {
	encoded, err := Compress("some result payload\x00with raw bytes")
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	for _, r := range encoded {
		ok := (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') ||
			(r >= '0' && r <= '9') || r == '+' || r == '/' || r == '='
		if !ok {
			t.Fatalf("encoded form contains non-base64 rune %q", r)
		}
	}
}

// Test: large repetitive payloads actually shrink.
func TestCompress_Shrinks(t *testing.T) {
	text := strings.Repeat(`{"id": 42, "name": "widget"}`+"\n", 5000)
	encoded, err := Compress(text)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(encoded) >= len(text) {
		t.Errorf("expected compressed form smaller than input: %d >= %d", len(encoded), len(text))
	}
}

// Test: threshold comparison is strictly greater-than.
func TestShouldCompress_StrictThreshold(t *testing.T) {
	text := "0123456789" // 10 bytes

	if ShouldCompress(text, 10) {
		t.Error("length == threshold must not compress")
	}
	if !ShouldCompress(text, 9) {
		t.Error("length > threshold must compress")
	}
	if ShouldCompress(text, 11) {
		t.Error("length < threshold must not compress")
	}
}

// Test: byte size counts UTF-8 bytes, not runes.
func TestByteSize_Multibyte(t *testing.T) {
	if got := ByteSize("héllo"); got != 6 {
		t.Errorf("ByteSize(héllo) = %d, want 6", got)
	}
	if got := ByteSize(""); got != 0 {
		t.Errorf("ByteSize(empty) = %d, want 0", got)
	}
}

// Test: decompress rejects garbage input with an error, not a panic.
func TestDecompress_Garbage(t *testing.T) {
	if _, err := Decompress("not base64 at all!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	// Valid base64 that is not a gzip stream.
	if _, err := Decompress("aGVsbG8gd29ybGQ="); err == nil {
		t.Error("expected error for non-gzip payload")
	}
}
