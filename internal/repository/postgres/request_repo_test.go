package postgres

import (
	"strings"
	"testing"

	"github.com/querygate/querygate/internal/codec"
)

func TestDecodeResult_PassthroughWhenUncompressed(t *testing.T) {
	got, err := decodeResult("id | name\n1 | widget\n(1 rows)", false)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != "id | name\n1 | widget\n(1 rows)" {
		t.Errorf("uncompressed payload altered: %q", got)
	}
}

func TestDecodeResult_DecompressesStoredPayload(t *testing.T) {
	original := strings.Repeat("row data with ünïcode\n", 500)
	stored, err := codec.Compress(original)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}

	got, err := decodeResult(stored, true)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != original {
		t.Errorf("round trip lost data: got %d bytes, want %d", len(got), len(original))
	}
}

func TestDecodeResult_CorruptPayloadErrors(t *testing.T) {
	if _, err := decodeResult("not base64 gzip at all", true); err == nil {
		t.Error("expected error for corrupt compressed payload")
	}
}
