package queue

import (
	"bytes"
	"testing"
)

func TestCodecRoundtrip(t *testing.T) {
	c, err := NewCodec()
	if err != nil {
		t.Fatalf("creating codec: %v", err)
	}
	defer c.Close()

	payload := []byte(`{"match_id":123,"match_seq_num":456,"players":[{"account_id":42}]}`)
	encoded := c.Encode(payload)
	decoded, err := c.Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Errorf("roundtrip mismatch: %s", decoded)
	}
}

func TestCodecDecodeGarbage(t *testing.T) {
	c, err := NewCodec()
	if err != nil {
		t.Fatalf("creating codec: %v", err)
	}
	defer c.Close()

	if _, err := c.Decode([]byte("not zstd")); err == nil {
		t.Error("expected error decoding garbage")
	}
}
