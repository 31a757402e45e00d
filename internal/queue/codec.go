package queue

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// encodingHeader marks compressed payloads on the wire so mixed
// compressed/uncompressed backlogs decode correctly across config changes.
const (
	encodingHeader = "content-encoding"
	encodingZstd   = "zstd"
)

// Codec compresses envelope payloads before they hit the wire. Match
// records are small JSON blobs but the feed runs continuously, so the
// stream storage savings add up.
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

func (c *Codec) Encode(p []byte) []byte {
	return c.enc.EncodeAll(p, nil)
}

func (c *Codec) Decode(p []byte) ([]byte, error) {
	return c.dec.DecodeAll(p, nil)
}

func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}
