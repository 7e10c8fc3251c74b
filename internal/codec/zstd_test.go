package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressRoundTrip(t *testing.T) {
	in := bytes.Repeat([]byte(`{"url":"https://example.com/page","status":200}`), 200)

	packed := Compress(in)
	assert.Less(t, len(packed), len(in))

	out, err := Decompress(packed)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecompressRejectsGarbage(t *testing.T) {
	_, err := Decompress([]byte("not zstd"))
	assert.Error(t, err)
}
