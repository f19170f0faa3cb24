package sealing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "datavault/pkg/domain-errors"
)

func TestChecksumCodecRoundTrip(t *testing.T) {
	codec := NewChecksumCodec()

	for _, plaintext := range []string{"hunter2", "", "multi\nline\nsecret", "ünïcode ✓"} {
		sealed, err := codec.Seal(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, sealed)

		opened, err := codec.Open(sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)
	}
}

func TestChecksumCodecDetectsTampering(t *testing.T) {
	codec := NewChecksumCodec()

	sealed, err := codec.Seal("vault secret")
	require.NoError(t, err)

	// Flip a character in the payload half without touching the checksum.
	payload, digest, ok := strings.Cut(sealed, sealedSeparator)
	require.True(t, ok)
	tampered := payload[:len(payload)-1] + flip(payload[len(payload)-1]) + sealedSeparator + digest

	_, err = codec.Open(tampered)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestChecksumCodecRejectsMalformed(t *testing.T) {
	codec := NewChecksumCodec()

	for _, sealed := range []string{"no-separator", "!!!.also-bad", ""} {
		_, err := codec.Open(sealed)
		assert.Error(t, err, "input %q", sealed)
	}
}

func flip(c byte) string {
	if c == 'A' {
		return "B"
	}
	return "A"
}
