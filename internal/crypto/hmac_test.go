package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignQueryAtDeterministic(t *testing.T) {
	t.Parallel()

	auth := &HMACAuth{Key: "key-id", Secret: "top-secret"}

	signed := auth.SignQueryAt("symbol=FLOWUSDT", 1700000000000)

	payload := "symbol=FLOWUSDT&timestamp=1700000000000"
	mac := hmac.New(sha256.New, []byte("top-secret"))
	mac.Write([]byte(payload))
	want := payload + "&signature=" + hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, signed)

	// Same inputs, same signature.
	assert.Equal(t, signed, auth.SignQueryAt("symbol=FLOWUSDT", 1700000000000))
}

func TestSignQueryAtEmptyQuery(t *testing.T) {
	t.Parallel()

	auth := &HMACAuth{Secret: "s"}
	signed := auth.SignQueryAt("", 42)
	assert.True(t, strings.HasPrefix(signed, "timestamp=42&signature="))
}

func TestStringRedactsSecret(t *testing.T) {
	t.Parallel()

	auth := &HMACAuth{Key: "abcdef", Secret: "hunter2hunter2"}
	s := auth.String()
	assert.NotContains(t, s, "hunter2hunter2")
	assert.Contains(t, s, "abcd****")
}

func TestEncryptDecryptSecretRoundTrip(t *testing.T) {
	t.Parallel()

	blob, err := EncryptSecret("venue-api-secret", "correct horse")
	require.NoError(t, err)

	got, err := DecryptSecret(blob, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "venue-api-secret", got)

	_, err = DecryptSecret(blob, "wrong password")
	assert.Error(t, err)
}

func TestEncryptSecretRejectsEmptyInputs(t *testing.T) {
	t.Parallel()

	_, err := EncryptSecret("", "pw")
	assert.Error(t, err)

	_, err = EncryptSecret("secret", "")
	assert.Error(t, err)
}
