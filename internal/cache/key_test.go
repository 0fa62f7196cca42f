package cache

import (
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveKeyIsStable(t *testing.T) {
	const raw = "http://x/img.png"
	first := DeriveKey(raw)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, DeriveKey(raw))
	}

	sum := md5.Sum([]byte(raw))
	require.Equal(t, Key(hex.EncodeToString(sum[:])), first)
	require.Len(t, string(first), 32)
}

func TestDeriveKeyUsesEncodedForm(t *testing.T) {
	require.Equal(t, DeriveKey("http://x/a%20b.png"), DeriveKey("http://x/a b.png"))
	require.NotEqual(t, DeriveKey("http://x/a.png"), DeriveKey("http://x/b.png"))
}

func TestCacheFileName(t *testing.T) {
	testCases := []struct {
		name string
		url  string
		ext  string
	}{
		{"png", "http://x/img.png", ".png"},
		{"query ignored", "http://x/cover.jpg?size=large", ".jpg"},
		{"no extension", "http://x/cover", ""},
		{"local file", "file:///music/album/folder.jpeg", ".jpeg"},
		{"dotted dir", "http://x/v1.2/cover", ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, string(DeriveKey(tc.url))+tc.ext, CacheFileName(tc.url))
		})
	}
}

func TestImageIdentifierRoundTrip(t *testing.T) {
	const raw = "http://x/img.png"
	id := ImageIdentifier("device1", raw)
	require.Equal(t, "device1/"+CacheFileName(raw), id)

	deviceID, key, fileName, err := ParseIdentifier(id)
	require.NoError(t, err)
	require.Equal(t, "device1", deviceID)
	require.Equal(t, DeriveKey(raw), key)
	require.Equal(t, CacheFileName(raw), fileName)

	deviceID, key, _, err = ParseIdentifier(ImageURL("device1", raw))
	require.NoError(t, err)
	require.Equal(t, "device1", deviceID)
	require.Equal(t, DeriveKey(raw), key)
}

func TestParseIdentifierRejectsMalformed(t *testing.T) {
	for _, id := range []string{"", "device1", "a/b/c", "/abc.png", "device1/", "device1/.png"} {
		_, _, _, err := ParseIdentifier(id)
		require.ErrorIs(t, err, ErrMalformedIdentifier, "identifier %q", id)
	}
}
