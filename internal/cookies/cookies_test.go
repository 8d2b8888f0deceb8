// internal/cookies/cookies_test.go
package cookies

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/specter/internal/engine"
)

func TestExport(t *testing.T) {
	jar := []engine.Cookie{
		{
			Name:     "sid",
			Value:    "abc123",
			Domain:   ".example.com",
			Path:     "/",
			Secure:   true,
			HTTPOnly: true,
			Expires:  time.Unix(1999999999, 0).UTC(),
		},
		{Name: "pref", Value: "dark", Domain: "example.com"},
	}

	records := Export(jar)
	require.Len(t, records, 2)

	assert.Equal(t, "sid", records[0].Name)
	assert.True(t, records[0].DomainInitialDot)
	assert.True(t, records[0].PathSpecified)
	assert.True(t, records[0].Secure)
	assert.True(t, records[0].HTTPOnly)
	assert.Equal(t, int64(1999999999), records[0].Expires)

	assert.False(t, records[1].DomainInitialDot)
	assert.False(t, records[1].PathSpecified)
	// A zero expiry means a session cookie.
	assert.Zero(t, records[1].Expires)
}

func TestExportClampsExpiry(t *testing.T) {
	records := Export([]engine.Cookie{{
		Name:    "far",
		Value:   "v",
		Expires: time.Unix(4000000000, 0).UTC(),
	}})
	require.Len(t, records, 1)
	assert.Equal(t, MaxExpiry, records[0].Expires)
}

func TestImport(t *testing.T) {
	jar := Import([]Record{
		{
			Name:          "sid",
			Value:         "abc123",
			Domain:        ".example.com",
			Path:          "/app",
			PathSpecified: true,
			Secure:        true,
			Expires:       1999999999,
		},
		{Name: "session-only", Value: "v"},
	})
	require.Len(t, jar, 2)

	assert.Equal(t, "/app", jar[0].Path)
	assert.Equal(t, ".example.com", jar[0].Domain)
	assert.Equal(t, time.Unix(1999999999, 0).UTC(), jar[0].Expires)

	assert.True(t, jar[1].Expires.IsZero())
	assert.Empty(t, jar[1].Path)
}

func TestFileRoundTrip(t *testing.T) {
	records := []Record{
		{
			Name:             "sid",
			Value:            "abc123",
			Domain:           ".example.com",
			DomainInitialDot: true,
			Path:             "/",
			PathSpecified:    true,
			Secure:           true,
			Expires:          1999999999,
		},
		{
			Name:   "plain",
			Value:  "simple",
			Domain: "example.com",
		},
	}

	path := filepath.Join(t.TempDir(), "jar.lwp")
	require.NoError(t, WriteFile(path, records))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), lwpMagic+"\n"))

	loaded, err := ReadFile(path)
	require.NoError(t, err)
	if diff := cmp.Diff(records, loaded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFileRoundTripQuotedValue(t *testing.T) {
	records := []Record{{Name: "msg", Value: `hello; "world", again`}}

	path := filepath.Join(t.TempDir(), "jar.lwp")
	require.NoError(t, WriteFile(path, records))

	loaded, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, records[0].Value, loaded[0].Value)
}

func TestSplitLWPFieldsRespectsQuotes(t *testing.T) {
	fields := splitLWPFields(`sid="a;b"; path="/"; secure`)
	assert.Equal(t, []string{`sid="a;b"`, ` path="/"`, ` secure`}, fields)

	fields = splitLWPFields(`msg="quoted \" and ; inside"; version=0`)
	assert.Equal(t, []string{`msg="quoted \" and ; inside"`, ` version=0`}, fields)
}

func TestReadFileClampsExpiry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jar.lwp")
	content := lwpMagic + "\n" +
		`Set-Cookie3: far=v; domain="example.com"; expires="2096-10-02 07:06:40Z"; version=0` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	records, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, MaxExpiry, records[0].Expires)
}

func TestReadFileSkipsCommentsAndBlanks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jar.lwp")
	content := lwpMagic + "\n\n# a note\nSet-Cookie3: a=1; version=0\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	records, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].Name)
}

func TestReadFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jar.lwp")
	require.NoError(t, os.WriteFile(path, []byte(lwpMagic+"\nnot a cookie line\n"), 0o600))

	_, err := ReadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "absent.lwp"))
	require.Error(t, err)
}

func TestLoadDispatch(t *testing.T) {
	in := []Record{{Name: "a", Value: "1"}}
	records, err := Load(in)
	require.NoError(t, err)
	assert.Equal(t, in, records)

	_, err = Load(42)
	require.ErrorIs(t, err, ErrUnsupportedStorage)
}

func TestSaveDispatch(t *testing.T) {
	var sink []Record
	require.NoError(t, Save(&sink, []Record{{Name: "a", Value: "1"}}))
	require.NoError(t, Save(&sink, []Record{{Name: "b", Value: "2"}}))
	require.Len(t, sink, 2)
	assert.Equal(t, "b", sink[1].Name)

	require.ErrorIs(t, Save(3.14, nil), ErrUnsupportedStorage)
}

func TestHTTPOnlyLostThroughFile(t *testing.T) {
	records := []Record{{Name: "sid", Value: "v", HTTPOnly: true}}

	path := filepath.Join(t.TempDir(), "jar.lwp")
	require.NoError(t, WriteFile(path, records))

	loaded, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.False(t, loaded[0].HTTPOnly)
}
