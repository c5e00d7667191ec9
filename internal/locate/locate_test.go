package locate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/osslup/internal/platform"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"OpenSSL 3.0.8 7 Feb 2023 (Library: OpenSSL 3.0.8 7 Feb 2023)", "3.0.8", true},
		{"OpenSSL 1.1.1w  11 Sep 2023", "1.1.1+w", true},
		{"OpenSSL 3.2.0-dev", "3.2.0", true},
		{"LibreSSL 3.3.6", "", false},
		{"garbage output", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		v, ok := ParseVersion(tt.in)
		assert.Equal(t, tt.ok, ok, "input %q", tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, v.String(), "input %q", tt.in)
		}
	}
}

func TestNeedsUpgrade(t *testing.T) {
	target := semver.MustParse("3.2.0")

	var absent *Library
	assert.True(t, absent.NeedsUpgrade(target))

	unknown := &Library{RawVersion: "garbage"}
	assert.True(t, unknown.NeedsUpgrade(target))

	older := &Library{Version: semver.MustParse("3.0.8")}
	assert.True(t, older.NeedsUpgrade(target))

	current := &Library{Version: semver.MustParse("3.2.0")}
	assert.False(t, current.NeedsUpgrade(target))
}

// installRoot lays out a fake install prefix with optional binary and libs.
func installRoot(t *testing.T, withBinary, withLibs bool) string {
	t.Helper()
	root := t.TempDir()
	if withBinary {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "openssl"), []byte("#!"), 0o755))
	}
	if withLibs {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "lib"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "libssl.so.3"), nil, 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "libcrypto.so.3"), nil, 0o644))
	}
	return root
}

func newTestLocator(roots []string, versionOut string, runErr error) *Locator {
	l := NewLocator(zerolog.Nop(), platform.FamilyLinux)
	l.roots = roots
	l.run = func(_ context.Context, _ string, _ ...string) (string, error) {
		return versionOut, runErr
	}
	return l
}

func TestLocateFirstRootAuthoritative(t *testing.T) {
	binOnly := installRoot(t, true, false)
	full := installRoot(t, true, true)
	alsoFull := installRoot(t, true, true)

	l := newTestLocator([]string{binOnly, full, alsoFull}, "OpenSSL 3.0.8 7 Feb 2023", nil)

	lib, err := l.Locate(context.Background())
	require.NoError(t, err)
	require.NotNil(t, lib)

	// The first root with both binary and libraries wins; no merging.
	assert.Equal(t, full, lib.Prefix)
	require.NotNil(t, lib.Version)
	assert.Equal(t, "3.0.8", lib.Version.String())
	assert.Len(t, lib.BinaryPaths, 1)
	assert.Len(t, lib.LibraryPaths, 2)
}

func TestLocateAbsent(t *testing.T) {
	l := newTestLocator([]string{t.TempDir()}, "", nil)

	lib, err := l.Locate(context.Background())
	require.NoError(t, err)
	assert.Nil(t, lib)
}

func TestLocateUnparseableVersion(t *testing.T) {
	root := installRoot(t, true, true)
	l := newTestLocator([]string{root}, "FancySSL v9 custom build", nil)

	lib, err := l.Locate(context.Background())
	require.NoError(t, err)
	require.NotNil(t, lib)
	assert.Nil(t, lib.Version)
	assert.Equal(t, "FancySSL v9 custom build", lib.RawVersion)
}

func TestLocateVersionQueryFailure(t *testing.T) {
	root := installRoot(t, true, true)
	l := newTestLocator([]string{root}, "", errors.New("exec format error"))

	lib, err := l.Locate(context.Background())
	require.NoError(t, err)
	require.NotNil(t, lib)
	assert.Nil(t, lib.Version)
}

const lddOutput = `	linux-vdso.so.1 (0x00007ffd8a9fe000)
	libssl.so.1.1 => /usr/lib/x86_64-linux-gnu/libssl.so.1.1 (0x00007f2f7b000000)
	libcrypto.so.1.1 => /usr/lib/x86_64-linux-gnu/libcrypto.so.1.1 (0x00007f2f7ab00000)
	libc.so.6 => /lib/x86_64-linux-gnu/libc.so.6 (0x00007f2f7a800000)
`

func TestParseLinkageLdd(t *testing.T) {
	baseline := semver.MustParse("3.0.0")
	deps := parseLinkage(lddOutput, baseline)

	require.Len(t, deps, 3)
	assert.Equal(t, "libssl.so.1.1", deps[0].Name)
	assert.Equal(t, "/usr/lib/x86_64-linux-gnu/libssl.so.1.1", deps[0].Path)
	assert.True(t, deps[0].Outdated)
	assert.True(t, deps[1].Outdated)
	assert.False(t, deps[2].Outdated, "libc is not graded against the baseline")
}

const otoolOutput = `/usr/local/bin/myapp:
	/usr/local/opt/openssl@3/lib/libssl.3.dylib (compatibility version 3.0.0, current version 3.0.0)
	/usr/lib/libSystem.B.dylib (compatibility version 1.0.0, current version 1319.0.0)
`

func TestParseLinkageOtool(t *testing.T) {
	deps := parseLinkage(otoolOutput, semver.MustParse("3.0.0"))

	require.Len(t, deps, 2)
	assert.Equal(t, "libssl.3.dylib", deps[0].Name)
	assert.False(t, deps[0].Outdated)
}

func TestInspectLinkageToolMissing(t *testing.T) {
	l := NewLocator(zerolog.Nop(), platform.FamilyHPUX)
	l.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	deps := l.InspectLinkage(context.Background(), "/opt/app/bin/app", nil)
	assert.Empty(t, deps)
}

func TestInspectLinkageToolFails(t *testing.T) {
	l := NewLocator(zerolog.Nop(), platform.FamilyLinux)
	l.lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	l.run = func(context.Context, string, ...string) (string, error) {
		return "", errors.New("boom")
	}

	deps := l.InspectLinkage(context.Background(), "/usr/bin/app", nil)
	assert.Empty(t, deps)
}

func TestLibraryVersion(t *testing.T) {
	v, ok := libraryVersion("libssl.so.1.1")
	require.True(t, ok)
	assert.Equal(t, "1.1.0", v.String())

	v, ok = libraryVersion("libcrypto.3.dylib")
	require.True(t, ok)
	assert.Equal(t, "3.0.0", v.String())

	_, ok = libraryVersion("libssl.so")
	assert.False(t, ok)
}
