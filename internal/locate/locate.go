package locate

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/blackwell-systems/osslup/internal/platform"
)

// Library describes an existing OpenSSL installation.
// A nil Version means the binary's self-reported version string could not be
// parsed; the rest of the pipeline treats that as "needs upgrade".
type Library struct {
	Version      *semver.Version
	RawVersion   string
	Prefix       string
	BinaryPaths  []string
	LibraryPaths []string
}

// NeedsUpgrade reports whether the installation is older than target.
// An unknown version always needs an upgrade.
func (l *Library) NeedsUpgrade(target *semver.Version) bool {
	if l == nil || l.Version == nil {
		return true
	}
	return l.Version.LessThan(target)
}

// candidateRoots is the fixed, ordered list of install roots searched per
// family. The first root containing both a binary and a shared library is
// authoritative; results are never merged across roots.
var candidateRoots = map[platform.Family][]string{
	platform.FamilyLinux:   {"/usr", "/usr/local", "/opt/openssl"},
	platform.FamilyDarwin:  {"/opt/homebrew/opt/openssl@3", "/usr/local/opt/openssl@3", "/usr/local", "/usr"},
	platform.FamilyWindows: {`C:\Program Files\OpenSSL-Win64`, `C:\Program Files\OpenSSL`, `C:\OpenSSL-Win64`},
	platform.FamilyAIX:     {"/opt/freeware", "/usr"},
	platform.FamilyHPUX:    {"/opt/openssl", "/usr/local", "/usr"},
	platform.FamilySolaris: {"/usr", "/usr/sfw", "/opt/csw"},
}

// libDirNames are the directories under an install root that may hold the
// shared libraries, in search order.
var libDirNames = []string{"lib", "lib64", "lib/x86_64-linux-gnu", "lib/aarch64-linux-gnu", "bin"}

// versionPattern tolerates the OpenSSL version line variants:
// "OpenSSL 3.0.8 7 Feb 2023", "OpenSSL 1.1.1w  11 Sep 2023",
// "OpenSSL 3.2.0-dev" and similar.
var versionPattern = regexp.MustCompile(`OpenSSL\s+(\d+)\.(\d+)\.(\d+)([a-z][a-z0-9]*)?`)

// Locator finds existing OpenSSL installations and application linkage.
type Locator struct {
	log      zerolog.Logger
	family   platform.Family
	roots    []string
	run      func(ctx context.Context, name string, args ...string) (string, error)
	lookPath func(string) (string, error)
}

// NewLocator creates a Locator for the probed platform family.
func NewLocator(log zerolog.Logger, family platform.Family) *Locator {
	return &Locator{
		log:      log,
		family:   family,
		roots:    candidateRoots[family],
		run:      runCommand,
		lookPath: exec.LookPath,
	}
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// Locate searches the candidate roots for an installed library.
// It returns (nil, nil) when no installation is found; absence is a valid,
// expected state.
func (l *Locator) Locate(ctx context.Context) (*Library, error) {
	for _, root := range l.roots {
		bin := l.findBinary(root)
		libs := findLibraries(root)
		if bin == "" || len(libs) == 0 {
			continue
		}

		lib := &Library{
			Prefix:       root,
			BinaryPaths:  []string{bin},
			LibraryPaths: libs,
		}

		out, err := l.run(ctx, bin, "version")
		if err != nil {
			l.log.Warn().Err(err).Str("binary", bin).Msg("version query failed, treating version as unknown")
			return lib, nil
		}

		lib.RawVersion = strings.TrimSpace(strings.SplitN(out, "\n", 2)[0])
		if v, ok := ParseVersion(out); ok {
			lib.Version = v
		} else {
			l.log.Warn().Str("output", lib.RawVersion).Msg("unparseable version string, treating version as unknown")
		}

		return lib, nil
	}

	l.log.Debug().Msg("no existing installation found in candidate roots")
	return nil, nil
}

// findBinary returns the path of the openssl binary under root, or "".
func (l *Locator) findBinary(root string) string {
	name := "openssl"
	if l.family == platform.FamilyWindows {
		name = "openssl.exe"
	}

	for _, dir := range []string{"bin", "sbin", ""} {
		p := filepath.Join(root, dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// findLibraries returns the shared-library paths under root.
func findLibraries(root string) []string {
	var libs []string
	for _, dir := range libDirNames {
		for _, stem := range []string{"libssl", "libcrypto"} {
			matches, err := filepath.Glob(filepath.Join(root, dir, stem+"*"))
			if err != nil {
				continue
			}
			for _, m := range matches {
				if info, err := os.Stat(m); err == nil && !info.IsDir() {
					libs = append(libs, m)
				}
			}
		}
	}
	return libs
}

// ParseVersion extracts a semantic version from an OpenSSL version line.
// Legacy letter suffixes ("1.1.1w") are preserved as build metadata on the
// returned version.
func ParseVersion(out string) (*semver.Version, bool) {
	m := versionPattern.FindStringSubmatch(out)
	if m == nil {
		return nil, false
	}

	raw := m[1] + "." + m[2] + "." + m[3]
	if m[4] != "" {
		raw += "+" + m[4]
	}

	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, false
	}
	return v, true
}
