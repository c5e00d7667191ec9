package locate

import (
	"context"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/blackwell-systems/osslup/internal/platform"
)

// LinkedDependency is a shared library an application binary links against.
type LinkedDependency struct {
	Name     string
	Path     string
	Outdated bool // relative to the known-good baseline version
}

// linkageTools lists the dependency-linkage inspection commands per family,
// in fallback order. %s is replaced by the application path.
var linkageTools = map[platform.Family][][]string{
	platform.FamilyLinux:   {{"ldd", "%s"}},
	platform.FamilySolaris: {{"ldd", "%s"}},
	platform.FamilyDarwin:  {{"otool", "-L", "%s"}},
	platform.FamilyAIX:     {{"ldd", "%s"}, {"dump", "-H", "%s"}},
	platform.FamilyHPUX:    {{"chatr", "%s"}},
	platform.FamilyWindows: {{"dumpbin", "/DEPENDENTS", "%s"}},
}

// InspectLinkage lists the shared libraries appPath links against, using the
// platform-appropriate external tool. Failures are non-fatal: the result
// degrades to an empty set with a warning, the run never aborts here.
func (l *Locator) InspectLinkage(ctx context.Context, appPath string, baseline *semver.Version) []LinkedDependency {
	tools, ok := linkageTools[l.family]
	if !ok {
		l.log.Warn().Str("family", string(l.family)).Msg("no linkage inspection tool known for platform")
		return nil
	}

	for _, argv := range tools {
		name := argv[0]
		if _, err := l.lookPath(name); err != nil {
			continue
		}

		args := make([]string, 0, len(argv)-1)
		for _, a := range argv[1:] {
			args = append(args, strings.ReplaceAll(a, "%s", appPath))
		}

		out, err := l.run(ctx, name, args...)
		if err != nil {
			l.log.Warn().Err(err).Str("tool", name).Msg("linkage inspection failed")
			continue
		}

		return parseLinkage(out, baseline)
	}

	l.log.Warn().Str("app", appPath).Msg("linkage inspection unavailable, continuing without dependency data")
	return nil
}

// lddLine matches "libssl.so.3 => /usr/lib/libssl.so.3 (0x...)".
var lddLine = regexp.MustCompile(`^\s*(\S+)\s+=>\s+(\S+)`)

// parseLinkage extracts dependencies from ldd/otool-style output. Both
// formats resolve to one library per line; lines that match neither shape
// are skipped.
func parseLinkage(out string, baseline *semver.Version) []LinkedDependency {
	var deps []LinkedDependency
	for _, line := range strings.Split(out, "\n") {
		var dep LinkedDependency

		if m := lddLine.FindStringSubmatch(line); m != nil {
			dep = LinkedDependency{Name: m[1], Path: m[2]}
		} else if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "/") {
			// otool -L lines: "/usr/lib/libssl.dylib (compatibility version ...)"
			path := strings.Fields(trimmed)[0]
			dep = LinkedDependency{Name: baseName(path), Path: path}
		} else {
			continue
		}

		if baseline != nil && isCryptoLibrary(dep.Name) {
			if v, ok := libraryVersion(dep.Name); ok && v.LessThan(baseline) {
				dep.Outdated = true
			}
		}

		deps = append(deps, dep)
	}
	return deps
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

func isCryptoLibrary(name string) bool {
	return strings.HasPrefix(name, "libssl") || strings.HasPrefix(name, "libcrypto")
}

// soVersion matches the trailing version of "libssl.so.1.1" or "libssl.3.dylib".
var soVersion = regexp.MustCompile(`\.so\.([\d.]+)$|^lib(?:ssl|crypto)\.([\d.]+)\.dylib$`)

// libraryVersion parses the version embedded in a shared-library file name.
func libraryVersion(name string) (*semver.Version, bool) {
	m := soVersion.FindStringSubmatch(name)
	if m == nil {
		return nil, false
	}

	raw := m[1]
	if raw == "" {
		raw = m[2]
	}
	// Pad "1.1" or "3" out to a full triple for comparison.
	for strings.Count(raw, ".") < 2 {
		raw += ".0"
	}

	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, false
	}
	return v, true
}
