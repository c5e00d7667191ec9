// Package pkgmgr wraps the system package managers behind a small contract:
// exists, version-available, install. Managers are invoked as opaque
// subprocess commands; nothing here parses beyond what exact-version
// resolution requires.
package pkgmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
)

// Invocation is one package-manager command to run.
type Invocation struct {
	Name        string // step name for the command log
	Argv        []string
	Destructive bool
}

// Client queries package-manager repositories and builds install sequences.
type Client struct {
	log      zerolog.Logger
	run      func(ctx context.Context, name string, args ...string) (string, error)
	lookPath func(string) (string, error)
}

// New creates a Client using real subprocess invocation.
func New(log zerolog.Logger) *Client {
	return &Client{
		log: log,
		run: func(ctx context.Context, name string, args ...string) (string, error) {
			out, err := exec.CommandContext(ctx, name, args...).Output()
			if err != nil {
				if exitErr, ok := err.(*exec.ExitError); ok {
					return string(out), fmt.Errorf("%s failed: %w (stderr: %s)", name, err, string(exitErr.Stderr))
				}
				return string(out), fmt.Errorf("%s failed: %w", name, err)
			}
			return string(out), nil
		},
		lookPath: exec.LookPath,
	}
}

// Exists reports whether the manager's binary is on PATH.
func (c *Client) Exists(mgr string) bool {
	_, err := c.lookPath(mgr)
	return err == nil
}

// queryArgv maps a manager to the repository query listing available
// versions of pkg. Managers absent from this table have no version query
// wired; Resolve reports the target as unavailable for them, which forces
// the side-install path.
func queryArgv(mgr, pkg string, target *semver.Version) []string {
	switch mgr {
	case "apt":
		return []string{"apt-cache", "madison", pkg}
	case "dnf":
		return []string{"dnf", "--quiet", "list", "--showduplicates", "--available", pkg}
	case "yum":
		return []string{"yum", "--quiet", "list", "--showduplicates", "available", pkg}
	case "apk":
		return []string{"apk", "policy", pkg}
	case "zypper":
		return []string{"zypper", "--non-interactive", "search", "-s", "--match-exact", pkg}
	case "brew":
		return []string{"brew", "info", "--json=v2", brewFormula(pkg, target)}
	case "choco":
		return []string{"choco", "search", pkg, "--exact", "--all-versions", "--limit-output"}
	case "winget":
		return []string{"winget", "show", "--id", pkg, "--versions"}
	default:
		return nil
	}
}

// brewFormula maps a package to Homebrew's major-versioned formula name.
func brewFormula(pkg string, target *semver.Version) string {
	return fmt.Sprintf("%s@%d", pkg, target.Major())
}

// Resolve asks mgr's repository whether it offers pkg at exactly the target
// version. On success it returns the repository's full version string
// (including any distro revision) for pinned installation. Query failures
// resolve to "not available": the caller falls back to side-install rather
// than guessing.
func (c *Client) Resolve(ctx context.Context, mgr, pkg string, target *semver.Version) (string, bool) {
	argv := queryArgv(mgr, pkg, target)
	if argv == nil {
		c.log.Debug().Str("manager", mgr).Msg("no repository query wired for manager")
		return "", false
	}

	out, err := c.run(ctx, argv[0], argv[1:]...)
	if err != nil {
		c.log.Warn().Err(err).Str("manager", mgr).Msg("repository query failed, treating version as unavailable")
		return "", false
	}

	for _, candidate := range parseCandidates(mgr, out) {
		if upstreamMatches(candidate, target) {
			return candidate, true
		}
	}

	return "", false
}

// parseCandidates extracts the candidate version strings from a repository
// query's output.
func parseCandidates(mgr, out string) []string {
	var versions []string
	lines := strings.Split(out, "\n")

	switch mgr {
	case "apt":
		// "   openssl | 3.0.8-1ubuntu1 | http://... amd64 Packages"
		for _, line := range lines {
			cols := strings.Split(line, "|")
			if len(cols) >= 2 {
				versions = append(versions, strings.TrimSpace(cols[1]))
			}
		}
	case "dnf", "yum":
		// "openssl.x86_64   1:3.0.8-1.el9   appstream"
		for _, line := range lines {
			fields := strings.Fields(line)
			if len(fields) >= 2 && strings.Contains(fields[0], ".") {
				versions = append(versions, fields[1])
			}
		}
	case "apk":
		// "  3.1.4-r5:" indented under the policy header
		for _, line := range lines {
			trimmed := strings.TrimSpace(strings.TrimSuffix(line, ":"))
			if trimmed != "" && trimmed[0] >= '0' && trimmed[0] <= '9' {
				versions = append(versions, trimmed)
			}
		}
	case "zypper":
		// "| openssl | package | 3.1.4-1.1 | x86_64 | repo"
		for _, line := range lines {
			cols := strings.Split(line, "|")
			if len(cols) >= 4 {
				versions = append(versions, strings.TrimSpace(cols[3]))
			}
		}
	case "brew":
		versions = append(versions, brewStableVersions(out)...)
	case "choco":
		// "openssl|3.1.1"
		for _, line := range lines {
			cols := strings.Split(strings.TrimSpace(line), "|")
			if len(cols) == 2 {
				versions = append(versions, cols[1])
			}
		}
	case "winget":
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			if trimmed != "" && trimmed[0] >= '0' && trimmed[0] <= '9' {
				versions = append(versions, trimmed)
			}
		}
	}

	return versions
}

// brewInfoOutput is the subset of `brew info --json=v2` we need.
type brewInfoOutput struct {
	Formulae []struct {
		Name     string `json:"name"`
		Versions struct {
			Stable string `json:"stable"`
		} `json:"versions"`
	} `json:"formulae"`
}

func brewStableVersions(out string) []string {
	var info brewInfoOutput
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		return nil
	}

	var versions []string
	for _, f := range info.Formulae {
		if f.Versions.Stable != "" {
			versions = append(versions, f.Versions.Stable)
		}
	}
	return versions
}

// epochPrefix matches rpm-style epoch prefixes like "1:".
var epochPrefix = regexp.MustCompile(`^\d+:`)

// upstreamVersion strips epoch and distro revision from a repository version
// string: "1:3.0.8-1.el9" -> "3.0.8", "1.1.1w-0+deb11u1" -> "1.1.1w".
func upstreamVersion(candidate string) string {
	v := epochPrefix.ReplaceAllString(candidate, "")
	if i := strings.IndexAny(v, "-_"); i >= 0 {
		v = v[:i]
	}
	return v
}

// upstreamMatches reports whether candidate's upstream version equals the
// target exactly. Approximate matches never qualify; partial matches risk
// silently installing a different version than audited.
func upstreamMatches(candidate string, target *semver.Version) bool {
	want := fmt.Sprintf("%d.%d.%d", target.Major(), target.Minor(), target.Patch())
	// Legacy letter suffixes ride in the target's build metadata ("1.1.1+w").
	want += target.Metadata()
	return upstreamVersion(candidate) == want
}

// InstallCommands returns the argv sequence installing pkg pinned to the
// resolved repository version.
func InstallCommands(mgr, pkg, repoVersion string, target *semver.Version) []Invocation {
	switch mgr {
	case "apt":
		return []Invocation{
			{Name: "apt-refresh", Argv: []string{"apt-get", "update"}},
			{Name: "apt-install", Argv: []string{"apt-get", "install", "-y", pkg + "=" + repoVersion}, Destructive: true},
		}
	case "dnf", "yum":
		return []Invocation{
			{Name: mgr + "-refresh", Argv: []string{mgr, "makecache"}},
			{Name: mgr + "-install", Argv: []string{mgr, "install", "-y", pkg + "-" + epochPrefix.ReplaceAllString(repoVersion, "")}, Destructive: true},
		}
	case "apk":
		return []Invocation{
			{Name: "apk-refresh", Argv: []string{"apk", "update"}},
			{Name: "apk-install", Argv: []string{"apk", "add", pkg + "=" + repoVersion}, Destructive: true},
		}
	case "zypper":
		return []Invocation{
			{Name: "zypper-refresh", Argv: []string{"zypper", "--non-interactive", "refresh"}},
			{Name: "zypper-install", Argv: []string{"zypper", "--non-interactive", "install", pkg + "=" + repoVersion}, Destructive: true},
		}
	case "brew":
		formula := brewFormula(pkg, target)
		return []Invocation{
			{Name: "brew-refresh", Argv: []string{"brew", "update"}},
			{Name: "brew-install", Argv: []string{"brew", "install", formula}, Destructive: true},
		}
	case "choco":
		return []Invocation{
			{Name: "choco-install", Argv: []string{"choco", "install", pkg, "--version", repoVersion, "-y"}, Destructive: true},
		}
	case "winget":
		return []Invocation{
			{Name: "winget-install", Argv: []string{"winget", "install", "--id", pkg, "--version", repoVersion, "--silent"}, Destructive: true},
		}
	default:
		return nil
	}
}
