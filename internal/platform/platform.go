package platform

import (
	"os/exec"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/host"
)

// Family identifies the operating system family a run targets.
type Family string

const (
	FamilyLinux   Family = "linux"
	FamilyDarwin  Family = "darwin"
	FamilyWindows Family = "windows"
	FamilyAIX     Family = "aix"
	FamilyHPUX    Family = "hpux"
	FamilySolaris Family = "solaris"
	FamilyUnknown Family = "unknown"
)

// Info describes the probed platform. Immutable once probed; created once per run.
type Info struct {
	Family          Family
	Distro          string // distribution id on linux (e.g. "ubuntu"), empty elsewhere
	Arch            string
	PackageManagers []string // present managers, in fixed preference order
}

// String renders the platform for run records and reports.
func (i Info) String() string {
	s := string(i.Family)
	if i.Distro != "" {
		s += "/" + i.Distro
	}
	if i.Arch != "" {
		s += "/" + i.Arch
	}
	return s
}

// managerPreference is the fixed preference order of package managers per
// family. Ties are broken by first match; presence is the only capability
// probed here.
var managerPreference = map[Family][]string{
	FamilyLinux:   {"apt", "dnf", "yum", "apk", "zypper"},
	FamilyDarwin:  {"brew", "port"},
	FamilyWindows: {"choco", "winget"},
	FamilyAIX:     {"installp", "yum"},
	FamilyHPUX:    {"swinstall"},
	FamilySolaris: {"pkg", "pkgadd"},
}

// Prober identifies the OS family, architecture and usable package managers.
// Probing is side-effect-free beyond read-only system queries and never
// fails fatally: an unrecognized platform yields FamilyUnknown with an empty
// package-manager set.
type Prober struct {
	log      zerolog.Logger
	lookPath func(string) (string, error)
	hostInfo func() (*host.InfoStat, error)
}

// NewProber creates a Prober using the real system queries.
func NewProber(log zerolog.Logger) *Prober {
	return &Prober{
		log:      log,
		lookPath: exec.LookPath,
		hostInfo: host.Info,
	}
}

// Probe identifies the current platform.
func (p *Prober) Probe() Info {
	info := Info{Arch: runtime.GOARCH}

	hi, err := p.hostInfo()
	if err != nil {
		p.log.Warn().Err(err).Msg("host probe degraded, falling back to runtime identification")
		info.Family = NormalizeFamily(runtime.GOOS)
	} else {
		info.Family = NormalizeFamily(hi.OS)
		if info.Family == FamilyLinux {
			info.Distro = hi.Platform
		}
		if hi.KernelArch != "" {
			info.Arch = hi.KernelArch
		}
	}

	if info.Family == FamilyUnknown {
		p.log.Warn().Msg("unknown platform family, package-manager upgrades unavailable")
		return info
	}

	for _, mgr := range managerPreference[info.Family] {
		if _, err := p.lookPath(mgr); err == nil {
			info.PackageManagers = append(info.PackageManagers, mgr)
		}
	}

	p.log.Debug().
		Str("family", string(info.Family)).
		Str("distro", info.Distro).
		Strs("packageManagers", info.PackageManagers).
		Msg("platform probed")

	return info
}

// NormalizeFamily maps an OS identifier (runtime.GOOS or a kernel-reported
// name) to a platform family.
func NormalizeFamily(os string) Family {
	switch strings.ToLower(strings.TrimSpace(os)) {
	case "linux":
		return FamilyLinux
	case "darwin", "macos":
		return FamilyDarwin
	case "windows":
		return FamilyWindows
	case "aix":
		return FamilyAIX
	case "hp-ux", "hpux":
		return FamilyHPUX
	case "solaris", "sunos", "illumos":
		return FamilySolaris
	default:
		return FamilyUnknown
	}
}
