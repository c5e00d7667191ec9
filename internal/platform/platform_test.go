package platform

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeLookPath(present ...string) func(string) (string, error) {
	set := make(map[string]bool, len(present))
	for _, p := range present {
		set[p] = true
	}
	return func(name string) (string, error) {
		if set[name] {
			return "/usr/bin/" + name, nil
		}
		return "", errors.New("not found")
	}
}

func newTestProber(osName string, present ...string) *Prober {
	return &Prober{
		log:      zerolog.Nop(),
		lookPath: fakeLookPath(present...),
		hostInfo: func() (*host.InfoStat, error) {
			return &host.InfoStat{OS: osName, Platform: "ubuntu", KernelArch: "x86_64"}, nil
		},
	}
}

func TestNormalizeFamily(t *testing.T) {
	tests := []struct {
		in   string
		want Family
	}{
		{"linux", FamilyLinux},
		{"Darwin", FamilyDarwin},
		{"windows", FamilyWindows},
		{"aix", FamilyAIX},
		{"HP-UX", FamilyHPUX},
		{"hpux", FamilyHPUX},
		{"SunOS", FamilySolaris},
		{"solaris", FamilySolaris},
		{"plan9", FamilyUnknown},
		{"", FamilyUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeFamily(tt.in), "input %q", tt.in)
	}
}

func TestProbePreferenceOrder(t *testing.T) {
	// dnf is found first on PATH lookup order, but apt still ranks ahead of
	// it because preference order is fixed data, not discovery order.
	p := newTestProber("linux", "dnf", "apt", "zypper")

	info := p.Probe()
	require.Equal(t, FamilyLinux, info.Family)
	assert.Equal(t, []string{"apt", "dnf", "zypper"}, info.PackageManagers)
	assert.Equal(t, "ubuntu", info.Distro)
	assert.Equal(t, "x86_64", info.Arch)
}

func TestProbeNoManagers(t *testing.T) {
	p := newTestProber("aix")

	info := p.Probe()
	assert.Equal(t, FamilyAIX, info.Family)
	assert.Empty(t, info.PackageManagers)
}

func TestProbeUnknownPlatform(t *testing.T) {
	p := newTestProber("plan9", "apt")

	info := p.Probe()
	assert.Equal(t, FamilyUnknown, info.Family)
	assert.Empty(t, info.PackageManagers)
}

func TestProbeHostInfoFailure(t *testing.T) {
	p := newTestProber("linux", "apt")
	p.hostInfo = func() (*host.InfoStat, error) {
		return nil, errors.New("proc unavailable")
	}

	// Degrades to runtime identification, never fails.
	info := p.Probe()
	assert.NotEmpty(t, info.Arch)
	assert.NotEqual(t, Family(""), info.Family)
}

func TestInfoString(t *testing.T) {
	info := Info{Family: FamilyLinux, Distro: "debian", Arch: "x86_64"}
	assert.Equal(t, "linux/debian/x86_64", info.String())

	info = Info{Family: FamilyUnknown}
	assert.Equal(t, "unknown", info.String())
}
