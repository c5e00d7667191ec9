package strategy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/osslup/internal/platform"
)

// fakeResolver offers fixed repo versions per manager.
type fakeResolver struct {
	offers  map[string]string // manager -> repo version string
	missing map[string]bool   // manager -> binary absent from PATH
}

func (f *fakeResolver) Exists(mgr string) bool {
	return !f.missing[mgr]
}

func (f *fakeResolver) Resolve(_ context.Context, mgr, _ string, target *semver.Version) (string, bool) {
	repoVer, ok := f.offers[mgr]
	if !ok {
		return "", false
	}
	return repoVer, true
}

func newTestSelector(offers map[string]string, tools ...string) *Selector {
	s := NewSelector(zerolog.Nop(), &fakeResolver{offers: offers})
	toolSet := make(map[string]bool, len(tools))
	for _, t := range tools {
		toolSet[t] = true
	}
	s.lookPath = func(name string) (string, error) {
		if toolSet[name] {
			return "/usr/bin/" + name, nil
		}
		return "", errors.New("not found")
	}
	s.numCPU = func() int { return 4 }
	return s
}

var allBuildTools = []string{"make", "perl", "gcc"}

func linuxWith(managers ...string) platform.Info {
	return platform.Info{Family: platform.FamilyLinux, Arch: "x86_64", PackageManagers: managers}
}

func TestSelectNoManagerForcesSideInstall(t *testing.T) {
	s := newTestSelector(nil, allBuildTools...)

	for _, family := range []platform.Family{
		platform.FamilyLinux, platform.FamilyAIX, platform.FamilyHPUX,
		platform.FamilySolaris, platform.FamilyUnknown,
	} {
		pl := platform.Info{Family: family}
		plan, err := s.Select(context.Background(), "run-1", pl, semver.MustParse("3.0.8"), Options{})
		require.NoError(t, err, "family %s", family)
		assert.Equal(t, KindSideInstall, plan.Kind, "family %s", family)
	}
}

func TestSelectVersionNotOfferedForcesSideInstall(t *testing.T) {
	s := newTestSelector(nil, allBuildTools...)

	plan, err := s.Select(context.Background(), "run-1", linuxWith("apt", "dnf"), semver.MustParse("3.0.8"), Options{})
	require.NoError(t, err)
	assert.Equal(t, KindSideInstall, plan.Kind)
	assert.Empty(t, plan.Manager)
}

func TestSelectPackageManagerExactMatch(t *testing.T) {
	s := newTestSelector(map[string]string{"apt": "3.2.0-1ubuntu1"}, allBuildTools...)

	plan, err := s.Select(context.Background(), "run-1", linuxWith("apt", "dnf"), semver.MustParse("3.2.0"), Options{})
	require.NoError(t, err)

	assert.Equal(t, KindPackageManager, plan.Kind)
	assert.Equal(t, "apt", plan.Manager)
	assert.Equal(t, "3.2.0-1ubuntu1", plan.RepoVersion)
	assert.True(t, plan.Destructive)
	require.Len(t, plan.Steps, 2)
	assert.Contains(t, plan.Steps[1].CommandLine(), "openssl=3.2.0-1ubuntu1")
}

func TestSelectPreferenceOrderWins(t *testing.T) {
	// Both managers offer the version; the first in preference order wins.
	s := newTestSelector(map[string]string{"apt": "3.2.0-1", "dnf": "3.2.0-2"}, allBuildTools...)

	plan, err := s.Select(context.Background(), "run-1", linuxWith("apt", "dnf"), semver.MustParse("3.2.0"), Options{})
	require.NoError(t, err)
	assert.Equal(t, "apt", plan.Manager)
}

func TestSelectManagerGoneFromPathSkipped(t *testing.T) {
	// The probe listed apt, but its binary has since vanished; the offer it
	// would have made must not be trusted.
	s := newTestSelector(map[string]string{"apt": "3.2.0-1"}, allBuildTools...)
	s.pm.(*fakeResolver).missing = map[string]bool{"apt": true}

	plan, err := s.Select(context.Background(), "run-1", linuxWith("apt"), semver.MustParse("3.2.0"), Options{})
	require.NoError(t, err)
	assert.Equal(t, KindSideInstall, plan.Kind)
	assert.Empty(t, plan.Manager)
}

func TestSideInstallPrefixVersionNamespaced(t *testing.T) {
	s := newTestSelector(nil, allBuildTools...)

	plan, err := s.Select(context.Background(), "run-1", linuxWith(), semver.MustParse("3.0.8"), Options{})
	require.NoError(t, err)

	assert.Equal(t, "/opt/openssl-3.0.8", plan.Prefix)
	assert.NotContains(t, []string{"/usr", "/usr/local", "/opt"}, plan.Prefix)
}

func TestSideInstallStepSequence(t *testing.T) {
	s := newTestSelector(nil, allBuildTools...)

	plan, err := s.Select(context.Background(), "run-1", linuxWith(), semver.MustParse("3.0.8"), Options{})
	require.NoError(t, err)

	var names []string
	for _, st := range plan.Steps {
		names = append(names, st.Name)
	}
	assert.Equal(t, []string{"fetch-source", "extract", "configure", "build", "test", "install"}, names)

	fetch := plan.Steps[0]
	assert.Equal(t, StepFetch, fetch.Kind)
	assert.Contains(t, fetch.URL, "openssl-3.0.8.tar.gz")
	assert.True(t, fetch.Required)

	assert.False(t, plan.Steps[4].Required, "make test failures must not halt the install")
	assert.False(t, plan.Destructive, "isolated-prefix side-install is reversible by deleting one directory")

	for _, st := range plan.Steps {
		if st.Kind == StepExec && st.Dir != "" {
			assert.Contains(t, st.Dir, "openssl-3.0.8")
		}
	}
}

func TestSideInstallLinkDefaultAddsDestructiveSteps(t *testing.T) {
	s := newTestSelector(nil, allBuildTools...)

	plan, err := s.Select(context.Background(), "run-1", linuxWith(), semver.MustParse("3.0.8"), Options{LinkDefault: true})
	require.NoError(t, err)

	assert.True(t, plan.Destructive)
	last := plan.Steps[len(plan.Steps)-1]
	assert.Equal(t, "register-ldconfig", last.Name)
	assert.True(t, last.Destructive)

	link := plan.Steps[len(plan.Steps)-2]
	assert.Equal(t, "link-default", link.Name)
	assert.True(t, link.Destructive)
}

func TestSideInstallLegacyUnixConfigure(t *testing.T) {
	s := newTestSelector(nil, allBuildTools...)

	plan, err := s.Select(context.Background(), "run-1",
		platform.Info{Family: platform.FamilyAIX}, semver.MustParse("3.0.8"), Options{})
	require.NoError(t, err)

	var configure Step
	for _, st := range plan.Steps {
		if st.Name == "configure" {
			configure = st
		}
	}
	assert.Equal(t, "./Configure", configure.Argv[0])
}

func TestSideInstallMissingBuildTools(t *testing.T) {
	s := newTestSelector(nil, "make") // no perl, no compiler

	_, err := s.Select(context.Background(), "run-1", linuxWith(), semver.MustParse("3.0.8"), Options{})
	require.Error(t, err)

	var toolsErr *BuildToolsError
	require.ErrorAs(t, err, &toolsErr)
	assert.Contains(t, strings.Join(toolsErr.Missing, ","), "perl")
}

func TestSideInstallLegacyLetterVersion(t *testing.T) {
	s := newTestSelector(nil, allBuildTools...)
	target := semver.MustParse("1.1.1+w") // parsed form of "1.1.1w"

	plan, err := s.Select(context.Background(), "run-1", linuxWith(), target, Options{})
	require.NoError(t, err)
	assert.Equal(t, "/opt/openssl-1.1.1w", plan.Prefix)
	assert.Contains(t, plan.Steps[0].URL, "openssl-1.1.1w.tar.gz")
}

func TestVersionString(t *testing.T) {
	assert.Equal(t, "3.0.8", VersionString(semver.MustParse("3.0.8")))
	assert.Equal(t, "1.1.1w", VersionString(semver.MustParse("1.1.1+w")))
}
