package browser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/docker/docker/api/types/mount"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindChromeExplicitPath(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "chrome")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	got, err := FindChrome(bin)
	require.NoError(t, err)
	assert.Equal(t, bin, got)
}

func TestFindChromeRejectsNonExecutable(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "chrome")
	require.NoError(t, os.WriteFile(bin, []byte("not a binary"), 0o644))

	_, err := FindChrome(bin)
	assert.ErrorIs(t, err, ErrChromeNotFound)

	_, err = FindChrome(dir)
	assert.ErrorIs(t, err, ErrChromeNotFound)
}

func TestLaunchFlags(t *testing.T) {
	f := LaunchFlags(false)
	assert.Equal(t, []string{"AutomationControlled"}, f["disable-blink-features"])
	assert.Equal(t, []string{"no-user-gesture-required"}, f["autoplay-policy"])
	assert.NotContains(t, f, flags.NoSandbox)

	f = LaunchFlags(true)
	assert.Contains(t, f, flags.NoSandbox)
	assert.Contains(t, f, flags.Flag("disable-setuid-sandbox"))
}

func TestContainerSpecMountsProfile(t *testing.T) {
	cfg, host := containerSpec(DockerOptions{Image: "browserless/chrome:latest"}, "/srv/profile")

	assert.Equal(t, "browserless/chrome:latest", cfg.Image)
	assert.Contains(t, cfg.ExposedPorts, devtoolsPort)
	require.Len(t, host.Mounts, 1)
	assert.Equal(t, mount.TypeBind, host.Mounts[0].Type)
	assert.Equal(t, "/srv/profile", host.Mounts[0].Source)
	assert.Equal(t, "/data", host.Mounts[0].Target)
	require.Len(t, host.PortBindings[devtoolsPort], 1)
	assert.Equal(t, "0", host.PortBindings[devtoolsPort][0].HostPort)
}
