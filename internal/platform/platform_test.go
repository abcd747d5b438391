package platform

import (
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetPlatformInfoNormalizesNames(t *testing.T) {
	info := GetPlatformInfo()
	require.Contains(t, []string{"darwin", "linux", "win32"}, info.OS)
	require.Contains(t, []string{"x64", "arm64"}, info.Arch)
}

func TestIsPortAvailableDetectsBoundPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	require.False(t, IsPortAvailable(port))
}

func TestFindToolOnPathFindsCurrentExecutable(t *testing.T) {
	require.NotEmpty(t, FindToolOnPath("go"))
}

func TestFindToolOnPathReturnsEmptyForUnknownTool(t *testing.T) {
	require.Empty(t, FindToolOnPath("definitely-not-a-real-tool-xyz"))
}

func TestIsProcessAliveForCurrentProcess(t *testing.T) {
	require.True(t, IsProcessAlive(os.Getpid()))
}

func TestIsProcessAliveForImpossiblePid(t *testing.T) {
	require.False(t, IsProcessAlive(999999999))
}

func TestRequireSupportedPlatformRejectsUnknown(t *testing.T) {
	err := RequireSupportedPlatform(Info{OS: "plan9", Arch: "x64"})
	require.Error(t, err)
}
