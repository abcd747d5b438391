package supervisor

import (
	"context"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/dbforge/dbforge/pkg/config"
	"github.com/stretchr/testify/require"
)

func testConfig() config.SupervisorConfig {
	return config.SupervisorConfig{
		StartTimeout:         2 * time.Second,
		GracefulTimeout:      200 * time.Millisecond,
		SignalTimeout:        200 * time.Millisecond,
		WindowsSignalTimeout: 200 * time.Millisecond,
		ForcedSettleTimeout:  200 * time.Millisecond,
		PollInterval:         10 * time.Millisecond,
	}
}

func sleepCmd(seconds string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.Command("timeout", "/T", seconds)
	}
	return exec.Command("sleep", seconds)
}

func TestSpawnWritesPIDAndStatusReportsRunning(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses posix sleep")
	}
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "engine.pid")
	logFile := filepath.Join(dir, "engine.log")

	sup := New(testConfig(), nil)
	pid, err := sup.Spawn(sleepCmd("5"), pidFile, logFile, false)
	require.NoError(t, err)
	require.Greater(t, pid, 0)

	status := sup.Status(pidFile)
	require.True(t, status.Running)
	require.Equal(t, pid, status.PID)

	require.NoError(t, sup.Stop(context.Background(), pidFile, nil))
	require.False(t, sup.IsRunning(pidFile))
}

func TestStatusNoPIDFileIsNotRunning(t *testing.T) {
	dir := t.TempDir()
	sup := New(testConfig(), nil)
	status := sup.Status(filepath.Join(dir, "missing.pid"))
	require.False(t, status.Running)
}

func TestStopWithNoPIDFileIsNoop(t *testing.T) {
	dir := t.TempDir()
	sup := New(testConfig(), nil)
	require.NoError(t, sup.Stop(context.Background(), filepath.Join(dir, "missing.pid"), nil))
}

func TestStopEscalatesWhenGracefulCallbackFails(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses posix sleep")
	}
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "engine.pid")
	logFile := filepath.Join(dir, "engine.log")

	sup := New(testConfig(), nil)
	_, err := sup.Spawn(sleepCmd("5"), pidFile, logFile, false)
	require.NoError(t, err)

	failingGraceful := func(ctx context.Context) error { return context.DeadlineExceeded }
	require.NoError(t, sup.Stop(context.Background(), pidFile, failingGraceful))
	require.False(t, sup.IsRunning(pidFile))
}
