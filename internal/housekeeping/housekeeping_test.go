package housekeeping

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbforge/dbforge/internal/container"
	"github.com/dbforge/dbforge/internal/paths"
	"github.com/dbforge/dbforge/internal/supervisor"
	"github.com/dbforge/dbforge/pkg/config"
)

func testSetup(t *testing.T) (*container.Manager, *supervisor.Supervisor) {
	t.Helper()
	root := t.TempDir()
	mgr := container.New(paths.New(root), nil)
	sup := supervisor.New(config.SupervisorConfig{
		PollInterval: 10 * time.Millisecond,
	}, nil)
	return mgr, sup
}

func TestReconcileMarksRunningContainerFromLivePIDFile(t *testing.T) {
	mgr, sup := testSetup(t)
	c, err := mgr.Create("redis", "cache1", "7.2", container.CreateOptions{})
	require.NoError(t, err)
	require.Equal(t, container.StatusCreated, c.Manifest.Status)

	require.NoError(t, os.WriteFile(c.PidFile, []byte(strconv.Itoa(os.Getpid())), 0o644))

	r := New(mgr, sup, nil, nil, nil)
	require.NoError(t, r.Reconcile(context.Background()))

	reloaded, err := mgr.Load("redis", "cache1")
	require.NoError(t, err)
	require.Equal(t, container.StatusRunning, reloaded.Manifest.Status)
}

func TestReconcileMarksStoppedContainerWithNoPIDFile(t *testing.T) {
	mgr, sup := testSetup(t)
	c, err := mgr.Create("redis", "cache2", "7.2", container.CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, mgr.UpdateStatus(c, container.StatusRunning))

	r := New(mgr, sup, nil, nil, nil)
	require.NoError(t, r.Reconcile(context.Background()))

	reloaded, err := mgr.Load("redis", "cache2")
	require.NoError(t, err)
	require.Equal(t, container.StatusStopped, reloaded.Manifest.Status)
}

func TestReconcileLeavesAgreeingStatusUntouched(t *testing.T) {
	mgr, sup := testSetup(t)
	c, err := mgr.Create("redis", "cache3", "7.2", container.CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, mgr.UpdateStatus(c, container.StatusStopped))
	before := c.Manifest.UpdatedAt

	r := New(mgr, sup, nil, nil, nil)
	require.NoError(t, r.Reconcile(context.Background()))

	reloaded, err := mgr.Load("redis", "cache3")
	require.NoError(t, err)
	require.Equal(t, container.StatusStopped, reloaded.Manifest.Status)
	require.True(t, before.Equal(reloaded.Manifest.UpdatedAt))
}

func TestReconcileCoversEveryKnownEngine(t *testing.T) {
	mgr, sup := testSetup(t)
	_, err := mgr.Create("postgresql", "pg1", "16", container.CreateOptions{})
	require.NoError(t, err)
	_, err = mgr.Create("mysql", "my1", "8.0", container.CreateOptions{})
	require.NoError(t, err)

	r := New(mgr, sup, nil, nil, nil)
	require.NoError(t, r.Reconcile(context.Background()))

	pg, err := mgr.Load("postgresql", "pg1")
	require.NoError(t, err)
	require.Equal(t, container.StatusStopped, pg.Manifest.Status)

	my, err := mgr.Load("mysql", "my1")
	require.NoError(t, err)
	require.Equal(t, container.StatusStopped, my.Manifest.Status)
}

func TestStartAndStopScheduleWithoutPanicking(t *testing.T) {
	mgr, sup := testSetup(t)
	r := New(mgr, sup, nil, nil, nil)
	require.NoError(t, r.Start("@every 1h"))
	r.Stop()
}
