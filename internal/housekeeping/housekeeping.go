// Package housekeeping reconciles each container's advisory manifest
// status against the Process Supervisor's authoritative PID-file
// check, and refreshes stale tool registrations. It runs both
// on-demand (the CLI's list path) and on a cron schedule.
package housekeeping

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/dbforge/dbforge/internal/container"
	"github.com/dbforge/dbforge/internal/engine"
	"github.com/dbforge/dbforge/internal/metrics"
	"github.com/dbforge/dbforge/internal/supervisor"
	"github.com/dbforge/dbforge/internal/toolregistry"
	"github.com/dbforge/dbforge/pkg/logger"
)

// Reconciler owns the dependencies a reconciliation pass needs: the
// Container Manager for manifest truth, the Process Supervisor for
// live-process truth, and the Tool Registry for staleness refresh.
type Reconciler struct {
	containers *container.Manager
	supervisor *supervisor.Supervisor
	tools      *toolregistry.Registry
	metrics    *metrics.Metrics
	log        *logger.Logger

	mu sync.Mutex // serializes concurrent Reconcile calls, cron and on-demand alike
	cr *cron.Cron
}

// New builds a Reconciler. metrics may be nil.
func New(containers *container.Manager, sup *supervisor.Supervisor, tools *toolregistry.Registry, m *metrics.Metrics, log *logger.Logger) *Reconciler {
	return &Reconciler{
		containers: containers,
		supervisor: sup,
		tools:      tools,
		log:        log,
		metrics:    m,
	}
}

// Reconcile walks every container of every known engine, comparing the
// supervisor's live PID-file check against each manifest's advisory
// status, correcting the manifest when they disagree. It also
// refreshes the tool registry if its cached entries have gone stale.
// It is the same pass the CLI's list command triggers on demand and
// the cron schedule triggers periodically.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tools != nil {
		r.tools.RefreshIfStale()
	}

	running := 0
	var firstErr error
	for _, name := range engine.Names() {
		containers, err := r.containers.List(name)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("list containers for engine %q: %w", name, err)
			}
			continue
		}
		for _, c := range containers {
			observed := container.StatusStopped
			if r.supervisor.IsRunning(c.PidFile) {
				observed = container.StatusRunning
				running++
			}
			if observed == c.Manifest.Status {
				continue
			}
			if err := r.containers.UpdateStatus(c, observed); err != nil {
				if r.log != nil {
					r.log.WithField("container", c.Manifest.Name).WithField("error", err).Warn("failed to reconcile container status")
				}
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if r.log != nil {
				r.log.WithField("container", c.Manifest.Name).WithField("engine", name).WithField("status", string(observed)).Info("reconciled container status")
			}
		}
	}

	if r.metrics != nil {
		r.metrics.SetRunningContainers(running)
	}
	return firstErr
}

// Start begins cron-driven reconciliation on schedule (a standard
// five-field cron expression, e.g. "*/5 * * * *" for every five
// minutes) and returns immediately; call Stop to end it. Errors from
// individual Reconcile passes are logged, never propagated, since
// cron has no caller to return them to.
func (r *Reconciler) Start(schedule string) error {
	r.cr = cron.New()
	_, err := r.cr.AddFunc(schedule, func() {
		if err := r.Reconcile(context.Background()); err != nil && r.log != nil {
			r.log.WithField("error", err).Warn("scheduled reconciliation pass failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule reconciliation: %w", err)
	}
	r.cr.Start()
	return nil
}

// Stop ends the cron schedule started by Start. It is a no-op if
// Start was never called.
func (r *Reconciler) Stop() {
	if r.cr != nil {
		ctx := r.cr.Stop()
		<-ctx.Done()
	}
}
