// Package reconciler periodically sweeps the VM ledger for expired and
// grace-period-elapsed VMs and dispatches the shutdown/destroy actions
// that move them through the lifecycle DAG.
//
// Adapted from the teacher's pkg/reconciler/reconciler.go ticker-loop
// shape: the same select{ticker.C, stopCh} structure, generalized from
// node/container reconciliation to VM-expiry reconciliation.
package reconciler

import (
	"context"
	"time"

	"github.com/blockhost/root-agent/internal/actions"
	"github.com/blockhost/root-agent/internal/ledger"
	"github.com/blockhost/root-agent/internal/metrics"
	"github.com/blockhost/root-agent/pkg/log"
)

// Reconciler drives the suspend/destroy sweep on a fixed interval.
type Reconciler struct {
	ledger    ledger.Ledger
	registry  *actions.Registry
	deps      *actions.Deps
	interval  time.Duration
	graceDays int
	stopCh    chan struct{}
}

// New returns a Reconciler that sweeps every interval, destroying VMs
// graceDays after suspension. It dispatches qm-shutdown/qm-destroy
// through the same registry the daemon uses for client requests, so
// sweep-driven calls pass through the identical validation path.
func New(l ledger.Ledger, registry *actions.Registry, deps *actions.Deps, interval time.Duration, graceDays int) *Reconciler {
	return &Reconciler{
		ledger:    l,
		registry:  registry,
		deps:      deps,
		interval:  interval,
		graceDays: graceDays,
		stopCh:    make(chan struct{}),
	}
}

// Run blocks, sweeping on each tick, until ctx is canceled or Stop is
// called.
func (r *Reconciler) Run(ctx context.Context) {
	logger := log.WithComponent("reconciler")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logger.Info().Dur("interval", r.interval).Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			r.sweep(ctx)
		case <-r.stopCh:
			logger.Info().Msg("reconciler stopped")
			return
		case <-ctx.Done():
			logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// Stop signals Run to return.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) dispatch(ctx context.Context, action string, vmid int) error {
	handler, ok := r.registry.Lookup(action)
	if !ok {
		return errUnknownAction(action)
	}
	resp := handler(ctx, r.deps, map[string]interface{}{"vmid": float64(vmid)})
	if !resp.OK {
		return errDispatchFailed(resp.Error)
	}
	return nil
}

func (r *Reconciler) sweep(ctx context.Context) {
	logger := log.WithComponent("reconciler")
	timer := metrics.NewTimer("reconciler-sweep")
	defer timer.Observe()

	now := time.Now()

	toSuspend := r.ledger.GetVMsToSuspend(now)
	for _, vm := range toSuspend {
		if err := r.dispatch(ctx, "qm-shutdown", vm.VMID); err != nil {
			logger.Warn().Str("vm", vm.Name).Err(err).Msg("suspend dispatch failed")
			continue
		}
		if err := r.ledger.MarkSuspended(vm.Name, now); err != nil {
			logger.Warn().Str("vm", vm.Name).Err(err).Msg("mark suspended failed")
		}
	}

	toDestroy := r.ledger.GetVMsToDestroy(now, r.graceDays)
	for _, vm := range toDestroy {
		if err := r.dispatch(ctx, "qm-destroy", vm.VMID); err != nil {
			logger.Warn().Str("vm", vm.Name).Err(err).Msg("destroy dispatch failed")
			continue
		}
		if err := r.ledger.MarkDestroyed(vm.Name, now); err != nil {
			logger.Warn().Str("vm", vm.Name).Err(err).Msg("mark destroyed failed")
		}
	}

	metrics.ReconcilerSweepsTotal.Inc()
	logger.Debug().Int("suspended", len(toSuspend)).Int("destroyed", len(toDestroy)).Msg("sweep complete")
}
