package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kubeforge-io/kubeforge/internal/ir"
	"github.com/kubeforge-io/kubeforge/internal/logging"
	"github.com/kubeforge-io/kubeforge/internal/secrets"
	"github.com/kubeforge-io/kubeforge/internal/state"
)

// Engine runs a plan against a state store, one resource at a time.
// Within one run every state transition is persisted before the next
// step, so a crashed run can be resumed from the store.
type Engine struct {
	// Retry governs transient-error retries. Nil means DefaultRetryPolicy.
	Retry *RetryPolicy

	// Timeout bounds each resource action. Zero means DefaultTimeout.
	// A descriptor's own timeout field overrides it.
	Timeout time.Duration
}

// New returns an engine with default retry and timeout settings.
func New() *Engine {
	return &Engine{
		Retry:   DefaultRetryPolicy(),
		Timeout: DefaultTimeout,
	}
}

// Apply provisions the plan in dependency order. The first resource that
// fails permanently halts the run (fail-fast); nothing after it is started.
// Resources already Applied and marked idempotent are skipped. Cancellation
// is honored between resources and aborts the run.
func (e *Engine) Apply(ctx context.Context, plan *Plan, store state.Store, broker secrets.Broker) (*ir.ExecutionReport, error) {
	log := logging.Logger()
	startedAt := time.Now()

	if err := e.initStates(ctx, plan, store); err != nil {
		return nil, err
	}

	report := func(outcome ir.Outcome, failedID string) (*ir.ExecutionReport, error) {
		return e.buildReport(ctx, store, outcome, failedID, startedAt)
	}

	for _, d := range plan.Order() {
		if ctx.Err() != nil {
			log.Warn("run cancelled", "resource", d.ID)
			return report(ir.OutcomeAborted, "")
		}

		rs, err := store.Get(ctx, d.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read state for %s: %w", d.ID, err)
		}

		if rs.Status == ir.StatusApplied && d.Idempotent {
			log.Info("skipping resource, already applied", "resource", d.ID, "kind", d.Kind)
			continue
		}

		creds, err := e.resolveSecrets(ctx, d, broker)
		if err != nil {
			// Broker failures are permanent: retrying cannot conjure a
			// secret into existence or fix a policy.
			log.Error("credential resolution failed", "resource", d.ID, "error", err)
			rs.Status = ir.StatusFailed
			rs.LastError = err.Error()
			if perr := store.Put(ctx, rs); perr != nil {
				return nil, fmt.Errorf("failed to persist state for %s: %w", d.ID, perr)
			}
			return report(ir.OutcomePartialFailure, d.ID)
		}

		rs.Status = ir.StatusApplying
		rs.LastError = ""
		if err := store.Put(ctx, rs); err != nil {
			return nil, fmt.Errorf("failed to persist state for %s: %w", d.ID, err)
		}

		log.Info("applying resource", "resource", d.ID, "kind", d.Kind, "provider", d.Provider)
		runErr := e.runAction(ctx, d, d.Apply, creds, rs)

		if runErr == nil {
			rs.Status = ir.StatusApplied
			rs.LastError = ""
			if err := store.Put(context.Background(), rs); err != nil {
				return nil, fmt.Errorf("failed to persist state for %s: %w", d.ID, err)
			}
			log.Info("resource applied", "resource", d.ID, "attempts", rs.Attempts)
			continue
		}

		rs.Status = ir.StatusFailed
		rs.LastError = runErr.Error()
		// Terminal transitions persist even when the run context is gone.
		if err := store.Put(context.Background(), rs); err != nil {
			return nil, fmt.Errorf("failed to persist state for %s: %w", d.ID, err)
		}

		if ctx.Err() != nil || errors.Is(runErr, context.Canceled) {
			log.Warn("run cancelled during apply", "resource", d.ID)
			return report(ir.OutcomeAborted, d.ID)
		}

		log.Error("resource failed, halting run", "resource", d.ID, "error", runErr)
		return report(ir.OutcomePartialFailure, d.ID)
	}

	return report(ir.OutcomeSuccess, "")
}

// Destroy tears down the plan in reverse dependency order. Unlike apply,
// teardown is best-effort: a failed destroy is recorded and the run moves on
// to the next resource, so one stuck resource cannot strand everything
// beneath it. Cancellation still aborts between resources.
func (e *Engine) Destroy(ctx context.Context, plan *Plan, store state.Store) (*ir.ExecutionReport, error) {
	log := logging.Logger()
	startedAt := time.Now()

	failed := false
	for _, d := range plan.Reverse() {
		if ctx.Err() != nil {
			log.Warn("run cancelled", "resource", d.ID)
			return e.buildReport(ctx, store, ir.OutcomeAborted, "", startedAt)
		}

		rs, err := store.Get(ctx, d.ID)
		if err != nil {
			if errors.Is(err, state.ErrNotFound) {
				// Never tracked, nothing to tear down.
				continue
			}
			return nil, fmt.Errorf("failed to read state for %s: %w", d.ID, err)
		}

		if rs.Status == ir.StatusPending || rs.Status == ir.StatusDestroyed {
			continue
		}

		rs.Status = ir.StatusDestroying
		rs.LastError = ""
		if err := store.Put(ctx, rs); err != nil {
			return nil, fmt.Errorf("failed to persist state for %s: %w", d.ID, err)
		}

		log.Info("destroying resource", "resource", d.ID, "kind", d.Kind, "provider", d.Provider)
		runErr := e.runAction(ctx, d, d.Destroy, nil, rs)

		if runErr == nil {
			rs.Status = ir.StatusDestroyed
			rs.LastError = ""
			if err := store.Put(context.Background(), rs); err != nil {
				return nil, fmt.Errorf("failed to persist state for %s: %w", d.ID, err)
			}
			log.Info("resource destroyed", "resource", d.ID)
			continue
		}

		rs.Status = ir.StatusFailed
		rs.LastError = runErr.Error()
		if err := store.Put(context.Background(), rs); err != nil {
			return nil, fmt.Errorf("failed to persist state for %s: %w", d.ID, err)
		}

		if ctx.Err() != nil || errors.Is(runErr, context.Canceled) {
			log.Warn("run cancelled during destroy", "resource", d.ID)
			return e.buildReport(ctx, store, ir.OutcomeAborted, d.ID, startedAt)
		}

		log.Error("destroy failed, continuing", "resource", d.ID, "error", runErr)
		failed = true
	}

	outcome := ir.OutcomeSuccess
	if failed {
		outcome = ir.OutcomePartialFailure
	}
	return e.buildReport(ctx, store, outcome, "", startedAt)
}

// initStates ensures every plan resource has a durable record before any
// action runs, so a report always covers the whole plan.
func (e *Engine) initStates(ctx context.Context, plan *Plan, store state.Store) error {
	for _, d := range plan.Order() {
		_, err := store.Get(ctx, d.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, state.ErrNotFound) {
			return fmt.Errorf("failed to read state for %s: %w", d.ID, err)
		}
		rs := &ir.ResourceState{ID: d.ID, Status: ir.StatusPending}
		if err := store.Put(ctx, rs); err != nil {
			return fmt.Errorf("failed to initialize state for %s: %w", d.ID, err)
		}
	}
	return nil
}

// resolveSecrets fetches every secret the descriptor names. Values live only
// in the returned map for the duration of the action; they are never written
// to the store or the log.
func (e *Engine) resolveSecrets(ctx context.Context, d *ir.Descriptor, broker secrets.Broker) (map[string]string, error) {
	if len(d.Secrets) == 0 {
		return nil, nil
	}
	if broker == nil {
		return nil, fmt.Errorf("resource %s requires secrets but no credential broker is configured", d.ID)
	}

	creds := make(map[string]string, len(d.Secrets))
	for _, name := range d.Secrets {
		value, err := broker.Resolve(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve secret %q: %w", name, err)
		}
		creds[name] = value
	}
	return creds, nil
}

// runAction executes one action with the per-resource timeout and the
// transient-error retry policy. rs.Attempts counts every invocation across
// the retry loop and is left for the caller to persist with the terminal
// transition.
func (e *Engine) runAction(ctx context.Context, d *ir.Descriptor, action ir.ActionFunc, creds map[string]string, rs *ir.ResourceState) error {
	if action == nil {
		return NewPermanentError(fmt.Errorf("resource %s has no bound action", d.ID))
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if d.Timeout != "" {
		parsed, err := time.ParseDuration(d.Timeout)
		if err != nil {
			return NewPermanentError(fmt.Errorf("resource %s has invalid timeout %q: %w", d.ID, d.Timeout, err))
		}
		timeout = parsed
	}

	return RetryWithBackoff(ctx, e.Retry, func() error {
		rs.Attempts++
		actionCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return action(actionCtx, d, creds)
	}, func(err error) bool {
		if ctx.Err() != nil {
			return false
		}
		retry := IsTransient(err)
		if retry {
			logging.Logger().Warn("transient error, will retry",
				"resource", d.ID, "attempt", rs.Attempts, "error", err)
		}
		return retry
	})
}

// buildReport snapshots the store into an execution report. The snapshot
// uses a fresh context so an aborted run still yields a full report.
func (e *Engine) buildReport(_ context.Context, store state.Store, outcome ir.Outcome, failedID string, startedAt time.Time) (*ir.ExecutionReport, error) {
	snapshot, err := store.Snapshot(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot state: %w", err)
	}
	return &ir.ExecutionReport{
		Outcome:   outcome,
		Resources: snapshot,
		FailedID:  failedID,
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
	}, nil
}
