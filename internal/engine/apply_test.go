package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeforge-io/kubeforge/internal/ir"
	"github.com/kubeforge-io/kubeforge/internal/secrets"
	"github.com/kubeforge-io/kubeforge/internal/state"
)

func testEngine() *Engine {
	return &Engine{Retry: fastPolicy(), Timeout: 5 * time.Second}
}

// recorder tracks action invocations per resource id.
type recorder struct {
	order []string
}

func (r *recorder) action(err error) ir.ActionFunc {
	return func(_ context.Context, d *ir.Descriptor, _ map[string]string) error {
		r.order = append(r.order, d.ID)
		return err
	}
}

func mustPlan(t *testing.T, descriptors []*ir.Descriptor) *Plan {
	t.Helper()
	plan, err := BuildPlan(descriptors)
	require.NoError(t, err)
	return plan
}

func statusOf(t *testing.T, store state.Store, id string) *ir.ResourceState {
	t.Helper()
	rs, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	return rs
}

func TestApply_Success(t *testing.T) {
	rec := &recorder{}
	ok := rec.action(nil)

	plan := mustPlan(t, []*ir.Descriptor{
		{ID: "stack", Kind: ir.KindPlatformStack, Provider: "null", DependsOn: []string{"cluster"}, Apply: ok},
		{ID: "cluster", Kind: ir.KindCluster, Provider: "null", DependsOn: []string{"role"}, Apply: ok},
		{ID: "role", Kind: ir.KindIamRole, Provider: "null", Apply: ok},
	})

	store := state.NewMemory()
	report, err := testEngine().Apply(context.Background(), plan, store, nil)
	require.NoError(t, err)

	assert.Equal(t, ir.OutcomeSuccess, report.Outcome)
	assert.Empty(t, report.FailedID)
	assert.Equal(t, []string{"role", "cluster", "stack"}, rec.order)

	for _, id := range []string{"role", "cluster", "stack"} {
		rs := statusOf(t, store, id)
		assert.Equal(t, ir.StatusApplied, rs.Status)
		assert.Equal(t, 1, rs.Attempts)
		assert.Empty(t, rs.LastError)
	}
}

func TestApply_SkipsIdempotentApplied(t *testing.T) {
	rec := &recorder{}
	plan := mustPlan(t, []*ir.Descriptor{
		{ID: "a", Kind: ir.KindCluster, Provider: "null", Idempotent: true, Apply: rec.action(nil)},
		{ID: "b", Kind: ir.KindSecret, Provider: "null", Apply: rec.action(nil)},
	})

	store := state.NewMemory()
	require.NoError(t, store.Put(context.Background(), &ir.ResourceState{ID: "a", Status: ir.StatusApplied, Attempts: 1}))

	report, err := testEngine().Apply(context.Background(), plan, store, nil)
	require.NoError(t, err)

	assert.Equal(t, ir.OutcomeSuccess, report.Outcome)
	// Only b ran; a was already applied and marked idempotent.
	assert.Equal(t, []string{"b"}, rec.order)
}

func TestApply_ReappliesNonIdempotent(t *testing.T) {
	rec := &recorder{}
	plan := mustPlan(t, []*ir.Descriptor{
		{ID: "a", Kind: ir.KindCluster, Provider: "null", Apply: rec.action(nil)},
	})

	store := state.NewMemory()
	require.NoError(t, store.Put(context.Background(), &ir.ResourceState{ID: "a", Status: ir.StatusApplied, Attempts: 1}))

	_, err := testEngine().Apply(context.Background(), plan, store, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, rec.order)
}

func TestApply_FailFast(t *testing.T) {
	rec := &recorder{}
	plan := mustPlan(t, []*ir.Descriptor{
		{ID: "a", Kind: ir.KindIamRole, Provider: "null", Apply: rec.action(nil)},
		{ID: "b", Kind: ir.KindCluster, Provider: "null", DependsOn: []string{"a"},
			Apply: rec.action(NewPermanentError(errors.New("role arn rejected")))},
		{ID: "c", Kind: ir.KindPlatformStack, Provider: "null", DependsOn: []string{"b"}, Apply: rec.action(nil)},
	})

	store := state.NewMemory()
	report, err := testEngine().Apply(context.Background(), plan, store, nil)
	require.NoError(t, err)

	assert.Equal(t, ir.OutcomePartialFailure, report.Outcome)
	assert.Equal(t, "b", report.FailedID)
	assert.Equal(t, []string{"a", "b"}, rec.order)

	assert.Equal(t, ir.StatusApplied, statusOf(t, store, "a").Status)

	b := statusOf(t, store, "b")
	assert.Equal(t, ir.StatusFailed, b.Status)
	assert.Contains(t, b.LastError, "role arn rejected")
	assert.Equal(t, 1, b.Attempts)

	// c never started.
	assert.Equal(t, ir.StatusPending, statusOf(t, store, "c").Status)
}

func TestApply_RetriesTransient(t *testing.T) {
	calls := 0
	plan := mustPlan(t, []*ir.Descriptor{
		{ID: "a", Kind: ir.KindCluster, Provider: "null",
			Apply: func(_ context.Context, _ *ir.Descriptor, _ map[string]string) error {
				calls++
				if calls < 3 {
					return NewTransientError(errors.New("throttled"))
				}
				return nil
			}},
	})

	store := state.NewMemory()
	report, err := testEngine().Apply(context.Background(), plan, store, nil)
	require.NoError(t, err)

	assert.Equal(t, ir.OutcomeSuccess, report.Outcome)
	rs := statusOf(t, store, "a")
	assert.Equal(t, ir.StatusApplied, rs.Status)
	assert.Equal(t, 3, rs.Attempts)
}

func TestApply_RetryExhausted(t *testing.T) {
	plan := mustPlan(t, []*ir.Descriptor{
		{ID: "a", Kind: ir.KindCluster, Provider: "null",
			Apply: func(_ context.Context, _ *ir.Descriptor, _ map[string]string) error {
				return NewTransientError(errors.New("still throttled"))
			}},
	})

	store := state.NewMemory()
	report, err := testEngine().Apply(context.Background(), plan, store, nil)
	require.NoError(t, err)

	assert.Equal(t, ir.OutcomePartialFailure, report.Outcome)
	rs := statusOf(t, store, "a")
	assert.Equal(t, ir.StatusFailed, rs.Status)
	assert.Contains(t, rs.LastError, "max retries")
	// Initial attempt plus three retries.
	assert.Equal(t, 4, rs.Attempts)
}

func TestApply_SecretResolutionFailureIsPermanent(t *testing.T) {
	rec := &recorder{}
	plan := mustPlan(t, []*ir.Descriptor{
		{ID: "a", Kind: ir.KindSecret, Provider: "null", Secrets: []string{"db/password"}, Apply: rec.action(nil)},
	})

	store := state.NewMemory()
	report, err := testEngine().Apply(context.Background(), plan, store, secrets.Static{})
	require.NoError(t, err)

	assert.Equal(t, ir.OutcomePartialFailure, report.Outcome)
	assert.Equal(t, "a", report.FailedID)
	// The action never ran.
	assert.Empty(t, rec.order)

	rs := statusOf(t, store, "a")
	assert.Equal(t, ir.StatusFailed, rs.Status)
	assert.Contains(t, rs.LastError, "secret not found")
}

func TestApply_SecretsPassedToActionNotPersisted(t *testing.T) {
	var got map[string]string
	plan := mustPlan(t, []*ir.Descriptor{
		{ID: "a", Kind: ir.KindSecret, Provider: "null", Secrets: []string{"db/password"},
			Apply: func(_ context.Context, _ *ir.Descriptor, creds map[string]string) error {
				got = creds
				return nil
			}},
	})

	store := state.NewMemory()
	broker := secrets.Static{"db/password": "hunter2"}
	report, err := testEngine().Apply(context.Background(), plan, store, broker)
	require.NoError(t, err)

	assert.Equal(t, ir.OutcomeSuccess, report.Outcome)
	assert.Equal(t, "hunter2", got["db/password"])

	// The secret value must not leak into durable state or the report.
	for _, rs := range report.Resources {
		assert.NotContains(t, rs.LastError, "hunter2")
		assert.NotContains(t, rs.ID, "hunter2")
	}
}

func TestApply_MissingBroker(t *testing.T) {
	plan := mustPlan(t, []*ir.Descriptor{
		{ID: "a", Kind: ir.KindSecret, Provider: "null", Secrets: []string{"token"},
			Apply: func(_ context.Context, _ *ir.Descriptor, _ map[string]string) error { return nil }},
	})

	store := state.NewMemory()
	report, err := testEngine().Apply(context.Background(), plan, store, nil)
	require.NoError(t, err)

	assert.Equal(t, ir.OutcomePartialFailure, report.Outcome)
	assert.Contains(t, statusOf(t, store, "a").LastError, "no credential broker")
}

func TestApply_CancelledBetweenResources(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	rec := &recorder{}
	plan := mustPlan(t, []*ir.Descriptor{
		{ID: "a", Kind: ir.KindCluster, Provider: "null",
			Apply: func(_ context.Context, d *ir.Descriptor, _ map[string]string) error {
				rec.order = append(rec.order, d.ID)
				cancel()
				return nil
			}},
		{ID: "b", Kind: ir.KindPlatformStack, Provider: "null", DependsOn: []string{"a"}, Apply: rec.action(nil)},
	})

	store := state.NewMemory()
	report, err := testEngine().Apply(ctx, plan, store, nil)
	require.NoError(t, err)

	assert.Equal(t, ir.OutcomeAborted, report.Outcome)
	// a finished before the cancellation took effect at the boundary.
	assert.Equal(t, []string{"a"}, rec.order)
	assert.Equal(t, ir.StatusApplied, statusOf(t, store, "a").Status)
	assert.Equal(t, ir.StatusPending, statusOf(t, store, "b").Status)
}

func TestApply_TimeoutFromDescriptor(t *testing.T) {
	plan := mustPlan(t, []*ir.Descriptor{
		{ID: "slow", Kind: ir.KindCluster, Provider: "null", Timeout: "10ms",
			Apply: func(ctx context.Context, _ *ir.Descriptor, _ map[string]string) error {
				<-ctx.Done()
				return ctx.Err()
			}},
	})

	store := state.NewMemory()
	eng := &Engine{Retry: &RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, Timeout: time.Minute}
	report, err := eng.Apply(context.Background(), plan, store, nil)
	require.NoError(t, err)

	assert.Equal(t, ir.OutcomePartialFailure, report.Outcome)
	rs := statusOf(t, store, "slow")
	assert.Equal(t, ir.StatusFailed, rs.Status)
	// A deadline expiry counts as transient, so the retry budget was spent.
	assert.Equal(t, 2, rs.Attempts)
}

func TestApply_UnboundAction(t *testing.T) {
	plan := mustPlan(t, []*ir.Descriptor{
		{ID: "a", Kind: ir.KindCluster, Provider: "null"},
	})

	store := state.NewMemory()
	report, err := testEngine().Apply(context.Background(), plan, store, nil)
	require.NoError(t, err)

	assert.Equal(t, ir.OutcomePartialFailure, report.Outcome)
	assert.Contains(t, statusOf(t, store, "a").LastError, "no bound action")
}

func TestDestroy_ReverseOrder(t *testing.T) {
	rec := &recorder{}
	ok := rec.action(nil)

	descriptors := []*ir.Descriptor{
		{ID: "stack", Kind: ir.KindPlatformStack, Provider: "null", DependsOn: []string{"cluster"}, Apply: ok, Destroy: ok},
		{ID: "cluster", Kind: ir.KindCluster, Provider: "null", DependsOn: []string{"role"}, Apply: ok, Destroy: ok},
		{ID: "role", Kind: ir.KindIamRole, Provider: "null", Apply: ok, Destroy: ok},
	}
	plan := mustPlan(t, descriptors)

	store := state.NewMemory()
	_, err := testEngine().Apply(context.Background(), plan, store, nil)
	require.NoError(t, err)

	rec.order = nil
	report, err := testEngine().Destroy(context.Background(), plan, store)
	require.NoError(t, err)

	assert.Equal(t, ir.OutcomeSuccess, report.Outcome)
	assert.Equal(t, []string{"stack", "cluster", "role"}, rec.order)
	for _, id := range []string{"role", "cluster", "stack"} {
		assert.Equal(t, ir.StatusDestroyed, statusOf(t, store, id).Status)
	}
}

func TestDestroy_BestEffort(t *testing.T) {
	rec := &recorder{}
	ok := rec.action(nil)

	plan := mustPlan(t, []*ir.Descriptor{
		{ID: "a", Kind: ir.KindIamRole, Provider: "null", Apply: ok, Destroy: ok},
		{ID: "b", Kind: ir.KindCluster, Provider: "null", DependsOn: []string{"a"}, Apply: ok,
			Destroy: rec.action(NewPermanentError(errors.New("deletion protection enabled")))},
		{ID: "c", Kind: ir.KindPlatformStack, Provider: "null", DependsOn: []string{"b"}, Apply: ok, Destroy: ok},
	})

	store := state.NewMemory()
	_, err := testEngine().Apply(context.Background(), plan, store, nil)
	require.NoError(t, err)

	rec.order = nil
	report, err := testEngine().Destroy(context.Background(), plan, store)
	require.NoError(t, err)

	// b failed but a was still attempted afterwards.
	assert.Equal(t, ir.OutcomePartialFailure, report.Outcome)
	assert.Equal(t, []string{"c", "b", "a"}, rec.order)

	assert.Equal(t, ir.StatusDestroyed, statusOf(t, store, "c").Status)
	b := statusOf(t, store, "b")
	assert.Equal(t, ir.StatusFailed, b.Status)
	assert.Contains(t, b.LastError, "deletion protection")
	assert.Equal(t, ir.StatusDestroyed, statusOf(t, store, "a").Status)
}

func TestDestroy_SkipsUntrackedAndPending(t *testing.T) {
	rec := &recorder{}
	plan := mustPlan(t, []*ir.Descriptor{
		{ID: "a", Kind: ir.KindCluster, Provider: "null", Destroy: rec.action(nil)},
		{ID: "b", Kind: ir.KindSecret, Provider: "null", Destroy: rec.action(nil)},
	})

	store := state.NewMemory()
	// a was never applied; b has no record at all.
	require.NoError(t, store.Put(context.Background(), &ir.ResourceState{ID: "a", Status: ir.StatusPending}))

	report, err := testEngine().Destroy(context.Background(), plan, store)
	require.NoError(t, err)

	assert.Equal(t, ir.OutcomeSuccess, report.Outcome)
	assert.Empty(t, rec.order)
}

func TestDestroy_CancelledBetweenResources(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	rec := &recorder{}
	ok := rec.action(nil)
	plan := mustPlan(t, []*ir.Descriptor{
		{ID: "a", Kind: ir.KindIamRole, Provider: "null", Apply: ok, Destroy: rec.action(nil)},
		{ID: "b", Kind: ir.KindCluster, Provider: "null", DependsOn: []string{"a"}, Apply: ok,
			Destroy: func(_ context.Context, d *ir.Descriptor, _ map[string]string) error {
				rec.order = append(rec.order, d.ID)
				cancel()
				return nil
			}},
	})

	store := state.NewMemory()
	_, err := testEngine().Apply(ctx, plan, store, nil)
	require.NoError(t, err)

	rec.order = nil
	report, err := testEngine().Destroy(ctx, plan, store)
	require.NoError(t, err)

	assert.Equal(t, ir.OutcomeAborted, report.Outcome)
	assert.Equal(t, []string{"b"}, rec.order)
	assert.Equal(t, ir.StatusDestroyed, statusOf(t, store, "b").Status)
	// a was never reached.
	assert.Equal(t, ir.StatusApplied, statusOf(t, store, "a").Status)
}

func TestApply_ResumeAfterFailure(t *testing.T) {
	store := state.NewMemory()

	fail := true
	flaky := func(_ context.Context, _ *ir.Descriptor, _ map[string]string) error {
		if fail {
			return NewPermanentError(errors.New("quota exceeded"))
		}
		return nil
	}

	rec := &recorder{}
	descriptors := []*ir.Descriptor{
		{ID: "a", Kind: ir.KindIamRole, Provider: "null", Idempotent: true, Apply: rec.action(nil)},
		{ID: "b", Kind: ir.KindCluster, Provider: "null", DependsOn: []string{"a"}, Apply: flaky},
	}
	plan := mustPlan(t, descriptors)

	report, err := testEngine().Apply(context.Background(), plan, store, nil)
	require.NoError(t, err)
	require.Equal(t, ir.OutcomePartialFailure, report.Outcome)

	// Second run: a is skipped, b succeeds.
	fail = false
	rec.order = nil
	report, err = testEngine().Apply(context.Background(), plan, store, nil)
	require.NoError(t, err)

	assert.Equal(t, ir.OutcomeSuccess, report.Outcome)
	assert.Empty(t, rec.order, "idempotent applied resource must not re-run")
	assert.Equal(t, ir.StatusApplied, statusOf(t, store, "b").Status)
}
