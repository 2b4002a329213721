package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeforge-io/kubeforge/internal/ir"
)

func desc(id string, kind ir.Kind, deps ...string) *ir.Descriptor {
	return &ir.Descriptor{ID: id, Kind: kind, Provider: "null", DependsOn: deps}
}

func orderIDs(p *Plan) []string {
	var ids []string
	for _, d := range p.Order() {
		ids = append(ids, d.ID)
	}
	return ids
}

func TestBuildPlan_NoDependencies(t *testing.T) {
	plan, err := BuildPlan([]*ir.Descriptor{
		desc("b", ir.KindIamRole),
		desc("c", ir.KindSecret),
		desc("a", ir.KindCluster),
	})
	require.NoError(t, err)

	// Equal-rank resources come out in ascending id order.
	assert.Equal(t, []string{"a", "b", "c"}, orderIDs(plan))
}

func TestBuildPlan_DependencyOrder(t *testing.T) {
	plan, err := BuildPlan([]*ir.Descriptor{
		desc("s1", ir.KindPlatformStack, "c1", "r1"),
		desc("c1", ir.KindCluster),
		desc("r1", ir.KindIamRole),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"c1", "r1", "s1"}, orderIDs(plan))
}

func TestBuildPlan_Deterministic(t *testing.T) {
	build := func() []string {
		plan, err := BuildPlan([]*ir.Descriptor{
			desc("pipeline", ir.KindPipeline, "stack"),
			desc("stack", ir.KindPlatformStack, "cluster"),
			desc("cluster", ir.KindCluster, "role"),
			desc("role", ir.KindIamRole),
			desc("extra", ir.KindSecret),
		})
		require.NoError(t, err)
		return orderIDs(plan)
	}

	first := build()
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, build())
	}
}

func TestBuildPlan_Cycle(t *testing.T) {
	_, err := BuildPlan([]*ir.Descriptor{
		desc("a", ir.KindCluster, "b"),
		desc("b", ir.KindIamRole, "a"),
	})
	require.Error(t, err)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"a", "b", "a"}, cycleErr.Path)
	assert.Contains(t, err.Error(), "a -> b -> a")
}

func TestBuildPlan_SelfCycle(t *testing.T) {
	_, err := BuildPlan([]*ir.Descriptor{
		desc("a", ir.KindCluster, "a"),
	})

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"a", "a"}, cycleErr.Path)
}

func TestBuildPlan_LongCycle(t *testing.T) {
	_, err := BuildPlan([]*ir.Descriptor{
		desc("a", ir.KindCluster, "b"),
		desc("b", ir.KindIamRole, "c"),
		desc("c", ir.KindSecret, "a"),
		desc("ok", ir.KindPipeline),
	})

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	// The cycle closes on the node that was reentered.
	assert.Equal(t, cycleErr.Path[0], cycleErr.Path[len(cycleErr.Path)-1])
	assert.Len(t, cycleErr.Path, 4)
}

func TestBuildPlan_DuplicateID(t *testing.T) {
	_, err := BuildPlan([]*ir.Descriptor{
		desc("a", ir.KindCluster),
		desc("a", ir.KindIamRole),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate resource id")
}

func TestBuildPlan_MissingDependency(t *testing.T) {
	_, err := BuildPlan([]*ir.Descriptor{
		desc("a", ir.KindCluster, "ghost"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `depends on unknown resource "ghost"`)
}

func TestBuildPlan_InvalidDescriptor(t *testing.T) {
	_, err := BuildPlan([]*ir.Descriptor{
		{ID: "", Kind: ir.KindCluster, Provider: "null"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty id")

	_, err = BuildPlan([]*ir.Descriptor{
		{ID: "x", Kind: "Blob", Provider: "null"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestPlan_Reverse(t *testing.T) {
	plan, err := BuildPlan([]*ir.Descriptor{
		desc("s1", ir.KindPlatformStack, "c1"),
		desc("c1", ir.KindCluster, "r1"),
		desc("r1", ir.KindIamRole),
	})
	require.NoError(t, err)

	var reversed []string
	for _, d := range plan.Reverse() {
		reversed = append(reversed, d.ID)
	}
	assert.Equal(t, []string{"s1", "c1", "r1"}, reversed)
	// Reverse must be the exact mirror of Order.
	assert.Equal(t, []string{"r1", "c1", "s1"}, orderIDs(plan))
}

func TestPlan_Accessors(t *testing.T) {
	plan, err := BuildPlan([]*ir.Descriptor{
		desc("a", ir.KindCluster),
		desc("b", ir.KindPipeline, "a"),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, plan.Size())

	d, ok := plan.Get("b")
	require.True(t, ok)
	assert.Equal(t, ir.KindPipeline, d.Kind)

	_, ok = plan.Get("nope")
	assert.False(t, ok)

	assert.Equal(t, []string{"a"}, plan.Dependencies("b"))
	assert.Empty(t, plan.Dependencies("a"))
}
