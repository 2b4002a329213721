package engine

import (
	"fmt"
	"sort"

	"github.com/kubeforge-io/kubeforge/internal/ir"
)

// Plan is a validated, dependency-ordered sequence of resource descriptors.
// The apply order is topological; Reverse gives the exact mirror for teardown.
type Plan struct {
	order []*ir.Descriptor
	index map[string]*ir.Descriptor
}

// dfs colors for cycle detection.
type color int

const (
	white color = iota // unvisited
	gray               // on the current traversal stack
	black              // fully explored
)

// BuildPlan validates a descriptor set and produces its apply order.
// Validation rejects duplicate ids, references to descriptors not in the
// set, and dependency cycles (reported with the full cycle path).
// Tie-breaking among ready resources is by ascending id, so the plan is
// deterministic for a given input set.
func BuildPlan(descriptors []*ir.Descriptor) (*Plan, error) {
	index := make(map[string]*ir.Descriptor, len(descriptors))
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			return nil, &ValidationError{Reason: err.Error()}
		}
		if _, dup := index[d.ID]; dup {
			return nil, &ValidationError{Reason: fmt.Sprintf("duplicate resource id %q", d.ID)}
		}
		index[d.ID] = d
	}

	for _, d := range descriptors {
		for _, dep := range d.DependsOn {
			if _, ok := index[dep]; !ok {
				return nil, &ValidationError{
					Reason: fmt.Sprintf("resource %q depends on unknown resource %q", d.ID, dep),
				}
			}
		}
	}

	if err := detectCycles(index); err != nil {
		return nil, err
	}

	order, err := topoSort(index)
	if err != nil {
		return nil, err
	}

	return &Plan{order: order, index: index}, nil
}

// detectCycles runs a depth-first traversal with three-color marking.
// Reentering a gray node means the traversal stack contains a cycle.
func detectCycles(index map[string]*ir.Descriptor) error {
	colors := make(map[string]color, len(index))

	// Deterministic traversal start order keeps the reported cycle stable.
	ids := sortedIDs(index)

	var visit func(id string, stack []string) error
	visit = func(id string, stack []string) error {
		colors[id] = gray
		stack = append(stack, id)

		deps := append([]string(nil), index[id].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			switch colors[dep] {
			case gray:
				return &CycleError{Path: cyclePath(stack, dep)}
			case white:
				if err := visit(dep, stack); err != nil {
					return err
				}
			}
		}

		colors[id] = black
		return nil
	}

	for _, id := range ids {
		if colors[id] == white {
			if err := visit(id, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// cyclePath trims the traversal stack to the cycle itself and closes it.
func cyclePath(stack []string, reentered string) []string {
	start := 0
	for i, id := range stack {
		if id == reentered {
			start = i
			break
		}
	}
	return append(append([]string(nil), stack[start:]...), reentered)
}

// topoSort is Kahn's algorithm with the ready set kept in ascending id
// order, so equal-rank resources always come out in the same order.
func topoSort(index map[string]*ir.Descriptor) ([]*ir.Descriptor, error) {
	inDegree := make(map[string]int, len(index))
	dependents := make(map[string][]string, len(index))
	for id, d := range index {
		inDegree[id] = len(d.DependsOn)
		for _, dep := range d.DependsOn {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]*ir.Descriptor, 0, len(index))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, index[id])

		var unlocked []string
		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				unlocked = append(unlocked, dep)
			}
		}
		if len(unlocked) > 0 {
			ready = append(ready, unlocked...)
			sort.Strings(ready)
		}
	}

	// Cycle detection already ran, so this only guards internal bugs.
	if len(order) != len(index) {
		return nil, &ValidationError{Reason: "dependency graph could not be fully ordered"}
	}
	return order, nil
}

func sortedIDs(index map[string]*ir.Descriptor) []string {
	ids := make([]string, 0, len(index))
	for id := range index {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Order returns the apply order. The slice is a copy.
func (p *Plan) Order() []*ir.Descriptor {
	return append([]*ir.Descriptor(nil), p.order...)
}

// Reverse returns the exact mirror of the apply order, used for teardown:
// a resource is destroyed only after everything depending on it.
func (p *Plan) Reverse() []*ir.Descriptor {
	out := make([]*ir.Descriptor, len(p.order))
	for i, d := range p.order {
		out[len(p.order)-1-i] = d
	}
	return out
}

// Get returns the descriptor with the given id, if present.
func (p *Plan) Get(id string) (*ir.Descriptor, bool) {
	d, ok := p.index[id]
	return d, ok
}

// Dependencies returns the declared dependencies of the given resource.
func (p *Plan) Dependencies(id string) []string {
	if d, ok := p.index[id]; ok {
		return append([]string(nil), d.DependsOn...)
	}
	return nil
}

// Size returns the number of resources in the plan.
func (p *Plan) Size() int {
	return len(p.order)
}
