package module

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AetharaAI/lotus/internal/types"
)

// BuildLoadOrder computes the boot order for a set of descriptors: a
// topological sort on declared dependencies, with priority as the tiebreak
// among independent modules (critical before high before normal before low)
// and name as the final tiebreak for determinism.
//
// A dependency on an unknown module and a dependency cycle are both fatal
// configuration errors; a cycle diagnostic names every module on the cycle.
func BuildLoadOrder(descs []*Descriptor) ([]string, error) {
	byName := make(map[string]*Descriptor, len(descs))
	for _, d := range descs {
		if _, dup := byName[d.Name]; dup {
			return nil, types.NewError(types.MODULE_MANIFEST_INVALID,
				fmt.Sprintf("duplicate module name %q", d.Name))
		}
		byName[d.Name] = d
	}

	// In-degree per module and reverse adjacency (dependency -> dependents).
	indegree := make(map[string]int, len(descs))
	dependents := make(map[string][]string, len(descs))
	for _, d := range descs {
		indegree[d.Name] += 0
		for _, dep := range d.Dependencies.Modules {
			if _, ok := byName[dep]; !ok {
				return nil, types.NewError(types.MODULE_MANIFEST_INVALID,
					fmt.Sprintf("module %q depends on unknown module %q", d.Name, dep))
			}
			indegree[d.Name]++
			dependents[dep] = append(dependents[dep], d.Name)
		}
	}

	// Kahn's algorithm; the ready set is re-sorted each round so the
	// priority tiebreak holds among currently independent modules.
	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(descs))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			ri, rj := byName[ready[i]].Priority.Rank(), byName[ready[j]].Priority.Rank()
			if ri != rj {
				return ri < rj
			}
			return ready[i] < ready[j]
		})

		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dependent := range dependents[next] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(descs) {
		cycle := findCycle(byName)
		return nil, types.NewError(types.MODULE_CYCLE_DETECTED,
			"dependency cycle detected: "+strings.Join(cycle, " -> "))
	}

	return order, nil
}

// findCycle walks the dependency graph depth-first and returns one cycle
// path, closed on itself (e.g. [a b a]), for the boot diagnostic.
func findCycle(byName map[string]*Descriptor) []string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)

	state := make(map[string]int, len(byName))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		state[name] = inStack
		stack = append(stack, name)

		for _, dep := range byName[name].Dependencies.Modules {
			switch state[dep] {
			case inStack:
				// Found it: slice the stack from the first occurrence of dep.
				for i, n := range stack {
					if n == dep {
						cycle = append(append(cycle, stack[i:]...), dep)
						return true
					}
				}
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[name] = done
		return false
	}

	// Deterministic traversal order for a deterministic diagnostic.
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if state[name] == unvisited && visit(name) {
			return cycle
		}
	}
	return nil
}
