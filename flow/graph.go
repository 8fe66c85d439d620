package flow

import (
	"fmt"
	"sort"
)

// End is the terminal routing target. Routing a session to End completes
// the run.
const End = "__end__"

type edge struct {
	// Static target when router is nil.
	to string

	router  Router
	targets map[Label]string
}

// Graph is an immutable, validated workflow definition. A compiled graph is
// safe to share across engines and sessions.
type Graph struct {
	steps    map[string]Step
	policies map[string]StepPolicy
	edges    map[string]edge
	failures map[string]string
	entry    string
}

// Entry returns the name of the entry step.
func (g *Graph) Entry() string { return g.entry }

// StepNames returns the registered step names in sorted order.
func (g *Graph) StepNames() []string {
	names := make([]string, 0, len(g.steps))
	for name := range g.steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// next routes from a completed step over the merged state. It never fails
// at runtime: compilation guarantees every declared label has a target.
func (g *Graph) next(from string, state State) string {
	e := g.edges[from]
	if e.router == nil {
		return e.to
	}
	label := e.router.Route(state)
	if to, ok := e.targets[label]; ok {
		return to
	}
	// The router returned a label outside its declared set. Treat it as
	// terminal rather than guessing a step.
	return End
}

func (g *Graph) failureTarget(from string) (string, bool) {
	to, ok := g.failures[from]
	return to, ok
}

func (g *Graph) policy(step string) StepPolicy {
	return g.policies[step]
}

// Builder accumulates a workflow definition. Methods return the builder for
// chaining; all structural validation is deferred to Compile so a bad call
// order cannot panic.
type Builder struct {
	steps    map[string]Step
	policies map[string]StepPolicy
	edges    map[string]edge
	failures map[string]string
	entry    string
	problems []string
}

// NewBuilder creates an empty graph builder.
func NewBuilder() *Builder {
	return &Builder{
		steps:    make(map[string]Step),
		policies: make(map[string]StepPolicy),
		edges:    make(map[string]edge),
		failures: make(map[string]string),
	}
}

// AddStep registers a named step. Names must be unique and non-empty.
func (b *Builder) AddStep(name string, s Step) *Builder {
	switch {
	case name == "":
		b.problems = append(b.problems, "step name is empty")
	case name == End:
		b.problems = append(b.problems, fmt.Sprintf("step name %q is reserved", End))
	case s == nil:
		b.problems = append(b.problems, fmt.Sprintf("step %q is nil", name))
	default:
		if _, dup := b.steps[name]; dup {
			b.problems = append(b.problems, fmt.Sprintf("step %q registered twice", name))
			return b
		}
		b.steps[name] = s
	}
	return b
}

// WithPolicy attaches execution settings to a previously added step.
func (b *Builder) WithPolicy(name string, p StepPolicy) *Builder {
	b.policies[name] = p
	return b
}

// SetEntry declares the step every new run starts at.
func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

// AddEdge declares an unconditional edge from a step to a step or End.
func (b *Builder) AddEdge(from, to string) *Builder {
	b.setEdge(from, edge{to: to})
	return b
}

// AddConditionalEdges declares that after from completes, router picks a
// label and targets maps that label to the next step (or End). Compile
// rejects the graph unless targets covers exactly the router's declared
// label set.
func (b *Builder) AddConditionalEdges(from string, router Router, targets map[Label]string) *Builder {
	if router == nil {
		b.problems = append(b.problems, fmt.Sprintf("router for %q is nil", from))
		return b
	}
	b.setEdge(from, edge{router: router, targets: targets})
	return b
}

// AddFailureEdge declares where a session goes when from fails, instead of
// ending the run in the FAILED state. The failure is recorded under the
// "last_error" state value before the target runs.
func (b *Builder) AddFailureEdge(from, to string) *Builder {
	if _, dup := b.failures[from]; dup {
		b.problems = append(b.problems, fmt.Sprintf("step %q has multiple failure edges", from))
		return b
	}
	b.failures[from] = to
	return b
}

func (b *Builder) setEdge(from string, e edge) {
	if _, dup := b.edges[from]; dup {
		b.problems = append(b.problems, fmt.Sprintf("step %q has multiple outgoing edges", from))
		return
	}
	b.edges[from] = e
}

// Compile validates the definition and produces an immutable Graph.
//
// Validation rejects, among other things: a missing or unknown entry step,
// edges from or to unregistered steps, steps with no outgoing edge, router
// labels without a mapped target, and mapped targets for labels the router
// never declares. All problems found are reported together in a BuildError.
func (b *Builder) Compile() (*Graph, error) {
	problems := append([]string(nil), b.problems...)

	exists := func(name string) bool {
		_, ok := b.steps[name]
		return ok
	}

	switch {
	case b.entry == "":
		problems = append(problems, "no entry step set")
	case !exists(b.entry):
		problems = append(problems, fmt.Sprintf("entry step %q is not registered", b.entry))
	}

	for from, e := range b.edges {
		if !exists(from) {
			problems = append(problems, fmt.Sprintf("edge from unregistered step %q", from))
		}
		if e.router == nil {
			if e.to != End && !exists(e.to) {
				problems = append(problems, fmt.Sprintf("edge %q -> %q targets an unregistered step", from, e.to))
			}
			continue
		}

		if len(e.router.Labels()) == 0 {
			problems = append(problems, fmt.Sprintf("step %q: router declares no labels", from))
		}
		declared := make(map[Label]bool, len(e.router.Labels()))
		for _, label := range e.router.Labels() {
			declared[label] = true
			to, mapped := e.targets[label]
			if !mapped {
				problems = append(problems, fmt.Sprintf("step %q: label %q has no target", from, label))
				continue
			}
			if to != End && !exists(to) {
				problems = append(problems, fmt.Sprintf("step %q: label %q targets unregistered step %q", from, label, to))
			}
		}
		for label := range e.targets {
			if !declared[label] {
				problems = append(problems, fmt.Sprintf("step %q: target mapped for undeclared label %q", from, label))
			}
		}
	}

	for name := range b.steps {
		if _, ok := b.edges[name]; !ok {
			problems = append(problems, fmt.Sprintf("step %q has no outgoing edge (route it to flow.End if terminal)", name))
		}
	}

	for from, to := range b.failures {
		if !exists(from) {
			problems = append(problems, fmt.Sprintf("failure edge from unregistered step %q", from))
		}
		if to != End && !exists(to) {
			problems = append(problems, fmt.Sprintf("failure edge %q -> %q targets an unregistered step", from, to))
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, &BuildError{Problems: problems}
	}

	g := &Graph{
		steps:    make(map[string]Step, len(b.steps)),
		policies: make(map[string]StepPolicy, len(b.policies)),
		edges:    make(map[string]edge, len(b.edges)),
		failures: make(map[string]string, len(b.failures)),
		entry:    b.entry,
	}
	for k, v := range b.steps {
		g.steps[k] = v
	}
	for k, v := range b.policies {
		g.policies[k] = v
	}
	for k, v := range b.edges {
		g.edges[k] = v
	}
	for k, v := range b.failures {
		g.failures[k] = v
	}
	return g, nil
}
