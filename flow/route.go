package flow

// Label names one outcome of a routing decision. Routers declare the full
// set of labels they can return, which lets graph compilation verify that
// every possible decision maps to a registered step.
type Label string

// Router selects the label describing where a session goes after a step
// completes. Route must be a pure function of the merged state: the engine
// re-evaluates it when a session is reloaded from a checkpoint, so any
// nondeterminism would break resume.
type Router interface {
	// Route inspects the state produced by the completed step and returns
	// one of the labels declared by Labels.
	Route(state State) Label

	// Labels returns the closed set of labels Route can produce.
	Labels() []Label
}

type routerFunc struct {
	fn     func(State) Label
	labels []Label
}

func (r routerFunc) Route(state State) Label { return r.fn(state) }
func (r routerFunc) Labels() []Label         { return r.labels }

// NewRouter builds a Router from a decision function and its declared label
// set.
func NewRouter(fn func(State) Label, labels ...Label) Router {
	return routerFunc{fn: fn, labels: labels}
}

// ValueRouter routes on the string stored under the given state value key.
// The declared labels are exactly the provided options; a stored value
// outside the options routes to the first option, which callers should make
// their conservative default.
func ValueRouter(key string, options ...Label) Router {
	return routerFunc{
		labels: options,
		fn: func(s State) Label {
			got := Label(s.StringValue(key))
			for _, opt := range options {
				if got == opt {
					return got
				}
			}
			return options[0]
		},
	}
}
