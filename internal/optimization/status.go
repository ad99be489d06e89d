package optimization

// Status describes why an optimization run stopped. Exactly one status is
// produced per run.
type Status int

const (
	// Success is reported when a run ends without a more specific reason.
	Success Status = iota
	// DeltaConverged means the relative change of the objective fell below
	// the delta threshold, or the curvature information became degenerate.
	DeltaConverged
	// EpsilonConverged means the gradient norm fell below epsilon.
	EpsilonConverged
	// MaxIterReached means the iteration budget was exhausted.
	MaxIterReached
	// NonFinite means a step or position contained NaN or an infinity. The
	// returned position must be treated as garbage.
	NonFinite
	// LineSearchFailed means the line search ran out of retries without
	// satisfying both Wolfe conditions.
	LineSearchFailed
)

var statusStrings = map[Status]string{
	Success:          "success",
	DeltaConverged:   "delta_converged",
	EpsilonConverged: "epsilon_converged",
	MaxIterReached:   "max_iter_reached",
	NonFinite:        "non_finite",
	LineSearchFailed: "line_search_failed",
}

func (s Status) String() string {
	str, ok := statusStrings[s]
	if !ok {
		return "unknown"
	}
	return str
}

// Converged reports whether s describes a run that reached a minimizer.
func (s Status) Converged() bool {
	switch s {
	case Success, DeltaConverged, EpsilonConverged:
		return true
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler so statuses serialize by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
