package source

import "context"

// Outcome is the tier-level signal a checker contributes to classification.
type Outcome int

const (
	// OutcomeUnknown means the source has no opinion on the URL;
	// classification proceeds to the next tier. Adapter failures degrade to
	// OutcomeUnknown, never to a crash.
	OutcomeUnknown Outcome = iota
	OutcomeSafe
	OutcomeUnsafe
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSafe:
		return "safe"
	case OutcomeUnsafe:
		return "unsafe"
	default:
		return "unknown"
	}
}

// Result is one source's answer for a URL.
type Result struct {
	Outcome Outcome

	// Source names the authority behind a definitive outcome, e.g.
	// "Google Safe Browsing" or "VirusTotal (Flagged by 7 vendors)".
	Source string

	// Status is an optional human-readable label. Only the ML oracle sets
	// it; the other sources leave the label to the classification policy.
	Status string
}

// Checker wraps one external reputation or threat source. Implementations
// are stateless and absorb their own transport failures; Check never
// returns an error to the caller.
type Checker interface {
	Name() string
	Check(ctx context.Context, rawURL string) Result
}
