package classify

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/linksentry/linksentry/internal/source"
	"github.com/linksentry/linksentry/pkg/types"
)

// Verdict labels shared with the stored history.
const (
	SourcePlainText     = "Plain Text / Number"
	StatusPlainTextSafe = "Plain Text / Number - Safe"
	StatusFullySafe     = "100% Safe"
	StatusFullyUnsafe   = "100% Unsafe"

	// A failure that escapes an adapter boundary yields this verdict
	// instead of a crash past the pipeline.
	SourceError        = "Error"
	StatusRecheckError = "Error during recheck"
)

// Decision is one tier's contribution: either a terminal verdict or a pass
// to the next tier.
type Decision struct {
	Decided      bool
	IsSafe       bool
	Source       string
	SafetyStatus string
}

// Tier is one ordered step of the verification pipeline: a source checker
// plus the rule that turns its answer into a terminal verdict or a pass.
// The priority order and the early-exit rule live in the tier list itself,
// not in nested conditionals.
type Tier struct {
	Name  string
	Check func(ctx context.Context, rawURL string) Decision
}

// BlocklistTier terminates classification only on an Unsafe answer; a Safe
// or Unknown answer passes through. An Unsafe verdict is never overwritten
// by a later tier because no later tier runs.
func BlocklistTier(c source.Checker) Tier {
	return Tier{
		Name: c.Name(),
		Check: func(ctx context.Context, rawURL string) Decision {
			r := c.Check(ctx, rawURL)
			if r.Outcome == source.OutcomeUnsafe {
				return Decision{Decided: true, IsSafe: false, Source: r.Source, SafetyStatus: StatusFullyUnsafe}
			}
			return Decision{}
		},
	}
}

// AllowlistTier terminates classification only on a Safe answer. A
// recognized reputable domain skips every later tier, including the ML
// oracle.
func AllowlistTier(c source.Checker) Tier {
	return Tier{
		Name: c.Name(),
		Check: func(ctx context.Context, rawURL string) Decision {
			r := c.Check(ctx, rawURL)
			if r.Outcome == source.OutcomeSafe {
				return Decision{Decided: true, IsSafe: true, Source: r.Source, SafetyStatus: StatusFullySafe}
			}
			return Decision{}
		},
	}
}

// OracleTier always terminates, taking the source's verdict verbatim. An
// Unknown answer (the oracle was unreachable) keeps the source's recheck
// status rather than guessing a verdict.
func OracleTier(c source.Checker) Tier {
	return Tier{
		Name: c.Name(),
		Check: func(ctx context.Context, rawURL string) Decision {
			r := c.Check(ctx, rawURL)
			status := r.Status
			if status == "" {
				status = source.StatusRechecking
			}
			src := r.Source
			if src == "" {
				src = c.Name()
			}
			return Decision{
				Decided:      true,
				IsSafe:       r.Outcome == source.OutcomeSafe,
				Source:       src,
				SafetyStatus: status,
			}
		},
	}
}

// Engine runs a candidate through the ordered tier list and produces the
// final verdict. It owns no long-lived state of its own; the index and the
// response cache are borrowed by the checkers behind the tiers.
type Engine struct {
	tiers  []Tier
	logger *slog.Logger
}

// New builds the standard pipeline: Safe Browsing, then VirusTotal, then
// the allow-list, then the ML oracle.
func New(safeBrowsing, virusTotal, allowlist, oracle source.Checker, logger *slog.Logger) *Engine {
	return NewWithTiers([]Tier{
		BlocklistTier(safeBrowsing),
		BlocklistTier(virusTotal),
		AllowlistTier(allowlist),
		OracleTier(oracle),
	}, logger)
}

// NewWithTiers builds an engine over an explicit tier list. Pass nil for
// logger to disable logging.
func NewWithTiers(tiers []Tier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{tiers: tiers, logger: logger}
}

// Classify produces a verdict for a scanned string. Plain text is safe by
// definition and triggers no checks; URLs walk the tiers in order until one
// decides. Classify never panics past the pipeline boundary: an escaped
// failure becomes the recheck-error verdict.
func (e *Engine) Classify(ctx context.Context, candidate string) (v types.Verdict) {
	v = types.Verdict{
		Candidate:     candidate,
		IsSafe:        true,
		Source:        SourcePlainText,
		SafetyStatus:  StatusPlainTextSafe,
		LastCheckedAt: time.Now().UTC(),
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("classification failed", "candidate", candidate, "panic", r)
			v = types.Verdict{
				Candidate:     candidate,
				IsSafe:        false,
				Source:        SourceError,
				SafetyStatus:  StatusRecheckError,
				LastCheckedAt: time.Now().UTC(),
			}
		}
	}()

	if DetectKind(candidate) == types.CandidatePlainText {
		return v
	}

	for _, tier := range e.tiers {
		d := tier.Check(ctx, candidate)
		if !d.Decided {
			continue
		}
		v.IsSafe = d.IsSafe
		v.Source = d.Source
		v.SafetyStatus = d.SafetyStatus
		e.logger.Debug("classification decided",
			"candidate", candidate, "tier", tier.Name, "safe", v.IsSafe, "status", v.SafetyStatus)
		return v
	}

	// Every tier passed, which the standard pipeline cannot do (the oracle
	// always decides). Leave the entry for a manual re-check.
	e.logger.Warn("no tier decided", "candidate", candidate)
	v.IsSafe = false
	v.Source = SourceError
	v.SafetyStatus = StatusRecheckError
	return v
}
