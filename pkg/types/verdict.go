package types

import "time"

// CandidateKind is the shape of a scanned string, decided before any
// remote check runs.
type CandidateKind string

const (
	CandidateURL        CandidateKind = "url"
	CandidateBareDomain CandidateKind = "bare_domain"
	CandidatePlainText  CandidateKind = "plain_text"
)

// Verdict is the safety determination for one scanned candidate plus the
// metadata justifying it. Exactly one verdict exists per distinct candidate
// in the history store; later verdicts replace earlier ones.
type Verdict struct {
	Candidate     string    `json:"candidate"`
	IsSafe        bool      `json:"is_safe"`
	Source        string    `json:"source"`
	SafetyStatus  string    `json:"safety_status"`
	LastCheckedAt time.Time `json:"last_checked_at"`
}

// SameResult reports whether two verdicts agree on everything except the
// check timestamp. Reconciliation uses this to decide whether a store
// rewrite is needed.
func (v Verdict) SameResult(o Verdict) bool {
	return v.IsSafe == o.IsSafe && v.Source == o.Source && v.SafetyStatus == o.SafetyStatus
}
