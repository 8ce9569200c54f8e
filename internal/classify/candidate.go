package classify

import (
	"regexp"

	"github.com/linksentry/linksentry/pkg/types"
)

var (
	// Full URLs: an http(s) scheme or a www. prefix followed by anything
	// non-blank.
	fullURLPattern = regexp.MustCompile(`(?i)^(https?://|www\.)\S+$`)

	// Bare label.tld-shaped domains with a TLD of at least two letters.
	bareDomainPattern = regexp.MustCompile(`^[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// DetectKind decides whether a scanned string is checkable as a URL.
// Anything that is neither a full URL nor a bare domain is plain text and
// short-circuits classification without any network calls.
func DetectKind(candidate string) types.CandidateKind {
	if fullURLPattern.MatchString(candidate) {
		return types.CandidateURL
	}
	if bareDomainPattern.MatchString(candidate) {
		return types.CandidateBareDomain
	}
	return types.CandidatePlainText
}
