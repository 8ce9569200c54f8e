package source

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/linksentry/linksentry/internal/reputation"
)

const allowlistName = "Tranco Database"

// Allowlist consults the local reputable-domain index. It only ever vouches
// for a URL: a listed hostname is Safe, anything else is Unknown, never
// Unsafe. The match is on the exact hostname.
type Allowlist struct {
	index  *reputation.Index
	logger *slog.Logger
}

// NewAllowlist creates the adapter. Pass nil for logger to disable logging.
func NewAllowlist(index *reputation.Index, logger *slog.Logger) *Allowlist {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Allowlist{index: index, logger: logger}
}

func (a *Allowlist) Name() string { return allowlistName }

// Check normalizes the URL by prefixing https:// when no scheme is present,
// extracts the hostname, and queries the index. An unparseable URL or a
// failed index build degrades to Unknown.
func (a *Allowlist) Check(ctx context.Context, rawURL string) Result {
	normalized := rawURL
	lower := strings.ToLower(rawURL)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		normalized = "https://" + rawURL
	}

	u, err := url.Parse(normalized)
	if err != nil {
		a.logger.Warn("allowlist url parse failed", "error", err)
		return Result{Outcome: OutcomeUnknown}
	}
	host := u.Hostname()
	if host == "" {
		return Result{Outcome: OutcomeUnknown}
	}

	if a.index.Contains(host) {
		return Result{Outcome: OutcomeSafe, Source: allowlistName}
	}
	return Result{Outcome: OutcomeUnknown}
}
