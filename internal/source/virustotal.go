package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/linksentry/linksentry/internal/cache"
)

// DefaultVirusTotalEndpoint is the VirusTotal v3 URL report endpoint.
const DefaultVirusTotalEndpoint = "https://www.virustotal.com/api/v3/urls"

const virusTotalName = "VirusTotal"

// VirusTotal checks a URL against previously completed VirusTotal analyses.
// The service is rate-limited, so definitive results are cached per raw URL
// and served without a network round trip on later lookups.
type VirusTotal struct {
	endpoint string
	apiKey   string
	cache    *cache.Store
	client   *http.Client
	logger   *slog.Logger
}

// VirusTotalOptions tune the adapter; zero values pick defaults.
type VirusTotalOptions struct {
	Endpoint string
	Timeout  time.Duration
}

// NewVirusTotal creates the adapter. The cache is required; pass nil for
// logger to disable logging.
func NewVirusTotal(apiKey string, c *cache.Store, opts VirusTotalOptions, logger *slog.Logger) *VirusTotal {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultVirusTotalEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &VirusTotal{
		endpoint: opts.Endpoint,
		apiKey:   apiKey,
		cache:    c,
		client:   &http.Client{Timeout: opts.Timeout},
		logger:   logger,
	}
}

func (v *VirusTotal) Name() string { return virusTotalName }

type vtResponse struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats struct {
				Malicious int `json:"malicious"`
			} `json:"last_analysis_stats"`
		} `json:"attributes"`
	} `json:"data"`
}

// Check looks the URL up in the response cache first. On a miss it fetches
// the existing analysis report; a vendor-flagged count above zero is
// Unsafe, zero is Safe, and a 404 means VirusTotal has never analyzed the
// URL, which is Unknown and deliberately not cached.
func (v *VirusTotal) Check(ctx context.Context, rawURL string) Result {
	if r, ok := v.cache.Get(rawURL); ok {
		return cachedResult(r)
	}

	id := base64.RawURLEncoding.EncodeToString([]byte(rawURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint+"/"+id, nil)
	if err != nil {
		v.logger.Warn("virustotal request build failed", "error", err)
		return Result{Outcome: OutcomeUnknown}
	}
	req.Header.Set("x-apikey", v.apiKey)

	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.Warn("virustotal check failed", "error", err)
		return Result{Outcome: OutcomeUnknown}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Never analyzed. Skip the tier and leave the cache untouched so a
		// future lookup can pick up a completed analysis.
		return Result{Outcome: OutcomeUnknown}
	}
	if resp.StatusCode != http.StatusOK {
		v.logger.Warn("virustotal check failed", "error", fmt.Errorf("HTTP %d", resp.StatusCode))
		return Result{Outcome: OutcomeUnknown}
	}

	var out vtResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		v.logger.Warn("virustotal response decode failed", "error", err)
		return Result{Outcome: OutcomeUnknown}
	}

	var entry cache.Result
	if n := out.Data.Attributes.LastAnalysisStats.Malicious; n > 0 {
		entry = cache.Result{Safe: false, Source: fmt.Sprintf("VirusTotal (Flagged by %d vendors)", n)}
	} else {
		entry = cache.Result{Safe: true, Source: virusTotalName}
	}
	if err := v.cache.Put(rawURL, entry); err != nil {
		v.logger.Warn("virustotal cache write failed", "error", err)
	}
	return cachedResult(entry)
}

func cachedResult(r cache.Result) Result {
	if r.Safe {
		return Result{Outcome: OutcomeSafe, Source: r.Source}
	}
	return Result{Outcome: OutcomeUnsafe, Source: r.Source}
}
