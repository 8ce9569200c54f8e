package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultSafeBrowsingEndpoint is the Google Safe Browsing v4 Lookup API.
const DefaultSafeBrowsingEndpoint = "https://safebrowsing.googleapis.com/v4/threatMatches:find"

const safeBrowsingName = "Google Safe Browsing"

// SafeBrowsing queries the Safe Browsing threat-matching service. A
// response without matches is treated as a clean signal, not as unknown:
// this source indexes threats broadly enough that absence of a match
// counts as Safe.
type SafeBrowsing struct {
	endpoint      string
	apiKey        string
	clientID      string
	clientVersion string
	client        *http.Client
	logger        *slog.Logger
}

// SafeBrowsingOptions tune the adapter; zero values pick defaults.
type SafeBrowsingOptions struct {
	Endpoint      string
	ClientID      string
	ClientVersion string
	Timeout       time.Duration
}

// NewSafeBrowsing creates the adapter. Pass nil for logger to disable logging.
func NewSafeBrowsing(apiKey string, opts SafeBrowsingOptions, logger *slog.Logger) *SafeBrowsing {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultSafeBrowsingEndpoint
	}
	if opts.ClientID == "" {
		opts.ClientID = "linksentry"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &SafeBrowsing{
		endpoint:      opts.Endpoint,
		apiKey:        apiKey,
		clientID:      opts.ClientID,
		clientVersion: opts.ClientVersion,
		client:        &http.Client{Timeout: opts.Timeout},
		logger:        logger,
	}
}

func (s *SafeBrowsing) Name() string { return safeBrowsingName }

type sbRequest struct {
	Client     sbClient     `json:"client"`
	ThreatInfo sbThreatInfo `json:"threatInfo"`
}

type sbClient struct {
	ClientID      string `json:"clientId"`
	ClientVersion string `json:"clientVersion"`
}

type sbThreatInfo struct {
	ThreatTypes      []string        `json:"threatTypes"`
	PlatformTypes    []string        `json:"platformTypes"`
	ThreatEntryTypes []string        `json:"threatEntryTypes"`
	ThreatEntries    []sbThreatEntry `json:"threatEntries"`
}

type sbThreatEntry struct {
	URL string `json:"url"`
}

type sbResponse struct {
	Matches []json.RawMessage `json:"matches"`
}

// Check submits the URL for matching against all threat categories on any
// platform. Any match is Unsafe; an empty response is Safe; a transport or
// decode failure is Unknown.
func (s *SafeBrowsing) Check(ctx context.Context, rawURL string) Result {
	payload := sbRequest{
		Client: sbClient{ClientID: s.clientID, ClientVersion: s.clientVersion},
		ThreatInfo: sbThreatInfo{
			ThreatTypes: []string{
				"MALWARE",
				"SOCIAL_ENGINEERING",
				"UNWANTED_SOFTWARE",
				"POTENTIALLY_HARMFUL_APPLICATION",
			},
			PlatformTypes:    []string{"ANY_PLATFORM"},
			ThreatEntryTypes: []string{"URL"},
			ThreatEntries:    []sbThreatEntry{{URL: rawURL}},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("safe browsing request encode failed", "error", err)
		return Result{Outcome: OutcomeUnknown}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"?key="+s.apiKey, bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("safe browsing request build failed", "error", err)
		return Result{Outcome: OutcomeUnknown}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("safe browsing check failed", "error", err)
		return Result{Outcome: OutcomeUnknown}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("safe browsing check failed", "error", fmt.Errorf("HTTP %d", resp.StatusCode))
		return Result{Outcome: OutcomeUnknown}
	}

	var out sbResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		s.logger.Warn("safe browsing response decode failed", "error", err)
		return Result{Outcome: OutcomeUnknown}
	}

	if len(out.Matches) > 0 {
		return Result{Outcome: OutcomeUnsafe, Source: safeBrowsingName}
	}
	return Result{Outcome: OutcomeSafe, Source: safeBrowsingName}
}
