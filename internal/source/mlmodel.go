package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const mlModelName = "ML Model"

// StatusRechecking labels an ML verdict that could not be obtained. A
// failed remote call carries no safety signal, so the entry is marked for a
// later re-check instead of guessing a verdict.
const StatusRechecking = "Rechecking"

// MLModel submits a URL to the remote scoring endpoint and formats its
// safe/unsafe percentage pair into a human-readable status.
type MLModel struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// MLModelOptions tune the adapter; zero values pick defaults.
type MLModelOptions struct {
	Timeout time.Duration
}

// NewMLModel creates the adapter. Pass nil for logger to disable logging.
func NewMLModel(endpoint string, opts MLModelOptions, logger *slog.Logger) *MLModel {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &MLModel{
		endpoint: endpoint,
		client:   &http.Client{Timeout: opts.Timeout},
		logger:   logger,
	}
}

func (m *MLModel) Name() string { return mlModelName }

type mlRequest struct {
	URL string `json:"url"`
}

type mlResponse struct {
	SafetyPercentage float64 `json:"safety_percentage"`
	UnsafePercentage float64 `json:"unsafe_percentage"`
	Safe             bool    `json:"safe"`
}

// Check scores the URL. The status carries whichever of the two returned
// percentages is larger, formatted "{percentage}% Safe" or
// "{percentage}% Unsafe". Any failure yields Unknown with the Rechecking
// status.
func (m *MLModel) Check(ctx context.Context, rawURL string) Result {
	body, err := json.Marshal(mlRequest{URL: rawURL})
	if err != nil {
		m.logger.Warn("ml model request encode failed", "error", err)
		return m.recheck()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		m.logger.Warn("ml model request build failed", "error", err)
		return m.recheck()
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Warn("ml model check failed", "error", err)
		return m.recheck()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		m.logger.Warn("ml model check failed", "error", fmt.Errorf("HTTP %d", resp.StatusCode))
		return m.recheck()
	}

	var out mlResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		m.logger.Warn("ml model response decode failed", "error", err)
		return m.recheck()
	}

	outcome := OutcomeUnsafe
	if out.Safe {
		outcome = OutcomeSafe
	}
	return Result{Outcome: outcome, Source: mlModelName, Status: formatStatus(out)}
}

func (m *MLModel) recheck() Result {
	return Result{Outcome: OutcomeUnknown, Source: mlModelName, Status: StatusRechecking}
}

func formatStatus(r mlResponse) string {
	if r.SafetyPercentage > r.UnsafePercentage {
		return formatPercent(r.SafetyPercentage) + "% Safe"
	}
	return formatPercent(r.UnsafePercentage) + "% Unsafe"
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
