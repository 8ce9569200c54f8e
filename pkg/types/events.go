package types

import "time"

// Event types published on the notification broker and to webhooks.
const (
	EventVerdictRecorded   = "verdict_recorded"
	EventHistoryUpdated    = "history_updated"
	EventHistoryCleared    = "history_cleared"
	EventHistoryReconciled = "history_reconciled"
	EventFavouriteAdded    = "favourite_added"
	EventFavouriteRemoved  = "favourite_removed"
)

// Event is a change notification emitted by the pipeline so observers
// (history views, favourites views, export sinks) can refresh.
type Event struct {
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`

	// Candidate is set for single-verdict events.
	Candidate string `json:"candidate,omitempty"`

	Fields map[string]any `json:"fields,omitempty"`
}
