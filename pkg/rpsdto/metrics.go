package rpsdto

// AbandonmentMetrics is the operational view combining the cleanup
// recommendation with the condensed monitoring numbers.
type AbandonmentMetrics struct {
	CleanupRecommended bool     `json:"cleanup_recommended"`
	Reason             string   `json:"reason,omitempty"`
	ActiveMatches      int      `json:"active_matches"`
	CompletionRate     float64  `json:"completion_rate"`
	ErrorRate          float64  `json:"error_rate"`
	Alerts             []string `json:"alerts,omitempty"`
}
