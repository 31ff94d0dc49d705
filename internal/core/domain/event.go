package domain

import "time"

// OptimizationEvent records one applied profile transition. Unchanged
// recommendations append nothing.
type OptimizationEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	FromProfile ProfileName    `json:"from_profile"`
	ToProfile   ProfileName    `json:"to_profile"`
	Reasons     []string       `json:"reasons"`
	Metrics     NetworkMetrics `json:"metrics"`
}
