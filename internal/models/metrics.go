package models

import "time"

// AgentMetrics is the periodic health report published to the metrics
// topic. The per-session write and error counters are how operators detect
// a tracker that silently stopped producing fresh data.
type AgentMetrics struct {
	Timestamp     time.Time       `json:"timestamp"`
	CPUPercent    float64         `json:"cpu_percent"`
	MemoryPercent float64         `json:"memory_percent"`
	Sessions      []SessionStatus `json:"sessions"`
}
