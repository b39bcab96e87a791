// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "time"

// IndexTask asks a worker to rebuild the vector index of one namespace.
type IndexTask struct {
	Namespace   string    `json:"namespace"`
	RequestedBy string    `json:"requested_by"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// Reasons recorded in IndexTask.Reason.
const (
	ReasonManual = "manual"
	ReasonUpload = "upload"
)
