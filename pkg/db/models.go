package db

import (
	"time"

	"github.com/google/uuid"
)

// Invocation is one row of the journal.
type Invocation struct {
	ID         uuid.UUID     `json:"id"`
	SessionID  uuid.UUID     `json:"sessionId"`
	Label      string        `json:"label"`
	Module     string        `json:"module"`
	Command    string        `json:"command"`
	CallbackID uint32        `json:"callbackId"`
	ErrorID    uint32        `json:"errorId"`
	Ok         bool          `json:"ok"`
	ErrorCode  string        `json:"errorCode,omitempty"`
	Duration   time.Duration `json:"durationNs"`
	InvokedAt  time.Time     `json:"invokedAt"`
}

// ListInvocationsParams filters ListRecentInvocations. Zero values mean no
// filter; Limit defaults to 50 and is capped at 500.
type ListInvocationsParams struct {
	Label      string
	Module     string
	FailedOnly bool
	Since      time.Time
	Limit      int
}

// CommandSummary aggregates the journal per module command.
type CommandSummary struct {
	Module      string        `json:"module"`
	Command     string        `json:"command"`
	Calls       int64         `json:"calls"`
	Failures    int64         `json:"failures"`
	AvgDuration time.Duration `json:"avgDurationNs"`
	LastAt      time.Time     `json:"lastAt"`
}
