package models

import "fmt"

// Priority orders records in the sync queue.
type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityMedium    Priority = "medium"
	PriorityHigh      Priority = "high"
	PriorityImmediate Priority = "immediate"
)

// Rank maps a priority to a comparable weight; higher dequeues first.
func (p Priority) Rank() int {
	switch p {
	case PriorityImmediate:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 0
	default:
		return -1
	}
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	return p.Rank() >= 0
}

// ParsePriority accepts the wire names; empty defaults to medium.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityMedium, nil
	}
	p := Priority(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

// SyncStatus is the lifecycle state of a staged record.
type SyncStatus string

const (
	StatusPending  SyncStatus = "pending"
	StatusSyncing  SyncStatus = "syncing"
	StatusSynced   SyncStatus = "synced"
	StatusFailed   SyncStatus = "failed"
	StatusConflict SyncStatus = "conflict"
)

// Valid reports whether s is a known status.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSyncing, StatusSynced, StatusFailed, StatusConflict:
		return true
	}
	return false
}

const (
	// DefaultMaxAttempts is the retry ceiling for retryable failures.
	DefaultMaxAttempts = 5

	// DefaultConcurrencyLimit bounds concurrent transport calls per batch.
	DefaultConcurrencyLimit = 4

	// MetaLastSync is the meta key holding the last completed cycle time.
	MetaLastSync = "last_sync"
)
