package termination

import (
	"errors"
	"time"
)

// Status tracks a pending separation record through one scheduler run.
type Status int

const (
	StatusPending Status = iota
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Record is one pending employee separation awaiting submission to
// Employee Central. ResignationID correlates back to the persistent
// source row; UserID is resolved lazily during the run.
type Record struct {
	DASID          string
	ResignationID  int
	UserID         string // resolved per run via the user directory
	LastWorkingDay time.Time
	EventReason    string
	Status         Status
}

// ErrUserNotFound distinguishes an absent or blank directory entry from
// a transport failure during lookup.
var ErrUserNotFound = errors.New("termination: user id not found in directory")
