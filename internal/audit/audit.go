// Package audit captures one durable record per remote-call attempt.
// Entries feed both postmortem diagnosis and the end-of-run email
// notification, so every field a rendered row needs must be populated
// at append time.
package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/ids"
	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/obs"
)

// Escalation routes a failed entry to the team that can act on it.
type Escalation string

const (
	EscalateIT Escalation = "IT"
	EscalateHR Escalation = "HR"
)

// Entry is one remote-call attempt, successful or not. Append-only.
type Entry struct {
	ID           string
	Tenant       string
	DASID        string
	Success      bool
	RequestBody  string
	ResponseBody string
	ErrorMessage string
	ErrorDetails string
	Start        time.Time
	End          time.Time
	RunID        uuid.UUID
	EscalateTo   Escalation
}

// New stamps an entry with a sortable id.
func New(tenant string, runID uuid.UUID) Entry {
	return Entry{
		ID:     ids.New(),
		Tenant: tenant,
		RunID:  runID,
	}
}

// Sink persists entries. Implementations may fail; callers go through
// Append so a sink failure can never abort record processing.
type Sink interface {
	Append(e Entry) error
}

// Append writes e to sink, falling back to the tenant's file log when the
// write fails. It never returns an error.
func Append(sink Sink, e Entry) {
	if sink == nil {
		return
	}
	if err := sink.Append(e); err != nil {
		obs.AppendFile(e.Tenant, fmt.Sprintf("[DB Log Failed] run=%s dasid=%s error=%v | original: %s",
			e.RunID, e.DASID, err, e.ErrorMessage))
	}
}

// Func adapts a function to the Sink interface.
type Func func(e Entry) error

func (f Func) Append(e Entry) error { return f(e) }
