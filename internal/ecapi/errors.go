package ecapi

import (
	"errors"
	"fmt"

	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/audit"
)

// Kind identifies which stage of the authenticated-call protocol failed.
// Credential-tier kinds (assertion, token exchange) are fatal to the run;
// the rest are isolated to the record being processed.
type Kind int

const (
	KindAssertion Kind = iota
	KindTokenExchange
	KindUserLookup
	KindTerminationCall
)

func (k Kind) String() string {
	switch k {
	case KindAssertion:
		return "assertion"
	case KindTokenExchange:
		return "token_exchange"
	case KindUserLookup:
		return "user_lookup"
	case KindTerminationCall:
		return "termination_call"
	default:
		return "unknown"
	}
}

// Error carries everything an audit entry needs for postmortem diagnosis:
// the failing stage, the captured request/response bodies, and the cause.
type Error struct {
	Kind         Kind
	Op           string
	RequestBody  string
	ResponseBody string
	Err          error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error { return e.Err }

// Fatal reports whether the failure invalidates the whole run rather
// than the current record.
func (e *Error) Fatal() bool {
	return e.Kind == KindAssertion || e.Kind == KindTokenExchange
}

// Escalation names the team the failure is routed to.
func (e *Error) Escalation() audit.Escalation {
	switch e.Kind {
	case KindAssertion, KindTokenExchange:
		return audit.EscalateIT
	default:
		return audit.EscalateHR
	}
}

// Detail renders the full cause chain for the audit entry's error-detail
// column.
func (e *Error) Detail() string {
	detail := fmt.Sprintf("kind=%s op=%s", e.Kind, e.Op)
	for cause := e.Err; cause != nil; cause = errors.Unwrap(cause) {
		detail += " | cause: " + cause.Error()
	}
	return detail
}

// AsError extracts an *Error from err's chain, wrapping foreign errors
// into a generic entry of the given kind so callers always have the
// audit fields available.
func AsError(err error, kind Kind, op string) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
