// Package run drives one scheduler pass over a tenant's pending
// termination records. Processing is strictly sequential: records share
// the tenant's token and session, so there is exactly one outbound call
// in flight at any time.
package run

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/audit"
	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/config"
	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/ecapi"
	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/obs"
	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/termination"
)

// Context is the mutable state of one run. It is owned by a single
// Runner and never shared across tenants or concurrent runs.
type Context struct {
	RunID     uuid.UUID
	Tenant    string
	StartedAt time.Time
	EndedAt   time.Time
	Total     int
	Succeeded int
	Failed    int
	Aborted   bool
}

// TokenSource is the slice of the token manager the runner depends on.
type TokenSource interface {
	Current() ecapi.Token
	Refresh(ctx context.Context) (ecapi.Token, error)
}

// RecordStore supplies pending records and persists the status of the
// ones that went through.
type RecordStore interface {
	PendingTerminations(ctx context.Context) ([]termination.Record, error)
	MarkProcessed(ctx context.Context, resignationID int) error
}

// Runner executes the per-run algorithm: initial token, pull records,
// then one isolated attempt per record. Credential failures abort the
// run; anything else is contained to the record it happened on.
type Runner struct {
	cfg     config.Config
	tokens  TokenSource
	client  *ecapi.Client
	records RecordStore
	sink    audit.Sink
	limiter *rate.Limiter
	now     func() time.Time
}

func New(cfg config.Config, tokens TokenSource, client *ecapi.Client, records RecordStore, sink audit.Sink) *Runner {
	r := &Runner{
		cfg:     cfg,
		tokens:  tokens,
		client:  client,
		records: records,
		sink:    sink,
		now:     time.Now,
	}
	if rps := cfg.GetInt(config.KeyCallsPerSecond, 0); rps > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return r
}

// Run processes every pending record for the tenant and returns the
// final counters. It never returns an error: fatal conditions mark the
// run aborted and are reflected in the audit trail and the summary.
func (r *Runner) Run(ctx context.Context) *Context {
	rc := &Context{
		RunID:     uuid.New(),
		Tenant:    r.cfg.Tenant(),
		StartedAt: r.now(),
	}
	defer r.summarize(rc)

	if _, err := r.tokens.Refresh(ctx); err != nil {
		r.abort(rc, err)
		return rc
	}

	records, err := r.records.PendingTerminations(ctx)
	if err != nil {
		rc.Aborted = true
		obs.AppendFile(rc.Tenant, fmt.Sprintf("[FATAL ERROR] run=%s fetch pending records: %v", rc.RunID, err))
		obs.CountRun(rc.Tenant, "aborted")
		return rc
	}
	rc.Total = len(records)

	for i := range records {
		// Proactive refresh: a token expiring mid-run is fatal for all
		// remaining records when the refresh fails.
		if r.tokens.Current().Expired(r.now()) {
			if _, err := r.tokens.Refresh(ctx); err != nil {
				r.abort(rc, err)
				return rc
			}
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				r.abort(rc, fmt.Errorf("run cancelled: %w", err))
				return rc
			}
		}
		r.processRecord(ctx, rc, &records[i])
	}

	obs.CountRun(rc.Tenant, "completed")
	return rc
}

// processRecord attempts one termination submission. Every outcome is
// recorded; no outcome stops the loop.
func (r *Runner) processRecord(ctx context.Context, rc *Context, rec *termination.Record) {
	start := r.now()

	lookup, err := ecapi.LookupUserID(ctx, r.client, r.cfg, rec.DASID)
	if err != nil {
		rec.Status = termination.StatusFailed
		rc.Failed++
		obs.CountRecord(rc.Tenant, "failed")
		r.appendFailure(rc, rec, start, ecapi.AsError(err, ecapi.KindUserLookup, "lookup user"))
		return
	}
	rec.UserID = lookup.UserID

	payload := ecapi.BuildTerminationPayload(rec.DASID, rec.UserID, rec.LastWorkingDay, rec.EventReason,
		r.cfg.Get(config.KeyTerminationURI))
	body, err := payload.JSON()
	if err != nil {
		rec.Status = termination.StatusFailed
		rc.Failed++
		obs.CountRecord(rc.Tenant, "failed")
		r.appendFailure(rc, rec, start, &ecapi.Error{
			Kind: ecapi.KindTerminationCall, Op: "encode payload", Err: err,
		})
		return
	}

	entry := audit.New(rc.Tenant, rc.RunID)
	entry.DASID = rec.DASID
	entry.RequestBody = string(body)
	entry.Start = start
	entry.EscalateTo = audit.EscalateHR

	callStart := r.now()
	resp, err := r.client.Do(ctx, http.MethodPost, r.cfg.Get(config.KeyTerminationEndpoint),
		body, "application/json", "application/json")
	obs.ObserveCall(rc.Tenant, "termination", callStart)

	switch {
	case err != nil:
		apiErr := ecapi.AsError(err, ecapi.KindTerminationCall, "post termination")
		entry.ErrorMessage = apiErr.Error()
		entry.ErrorDetails = recordDetail(rec, apiErr.Detail())
	default:
		entry.ResponseBody = string(resp.Body)
		if outcome := ecapi.Classify(resp.Body); outcome.Success {
			entry.Success = true
		} else {
			entry.ErrorMessage = outcome.Reason
			entry.ErrorDetails = recordDetail(rec, "classified failure")
		}
	}

	if entry.Success {
		if err := r.records.MarkProcessed(ctx, rec.ResignationID); err != nil {
			// The remote call went through but the status row did not
			// move; surface it as a failure so someone reconciles.
			entry.Success = false
			entry.ErrorMessage = "termination submitted but status update failed"
			entry.ErrorDetails = recordDetail(rec, err.Error())
			entry.EscalateTo = audit.EscalateIT
		}
	}

	entry.End = r.now()
	audit.Append(r.sink, entry)

	if entry.Success {
		rec.Status = termination.StatusSucceeded
		rc.Succeeded++
		obs.CountRecord(rc.Tenant, "succeeded")
	} else {
		rec.Status = termination.StatusFailed
		rc.Failed++
		obs.CountRecord(rc.Tenant, "failed")
	}
}

// abort records a credential-tier failure and stops the run.
func (r *Runner) abort(rc *Context, err error) {
	rc.Aborted = true

	apiErr := ecapi.AsError(err, ecapi.KindTokenExchange, "refresh token")
	entry := audit.New(rc.Tenant, rc.RunID)
	entry.Success = false
	entry.ResponseBody = apiErr.ResponseBody
	entry.ErrorMessage = apiErr.Error()
	entry.ErrorDetails = apiErr.Detail()
	entry.Start = r.now()
	entry.End = r.now()
	entry.EscalateTo = apiErr.Escalation()
	audit.Append(r.sink, entry)

	obs.AppendFile(rc.Tenant, fmt.Sprintf("[FATAL ERROR] run=%s %s", rc.RunID, apiErr.Detail()))
	obs.CountRun(rc.Tenant, "aborted")
}

func (r *Runner) appendFailure(rc *Context, rec *termination.Record, start time.Time, apiErr *ecapi.Error) {
	entry := audit.New(rc.Tenant, rc.RunID)
	entry.DASID = rec.DASID
	entry.Success = false
	entry.RequestBody = apiErr.RequestBody
	entry.ResponseBody = apiErr.ResponseBody
	entry.ErrorMessage = apiErr.Error()
	entry.ErrorDetails = recordDetail(rec, apiErr.Detail())
	entry.Start = start
	entry.End = r.now()
	entry.EscalateTo = apiErr.Escalation()
	audit.Append(r.sink, entry)
}

func (r *Runner) summarize(rc *Context) {
	rc.EndedAt = r.now()
	duration := rc.EndedAt.Sub(rc.StartedAt)

	obs.AppendFile(rc.Tenant, fmt.Sprintf(
		"=== Process Summary ===\nRun ID         : %s\nStart Time     : %s\nEnd Time       : %s\nDuration       : %.2f seconds\nTotal Records  : %d\nSuccess Count  : %d\nFailed Count   : %d\n========================",
		rc.RunID,
		rc.StartedAt.Format("2006-01-02 15:04:05"),
		rc.EndedAt.Format("2006-01-02 15:04:05"),
		duration.Seconds(),
		rc.Total, rc.Succeeded, rc.Failed,
	))
	obs.LogEvent("run_summary", map[string]any{
		"tenant":    rc.Tenant,
		"run_id":    rc.RunID.String(),
		"total":     rc.Total,
		"succeeded": rc.Succeeded,
		"failed":    rc.Failed,
		"aborted":   rc.Aborted,
		"duration":  duration.String(),
	})
}

func recordDetail(rec *termination.Record, detail string) string {
	return fmt.Sprintf("ResignationID:[%d] | %s", rec.ResignationID, detail)
}
