// Package mssql realizes the external collaborators of the run — config
// store, record store, audit sink and notification log — against the
// tenant's SQL Server database. All access goes through the platform's
// stored procedures; this package owns no schema.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/audit"
	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/termination"
)

// Store wraps one tenant's database. The second tenant's procedures live
// under a schema prefix, so the prefix is part of the store identity.
type Store struct {
	db         *sql.DB
	tenant     string
	procSchema string
}

// Open connects to the tenant database and applies the shared pool
// settings. The scheduler is single-threaded per tenant so the pool is
// kept small.
func Open(dsn, tenant, procSchema string) (*Store, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", tenant, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return New(db, tenant, procSchema), nil
}

// New wraps an existing handle; used by tests.
func New(db *sql.DB, tenant, procSchema string) *Store {
	return &Store{db: db, tenant: tenant, procSchema: procSchema}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Tenant() string { return s.tenant }

func (s *Store) proc(name string) string {
	if s.procSchema == "" {
		return name
	}
	return s.procSchema + "." + name
}

// APIConfig loads the key/value settings for the named integration.
func (s *Store) APIConfig(ctx context.Context, api string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, s.proc("USP_GetApiConfig"), sql.Named("Api", api))
	if err != nil {
		return nil, fmt.Errorf("get api config: %w", err)
	}
	defer rows.Close()

	values := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan api config: %w", err)
		}
		values[key] = value
	}
	return values, rows.Err()
}

// PendingTerminations returns the ordered set of records awaiting
// submission.
func (s *Store) PendingTerminations(ctx context.Context) ([]termination.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.proc("USP_GetPendingSeparationEC"))
	if err != nil {
		return nil, fmt.Errorf("get pending separations: %w", err)
	}
	defer rows.Close()

	var records []termination.Record
	for rows.Next() {
		var rec termination.Record
		if err := rows.Scan(&rec.DASID, &rec.ResignationID, &rec.LastWorkingDay, &rec.EventReason); err != nil {
			return nil, fmt.Errorf("scan pending separation: %w", err)
		}
		rec.Status = termination.StatusPending
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkProcessed flips the source row after a classified success.
func (s *Store) MarkProcessed(ctx context.Context, resignationID int) error {
	_, err := s.db.ExecContext(ctx, s.proc("USP_UpdateSeparationECStatus"),
		sql.Named("Resignation_Id", resignationID))
	if err != nil {
		return fmt.Errorf("update separation status: %w", err)
	}
	return nil
}

// AppendCallLog persists one audit entry.
func (s *Store) AppendCallLog(ctx context.Context, e audit.Entry) error {
	_, err := s.db.ExecContext(ctx, s.proc("USP_LogSeparationECApiCall"),
		sql.Named("LogId", e.ID),
		sql.Named("DASId", e.DASID),
		sql.Named("IsSuccess", e.Success),
		sql.Named("RequestContent", nullable(e.RequestBody)),
		sql.Named("ResponseContent", nullable(e.ResponseBody)),
		sql.Named("ErrorMessage", nullable(e.ErrorMessage)),
		sql.Named("StartTime", e.Start),
		sql.Named("EndTime", e.End),
		sql.Named("DurationSec", e.End.Sub(e.Start).Seconds()),
		sql.Named("RunId", e.RunID.String()),
		sql.Named("ErrorDetails", nullable(e.ErrorDetails)),
		sql.Named("ErrorSendTo", string(e.EscalateTo)),
	)
	if err != nil {
		return fmt.Errorf("log api call: %w", err)
	}
	return nil
}

// RunLog fetches the audit rows of one run, already partitioned by the
// procedure into an IT result set followed by an HR result set.
func (s *Store) RunLog(ctx context.Context, runID uuid.UUID) (it, hr []audit.Entry, err error) {
	rows, err := s.db.QueryContext(ctx, s.proc("USP_GetSeparationECAPILog"),
		sql.Named("RunId", runID.String()))
	if err != nil {
		return nil, nil, fmt.Errorf("get run log: %w", err)
	}
	defer rows.Close()

	it, err = s.scanRunLog(rows, runID, audit.EscalateIT)
	if err != nil {
		return nil, nil, err
	}
	if rows.NextResultSet() {
		hr, err = s.scanRunLog(rows, runID, audit.EscalateHR)
		if err != nil {
			return nil, nil, err
		}
	}
	return it, hr, rows.Err()
}

func (s *Store) scanRunLog(rows *sql.Rows, runID uuid.UUID, escalate audit.Escalation) ([]audit.Entry, error) {
	var entries []audit.Entry
	for rows.Next() {
		var (
			e       audit.Entry
			status  string
			message sql.NullString
		)
		if err := rows.Scan(&e.DASID, &status, &message, &e.Start, &e.End); err != nil {
			return nil, fmt.Errorf("scan run log: %w", err)
		}
		e.Tenant = s.tenant
		e.RunID = runID
		e.Success = strings.EqualFold(status, "success")
		e.ErrorMessage = message.String
		e.EscalateTo = escalate
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AddEmailLog records one notification attempt, sent or not.
func (s *Store) AddEmailLog(ctx context.Context, sender, recipient, cc, subject, body string, sent bool, failureReason, escalateTo string) error {
	_, err := s.db.ExecContext(ctx, s.proc("USP_AddAPIEmailLog"),
		sql.Named("Sender", sender),
		sql.Named("Recipient", recipient),
		sql.Named("CC", cc),
		sql.Named("Subject", subject),
		sql.Named("Body", body),
		sql.Named("IsSent", sent),
		sql.Named("FailureReason", nullable(failureReason)),
		sql.Named("ErrorSendTo", escalateTo),
	)
	if err != nil {
		return fmt.Errorf("add email log: %w", err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
