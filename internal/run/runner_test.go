package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/audit"
	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/config"
	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/ecapi"
	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/termination"
)

type stubTokens struct {
	current    ecapi.Token
	refreshes  int
	failAfter  int // refresh attempt number that starts failing; 0 = never
	expireEach bool
}

func (s *stubTokens) Current() ecapi.Token { return s.current }

func (s *stubTokens) Refresh(ctx context.Context) (ecapi.Token, error) {
	s.refreshes++
	if s.failAfter > 0 && s.refreshes >= s.failAfter {
		return ecapi.Token{}, &ecapi.Error{Kind: ecapi.KindAssertion, Op: "post saml endpoint", Err: errors.New("saml down")}
	}
	expires := time.Now().Add(time.Hour)
	if s.expireEach {
		expires = time.Now().Add(-time.Second)
	}
	s.current = ecapi.Token{Value: fmt.Sprintf("tok-%d", s.refreshes), ExpiresAt: expires}
	return s.current, nil
}

type stubRecords struct {
	pending  []termination.Record
	fetchErr error

	mu        sync.Mutex
	processed []int
	markErr   error
}

func (s *stubRecords) PendingTerminations(ctx context.Context) ([]termination.Record, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	out := make([]termination.Record, len(s.pending))
	copy(out, s.pending)
	return out, nil
}

func (s *stubRecords) MarkProcessed(ctx context.Context, resignationID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	s.processed = append(s.processed, resignationID)
	return nil
}

type captureSink struct {
	entries []audit.Entry
}

func (c *captureSink) Append(e audit.Entry) error {
	c.entries = append(c.entries, e)
	return nil
}

// newUpstream serves the user directory and termination endpoints.
// DAS ids listed in unknown get a directory response without a userId;
// ids in rejected get a classified failure from the termination call.
func newUpstream(t *testing.T, unknown, rejected map[string]bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		dasid := strings.Trim(r.URL.Query().Get("dasid"), "'")
		w.Header().Set("Content-Type", "application/xml")
		if unknown[dasid] {
			fmt.Fprint(w, `<feed xmlns:m="http://schemas.microsoft.com/ado/2007/08/dataservices/metadata"><entry><content><m:properties/></content></entry></feed>`)
			return
		}
		fmt.Fprintf(w, `<feed xmlns:d="http://schemas.microsoft.com/ado/2007/08/dataservices" xmlns:m="http://schemas.microsoft.com/ado/2007/08/dataservices/metadata"><entry><content><m:properties><d:userId>uid-%s</d:userId></m:properties></content></entry></feed>`, dasid)
	})
	mux.HandleFunc("/terminate", func(w http.ResponseWriter, r *http.Request) {
		var payload ecapi.TerminationPayload
		if err := jsonDecode(r, &payload); err != nil {
			t.Errorf("decode termination payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if rejected[payload.PersonIDExternal] {
			fmt.Fprint(w, `{"d":[{"status":"Error","message":"bad id"}]}`)
			return
		}
		fmt.Fprint(w, `{"d":[{"status":"OK","message":""}]}`)
	})
	return httptest.NewServer(mux)
}

func jsonDecode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func runConfig(base string) config.Config {
	return config.New("atos", map[string]string{
		config.KeyUserEndpointBase:    base + "/users?dasid={dasid}",
		config.KeyTerminationEndpoint: base + "/terminate",
		config.KeyTerminationURI:      "EmpEmploymentTermination",
	})
}

func pendingRecord(dasid string, resignationID int) termination.Record {
	return termination.Record{
		DASID:          dasid,
		ResignationID:  resignationID,
		LastWorkingDay: time.Date(2025, 7, 30, 0, 0, 0, 0, time.UTC),
		EventReason:    "RESIGNATION",
	}
}

func newRunner(t *testing.T, srv *httptest.Server, tokens *stubTokens, records *stubRecords, sink audit.Sink) *Runner {
	t.Helper()
	client := ecapi.NewClient(srv.Client(), tokens)
	return New(runConfig(srv.URL), tokens, client, records, sink)
}

func TestRunProcessesAllRecords(t *testing.T) {
	srv := newUpstream(t, nil, nil)
	defer srv.Close()

	tokens := &stubTokens{}
	records := &stubRecords{pending: []termination.Record{
		pendingRecord("JDOE1", 101),
		pendingRecord("ASMI2", 102),
	}}
	sink := &captureSink{}

	rc := newRunner(t, srv, tokens, records, sink).Run(context.Background())

	if rc.Total != 2 || rc.Succeeded != 2 || rc.Failed != 0 {
		t.Fatalf("counters = %d/%d/%d, want 2/2/0", rc.Total, rc.Succeeded, rc.Failed)
	}
	if rc.Aborted {
		t.Fatalf("run unexpectedly aborted")
	}
	if len(records.processed) != 2 || records.processed[0] != 101 || records.processed[1] != 102 {
		t.Fatalf("processed = %v, want [101 102]", records.processed)
	}
	if len(sink.entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(sink.entries))
	}
	for _, e := range sink.entries {
		if !e.Success {
			t.Fatalf("expected success entry, got %+v", e)
		}
		if e.RequestBody == "" || e.ResponseBody == "" {
			t.Fatalf("entry missing captured bodies: %+v", e)
		}
		if e.RunID != rc.RunID {
			t.Fatalf("entry run id mismatch")
		}
	}
}

func TestRunIsolatesRecordFailures(t *testing.T) {
	srv := newUpstream(t, map[string]bool{"GHOST": true}, nil)
	defer srv.Close()

	tokens := &stubTokens{}
	records := &stubRecords{pending: []termination.Record{
		pendingRecord("GHOST", 201),
		pendingRecord("JDOE1", 202),
	}}
	sink := &captureSink{}

	rc := newRunner(t, srv, tokens, records, sink).Run(context.Background())

	if rc.Total != 2 || rc.Succeeded != 1 || rc.Failed != 1 {
		t.Fatalf("counters = %d/%d/%d, want 2/1/1", rc.Total, rc.Succeeded, rc.Failed)
	}
	if rc.Succeeded+rc.Failed != rc.Total {
		t.Fatalf("counters do not sum to total")
	}
	if len(records.processed) != 1 || records.processed[0] != 202 {
		t.Fatalf("processed = %v, want [202]", records.processed)
	}

	var failure *audit.Entry
	for i := range sink.entries {
		if !sink.entries[i].Success {
			failure = &sink.entries[i]
		}
	}
	if failure == nil {
		t.Fatalf("no failure audit entry emitted")
	}
	if failure.DASID != "GHOST" {
		t.Fatalf("failure entry for %q, want GHOST", failure.DASID)
	}
	if failure.EscalateTo != audit.EscalateHR {
		t.Fatalf("lookup failure escalates to %s, want HR", failure.EscalateTo)
	}
	if !strings.Contains(failure.ErrorDetails, "ResignationID:[201]") {
		t.Fatalf("details missing resignation id: %q", failure.ErrorDetails)
	}
}

func TestRunClassifiedFailureDoesNotMarkProcessed(t *testing.T) {
	srv := newUpstream(t, nil, map[string]bool{"JDOE1": true})
	defer srv.Close()

	tokens := &stubTokens{}
	records := &stubRecords{pending: []termination.Record{pendingRecord("JDOE1", 301)}}
	sink := &captureSink{}

	rc := newRunner(t, srv, tokens, records, sink).Run(context.Background())

	if rc.Failed != 1 || rc.Succeeded != 0 {
		t.Fatalf("counters = %d/%d, want 0 succeeded 1 failed", rc.Succeeded, rc.Failed)
	}
	if len(records.processed) != 0 {
		t.Fatalf("status persisted despite classified failure: %v", records.processed)
	}
	if len(sink.entries) != 1 || sink.entries[0].Success {
		t.Fatalf("expected one failure entry, got %+v", sink.entries)
	}
	if sink.entries[0].ErrorMessage != "bad id" {
		t.Fatalf("classification reason = %q, want bad id", sink.entries[0].ErrorMessage)
	}
}

func TestRunInitialRefreshFailureProcessesNothing(t *testing.T) {
	srv := newUpstream(t, nil, nil)
	defer srv.Close()

	tokens := &stubTokens{failAfter: 1}
	records := &stubRecords{pending: []termination.Record{pendingRecord("JDOE1", 401)}}
	sink := &captureSink{}

	rc := newRunner(t, srv, tokens, records, sink).Run(context.Background())

	if !rc.Aborted {
		t.Fatalf("run should abort on initial refresh failure")
	}
	if rc.Total != 0 || rc.Succeeded != 0 || rc.Failed != 0 {
		t.Fatalf("counters = %d/%d/%d, want 0/0/0", rc.Total, rc.Succeeded, rc.Failed)
	}
	if len(sink.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1 for the failed refresh", len(sink.entries))
	}
	if sink.entries[0].EscalateTo != audit.EscalateIT {
		t.Fatalf("credential failure escalates to %s, want IT", sink.entries[0].EscalateTo)
	}
	if rc.EndedAt.IsZero() {
		t.Fatalf("summary did not stamp end time")
	}
}

func TestRunMidRunRefreshFailureAbortsRemainder(t *testing.T) {
	srv := newUpstream(t, nil, nil)
	defer srv.Close()

	// Every issued token is already expired, forcing a refresh before
	// each record; the second refresh fails.
	tokens := &stubTokens{expireEach: true, failAfter: 2}
	records := &stubRecords{pending: []termination.Record{
		pendingRecord("JDOE1", 501),
		pendingRecord("ASMI2", 502),
	}}
	sink := &captureSink{}

	rc := newRunner(t, srv, tokens, records, sink).Run(context.Background())

	if !rc.Aborted {
		t.Fatalf("run should abort when a mid-run refresh fails")
	}
	if rc.Total != 2 {
		t.Fatalf("total = %d, want 2", rc.Total)
	}
	if rc.Succeeded != 0 || rc.Failed != 0 {
		t.Fatalf("no record should complete after the failed refresh, got %d/%d", rc.Succeeded, rc.Failed)
	}
	if len(records.processed) != 0 {
		t.Fatalf("processed = %v, want none", records.processed)
	}
}

func TestRunMarkProcessedFailureCountsAsFailed(t *testing.T) {
	srv := newUpstream(t, nil, nil)
	defer srv.Close()

	tokens := &stubTokens{}
	records := &stubRecords{
		pending: []termination.Record{pendingRecord("JDOE1", 601)},
		markErr: errors.New("deadlock victim"),
	}
	sink := &captureSink{}

	rc := newRunner(t, srv, tokens, records, sink).Run(context.Background())

	if rc.Failed != 1 || rc.Succeeded != 0 {
		t.Fatalf("counters = %d/%d, want failed=1", rc.Succeeded, rc.Failed)
	}
	if len(sink.entries) != 1 || sink.entries[0].Success {
		t.Fatalf("expected failure entry, got %+v", sink.entries)
	}
	if sink.entries[0].EscalateTo != audit.EscalateIT {
		t.Fatalf("status-update failure escalates to %s, want IT", sink.entries[0].EscalateTo)
	}
}

func TestRunFetchFailureAborts(t *testing.T) {
	srv := newUpstream(t, nil, nil)
	defer srv.Close()

	tokens := &stubTokens{}
	records := &stubRecords{fetchErr: errors.New("proc missing")}
	rc := newRunner(t, srv, tokens, records, &captureSink{}).Run(context.Background())

	if !rc.Aborted || rc.Total != 0 {
		t.Fatalf("fetch failure should abort with zero totals, got %+v", rc)
	}
}
