package obs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCounters(t *testing.T) {
	before := testutil.ToFloat64(recordsTotal.WithLabelValues("atos", "succeeded"))
	CountRecord("atos", "succeeded")
	CountRecord("atos", "succeeded")
	after := testutil.ToFloat64(recordsTotal.WithLabelValues("atos", "succeeded"))
	if after-before != 2 {
		t.Fatalf("records delta = %v, want 2", after-before)
	}
}

func TestTokenRefreshCounter(t *testing.T) {
	before := testutil.ToFloat64(tokenRefreshesTotal.WithLabelValues("eviden", "failure"))
	CountTokenRefresh("eviden", "failure")
	after := testutil.ToFloat64(tokenRefreshesTotal.WithLabelValues("eviden", "failure"))
	if after-before != 1 {
		t.Fatalf("refresh delta = %v, want 1", after-before)
	}
}

func TestObserveCall(t *testing.T) {
	// Just exercise the histogram path; values land in the default buckets.
	ObserveCall("atos", "termination", time.Now().Add(-10*time.Millisecond))
}

func TestAppendFile(t *testing.T) {
	dir := t.TempDir()
	SetFileDir(dir)
	defer SetFileDir(".")

	AppendFile("Atos", "[ERROR] something went sideways")
	AppendFile("Atos", "second line")

	data, err := os.ReadFile(filepath.Join(dir, "atos-api.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if !strings.Contains(lines[0], "[ERROR] something went sideways") {
		t.Fatalf("first line = %q", lines[0])
	}
	// Each line carries a timestamp prefix.
	if !strings.Contains(lines[0], " - ") {
		t.Fatalf("line missing timestamp separator: %q", lines[0])
	}
}
