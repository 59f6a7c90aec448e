package obs

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger

	fileMu  sync.Mutex
	fileDir = "."
)

// Logger returns the shared structured logger used across the service.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogEvent emits a structured JSON log line with common run fields.
func LogEvent(event string, fields map[string]any) {
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"event": event,
	}
	for k, v := range fields {
		entry[k] = v
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}

// SetFileDir changes where per-tenant fallback log files are written.
func SetFileDir(dir string) {
	fileMu.Lock()
	defer fileMu.Unlock()
	if strings.TrimSpace(dir) != "" {
		fileDir = dir
	}
}

// AppendFile writes message to the tenant's plain-text log file. This is
// the sink of last resort: it is used when the database audit write fails
// and for run summaries, so it swallows its own errors apart from a line
// on the shared logger.
func AppendFile(tenant, message string) {
	fileMu.Lock()
	defer fileMu.Unlock()

	name := fmt.Sprintf("%s-api.log", strings.ToLower(strings.TrimSpace(tenant)))
	path := filepath.Join(fileDir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		LogEvent("file_log_failed", map[string]any{"tenant": tenant, "error": err.Error()})
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s - %s\n", time.Now().Format("2006-01-02 15:04:05"), message)
}
