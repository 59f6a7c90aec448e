// Package notify emails the outcome of a run to the teams that act on
// it: credential-tier failures go to IT, record-level results to HR.
// Subject and body come from tenant-configured templates with
// {{RunDate}}, {{RunID}} and {{Table}} placeholders.
package notify

import (
	"context"
	"fmt"
	"html"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/audit"
	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/config"
	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/obs"
)

// SendLogger records each delivery attempt, successful or not.
type SendLogger interface {
	AddEmailLog(ctx context.Context, sender, recipient, cc, subject, body string, sent bool, failureReason, escalateTo string) error
}

// Notifier renders and sends the per-run notification mails.
type Notifier struct {
	cfg config.Config
	log SendLogger

	// send is swappable in tests; defaults to smtp.SendMail without
	// authentication, matching the internal relay the templates target.
	send func(addr, from string, to []string, msg []byte) error
	now  func() time.Time
}

func New(cfg config.Config, log SendLogger) *Notifier {
	return &Notifier{
		cfg: cfg,
		log: log,
		send: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
		now: time.Now,
	}
}

// Dispatch sends the IT and HR mails for one run. Groups with no rows
// are skipped. Delivery failures are logged, never propagated: the run
// itself already completed.
func (n *Notifier) Dispatch(ctx context.Context, runID uuid.UUID, it, hr []audit.Entry) {
	if len(it) > 0 {
		n.sendGroup(ctx, runID, audit.EscalateIT, it)
	}
	if len(hr) > 0 {
		n.sendGroup(ctx, runID, audit.EscalateHR, hr)
	}
}

func (n *Notifier) sendGroup(ctx context.Context, runID uuid.UUID, escalate audit.Escalation, entries []audit.Entry) {
	var toKey, ccKey string
	switch escalate {
	case audit.EscalateIT:
		toKey, ccKey = config.KeyNotifyToIT, config.KeyNotifyCcIT
	default:
		toKey, ccKey = config.KeyNotifyToHR, config.KeyNotifyCcHR
	}

	from := n.cfg.Get(config.KeyEmailFrom)
	to := splitAddresses(n.cfg.Get(toKey))
	cc := splitAddresses(n.cfg.Get(ccKey))

	runDate := n.now().Format("02-Jan-2006 15:04:05")
	subject := strings.ReplaceAll(n.cfg.Get(config.KeyEmailSubject), "{{RunDate}}", runDate)
	body := renderBody(n.cfg.Get(config.KeyEmailTemplate), runDate, runID, entries)

	addr := net.JoinHostPort(n.cfg.Get(config.KeySMTPHost),
		strconv.Itoa(n.cfg.GetInt(config.KeySMTPPort, 25)))

	msg := buildMessage(from, to, cc, subject, body)
	err := n.send(addr, from, append(append([]string{}, to...), cc...), msg)

	sent := err == nil
	reason := ""
	if err != nil {
		reason = err.Error()
		obs.LogEvent("notify_failed", map[string]any{
			"tenant": n.cfg.Tenant(), "run_id": runID.String(),
			"escalate_to": string(escalate), "error": err.Error(),
		})
	}
	if n.log != nil {
		if logErr := n.log.AddEmailLog(ctx, from, strings.Join(to, ","), strings.Join(cc, ","),
			subject, body, sent, reason, string(escalate)); logErr != nil {
			obs.AppendFile(n.cfg.Tenant(), fmt.Sprintf("[Email Log Failed] run=%s error=%v", runID, logErr))
		}
	}
}

func renderBody(template, runDate string, runID uuid.UUID, entries []audit.Entry) string {
	body := strings.ReplaceAll(template, "{{RunDate}}", runDate)
	body = strings.ReplaceAll(body, "{{RunID}}", runID.String())
	return strings.ReplaceAll(body, "{{Table}}", renderTable(entries))
}

// renderTable produces the HTML results table; failed rows are shown in
// red so they stand out in the mail body.
func renderTable(entries []audit.Entry) string {
	var sb strings.Builder
	sb.WriteString("<table border='1' cellpadding='5' cellspacing='0'>")
	sb.WriteString("<tr><th>DAS ID</th><th>Status</th><th>Message</th><th>Start</th><th>End</th></tr>")
	for _, e := range entries {
		status := "Failure"
		if e.Success {
			sb.WriteString("<tr>")
			status = "Success"
		} else {
			sb.WriteString("<tr style='color:red;'>")
		}
		fmt.Fprintf(&sb, "<td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td>",
			html.EscapeString(e.DASID),
			status,
			html.EscapeString(e.ErrorMessage),
			e.Start.Format("2006-01-02 15:04:05"),
			e.End.Format("2006-01-02 15:04:05"),
		)
		sb.WriteString("</tr>")
	}
	sb.WriteString("</table>")
	return sb.String()
}

func buildMessage(from string, to, cc []string, subject, body string) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", from)
	fmt.Fprintf(&sb, "To: %s\r\n", strings.Join(to, ", "))
	if len(cc) > 0 {
		fmt.Fprintf(&sb, "Cc: %s\r\n", strings.Join(cc, ", "))
	}
	fmt.Fprintf(&sb, "Subject: %s\r\n", subject)
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)
	return []byte(sb.String())
}

// splitAddresses parses a comma-separated recipient list, dropping
// blanks.
func splitAddresses(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
