// Package notify delivers email notifications for scan events. Delivery is
// best effort: missing configuration makes every send a logged no-op, and
// transport failures never propagate into scan bookkeeping.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/scanward/scanward/internal/config"
	"github.com/scanward/scanward/internal/logging"
	"github.com/scanward/scanward/internal/metrics"
)

const subjectPrefix = "[scanward]"

// Message is one notification with plain-text and rich-text bodies.
type Message struct {
	Subject  string
	TextBody string
	HTMLBody string
	To       []string
}

// Transport delivers messages.
type Transport interface {
	Send(ctx context.Context, msg *Message) error
}

// Notifier composes and dispatches scan event notifications.
type Notifier struct {
	cfg       config.SMTPConfig
	transport Transport
	logger    *logging.Logger
}

// New creates a notifier. A nil transport with enabled config gets the
// default SMTP transport.
func New(cfg config.SMTPConfig, transport Transport) *Notifier {
	if transport == nil && cfg.Enabled() {
		transport = NewSMTPTransport(cfg)
	}
	return &Notifier{
		cfg:       cfg,
		transport: transport,
		logger:    logging.Default().WithComponent("notify"),
	}
}

// ScanCompleted sends a completion notification. Returns false when
// notifications are not configured or delivery failed.
func (n *Notifier) ScanCompleted(ctx context.Context, targetName, scanner string, score, passed, failed int) bool {
	msg := &Message{
		Subject: fmt.Sprintf("%s Scan completed: %s on %s", subjectPrefix, scanner, targetName),
		TextBody: fmt.Sprintf(
			"Scan completed successfully.\n\n"+
				"Target: %s\n"+
				"Scanner: %s\n"+
				"Score: %d\n"+
				"Passed: %d\n"+
				"Failed: %d\n",
			targetName, scanner, score, passed, failed),
		HTMLBody: completedHTML(targetName, scanner, score, passed, failed),
		To:       n.cfg.To,
	}
	return n.send(ctx, msg, targetName, scanner)
}

// ScanFailed sends a failure notification. Returns false when notifications
// are not configured or delivery failed.
func (n *Notifier) ScanFailed(ctx context.Context, targetName, scanner, errorMessage string) bool {
	if errorMessage == "" {
		errorMessage = "Unknown error"
	}
	msg := &Message{
		Subject: fmt.Sprintf("%s Scan failed: %s on %s", subjectPrefix, scanner, targetName),
		TextBody: fmt.Sprintf(
			"Scan failed.\n\n"+
				"Target: %s\n"+
				"Scanner: %s\n"+
				"Error: %s\n",
			targetName, scanner, errorMessage),
		HTMLBody: failedHTML(targetName, scanner, errorMessage),
		To:       n.cfg.To,
	}
	return n.send(ctx, msg, targetName, scanner)
}

func (n *Notifier) send(ctx context.Context, msg *Message, targetName, scanner string) bool {
	if n.transport == nil || !n.cfg.Enabled() {
		n.logger.Warn("Notification skipped: SMTP not configured",
			"target", targetName, "scanner", scanner)
		return false
	}

	if err := n.transport.Send(ctx, msg); err != nil {
		metrics.Counter(metrics.MetricNotificationsFailed, metrics.Labels{metrics.LabelScanner: scanner})
		n.logger.Error("Failed to send notification",
			"target", targetName, "scanner", scanner, "error", err)
		return false
	}

	metrics.Counter(metrics.MetricNotificationsSent, metrics.Labels{metrics.LabelScanner: scanner})
	n.logger.Info("Notification sent",
		"target", targetName, "scanner", scanner, "recipients", len(msg.To))
	return true
}

func completedHTML(targetName, scanner string, score, passed, failed int) string {
	var b strings.Builder
	b.WriteString("<h2>Scan Completed</h2>")
	b.WriteString("<table style='border-collapse:collapse;'>")
	writeRow(&b, "Target", html.EscapeString(targetName), "")
	writeRow(&b, "Scanner", html.EscapeString(scanner), "")
	writeRow(&b, "Score", fmt.Sprintf("%d", score), "")
	writeRow(&b, "Passed", fmt.Sprintf("%d", passed), "color:green;")
	writeRow(&b, "Failed", fmt.Sprintf("%d", failed), "color:red;")
	b.WriteString("</table>")
	return b.String()
}

func failedHTML(targetName, scanner, errorMessage string) string {
	var b strings.Builder
	b.WriteString("<h2 style='color:red;'>Scan Failed</h2>")
	b.WriteString("<table style='border-collapse:collapse;'>")
	writeRow(&b, "Target", html.EscapeString(targetName), "")
	writeRow(&b, "Scanner", html.EscapeString(scanner), "")
	writeRow(&b, "Error", html.EscapeString(errorMessage), "color:red;")
	b.WriteString("</table>")
	return b.String()
}

func writeRow(b *strings.Builder, label, value, valueStyle string) {
	fmt.Fprintf(b,
		"<tr><td style='padding:4px 12px;font-weight:bold;'>%s</td><td style='padding:4px 12px;%s'>%s</td></tr>",
		label, valueStyle, value)
}
