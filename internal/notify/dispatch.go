// Package notify pushes selected shell audit events to operators over chat
// services.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"clawconsole/internal/domain"
)

const (
	queueSize         = 64
	maxSendRetries    = 3
	maxCommandLineLen = 512
)

// dispatcher filters audit entries by outcome and queues their rendered text
// for a single delivery goroutine, so the engine never waits on a chat API.
type dispatcher struct {
	service  string
	notifyOn map[domain.AuditOutcome]bool
	queue    chan string
	logger   *slog.Logger
}

func newDispatcher(service string, notifyOn []string, logger *slog.Logger) dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	on := make(map[domain.AuditOutcome]bool)
	for _, o := range notifyOn {
		on[domain.AuditOutcome(o)] = true
	}
	if len(on) == 0 {
		on[domain.OutcomeBlocked] = true
	}
	return dispatcher{
		service:  service,
		notifyOn: on,
		queue:    make(chan string, queueSize),
		logger:   logger,
	}
}

// RecordResult is a no-op; only audit entries are forwarded.
func (d *dispatcher) RecordResult(context.Context, domain.CommandResult) error { return nil }

// RecordAudit queues a notification for entry if its outcome is selected.
// A full queue drops the notification rather than blocking the caller.
func (d *dispatcher) RecordAudit(_ context.Context, entry domain.ShellAuditEntry) error {
	if !d.notifyOn[entry.Outcome] {
		return nil
	}
	select {
	case d.queue <- formatAudit(entry):
		return nil
	default:
		d.logger.Warn("notification dropped, queue full", "service", d.service, "id", entry.ID)
		return fmt.Errorf("%s queue full", d.service)
	}
}

// run hands queued messages to deliver until ctx is cancelled.
func (d *dispatcher) run(ctx context.Context, deliver func(ctx context.Context, text string)) {
	d.logger.Info("notifier started", "service", d.service)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("notifier stopping", "service", d.service)
			return
		case text := <-d.queue:
			deliver(ctx, text)
		}
	}
}

// retry calls send until it succeeds, attempts run out, or ctx is done.
// Rate-limit errors back off linearly.
func (d *dispatcher) retry(ctx context.Context, target string, delay time.Duration, send func() error) {
	for attempt := 0; attempt <= maxSendRetries; attempt++ {
		err := send()
		if err == nil {
			return
		}

		wait := delay
		errStr := err.Error()
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") || strings.Contains(errStr, "rate_limited") {
			wait = time.Duration(attempt+1) * delay
			d.logger.Warn("rate limited, backing off",
				"service", d.service, "retry_after", wait, "attempt", attempt+1,
			)
		} else {
			d.logger.Warn("send failed",
				"service", d.service, "target", target, "attempt", attempt+1, "err", err,
			)
		}
		if attempt == maxSendRetries {
			break
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	d.logger.Error("notification lost", "service", d.service, "target", target)
}

func formatAudit(e domain.ShellAuditEntry) string {
	var b strings.Builder

	switch e.Outcome {
	case domain.OutcomeBlocked:
		b.WriteString("🚫 Shell command blocked\n")
	case domain.OutcomeFailed:
		b.WriteString("⚠️ Shell command failed\n")
	default:
		b.WriteString("✅ Shell command ran\n")
	}

	line := strings.TrimSpace(e.Command + " " + strings.Join(e.Args, " "))
	if len(line) > maxCommandLineLen {
		line = line[:maxCommandLineLen] + "…"
	}
	fmt.Fprintf(&b, "Command: %s\n", line)
	if e.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", e.Reason)
	}
	if e.ExitCode != nil {
		fmt.Fprintf(&b, "Exit code: %d\n", *e.ExitCode)
	}
	if e.DurationMs != nil {
		fmt.Fprintf(&b, "Duration: %s\n", time.Duration(*e.DurationMs)*time.Millisecond)
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(&b, "Time: %s", ts.UTC().Format(time.RFC3339))
	return b.String()
}

// splitMessage splits a message into chunks that fit within maxLen,
// preferring to cut on a newline in the second half of a chunk.
func splitMessage(msg string, maxLen int) []string {
	var chunks []string
	for len(msg) > maxLen {
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx >= maxLen/2 {
			cut = idx
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	if msg != "" {
		chunks = append(chunks, msg)
	}
	return chunks
}
