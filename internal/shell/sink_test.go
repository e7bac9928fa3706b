package shell

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"clawconsole/internal/domain"
	"clawconsole/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type memorySink struct {
	mu      sync.Mutex
	results []domain.CommandResult
	audits  []domain.ShellAuditEntry
	err     error
}

func (m *memorySink) RecordResult(_ context.Context, res domain.CommandResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, res)
	return m.err
}

func (m *memorySink) RecordAudit(_ context.Context, e domain.ShellAuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, e)
	return m.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestEngine_SinkReceivesBlockedCommand(t *testing.T) {
	sink := &memorySink{err: errors.New("disk full")}
	e, err := NewEngine(EngineConfig{Shell: baseConfig(), Sink: sink, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}

	res := e.Execute(context.Background(), domain.CommandRequest{Command: "sudo", Args: []string{"ls"}})
	if res.Status != domain.StatusFailed {
		t.Fatalf("status: got %s", res.Status)
	}

	if len(sink.audits) != 1 || sink.audits[0].Outcome != domain.OutcomeBlocked {
		t.Errorf("sink audits: %+v", sink.audits)
	}
	if sink.audits[0].ID == "" || sink.audits[0].Timestamp.IsZero() {
		t.Error("audit entry should be stamped before reaching the sink")
	}
	if len(sink.results) != 1 || sink.results[0].ID != res.ID {
		t.Errorf("sink results: %+v", sink.results)
	}
	if e.AuditLog(1, 10).Total != 1 {
		t.Error("sink failure must not drop the in-memory entry")
	}
}

func TestMultiSink_JoinsErrors(t *testing.T) {
	ok := &memorySink{}
	bad := &memorySink{err: errors.New("boom")}
	m := MultiSink{ok, bad}

	err := m.RecordAudit(context.Background(), domain.ShellAuditEntry{ID: "a"})
	if err == nil || err.Error() != "boom" {
		t.Errorf("expected joined error, got %v", err)
	}
	if len(ok.audits) != 1 || len(bad.audits) != 1 {
		t.Error("every sink should receive the entry")
	}
	if err := (MultiSink{ok}).RecordResult(context.Background(), domain.CommandResult{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEngine_Metrics(t *testing.T) {
	e, err := NewEngine(EngineConfig{Shell: baseConfig(), Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}

	blocked := metrics.ShellAuditTotal.WithLabelValues(string(domain.OutcomeBlocked))
	failed := metrics.ShellCommandsTotal.WithLabelValues(string(domain.StatusFailed))
	beforeBlocked := testutil.ToFloat64(blocked)
	beforeFailed := testutil.ToFloat64(failed)

	e.Execute(context.Background(), domain.CommandRequest{Command: "whoami"})

	if got := testutil.ToFloat64(blocked) - beforeBlocked; got != 1 {
		t.Errorf("blocked audit counter delta: got %v", got)
	}
	if got := testutil.ToFloat64(failed) - beforeFailed; got != 1 {
		t.Errorf("failed command counter delta: got %v", got)
	}
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxOutputSize = 0
	if _, err := NewEngine(EngineConfig{Shell: cfg}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}
