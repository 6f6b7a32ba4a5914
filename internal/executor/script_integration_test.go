//go:build integration

package executor

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

// ──────────────────────────────────────────────────────
// Integration tests — require node installed
// Run with: go test -tags integration -v ./internal/executor/
// ──────────────────────────────────────────────────────

func newIntegrationRunner(t *testing.T, timeout time.Duration) *ScriptRunner {
	t.Helper()
	nodePath, err := exec.LookPath("node")
	if err != nil {
		t.Skip("node not found in PATH — skipping integration test")
	}
	logger, _ := zap.NewDevelopment()
	return NewScriptRunner(nodePath, t.TempDir(), timeout, 128, logger)
}

func TestIntegration_StdoutCaptured(t *testing.T) {
	r := newIntegrationRunner(t, 10*time.Second)

	result := r.Execute(context.Background(), newScriptRequest(`console.log("hello from sandbox")`))
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if !strings.Contains(result.Output, "hello from sandbox") {
		t.Errorf("output = %q", result.Output)
	}
}

func TestIntegration_StderrAppendedOnSuccess(t *testing.T) {
	r := newIntegrationRunner(t, 10*time.Second)

	result := r.Execute(context.Background(), newScriptRequest(
		`console.log("out"); console.error("deprecation warning");`))
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if !strings.Contains(result.Output, stderrSeparator) {
		t.Errorf("expected stderr separator in output, got %q", result.Output)
	}
	if !strings.Contains(result.Output, "deprecation warning") {
		t.Errorf("stderr warning missing from output: %q", result.Output)
	}
}

func TestIntegration_NonZeroExitUsesStderr(t *testing.T) {
	r := newIntegrationRunner(t, 10*time.Second)

	result := r.Execute(context.Background(), newScriptRequest(
		`console.error("boom: table missing"); process.exitCode = 2;`))
	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.Error, "boom: table missing") {
		t.Errorf("error = %q, want stderr text", result.Error)
	}
}

func TestIntegration_NonZeroExitEmptyStderr(t *testing.T) {
	r := newIntegrationRunner(t, 10*time.Second)

	result := r.Execute(context.Background(), newScriptRequest(`process.exitCode = 1;`))
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Error != "Process exited with code 1" {
		t.Errorf("error = %q", result.Error)
	}
}

func TestIntegration_TimeoutKillsScript(t *testing.T) {
	timeout := 2 * time.Second
	r := newIntegrationRunner(t, timeout)

	start := time.Now()
	result := r.Execute(context.Background(), newScriptRequest(`for (;;) {}`))
	elapsed := time.Since(start)

	if result.Success {
		t.Fatal("expected timeout failure")
	}
	if !strings.Contains(result.Error, "timed out after 2000ms") {
		t.Errorf("error = %q", result.Error)
	}
	// WaitDelay adds up to 5s if the process ignores SIGTERM; a busy loop
	// does not install a handler, so it should die promptly.
	if elapsed > timeout+3*time.Second {
		t.Errorf("kill took too long: %v", elapsed)
	}
}

func TestIntegration_EnvironmentIsolated(t *testing.T) {
	t.Setenv("SENSITIVE_SECRET", "do-not-leak")
	r := newIntegrationRunner(t, 10*time.Second)

	result := r.Execute(context.Background(), newScriptRequest(
		`console.log(JSON.stringify(process.env))`))
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if strings.Contains(result.Output, "SENSITIVE_SECRET") || strings.Contains(result.Output, "do-not-leak") {
		t.Errorf("parent secret visible to script: %q", result.Output)
	}
	if !strings.Contains(result.Output, "DB_NAME") {
		t.Errorf("expected injected DB_NAME in script env, got %q", result.Output)
	}
}

func TestIntegration_OutputTruncated(t *testing.T) {
	r := newIntegrationRunner(t, 10*time.Second)

	result := r.Execute(context.Background(), newScriptRequest(
		`const line = "x".repeat(1024); for (let i = 0; i < 100; i++) console.log(line);`))
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if !strings.Contains(result.Output, "output truncated") {
		t.Errorf("expected truncation notice, got %d bytes", len(result.Output))
	}
}
