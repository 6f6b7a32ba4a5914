package executor

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/querygate/querygate/internal/domain"
)

// ──────────────────────────────────────────────────────
// Pure unit tests — no node binary needed
// ──────────────────────────────────────────────────────

func newScriptRequest(source string) *domain.ExecutionRequest {
	return &domain.ExecutionRequest{
		ID:           uuid.New(),
		Kind:         domain.KindScript,
		DatabaseType: domain.DBPostgres,
		InstanceID:   "inst-1",
		DatabaseName: "appdb",
		PostgresURL:  "postgres://runner:secret@db:5432/appdb",
		ScriptSource: source,
	}
}

func TestNewScriptRunner(t *testing.T) {
	r := NewScriptRunner("/usr/bin/node", "/opt/sandbox/node_modules", 30*time.Second, 256, zap.NewNop())

	if r.nodePath != "/usr/bin/node" {
		t.Errorf("expected nodePath /usr/bin/node, got %s", r.nodePath)
	}
	if r.modulesDir != "/opt/sandbox/node_modules" {
		t.Errorf("expected modulesDir /opt/sandbox/node_modules, got %s", r.modulesDir)
	}
	if r.memoryMB != 256 {
		t.Errorf("expected memoryMB 256, got %d", r.memoryMB)
	}
}

func TestScriptEnv_Scrubbed(t *testing.T) {
	t.Setenv("SENSITIVE_SECRET", "do-not-leak")

	r := NewScriptRunner("/usr/bin/node", "/opt/sandbox/node_modules", 30*time.Second, 256, zap.NewNop())
	env := r.scriptEnv(newScriptRequest("console.log(1)"))

	want := []string{
		"PATH=/usr/bin",
		"NODE_PATH=/opt/sandbox/node_modules",
		"DB_TYPE=postgres",
		"DB_NAME=appdb",
		"PG_URL=postgres://runner:secret@db:5432/appdb",
	}
	if !slices.Equal(env, want) {
		t.Errorf("env = %v, want %v", env, want)
	}
	for _, kv := range env {
		if strings.Contains(kv, "SENSITIVE_SECRET") {
			t.Errorf("parent environment leaked into subprocess env: %s", kv)
		}
	}
}

func TestScriptEnv_MongoTarget(t *testing.T) {
	r := NewScriptRunner("/usr/bin/node", "/opt/sandbox/node_modules", 30*time.Second, 256, zap.NewNop())

	req := newScriptRequest("console.log(1)")
	req.DatabaseType = domain.DBMongo
	req.PostgresURL = ""
	req.MongoURL = "mongodb://db:27017"

	env := r.scriptEnv(req)
	if !slices.Contains(env, "MONGO_URL=mongodb://db:27017") {
		t.Errorf("expected MONGO_URL in env, got %v", env)
	}
	for _, kv := range env {
		if strings.HasPrefix(kv, "PG_URL=") {
			t.Errorf("PG_URL must not be set for a mongodb target: %s", kv)
		}
	}
}

func TestExecute_SpawnFailureCleansWorkdir(t *testing.T) {
	// A nonexistent node path makes the spawn fail, but the workdir must
	// still be removed.
	r := NewScriptRunner("/nonexistent/node", t.TempDir(), time.Second, 64, zap.NewNop())

	before, _ := filepath.Glob(filepath.Join(os.TempDir(), "querygate-*"))

	result := r.Execute(context.Background(), newScriptRequest("console.log(1)"))
	if result.Success {
		t.Error("expected failure for nonexistent node binary")
	}
	if result.Error == "" {
		t.Error("expected error text for spawn failure")
	}

	after, _ := filepath.Glob(filepath.Join(os.TempDir(), "querygate-*"))
	if len(after) > len(before) {
		t.Errorf("working directories leaked: before=%d after=%d", len(before), len(after))
	}
}

func TestLimitedBuffer_Truncates(t *testing.T) {
	lb := limitedBuffer{limit: 10}

	n, err := lb.Write([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 16 {
		t.Errorf("write must report full length to keep the pipe draining, got %d", n)
	}
	if lb.String() != "0123456789" {
		t.Errorf("buffer = %q, want first 10 bytes", lb.String())
	}
	if !lb.truncated {
		t.Error("expected truncated flag")
	}

	// Further writes are discarded without growing the buffer.
	if _, err := lb.Write([]byte("more")); err != nil {
		t.Fatalf("write after truncation: %v", err)
	}
	if lb.String() != "0123456789" {
		t.Errorf("buffer grew after truncation: %q", lb.String())
	}
}

func TestLimitedBuffer_UnderLimit(t *testing.T) {
	lb := limitedBuffer{limit: 100}
	if _, err := lb.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if lb.truncated {
		t.Error("must not truncate under the limit")
	}
	if lb.String() != "hello" {
		t.Errorf("buffer = %q", lb.String())
	}
}

func TestTruncateOutput(t *testing.T) {
	if got := truncateOutput("abc", false); got != "abc" {
		t.Errorf("got %q", got)
	}
	if got := truncateOutput("abc", true); !strings.HasSuffix(got, outputTruncatedMsg) {
		t.Errorf("expected truncation notice, got %q", got)
	}
}
