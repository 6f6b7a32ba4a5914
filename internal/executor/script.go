package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/querygate/querygate/internal/domain"
)

const (
	// maxOutputBytes caps stdout/stderr to prevent memory exhaustion.
	maxOutputBytes = 64 * 1024 // 64 KB

	// outputTruncatedMsg is appended when output exceeds the limit.
	outputTruncatedMsg = "\n... output truncated (64 KB limit) ..."

	// stderrSeparator precedes stderr appended to a successful run's output.
	// Diagnostic warnings must not be silently dropped on success.
	stderrSeparator = "\n--- stderr ---\n"
)

// ScriptRunner runs untrusted scripts in a restricted Node.js subprocess.
// The runtime restrictions here — scrubbed environment, allowlisted module
// path, memory ceiling, wall-clock timeout — are the enforcement boundary.
// The static validator is only defense in depth.
type ScriptRunner struct {
	nodePath   string
	modulesDir string
	timeout    time.Duration
	memoryMB   int
	logger     *zap.Logger
}

// NewScriptRunner creates a sandboxed script runner. modulesDir is the only
// directory scripts may resolve modules from.
func NewScriptRunner(nodePath, modulesDir string, timeout time.Duration, memoryMB int, logger *zap.Logger) *ScriptRunner {
	return &ScriptRunner{
		nodePath:   nodePath,
		modulesDir: modulesDir,
		timeout:    timeout,
		memoryMB:   memoryMB,
		logger:     logger,
	}
}

var _ Executor = (*ScriptRunner)(nil)

// Execute writes the script into an isolated working directory, runs it
// under the configured limits, and normalizes the outcome. The working
// directory is always deleted; cleanup failures are ignored.
func (r *ScriptRunner) Execute(ctx context.Context, req *domain.ExecutionRequest) *domain.ExecutionResult {
	workDir, err := os.MkdirTemp("", fmt.Sprintf("querygate-%s-*", req.ID.String()))
	if err != nil {
		return domain.Failed(domain.NormalizeError(err))
	}
	defer os.RemoveAll(workDir)

	scriptPath := filepath.Join(workDir, "script.js")
	if err := os.WriteFile(scriptPath, []byte(req.ScriptSource), 0o644); err != nil {
		return domain.Failed(domain.NormalizeError(err))
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, r.nodePath,
		fmt.Sprintf("--max-old-space-size=%d", r.memoryMB),
		scriptPath,
	)
	cmd.Dir = workDir
	cmd.Env = r.scriptEnv(req)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// SIGTERM the whole process group on timeout; no escalation.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr limitedBuffer
	stdout.limit = maxOutputBytes
	stderr.limit = maxOutputBytes
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	r.logger.Debug("Script subprocess finished",
		zap.String("request_id", req.ID.String()),
		zap.Duration("elapsed", elapsed),
		zap.Bool("timed_out", timeoutCtx.Err() != nil),
	)

	// The timeout claims the outcome before the exit error is inspected,
	// so the SIGTERM-induced exit status cannot masquerade as a script
	// failure.
	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		return domain.Failed(fmt.Sprintf("Script execution timed out after %dms", r.timeout.Milliseconds()))
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			errText := stderr.String()
			if errText == "" {
				errText = fmt.Sprintf("Process exited with code %d", exitErr.ExitCode())
			}
			return domain.Failed(errText)
		}
		// Spawn failure (binary missing, permissions, fork limits).
		return domain.Failed(domain.NormalizeError(runErr))
	}

	output := truncateOutput(stdout.String(), stdout.truncated)
	if errText := stderr.String(); errText != "" {
		output += stderrSeparator + truncateOutput(errText, stderr.truncated)
	}
	return domain.Succeeded(output)
}

// scriptEnv builds the scrubbed subprocess environment: nothing from the
// parent environment except a minimal PATH, the database coordinates this
// request targets, and a module path pinned to the allowlisted directory.
func (r *ScriptRunner) scriptEnv(req *domain.ExecutionRequest) []string {
	env := []string{
		"PATH=" + filepath.Dir(r.nodePath),
		"NODE_PATH=" + r.modulesDir,
		"DB_TYPE=" + string(req.DatabaseType),
		"DB_NAME=" + req.DatabaseName,
	}
	switch req.DatabaseType {
	case domain.DBPostgres:
		env = append(env, "PG_URL="+req.PostgresURL)
	case domain.DBMongo:
		env = append(env, "MONGO_URL="+req.MongoURL)
	}
	return env
}

// limitedBuffer is a bytes.Buffer that stops accepting writes after a limit.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (lb *limitedBuffer) Write(p []byte) (n int, err error) {
	if lb.truncated {
		return len(p), nil // discard silently
	}

	remaining := lb.limit - lb.buf.Len()
	if remaining <= 0 {
		lb.truncated = true
		return len(p), nil
	}

	if len(p) > remaining {
		lb.truncated = true
		p = p[:remaining]
	}

	return lb.buf.Write(p)
}

func (lb *limitedBuffer) String() string {
	return lb.buf.String()
}

// truncateOutput appends a truncation notice if the output was cut off.
func truncateOutput(s string, wasTruncated bool) string {
	if wasTruncated {
		return s + outputTruncatedMsg
	}
	return s
}
