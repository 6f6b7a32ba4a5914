package executor

import (
	"strings"
	"testing"
)

func TestValidateScript_CleanScriptPasses(t *testing.T) {
	source := `
const { Client } = require('pg');
const client = new Client({ connectionString: process.env.PG_URL });
async function main() {
  await client.connect();
  const res = await client.query('SELECT count(*) FROM users');
  console.log(res.rows[0]);
  await client.end();
}
main();`

	if violations := ValidateScript(source); len(violations) != 0 {
		t.Errorf("expected clean script to pass, got %v", violations)
	}
}

func TestValidateScript_DenyRules(t *testing.T) {
	cases := []struct {
		name    string
		source  string
		message string
	}{
		{
			name:    "child_process_require",
			source:  `const cp = require('child_process'); cp.execSync('ls');`,
			message: "child_process",
		},
		{
			name:    "child_process_import",
			source:  `import { exec } from 'child_process';`,
			message: "child_process",
		},
		{
			name:    "eval",
			source:  `eval("console.log(process.env)")`,
			message: "dynamic code evaluation",
		},
		{
			name:    "new_function",
			source:  `const f = new Function("return process.env");`,
			message: "dynamic code evaluation",
		},
		{
			name:    "fs_require",
			source:  `const fs = require('fs'); fs.readFileSync('/etc/passwd');`,
			message: "filesystem",
		},
		{
			name:    "process_exit",
			source:  `process.exit(0);`,
			message: "termination",
		},
		{
			name:    "process_kill",
			source:  `process.kill(1, 'SIGKILL');`,
			message: "termination",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			violations := ValidateScript(tc.source)
			if len(violations) != 1 {
				t.Fatalf("expected exactly 1 violation, got %d: %v", len(violations), violations)
			}
			if !strings.Contains(violations[0], tc.message) {
				t.Errorf("violation %q does not mention %q", violations[0], tc.message)
			}
		})
	}
}

// A script with multiple violations yields one message per matched rule,
// not just the first.
func TestValidateScript_MultipleViolations(t *testing.T) {
	source := `
const cp = require('child_process');
const fs = require('fs');
eval("1+1");
process.exit(1);`

	violations := ValidateScript(source)
	if len(violations) != 4 {
		t.Fatalf("expected 4 violations, got %d: %v", len(violations), violations)
	}
}

// The scan is textual. Concatenation tricks pass it; the subprocess
// restrictions are the boundary that catches those.
func TestValidateScript_ConcatenationEvades(t *testing.T) {
	source := `const cp = require('child' + '_process');`
	if violations := ValidateScript(source); len(violations) != 0 {
		t.Errorf("string concatenation is out of scope for the static scan, got %v", violations)
	}
}
