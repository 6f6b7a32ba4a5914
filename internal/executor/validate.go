package executor

import (
	"regexp"

	"github.com/querygate/querygate/internal/metrics"
)

// denyRule rejects one class of dangerous script API. The scan is defense in
// depth only: string concatenation can evade it, which is why the subprocess
// restrictions in ScriptRunner are the real boundary.
type denyRule struct {
	pattern *regexp.Regexp
	message string
}

var denyRules = []denyRule{
	{
		pattern: regexp.MustCompile(`(?:require\s*\(\s*['"]child_process['"]\s*\)|from\s+['"]child_process['"])`),
		message: "use of child_process is not allowed",
	},
	{
		pattern: regexp.MustCompile(`\beval\s*\(|new\s+Function\s*\(`),
		message: "dynamic code evaluation is not allowed",
	},
	{
		pattern: regexp.MustCompile(`(?:require\s*\(\s*['"]fs['"]\s*\)|from\s+['"]fs['"])`),
		message: "direct filesystem access is not allowed",
	},
	{
		pattern: regexp.MustCompile(`process\s*\.\s*(?:exit|kill|abort)\s*\(`),
		message: "process termination calls are not allowed",
	},
}

// ValidateScript scans script source against the deny-list and returns one
// message per matched rule. An empty slice means the script may be enqueued.
func ValidateScript(source string) []string {
	var violations []string
	for _, rule := range denyRules {
		if rule.pattern.MatchString(source) {
			violations = append(violations, rule.message)
		}
	}
	if len(violations) > 0 {
		metrics.ValidationRejections.Inc()
	}
	return violations
}
