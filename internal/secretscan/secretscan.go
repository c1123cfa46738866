// Package secretscan detects credential-shaped content in file buffers.
// It never emits the unredacted match — only a redacted snippet — per the
// kernel's mandatory-redaction rule at the scanner boundary.
package secretscan

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Finding is one detector hit.
type Finding struct {
	Pattern     string
	Line        int
	Snippet     string // redacted
	Allowlisted bool
}

// pattern is a named built-in detector.
type pattern struct {
	name string
	re   *regexp.Regexp
}

// builtinPatterns is the fixed detector set. Order is stable so results
// are deterministic across runs.
var builtinPatterns = []pattern{
	{"aws_access_key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"aws_secret_key", regexp.MustCompile(`(?i)aws_secret_access_key\s*=\s*['"]?[A-Za-z0-9/+=]{40}['"]?`)},
	{"gcp_service_account_key", regexp.MustCompile(`"type":\s*"service_account"`)},
	{"github_token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`)},
	{"slack_token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`)},
	{"generic_bot_token", regexp.MustCompile(`(?i)\b(bot|access)[_-]?token['"]?\s*[:=]\s*['"][A-Za-z0-9_\-.]{20,}['"]`)},
	{"private_key_pem", regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH |DSA |)PRIVATE KEY-----`)},
	{"db_connection_string", regexp.MustCompile(`(?i)\b(postgres|postgresql|mysql|mongodb|redis):\/\/[^\s'"]+:[^\s'"@]+@`)},
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\b`)},
	{"slack_webhook", regexp.MustCompile(`https://hooks\.slack\.com/services/[A-Za-z0-9/]+`)},
	{"discord_webhook", regexp.MustCompile(`https://discord(app)?\.com/api/webhooks/[0-9]+/[A-Za-z0-9_-]+`)},
	{"generic_high_entropy_password", regexp.MustCompile(`(?i)\bpassword['"]?\s*[:=]\s*['"][^'"\s]{16,}['"]`)},
}

// Allowlist suppresses findings by pattern name or by file glob; matches
// are still recorded but do not block.
type Allowlist struct {
	PatternNames []string
	FileGlobs    []string
}

func (a Allowlist) allowsPattern(name string) bool {
	for _, n := range a.PatternNames {
		if n == name {
			return true
		}
	}
	return false
}

func (a Allowlist) allowsFile(path string) bool {
	for _, g := range a.FileGlobs {
		if ok, _ := filepath.Match(g, path); ok {
			return true
		}
	}
	return false
}

// Scan checks buf (the contents of the file at path, used only for the
// allowlist glob check) against the built-in pattern set.
func Scan(path string, buf []byte, allow Allowlist) []Finding {
	var findings []Finding
	lines := strings.Split(string(buf), "\n")
	fileAllowed := allow.allowsFile(path)

	for _, p := range builtinPatterns {
		for i, line := range lines {
			loc := p.re.FindStringIndex(line)
			if loc == nil {
				continue
			}
			findings = append(findings, Finding{
				Pattern:     p.name,
				Line:        i + 1,
				Snippet:     redact(line, loc[0], loc[1]),
				Allowlisted: fileAllowed || allow.allowsPattern(p.name),
			})
		}
	}
	return findings
}

// Blocking reports whether findings contain a non-allowlisted finding —
// the default gate policy is "block on any non-allowlisted finding".
func Blocking(findings []Finding) bool {
	for _, f := range findings {
		if !f.Allowlisted {
			return true
		}
	}
	return false
}

// redact returns the line with the matched span replaced by asterisks,
// truncated to keep audit entries small.
func redact(line string, start, end int) string {
	before := line[:start]
	after := line[end:]
	if len(before) > 20 {
		before = "…" + before[len(before)-20:]
	}
	if len(after) > 20 {
		after = after[:20] + "…"
	}
	return fmt.Sprintf("%s[REDACTED]%s", before, after)
}
