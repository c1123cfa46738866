package skills

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/ara-systems/ara/internal/promptguard"
)

// skillSpecificPattern is one of the six skill-scanner-only detectors,
// beyond the twelve Prompt Guard patterns shared with goal sanitization.
type skillSpecificPattern struct {
	name     string
	re       *regexp.Regexp
	category string // "blocked" or "critical"
}

var skillPatterns = []skillSpecificPattern{
	{"authority_escalation", regexp.MustCompile(`(?i)\b(grant|escalate|elevate)\s+(yourself|the\s+agent|this\s+role)\s+(full|admin|root|unrestricted)\b`), "blocked"},
	{"aegis_bypass_reference", regexp.MustCompile(`(?i)\b(bypass|disable|skip|circumvent)\s+(the\s+)?(aegis|gate|governance|security\s+check)\b`), "blocked"},
	{"data_exfiltration_url", regexp.MustCompile(`(?i)\bhttps?://[^\s]+/(exfil|collect|upload)[^\s]*`), "critical"},
	{"dangerous_shell_command", regexp.MustCompile(`(?i)\b(rm\s+-rf\s+/|:\(\)\s*\{.*\};:|curl[^|]+\|\s*(sh|bash))\b`), "critical"},
	{"credential_assignment", regexp.MustCompile(`(?i)\b(api_key|password|secret|token)\s*=\s*['"][^'"]{8,}['"]`), "critical"},
	{"encoded_content", regexp.MustCompile(`(?i)\bbase64\s*-d\b|\beval\s*\(\s*atob\(`), "critical"},
}

// ScanResult is the outcome of scanning a skill.
type ScanResult struct {
	Blocked          bool
	CriticalFindings []string
	BlockedFindings  []string
	StrippedPatterns []string // from the shared Prompt Guard patterns
}

// Scan runs Prompt Guard patterns plus the six skill-specific patterns on
// the normalized body and every supporting file's text, classifying the
// skill's resulting trust level.
func Scan(s *Skill) ScanResult {
	var result ScanResult

	guardResult := promptguard.Sanitize(s.Body)
	result.StrippedPatterns = guardResult.StrippedPatterns

	texts := []string{s.Body}
	for _, rel := range s.SupportingFiles {
		data, err := os.ReadFile(filepath.Join(s.Dir, rel))
		if err != nil {
			continue
		}
		texts = append(texts, string(data))
	}

	for _, text := range texts {
		normalized := promptguard.Normalize(text)
		for _, p := range skillPatterns {
			if p.re.MatchString(normalized) {
				switch p.category {
				case "blocked":
					result.Blocked = true
					result.BlockedFindings = append(result.BlockedFindings, p.name)
				case "critical":
					result.CriticalFindings = append(result.CriticalFindings, p.name)
				}
			}
		}
	}

	return result
}

// ApplyScan updates the skill's trust level and AEGISApproved flag per
// the scan result and the skill's source.
func ApplyScan(s *Skill, result ScanResult) {
	switch {
	case result.Blocked:
		s.TrustLevel = TrustBlocked
		s.AEGISApproved = false
	case len(result.CriticalFindings) > 0:
		s.TrustLevel = TrustUnreviewed
		s.AEGISApproved = false
	case s.Source == SourceBundled:
		s.TrustLevel = TrustVerified
		s.AEGISApproved = true
	default:
		s.TrustLevel = TrustTrusted
		s.AEGISApproved = true
	}
}
