// Package promptguard sanitizes operator- and skill-supplied text before
// it reaches the LLM collaborator, stripping known adversarial patterns.
package promptguard

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// adversarialPattern is one of the twelve named detectors.
type adversarialPattern struct {
	name string
	re   *regexp.Regexp
}

// patterns covers instruction override, identity hijack, system-prompt
// smuggling, jailbreak keywords, safety-disable requests, and
// role-authority override — twelve patterns in total.
var patterns = []adversarialPattern{
	{"ignore_instructions", regexp.MustCompile(`(?i)\bignore\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions?|rules?|prompts?)\b`)},
	{"disregard_rules", regexp.MustCompile(`(?i)\bdisregard\s+(the\s+|all\s+|any\s+)?(rules?|instructions?|guidelines?|policy)\b`)},
	{"forget_everything", regexp.MustCompile(`(?i)\bforget\s+(everything|all|what)\s+(you('ve|\s+have)?\s+)?(been\s+told|learned)\b`)},
	{"identity_hijack_you_are_now", regexp.MustCompile(`(?i)\byou\s+are\s+now\s+[a-z0-9_ -]{2,40}\b`)},
	{"identity_hijack_pretend", regexp.MustCompile(`(?i)\bpretend\s+(to\s+be|you\s+are)\b`)},
	{"identity_hijack_roleplay", regexp.MustCompile(`(?i)\bact\s+as\s+(if\s+you\s+(are|were)\s+)?[a-z0-9_ -]{2,40}\b`)},
	{"system_prompt_smuggling", regexp.MustCompile(`(?i)\b(system\s*:|###\s*system|<\|?system\|?>)\b`)},
	{"jailbreak_keyword_dan", regexp.MustCompile(`(?i)\b(dan\s+mode|do\s+anything\s+now|jailbreak(ed)?)\b`)},
	{"jailbreak_keyword_unlock", regexp.MustCompile(`(?i)\b(developer|debug|god|unrestricted)\s+mode\b`)},
	{"safety_disable", regexp.MustCompile(`(?i)\b(disable|turn\s+off|bypass|skip)\s+(the\s+)?(safety|guardrails?|filters?|aegis|moderation)\b`)},
	{"role_authority_override", regexp.MustCompile(`(?i)\b(you\s+(now\s+)?have|grant(ing)?\s+yourself)\s+(full|root|admin|unrestricted)\s+(access|authority|permissions?)\b`)},
	{"authority_override_phrase", regexp.MustCompile(`(?i)\bthis\s+(overrides?|supersedes?)\s+(any|all)\s+(prior|previous|role)\s+(restrictions?|limits?)\b`)},
}

// Result is the outcome of a sanitize() call.
type Result struct {
	Cleaned          string
	StrippedPatterns []string
}

// Normalize applies NFKC normalization, strips zero-width/formatting
// characters, folds smart quotes, and collapses whitespace.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = stripZeroWidth(s)
	s = foldSmartQuotes(s)
	s = collapseWhitespace(s)
	return s
}

// Sanitize normalizes input, then strips any matched adversarial span,
// returning the cleaned text and the names of patterns that matched.
// Idempotent: Sanitize(Sanitize(x).Cleaned).Cleaned == Sanitize(x).Cleaned.
func Sanitize(input string) Result {
	cleaned := Normalize(input)
	var stripped []string

	for _, p := range patterns {
		if loc := p.re.FindStringIndex(cleaned); loc != nil {
			cleaned = cleaned[:loc[0]] + cleaned[loc[1]:]
			stripped = append(stripped, p.name)
		}
	}
	cleaned = collapseWhitespace(cleaned)

	return Result{Cleaned: strings.TrimSpace(cleaned), StrippedPatterns: stripped}
}

// IsSafe is a pure predicate: true iff sanitizing input would strip
// nothing.
func IsSafe(input string) bool {
	return len(Sanitize(input).StrippedPatterns) == 0
}

func stripZeroWidth(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '​', '‌', '‍', '﻿', '­':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var smartQuoteReplacer = strings.NewReplacer(
	"‘", "'", "’", "'",
	"“", `"`, "”", `"`,
	"«", `"`, "»", `"`,
)

func foldSmartQuotes(s string) string {
	return smartQuoteReplacer.Replace(s)
}

var whitespaceRe = regexp.MustCompile(`[ \t]{2,}`)

func collapseWhitespace(s string) string {
	return whitespaceRe.ReplaceAllString(s, " ")
}
