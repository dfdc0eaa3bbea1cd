// Package redact scrubs credentials and personal data out of prompts and
// model output before they are written to disk.
//
// Guardrail fixtures routinely carry deliberately sensitive inputs (card
// numbers, SSNs, leaked keys) to exercise PII and secret filters, so the
// results log must never store them verbatim.
package redact

import (
	"regexp"
)

const placeholder = "[REDACTED]"

type rule struct {
	name    string
	pattern *regexp.Regexp
}

var rules = []rule{
	{"aws-access-key", regexp.MustCompile(`\b(AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{"aws-secret", regexp.MustCompile(`(?i)aws_(secret_access_key|session_token)\s*[=:]\s*['"]?[A-Za-z0-9/+=]{20,}['"]?`)},
	{"private-key", regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY-----`)},
	{"bearer", regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]{20,}=*`)},
	{"api-key", regexp.MustCompile(`(?i)(api[_-]?key|secret[_-]?key|access[_-]?token|auth[_-]?token)\s*[=:]\s*['"]?[A-Za-z0-9_-]{16,}['"]?`)},
	{"password", regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[=:]\s*['"]?[^\s'"]{6,}['"]?`)},
	{"url-credentials", regexp.MustCompile(`https?://[^:/\s]+:[^@/\s]+@`)},

	// Personal data.
	{"email", regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
	{"us-ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"card-number", regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`)},
}

// Redact replaces every sensitive match in input with a placeholder.
func Redact(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, placeholder)
	}
	return result
}

// Matches returns the names of the rules that fire on input, in rule order.
func Matches(input string) []string {
	var names []string
	for _, r := range rules {
		if r.pattern.MatchString(input) {
			names = append(names, r.name)
		}
	}
	return names
}
