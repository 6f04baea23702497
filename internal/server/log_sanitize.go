package server

import (
	"regexp"
)

type redaction struct {
	regex       *regexp.Regexp
	replacement string
}

// Tool payloads end up in debug logs, so credentials passed as step inputs are masked too.
var logRedactions = []redaction{
	{regex: regexp.MustCompile(`(?i)(password|passwd|secret|token|api_key|access_key|refresh_token)=[^\s]+`), replacement: "$1=[redacted]"},
	{regex: regexp.MustCompile(`(?i)"(password|secret|token|api_key|authorization)"\s*:\s*"[^"]*"`), replacement: `"$1":"[redacted]"`},
	{regex: regexp.MustCompile(`(?i)(password|secret|token):[^\s\]}]+`), replacement: "$1:[redacted]"},
	{regex: regexp.MustCompile(`(?i)authorization:\s*bearer\s+[a-z0-9\-._~+/=]+`), replacement: "authorization: Bearer [redacted]"},
	{regex: regexp.MustCompile(`(?i)-----BEGIN( RSA| EC| OPENSSH)? PRIVATE KEY-----[\s\S]+?-----END( RSA| EC| OPENSSH)? PRIVATE KEY-----`), replacement: "[redacted private key]"},
	{regex: regexp.MustCompile(`(?i)(https?)://[^:@\s/]+:[^@\s]+@`), replacement: "$1://[redacted]:[redacted]@"},
	{regex: regexp.MustCompile(`(?i)email=\S+`), replacement: "email=[redacted]"},
}

// SanitizeLogLines performs minimal redaction on log lines for safe exposure as a resource.
func SanitizeLogLines(lines []string) []string {
	if len(lines) == 0 {
		return lines
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		for _, r := range logRedactions {
			l = r.regex.ReplaceAllString(l, r.replacement)
		}
		out[i] = l
	}
	return out
}
