// Package redact scrubs sensitive values from strings before they are logged
// or returned in error responses: ledger signing keys, bearer secrets,
// connection strings and file paths among them.
package redact

import (
	"log/slog"
	"regexp"
)

// Placeholders substituted for matched values.
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedSigningKeyPlaceholder = "[REDACTED_SIGNING_KEY]"
	RedactedBearerPlaceholder     = "Bearer [REDACTED]"
	RedactedJWTPlaceholder        = "[REDACTED_JWT]"
)

type rule struct {
	pattern     *regexp.Regexp
	placeholder string
}

func newRule(expr, placeholder string) rule {
	return rule{pattern: regexp.MustCompile(expr), placeholder: placeholder}
}

// rules run in order. Earlier rules consume text that later, broader rules
// would otherwise mangle into a less specific placeholder.
var rules = []rule{
	// Base58 ed25519 secret keys (64 bytes encode to 87 or 88 characters).
	// Transaction signatures share the shape and are scrubbed too; 32-byte
	// addresses stay readable.
	newRule(`\b[1-9A-HJ-NP-Za-km-z]{87,88}\b`, RedactedSigningKeyPlaceholder),
	newRule(`(?i)(postgres|postgresql|mongodb(\+srv)?|nats|kafka|db|database|connection)://[^@\s]+@`,
		RedactedCredentialPlaceholder),
	newRule(`(?i)(password|passwd|pwd)([=:\s]?['"]?)[^'"&\s]{3,}`, RedactedCredentialPlaceholder),
	newRule(`(?i)(api[_-]?key|token|secret|key|access|auth)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`,
		RedactedKeyPlaceholder),
	newRule(`(AKIA|AccessKey(Id)?)([^a-zA-Z0-9])?[A-Z0-9]{8,}`, RedactedKeyPlaceholder),
	newRule(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`, RedactedJWTPlaceholder),
	// Opaque bearer secrets such as the cron trigger secret.
	newRule(`Bearer\s+[A-Za-z0-9._~+/=-]{6,}`, RedactedBearerPlaceholder),

	newRule(`(/[\w.-]+){2,}`, RedactedPathPlaceholder),
	newRule(`[A-Za-z]:\\[^\\]+(\\[^\\]+)+`, RedactedPathPlaceholder),
	newRule(`(?:goroutine \d+|panic:)[\s\S]*?(\n\t.*)+`, "[STACK_TRACE_REDACTED]"),
	newRule(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, "[REDACTED_EMAIL]"),
	newRule(`(?i)(SELECT|INSERT|UPDATE|DELETE|CREATE|ALTER|DROP|GRANT)[\s\w,*()]+`+
		`(?:FROM|INTO|SET|TABLE|DATABASE|SCHEMA|VIEW)(?:[\s\w,*()='"]+)?`, "[REDACTED_SQL]"),
	newRule(`(?:at )?line ?\d+`, "[REDACTED_LINE_NUMBER]"),
	newRule(`(?i)syntax error|syntax problem|parse error`, "[REDACTED_SYNTAX_ERROR]"),
	newRule(`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}(?::\d{1,5})?\b`,
		"[REDACTED_HOST]"),
	newRule(`(?i)(?:no such file|file not found|can't open|cannot open|file error)`, "[REDACTED_FILE_ERROR]"),
}

// String returns input with every sensitive match replaced.
func String(input string) string {
	if input == "" {
		return input
	}
	for _, r := range rules {
		input = r.pattern.ReplaceAllString(input, r.placeholder)
	}
	return input
}

// Error redacts err.Error(). A nil error yields "".
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// ErrorAttr is the slog attribute used wherever an error is logged.
func ErrorAttr(err error) slog.Attr {
	return slog.String("error", Error(err))
}
