package app

import (
	"os"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// Environment variables whose values never belong in a log line.
var secretEnvVars = []string{"GITA_AUTH_KEY", "GITA_CREDENTIALS"}

// RedactSecrets scrubs known secret values out of a log line. Only exact
// values are replaced: the caller-supplied ones plus whatever the secret
// env vars currently hold. Pattern matching would risk mangling answers,
// so we stay literal.
func RedactSecrets(input string, secrets ...string) string {
	if strings.TrimSpace(input) == "" {
		return input
	}

	out := input
	seen := make(map[string]bool, len(secrets)+len(secretEnvVars))
	scrub := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		out = strings.ReplaceAll(out, v, redactedPlaceholder)
	}
	for _, s := range secrets {
		scrub(s)
	}
	for _, name := range secretEnvVars {
		scrub(os.Getenv(name))
	}
	return out
}
