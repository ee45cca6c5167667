package app

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf)

	logger.Info("conversation created", map[string]interface{}{"conversation_id": "c-1"})
	logger.Error("request failed", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %q", len(lines), buf.String())
	}

	var evt LogEvent
	if err := json.Unmarshal([]byte(lines[0]), &evt); err != nil {
		t.Fatalf("first line is not JSON: %v", err)
	}
	if evt.Level != "info" || evt.Message != "conversation created" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if evt.Fields["conversation_id"] != "c-1" {
		t.Fatalf("fields not preserved: %+v", evt.Fields)
	}

	if err := json.Unmarshal([]byte(lines[1]), &evt); err != nil {
		t.Fatalf("second line is not JSON: %v", err)
	}
	if evt.Level != "error" {
		t.Fatalf("level = %q, want error", evt.Level)
	}
}

func TestLoggerRedactsConfiguredSecrets(t *testing.T) {
	t.Setenv("GITA_AUTH_KEY", "super-secret-key")

	var buf bytes.Buffer
	logger := NewLogger(&buf)
	logger.Warn("auth call failed with key super-secret-key", map[string]interface{}{
		"detail": "key=super-secret-key rejected",
		"status": 401,
	})

	out := buf.String()
	if strings.Contains(out, "super-secret-key") {
		t.Fatalf("secret leaked into log output: %q", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Fatalf("expected redaction placeholder, got %q", out)
	}
	if !strings.Contains(out, "401") {
		t.Fatalf("non-string fields should pass through, got %q", out)
	}
}

func TestRedactSecretsHandlesDuplicatesAndBlanks(t *testing.T) {
	t.Setenv("GITA_AUTH_KEY", "tok-123")
	t.Setenv("GITA_CREDENTIALS", "")

	got := RedactSecrets("token tok-123 repeated tok-123", "tok-123", "  ", "")
	want := "token [REDACTED] repeated [REDACTED]"
	if got != want {
		t.Errorf("RedactSecrets = %q, want %q", got, want)
	}

	// Blank input passes through untouched.
	if got := RedactSecrets("   "); got != "   " {
		t.Errorf("blank input rewritten to %q", got)
	}
}
