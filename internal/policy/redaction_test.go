package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242. I live at 12 Elm Street, SSN 123-45-6789."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]", "[REDACTED_ADDRESS]", "[REDACTED_SSN]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
	if strings.Contains(out, "sam@example.com") {
		t.Fatalf("output still contains email: %q", out)
	}
}

func TestRedactPIILeavesPlainTextAlone(t *testing.T) {
	out, changed := RedactPII("I feel a bit tired today")
	if changed {
		t.Fatalf("changed = true, want false")
	}
	if out != "I feel a bit tired today" {
		t.Fatalf("out = %q", out)
	}
}

func TestLogSnippet(t *testing.T) {
	got := LogSnippet("write to   me at sam@example.com please", 20)
	if strings.Contains(got, "sam@") {
		t.Fatalf("LogSnippet() = %q, want email redacted", got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("LogSnippet() = %q, want truncation marker", got)
	}
	if got := LogSnippet("short", 20); got != "short" {
		t.Fatalf("LogSnippet() = %q, want %q", got, "short")
	}
}
