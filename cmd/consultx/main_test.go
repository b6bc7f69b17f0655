package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd("1.2.3", "abc1234", "2026-01-01")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	if err := cmd.Execute(); err != nil {
		t.Fatalf("consultx %v error = %v", args, err)
	}
	return out.String()
}

func TestVersionCommand(t *testing.T) {
	got := runCLI(t, "version")
	if !strings.Contains(got, "consultx 1.2.3 (commit abc1234") {
		t.Fatalf("version output = %q", got)
	}
}

func TestClassifyCommandPrintsDecision(t *testing.T) {
	t.Setenv("RETRIEVAL_QDRANT_URL", "")
	t.Setenv("RISK_ADAPTERS", "")
	got := runCLI(t, "classify", "I", "want", "to", "die")

	var out classifyOutput
	if err := json.Unmarshal([]byte(got), &out); err != nil {
		t.Fatalf("unmarshal classify output: %v\n%s", err, got)
	}
	if out.Assessment.Tier != "crisis" {
		t.Fatalf("Tier = %q, want crisis", out.Assessment.Tier)
	}
	if !out.Decision.HotlineFlag {
		t.Fatalf("HotlineFlag = false, want true")
	}
}

func TestClassifyCommandRejectsUnknownSender(t *testing.T) {
	t.Setenv("RETRIEVAL_QDRANT_URL", "")
	cmd := newRootCmd("dev", "none", "unknown")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--env-file", "", "classify", "--sender", "robot", "hello"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("classify --sender robot error = nil, want error")
	}
}

func TestLexiconSchemaDescribesHardTriggers(t *testing.T) {
	got := runCLI(t, "lexicon", "schema")
	var schema map[string]any
	if err := json.Unmarshal([]byte(got), &schema); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}
	props, _ := schema["properties"].(map[string]any)
	if _, ok := props["hard_triggers"]; !ok {
		t.Fatalf("schema properties = %v, want hard_triggers", props)
	}
}
