package instance

import "testing"

func TestIDPrefersConfiguredAgentID(t *testing.T) {
	t.Setenv("EDUFLOW_AGENT_ID", "school-7-front-desk")
	if got := ID(); got != "school-7-front-desk" {
		t.Fatalf("expected configured id, got %q", got)
	}
}

func TestIDFallsBackToHost(t *testing.T) {
	t.Setenv("EDUFLOW_AGENT_ID", "")
	if ID() == "" {
		t.Fatalf("expected a non-empty fallback id")
	}
}
